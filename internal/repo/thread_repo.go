package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/spark-chat-backend/internal/domain"
)

// ErrVersionConflict is returned by UpdateThreads when the record's version
// moved between the read and the guarded write.
var ErrVersionConflict = errors.New("version conflict")

const (
	sqliteAppendExpr = `json_insert(CASE WHEN json_type(CAST(chats AS TEXT)) = 'array' THEN CAST(chats AS TEXT) ELSE '[]' END, '$[#]', json(?))`
	pgAppendExpr     = `(CASE WHEN jsonb_typeof(chats) = 'array' THEN chats ELSE '[]'::jsonb END) || jsonb_build_array(?::jsonb)`
)

// threadRow is the narrow projection used by the thread functions.
type threadRow struct {
	Chats     datatypes.JSONSlice[domain.Thread]
	Version   int64
	UpdatedAt time.Time
}

// LoadThreads returns the user's threads in storage order together with the
// record version they were read at. Missing users yield ErrNotFound.
func LoadThreads(ctx context.Context, db *gorm.DB, userID string) ([]domain.Thread, int64, error) {
	var row threadRow
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Select("chats", "version", "updated_at").
		Where("id = ?", userID).
		Limit(1).
		Scan(&row)
	if res.Error != nil {
		return nil, 0, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, 0, gorm.ErrRecordNotFound
	}
	threads := []domain.Thread(row.Chats)
	if threads == nil {
		threads = []domain.Thread{}
	}
	return threads, row.Version, nil
}

// AppendThread appends th to the user's chats array in a single UPDATE
// statement evaluated by the database, so concurrent appends never lose a
// thread. The record version is bumped. Missing users yield ErrNotFound.
func AppendThread(ctx context.Context, db *gorm.DB, userID string, th domain.Thread) error {
	if th.Messages == nil {
		th.Messages = []domain.Message{}
	}
	payload, err := json.Marshal(th)
	if err != nil {
		return err
	}
	expr := sqliteAppendExpr
	if isPostgres(db) {
		expr = pgAppendExpr
	}
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", userID).
		UpdateColumns(map[string]any{
			"chats":      gorm.Expr(expr, string(payload)),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateThreads runs a read-modify-write of the user's threads inside a
// transaction. fn receives the current threads and returns the replacement;
// the write only lands if the version is unchanged, otherwise
// ErrVersionConflict is returned and nothing is written. Errors from fn are
// returned as-is.
func UpdateThreads(ctx context.Context, db *gorm.DB, userID string, fn func([]domain.Thread) ([]domain.Thread, error)) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		threads, version, err := LoadThreads(ctx, tx, userID)
		if err != nil {
			return err
		}
		next, err := fn(threads)
		if err != nil {
			return err
		}
		return replaceThreads(ctx, tx, userID, version, next)
	})
}

// replaceThreads overwrites chats only if the row is still at version.
func replaceThreads(ctx context.Context, db *gorm.DB, userID string, version int64, next []domain.Thread) error {
	if next == nil {
		next = []domain.Thread{}
	}
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ? AND version = ?", userID, version).
		UpdateColumns(map[string]any{
			"chats":      datatypes.JSONSlice[domain.Thread](next),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}
