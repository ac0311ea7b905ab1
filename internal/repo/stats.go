// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides a small metadata query used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/spark-chat-backend/internal/domain"
)

// ThreadsStats returns the record version and last update time of the
// user's row. Every thread mutation bumps the version, so the pair changes
// whenever the thread list does. A missing user yields (0, nil, nil).
//
// Return values:
//   - version:   current optimistic-concurrency counter
//   - updatedAt: pointer to the row's UpdatedAt, or nil if no row
//   - err:       database error, if any
func ThreadsStats(ctx context.Context, db *gorm.DB, userID string) (version int64, updatedAt *time.Time, err error) {
	var row struct {
		Version   int64
		UpdatedAt time.Time
	}
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Select("version", "updated_at").
		Where("id = ?", userID).
		Limit(1).
		Scan(&row)
	if res.Error != nil {
		return 0, nil, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, nil, nil
	}
	return row.Version, &row.UpdatedAt, nil
}
