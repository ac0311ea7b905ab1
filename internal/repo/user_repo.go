// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User
// profile record.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They do
// no business validation.
//
// Error semantics:
//   - When a user is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (connectivity, missing table, etc.) the raw gorm error is
//     propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/spark-chat-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// profileColumns are overwritten by UpsertUser. chats and version belong to
// the thread functions and are never touched here.
var profileColumns = []string{"name", "email", "bio", "content_type", "social_media_links", "updated_at"}

// GetUser fetches a user by id, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// FindUserByEmail returns the oldest user whose stored email equals email.
// The caller is expected to pass a normalized address.
func FindUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).
		Where("email = ?", email).
		Order("created_at asc").
		Order("id asc").
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertUser inserts u, or overwrites the profile attributes of an existing
// row with the same id. Thread data of an existing row is preserved.
func UpsertUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(profileColumns),
		}).
		Create(u).Error
}

// UpdateUserColumns applies a column/value map to the user with id. It
// returns ErrNotFound when no such user exists.
func UpdateUserColumns(ctx context.Context, db *gorm.DB, id string, cols map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UserExists reports whether a user row with id is present.
func UserExists(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

// DeleteUser hard-deletes the user with id. Deleting a missing user is not
// an error.
func DeleteUser(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.User{}).Error
}
