package services

import (
	"context"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/spark-chat-backend/internal/domain"
	"github.com/tbourn/spark-chat-backend/internal/repo"
)

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:svc_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// sqlThreadRepo binds ThreadRepo to the real repository functions.
type sqlThreadRepo struct{}

func (sqlThreadRepo) LoadThreads(ctx context.Context, db *gorm.DB, userID string) ([]domain.Thread, int64, error) {
	return repo.LoadThreads(ctx, db, userID)
}

func (sqlThreadRepo) AppendThread(ctx context.Context, db *gorm.DB, userID string, th domain.Thread) error {
	return repo.AppendThread(ctx, db, userID, th)
}

func (sqlThreadRepo) UpdateThreads(ctx context.Context, db *gorm.DB, userID string, fn func([]domain.Thread) ([]domain.Thread, error)) error {
	return repo.UpdateThreads(ctx, db, userID, fn)
}

func (sqlThreadRepo) ThreadsStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error) {
	return repo.ThreadsStats(ctx, db, userID)
}
