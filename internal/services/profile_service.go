// Package services – ProfileService
//
// ProfileService owns the per-user profile record: lookup by id or email,
// upsert-by-id creation, partial updates and deletion. Lookups that match
// nothing return ErrProfileNotFound; any database failure is wrapped in
// ErrStorageUnavailable.
package services

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/spark-chat-backend/internal/domain"
	"github.com/tbourn/spark-chat-backend/internal/repo"
)

// ProfileService provides CRUD over user profile records.
type ProfileService struct {
	DB *gorm.DB
}

// NewProfileService constructs a ProfileService.
func NewProfileService(db *gorm.DB) *ProfileService {
	return &ProfileService{DB: db}
}

func (s *ProfileService) tracer() trace.Tracer { return otel.Tracer("services/ProfileService") }

// GetByID returns the profile stored under id.
func (s *ProfileService) GetByID(ctx context.Context, id string) (*domain.User, error) {
	ctx, span := s.tracer().Start(ctx, "GetByID",
		trace.WithAttributes(attribute.String("user.id", id)),
	)
	defer span.End()

	if id == "" {
		return nil, ErrProfileNotFound
	}
	u, err := repo.GetUser(ctx, s.DB, id)
	return lookupResult(u, err)
}

// GetByEmail returns the profile whose email equals email after trimming
// and lower-casing. When several records share an address the oldest wins.
func (s *ProfileService) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	ctx, span := s.tracer().Start(ctx, "GetByEmail")
	defer span.End()

	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, ErrProfileNotFound
	}
	u, err := repo.FindUserByEmail(ctx, s.DB, email)
	return lookupResult(u, err)
}

// Create writes the profile for id, overwriting the attributes of an
// existing record instead of adding a second one. Threads already stored
// under id are kept.
func (s *ProfileService) Create(ctx context.Context, id string, p domain.Profile) (*domain.User, error) {
	ctx, span := s.tracer().Start(ctx, "Create",
		trace.WithAttributes(attribute.String("user.id", id)),
	)
	defer span.End()

	if id == "" {
		return nil, ErrUserNotFound
	}
	p.Email = domain.NormalizeEmail(p.Email)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := repo.UpsertUser(ctx, s.DB, domain.NewUser(id, p)); err != nil {
		return nil, storageErr(err)
	}
	return lookupResult(repo.GetUser(ctx, s.DB, id))
}

// Update applies a partial change to the profile stored under id and
// returns the result. An update naming no fields leaves the record as is.
func (s *ProfileService) Update(ctx context.Context, id string, u domain.ProfileUpdate) (*domain.User, error) {
	ctx, span := s.tracer().Start(ctx, "Update",
		trace.WithAttributes(attribute.String("user.id", id)),
	)
	defer span.End()

	if id == "" {
		return nil, ErrProfileNotFound
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	if !u.Empty() {
		if err := repo.UpdateUserColumns(ctx, s.DB, id, u.Columns()); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrProfileNotFound
			}
			return nil, storageErr(err)
		}
	}
	return lookupResult(repo.GetUser(ctx, s.DB, id))
}

// Delete removes the profile stored under id. Deleting a profile that does
// not exist succeeds.
func (s *ProfileService) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer().Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("user.id", id)),
	)
	defer span.End()

	if id == "" {
		return nil
	}
	if err := repo.DeleteUser(ctx, s.DB, id); err != nil {
		return storageErr(err)
	}
	return nil
}

func lookupResult(u *domain.User, err error) (*domain.User, error) {
	switch {
	case err == nil:
		return u, nil
	case errors.Is(err, repo.ErrNotFound):
		return nil, ErrProfileNotFound
	default:
		return nil, storageErr(err)
	}
}
