package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/spark-chat-backend/internal/domain"
	"github.com/tbourn/spark-chat-backend/internal/http/middleware"
	"github.com/tbourn/spark-chat-backend/internal/identity"
)

// AuthService is the identity gateway as seen by the handlers.
type AuthService interface {
	SignIn(ctx context.Context, email, password string) (identity.Session, error)
	SignUp(ctx context.Context, email, password string) (identity.Session, error)
	SignOut(ctx context.Context, token string) error
}

// ProfileStore reads and writes profile records.
type ProfileStore interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, id string, p domain.Profile) (*domain.User, error)
	Update(ctx context.Context, id string, u domain.ProfileUpdate) (*domain.User, error)
	Delete(ctx context.Context, id string) error
}

// ChatStore manages the threads embedded in a user's record.
type ChatStore interface {
	ListThreads(ctx context.Context, userID string) ([]domain.Thread, error)
	CreateThread(ctx context.Context, userID, title string) (*domain.Thread, error)
	GetThread(ctx context.Context, userID, title string) (*domain.Thread, error)
	AppendMessage(ctx context.Context, userID, title string, m domain.Message) (*domain.Message, error)
	Converse(ctx context.Context, userID, title, prompt string) (*domain.Message, error)
	ThreadsVersion(ctx context.Context, userID string) (int64, *time.Time, error)
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	auth     AuthService
	profiles ProfileStore
	chats    ChatStore
}

// New constructs Handlers over the given services.
func New(auth AuthService, profiles ProfileStore, chats ChatStore) *Handlers {
	return &Handlers{auth: auth, profiles: profiles, chats: chats}
}

// writeCtx detaches a write from the client connection: once a mutation
// starts it runs to completion even if the caller goes away.
func writeCtx(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func currentUser(c *gin.Context) string { return middleware.UserID(c) }
