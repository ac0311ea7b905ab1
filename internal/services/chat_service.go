// Package services – ChatService
//
// This file implements ChatService, which manages the chat threads embedded
// in a user's record and the messages inside them. It normalizes titles,
// validates messages, and maps repository results onto the service error
// taxonomy so handlers can render empty states for the non-fatal cases.
//
// Thread creation relies on the repository's single-statement array append.
// Message appends go through a version-guarded read-check-write; a lost race
// surfaces as ErrWriteConflict rather than a silent overwrite.
//
// Observability: public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/spark-chat-backend/internal/domain"
	"github.com/tbourn/spark-chat-backend/internal/repo"
)

// ThreadRepo defines the repository contract required by ChatService.
type ThreadRepo interface {
	// LoadThreads returns the user's threads and the record version.
	LoadThreads(ctx context.Context, db *gorm.DB, userID string) ([]domain.Thread, int64, error)

	// AppendThread atomically appends a thread to the user's list.
	AppendThread(ctx context.Context, db *gorm.DB, userID string, th domain.Thread) error

	// UpdateThreads performs a version-guarded read-modify-write.
	UpdateThreads(ctx context.Context, db *gorm.DB, userID string, fn func([]domain.Thread) ([]domain.Thread, error)) error

	// ThreadsStats returns the record version and last update time.
	ThreadsStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error)
}

// Completer produces assistant text for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ChatService provides thread and message operations scoped to one user.
type ChatService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the thread repository used by this service.
	Repo ThreadRepo
	// Completer answers prompts for Converse. It may be nil when replies
	// are disabled.
	Completer Completer

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
	// MaxMessageRunes caps message content by rune length (0 = unlimited).
	MaxMessageRunes int

	now func() time.Time
}

// NewChatService constructs a ChatService with default limits.
func NewChatService(db *gorm.DB, r ThreadRepo, c Completer) *ChatService {
	return &ChatService{
		DB:              db,
		Repo:            r,
		Completer:       c,
		TitleMaxLen:     120,
		MaxMessageRunes: 8000,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func (s *ChatService) tracer() trace.Tracer { return otel.Tracer("services/ChatService") }

func (s *ChatService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

// ListThreads returns the user's threads in storage (append) order. A
// missing user yields ErrUserNotFound.
func (s *ChatService) ListThreads(ctx context.Context, userID string) ([]domain.Thread, error) {
	ctx, span := s.tracer().Start(ctx, "ListThreads",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	if userID == "" {
		return nil, ErrUserNotFound
	}
	threads, _, err := s.Repo.LoadThreads(ctx, s.DB, userID)
	if err != nil {
		return nil, s.mapRepoErr(span, err)
	}
	span.SetAttributes(attribute.Int("threads.count", len(threads)))
	return threads, nil
}

// CreateThread appends a new empty thread titled title to the user's list.
// Titles are not deduplicated.
func (s *ChatService) CreateThread(ctx context.Context, userID, title string) (*domain.Thread, error) {
	ctx, span := s.tracer().Start(ctx, "CreateThread",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	if userID == "" {
		return nil, ErrUserNotFound
	}
	title, err := s.cleanTitle(title)
	if err != nil {
		return nil, err
	}

	th := domain.Thread{Title: title, CreatedAt: s.clock(), Messages: []domain.Message{}}
	if err := s.Repo.AppendThread(ctx, s.DB, userID, th); err != nil {
		return nil, s.mapRepoErr(span, err)
	}
	return &th, nil
}

// GetThread returns the first thread in storage order whose title equals
// title after normalization.
func (s *ChatService) GetThread(ctx context.Context, userID, title string) (*domain.Thread, error) {
	ctx, span := s.tracer().Start(ctx, "GetThread",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	if userID == "" {
		return nil, ErrUserNotFound
	}
	key := normalizeTitle(title)
	threads, _, err := s.Repo.LoadThreads(ctx, s.DB, userID)
	if err != nil {
		return nil, s.mapRepoErr(span, err)
	}
	i := findThread(threads, key)
	if i < 0 {
		return nil, ErrThreadNotFound
	}
	return &threads[i], nil
}

// AppendMessage appends m to the end of the thread addressed by title.
// Earlier messages are never modified. CreatedAt is stamped when zero.
func (s *ChatService) AppendMessage(ctx context.Context, userID, title string, m domain.Message) (*domain.Message, error) {
	ctx, span := s.tracer().Start(ctx, "AppendMessage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("message.role", m.Role),
		),
	)
	defer span.End()

	if userID == "" {
		return nil, ErrUserNotFound
	}
	if !domain.ValidRole(m.Role) {
		return nil, ErrInvalidRole
	}
	if strings.TrimSpace(m.Content) == "" {
		return nil, ErrEmptyPrompt
	}
	if s.MaxMessageRunes > 0 && utf8.RuneCountInString(m.Content) > s.MaxMessageRunes {
		return nil, ErrTooLong
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.clock()
	}

	key := normalizeTitle(title)
	err := s.Repo.UpdateThreads(ctx, s.DB, userID, func(threads []domain.Thread) ([]domain.Thread, error) {
		i := findThread(threads, key)
		if i < 0 {
			return nil, ErrThreadNotFound
		}
		threads[i].Messages = append(threads[i].Messages, m)
		return threads, nil
	})
	if err != nil {
		return nil, s.mapRepoErr(span, err)
	}
	return &m, nil
}

// Converse appends prompt as a user message, asks the Completer for a
// reply, and appends the reply as an assistant message. When the
// completion fails the user message stays in place and the completion
// error is returned unchanged.
func (s *ChatService) Converse(ctx context.Context, userID, title, prompt string) (*domain.Message, error) {
	ctx, span := s.tracer().Start(ctx, "Converse",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	if s.Completer == nil {
		return nil, ErrRepliesDisabled
	}
	prompt = strings.TrimSpace(prompt)
	if _, err := s.AppendMessage(ctx, userID, title, domain.Message{Role: domain.RoleUser, Content: prompt}); err != nil {
		return nil, err
	}

	reply, err := s.Completer.Complete(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return nil, err
	}
	if n := utf8.RuneCountInString(reply); s.MaxMessageRunes > 0 && n > s.MaxMessageRunes {
		reply = string([]rune(reply)[:s.MaxMessageRunes])
		span.SetAttributes(
			attribute.Bool("reply.truncated", true),
			attribute.Int("reply.runes", n),
		)
		log.Ctx(ctx).Warn().
			Int("runes", n).
			Int("max_runes", s.MaxMessageRunes).
			Msg("assistant reply truncated")
	}
	return s.AppendMessage(ctx, userID, title, domain.Message{Role: domain.RoleAssistant, Content: reply})
}

// ThreadsVersion reports the version and last update of the user's thread
// list, for conditional responses. A missing user reports (0, nil).
func (s *ChatService) ThreadsVersion(ctx context.Context, userID string) (int64, *time.Time, error) {
	v, at, err := s.Repo.ThreadsStats(ctx, s.DB, userID)
	if err != nil {
		return 0, nil, storageErr(err)
	}
	return v, at, nil
}

func (s *ChatService) cleanTitle(title string) (string, error) {
	title = normalizeTitle(title)
	if title == "" {
		return "", ErrEmptyTitle
	}
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return "", ErrTooLong
	}
	return title, nil
}

func (s *ChatService) mapRepoErr(span trace.Span, err error) error {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return ErrUserNotFound
	case errors.Is(err, repo.ErrVersionConflict):
		return ErrWriteConflict
	case errors.Is(err, ErrThreadNotFound):
		return ErrThreadNotFound
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "storage")
	return storageErr(err)
}

func findThread(threads []domain.Thread, title string) int {
	for i := range threads {
		if normalizeTitle(threads[i].Title) == title {
			return i
		}
	}
	return -1
}

// normalizeTitle applies NFC, trims whitespace, and collapses inner runs
// of whitespace to one space.
func normalizeTitle(s string) string {
	s = norm.NFC.String(s)
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
