// Package domain defines the persistence models for user profiles and the
// chat threads embedded inside them. User is mapped with GORM; Thread and
// Message live inside the user's "chats" JSON column and are never stored
// in a table of their own.
package domain

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// User is the per-account profile record. It is keyed by the identity
// provider's stable user id and additionally looked up by email.
//
// The record is the unit of consistency: every thread or message mutation
// rewrites Chats and bumps Version.
//
// Fields:
//   - ID: provider-assigned user id (primary key).
//   - Email: lower-cased email; indexed but not unique.
//   - ContentType: age group and nationality, replaced wholesale on update.
//   - SocialLinks: ordered (platform, link) pairs, replaced wholesale on update.
//   - Chats: embedded threads in append order.
//   - Version: optimistic-concurrency counter for Chats.
type User struct {
	ID          string                          `json:"id"                 gorm:"type:varchar(128);primaryKey"`
	Name        string                          `json:"name"               gorm:"type:varchar(255);not null;default:''"`
	Email       string                          `json:"email"              gorm:"type:varchar(320);not null;index:idx_users_email"`
	Bio         string                          `json:"bio"                gorm:"type:text;not null;default:''"`
	ContentType datatypes.JSONType[ContentType] `json:"content_type"       gorm:"default:'{}'"`
	SocialLinks datatypes.JSONSlice[SocialLink] `json:"social_media_links" gorm:"column:social_media_links;default:'[]'"`
	Chats       datatypes.JSONSlice[Thread]     `json:"chats"              gorm:"default:'[]'"`
	Version     int64                           `json:"-"                  gorm:"not null;default:0"`
	CreatedAt   time.Time                       `json:"created_at"`
	UpdatedAt   time.Time                       `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// ContentType groups the audience attributes collected during profile setup.
type ContentType struct {
	AgeGroup    string `json:"age_group"   validate:"max=64"`
	Nationality string `json:"nationality" validate:"max=64"`
}

// SocialLink is one (platform, URL) pair on a profile.
type SocialLink struct {
	Platform string `json:"platform" validate:"required,max=64"`
	Link     string `json:"link"     validate:"required,url,max=2048"`
}

// Thread is a titled conversation embedded in a user's record. The title is
// the lookup key within the owning user's list; it is not enforced unique.
type Thread struct {
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []Message `json:"messages"`
}

// Message is a single role-tagged utterance within a thread.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// legacyThread is the older stored shape: a flat content string that the
// client appended lines to, and a "timestamp" field instead of created_at.
type legacyThread struct {
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	Timestamp *time.Time `json:"timestamp"`
	Content   *string    `json:"content"`
	Messages  []Message  `json:"messages"`
}

// UnmarshalJSON decodes both thread shapes. A legacy flat content string is
// migrated into one user message per non-empty line, stamped with the
// thread's creation time.
func (t *Thread) UnmarshalJSON(b []byte) error {
	var raw legacyThread
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	t.Title = raw.Title
	t.CreatedAt = raw.CreatedAt
	if t.CreatedAt.IsZero() && raw.Timestamp != nil {
		t.CreatedAt = *raw.Timestamp
	}
	t.Messages = raw.Messages
	if len(t.Messages) == 0 && raw.Content != nil {
		t.Messages = migrateFlatContent(*raw.Content, t.CreatedAt)
	}
	if t.Messages == nil {
		t.Messages = []Message{}
	}
	return nil
}

func migrateFlatContent(content string, at time.Time) []Message {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	out := make([]Message, 0, len(lines))
	for _, ln := range lines {
		if ln = strings.TrimSpace(ln); ln == "" {
			continue
		}
		out = append(out, Message{Role: RoleUser, Content: ln, CreatedAt: at})
	}
	return out
}

// NewUser builds a fresh record for id from p with an empty thread list.
func NewUser(id string, p Profile) *User {
	return &User{
		ID:          id,
		Name:        strings.TrimSpace(p.Name),
		Email:       NormalizeEmail(p.Email),
		Bio:         p.Bio,
		ContentType: contentColumn(p.ContentType),
		SocialLinks: linksColumn(p.SocialLinks),
		Chats:       datatypes.JSONSlice[Thread]{},
	}
}

func contentColumn(c ContentType) datatypes.JSONType[ContentType] {
	return datatypes.NewJSONType(c)
}

func linksColumn(l []SocialLink) datatypes.JSONSlice[SocialLink] {
	if l == nil {
		return datatypes.JSONSlice[SocialLink]{}
	}
	return datatypes.JSONSlice[SocialLink](l)
}

// ValidRole reports whether r is one of the accepted message roles.
func ValidRole(r string) bool {
	return r == RoleUser || r == RoleAssistant
}
