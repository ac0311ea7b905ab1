package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:domain_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	if (User{}).TableName() != "users" {
		t.Fatalf("User.TableName() = %q; want %q", (User{}).TableName(), "users")
	}
	if (Account{}).TableName() != "accounts" {
		t.Fatalf("Account.TableName() = %q; want %q", (Account{}).TableName(), "accounts")
	}
}

func TestMigrations_Indexes(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&User{}, &Account{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	if !m.HasIndex(&User{}, "idx_users_email") {
		t.Fatalf("expected index idx_users_email on users")
	}
	if !m.HasIndex(&Account{}, "ux_accounts_email") {
		t.Fatalf("expected index ux_accounts_email on accounts")
	}
	for _, col := range []string{"content_type", "social_media_links", "chats", "version"} {
		if !m.HasColumn(&User{}, col) {
			t.Fatalf("expected column %s on users", col)
		}
	}
}

func TestUser_JSONColumnsPersist(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	u := NewUser("u1", Profile{
		Name:        "  Ada ",
		Email:       " Ada@Example.COM ",
		ContentType: ContentType{AgeGroup: "25-34", Nationality: "GR"},
		SocialLinks: []SocialLink{{Platform: "x", Link: "https://x.com/ada"}},
	})
	u.Chats = append(u.Chats, Thread{Title: "Hello", CreatedAt: at, Messages: []Message{}})
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	var got User
	if err := db.First(&got, "id = ?", "u1").Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Name != "Ada" || got.Email != "ada@example.com" {
		t.Fatalf("normalization not applied: name=%q email=%q", got.Name, got.Email)
	}
	if got.ContentType.Data().Nationality != "GR" {
		t.Fatalf("content_type lost: %+v", got.ContentType.Data())
	}
	if len(got.SocialLinks) != 1 || got.SocialLinks[0].Platform != "x" {
		t.Fatalf("social links lost: %+v", got.SocialLinks)
	}
	if len(got.Chats) != 1 || got.Chats[0].Title != "Hello" || !got.Chats[0].CreatedAt.Equal(at) {
		t.Fatalf("chats lost: %+v", got.Chats)
	}
}

func TestNewUser_EmptyCollectionsAreNotNull(t *testing.T) {
	u := NewUser("u1", Profile{Email: "a@b.co"})
	b, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"chats":[]`) || !strings.Contains(s, `"social_media_links":[]`) {
		t.Fatalf("expected empty arrays, got %s", s)
	}
	if strings.Contains(s, "version") {
		t.Fatalf("version must not be serialized: %s", s)
	}
}

func TestThread_UnmarshalLegacyContent(t *testing.T) {
	raw := `{"title":"Old","timestamp":"2023-03-04T05:06:07Z","content":"first line\n\n  second line  \r\nthird"}`
	var th Thread
	if err := json.Unmarshal([]byte(raw), &th); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := time.Date(2023, 3, 4, 5, 6, 7, 0, time.UTC)
	if !th.CreatedAt.Equal(want) {
		t.Fatalf("CreatedAt = %v; want %v", th.CreatedAt, want)
	}
	if len(th.Messages) != 3 {
		t.Fatalf("expected 3 migrated messages, got %d: %+v", len(th.Messages), th.Messages)
	}
	if th.Messages[1].Content != "second line" || th.Messages[1].Role != RoleUser {
		t.Fatalf("unexpected message: %+v", th.Messages[1])
	}
	for _, m := range th.Messages {
		if !m.CreatedAt.Equal(want) {
			t.Fatalf("message not stamped with thread time: %+v", m)
		}
	}
}

func TestThread_UnmarshalPrefersMessages(t *testing.T) {
	raw := `{"title":"T","created_at":"2024-01-01T00:00:00Z","content":"ignored","messages":[{"role":"assistant","content":"hi","created_at":"2024-01-01T00:00:01Z"}]}`
	var th Thread
	if err := json.Unmarshal([]byte(raw), &th); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(th.Messages) != 1 || th.Messages[0].Role != RoleAssistant {
		t.Fatalf("unexpected messages: %+v", th.Messages)
	}
}

func TestThread_UnmarshalNeverNilMessages(t *testing.T) {
	var th Thread
	if err := json.Unmarshal([]byte(`{"title":"empty"}`), &th); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if th.Messages == nil {
		t.Fatalf("Messages must be non-nil")
	}
}

func TestValidRole(t *testing.T) {
	cases := map[string]bool{"user": true, "assistant": true, "system": false, "": false}
	for in, want := range cases {
		if got := ValidRole(in); got != want {
			t.Fatalf("ValidRole(%q) = %v; want %v", in, got, want)
		}
	}
}

func TestDecodeProfileUpdate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		check   func(t *testing.T, u ProfileUpdate)
	}{
		{
			name: "bio only",
			body: `{"bio":"hello"}`,
			check: func(t *testing.T, u ProfileUpdate) {
				if u.Bio == nil || *u.Bio != "hello" || u.Name != nil || u.ContentType != nil {
					t.Fatalf("unexpected update: %+v", u)
				}
			},
		},
		{
			name: "nested replaced wholesale",
			body: `{"content_type":{"age_group":"18-24"},"social_media_links":[]}`,
			check: func(t *testing.T, u ProfileUpdate) {
				cols := u.Columns()
				if _, ok := cols["content_type"]; !ok {
					t.Fatalf("content_type column missing: %v", cols)
				}
				if _, ok := cols["social_media_links"]; !ok {
					t.Fatalf("social_media_links column missing: %v", cols)
				}
				if _, ok := cols["bio"]; ok {
					t.Fatalf("absent field leaked into columns: %v", cols)
				}
			},
		},
		{name: "unknown field", body: `{"nickname":"x"}`, wantErr: true},
		{name: "bad email", body: `{"email":"nope"}`, wantErr: true},
		{name: "bad link", body: `{"social_media_links":[{"platform":"x","link":"not a url"}]}`, wantErr: true},
		{name: "not json", body: `{`, wantErr: true},
		{name: "trailing", body: `{"bio":"a"} {"bio":"b"}`, wantErr: true},
		{
			name: "empty object",
			body: `{}`,
			check: func(t *testing.T, u ProfileUpdate) {
				if !u.Empty() || len(u.Columns()) != 0 {
					t.Fatalf("expected empty update, got %+v", u)
				}
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			u, err := DecodeProfileUpdate(strings.NewReader(tc.body))
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidProfile) {
					t.Fatalf("expected ErrInvalidProfile, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeProfileUpdate: %v", err)
			}
			tc.check(t, u)
		})
	}
}

func TestDecodeProfile_NormalizesEmail(t *testing.T) {
	p, err := DecodeProfile(strings.NewReader(`{"email":"  Bob@Mail.io ","name":"Bob"}`))
	if err != nil {
		t.Fatalf("DecodeProfile: %v", err)
	}
	if p.Email != "bob@mail.io" {
		t.Fatalf("Email = %q", p.Email)
	}
	if _, err := DecodeProfile(strings.NewReader(`{"name":"no email"}`)); !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("expected ErrInvalidProfile for missing email, got %v", err)
	}
}
