package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/spark-chat-backend/internal/domain"
	"github.com/tbourn/spark-chat-backend/internal/identity"
	"github.com/tbourn/spark-chat-backend/internal/services"
)

type stubAuth struct {
	signIn, signUp identity.Session
	err            error
	signedOut      []string
}

func (s *stubAuth) SignIn(context.Context, string, string) (identity.Session, error) {
	return s.signIn, s.err
}

func (s *stubAuth) SignUp(context.Context, string, string) (identity.Session, error) {
	return s.signUp, s.err
}

func (s *stubAuth) SignOut(_ context.Context, token string) error {
	s.signedOut = append(s.signedOut, token)
	return s.err
}

type stubProfiles struct {
	byID, byEmail *domain.User
	created       *domain.Profile
	createdID     string
	updated       *domain.ProfileUpdate
	deleted       string
	err           error
	ctxErr        error
}

func (s *stubProfiles) GetByID(context.Context, string) (*domain.User, error) {
	if s.byID == nil {
		return nil, services.ErrProfileNotFound
	}
	return s.byID, nil
}

func (s *stubProfiles) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	if s.byEmail == nil || s.byEmail.Email != email {
		return nil, services.ErrProfileNotFound
	}
	return s.byEmail, nil
}

func (s *stubProfiles) Create(ctx context.Context, id string, p domain.Profile) (*domain.User, error) {
	s.ctxErr = ctx.Err()
	if s.err != nil {
		return nil, s.err
	}
	s.created, s.createdID = &p, id
	return domain.NewUser(id, p), nil
}

func (s *stubProfiles) Update(_ context.Context, id string, u domain.ProfileUpdate) (*domain.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.updated = &u
	name := ""
	if u.Name != nil {
		name = *u.Name
	}
	return &domain.User{ID: id, Name: name}, nil
}

func (s *stubProfiles) Delete(_ context.Context, id string) error {
	s.deleted = id
	return s.err
}

type stubChats struct {
	threads  []domain.Thread
	listErr  error
	version  int64
	stamp    *time.Time
	err      error
	gotTitle string
	gotMsg   domain.Message
	reply    *domain.Message
}

func (s *stubChats) ListThreads(context.Context, string) ([]domain.Thread, error) {
	return s.threads, s.listErr
}

func (s *stubChats) CreateThread(_ context.Context, _ string, title string) (*domain.Thread, error) {
	s.gotTitle = title
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Thread{Title: title, Messages: []domain.Message{}}, nil
}

func (s *stubChats) GetThread(_ context.Context, _ string, title string) (*domain.Thread, error) {
	s.gotTitle = title
	for i := range s.threads {
		if s.threads[i].Title == title {
			return &s.threads[i], nil
		}
	}
	return nil, services.ErrThreadNotFound
}

func (s *stubChats) AppendMessage(_ context.Context, _ string, title string, m domain.Message) (*domain.Message, error) {
	s.gotTitle, s.gotMsg = title, m
	if s.err != nil {
		return nil, s.err
	}
	return &m, nil
}

func (s *stubChats) Converse(_ context.Context, _ string, title, _ string) (*domain.Message, error) {
	s.gotTitle = title
	if s.err != nil {
		return nil, s.err
	}
	return s.reply, nil
}

func (s *stubChats) ThreadsVersion(context.Context, string) (int64, *time.Time, error) {
	return s.version, s.stamp, nil
}

// newTestRouter mounts the handlers with a fake auth layer that trusts the
// X-Test-User and X-Test-Email headers.
func newTestRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.UseRawPath = true
	r.UnescapePathValues = true
	r.POST("/auth/signup", h.SignUp)
	r.POST("/auth/signin", h.SignIn)
	r.POST("/auth/signout", h.SignOut)

	api := r.Group("/", func(c *gin.Context) {
		c.Set("userID", c.GetHeader("X-Test-User"))
		c.Set("email", c.GetHeader("X-Test-Email"))
		c.Next()
	})
	api.GET("/profile", h.GetProfile)
	api.PUT("/profile", h.PutProfile)
	api.PATCH("/profile", h.PatchProfile)
	api.DELETE("/profile", h.DeleteProfile)
	api.GET("/threads", h.ListThreads)
	api.POST("/threads", h.CreateThread)
	api.GET("/threads/:title", h.GetThread)
	api.POST("/threads/:title/messages", h.AppendMessage)
	api.POST("/threads/:title/replies", h.Reply)
	return r
}

func do(r http.Handler, method, target, body string, hdr ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", "uid-1")
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return er.Code
}

func TestSignUp_CreatesProfile(t *testing.T) {
	sess := identity.Session{UserID: "uid-9", Email: "ada@example.com", Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}
	auth := &stubAuth{signUp: sess}
	profiles := &stubProfiles{}
	r := newTestRouter(New(auth, profiles, &stubChats{}))

	w := do(r, http.MethodPost, "/auth/signup", `{"email":"Ada@Example.com","password":"longenough","name":"  Ada "}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body)
	}
	if profiles.createdID != "uid-9" || profiles.created.Email != "ada@example.com" || profiles.created.Name != "Ada" {
		t.Fatalf("profile not created from session: id=%q p=%+v", profiles.createdID, profiles.created)
	}
	var resp SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Session.Token != "tok" || resp.Profile == nil || resp.Profile.ID != "uid-9" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestSignUp_WritesSurviveClientCancel(t *testing.T) {
	auth := &stubAuth{signUp: identity.Session{UserID: "uid-9", Email: "ada@example.com"}}
	profiles := &stubProfiles{}
	r := newTestRouter(New(auth, profiles, &stubChats{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/auth/signup",
		strings.NewReader(`{"email":"ada@example.com","password":"longenough"}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(httptest.NewRecorder(), req)

	if profiles.ctxErr != nil {
		t.Fatalf("profile write saw cancelled context: %v", profiles.ctxErr)
	}
}

func TestSignUp_ProfileFailureSurfaces(t *testing.T) {
	auth := &stubAuth{signUp: identity.Session{UserID: "uid-9", Email: "ada@example.com"}}
	profiles := &stubProfiles{err: services.ErrStorageUnavailable}
	r := newTestRouter(New(auth, profiles, &stubChats{}))

	w := do(r, http.MethodPost, "/auth/signup", `{"email":"ada@example.com","password":"longenough"}`)
	if w.Code != http.StatusServiceUnavailable || errCode(t, w) != ErrCodeUnavailable {
		t.Fatalf("status=%d body=%s", w.Code, w.Body)
	}
}

func TestAuthEndpoints_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		path   string
		status int
		code   string
	}{
		{"bad credentials", identity.ErrInvalidCredentials, "/auth/signin", http.StatusUnauthorized, ErrCodeInvalidCredentials},
		{"rate limited", identity.ErrRateLimited, "/auth/signin", http.StatusTooManyRequests, ErrCodeRateLimited},
		{"email in use", identity.ErrEmailAlreadyInUse, "/auth/signup", http.StatusConflict, ErrCodeEmailInUse},
		{"weak password", identity.ErrWeakPassword, "/auth/signup", http.StatusBadRequest, ErrCodeWeakPassword},
		{"bad email", identity.ErrInvalidEmailFormat, "/auth/signup", http.StatusBadRequest, ErrCodeInvalidEmail},
		{"unknown", identity.ErrUnknown, "/auth/signin", http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(New(&stubAuth{err: tc.err}, &stubProfiles{}, &stubChats{}))
			w := do(r, http.MethodPost, tc.path, `{"email":"a@b.co","password":"whatever1"}`)
			if w.Code != tc.status || errCode(t, w) != tc.code {
				t.Fatalf("status=%d body=%s", w.Code, w.Body)
			}
		})
	}

	r := newTestRouter(New(&stubAuth{}, &stubProfiles{}, &stubChats{}))
	if w := do(r, http.MethodPost, "/auth/signin", `{"email":`); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: status=%d", w.Code)
	}
}

func TestSignOut(t *testing.T) {
	auth := &stubAuth{}
	r := newTestRouter(New(auth, &stubProfiles{}, &stubChats{}))

	if w := do(r, http.MethodPost, "/auth/signout", "", "Authorization", "Bearer abc"); w.Code != http.StatusNoContent {
		t.Fatalf("status=%d", w.Code)
	}
	if w := do(r, http.MethodPost, "/auth/signout", ""); w.Code != http.StatusNoContent {
		t.Fatalf("without token: status=%d", w.Code)
	}
	if len(auth.signedOut) != 2 || auth.signedOut[0] != "abc" || auth.signedOut[1] != "" {
		t.Fatalf("unexpected sign-out calls: %q", auth.signedOut)
	}

	auth.err = identity.ErrUnknown
	if w := do(r, http.MethodPost, "/auth/signout", "", "Authorization", "Bearer abc"); w.Code != http.StatusInternalServerError {
		t.Fatalf("store failure: status=%d", w.Code)
	}
}

func TestGetProfile_FallsBackToEmail(t *testing.T) {
	profiles := &stubProfiles{byEmail: &domain.User{ID: "legacy", Email: "ada@example.com", Name: "Ada"}}
	r := newTestRouter(New(&stubAuth{}, profiles, &stubChats{}))

	w := do(r, http.MethodGet, "/profile", "", "X-Test-Email", "ada@example.com")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body)
	}
	var p ProfileResponse
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("json: %v", err)
	}
	if p.ID != "legacy" || p.Name != "Ada" || p.SocialLinks == nil {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if strings.Contains(w.Body.String(), `"chats"`) {
		t.Fatalf("profile view must not embed chats: %s", w.Body)
	}

	w = do(r, http.MethodGet, "/profile", "", "X-Test-Email", "nobody@example.com")
	if w.Code != http.StatusNotFound || errCode(t, w) != ErrCodeNotFound {
		t.Fatalf("status=%d body=%s", w.Code, w.Body)
	}
}

func TestPutProfile(t *testing.T) {
	profiles := &stubProfiles{}
	r := newTestRouter(New(&stubAuth{}, profiles, &stubChats{}))
	const own = "ada@example.com"

	w := do(r, http.MethodPut, "/profile", `{"name":"Ada","email":"ADA@example.com","social_media_links":[{"platform":"gh","link":"https://github.com/ada"}]}`,
		"X-Test-Email", own)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body)
	}
	if profiles.createdID != "uid-1" || profiles.created.Email != own || len(profiles.created.SocialLinks) != 1 {
		t.Fatalf("unexpected create: %q %+v", profiles.createdID, profiles.created)
	}

	for _, body := range []string{
		`{"email":"ada@example.com","favourite_colour":"red"}`,
		`{"email":"not-an-email"}`,
		`{"email":"ada@example.com","social_media_links":[{"platform":"gh","link":"nope"}]}`,
		`{"email":"someone.else@example.com"}`,
	} {
		w := do(r, http.MethodPut, "/profile", body, "X-Test-Email", own)
		if w.Code != http.StatusBadRequest || errCode(t, w) != ErrCodeInvalidProfile {
			t.Fatalf("body %s: status=%d resp=%s", body, w.Code, w.Body)
		}
	}
}

func TestPatchProfile(t *testing.T) {
	profiles := &stubProfiles{}
	r := newTestRouter(New(&stubAuth{}, profiles, &stubChats{}))
	const own = "grace@example.com"

	w := do(r, http.MethodPatch, "/profile", `{"name":"Grace"}`, "X-Test-Email", own)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body)
	}
	if profiles.updated == nil || profiles.updated.Name == nil || *profiles.updated.Name != "Grace" || profiles.updated.Bio != nil {
		t.Fatalf("unexpected update: %+v", profiles.updated)
	}

	if w := do(r, http.MethodPatch, "/profile", `{"email":" Grace@Example.com "}`, "X-Test-Email", own); w.Code != http.StatusOK {
		t.Fatalf("own email: status=%d body=%s", w.Code, w.Body)
	}

	if w := do(r, http.MethodPatch, "/profile", `{"nickname":"g"}`, "X-Test-Email", own); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: status=%d", w.Code)
	}

	profiles.updated = nil
	w = do(r, http.MethodPatch, "/profile", `{"email":"alias@example.com","bio":"x"}`, "X-Test-Email", own)
	if w.Code != http.StatusBadRequest || errCode(t, w) != ErrCodeInvalidProfile {
		t.Fatalf("foreign email: status=%d body=%s", w.Code, w.Body)
	}
	if profiles.updated != nil {
		t.Fatalf("rejected update reached the store: %+v", profiles.updated)
	}

	profiles.err = services.ErrProfileNotFound
	if w := do(r, http.MethodPatch, "/profile", `{"bio":"x"}`, "X-Test-Email", own); w.Code != http.StatusNotFound {
		t.Fatalf("missing profile: status=%d", w.Code)
	}
}

func TestDeleteProfile(t *testing.T) {
	profiles := &stubProfiles{}
	r := newTestRouter(New(&stubAuth{}, profiles, &stubChats{}))
	if w := do(r, http.MethodDelete, "/profile", ""); w.Code != http.StatusNoContent {
		t.Fatalf("status=%d", w.Code)
	}
	if profiles.deleted != "uid-1" {
		t.Fatalf("deleted %q", profiles.deleted)
	}
}

func TestListThreads(t *testing.T) {
	stamp := time.Unix(1700000000, 0)
	chats := &stubChats{
		threads: []domain.Thread{{Title: "a", Messages: []domain.Message{}}, {Title: "b", Messages: []domain.Message{}}},
		version: 4,
		stamp:   &stamp,
	}
	r := newTestRouter(New(&stubAuth{}, &stubProfiles{}, chats))

	w := do(r, http.MethodGet, "/threads", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ThreadsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.Threads) != 2 || resp.Threads[0].Title != "a" || resp.Threads[1].Title != "b" {
		t.Fatalf("unexpected threads: %+v", resp.Threads)
	}
	etag := w.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"`) {
		t.Fatalf("expected weak etag, got %q", etag)
	}

	if w := do(r, http.MethodGet, "/threads", "", "If-None-Match", etag); w.Code != http.StatusNotModified {
		t.Fatalf("revalidation: status=%d", w.Code)
	}

	chats.version = 5
	if w := do(r, http.MethodGet, "/threads", "", "If-None-Match", etag); w.Code != http.StatusOK {
		t.Fatalf("after mutation: status=%d", w.Code)
	}
}

func TestListThreads_MissingUserIsEmpty(t *testing.T) {
	r := newTestRouter(New(&stubAuth{}, &stubProfiles{}, &stubChats{listErr: services.ErrUserNotFound}))
	w := do(r, http.MethodGet, "/threads", "")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != `{"threads":[]}` {
		t.Fatalf("status=%d body=%s", w.Code, w.Body)
	}
	if w.Header().Get("ETag") != "" {
		t.Fatalf("no etag expected for a missing user")
	}

	r = newTestRouter(New(&stubAuth{}, &stubProfiles{}, &stubChats{listErr: services.ErrStorageUnavailable}))
	if w := do(r, http.MethodGet, "/threads", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("storage failure: status=%d", w.Code)
	}
}

func TestThreadRoutes(t *testing.T) {
	chats := &stubChats{threads: []domain.Thread{{Title: "plans/2025", Messages: []domain.Message{}}}}
	r := newTestRouter(New(&stubAuth{}, &stubProfiles{}, chats))

	if w := do(r, http.MethodPost, "/threads", `{"title":"Trip ideas"}`); w.Code != http.StatusCreated || chats.gotTitle != "Trip ideas" {
		t.Fatalf("create: status=%d title=%q", w.Code, chats.gotTitle)
	}

	w := do(r, http.MethodGet, "/threads/plans%2F2025", "")
	if w.Code != http.StatusOK || chats.gotTitle != "plans/2025" {
		t.Fatalf("get escaped title: status=%d title=%q", w.Code, chats.gotTitle)
	}

	w = do(r, http.MethodGet, "/threads/missing", "")
	if w.Code != http.StatusNotFound || errCode(t, w) != ErrCodeThreadNotFound {
		t.Fatalf("missing thread: status=%d body=%s", w.Code, w.Body)
	}

	w = do(r, http.MethodPost, "/threads/plans%2F2025/messages", `{"role":"assistant","content":"hi"}`)
	if w.Code != http.StatusCreated || chats.gotMsg.Role != domain.RoleAssistant || chats.gotMsg.Content != "hi" {
		t.Fatalf("append: status=%d msg=%+v", w.Code, chats.gotMsg)
	}

	chats.err = services.ErrWriteConflict
	w = do(r, http.MethodPost, "/threads/plans%2F2025/messages", `{"role":"user","content":"hi"}`)
	if w.Code != http.StatusConflict || errCode(t, w) != ErrCodeWriteConflict {
		t.Fatalf("conflict: status=%d body=%s", w.Code, w.Body)
	}
}

func TestReply(t *testing.T) {
	chats := &stubChats{reply: &domain.Message{Role: domain.RoleAssistant, Content: "Lisbon."}}
	r := newTestRouter(New(&stubAuth{}, &stubProfiles{}, chats))

	w := do(r, http.MethodPost, "/threads/trip/replies", `{"prompt":"Where?"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body)
	}
	var m domain.Message
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil || m.Content != "Lisbon." {
		t.Fatalf("unexpected reply %s (%v)", w.Body, err)
	}

	for _, tc := range []struct {
		err    error
		status int
	}{
		{services.ErrRepliesDisabled, http.StatusNotImplemented},
		{services.ErrEmptyPrompt, http.StatusBadRequest},
		{services.ErrStorageUnavailable, http.StatusServiceUnavailable},
	} {
		chats.err = tc.err
		if w := do(r, http.MethodPost, "/threads/trip/replies", `{"prompt":"Where?"}`); w.Code != tc.status {
			t.Fatalf("%v: status=%d", tc.err, w.Code)
		}
	}
}
