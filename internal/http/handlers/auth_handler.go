package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/spark-chat-backend/internal/domain"
	"github.com/tbourn/spark-chat-backend/internal/http/middleware"
	"github.com/tbourn/spark-chat-backend/internal/identity"
)

// CredentialsRequest is the sign-in payload.
type CredentialsRequest struct {
	Email    string `json:"email"    example:"ada@example.com"`
	Password string `json:"password" example:"correct horse battery"`
}

// SignUpRequest is the sign-up payload. Name seeds the new profile.
type SignUpRequest struct {
	CredentialsRequest
	Name string `json:"name" example:"Ada"`
}

// SessionResponse is returned by sign-in and sign-up.
type SessionResponse struct {
	Session identity.Session `json:"session"`
	Profile *ProfileResponse `json:"profile,omitempty"`
}

// SignUp godoc
// @ID          signUp
// @Summary     Create an account
// @Description Creates the account with the identity provider, opens a session and writes the initial profile.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.SignUpRequest  true  "Credentials and display name"
// @Success     201   {object}  handlers.SessionResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid email or weak password"
// @Failure     409   {object}  handlers.ErrorResponse  "Email already in use"
// @Failure     429   {object}  handlers.ErrorResponse  "Too many attempts"
// @Failure     503   {object}  handlers.ErrorResponse  "Profile storage unavailable"
// @Router      /auth/signup [post]
func (h *Handlers) SignUp(c *gin.Context) {
	var req SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	ctx := writeCtx(c)

	sess, err := h.auth.SignUp(ctx, req.Email, req.Password)
	if err != nil {
		failErr(c, err)
		return
	}
	u, err := h.profiles.Create(ctx, sess.UserID, domain.Profile{
		Name:  strings.TrimSpace(req.Name),
		Email: sess.Email,
	})
	if err != nil {
		// The account exists; the client keeps the session and can retry
		// the profile write with PUT /profile.
		middleware.LoggerFrom(c).Warn().Err(err).Msg("initial profile write failed")
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, SessionResponse{Session: sess, Profile: profileView(u)})
}

// SignIn godoc
// @ID          signIn
// @Summary     Sign in
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.CredentialsRequest  true  "Credentials"
// @Success     200   {object}  handlers.SessionResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid email"
// @Failure     401   {object}  handlers.ErrorResponse  "Invalid credentials"
// @Failure     429   {object}  handlers.ErrorResponse  "Too many attempts"
// @Router      /auth/signin [post]
func (h *Handlers) SignIn(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	sess, err := h.auth.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, SessionResponse{Session: sess})
}

// SignOut godoc
// @ID          signOut
// @Summary     Sign out
// @Description Revokes the bearer token. Succeeds without a token or with an expired one.
// @Tags        Auth
// @Param       Authorization  header  string  false  "Bearer token"
// @Success     204  {string}  string  "No Content"
// @Failure     500  {object}  handlers.ErrorResponse  "Session store failure"
// @Router      /auth/signout [post]
func (h *Handlers) SignOut(c *gin.Context) {
	if err := h.auth.SignOut(writeCtx(c), middleware.BearerToken(c)); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
