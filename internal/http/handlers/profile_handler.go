package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/spark-chat-backend/internal/domain"
	"github.com/tbourn/spark-chat-backend/internal/http/middleware"
	"github.com/tbourn/spark-chat-backend/internal/services"
)

// ProfileResponse is the public view of a profile. Threads are served by
// the /threads endpoints and are not repeated here.
type ProfileResponse struct {
	ID          string              `json:"id"                 example:"Xk3p9a"`
	Name        string              `json:"name"               example:"Ada"`
	Email       string              `json:"email"              example:"ada@example.com"`
	Bio         string              `json:"bio"`
	ContentType domain.ContentType  `json:"content_type"`
	SocialLinks []domain.SocialLink `json:"social_media_links"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

const errForeignEmail = "email must match the signed-in account"

// sessionEmail reports whether email is the address the caller signed in
// with. GET /profile falls back to an email lookup, so a stored email is
// only ever one its owner has authenticated as.
func sessionEmail(c *gin.Context, email string) bool {
	own := domain.NormalizeEmail(middleware.Email(c))
	return own != "" && domain.NormalizeEmail(email) == own
}

func profileView(u *domain.User) *ProfileResponse {
	if u == nil {
		return nil
	}
	links := []domain.SocialLink(u.SocialLinks)
	if links == nil {
		links = []domain.SocialLink{}
	}
	return &ProfileResponse{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		Bio:         u.Bio,
		ContentType: u.ContentType.Data(),
		SocialLinks: links,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// GetProfile godoc
// @ID          getProfile
// @Summary     Get the caller's profile
// @Description Looks the profile up by session user id, then by session email.
// @Tags        Profile
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.ProfileResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse  "No profile"
// @Failure     503  {object}  handlers.ErrorResponse
// @Router      /profile [get]
func (h *Handlers) GetProfile(c *gin.Context) {
	ctx := c.Request.Context()
	u, err := h.profiles.GetByID(ctx, currentUser(c))
	if errors.Is(err, services.ErrProfileNotFound) {
		u, err = h.profiles.GetByEmail(ctx, middleware.Email(c))
	}
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, profileView(u))
}

// PutProfile godoc
// @ID          putProfile
// @Summary     Create or replace the caller's profile
// @Description Unknown fields are rejected. email must be the signed-in address. Existing threads are kept.
// @Tags        Profile
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      domain.Profile  true  "Profile"
// @Success     200   {object}  handlers.ProfileResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid profile"
// @Failure     401   {object}  handlers.ErrorResponse
// @Failure     503   {object}  handlers.ErrorResponse
// @Router      /profile [put]
func (h *Handlers) PutProfile(c *gin.Context) {
	p, err := domain.DecodeProfile(c.Request.Body)
	if err != nil {
		failErr(c, err)
		return
	}
	if !sessionEmail(c, p.Email) {
		fail(c, http.StatusBadRequest, ErrCodeInvalidProfile, errForeignEmail)
		return
	}
	u, err := h.profiles.Create(writeCtx(c), currentUser(c), p)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, profileView(u))
}

// PatchProfile godoc
// @ID          patchProfile
// @Summary     Partially update the caller's profile
// @Description Only the fields present are changed. content_type and social_media_links replace the stored value. email, if present, must be the signed-in address.
// @Tags        Profile
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      domain.ProfileUpdate  true  "Fields to change"
// @Success     200   {object}  handlers.ProfileResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid profile"
// @Failure     401   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse  "No profile"
// @Failure     503   {object}  handlers.ErrorResponse
// @Router      /profile [patch]
func (h *Handlers) PatchProfile(c *gin.Context) {
	upd, err := domain.DecodeProfileUpdate(c.Request.Body)
	if err != nil {
		failErr(c, err)
		return
	}
	if upd.Email != nil && !sessionEmail(c, *upd.Email) {
		fail(c, http.StatusBadRequest, ErrCodeInvalidProfile, errForeignEmail)
		return
	}
	u, err := h.profiles.Update(writeCtx(c), currentUser(c), upd)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, profileView(u))
}

// DeleteProfile godoc
// @ID          deleteProfile
// @Summary     Delete the caller's profile and threads
// @Description Idempotent. The identity provider account is not removed.
// @Tags        Profile
// @Security    BearerAuth
// @Success     204  {string}  string  "No Content"
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     503  {object}  handlers.ErrorResponse
// @Router      /profile [delete]
func (h *Handlers) DeleteProfile(c *gin.Context) {
	if err := h.profiles.Delete(writeCtx(c), currentUser(c)); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
