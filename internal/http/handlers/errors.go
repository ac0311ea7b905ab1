// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them rather
// than on messages. Every error response carries an HTTP status and one of
// these codes:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "email_in_use",
//	  "message": "email already in use"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/spark-chat-backend/internal/completion"
	"github.com/tbourn/spark-chat-backend/internal/identity"
	"github.com/tbourn/spark-chat-backend/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeUnavailable      = "unavailable"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Identity
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeEmailInUse         = "email_in_use"
	ErrCodeInvalidEmail       = "invalid_email"
	ErrCodeWeakPassword       = "weak_password"

	// Profiles and threads
	ErrCodeInvalidProfile = "invalid_profile"
	ErrCodeUserNotFound   = "user_not_found"
	ErrCodeThreadNotFound = "thread_not_found"
	ErrCodeWriteConflict  = "write_conflict"

	// Replies
	ErrCodeRepliesDisabled  = "replies_disabled"
	ErrCodeEmptyCompletion  = "empty_completion"
	ErrCodeCompletionFailed = "completion_failed"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// errorTable is checked in order with errors.Is; the first match wins.
var errorTable = []errorMapping{
	{identity.ErrInvalidCredentials, http.StatusUnauthorized, ErrCodeInvalidCredentials},
	{identity.ErrEmailAlreadyInUse, http.StatusConflict, ErrCodeEmailInUse},
	{identity.ErrInvalidEmailFormat, http.StatusBadRequest, ErrCodeInvalidEmail},
	{identity.ErrWeakPassword, http.StatusBadRequest, ErrCodeWeakPassword},
	{identity.ErrRateLimited, http.StatusTooManyRequests, ErrCodeRateLimited},
	{identity.ErrUnknown, http.StatusInternalServerError, ErrCodeInternal},

	{services.ErrInvalidProfile, http.StatusBadRequest, ErrCodeInvalidProfile},
	{services.ErrEmptyTitle, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrEmptyPrompt, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrTooLong, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrInvalidRole, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrProfileNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrUserNotFound, http.StatusNotFound, ErrCodeUserNotFound},
	{services.ErrThreadNotFound, http.StatusNotFound, ErrCodeThreadNotFound},
	{services.ErrWriteConflict, http.StatusConflict, ErrCodeWriteConflict},
	{services.ErrStorageUnavailable, http.StatusServiceUnavailable, ErrCodeUnavailable},
	{services.ErrRepliesDisabled, http.StatusNotImplemented, ErrCodeRepliesDisabled},

	{completion.ErrEmptyPrompt, http.StatusBadRequest, ErrCodeBadRequest},
	{completion.ErrEmptyResponse, http.StatusBadGateway, ErrCodeEmptyCompletion},
	{completion.ErrUpstreamUnavailable, http.StatusServiceUnavailable, ErrCodeUnavailable},
	{completion.ErrUnknown, http.StatusInternalServerError, ErrCodeCompletionFailed},
}

// classify returns the status, code and client-safe message for err. The
// message is that of the matched sentinel, without wrapped detail.
// Unmapped errors are 500.
func classify(err error) (int, string, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			return m.status, m.code, m.target.Error()
		}
	}
	return http.StatusInternalServerError, ErrCodeInternal, http.StatusText(http.StatusInternalServerError)
}

// failErr renders err through the error table. 5xx causes are attached to
// the Gin context so the access log records them.
func failErr(c *gin.Context, err error) {
	status, code, msg := classify(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	fail(c, status, code, msg)
}
