// Package services defines the business logic for user profiles, chat
// threads and assistant replies. This file centralizes common service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/spark-chat-backend/internal/domain"
)

// Lookup results. These are non-fatal: callers render an empty state.
var (
	// ErrProfileNotFound indicates that no profile matched an id or email lookup.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrUserNotFound is returned by thread operations when no user id was
	// supplied or no record exists for it.
	ErrUserNotFound = errors.New("user not found")

	// ErrThreadNotFound indicates that the user has no thread with the title.
	ErrThreadNotFound = errors.New("thread not found")
)

// Input errors.
var (
	// ErrInvalidProfile aliases the domain validation error so handlers only
	// need to check one package.
	ErrInvalidProfile = domain.ErrInvalidProfile

	// ErrEmptyTitle is returned when a thread title is blank after normalization.
	ErrEmptyTitle = errors.New("title is empty")

	// ErrEmptyPrompt is returned when a message has no content.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrTooLong is returned when a title or message exceeds the configured
	// maximum length.
	ErrTooLong = errors.New("input too long")

	// ErrInvalidRole is returned for a message role other than user or assistant.
	ErrInvalidRole = errors.New("invalid message role")

	// ErrRepliesDisabled is returned by Converse when no Completer is wired.
	ErrRepliesDisabled = errors.New("assistant replies are disabled")
)

// Storage errors.
var (
	// ErrStorageUnavailable wraps any failure of the underlying database.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrWriteConflict is returned when a guarded thread update lost a race
	// with a concurrent writer. Nothing was written; the caller may retry.
	ErrWriteConflict = errors.New("write conflict")
)

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
