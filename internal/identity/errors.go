package identity

import (
	"errors"
	"fmt"
	"strings"
)

// Failure categories surfaced by the Gateway. Every error it returns
// matches exactly one of these with errors.Is.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailAlreadyInUse  = errors.New("email already in use")
	ErrInvalidEmailFormat = errors.New("invalid email format")
	ErrWeakPassword       = errors.New("password too weak")
	ErrRateLimited        = errors.New("too many attempts, try again later")
	ErrUnknown            = errors.New("identity provider error")
)

// ProviderError carries a raw provider error code such as EMAIL_EXISTS or
// auth/wrong-password.
type ProviderError struct {
	Code string
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *ProviderError) Unwrap() error { return e.Err }

// providerCodes maps both REST-style and client-SDK-style codes onto the
// failure categories. Anything absent is ErrUnknown.
var providerCodes = map[string]error{
	"EMAIL_EXISTS":                ErrEmailAlreadyInUse,
	"auth/email-already-in-use":   ErrEmailAlreadyInUse,
	"INVALID_PASSWORD":            ErrInvalidCredentials,
	"EMAIL_NOT_FOUND":             ErrInvalidCredentials,
	"INVALID_LOGIN_CREDENTIALS":   ErrInvalidCredentials,
	"USER_DISABLED":               ErrInvalidCredentials,
	"auth/user-not-found":         ErrInvalidCredentials,
	"auth/wrong-password":         ErrInvalidCredentials,
	"auth/invalid-credential":     ErrInvalidCredentials,
	"auth/user-disabled":          ErrInvalidCredentials,
	"TOO_MANY_ATTEMPTS_TRY_LATER": ErrRateLimited,
	"auth/too-many-requests":      ErrRateLimited,
	"WEAK_PASSWORD":               ErrWeakPassword,
	"auth/weak-password":          ErrWeakPassword,
	"INVALID_EMAIL":               ErrInvalidEmailFormat,
	"auth/invalid-email":          ErrInvalidEmailFormat,
}

// MapProviderError translates a provider failure into a Gateway category.
// Transport failures and unmapped codes become ErrUnknown.
func MapProviderError(err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		if cat, ok := providerCodes[normalizeCode(pe.Code)]; ok {
			return fmt.Errorf("%w (%s)", cat, pe.Code)
		}
	}
	return fmt.Errorf("%w: %v", ErrUnknown, err)
}

// normalizeCode strips the human-readable suffix some providers append,
// e.g. "WEAK_PASSWORD : Password should be at least 6 characters".
func normalizeCode(code string) string {
	if i := strings.Index(code, " : "); i >= 0 {
		code = code[:i]
	}
	return strings.TrimSpace(code)
}
