// Package identity authenticates users against an external identity
// provider and hands out session handles.
//
// The Gateway validates input locally, makes at most one provider call,
// translates provider error codes onto a fixed set of categories and asks
// the session issuer for a bearer token. Providers are pluggable: the
// production one talks to the Identity Toolkit REST API, the local one
// keeps bcrypt hashes in the application database.
package identity

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/spark-chat-backend/internal/session"
)

// DefaultMinPasswordLen is the password length policy applied to both
// sign-in and sign-up when none is configured.
const DefaultMinPasswordLen = 8

var emailRE = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// Account is what a provider knows about an authenticated user.
type Account struct {
	UserID string
	Email  string
}

// Provider performs the credential check or account creation.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (Account, error)
	SignUp(ctx context.Context, email, password string) (Account, error)
}

// Issuer mints and revokes session tokens.
type Issuer interface {
	Issue(userID, email string) (session.Token, error)
	Revoke(ctx context.Context, token string) error
}

// Session is the handle returned to a signed-in caller.
type Session struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Gateway is the single entry point for sign-in, sign-up and sign-out.
type Gateway struct {
	provider       Provider
	issuer         Issuer
	minPasswordLen int
}

// NewGateway wires a Gateway. A non-positive minPasswordLen selects
// DefaultMinPasswordLen.
func NewGateway(p Provider, iss Issuer, minPasswordLen int) *Gateway {
	if minPasswordLen <= 0 {
		minPasswordLen = DefaultMinPasswordLen
	}
	return &Gateway{provider: p, issuer: iss, minPasswordLen: minPasswordLen}
}

// SignIn checks the credentials with the provider and opens a session.
// Passwords shorter than the policy are rejected as invalid credentials
// without contacting the provider.
func (g *Gateway) SignIn(ctx context.Context, email, password string) (Session, error) {
	email, err := checkEmail(email)
	if err != nil {
		return Session{}, err
	}
	if utf8.RuneCountInString(password) < g.minPasswordLen {
		return Session{}, ErrInvalidCredentials
	}
	acct, err := g.provider.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, g.providerFailure("sign-in", err)
	}
	return g.open(acct, email)
}

// SignUp creates the account with the provider and opens a session.
func (g *Gateway) SignUp(ctx context.Context, email, password string) (Session, error) {
	email, err := checkEmail(email)
	if err != nil {
		return Session{}, err
	}
	if utf8.RuneCountInString(password) < g.minPasswordLen {
		return Session{}, ErrWeakPassword
	}
	acct, err := g.provider.SignUp(ctx, email, password)
	if err != nil {
		return Session{}, g.providerFailure("sign-up", err)
	}
	return g.open(acct, email)
}

// SignOut revokes the session token. It succeeds for empty, expired or
// already revoked tokens; only a session store failure yields ErrUnknown.
func (g *Gateway) SignOut(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	if err := g.issuer.Revoke(ctx, token); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("sign-out failed")
		return fmt.Errorf("%w: %v", ErrUnknown, err)
	}
	return nil
}

func (g *Gateway) open(acct Account, email string) (Session, error) {
	if acct.Email == "" {
		acct.Email = email
	}
	tok, err := g.issuer.Issue(acct.UserID, acct.Email)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrUnknown, err)
	}
	return Session{
		UserID:    acct.UserID,
		Email:     acct.Email,
		Token:     tok.Value,
		ExpiresAt: tok.ExpiresAt,
	}, nil
}

func (g *Gateway) providerFailure(op string, err error) error {
	mapped := MapProviderError(err)
	log.Debug().Err(err).Str("op", op).Str("category", mapped.Error()).Msg("identity provider rejected request")
	return mapped
}

func checkEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !emailRE.MatchString(email) {
		return "", ErrInvalidEmailFormat
	}
	return email, nil
}
