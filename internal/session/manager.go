// Package session issues and verifies bearer tokens for signed-in users.
//
// Tokens are HS256 JWTs carrying the user id (sub), email and a random jti.
// Sign-out revokes a token by storing its jti in Redis until the token
// would have expired anyway, so revocation state never outlives the token.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidToken covers malformed, badly signed, expired or
	// wrongly issued tokens.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrRevoked is returned for a well-formed token that was signed out.
	ErrRevoked = errors.New("session revoked")
)

const (
	defaultTTL    = 24 * time.Hour
	defaultIssuer = "spark-chat"
	redisTimeout  = 3 * time.Second
	leeway        = 30 * time.Second
)

// Claims is the JWT payload of a session token.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Token is an issued session credential.
type Token struct {
	Value     string
	ID        string
	ExpiresAt time.Time
}

// Options configures a Manager. Secret is required.
type Options struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
}

// Manager signs, verifies and revokes session tokens. It is safe for
// concurrent use.
type Manager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	rdb    redis.UniversalClient
	now    func() time.Time
}

// NewManager builds a Manager storing revocations in rdb.
func NewManager(opts Options, rdb redis.UniversalClient) (*Manager, error) {
	if len(opts.Secret) < 32 {
		return nil, errors.New("session secret must be at least 32 bytes")
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if strings.TrimSpace(opts.Issuer) == "" {
		opts.Issuer = defaultIssuer
	}
	return &Manager{
		secret: opts.Secret,
		ttl:    opts.TTL,
		issuer: opts.Issuer,
		rdb:    rdb,
		now:    time.Now,
	}, nil
}

// Issue signs a new token for userID.
func (m *Manager) Issue(userID, email string) (Token, error) {
	if userID == "" {
		return Token{}, errors.New("session subject required")
	}
	now := m.now().UTC()
	exp := now.Add(m.ttl)
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign session: %w", err)
	}
	return Token{Value: signed, ID: claims.ID, ExpiresAt: exp}, nil
}

// Verify parses token and checks that it has not been revoked. Redis
// failures are returned as-is so callers can tell them from bad tokens.
func (m *Manager) Verify(ctx context.Context, token string) (*Claims, error) {
	claims, err := m.parse(token)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	n, err := m.rdb.Exists(ctx, revocationKey(claims.ID)).Result()
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if n > 0 {
		return nil, ErrRevoked
	}
	return claims, nil
}

// Revoke signs the token out. Empty, malformed, expired and already
// revoked tokens succeed without touching Redis state.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	claims, err := m.parse(token)
	if err != nil {
		return nil
	}
	// parse honours leeway past exp, so the revocation must outlive it too.
	ttl := claims.ExpiresAt.Time.Add(leeway).Sub(m.now())
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	if err := m.rdb.Set(ctx, revocationKey(claims.ID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("store revocation: %w", err)
	}
	return nil
}

func (m *Manager) parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

func revocationKey(jti string) string {
	return "revoked:" + jti
}
