package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/spark-chat-backend/internal/session"
)

const (
	userIDKey = "userID"
	emailKey  = "email"
	tokenKey  = "sessionToken"
)

// TokenVerifier validates a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*session.Claims, error)
}

// Auth requires a valid bearer token. On success the user id, email and raw
// token are stored in the Gin context for handlers. Invalid or revoked
// tokens get 401; a failing session store gets 503.
func Auth(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := BearerToken(c)
		if tok == "" {
			authFailures.WithLabelValues("missing").Inc()
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		claims, err := v.Verify(c.Request.Context(), tok)
		switch {
		case err == nil:
		case errors.Is(err, session.ErrRevoked):
			authFailures.WithLabelValues("revoked").Inc()
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "session ended")
			return
		case errors.Is(err, session.ErrInvalidToken):
			authFailures.WithLabelValues("invalid").Inc()
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "invalid session")
			return
		default:
			authFailures.WithLabelValues("store").Inc()
			LoggerFrom(c).Error().Err(err).Msg("session verification failed")
			abortJSON(c, http.StatusServiceUnavailable, "unavailable", "session store unavailable")
			return
		}
		if claims.Subject == "" {
			authFailures.WithLabelValues("invalid").Inc()
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "invalid session")
			return
		}
		c.Set(userIDKey, claims.Subject)
		c.Set(emailKey, claims.Email)
		c.Set(tokenKey, tok)
		c.Next()
	}
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(c *gin.Context) string {
	h := strings.TrimSpace(c.GetHeader("Authorization"))
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

// UserID returns the authenticated user id, or "" outside Auth.
func UserID(c *gin.Context) string { return c.GetString(userIDKey) }

// Email returns the authenticated email, or "" outside Auth.
func Email(c *gin.Context) string { return c.GetString(emailKey) }

func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}
