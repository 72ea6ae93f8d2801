package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/leadsync/internal/domain"
	"github.com/timmy/leadsync/internal/logger"
)

const (
	userIDKey = "user_id"
	tokenKey  = "session_token"
)

// Authenticator resolves a session token to its user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

// RequireAuth rejects requests without a valid session.
// The token is read from "Authorization: Bearer <token>" or, failing that, the
// cookie named cookieName.
// Parameters:
//   - auth: session resolver.
//   - cookieName: session cookie name; empty disables the cookie lookup.
//
// Returns:
//   - gin.HandlerFunc: middleware handler.
func RequireAuth(auth Authenticator, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := SessionToken(c, cookieName)
		user, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			status := http.StatusUnauthorized
			if !errors.Is(err, domain.ErrUnauthorized) {
				status = http.StatusInternalServerError
				logger.CtxError(c.Request.Context(), "Session lookup failed: %v", err)
			}
			c.AbortWithStatusJSON(status, gin.H{"error": "Unauthorized"})
			return
		}

		c.Set(userIDKey, user.ID)
		c.Set(tokenKey, token)
		c.Request = c.Request.WithContext(logger.WithField(c.Request.Context(), logger.FieldUserID, user.ID))
		c.Next()
	}
}

// SessionToken extracts the session token from the request.
func SessionToken(c *gin.Context, cookieName string) string {
	if token, ok := bearerToken(c.GetHeader("Authorization")); ok {
		return token
	}
	if cookieName != "" {
		if cookie, err := c.Cookie(cookieName); err == nil {
			return cookie
		}
	}
	return ""
}

// GetUserID returns the authenticated user ID set by RequireAuth.
func GetUserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// CronSecret guards the cron trigger with a shared secret sent as a bearer
// token. An empty secret leaves the endpoint open.
func CronSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		token, _ := bearerToken(c.GetHeader("Authorization"))
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			logger.CtxWarn(c.Request.Context(), "Cron trigger rejected: client_ip=%s", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
