package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/leadsync/internal/api/middleware"
	"github.com/timmy/leadsync/internal/logger"
	"github.com/timmy/leadsync/internal/service"
)

// AuthHandler handles account and session endpoints.
type AuthHandler struct {
	auth         *service.AuthService
	cookieName   string
	secureCookie bool
}

// NewAuthHandler creates a new auth handler.
// Parameters:
//   - auth: auth service.
//   - cookieName: session cookie name; empty disables cookies.
//   - secureCookie: whether the cookie is restricted to HTTPS.
//
// Returns:
//   - *AuthHandler: initialized handler.
func NewAuthHandler(auth *service.AuthService, cookieName string, secureCookie bool) *AuthHandler {
	return &AuthHandler{auth: auth, cookieName: cookieName, secureCookie: secureCookie}
}

// SignUp handles POST /api/v1/auth/signup.
func (h *AuthHandler) SignUp(c *gin.Context) {
	var in service.SignUpInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	session, err := h.auth.SignUp(c.Request.Context(), in)
	if err != nil {
		respondError(c, err, "Failed to create account")
		return
	}
	h.setCookie(c, session.Token, session.ExpiresAt)
	c.JSON(http.StatusCreated, session)
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var in service.LoginInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	session, err := h.auth.Login(c.Request.Context(), in)
	if err != nil {
		respondError(c, err, "Failed to sign in")
		return
	}
	h.setCookie(c, session.Token, session.ExpiresAt)
	c.JSON(http.StatusOK, session)
}

// Logout handles POST /api/v1/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	token := middleware.SessionToken(c, h.cookieName)
	if err := h.auth.Logout(c.Request.Context(), token); err != nil {
		logger.CtxWarn(c.Request.Context(), "Failed to delete session: %v", err)
	}
	h.setCookie(c, "", time.Unix(0, 0))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Me handles GET /api/v1/auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.auth.Authenticate(c.Request.Context(), middleware.SessionToken(c, h.cookieName))
	if err != nil {
		respondError(c, err, "Failed to load account")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *AuthHandler) setCookie(c *gin.Context, token string, expires time.Time) {
	if h.cookieName == "" {
		return
	}
	maxAge := int(time.Until(expires).Seconds())
	if token == "" || maxAge < 0 {
		maxAge = -1
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, token, maxAge, "/", "", h.secureCookie, true)
}
