package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"smartengo-backend/internal/auth"
	"smartengo-backend/internal/mw"
	"smartengo-backend/internal/store"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login exchanges email and password for a session token, returned in the
// body and as an HTTP-only cookie.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	user, err := h.store.GetAdminUserByEmail(c.Request.Context(), req.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.adminError(c, err)
		return
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		h.logger.Info("Failed login attempt", zap.String("email", req.Email), zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrInvalidCredentials.Error()})
		return
	}

	now := time.Now()
	token, err := h.auth.Issue(user, now)
	if err != nil {
		h.adminError(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(mw.AuthCookie, token, int(h.auth.TTL().Seconds()), "/", "", h.secureCookie, true)
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": now.Add(h.auth.TTL()).UTC(),
		"user":       user,
	})
}

// Logout clears the session cookie.
func (h *Handler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(mw.AuthCookie, "", -1, "/", "", h.secureCookie, true)
	c.Status(http.StatusNoContent)
}

// Me returns the signed-in user.
func (h *Handler) Me(c *gin.Context) {
	claims := mw.Claims(c)
	c.JSON(http.StatusOK, gin.H{
		"id":    claims.UserID,
		"email": claims.Email,
		"role":  claims.Role,
	})
}
