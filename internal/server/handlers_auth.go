package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type registerRequestPayload struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequestPayload struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
	Password        string `json:"password"`
}

type sessionResponsePayload struct {
	Success   bool       `json:"success"`
	User      users.User `json:"user"`
	Token     string     `json:"token"`
	TokenType string     `json:"tokenType"`
	ExpiresIn int64      `json:"expiresIn"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidBody(c, err)
		return
	}
	user, err := h.users.Register(c.Request.Context(), users.RegisterRequest{
		Name:     request.Name,
		Username: request.Username,
		Email:    request.Email,
		Password: request.Password,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.startSession(c, http.StatusCreated, user)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidBody(c, err)
		return
	}
	user, err := h.users.Authenticate(c.Request.Context(), request.UsernameOrEmail, request.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.startSession(c, http.StatusOK, user)
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	h.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out"})
}

func (h *httpHandler) startSession(c *gin.Context, status int, user users.User) {
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.String("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorPayload{Error: "dependency_failure", Code: "auth.token_issue_failed", Message: "internal server error"})
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, token, int(expiresIn), "/", "", h.cookieSecure, true)
	c.JSON(status, sessionResponsePayload{
		Success:   true,
		User:      user,
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: expiresIn,
	})
}

func (h *httpHandler) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, "", -1, "/", "", h.cookieSecure, true)
}
