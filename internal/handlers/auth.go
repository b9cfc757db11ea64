package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"mestredb/api/internal/middleware"
	"mestredb/api/internal/service"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h HandlerSet) SignUp(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.authService.Register(c.Request.Context(), service.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	identifier := c.ClientIP() + ":" + strings.ToLower(strings.TrimSpace(req.Email))
	result, err := h.authService.Login(c.Request.Context(), service.LoginInput{
		Identifier: identifier,
		Email:      req.Email,
		Password:   req.Password,
	})
	h.setRateLimitHeaders(c, identifier)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// setRateLimitHeaders reports the login budget left for identifier. It only
// reads limiter state.
func (h HandlerSet) setRateLimitHeaders(c *gin.Context, identifier string) {
	if h.limiter == nil {
		return
	}
	cfg := h.limiter.Config()
	remaining := cfg.MaxAttempts
	var reset int64

	if stats, ok := h.limiter.Stats(identifier); ok {
		remaining = cfg.MaxAttempts - stats.Count
		reset = stats.FirstAttempt.Add(cfg.Window).Unix()
		if stats.BlockedUntil != nil && stats.BlockedUntil.Unix() > reset {
			reset = stats.BlockedUntil.Unix()
		}
	}
	if remaining < 0 {
		remaining = 0
	}

	c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.MaxAttempts))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if reset > 0 {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h HandlerSet) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		badRequest(c, "refreshToken is required")
		return
	}

	result, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Logout revokes the bearer token and, when sent, the refresh token too.
func (h HandlerSet) Logout(c *gin.Context) {
	var req logoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	tokens := make([]string, 0, 2)
	if access, ok := middleware.BearerToken(c); ok {
		tokens = append(tokens, access)
	}
	if refresh := strings.TrimSpace(req.RefreshToken); refresh != "" {
		tokens = append(tokens, refresh)
	}
	if len(tokens) == 0 {
		badRequest(c, "a bearer token or refreshToken is required")
		return
	}

	for _, token := range tokens {
		if err := h.authService.Logout(c.Request.Context(), token); err != nil {
			h.writeError(c, err)
			return
		}
	}

	c.Status(http.StatusNoContent)
}

func (h HandlerSet) Me(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	profile, err := h.authService.Me(c.Request.Context(), user.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": profile,
	})
}
