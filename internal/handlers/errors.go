package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mestredb/api/internal/security"
	"mestredb/api/internal/service"
)

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{service.ErrAccountDisabled, http.StatusForbidden, "account_disabled"},
	{security.ErrExpiredToken, http.StatusUnauthorized, "token_expired"},
	{security.ErrRevoked, http.StatusUnauthorized, "token_revoked"},
	{security.ErrWrongKind, http.StatusUnauthorized, "wrong_token_type"},
	{security.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
	{service.ErrNotFound, http.StatusNotFound, "not_found"},
	{service.ErrAlreadyDeleted, http.StatusConflict, "already_deleted"},
	{service.ErrNotDeleted, http.StatusConflict, "not_deleted"},
	{service.ErrConflict, http.StatusConflict, "conflict"},
	{service.ErrForbidden, http.StatusForbidden, "forbidden"},
}

func (h HandlerSet) writeError(c *gin.Context, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "fields": verr.Fields})
		return
	}

	var rl *service.RateLimitError
	if errors.As(err, &rl) {
		seconds := int(math.Ceil(rl.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.Itoa(seconds))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too_many_attempts", "retryAfter": seconds})
		return
	}

	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			c.JSON(e.status, gin.H{"error": e.code})
			return
		}
	}

	if !errors.Is(err, service.ErrInternal) {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("unmapped error")
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": message})
}
