package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mestredb/api/internal/models"
	"mestredb/api/internal/security"
	"mestredb/api/internal/service"
)

const (
	CurrentUserKey  = "current_user"
	AccessTokenKey  = "access_token"
	TokenPayloadKey = "token_payload"
)

type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (models.User, *security.TokenPayload, error)
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	return token, token != ""
}

func Auth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := BearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}

		user, payload, err := auth.Authenticate(c.Request.Context(), tokenStr)
		if err != nil {
			status, code := authFailure(err)
			c.AbortWithStatusJSON(status, gin.H{"error": code})
			return
		}

		c.Set(AccessTokenKey, tokenStr)
		c.Set(TokenPayloadKey, payload)
		c.Set(CurrentUserKey, user)

		c.Next()
	}
}

func authFailure(err error) (int, string) {
	switch {
	case errors.Is(err, security.ErrExpiredToken):
		return http.StatusUnauthorized, "token_expired"
	case errors.Is(err, security.ErrRevoked):
		return http.StatusUnauthorized, "token_revoked"
	case errors.Is(err, security.ErrWrongKind):
		return http.StatusUnauthorized, "wrong_token_type"
	case errors.Is(err, security.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid_token"
	case errors.Is(err, service.ErrAccountDisabled):
		return http.StatusForbidden, "account_disabled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func CurrentUser(c *gin.Context) (models.User, bool) {
	userVal, exists := c.Get(CurrentUserKey)
	if !exists {
		return models.User{}, false
	}
	user, ok := userVal.(models.User)
	return user, ok
}

func RequireSuperuser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if !user.IsSuperuser {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
