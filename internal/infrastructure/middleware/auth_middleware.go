package middleware

import (
	"errors"
	"net/http"
	"strings"

	"hirecall/internal/core/domain"
	"hirecall/internal/core/services"
	apperrors "hirecall/pkg/errors"
	"hirecall/pkg/logger"
	"hirecall/pkg/validation"

	"github.com/gin-gonic/gin"
)

const (
	userIDKey   = "user_id"
	usernameKey = "username"
)

// AuthMiddleware requires a valid access token, taken from the bearer
// header or, for websocket upgrades, the token query parameter.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := extractToken(c)
		if err != nil {
			abortWithError(c, apperrors.NewUnauthorizedError(err.Error()))
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, services.ErrExpiredToken) {
				msg = "token expired"
			}
			abortWithError(c, apperrors.Wrap(err, http.StatusUnauthorized, msg))
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Set(usernameKey, claims.Username)
		c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), string(claims.UserID)))
		c.Next()
	}
}

// CallPermissionMiddleware lets only participants of an active call
// through. It must run after AuthMiddleware.
func CallPermissionMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			abortWithError(c, apperrors.NewUnauthorizedError("authentication required"))
			return
		}

		callID := domain.CallID(c.Param("id"))
		if err := validation.ValidateCallID(string(callID)); err != nil {
			abortWithError(c, apperrors.NewInvalidInputError(err.Error()))
			return
		}

		if err := authService.CheckCallPermission(c.Request.Context(), user.ID, callID); err != nil {
			abortWithError(c, toAppError(err))
			return
		}

		c.Request = c.Request.WithContext(logger.WithCallID(c.Request.Context(), string(callID)))
		c.Next()
	}
}

// CurrentUser returns the authenticated user set by AuthMiddleware.
func CurrentUser(c *gin.Context) (domain.Participant, bool) {
	id, ok := c.Get(userIDKey)
	if !ok {
		return domain.Participant{}, false
	}
	userID, ok := id.(domain.UserID)
	if !ok || userID == "" {
		return domain.Participant{}, false
	}
	return domain.Participant{ID: userID, Description: c.GetString(usernameKey)}, true
}

func extractToken(c *gin.Context) (string, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", errors.New("invalid authorization header format")
		}
		return parts[1], nil
	}
	if token := c.Query("token"); token != "" {
		return token, nil
	}
	return "", errors.New("authorization required")
}
