package http

import (
	"net/http"
	"strings"
	"time"

	"hirecall/internal/core/domain"
	"hirecall/internal/core/services"
	"hirecall/pkg/errors"
	"hirecall/pkg/validation"

	"github.com/gin-gonic/gin"
)

// AuthHandler issues development tokens. There is no credential store: any
// valid user id gets a token.
type AuthHandler struct {
	authService services.AuthService
	accessTTL   time.Duration
}

func NewAuthHandler(authService services.AuthService, accessTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		accessTTL:   accessTTL,
	}
}

func (h *AuthHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/token", h.IssueToken)
		api.POST("/refresh", h.RefreshToken)
	}
}

type TokenRequest struct {
	UserID   string `json:"user_id" binding:"required,max=100"`
	Username string `json:"username" binding:"max=50"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required,max=2048"`
}

type TokenResponse struct {
	UserID       domain.UserID `json:"user_id"`
	Username     string        `json:"username,omitempty"`
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token,omitempty"`
	ExpiresIn    int           `json:"expires_in"`
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	req.Username = strings.TrimSpace(req.Username)
	if err := validation.ValidateUserID(req.UserID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if req.Username == "" {
		req.Username = req.UserID
	}
	if err := validation.ValidateUsername(req.Username); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	userID := domain.UserID(req.UserID)
	accessToken, err := h.authService.GenerateToken(userID, req.Username)
	if err != nil {
		c.Error(errors.Wrap(err, http.StatusInternalServerError, "failed to generate token"))
		return
	}
	refreshToken, err := h.authService.GenerateRefreshToken(userID)
	if err != nil {
		c.Error(errors.Wrap(err, http.StatusInternalServerError, "failed to generate refresh token"))
		return
	}

	c.JSON(http.StatusCreated, TokenResponse{
		UserID:       userID,
		Username:     req.Username,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(h.accessTTL / time.Second),
	})
}

func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	claims, err := h.authService.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		c.Error(errors.Wrap(err, http.StatusUnauthorized, "invalid refresh token"))
		return
	}

	accessToken, err := h.authService.GenerateToken(claims.UserID, claims.Username)
	if err != nil {
		c.Error(errors.Wrap(err, http.StatusInternalServerError, "failed to generate token"))
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		UserID:      claims.UserID,
		AccessToken: accessToken,
		ExpiresIn:   int(h.accessTTL / time.Second),
	})
}
