package middleware

import (
	"errors"
	"net/http"

	"hirecall/internal/core/domain"
	apperrors "hirecall/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware renders the last handler error as a JSON error body.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		appErr := toAppError(c.Errors.Last().Err)
		fields := []interface{}{
			"code", appErr.Code,
			"status", appErr.HTTPStatus,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		}
		if appErr.Cause != nil {
			fields = append(fields, "error", appErr.Cause)
		}
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw("Request failed", fields...)
		} else {
			logger.Debugw("Request rejected", fields...)
		}

		writeError(c, appErr)
	}
}

// RecoveryMiddleware turns a handler panic into a 500 response.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("Panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				abortWithError(c, apperrors.NewInternalError("internal server error"))
			}
		}()

		c.Next()
	}
}

// toAppError maps domain failures onto HTTP errors. Unknown errors become
// a 500 that hides the cause from the client.
func toAppError(err error) *apperrors.AppError {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return apperrors.Wrap(err, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrCallNotFound):
		return apperrors.Wrap(err, http.StatusNotFound, "call not found")
	case errors.Is(err, domain.ErrNotParticipant):
		return apperrors.Wrap(err, http.StatusForbidden, "not a participant of this call")
	case errors.Is(err, domain.ErrCallEnded):
		return apperrors.Wrap(err, http.StatusGone, "call has ended")
	case errors.Is(err, domain.ErrAuth):
		return apperrors.Wrap(err, http.StatusUnauthorized, "authentication required")
	default:
		return apperrors.Wrap(err, http.StatusInternalServerError, "internal server error")
	}
}

func writeError(c *gin.Context, appErr *apperrors.AppError) {
	body := gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	}
	if len(appErr.Context) > 0 {
		body["details"] = appErr.Context
	}
	c.JSON(appErr.HTTPStatus, body)
}

func abortWithError(c *gin.Context, appErr *apperrors.AppError) {
	writeError(c, appErr)
	c.Abort()
}
