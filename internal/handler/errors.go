package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/yourusername/eduquery-api/internal/pkg/errors"
	"github.com/yourusername/eduquery-api/internal/pkg/reporting"
)

// handleError переводит доменные ошибки в HTTP ответ
// {"error": "...", "error_type": "..."}
func handleError(c *gin.Context, component string, err error) {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "error_type": "validation_error"})
	case errors.Is(err, apperrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "error_type": "not_found"})
	case errors.Is(err, apperrors.ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "error_type": "already_resolved"})
	case errors.Is(err, apperrors.ErrNotEscalated):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "error_type": "not_escalated"})
	case errors.Is(err, apperrors.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "error_type": "invalid_transition"})
	case errors.Is(err, apperrors.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "error_type": "conflict"})
	case errors.Is(err, apperrors.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "error_type": "unauthorized"})
	case errors.Is(err, apperrors.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "error_type": "forbidden"})
	default:
		reporting.Error(component, err, map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "error_type": "internal_error"})
	}
}

// bindingError отвечает 422 на тело запроса, не прошедшее валидацию
func bindingError(c *gin.Context, err error) {
	c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "error_type": "validation_error"})
}
