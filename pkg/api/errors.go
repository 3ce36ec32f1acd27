package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/markdownflow/flowrun/pkg/services"
)

// serviceErrorStatus maps service-layer errors to an HTTP status and a
// client-safe message.
func serviceErrorStatus(err error) (int, string) {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return http.StatusBadRequest, validErr.Error()
	}
	switch {
	case errors.Is(err, services.ErrShifuNotFound),
		errors.Is(err, services.ErrLessonNotFound),
		errors.Is(err, services.ErrStructNotFound),
		errors.Is(err, services.ErrGeneratedBlockNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, services.ErrInvalidAction),
		errors.Is(err, services.ErrTTSNotEnabled):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrRunInProgress):
		return http.StatusConflict, err.Error()
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return http.StatusInternalServerError, "internal server error"
}

// respondServiceError writes the mapped error as a JSON body.
func respondServiceError(c *gin.Context, err error) {
	status, message := serviceErrorStatus(err)
	c.JSON(status, gin.H{"error": message})
}
