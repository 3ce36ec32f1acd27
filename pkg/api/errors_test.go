package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/markdownflow/flowrun/pkg/services"
)

func TestServiceErrorStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"shifu not found", services.ErrShifuNotFound, http.StatusNotFound},
		{"lesson not found", services.ErrLessonNotFound, http.StatusNotFound},
		{"struct not found", services.ErrStructNotFound, http.StatusNotFound},
		{"generated block not found", services.ErrGeneratedBlockNotFound, http.StatusNotFound},
		{"invalid action", services.ErrInvalidAction, http.StatusBadRequest},
		{"tts not enabled", services.ErrTTSNotEnabled, http.StatusBadRequest},
		{"run in progress", services.ErrRunInProgress, http.StatusConflict},
		{"validation error", services.NewValidationError("input", "required"), http.StatusBadRequest},
		{"wrapped sentinel", errors.Join(errors.New("outer"), services.ErrShifuNotFound), http.StatusNotFound},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, message := serviceErrorStatus(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.NotEmpty(t, message)
		})
	}

	t.Run("unexpected errors stay opaque", func(t *testing.T) {
		_, message := serviceErrorStatus(errors.New("pq: connection refused"))
		assert.Equal(t, "internal server error", message)
	})
}
