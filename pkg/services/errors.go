// Package services implements the persistence layer: course and outline
// lookups, learner progress, the generated-block log, audio parts, and
// usage metering. All SQL lives here.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrShifuNotFound is returned when a course lookup misses.
	ErrShifuNotFound = errors.New("shifu not found")

	// ErrLessonNotFound is returned when an outline item is not in the course.
	ErrLessonNotFound = errors.New("lesson not found in course")

	// ErrStructNotFound is returned when a course has no structure snapshot.
	ErrStructNotFound = errors.New("shifu struct not found")

	// ErrGeneratedBlockNotFound is returned when a generated block bid misses.
	ErrGeneratedBlockNotFound = errors.New("generated block not found")

	// ErrInvalidAction is returned for an unrecognised reaction action.
	ErrInvalidAction = errors.New("invalid action")

	// ErrTTSNotEnabled is returned when audio is requested for a course with
	// TTS disabled.
	ErrTTSNotEnabled = errors.New("tts not enabled for this shifu")

	// ErrRunInProgress is returned when the per-learner run lock is held.
	ErrRunInProgress = errors.New("a run is already in progress for this outline")
)

// PaidError indicates a paid outline was entered without payment. The run
// loop surfaces it as a pay interaction instead of failing the stream.
type PaidError struct {
	ShifuBID string
}

func (e *PaidError) Error() string {
	return fmt.Sprintf("shifu %s requires payment", e.ShifuBID)
}

// NotLoginError indicates a trial outline was entered without a verified
// login. Surfaced as a login interaction.
type NotLoginError struct {
	OutlineBID string
}

func (e *NotLoginError) Error() string {
	return fmt.Sprintf("outline %s requires login", e.OutlineBID)
}

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
