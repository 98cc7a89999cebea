package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/animation-agent/internal/chartspec"
	"github.com/jonathan/animation-agent/internal/registry"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrRunNotVisible is returned for a run owned by someone else. It maps to
// 404 so run ids of other owners are not disclosed.
type ErrRunNotVisible struct {
	RunID string
}

func (e *ErrRunNotVisible) Error() string {
	return fmt.Sprintf("run not found: %s", e.RunID)
}

// validationError converts a validator or chart spec error into ErrValidation.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ErrValidation{Field: fe.Field(), Message: fmt.Sprintf("failed '%s' validation", fe.Tag())}
	}
	var cerr *chartspec.ValidationError
	if errors.As(err, &cerr) {
		return &ErrValidation{Field: "chart_spec", Message: cerr.Error()}
	}
	return &ErrValidation{Field: "body", Message: err.Error()}
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var verr *ErrValidation
	var hidden *ErrRunNotVisible
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &hidden), errors.Is(err, registry.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrRunActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
