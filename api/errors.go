package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/gold-engine/gold"
)

// =============================================================================
// REQUEST VALIDATION
// =============================================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json names so clients see the field they sent.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationFields maps validator errors to field -> failed tag.
func validationFields(err error) map[string]string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}
	out := make(map[string]string, len(ve))
	for _, fe := range ve {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

// decode reads a JSON body into dst and runs struct validation. It writes the
// 400 response itself and reports whether the handler may continue.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "Validation failed",
			Fields: validationFields(err),
		})
		return false
	}
	return true
}

// =============================================================================
// DOMAIN ERRORS
// =============================================================================

// statusFor maps a gold error to its HTTP status.
func statusFor(err error) int {
	var dup *gold.DuplicateMovementError
	switch {
	case errors.Is(err, gold.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, gold.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &dup), errors.Is(err, gold.ErrConcurrencyConflict):
		return http.StatusConflict
	case gold.IsClientError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError writes err with the status its kind maps to. Server errors
// are logged; the client only sees a generic message for them.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: message, Details: err.Error(), Retryable: gold.IsRetryable(err)}

	var ve *gold.ValidationError
	if errors.As(err, &ve) {
		resp.Fields = map[string]string{ve.Field: ve.Message}
	}
	if status == http.StatusInternalServerError {
		h.log.Error(message, zap.Error(err), zap.String("path", r.URL.Path))
		resp.Details = ""
	}
	writeJSON(w, status, resp)
}
