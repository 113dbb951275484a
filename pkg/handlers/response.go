package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/apperrors"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/middleware"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
// The correlation id is included when the middleware put one on the context.
func ErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) error {
	body := map[string]string{
		"error":   errorCode,
		"message": message,
	}
	if id := middleware.CorrelationIDFrom(r.Context()); id != "" {
		body["correlation_id"] = id
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(body)
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// ServiceError maps a service-layer error onto an HTTP error response.
func ServiceError(w http.ResponseWriter, r *http.Request, err error) error {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return ErrorResponse(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperrors.ErrValidation),
		errors.Is(err, apperrors.ErrCircularDependency),
		errors.Is(err, apperrors.ErrMaxDepthExceeded):
		return ErrorResponse(w, r, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, apperrors.ErrInvalidState):
		return ErrorResponse(w, r, http.StatusConflict, "invalid_state", err.Error())
	default:
		return ErrorResponse(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
