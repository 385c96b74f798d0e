package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/form"
	"github.com/go-playground/validator/v10"

	"github.com/webitel/wlog"

	"github.com/webitel/media_jobs/internal/model"
)

const maxBodyBytes = 1 << 20

var (
	validate     = validator.New()
	queryDecoder = form.NewDecoder()
)

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
	Details   any    `json:"details,omitempty"`
}

func statusCode(err error) int {
	var verr validator.ValidationErrors

	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConflict), errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidArgument), errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnsupportedFile):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrStoreUnavailable), errors.Is(err, model.ErrResourceRefused):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, r *http.Request, log *wlog.Logger, err error, details any) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		log.Error(err.Error(), wlog.Err(err), wlog.String("path", r.URL.Path))
	}

	respondJSON(w, code, errorResponse{
		Error:     err.Error(),
		RequestID: middleware.GetReqID(r.Context()),
		Details:   details,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return errorsJoinInvalid(err)
	}

	return validate.Struct(v)
}

func errorsJoinInvalid(err error) error {
	return errors.Join(model.ErrInvalidArgument, err)
}
