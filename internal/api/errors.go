package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"syndicate/internal/distribution"
	logx "syndicate/pkg/logx"
)

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// badRequest is a malformed body or query string.
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

func statusOf(err error) int {
	var br badRequest
	switch {
	case errors.As(err, &br), distribution.IsValidation(err):
		return http.StatusBadRequest
	case distribution.IsNotFound(err):
		return http.StatusNotFound
	case distribution.IsStateTransition(err), errors.Is(err, distribution.ErrRetryLimit):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	body := errorBody{Error: err.Error()}
	var ve *distribution.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}
	if code >= 500 {
		h.log.Error("request failed",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Err(err),
		)
	}
	writeJSON(w, code, body)
}
