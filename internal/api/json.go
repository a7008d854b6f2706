package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/ansuz/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusFor maps a store error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidData):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrQuotaExceeded):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs the failure and writes a JSON error whose status follows
// the error kind. Server-side failures hide the message.
func (h *Handler) writeError(w http.ResponseWriter, msg string, err error, attrs ...slog.Attr) {
	status := statusFor(err)
	kind := apperr.KindOf(err).Error()
	if status >= http.StatusInternalServerError {
		args := []any{slog.String("error", err.Error()), slog.String("kind", kind)}
		for _, a := range attrs {
			args = append(args, a)
		}
		h.logger.Error(msg, args...)
		writeJSON(w, status, errResponse{Error: "internal error", Kind: kind})
		return
	}
	writeJSON(w, status, errResponse{Error: err.Error(), Kind: kind})
}
