package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/KafClaw/groupjournal/internal/apperr"
	"github.com/KafClaw/groupjournal/internal/store"
)

// Error codes carried in the error envelope.
const (
	CodeValidation       = "validation_error"
	CodeNotFound         = "not_found"
	CodeUnauthorized     = "unauthorized"
	CodeMethodNotAllowed = "method_not_allowed"
	CodeStore            = "store_error"
	CodeInternal         = "internal_error"
)

// ErrorResponse is the envelope for every failed request.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{OK: false, Error: msg, Code: code})
}

// writeError maps err onto the status classes of the API.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var se *store.Error
	switch {
	case apperr.IsValidation(err):
		writeErrorCode(w, http.StatusBadRequest, CodeValidation, err.Error())
	case apperr.IsNotFound(err):
		writeErrorCode(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.As(err, &se):
		slog.Error("Store failure", "path", r.URL.Path, "op", se.Op, "error", se.Err)
		writeErrorCode(w, http.StatusInternalServerError, CodeStore, err.Error())
	default:
		slog.Error("Request failed", "path", r.URL.Path, "error", err)
		writeErrorCode(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

// decodeBody reads a JSON body into v. An empty body is accepted when
// allowEmpty is set.
func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.Invalid("body", "is not valid JSON: "+err.Error())
	}
	return nil
}
