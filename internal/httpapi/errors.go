package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"crudsql/internal/errs"
	"crudsql/internal/logging"
	"crudsql/internal/service"
)

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// writeError maps a domain error onto an HTTP status. Validation problems are
// the client's fault; configuration problems are ours and the detail stays
// out of the response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logging.FromContext(r.Context())

	var ve *errs.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Msg, Field: ve.Field})
		return
	}
	if errors.Is(err, errs.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
		return
	}
	if errors.Is(err, service.ErrVersionConflict) {
		writeJSON(w, http.StatusConflict, errorBody{Error: "version conflict"})
		return
	}

	logger.Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
