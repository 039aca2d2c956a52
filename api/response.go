package api

import (
	"encoding/json"
	"net/http"

	"github.com/strandchat/strand/internal/log"
)

// errorResponse is the uniform failure envelope.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
// If encoding fails after WriteHeader, the status is already on the wire;
// the error is only logged.
func writeJSON(w http.ResponseWriter, status int, data any, logger log.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

// writeError writes the failure envelope.
func writeError(w http.ResponseWriter, status int, msg string, logger log.Logger) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg}, logger)
}
