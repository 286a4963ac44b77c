package utils

import (
	"encoding/json"
	"net/http"

	"github.com/evogenom/ephemeral-auth/internal/logger"
	"go.uber.org/zap"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// WriteJSON writes a 200 JSON response
func WriteJSON(w http.ResponseWriter, data interface{}) {
	WriteJSONStatus(w, http.StatusOK, data)
}

// WriteJSONStatus writes a JSON response with the given status
func WriteJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		logger.Error("Failed to encode JSON response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		logger.Debug("Failed to write response", zap.Error(err))
	}
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, code, message string, status int) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="`+code+`"`)
	}
	WriteJSONStatus(w, status, ErrorResponse{Error: code, ErrorDescription: message})
}
