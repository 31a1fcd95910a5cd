package handlers

import (
	"encoding/json"
	"net/http"

	"chat-backend/internal/middleware"
	"chat-backend/internal/models"
)

// Shared helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get(middleware.RequestIDHeader),
		},
	}
}

// chatError writes the flat {error, details} body used by the chat endpoint.
func chatError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, models.ChatErrorResponse{Error: message, Details: details})
}
