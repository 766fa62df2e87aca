package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/radiowatch/radiowatch/internal/database"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// RespondJSON writes data as a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("Failed to encode JSON response: %v", err)
		}
	}
}

// RespondError writes a standard error response.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message})
}

// RespondStoreError maps a store error to its HTTP status. Unknown
// errors become a 500 without leaking detail to the client.
func RespondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		RespondJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, database.ErrConflict):
		RespondJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "conflict"})
	case errors.Is(err, database.ErrPrecondition):
		RespondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: "precondition_failed"})
	case errors.Is(err, database.ErrStoreUnavailable):
		RespondJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "store unavailable", Code: "store_unavailable"})
	default:
		log.Printf("Unhandled store error: %v", err)
		RespondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
