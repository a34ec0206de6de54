package handlers

// Shared helpers and foundational endpoints for the HTTP surface.

import (
	"encoding/json"
	"log"
	"net/http"
)

// writeJSON encodes and writes a JSON response with proper error handling.
// If encoding fails the response is already partially written, so the
// status code cannot change at this point; the error is only logged.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("ERROR: Failed to encode JSON response: %v", err)
	}
}

// writeError writes a JSON error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"status":  "error",
		"message": message,
	})
}

// Root returns the service banner.
func Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "ChronicleWeaver is running...",
	})
}

// HealthCheck returns server health status
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
