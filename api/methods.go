package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
)

// MethodNotAllowedResponse is the body of every 405 response.
type MethodNotAllowedResponse struct {
	Success        bool     `json:"success"`
	Error          string   `json:"error"`
	Message        string   `json:"message"`
	AllowedMethods []string `json:"allowedMethods"`
}

// MethodGuard answers every request with 405 and lists the allowed methods
// of path. It is registered as the catch-all for a path.
func MethodGuard(path string, allowed ...string) http.Handler {
	response := MethodNotAllowedResponse{
		Success:        false,
		Error:          "Method Not Allowed",
		Message:        "Only " + strings.Join(allowed, ", ") + " method is allowed for " + path + " endpoint",
		AllowedMethods: allowed,
	}

	// The body never changes so it is marshalled once
	responseBytes, err := json.Marshal(response)
	if err != nil {
		panic(err)
	}
	allow := strings.Join(allowed, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", allow)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)

		if _, err := w.Write(responseBytes); err != nil {
			// Header already written so we log the error
			log.Printf("failed to write response: %v", err)
		}
	})
}
