package handler

import (
	"net/http"
)

// TestResponse is returned once the payment gate lets a request through.
type TestResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Data    TestData `json:"data"`
}

// TestData is the payload of TestResponse.
type TestData struct {
	Tested    bool   `json:"tested"`
	Timestamp string `json:"timestamp"`
}

// Test serves POST /test. It must only be reachable through the payment gate.
func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, TestResponse{
		Success: true,
		Message: "Test successful!",
		Data: TestData{
			Tested:    true,
			Timestamp: h.timestamp(),
		},
	})
}
