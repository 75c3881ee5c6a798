package handler

import (
	"net/http"
)

// PublicResponse describes the protected endpoint and its price.
type PublicResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Info    PublicInfo `json:"info"`
}

// PublicInfo is the pricing part of PublicResponse.
type PublicInfo struct {
	ProtectedEndpoint string `json:"protectedEndpoint"`
	RequiredPayment   string `json:"requiredPayment"`
	Network           string `json:"network"`
	TokenAddress      string `json:"tokenAddress"`
	TokenSymbol       string `json:"tokenSymbol"`
}

// Public serves GET /public. No payment is required.
func (h *Handler) Public(w http.ResponseWriter, r *http.Request) {
	payment := h.cfg.Payment

	h.writeJSON(w, http.StatusOK, PublicResponse{
		Success: true,
		Message: "This is a public endpoint, no payment required",
		Info: PublicInfo{
			ProtectedEndpoint: "/test",
			RequiredPayment:   payment.PaymentAmount + " " + payment.TokenSymbol + " (smallest unit)",
			Network:           payment.NetworkName,
			TokenAddress:      payment.TokenAddress,
			TokenSymbol:       payment.TokenSymbol,
		},
	})
}
