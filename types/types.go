package types

import "encoding/json"

// RequestBody is the request body sent to the facilitator verify and settle endpoints.
type RequestBody struct {
	X402Version         X402Version     `json:"x402Version"`
	PaymentPayload      json.RawMessage `json:"paymentPayload"`
	PaymentRequirements json.RawMessage `json:"paymentRequirements"`
}

// PaymentPayload is the decoded X-PAYMENT header.
// The scheme specific payload is kept raw so it reaches the facilitator unchanged.
type PaymentPayload struct {
	X402Version X402Version     `json:"x402Version"`
	Scheme      Scheme          `json:"scheme"`
	Network     Network         `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

// ExactPayload is the exact scheme payload for the eip3009 authorization type.
type ExactPayload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// Authorization is the authorization of the exact payload.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// PaymentRequirements is the payment requirements.
type PaymentRequirements struct {
	Scheme            Scheme  `json:"scheme"`
	Network           Network `json:"network"`
	MaxAmountRequired string  `json:"maxAmountRequired"`
	Resource          string  `json:"resource"`
	Description       string  `json:"description"`
	MimeType          string  `json:"mimeType"`
	PayTo             string  `json:"payTo"`
	MaxTimeoutSeconds int64   `json:"maxTimeoutSeconds"`
	Asset             string  `json:"asset"`
	Extra             Extra   `json:"extra"`
}

// Extra is the extra of the payment requirements.
// Name and Version form the EIP-712 domain of the asset.
type Extra struct {
	Name                string            `json:"name"`
	Version             string            `json:"version"`
	Decimals            int               `json:"decimals"`
	Symbol              string            `json:"symbol"`
	AuthorizationType   AuthorizationType `json:"authorizationType"`
	FacilitatorContract string            `json:"facilitatorContract,omitempty"`
}

// PaymentRequiredResponse is the body of a 402 response.
type PaymentRequiredResponse struct {
	X402Version X402Version           `json:"x402Version"`
	Error       string                `json:"error"`
	Accepts     []PaymentRequirements `json:"accepts"`
	Payer       string                `json:"payer,omitempty"`
}

// SettleResponse is the response of the settle operation.
type SettleResponse struct {
	Success     bool        `json:"success"`
	ErrorReason ErrorReason `json:"errorReason,omitempty"`
	Transaction string      `json:"transaction,omitempty"`
	Network     string      `json:"network,omitempty"`
	Payer       string      `json:"payer,omitempty"`
}

// VerifyResponse is the response of the verify operation.
type VerifyResponse struct {
	IsValid       bool          `json:"isValid"`
	InvalidReason InvalidReason `json:"invalidReason,omitempty"`
	Payer         string        `json:"payer,omitempty"`
}
