package gate

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/raid-guild/x402-demo-server-go/types"
)

// decodePaymentHeader decodes a base64 JSON payment payload.
func decodePaymentHeader(header string) (types.PaymentPayload, error) {

	// Decode the base64 header, with or without padding
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(header, "="))
		if err != nil {
			return types.PaymentPayload{}, fmt.Errorf("failed to decode payment header: %w", err)
		}
	}

	// Unmarshal the payment payload
	var payload types.PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to unmarshal payment payload: %w", err)
	}

	// Check the payload carries the scheme specific part
	if len(payload.Payload) == 0 || string(payload.Payload) == "null" {
		return types.PaymentPayload{}, errors.New("payment payload is empty")
	}

	return payload, nil
}

// encodePaymentResponse encodes the settle response for the X-PAYMENT-RESPONSE header.
func encodePaymentResponse(response types.SettleResponse) (string, error) {
	responseBytes, err := json.Marshal(response)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settle response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(responseBytes), nil
}

// bufferedResponse holds a handler's response until the payment is settled.
type bufferedResponse struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: http.Header{}, status: http.StatusOK}
}

func (b *bufferedResponse) Header() http.Header {
	return b.header
}

func (b *bufferedResponse) WriteHeader(status int) {
	if !b.wroteHeader {
		b.status = status
		b.wroteHeader = true
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if !b.wroteHeader {
		b.WriteHeader(http.StatusOK)
	}
	return b.body.Write(p)
}

// flush copies the buffered response to w.
func (b *bufferedResponse) flush(w http.ResponseWriter) error {
	dst := w.Header()
	for key, values := range b.header {
		dst[key] = values
	}
	w.WriteHeader(b.status)
	_, err := w.Write(b.body.Bytes())
	return err
}
