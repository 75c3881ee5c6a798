// Package facilitator is an HTTP client for an x402 facilitator service.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/raid-guild/x402-demo-server-go/types"
	"github.com/raid-guild/x402-demo-server-go/utils"
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 4 << 10

// NewHTTPClient creates the HTTP client used for facilitator calls. This function can be overridden in tests.
var NewHTTPClient = func() *http.Client {
	return &http.Client{Timeout: 2 * time.Minute}
}

// Client calls the verify and settle endpoints of a facilitator.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	authHeaders AuthHeadersFunc
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithAuthHeaders sets the function that supplies per-call auth headers.
func WithAuthHeaders(fn AuthHeadersFunc) Option {
	return func(c *Client) {
		c.authHeaders = fn
	}
}

// New creates a facilitator client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: NewHTTPClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify asks the facilitator whether the payment satisfies the requirements.
func (c *Client) Verify(ctx context.Context, p types.PaymentPayload, r types.PaymentRequirements) (types.VerifyResponse, error) {

	// Get the auth headers for this call
	headers, err := c.headers(ctx)
	if err != nil {
		return types.VerifyResponse{}, err
	}

	// Post the request body to the verify endpoint
	var response types.VerifyResponse
	err = c.post(ctx, "/verify", headers.Verify, p, r, &response)
	if err != nil {
		return types.VerifyResponse{}, err
	}

	return response, nil
}

// Settle asks the facilitator to execute the payment on chain.
func (c *Client) Settle(ctx context.Context, p types.PaymentPayload, r types.PaymentRequirements) (types.SettleResponse, error) {

	// Get the auth headers for this call
	headers, err := c.headers(ctx)
	if err != nil {
		return types.SettleResponse{}, err
	}

	// Post the request body to the settle endpoint
	var response types.SettleResponse
	err = c.post(ctx, "/settle", headers.Settle, p, r, &response)
	if err != nil {
		return types.SettleResponse{}, err
	}

	return response, nil
}

// headers returns the configured auth headers, or none.
func (c *Client) headers(ctx context.Context) (AuthHeaders, error) {
	if c.authHeaders == nil {
		return AuthHeaders{}, nil
	}
	headers, err := c.authHeaders(ctx)
	if err != nil {
		return AuthHeaders{}, fmt.Errorf("creating facilitator auth headers: %w", err)
	}
	return headers, nil
}

// post sends the x402 request body to the given path and decodes the JSON response into out.
func (c *Client) post(ctx context.Context, path string, header http.Header, p types.PaymentPayload, r types.PaymentRequirements, out any) error {

	// Marshal the payment payload
	payloadBytes, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal payment payload: %w", err)
	}

	// Marshal the payment requirements
	requirementsBytes, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal payment requirements: %w", err)
	}

	// Marshal the request body
	bodyBytes, err := json.Marshal(types.RequestBody{
		X402Version:         p.X402Version,
		PaymentPayload:      payloadBytes,
		PaymentRequirements: requirementsBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	// Build the request
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create facilitator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	// Send the request
	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return utils.NewStatusError(
				fmt.Errorf("facilitator %s timed out: %w", path, err),
				http.StatusGatewayTimeout,
			)
		}
		return utils.NewStatusError(
			fmt.Errorf("facilitator %s request failed: %w", path, err),
			http.StatusBadGateway,
		)
	}
	defer resp.Body.Close()

	// Check the response status
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return utils.NewStatusError(
			fmt.Errorf("facilitator %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg))),
			resp.StatusCode,
		)
	}

	// Decode the response body
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return utils.NewStatusError(
			fmt.Errorf("failed to decode facilitator %s response: %w", path, err),
			http.StatusBadGateway,
		)
	}

	return nil
}
