package facilitator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/raid-guild/x402-demo-server-go/types"
	"github.com/raid-guild/x402-demo-server-go/utils"
)

func testPayload() types.PaymentPayload {
	return types.PaymentPayload{
		X402Version: types.X402Version1,
		Scheme:      types.SchemeExact,
		Network:     "bsc",
		Payload:     json.RawMessage(`{"signature":"0x01","authorization":{"from":"0x0000000000000000000000000000000000000001"}}`),
	}
}

func testRequirements() types.PaymentRequirements {
	return types.PaymentRequirements{
		Scheme:            types.SchemeExact,
		Network:           "bsc",
		MaxAmountRequired: "1000",
		PayTo:             "0x0000000000000000000000000000000000000002",
		Asset:             "0x0000000000000000000000000000000000000003",
		MaxTimeoutSeconds: 60,
		Extra: types.Extra{
			Name:              "Coin",
			Version:           "1",
			AuthorizationType: types.AuthorizationTypeEIP3009,
		},
	}
}

func TestClient_Verify(t *testing.T) {

	t.Run("posts the request body and decodes the response", func(t *testing.T) {
		var gotPath string
		var gotBody types.RequestBody
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %s, want application/json", ct)
			}
			if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
				t.Errorf("failed to decode request body: %v", err)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"isValid":true,"payer":"0x0000000000000000000000000000000000000001"}`))
		}))
		defer server.Close()

		client := New(server.URL + "/")
		response, err := client.Verify(context.Background(), testPayload(), testRequirements())
		if err != nil {
			t.Fatalf("Verify() error: %v", err)
		}

		if gotPath != "/verify" {
			t.Errorf("path = %s, want /verify", gotPath)
		}
		if gotBody.X402Version != types.X402Version1 {
			t.Errorf("x402Version = %d, want 1", gotBody.X402Version)
		}

		var payload types.PaymentPayload
		if err := json.Unmarshal(gotBody.PaymentPayload, &payload); err != nil {
			t.Fatalf("failed to unmarshal payment payload: %v", err)
		}
		if string(payload.Payload) != string(testPayload().Payload) {
			t.Errorf("payload = %s, want it unchanged", payload.Payload)
		}

		var requirements types.PaymentRequirements
		if err := json.Unmarshal(gotBody.PaymentRequirements, &requirements); err != nil {
			t.Fatalf("failed to unmarshal payment requirements: %v", err)
		}
		if requirements != testRequirements() {
			t.Errorf("requirements = %+v, want %+v", requirements, testRequirements())
		}

		if !response.IsValid {
			t.Errorf("IsValid = false, want true")
		}
		if response.Payer != "0x0000000000000000000000000000000000000001" {
			t.Errorf("Payer = %s", response.Payer)
		}
	})

	t.Run("invalid payment is not an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"isValid":false,"invalidReason":"insufficient_funds"}`))
		}))
		defer server.Close()

		response, err := New(server.URL).Verify(context.Background(), testPayload(), testRequirements())
		if err != nil {
			t.Fatalf("Verify() error: %v", err)
		}
		if response.IsValid {
			t.Errorf("IsValid = true, want false")
		}
		if response.InvalidReason != types.InvalidReasonInsufficientFunds {
			t.Errorf("InvalidReason = %s, want insufficient_funds", response.InvalidReason)
		}
	})

	t.Run("non 2xx status is returned as a status error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}))
		defer server.Close()

		_, err := New(server.URL).Verify(context.Background(), testPayload(), testRequirements())
		if err == nil {
			t.Fatal("expected error")
		}

		var se utils.StatusError
		if !errors.As(err, &se) {
			t.Fatalf("expected StatusError, got %T", err)
		}
		if se.Status() != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", se.Status(), http.StatusUnauthorized)
		}
		if !strings.Contains(err.Error(), "unauthorized") {
			t.Errorf("error %q does not carry the response body", err.Error())
		}
	})

	t.Run("malformed response body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{not json}`))
		}))
		defer server.Close()

		_, err := New(server.URL).Verify(context.Background(), testPayload(), testRequirements())
		if utils.StatusOf(err) != http.StatusBadGateway {
			t.Fatalf("expected bad gateway status error, got %v", err)
		}
	})

	t.Run("context deadline exceeded", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := New(server.URL).Verify(ctx, testPayload(), testRequirements())
		if utils.StatusOf(err) != http.StatusGatewayTimeout {
			t.Fatalf("expected gateway timeout status error, got %v", err)
		}
	})

	t.Run("http client timeout", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		client := New(server.URL, WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))

		_, err := client.Verify(context.Background(), testPayload(), testRequirements())
		if utils.StatusOf(err) != http.StatusGatewayTimeout {
			t.Fatalf("expected gateway timeout status error, got %v", err)
		}
	})

	t.Run("unreachable facilitator", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		_, err := New(url).Verify(context.Background(), testPayload(), testRequirements())
		if utils.StatusOf(err) != http.StatusBadGateway {
			t.Fatalf("expected bad gateway status error, got %v", err)
		}
	})

}

func TestClient_Settle(t *testing.T) {

	t.Run("posts to the settle endpoint", func(t *testing.T) {
		var gotPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			w.Write([]byte(`{"success":true,"transaction":"0xabc","network":"bsc","payer":"0x0000000000000000000000000000000000000001"}`))
		}))
		defer server.Close()

		response, err := New(server.URL).Settle(context.Background(), testPayload(), testRequirements())
		if err != nil {
			t.Fatalf("Settle() error: %v", err)
		}
		if gotPath != "/settle" {
			t.Errorf("path = %s, want /settle", gotPath)
		}
		if !response.Success || response.Transaction != "0xabc" || response.Network != "bsc" {
			t.Errorf("response = %+v", response)
		}
	})

}

func TestClient_AuthHeaders(t *testing.T) {

	t.Run("static api key is sent on verify and settle", func(t *testing.T) {
		var keys []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keys = append(keys, r.Header.Get(APIKeyHeader))
			if r.URL.Path == "/verify" {
				w.Write([]byte(`{"isValid":true}`))
				return
			}
			w.Write([]byte(`{"success":true}`))
		}))
		defer server.Close()

		client := New(server.URL, WithAuthHeaders(StaticAPIKey("valid-api-key")))
		if _, err := client.Verify(context.Background(), testPayload(), testRequirements()); err != nil {
			t.Fatalf("Verify() error: %v", err)
		}
		if _, err := client.Settle(context.Background(), testPayload(), testRequirements()); err != nil {
			t.Fatalf("Settle() error: %v", err)
		}

		if len(keys) != 2 || keys[0] != "valid-api-key" || keys[1] != "valid-api-key" {
			t.Errorf("api keys = %v, want the key on both calls", keys)
		}
	})

	t.Run("empty api key sends no header", func(t *testing.T) {
		headers, err := StaticAPIKey("")(context.Background())
		if err != nil {
			t.Fatalf("StaticAPIKey() error: %v", err)
		}
		if headers.Verify != nil || headers.Settle != nil {
			t.Errorf("headers = %+v, want none", headers)
		}
	})

	t.Run("separate headers per operation", func(t *testing.T) {
		var verifyAuth, settleAuth string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/verify" {
				verifyAuth = r.Header.Get("Authorization")
				w.Write([]byte(`{"isValid":true}`))
				return
			}
			settleAuth = r.Header.Get("Authorization")
			w.Write([]byte(`{"success":true}`))
		}))
		defer server.Close()

		client := New(server.URL, WithAuthHeaders(func(ctx context.Context) (AuthHeaders, error) {
			return AuthHeaders{
				Verify: http.Header{"Authorization": []string{"Bearer verify"}},
				Settle: http.Header{"Authorization": []string{"Bearer settle"}},
			}, nil
		}))
		client.Verify(context.Background(), testPayload(), testRequirements())
		client.Settle(context.Background(), testPayload(), testRequirements())

		if verifyAuth != "Bearer verify" {
			t.Errorf("verify Authorization = %s", verifyAuth)
		}
		if settleAuth != "Bearer settle" {
			t.Errorf("settle Authorization = %s", settleAuth)
		}
	})

	t.Run("auth header failure aborts the call", func(t *testing.T) {
		called := false
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))
		defer server.Close()

		client := New(server.URL, WithAuthHeaders(func(ctx context.Context) (AuthHeaders, error) {
			return AuthHeaders{}, errors.New("token expired")
		}))
		_, err := client.Verify(context.Background(), testPayload(), testRequirements())
		if err == nil || !strings.Contains(err.Error(), "token expired") {
			t.Fatalf("expected auth error, got %v", err)
		}
		if called {
			t.Errorf("facilitator was called despite the auth failure")
		}
	})

}

// roundTripFunc adapts a function to http.RoundTripper.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestNewHTTPClient(t *testing.T) {
	var calls int
	originalNewHTTPClient := NewHTTPClient
	t.Cleanup(func() {
		NewHTTPClient = originalNewHTTPClient
	})
	NewHTTPClient = func() *http.Client {
		return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			calls++
			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Content-Type": []string{"application/json"}},
				Body:       io.NopCloser(strings.NewReader(`{"isValid":true}`)),
				Request:    r,
			}, nil
		})}
	}

	response, err := New("http://facilitator.invalid").Verify(context.Background(), testPayload(), testRequirements())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !response.IsValid {
		t.Errorf("expected valid response")
	}
	if calls != 1 {
		t.Errorf("expected the overridden client to be used once, got %d calls", calls)
	}
}
