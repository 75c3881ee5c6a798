// Package gate implements the x402 payment gate for protected routes.
//
// The gate does not verify signatures or touch the chain. It advertises the
// configured payment requirements, forwards the client's X-PAYMENT payload to
// a Facilitator for verification, runs the protected handler, and settles the
// payment before releasing the handler's response.
package gate

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/raid-guild/x402-demo-server-go/store"
	"github.com/raid-guild/x402-demo-server-go/types"
	"github.com/raid-guild/x402-demo-server-go/utils"
)

const (
	// PaymentHeader carries the base64 encoded payment payload.
	PaymentHeader = "X-PAYMENT"

	// PaymentResponseHeader carries the base64 encoded settle response.
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"

	// facilitatorUnavailable replaces transport and upstream errors in 402
	// bodies. The detail is logged only.
	facilitatorUnavailable = "facilitator unavailable"
)

// maxTimeoutSeconds is the largest timeout that fits in a time.Duration.
const maxTimeoutSeconds = int64(math.MaxInt64 / int64(time.Second))

// Facilitator verifies and settles payments on behalf of the server.
type Facilitator interface {
	Verify(ctx context.Context, p types.PaymentPayload, r types.PaymentRequirements) (types.VerifyResponse, error)
	Settle(ctx context.Context, p types.PaymentPayload, r types.PaymentRequirements) (types.SettleResponse, error)
}

// Recorder stores settled payments.
type Recorder interface {
	Record(ctx context.Context, s store.Settlement) error
}

// Gate guards handlers behind a payment.
// It is safe for concurrent use; its fields are never written after New.
type Gate struct {
	facilitator  Facilitator
	requirements types.PaymentRequirements
	recorder     Recorder
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithRecorder records every successful settlement.
func WithRecorder(r Recorder) Option {
	return func(g *Gate) {
		g.recorder = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// New creates a gate that demands the given requirements.
func New(f Facilitator, requirements types.PaymentRequirements, opts ...Option) *Gate {
	g := &Gate{
		facilitator:  f,
		requirements: requirements,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Requirements returns the requirements template.
func (g *Gate) Requirements() types.PaymentRequirements {
	return g.requirements
}

// Middleware wraps next so it only runs for requests carrying a payment
// the facilitator accepts. The response of next is held back until the
// payment is settled.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requirements := g.requirementsFor(r)

		// Check the payment header is present
		header := r.Header.Get(PaymentHeader)
		if header == "" {
			g.writePaymentRequired(w, requirements, "X-PAYMENT header is required", "")
			return
		}

		// Decode the payment header
		payload, err := decodePaymentHeader(header)
		if err != nil {
			g.logger.Debug("malformed payment header", slog.String("error", err.Error()))
			g.writePaymentRequired(w, requirements, "Invalid or malformed payment header", "")
			return
		}

		// Check the protocol version
		if payload.X402Version != types.X402Version1 {
			g.writePaymentRequired(w, requirements, "Unsupported x402 version", "")
			return
		}

		// Check the payment matches the advertised requirements
		if payload.Scheme != requirements.Scheme || payload.Network != requirements.Network {
			g.writePaymentRequired(w, requirements, "Unable to find matching payment requirements", "")
			return
		}

		// Verify the payment
		verifyCtx, cancel := g.timeoutContext(r.Context())
		verification, err := g.facilitator.Verify(verifyCtx, payload, requirements)
		cancel()
		if err != nil {
			g.logger.Warn("payment verification failed",
				slog.String("resource", requirements.Resource),
				slog.Int("status", utils.StatusOf(err)),
				slog.String("error", err.Error()),
			)
			g.writePaymentRequired(w, requirements, facilitatorUnavailable, "")
			return
		}
		if !verification.IsValid {
			g.logger.Info("payment rejected",
				slog.String("resource", requirements.Resource),
				slog.String("reason", string(verification.InvalidReason)),
				slog.String("payer", verification.Payer),
			)
			g.writePaymentRequired(w, requirements, string(verification.InvalidReason), verification.Payer)
			return
		}

		// Run the protected handler into a buffer
		buffered := newBufferedResponse()
		next.ServeHTTP(buffered, r)

		// Do not charge for failed requests
		if buffered.status >= http.StatusBadRequest {
			g.flush(w, buffered)
			return
		}

		// Settle the payment
		settleCtx, cancel := g.timeoutContext(r.Context())
		settlement, err := g.facilitator.Settle(settleCtx, payload, requirements)
		cancel()
		if err != nil {
			g.logger.Warn("payment settlement failed",
				slog.String("resource", requirements.Resource),
				slog.Int("status", utils.StatusOf(err)),
				slog.String("error", err.Error()),
			)
			g.writePaymentRequired(w, requirements, facilitatorUnavailable, verification.Payer)
			return
		}
		if !settlement.Success {
			g.logger.Warn("payment settlement rejected",
				slog.String("resource", requirements.Resource),
				slog.String("reason", string(settlement.ErrorReason)),
			)
			g.writePaymentRequired(w, requirements, string(settlement.ErrorReason), verification.Payer)
			return
		}

		payer := settlement.Payer
		if payer == "" {
			payer = verification.Payer
		}
		g.record(r.Context(), requirements, settlement, payer)

		// Attach the settle response and release the handler output
		encoded, err := encodePaymentResponse(settlement)
		if err != nil {
			g.logger.Error("failed to encode payment response", slog.String("error", err.Error()))
		} else {
			buffered.Header().Set(PaymentResponseHeader, encoded)
			buffered.Header().Set("Access-Control-Expose-Headers", PaymentResponseHeader)
		}
		g.flush(w, buffered)
	})
}

// flush releases the buffered response. Write errors are logged only.
func (g *Gate) flush(w http.ResponseWriter, buffered *bufferedResponse) {
	if err := buffered.flush(w); err != nil {
		// Header already written so we log the error
		g.logger.Error("failed to write response", slog.String("error", err.Error()))
	}
}

// requirementsFor copies the template and points it at the requested resource.
func (g *Gate) requirementsFor(r *http.Request) types.PaymentRequirements {
	requirements := g.requirements
	requirements.Resource = resourceURL(r)
	return requirements
}

// timeoutContext bounds a facilitator call by the advertised max timeout.
func (g *Gate) timeoutContext(parent context.Context) (context.Context, context.CancelFunc) {
	seconds := g.requirements.MaxTimeoutSeconds
	if seconds <= 0 || seconds > maxTimeoutSeconds {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, time.Duration(seconds)*time.Second)
}

// record stores the settlement if a recorder is configured. Failures are logged only.
func (g *Gate) record(ctx context.Context, requirements types.PaymentRequirements, settlement types.SettleResponse, payer string) {
	if g.recorder == nil {
		return
	}

	network := settlement.Network
	if network == "" {
		network = string(requirements.Network)
	}

	err := g.recorder.Record(context.WithoutCancel(ctx), store.Settlement{
		Transaction: settlement.Transaction,
		Network:     network,
		Payer:       payer,
		PayTo:       requirements.PayTo,
		Asset:       requirements.Asset,
		Amount:      requirements.MaxAmountRequired,
		Resource:    requirements.Resource,
		SettledAt:   g.now(),
	})
	if err != nil {
		g.logger.Error("failed to record settlement",
			slog.String("transaction", settlement.Transaction),
			slog.String("error", err.Error()),
		)
	}
}

// writePaymentRequired writes a 402 response advertising the requirements.
func (g *Gate) writePaymentRequired(w http.ResponseWriter, requirements types.PaymentRequirements, reason, payer string) {

	// Marshal the payment required response
	responseBytes, err := json.Marshal(types.PaymentRequiredResponse{
		X402Version: types.X402Version1,
		Error:       reason,
		Accepts:     []types.PaymentRequirements{requirements},
		Payer:       payer,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Set the content type and write the status code
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)

	// Write the response bytes to the response body
	if _, err := w.Write(responseBytes); err != nil {
		// Header already written so we log the error
		g.logger.Error("failed to write response", slog.String("error", err.Error()))
	}
}

// resourceURL rebuilds the absolute URL of the request.
func resourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.Path
}
