// x402 demo server - gates POST /test behind an x402 payment.
// Verification and settlement are delegated to a remote facilitator.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	handler "github.com/raid-guild/x402-demo-server-go/api"
	"github.com/raid-guild/x402-demo-server-go/config"
	"github.com/raid-guild/x402-demo-server-go/facilitator"
	"github.com/raid-guild/x402-demo-server-go/gate"
	"github.com/raid-guild/x402-demo-server-go/middleware"
	"github.com/raid-guild/x402-demo-server-go/store"
)

// envFile is the optional dotenv file read before the environment.
var envFile string

var rootCmd = &cobra.Command{
	Use:   "x402-demo-server",
	Short: "x402 demo server with a payment gated test endpoint",
	Long: `x402-demo-server serves a health check, a public info endpoint and
POST /test, which only answers once an x402 payment has been verified and
settled by the configured facilitator.

Configuration is read from the environment, optionally seeded from a .env file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file (ignored if missing)")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Load configuration
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logger
	logger := initLogger(os.Stdout, cfg.LogLevel, cfg.Environment)
	slog.SetDefault(logger)
	logConfig(logger, cfg)

	gateOpts := []gate.Option{gate.WithLogger(logger)}

	// Open the settlement ledger if configured
	if cfg.DatabaseURL != "" {
		ledger, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("opening settlement ledger: %w", err)
		}
		defer ledger.Close()

		if err := ledger.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("preparing settlement ledger: %w", err)
		}
		gateOpts = append(gateOpts, gate.WithRecorder(ledger))
		logger.Info("settlement ledger enabled")
	}

	// Create the facilitator client and the payment gate
	client := facilitator.New(cfg.Payment.FacilitatorURL,
		facilitator.WithAuthHeaders(facilitator.StaticAPIKey(cfg.FacilitatorAPIKey)),
	)
	paymentGate := gate.New(client, cfg.PaymentRequirements(), gateOpts...)

	// Setup routes
	h := handler.New(cfg, paymentGate, logger)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Apply middleware chain: request id → logging → recovery → handler
	// Recovery sits inside logging so recovered panics are logged with their 500
	httpHandler := middleware.Chain(
		middleware.RequestID(),
		middleware.Logging(logger),
		middleware.Recovery(logger),
	)(mux)

	// Create HTTP server with timeouts
	// WriteTimeout must outlast a verify and a settle call
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2*time.Duration(cfg.Payment.MaxTimeoutSeconds)*time.Second + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Channel for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Channel for server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("url", "http://localhost:"+cfg.Port),
		)
		serverErr <- server.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Force close if graceful shutdown fails
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format, development uses text format for readability.
func initLogger(w io.Writer, logLevel, environment string) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location in debug mode
		AddSource: level == slog.LevelDebug,
	}

	if environment == "production" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// logConfig logs the payment policy the server will enforce.
func logConfig(logger *slog.Logger, cfg *config.Config) {
	p := cfg.Payment

	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Group("network",
			slog.String("id", p.Network),
			slog.String("name", p.NetworkName),
		),
		slog.Group("token",
			slog.String("name", p.TokenName),
			slog.String("symbol", p.TokenSymbol),
			slog.String("address", p.TokenAddress),
			slog.Int("decimals", p.TokenDecimals),
		),
		slog.Group("payment",
			slog.String("address", p.PaymentAddress),
			slog.String("amount", p.PaymentAmount),
			slog.String("authorization_type", string(p.AuthorizationType)),
			slog.String("facilitator_contract", p.FacilitatorContract),
			slog.Int("timeout_seconds", p.MaxTimeoutSeconds),
		),
		slog.String("facilitator_url", p.FacilitatorURL),
	)
}

// printError writes a startup failure to w. Configuration errors list every
// offending variable on its own line.
func printError(w io.Writer, err error) {
	var missing *config.MissingError
	switch {
	case errors.As(err, &missing):
		fmt.Fprintln(w, "ERROR: Missing required environment variables:")
		for _, name := range missing.Names {
			fmt.Fprintf(w, "  - %s\n", name)
		}
		fmt.Fprintln(w, "\nPlease set all required variables in your .env file")
		fmt.Fprintln(w, "See .env.example for reference")

	case errors.Is(err, config.ErrFacilitatorContractRequired):
		fmt.Fprintf(w, "ERROR: %v\n", err)
		fmt.Fprintln(w, "Please set FACILITATOR_CONTRACT in your .env file")

	default:
		invalid := invalidErrors(err)
		if len(invalid) == 0 {
			fmt.Fprintf(w, "error: %v\n", err)
			return
		}
		fmt.Fprintln(w, "ERROR: Invalid environment variables:")
		for _, e := range invalid {
			fmt.Fprintf(w, "  - %s: %s (got %q)\n", e.Name, e.Reason, e.Value)
		}
	}
}

// invalidErrors collects every *config.InvalidError in err's tree.
func invalidErrors(err error) []*config.InvalidError {
	switch e := err.(type) {
	case nil:
		return nil
	case *config.InvalidError:
		return []*config.InvalidError{e}
	case interface{ Unwrap() []error }:
		var out []*config.InvalidError
		for _, inner := range e.Unwrap() {
			out = append(out, invalidErrors(inner)...)
		}
		return out
	case interface{ Unwrap() error }:
		return invalidErrors(e.Unwrap())
	}
	return nil
}
