// Package config loads the server configuration from the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/raid-guild/x402-demo-server-go/types"
)

const (
	// MaxTokenDecimals is the largest ERC-20 decimals value (uint8).
	MaxTokenDecimals = 255

	// MaxTimeoutSeconds caps MAX_TIMEOUT_SECONDS at one hour.
	MaxTimeoutSeconds = 3600
)

// RequiredVars lists the environment variables that must be set, in report order.
var RequiredVars = []string{
	"PAYMENT_ADDRESS",
	"TOKEN_ADDRESS",
	"TOKEN_DECIMALS",
	"TOKEN_SYMBOL",
	"TOKEN_NAME",
	"TOKEN_VERSION",
	"PAYMENT_AMOUNT",
	"NETWORK",
	"NETWORK_NAME",
	"AUTHORIZATION_TYPE",
	"MAX_TIMEOUT_SECONDS",
	"FACILITATOR_URL",
}

// ErrFacilitatorContractRequired is returned when the permit scheme is selected
// without a facilitator contract.
var ErrFacilitatorContractRequired = errors.New("FACILITATOR_CONTRACT is required when AUTHORIZATION_TYPE is 'permit'")

// MissingError lists every required variable that was not set.
type MissingError struct {
	Names []string
}

func (e *MissingError) Error() string {
	return "missing required environment variables: " + strings.Join(e.Names, ", ")
}

// InvalidError reports a variable whose value could not be used.
type InvalidError struct {
	Name   string
	Value  string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Name, e.Value, e.Reason)
}

// Config holds all server configuration.
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"
	PublicDir   string

	// Optional integrations
	DatabaseURL       string
	FacilitatorAPIKey string

	Payment PaymentConfig
}

// PaymentConfig is the payment policy for the protected route.
// It is populated once by Load and never mutated afterwards.
type PaymentConfig struct {
	PaymentAddress      string
	TokenAddress        string
	TokenDecimals       int
	TokenSymbol         string
	TokenName           string
	TokenVersion        string
	PaymentAmount       string // smallest unit, kept as a string
	Network             string
	NetworkName         string
	AuthorizationType   types.AuthorizationType
	MaxTimeoutSeconds   int
	FacilitatorContract string // only required for permit
	FacilitatorURL      string
}

// LoadDotEnv loads variables from the given .env file without overriding
// variables already present in the environment. A missing file is ignored.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from the environment.
// Returns *MissingError naming every absent required variable,
// ErrFacilitatorContractRequired, or joined *InvalidError values.
func Load() (*Config, error) {
	var missing []string
	for _, name := range RequiredVars {
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingError{Names: missing}
	}

	authType := types.AuthorizationType(os.Getenv("AUTHORIZATION_TYPE"))
	contract := os.Getenv("FACILITATOR_CONTRACT")
	if authType == types.AuthorizationTypePermit && contract == "" {
		return nil, ErrFacilitatorContractRequired
	}

	decimals, decErr := parseInt("TOKEN_DECIMALS", 0, MaxTokenDecimals)
	timeout, timeoutErr := parseInt("MAX_TIMEOUT_SECONDS", 1, MaxTimeoutSeconds)
	if err := errors.Join(decErr, timeoutErr); err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:              envOrDefault("PORT", "3000"),
		Environment:       envOrDefault("ENVIRONMENT", "development"),
		LogLevel:          envOrDefault("LOG_LEVEL", "info"),
		PublicDir:         envOrDefault("PUBLIC_DIR", "public"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		FacilitatorAPIKey: os.Getenv("FACILITATOR_API_KEY"),
		Payment: PaymentConfig{
			PaymentAddress:      os.Getenv("PAYMENT_ADDRESS"),
			TokenAddress:        os.Getenv("TOKEN_ADDRESS"),
			TokenDecimals:       decimals,
			TokenSymbol:         os.Getenv("TOKEN_SYMBOL"),
			TokenName:           os.Getenv("TOKEN_NAME"),
			TokenVersion:        os.Getenv("TOKEN_VERSION"),
			PaymentAmount:       os.Getenv("PAYMENT_AMOUNT"),
			Network:             os.Getenv("NETWORK"),
			NetworkName:         os.Getenv("NETWORK_NAME"),
			AuthorizationType:   authType,
			MaxTimeoutSeconds:   timeout,
			FacilitatorContract: contract,
			FacilitatorURL:      os.Getenv("FACILITATOR_URL"),
		},
	}

	return cfg, nil
}

// PaymentRequirements builds the x402 requirements template for the protected route.
// Resource is left empty; the gate fills it per request.
func (c *Config) PaymentRequirements() types.PaymentRequirements {
	p := c.Payment
	return types.PaymentRequirements{
		Scheme:            types.SchemeExact,
		Network:           types.Network(p.Network),
		MaxAmountRequired: p.PaymentAmount,
		Description:       fmt.Sprintf("Test access - %s %s", p.PaymentAmount, p.TokenSymbol),
		MimeType:          "application/json",
		PayTo:             p.PaymentAddress,
		MaxTimeoutSeconds: int64(p.MaxTimeoutSeconds),
		Asset:             p.TokenAddress,
		Extra: types.Extra{
			Name:                p.TokenName,
			Version:             p.TokenVersion,
			Decimals:            p.TokenDecimals,
			Symbol:              p.TokenSymbol,
			AuthorizationType:   p.AuthorizationType,
			FacilitatorContract: p.FacilitatorContract,
		},
	}
}

// parseInt parses the named variable as a base 10 integer in [min, max].
func parseInt(name string, min, max int) (int, error) {
	raw := os.Getenv(name)
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &InvalidError{Name: name, Value: raw, Reason: "not an integer"}
	}
	if n < min {
		return 0, &InvalidError{Name: name, Value: raw, Reason: fmt.Sprintf("must be at least %d", min)}
	}
	if n > max {
		return 0, &InvalidError{Name: name, Value: raw, Reason: fmt.Sprintf("must be at most %d", max)}
	}
	return n, nil
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
