package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/raid-guild/x402-demo-server-go/config"
)

// timestampLayout matches JavaScript's Date.toISOString.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// PaymentGate wraps a handler so it only runs after payment.
type PaymentGate interface {
	Middleware(next http.Handler) http.Handler
}

// Handler serves the demo routes from a loaded configuration.
type Handler struct {
	cfg    *config.Config
	gate   PaymentGate
	logger *slog.Logger
	now    func() time.Time
}

// New creates a handler. cfg is shared read-only across requests.
func New(cfg *config.Config, gate PaymentGate, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:    cfg,
		gate:   gate,
		logger: logger,
		now:    time.Now,
	}
}

// route binds one method and path to a handler.
type route struct {
	method  string
	path    string
	handler http.Handler
}

// guard rejects every method of path not in allowed.
type guard struct {
	path    string
	allowed []string
}

// RegisterRoutes registers every route on mux.
//
// Method specific patterns are registered alongside a catch-all pattern per
// path. ServeMux prefers the method pattern, so the guard only fires when no
// allowed method matched. Each path also answers with a single trailing slash.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	routes := []route{
		{method: http.MethodGet, path: "/public", handler: http.HandlerFunc(h.Public)},
		{method: http.MethodGet, path: "/health", handler: http.HandlerFunc(h.Health)},
		{method: http.MethodPost, path: "/test", handler: h.gate.Middleware(http.HandlerFunc(h.Test))},
	}
	guards := []guard{
		{path: "/public", allowed: []string{http.MethodGet}},
		{path: "/health", allowed: []string{http.MethodGet}},
		{path: "/test", allowed: []string{http.MethodPost}},
	}

	for _, rt := range routes {
		mux.Handle(rt.method+" "+rt.path, rt.handler)
		mux.Handle(rt.method+" "+rt.path+"/{$}", rt.handler)
	}
	for _, g := range guards {
		guard := MethodGuard(g.path, g.allowed...)
		mux.Handle(g.path, guard)
		mux.Handle(g.path+"/{$}", guard)
	}

	mux.HandleFunc("/favicon.ico", Favicon)
	mux.Handle("/", Static(h.cfg.PublicDir))
}

// writeJSON writes v as a JSON response with the given status.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {

	// Marshal the response to JSON bytes
	responseBytes, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Set the content type and write the status code
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	// Write the response bytes to the response body
	if _, err := w.Write(responseBytes); err != nil {
		// Header already written so we log the error
		h.logger.Error("failed to write response", slog.String("error", err.Error()))
	}
}

func (h *Handler) timestamp() string {
	return h.now().UTC().Format(timestampLayout)
}
