package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raterudder/solarkbridge/pkg/log"
	"github.com/raterudder/solarkbridge/pkg/metrics"
	"github.com/raterudder/solarkbridge/pkg/solark"
	"github.com/raterudder/solarkbridge/pkg/storage"
	"github.com/raterudder/solarkbridge/pkg/types"
)

// Bridge is the part of *bridge.Bridge the HTTP API serves.
type Bridge interface {
	PlantID() string
	Metrics() (types.Metrics, time.Time)
	Settings() types.SettingsSnapshot
	LastError() error
	Degraded() bool
	AllowWriteAccess() bool
	WriteSettings(ctx context.Context, updates types.InverterSettings) (string, error)
	WriteSlot(ctx context.Context, u solark.SlotUpdate) (string, error)
	Configure(ctx context.Context, params map[string]any) (types.InverterSettings, error)
}

// tokenVerifier validates an OIDC ID token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// Server exposes the bridge state and write operations over HTTP.
type Server struct {
	bridge   Bridge
	storage  storage.Database
	registry *prometheus.Registry

	listenAddr string
	httpServer *http.Server

	verifier   tokenVerifier
	serverName string
}

// New creates a Server without write authentication listening on listenAddr.
func New(b Bridge, db storage.Database, listenAddr string) *Server {
	s := &Server{
		bridge:     b,
		storage:    db,
		listenAddr: listenAddr,
		serverName: "solarkbridge",
	}
	s.initRegistry()
	return s
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(b Bridge, db storage.Database) *Server {
	srv := &Server{
		bridge:     b,
		storage:    db,
		serverName: "solarkbridge",
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	oidcAudience := lflag.String("oidc-audience", "", "Audience of the ID tokens allowed to write settings. Empty disables authentication")
	oidcIssuer := lflag.String("oidc-issuer", "https://accounts.google.com", "Issuer of the ID tokens allowed to write settings")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.initRegistry()
		if *oidcAudience == "" {
			return
		}
		provider, err := oidc.NewProvider(context.Background(), *oidcIssuer)
		if err != nil {
			log.Ctx(context.Background()).Error("failed to initialize OIDC provider", slog.String("issuer", *oidcIssuer), slog.Any("error", err))
			os.Exit(1)
		}
		srv.verifier = provider.Verifier(&oidc.Config{ClientID: *oidcAudience}).Verify
	})

	return srv
}

func (s *Server) initRegistry() {
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		metrics.NewCollector(s.bridge),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/metrics", s.handleGetMetrics)
	apiMux.HandleFunc("GET /api/settings", s.handleGetSettings)
	apiMux.HandleFunc("GET /api/energy/history", s.handleEnergyHistory)
	apiMux.Handle("POST /api/settings", s.authMiddleware(http.HandlerFunc(s.handleUpdateSettings)))
	apiMux.Handle("POST /api/slot", s.authMiddleware(http.HandlerFunc(s.handleUpdateSlot)))
	apiMux.Handle("POST /api/configure", s.authMiddleware(http.HandlerFunc(s.handleConfigure)))

	mux := http.NewServeMux()
	mux.Handle("/api/", s.logMiddleware(apiMux))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
