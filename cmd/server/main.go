package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lychee-technology/orcall"
	"github.com/lychee-technology/orcall/factory"
	"go.uber.org/zap"
)

// Server exposes a dispatcher over HTTP.
type Server struct {
	dispatcher orcall.Dispatcher
	mux        *http.ServeMux
}

// NewServer creates a new Server instance
func NewServer(d orcall.Dispatcher) *Server {
	return &Server{
		dispatcher: d,
		mux:        http.NewServeMux(),
	}
}

// RegisterRoutes registers all API routes
func (s *Server) RegisterRoutes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/v1/catalogue", s.handleCatalogue)
	s.mux.HandleFunc("/api/v1/", s.apiHandler)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func main() {
	cfg := factory.ConfigFromEnv()
	logger, err := factory.NewLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := factory.NewDispatcher(ctx, cfg)
	if err != nil {
		sugar.Fatalf("failed to create dispatcher: %v", err)
	}
	defer d.Close(context.Background())

	server := NewServer(d)
	server.RegisterRoutes()

	port := getEnv("PORT", "8080")
	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			sugar.Warnw("server shutdown failed", "error", err)
		}
	}()

	sugar.Infow("starting server", "port", port, "image", cfg.Session.Image, "backend", string(cfg.Session.Backend))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		sugar.Fatalf("server error: %v", err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
