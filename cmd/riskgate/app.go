// ABOUTME: HTTP service for RiskGate: validation API, Prometheus metrics and health checks.
// ABOUTME: Restores the latest verdicts from the store on startup and shuts down gracefully.

package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jfeddern/RiskGate/internal/engine"
	"github.com/jfeddern/RiskGate/internal/metrics"
	"github.com/jfeddern/RiskGate/internal/providers"
	"github.com/jfeddern/RiskGate/internal/server"

	"github.com/sirupsen/logrus"
)

// pinger is implemented by stores backed by a remote database
type pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	config   *engine.Config
	logger   *logrus.Logger
	runtime  *providers.Runtime
	recorder *metrics.Recorder
}

func NewApp(ctx context.Context, config *engine.Config, logger *logrus.Logger) (*App, error) {
	logger.WithFields(logrus.Fields{
		"mode":          config.Mode,
		"port":          config.Port,
		"policy_source": config.PolicySource,
		"mock":          config.MockMode,
	}).Info("Initializing RiskGate")

	recorder := metrics.NewRecorder()
	runtime, err := providers.CreateRuntime(ctx, config, recorder, logger)
	if err != nil {
		return nil, err
	}

	// Verdicts survive restarts through the store, the in-memory view does not
	if err := runtime.Engine.Restore(ctx, runtime.Backend.Store); err != nil {
		logger.WithError(err).Warn("Starting without validation history")
	}

	return &App{
		config:   config,
		logger:   logger,
		runtime:  runtime,
		recorder: recorder,
	}, nil
}

func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", a.securityMiddleware(metrics.CreateMetricsHandler(a.runtime.Engine, a.recorder, a.logger)))
	mux.HandleFunc("/health", a.securityMiddleware(a.healthHandler))
	server.NewValidationsHandler(a.runtime.Engine, a.logger).Register(mux, a.securityMiddleware)
	return mux
}

func (a *App) Start(ctx context.Context) error {
	defer a.Close()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           a.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		<-ctx.Done()
		a.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.WithError(err).Warn("HTTP server shutdown incomplete")
		}
	}()

	a.logger.WithFields(logrus.Fields{
		"port": a.config.Port,
		"mode": a.config.Mode,
	}).Info("Starting HTTP server")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close flushes file-backed data and releases the runtime
func (a *App) Close() {
	if err := a.runtime.Backend.Persist(); err != nil {
		a.logger.WithError(err).Error("Failed to persist data on shutdown")
	}
	a.runtime.Close()
}

func (a *App) securityMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Security headers
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; script-src 'none'; object-src 'none'; frame-ancestors 'none'")

		// POST is needed for validations and lifecycle actions
		if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// Log the request
		a.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"remote_ip":  r.RemoteAddr,
			"user_agent": r.UserAgent(),
		}).Debug("HTTP request received")

		next(w, r)
	}
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if a.runtime != nil {
		if p, ok := a.runtime.Backend.Store.(pinger); ok {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				a.logger.WithError(err).Warn("Health check failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintf(w, `{"status":"unavailable"}`)
				return
			}
		}
	}

	fmt.Fprintf(w, `{"status":"ok"}`)
}
