package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/wolfman30/clinic-automation/cmd/mainconfig"
	"github.com/wolfman30/clinic-automation/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-automation/internal/config"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

func main() {
	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.Info("starting clinic automation API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"store", cfg.StoreBackend,
		"timezone", cfg.Clinic.Timezone,
	)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	app, err := bootstrap.Build(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to build application", "error", err)
		os.Exit(1)
	}
	app.Start(ctx)

	srv := newServer(cfg.Port, app.Handler, cfg.WebhookBudget)

	// Start server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error("server error", "error", err)
	}

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	app.Close(shutdownCtx)

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// newServer sizes the write timeout to the webhook budget so a slow model
// call is cut by the pipeline rather than by the connection.
func newServer(port string, handler http.Handler, budget time.Duration) *http.Server {
	writeTimeout := 15 * time.Second
	if budget+5*time.Second > writeTimeout {
		writeTimeout = budget + 5*time.Second
	}
	return &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
}
