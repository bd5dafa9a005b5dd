package app

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"recording-relay/internal/common/logging"
	"recording-relay/internal/config"
)

// Run is the main entry point for the application
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	var once bool
	flag.BoolVar(&once, "once", false, "Run a single poll cycle, relay what was staged and exit")
	flag.Parse()

	// Initialize logging
	logging.InitGlobalLogger()
	defer logging.MustSync()

	logging.Info("Starting recording relay", logging.Bool("once", once))

	// Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	if once {
		result, err := app.RunOnce(ctx)
		if err != nil {
			logging.Error("Poll cycle failed", err)
			return err
		}
		logging.Info("Poll cycle completed",
			logging.String("cycle_id", result.CycleID),
			logging.Int("items", result.Items),
		)
		return nil
	}

	srv, _ := app.RunServer()
	if srv != nil {
		if err := srv.Start(); err != nil {
			logging.Error("Server failed to start", err)
			return err
		}
	}

	if err := app.Start(ctx); err != nil {
		logging.Error("Failed to start application", err)
		return err
	}

	// Wait for interrupt signal
	<-ctx.Done()
	logging.Info("Shutting down...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn("Status API forced to shutdown", logging.Err(err))
		}
	}

	if err := app.Shutdown(shutdownCtx); err != nil {
		logging.Error("Error during shutdown", err)
		return err
	}

	logging.Info("Recording relay exited")
	return nil
}
