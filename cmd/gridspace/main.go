package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"gridspace/internal/app"
	"gridspace/internal/config"
)

const shutdownTimeout = 30 * time.Second

// Main entry point; graceful shutdown on SIGINT/SIGTERM
func main() {
	// A missing .env is normal outside development
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Getenv("GRIDSPACE_CONFIG_FILE")); err != nil {
		log.Fatal().Str("module", "main").Err(err).Msg("gridspace exited")
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
// It blocks until ctx is cancelled, then shuts down within shutdownTimeout
func run(ctx context.Context, configPath string) error {
	// STEP 1: Load configuration with precedence (file > env > defaults)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := app.ConfigureLogger(cfg.Log); err != nil {
		return err
	}

	// STEP 2: Create application with configuration
	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// STEP 3: Start serving
	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("application error: %w", err)
	}

	// STEP 4: Wait for a shutdown signal
	<-ctx.Done()
	log.Info().Str("module", "main").Msg("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
