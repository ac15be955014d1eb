// Command volumebot is the entry point for the paired-order volume bot. It
// loads configuration, validates it, wires dependencies, sets up signal
// handling, and trades until the volume target is reached.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/volumebot/internal/app"
	"github.com/alanyoungcy/volumebot/internal/config"
	"github.com/alanyoungcy/volumebot/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file (optional)")
	envFiles := flag.String("env", strings.Join(config.DefaultEnvFiles, ","), "comma-separated dotenv files to load")
	encryptOut := flag.String("encrypt-secret", "", "encrypt the configured API secret with the secret password, write it to this path and exit")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load(*configPath, splitList(*envFiles)...)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	if *encryptOut != "" {
		if err := encryptSecret(cfg, *encryptOut); err != nil {
			logger.Error("failed to encrypt secret", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("encrypted secret written", slog.String("path", *encryptOut))
		return
	}

	// Set log level from config.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("volume bot starting",
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	// Create the application.
	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run the application.
	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			application.Close()
			os.Exit(1)
		}
	}

	logger.Info("volume bot stopped")
}

func encryptSecret(cfg *config.Config, path string) error {
	if cfg.Venue.SecretPassword == "" {
		return errors.New("venue.secret_password (or VOLBOT_VENUE_SECRET_PASSWORD) must be set")
	}
	blob, err := crypto.EncryptSecret(cfg.Venue.APISecret, cfg.Venue.SecretPassword)
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
