package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/e7canasta/pulse-bridge/internal/core"
)

const defaultConfigPath = "config/pulse-bridge.yaml"

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	setupLogger(*debug)
	slog.Info("starting pulse bridge",
		"config", *configPath,
		"debug", *debug,
	)

	os.Exit(run(*configPath))
}

// setupLogger installs the JSON handler as the process-wide default
func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
}

// run drives the service until a signal or a control-plane shutdown and
// returns the process exit code
func run(configPath string) int {
	// Device, parameter and config failures are fatal before anything starts
	service, err := core.NewService(configPath)
	if err != nil {
		slog.Error("failed to create pulse bridge service", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run returns when ctx is cancelled, on a shutdown command, or on a start failure
	runErr := service.Run(ctx)
	switch {
	case runErr != nil:
		slog.Error("service error", "error", runErr)
	case ctx.Err() != nil:
		slog.Info("received shutdown signal")
	default:
		slog.Info("service stopped (via MQTT shutdown command)")
	}
	stop()

	// Graceful shutdown, bounded by the configured budget
	timeout := service.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", timeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := service.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		return 1
	}
	if runErr != nil {
		return 1
	}

	slog.Info("pulse bridge stopped successfully")
	return 0
}
