// Command geolocd serves the device location over HTTP and websocket.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaunagostinho/geolocator"
	"github.com/shaunagostinho/geolocator/internal/server"
	"github.com/shaunagostinho/geolocator/web"
)

func main() {
	configPath := flag.String("config", "/etc/geolocd/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run with a simulated location source")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	once := flag.Bool("once", false, "Print the current position as JSON and exit")
	flag.Parse()

	cfg := geolocator.LoadConfig(*configPath)
	if *demo {
		cfg.Source.Type = geolocator.SourceDemo
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	logger.Info("geolocd starting", "source", cfg.Source.Type)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := waitForAccess(ctx, cfg, logger, 10); err != nil {
		logger.Error("location access not available", "error", err)
		os.Exit(1)
	}

	geo, err := geolocator.New(geolocator.WithConfig(cfg), geolocator.WithLogger(logger))
	if err != nil {
		logger.Error("location source failed", "error", err)
		os.Exit(1)
	}
	defer geo.Close()

	if *once {
		if err := printPosition(ctx, geo); err != nil {
			logger.Error("position request failed", "error", err)
			geo.Close()
			os.Exit(1)
		}
		return
	}

	srv := server.New(cfg, geo, server.Options{WebFS: web.FS, Logger: logger})
	if err := srv.Run(ctx); err != nil {
		logger.Error("server exited", "error", err)
	}
}

func printPosition(ctx context.Context, geo *geolocator.Geolocator) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	c, err := geo.CurrentPosition(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

// waitForAccess requests location permission with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval until ctx is done.
func waitForAccess(ctx context.Context, cfg *geolocator.Config, logger *slog.Logger, maxAttempts int) error {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		err := geolocator.RequestAccess(ctx, geolocator.WithConfig(cfg), geolocator.WithLogger(logger))
		if err == nil {
			logger.Info("location access granted", "attempt", attempt+1)
			return nil
		}
		attempt++
		if attempt <= maxAttempts {
			logger.Warn("access request failed", "attempt", attempt, "max", maxAttempts, "error", err, "retry_in", delay)
		} else {
			logger.Warn("access request failed", "attempt", attempt, "error", err, "retry_in", delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
