// Command argus watches web documents and notifies webhooks when
// keywords appear in or disappear from them.
//
// Usage:
//
//	argus -config argus.yaml
//	argus -listen :8080 -db /var/lib/argus/argus.db -mcp
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/argus/monitor"
)

func main() {
	configPath := flag.String("config", "", "path to a .yaml, .yml or .toml config file")
	listen := flag.String("listen", "", "HTTP listen address (default :8080)")
	dbPath := flag.String("db", "", "SQLite database path (default argus.db)")
	enableMCP := flag.Bool("mcp", false, "serve MCP tools on /mcp")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := &monitor.Config{}
	if *configPath != "" {
		var err error
		if cfg, err = monitor.LoadConfigFile(*configPath); err != nil {
			logger.Error("argus: fatal", "error", err)
			os.Exit(1)
		}
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *enableMCP {
		cfg.MCP.Enabled = true
	}

	if err := run(ctx, logger, *cfg); err != nil {
		logger.Error("argus: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg monitor.Config) error {
	svc, err := monitor.New(cfg, monitor.WithLogger(logger))
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	addr := cfg.Listen
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("argus: listening", "addr", addr, "mcp", cfg.MCP.Enabled)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("argus: shutdown", "error", err)
	}
	logger.Info("argus: stopped")
	return nil
}
