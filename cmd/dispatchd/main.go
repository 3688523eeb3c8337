// Command dispatchd is the Dispatch server daemon. It wires the SQLite
// store, the task lifecycle manager, the event bus, and the HTTP API, and
// runs until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/opsdeck/dispatch/config"
	"github.com/opsdeck/dispatch/events"
	"github.com/opsdeck/dispatch/internal/version"
	"github.com/opsdeck/dispatch/server"
	"github.com/opsdeck/dispatch/store"
	"github.com/opsdeck/dispatch/task"
)

var (
	configPath = flag.String("config", "dispatch.yaml", "path to config file")
	addr       = flag.String("addr", "", "listen address override")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.DefaultConfig()
	} else if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configPath, err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	logger.Info("starting dispatchd",
		"version", version.Version,
		"commit", version.Commit,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data dir %s: %v", cfg.DataDir, err)
	}
	db, err := store.Open(filepath.Join(cfg.DataDir, "dispatch.db"))
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer db.Close()

	bus := events.NewInMemoryBus()

	manager := task.NewManager(db.Tasks(), db.Agents(), logger)
	manager.SetActivityLog(db.Activity())
	manager.SetBus(bus)
	manager.SetXPAward(cfg.XPPerTask)

	srv := server.New(*cfg, version.Version, logger)
	srv.SetManager(manager)
	srv.SetQueries(task.NewQueryService(db.Tasks()))
	srv.SetAgentStore(db.Agents())
	srv.SetActivityLog(db.Activity())
	srv.SetBus(bus)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		log.Fatalf("Server error: %v", err)
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Error("server stop error", "error", err)
	}
	logger.Info("shutdown complete")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
