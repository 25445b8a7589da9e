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
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AltairaLabs/compute-sessions/internal/compute/local"
	"github.com/AltairaLabs/compute-sessions/internal/compute/remote"
	"github.com/AltairaLabs/compute-sessions/internal/coordinator"
	"github.com/AltairaLabs/compute-sessions/internal/coordinator/config"
	"github.com/AltairaLabs/compute-sessions/internal/httpapi"
	"github.com/AltairaLabs/compute-sessions/internal/output"
	"github.com/AltairaLabs/compute-sessions/internal/storage/memory"
	"github.com/AltairaLabs/compute-sessions/internal/storage/redisstore"
	"github.com/AltairaLabs/compute-sessions/internal/storage/sqlstore"
)

const (
	appVersion      = "0.1.0"
	shutdownTimeout = 10 * time.Second
)

var (
	version    = flag.Bool("version", false, "Print version and exit")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	configPath = flag.String("config", "", "Path to a YAML configuration file")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("Compute Sessions Coordinator v%s\n", appVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg.ApplyEnv()
	if *debug {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Coordinator failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Coordinator shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("Starting Compute Sessions Coordinator",
		"version", appVersion,
		"http", cfg.HTTP.Address(),
		"store", cfg.Store.Driver,
		"backend", cfg.Compute.Backend,
		"mcp", cfg.MCP.Transport,
	)

	store, closeStore, err := newStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	backend, closeBackend, err := newBackend(cfg.Compute, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	orch := coordinator.NewOrchestrator(store, backend, coordinator.Options{
		Output:           output.Config{FlushSize: cfg.Output.FlushSize, FlushInterval: cfg.Output.FlushInterval},
		SubscriberBuffer: cfg.Broadcast.SubscriberBuffer,
		DispatchTimeout:  cfg.Compute.DispatchTimeout,
		SignalTimeout:    cfg.Compute.SignalTimeout,
		ReadyTimeout:     cfg.Watchdog.ReadyTimeout,
		Logger:           logger,
	})

	// Sessions left over from a previous run have no live process we can trust
	if err := orch.CleanupAll(ctx); err != nil {
		return fmt.Errorf("failed to clean up sessions: %w", err)
	}

	watchdog, err := coordinator.NewWatchdog(orch, cfg.Watchdog.Schedule)
	if err != nil {
		return err
	}
	if watchdog != nil {
		watchdog.Start()
		defer watchdog.Stop()
		logger.Info("Ready watchdog enabled", "schedule", cfg.Watchdog.Schedule, "timeout", cfg.Watchdog.ReadyTimeout)
	}

	g, gctx := errgroup.WithContext(ctx)

	httpServer := httpapi.NewServer(httpapi.ServerConfig{Address: cfg.HTTP.Address(), Logger: logger}, orch)
	g.Go(func() error {
		logger.Info("Starting HTTP server", "address", cfg.HTTP.Address())
		return httpServer.Run()
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(sctx)
	})

	if cfg.MCP.Transport != config.MCPDisabled {
		mcpServer := coordinator.NewMCPServer(coordinator.Config{
			Name:    "compute-sessions-coordinator",
			Version: appVersion,
		}, orch, coordinator.NewAuditLogger(logger))
		startMCP(gctx, g, cfg.MCP, mcpServer, logger)
	}

	err = g.Wait()
	logger.Info("Shutting down gracefully")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := orch.Shutdown(sctx); shutdownErr != nil {
		logger.Warn("Session teardown incomplete", "error", shutdownErr)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func startMCP(ctx context.Context, g *errgroup.Group, cfg config.MCPConfig, mcpServer *coordinator.MCPServer, logger *slog.Logger) {
	switch cfg.Transport {
	case config.MCPStdio:
		// stdio ends when the client closes stdin; that alone does not stop the daemon
		go func() {
			if err := mcpServer.ServeStdio(logger); err != nil {
				logger.Error("MCP server error", "error", err)
			}
		}()

	case config.MCPSSE:
		sse := mcpServer.NewSSEServer(cfg.Address)
		g.Go(func() error {
			logger.Info("Starting MCP server with HTTP/SSE transport", "address", cfg.Address)
			return sse.Start(cfg.Address)
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return sse.Shutdown(sctx)
		})
	}
}

// newStore opens the configured session store. The returned func releases it.
func newStore(ctx context.Context, cfg config.StoreConfig) (coordinator.SessionStore, func(), error) {
	switch cfg.Driver {
	case config.StoreMemory:
		return memory.NewInMemorySessionStore(), func() {}, nil

	case config.StoreMySQL, config.StoreSQLite:
		db, err := sqlstore.Open(cfg)
		if err != nil {
			return nil, nil, err
		}
		store, err := sqlstore.New(db)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return store, closeFn, nil

	case config.StoreRedis, config.StoreMiniredis:
		client, closeFn, err := redisstore.NewClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return redisstore.New(client, cfg.KeyPrefix), closeFn, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver: %q", cfg.Driver)
	}
}

// newBackend creates the configured compute backend. The returned func stops it.
func newBackend(cfg config.ComputeConfig, logger *slog.Logger) (coordinator.ComputeBackend, func(), error) {
	switch cfg.Backend {
	case config.BackendLocal:
		command := append([]string{}, cfg.KernelCommand...)
		if cfg.Language != "" {
			command = append(command, "-language", cfg.Language)
		}
		b := local.New(local.Config{Command: command, WorkDir: cfg.WorkDir, Logger: logger})
		return b, b.Close, nil

	case config.BackendRemote:
		b, err := remote.Dial(cfg.WorkerAddress, logger)
		if err != nil {
			return nil, nil, err
		}
		return b, func() { _ = b.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown compute backend: %q", cfg.Backend)
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
