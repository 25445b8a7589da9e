// Command kernel is the compute process behind one session. It reads cell
// batches on stdin and writes frames on stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AltairaLabs/compute-sessions/internal/kernel"
	"github.com/AltairaLabs/compute-sessions/internal/kernel/language"
	"github.com/AltairaLabs/compute-sessions/internal/kernel/language/mock"
	"github.com/AltairaLabs/compute-sessions/internal/kernel/language/python"
	"github.com/AltairaLabs/compute-sessions/internal/kernel/language/sh"
)

const cleanupTimeout = 5 * time.Second

var (
	lang    = flag.String("language", "sh", "Language the kernel evaluates")
	debug   = flag.Bool("debug", false, "Enable debug logging")
	version = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Println("Compute Sessions Kernel v0.1.0")
		os.Exit(0)
	}

	// stdout carries frames, so logs go to stderr
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With("session_id", os.Getenv("COMPUTE_SESSION_ID"), "language", *lang)

	if err := run(logger); err != nil {
		logger.Error("Kernel failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	provider, err := newRegistry().CreateProvider(*lang)
	if err != nil {
		return err
	}

	// SIGINT interrupts the running cell; SIGTERM ends the kernel
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	if err := provider.Initialize(ctx, language.InitConfig{WorkspacePath: wd}); err != nil {
		return fmt.Errorf("failed to initialize %s: %w", provider.Name(), err)
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := provider.Cleanup(cctx); err != nil {
			logger.Warn("Provider cleanup failed", "error", err)
		}
	}()

	logger.Info("Kernel ready")
	return kernel.New(provider, os.Stdin, os.Stdout, logger).Serve(ctx, interrupts)
}

func newRegistry() *language.Registry {
	r := language.NewRegistry()
	r.Register("sh", func() language.Provider { return sh.NewProvider() })
	r.Register("python", func() language.Provider { return python.NewProvider() })
	r.Register("mock", func() language.Provider { return mock.NewProvider("mock") })
	return r
}
