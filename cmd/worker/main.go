package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"google.golang.org/grpc"

	"github.com/AltairaLabs/compute-sessions/internal/compute/local"
	"github.com/AltairaLabs/compute-sessions/internal/worker"
)

const (
	defaultWorkspacePerms = 0755
	defaultGRPCPort       = "50051"
	defaultWorkerID       = "worker-1"
	defaultBaseWorkspace  = "/tmp/compute-sessions"
	defaultKernelCommand  = "kernel -language sh"
)

var (
	version = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Println("Compute Sessions Worker v0.1.0")
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Read configuration from environment
	workerID := getEnv("WORKER_ID", defaultWorkerID)
	grpcPort := getEnv("GRPC_PORT", defaultGRPCPort)
	baseWorkspace := getEnv("BASE_WORKSPACE", defaultBaseWorkspace)
	command := parseCommand(getEnv("KERNEL_COMMAND", defaultKernelCommand))

	logger.Info("Compute worker starting up",
		"worker_id", workerID,
		"grpc_port", grpcPort,
		"base_workspace", baseWorkspace,
		"kernel_command", command,
	)

	// #nosec G301 - Base workspace directory needs to be accessible by user and group
	if err := os.MkdirAll(baseWorkspace, defaultWorkspacePerms); err != nil {
		logger.Error("Failed to create base workspace", "error", err)
		os.Exit(1)
	}

	backend := local.New(local.Config{Command: command, WorkDir: baseWorkspace, Logger: logger})
	defer backend.Close()

	grpcServer := grpc.NewServer()
	worker.RegisterComputeWorkerServer(grpcServer, worker.NewWorkerServer(workerID, backend, logger))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", grpcPort)) //nolint:noctx // Standard gRPC server pattern
	if err != nil {
		logger.Error("Failed to listen", "error", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		logger.Info("Shutting down worker")
		grpcServer.GracefulStop()
	}()

	logger.Info("Worker listening", "port", grpcPort)
	if err := grpcServer.Serve(lis); err != nil {
		logger.Error("Failed to serve", "error", err)
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseCommand splits a kernel command line on whitespace
func parseCommand(line string) []string {
	return strings.Fields(line)
}
