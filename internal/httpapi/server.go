package httpapi

import (
	"log/slog"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
)

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Address         string
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// NewServer builds a Hertz server with the middleware chain and every route
// registered. Start it with Run and stop it with Shutdown.
func NewServer(cfg ServerConfig, sessions Sessions) *server.Hertz {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	opts := []config.Option{
		server.WithHostPorts(cfg.Address),
		server.WithExitWaitTime(cfg.ShutdownTimeout),
	}
	h := server.Default(opts...)
	h.Use(LogIDMiddleware())
	h.Use(AccessLogMiddleware(cfg.Logger))

	NewHandler(sessions, cfg.Logger).Register(h)
	return h
}
