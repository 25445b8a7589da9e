package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	StoreMemory    = "memory"
	StoreMySQL     = "mysql"
	StoreSQLite    = "sqlite"
	StoreRedis     = "redis"
	StoreMiniredis = "miniredis"
)

// Compute backends
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// MCP transports
const (
	MCPDisabled = ""
	MCPStdio    = "stdio"
	MCPSSE      = "sse"
)

// Config is the coordinator configuration, loaded from YAML and the environment
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	MCP       MCPConfig       `yaml:"mcp"`
	Store     StoreConfig     `yaml:"store"`
	Compute   ComputeConfig   `yaml:"compute"`
	Output    OutputConfig    `yaml:"output"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
	Log       LogConfig       `yaml:"log"`
}

// HTTPConfig configures the client-facing HTTP surface
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Address returns host:port
func (c HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MCPConfig configures the optional MCP tool server
type MCPConfig struct {
	Transport string `yaml:"transport"`
	Address   string `yaml:"address"`
}

// StoreConfig selects and configures the session store
type StoreConfig struct {
	Driver             string `yaml:"driver"`
	DSN                string `yaml:"dsn"`
	Debug              bool   `yaml:"debug"`
	MaxOpenConnections int    `yaml:"max-open-connections"`
	MaxIdleConnections int    `yaml:"max-idle-connections"`
	TablePrefix        string `yaml:"table-prefix"`
	RedisAddress       string `yaml:"redis-address"`
	RedisPassword      string `yaml:"redis-password"`
	RedisDB            int    `yaml:"redis-db"`
	KeyPrefix          string `yaml:"key-prefix"`
}

// ComputeConfig selects the compute backend
type ComputeConfig struct {
	Backend         string        `yaml:"backend"`
	KernelCommand   []string      `yaml:"kernel-command"`
	Language        string        `yaml:"language"`
	WorkDir         string        `yaml:"work-dir"`
	WorkerAddress   string        `yaml:"worker-address"`
	DispatchTimeout time.Duration `yaml:"dispatch-timeout"`
	SignalTimeout   time.Duration `yaml:"signal-timeout"`
}

// OutputConfig configures output batching
type OutputConfig struct {
	FlushSize     int           `yaml:"flush-size"`
	FlushInterval time.Duration `yaml:"flush-interval"`
}

// BroadcastConfig configures subscriber delivery
type BroadcastConfig struct {
	SubscriberBuffer int `yaml:"subscriber-buffer"`
}

// WatchdogConfig configures the ready-callback watchdog. A zero ReadyTimeout disables it.
type WatchdogConfig struct {
	Schedule     string        `yaml:"schedule"`
	ReadyTimeout time.Duration `yaml:"ready-timeout"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		HTTP:  HTTPConfig{Host: "0.0.0.0", Port: 5000},
		Store: StoreConfig{Driver: StoreMemory, MaxOpenConnections: 10, MaxIdleConnections: 5, KeyPrefix: "computesessions"},
		Compute: ComputeConfig{
			Backend:         BackendLocal,
			KernelCommand:   []string{"kernel"},
			Language:        "sh",
			WorkDir:         os.TempDir(),
			DispatchTimeout: DefaultDispatchTimeout,
			SignalTimeout:   DefaultSignalTimeout,
		},
		Output:    OutputConfig{FlushSize: DefaultFlushSize, FlushInterval: DefaultFlushInterval},
		Broadcast: BroadcastConfig{SubscriberBuffer: DefaultSubscriberBuffer},
		Watchdog:  WatchdogConfig{Schedule: DefaultWatchdogSchedule},
		Log:       LogConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 - path comes from the operator's -config flag
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables
func (c *Config) ApplyEnv() {
	c.HTTP.Port = getEnvInt("HTTP_PORT", c.HTTP.Port)
	c.MCP.Transport = getEnv("MCP_TRANSPORT", c.MCP.Transport)
	c.MCP.Address = getEnv("MCP_ADDRESS", c.MCP.Address)
	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.DSN = getEnv("STORE_DSN", c.Store.DSN)
	c.Store.RedisAddress = getEnv("REDIS_ADDRESS", c.Store.RedisAddress)
	c.Compute.Backend = getEnv("COMPUTE_BACKEND", c.Compute.Backend)
	c.Compute.WorkerAddress = getEnv("WORKER_ADDR", c.Compute.WorkerAddress)
	c.Compute.Language = getEnv("KERNEL_LANGUAGE", c.Compute.Language)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
}

// Validate checks the configuration for values the coordinator cannot run with
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case StoreMemory, StoreMiniredis:
	case StoreMySQL, StoreSQLite:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store driver %s requires a dsn", c.Store.Driver))
		}
	case StoreRedis:
		if c.Store.RedisAddress == "" {
			errs = append(errs, errors.New("store driver redis requires redis-address"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver: %q", c.Store.Driver))
	}

	switch c.Compute.Backend {
	case BackendLocal:
		if len(c.Compute.KernelCommand) == 0 {
			errs = append(errs, errors.New("local backend requires kernel-command"))
		}
	case BackendRemote:
		if c.Compute.WorkerAddress == "" {
			errs = append(errs, errors.New("remote backend requires worker-address"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown compute backend: %q", c.Compute.Backend))
	}

	switch c.MCP.Transport {
	case MCPDisabled, MCPStdio:
	case MCPSSE:
		if c.MCP.Address == "" {
			errs = append(errs, errors.New("mcp sse transport requires an address"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mcp transport: %q", c.MCP.Transport))
	}

	if c.Output.FlushSize <= 0 {
		errs = append(errs, errors.New("output flush-size must be positive"))
	}
	if c.Output.FlushInterval <= 0 {
		errs = append(errs, errors.New("output flush-interval must be positive"))
	}
	if c.Compute.DispatchTimeout <= 0 {
		errs = append(errs, errors.New("compute dispatch-timeout must be positive"))
	}
	if c.Watchdog.ReadyTimeout < 0 {
		errs = append(errs, errors.New("watchdog ready-timeout cannot be negative"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
