package main

import (
	"fmt"
	"os"

	"github.com/rtkit/periodic/engine/supervisor"
)

// Config holds the engine's runtime configuration, read from the
// environment at startup. Invalid numeric values fall back to defaults.
type Config struct {
	Port        int
	MetricsPort int // 0 disables the metrics listener
	MaxTasks    int
	QueueCap    int
	MaxClients  int
	LineMax     int

	RedisAddr   string
	PostgresDSN string
}

const (
	defaultPort        = 8080
	defaultMetricsPort = 9090
	defaultQueueCap    = supervisor.MinQueueCapacity
	defaultMaxClients  = 64
	defaultLineMax     = 4096

	minMaxClients = 50
	minLineMax    = 4096
)

// LoadConfig reads the environment and applies defaults. A value below its
// minimum falls back to the default, not to the minimum.
func LoadConfig() *Config {
	cfg := &Config{
		Port:        envInt("ENGINE_PORT", defaultPort),
		MetricsPort: envInt("ENGINE_METRICS_PORT", defaultMetricsPort),
		MaxTasks:    envInt("ENGINE_MAX_TASKS", supervisor.DefaultConfig().MaxTasks),
		QueueCap:    envInt("ENGINE_QUEUE_CAP", defaultQueueCap),
		MaxClients:  envInt("ENGINE_MAX_CLIENTS", defaultMaxClients),
		LineMax:     envInt("ENGINE_LINE_MAX", defaultLineMax),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
	}

	if cfg.MaxTasks < supervisor.MinMaxTasks {
		cfg.MaxTasks = supervisor.DefaultConfig().MaxTasks
	}
	if cfg.QueueCap < supervisor.MinQueueCapacity {
		cfg.QueueCap = defaultQueueCap
	}
	if cfg.MaxClients < minMaxClients {
		cfg.MaxClients = defaultMaxClients
	}
	if cfg.LineMax < minLineMax {
		cfg.LineMax = defaultLineMax
	}
	return cfg
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil || v < 0 {
		return def
	}
	return v
}
