package config

import (
	"os"
	"strconv"
)

type Config struct {
	Addr         string // TCP listen address for the wire protocol
	DBPath       string
	MetricsAddr  string // empty disables the /metrics endpoint
	LogFile      string // empty logs to stdout
	LogLevel     string
	WriteTimeout int // seconds
}

func Load() *Config {
	cfg := &Config{
		Addr:         ":3000",
		DBPath:       "messenger.db",
		MetricsAddr:  "",
		LogFile:      "",
		LogLevel:     "info",
		WriteTimeout: 30,
	}

	if addr := os.Getenv("MESSENGER_ADDR"); addr != "" {
		cfg.Addr = addr
	}

	if dbPath := os.Getenv("MESSENGER_DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	if addr := os.Getenv("MESSENGER_METRICS_ADDR"); addr != "" {
		cfg.MetricsAddr = addr
	}

	if file := os.Getenv("MESSENGER_LOG_FILE"); file != "" {
		cfg.LogFile = file
	}

	if level := os.Getenv("MESSENGER_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if timeoutStr := os.Getenv("MESSENGER_WRITE_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.WriteTimeout = timeout
		}
	}

	return cfg
}
