package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	AdminAddr       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("OWLAI_CONFIG", ""),
		"Path to configuration file, empty for defaults (env: OWLAI_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("OWLAI_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: OWLAI_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("OWLAI_LOG_FORMAT", "json"),
		"Log format: json, text (env: OWLAI_LOG_FORMAT)")

	flag.StringVar(&cfg.AdminAddr, "admin-addr",
		getEnv("OWLAI_ADMIN_ADDR", ":8080"),
		"Admin listen address for /healthz and /metrics, empty to disable (env: OWLAI_ADMIN_ADDR)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("OWLAI_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: OWLAI_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Parse()
	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
