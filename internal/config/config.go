// Package config loads the controller's static configuration: broker host,
// DB file path, and group-id prefix (§6), plus the ambient knobs (log
// level, metrics address, trace collector endpoint) a real deployment
// needs. Grounded on the teacher's common/config/env.go GetEnv/MustGetEnv
// pair and its godotenv.Load() usage in gateway/app.go.
package config

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// Config is the full set of process-lifetime configuration values.
type Config struct {
	ServiceName string

	AMQPUser string
	AMQPPass string
	AMQPHost string
	AMQPPort string

	// GroupID is prepended to every queue name so multiple installations
	// can coexist on one broker (§6, "Group id" in the GLOSSARY).
	GroupID string

	DBPath string

	MetricsAddr string
	LogLevel    string

	OTLPEndpoint string
}

// Load reads a .env file if present (a missing file is not an error — the
// teacher logs and continues rather than failing) and then builds a Config
// from the environment, applying defaults for anything unset.
func Load(log *slog.Logger) Config {
	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, using defaults")
	}

	return Config{
		ServiceName: getEnv("SERVICE_NAME", "warehouse-controller"),

		AMQPUser: getEnv("AMQP_USER", "guest"),
		AMQPPass: getEnv("AMQP_PASS", "guest"),
		AMQPHost: getEnv("AMQP_HOST", "localhost"),
		AMQPPort: getEnv("AMQP_PORT", "5672"),

		GroupID: getEnv("GROUP_ID", "wh."),

		DBPath: getEnv("DB_PATH", "controller.db"),

		MetricsAddr: getEnv("METRICS_ADDR", "localhost:9100"),
		LogLevel:    getEnv("LOG_LEVEL", "INFO"),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
