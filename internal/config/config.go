package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the application configuration.
type Config struct {
	// Server settings
	ServerPort string `env:"SERVER_PORT" env-default:"8080"`

	// Storage settings
	DBPath string `env:"DB_PATH" env-default:"tasks.db"`

	// OpenTelemetry settings
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:"localhost:4317"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" env-default:"taskbox"`
	Environment  string `env:"ENVIRONMENT" env-default:"development"`
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return &cfg, nil
}
