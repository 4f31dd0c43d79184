package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config carries process configuration, loaded from the environment.
type Config struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	JWTSecret   string `envconfig:"JWT_SECRET" required:"true"`
	SMTPAddr    string `envconfig:"SMTP_ADDR" default:"localhost:25"`
	SMTPFrom    string `envconfig:"SMTP_FROM" default:"agreements@cliniclink.example"`
	BindAddr    string `envconfig:"BIND_ADDR" default:":8080"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("cliniclink", &cfg); err != nil {
		return nil, fmt.Errorf("config: process environment: %w", err)
	}
	return &cfg, nil
}
