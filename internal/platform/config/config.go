// Package config builds per-service configuration from the environment so
// main stays lean. Both servers share the same recognized keys; each reads
// only what it wires.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config captures everything either service reads from the environment.
type Config struct {
	Port            string
	DeploymentEnv   string
	DatabaseURL     string
	JWTSecret       string
	JWTExpiresIn    time.Duration
	BrokerURL       string
	ServiceName     string
	AllowedOrigins  []string
	RedisURL        string
	AuditAckTimeout time.Duration
}

// FromEnv reads the recognized keys, applying development defaults. It
// returns an error instead of falling back when production invariants are
// violated (missing or short JWT secret, missing DATABASE_URL).
func FromEnv(defaultServiceName string) (Config, error) {
	cfg := Config{
		Port:            getenv("PORT", "8080"),
		DeploymentEnv:   getenv("DEPLOYMENT_ENV", EnvDevelopment),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		BrokerURL:       getenv("BROKER_URL", "localhost:9092"),
		ServiceName:     getenv("SERVICE_NAME", defaultServiceName),
		RedisURL:        os.Getenv("REDIS_URL"),
		JWTExpiresIn:    24 * time.Hour,
		AuditAckTimeout: 10 * time.Second,
	}

	if v := os.Getenv("JWT_EXPIRES_IN"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse JWT_EXPIRES_IN: %w", err)
		}
		cfg.JWTExpiresIn = d
	}
	if v := os.Getenv("AUDIT_ACK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse AUDIT_ACK_TIMEOUT: %w", err)
		}
		cfg.AuditAckTimeout = d
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.Production() {
		if len(cfg.JWTSecret) < 32 {
			return Config{}, fmt.Errorf("JWT_SECRET must be at least 32 bytes in production")
		}
	} else if cfg.JWTSecret == "" {
		// Development default; never valid in production.
		cfg.JWTSecret = "dev-secret-key-change-in-production-0000"
	}

	return cfg, nil
}

// Production reports whether the service runs with production invariants.
func (c Config) Production() bool {
	return c.DeploymentEnv == EnvProduction
}

// Addr is the HTTP listen address derived from PORT.
func (c Config) Addr() string {
	return ":" + c.Port
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
