// Package config builds runtime configuration from environment variables
// so main stays lean.
package config

import (
	"os"
	"strings"
	"time"
)

// Config captures everything the process needs at startup.
type Config struct {
	Addr          string
	DatabaseURL   string
	RedisURL      string
	KafkaBrokers  []string
	KafkaTopic    string
	JWTSigningKey string
	EmbeddingURL  string
	RetryDelay    time.Duration
	Regions       []string
	LogLevel      string
}

// FromEnv reads configuration with development defaults. An empty
// DatabaseURL selects the in-memory store; empty RedisURL/KafkaBrokers/
// EmbeddingURL disable the respective collaborator.
func FromEnv() Config {
	cfg := Config{
		Addr:          envOr("TROUBLEDESK_ADDR", ":8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		KafkaTopic:    envOr("KAFKA_TOPIC", "helpdesk.issue-events"),
		JWTSigningKey: envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		EmbeddingURL:  os.Getenv("EMBEDDING_URL"),
		RetryDelay:    30 * time.Second,
		Regions:       []string{"north", "south", "east", "west"},
		LogLevel:      envOr("LOG_LEVEL", "info"),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitList(brokers)
	}
	if regions := os.Getenv("REGIONS"); regions != "" {
		cfg.Regions = splitList(regions)
	}
	if delay := os.Getenv("RETRY_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil && d > 0 {
			cfg.RetryDelay = d
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
