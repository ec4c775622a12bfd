// Package config handles environment variable loading for ports, database strings, etc.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// Meilisearch endpoint and API key
	MeiliURL string
	MeiliKey string

	// Discord lifecycle notifications; empty disables them
	DiscordBotToken  string
	DiscordChannelID string

	// Listen address of the admin HTTP API (e.g., ":6060")
	AdminAddr string

	// SHA-256 digest of the admin bearer token; empty disables auth
	AdminTokenHash string

	// Listen address of the Prometheus metrics endpoint
	MetricsAddr string

	// OTLP trace collector endpoint; empty disables trace export
	OTLPEndpoint string

	// Interval between scheduler checks for stores pending sync
	SyncInterval time.Duration

	// Concurrency limits for the sync pipeline
	StoreConcurrency int
	GroupConcurrency int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	meiliURL := os.Getenv("MEILI_URL")
	if meiliURL == "" {
		meiliURL = "http://localhost:7700"
	}

	adminAddr := os.Getenv("ADMIN_ADDR")
	if adminAddr == "" {
		adminAddr = ":6060"
	}

	metricsAddr := os.Getenv("METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9090"
	}

	syncInterval := time.Hour
	if v := os.Getenv("SYNC_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SYNC_INTERVAL: %w", err)
		}
		syncInterval = d
	}

	storeConcurrency, err := intEnv("STORE_CONCURRENCY", 4)
	if err != nil {
		return nil, err
	}
	groupConcurrency, err := intEnv("GROUP_CONCURRENCY", 6)
	if err != nil {
		return nil, err
	}

	return &Config{
		DatabaseURL:      dbURL,
		MeiliURL:         meiliURL,
		MeiliKey:         os.Getenv("MEILI_KEY"),
		DiscordBotToken:  os.Getenv("DISCORD_BOT_TOKEN"),
		DiscordChannelID: os.Getenv("DISCORD_CHANNEL_ID"),
		AdminAddr:        adminAddr,
		AdminTokenHash:   os.Getenv("ADMIN_TOKEN_HASH"),
		MetricsAddr:      metricsAddr,
		OTLPEndpoint:     os.Getenv("OTLP_ENDPOINT"),
		SyncInterval:     syncInterval,
		StoreConcurrency: storeConcurrency,
		GroupConcurrency: groupConcurrency,
	}, nil
}

func intEnv(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}
