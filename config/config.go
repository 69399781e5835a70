package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Config holds the client configuration
type Config struct {
	BaseURL           string        // Auth backend origin (e.g. https://app.example.com)
	RequestTimeout    time.Duration // Per-request timeout for gateway calls
	RefreshTimeout    time.Duration // Upper bound on a single refresh call
	RefreshInterval   time.Duration // Minimum interval between refresh attempts
	RefreshBurst      int           // Refresh attempts allowed in a burst
	TokenExpiryBuffer time.Duration // Proactive refresh window; zero disables
	QueueTTL          time.Duration // Queued request expiry; zero disables
	SessionDBPath     string        // Durable session store path; empty keeps it in memory
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		BaseURL:         getEnv("AUTH_BASE_URL", "http://localhost:8080"),
		RequestTimeout:  30 * time.Second,
		RefreshTimeout:  10 * time.Second,
		RefreshInterval: 5 * time.Second,
		RefreshBurst:    2,
		SessionDBPath:   getEnv("SESSION_DB_PATH", ""),
	}

	durations := []struct {
		env    string
		target *time.Duration
	}{
		{"REQUEST_TIMEOUT", &config.RequestTimeout},
		{"REFRESH_TIMEOUT", &config.RefreshTimeout},
		{"REFRESH_INTERVAL", &config.RefreshInterval},
		{"TOKEN_EXPIRY_BUFFER", &config.TokenExpiryBuffer},
		{"QUEUE_TTL", &config.QueueTTL},
	}
	for _, d := range durations {
		if raw := os.Getenv(d.env); raw != "" {
			parsed, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid %s format: %w", d.env, err)
			}
			*d.target = parsed
		}
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("AUTH_BASE_URL cannot be empty")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("AUTH_BASE_URL is not a valid URL: %w", err)
	}
	if strings.HasSuffix(c.BaseURL, "/") {
		return fmt.Errorf("AUTH_BASE_URL must not end with a slash")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.RefreshTimeout <= 0 {
		return fmt.Errorf("REFRESH_TIMEOUT must be positive")
	}
	if c.QueueTTL < 0 {
		return fmt.Errorf("QUEUE_TTL cannot be negative")
	}

	return nil
}

// getEnv retrieves an environment variable or returns a fallback value
func getEnv(key, fallback string) string {
	// Check for _FILE suffix
	if fileValue := os.Getenv(key + "_FILE"); fileValue != "" {
		content, err := os.ReadFile(fileValue)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}

	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
