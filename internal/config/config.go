// Package config loads runtime configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	URL           string // base URL of this instance, no trailing slash (URL env var)
	PrivateKeyPEM string // PKCS#8 RSA private key PEM (PRIVATE_KEY_PEM env var)
	DatabaseURL   string // DATABASE_URL env var
	Port          string
	SignFetch     bool // SIGN_FETCH — require a verified signature before trusting an inbox body, re-fetching the activity from its origin otherwise (default true)

	// Tunable performance constants (all have sensible defaults; rarely need changing).
	HTTPClientTimeout time.Duration // HTTP_CLIENT_TIMEOUT — outbound request deadline (default 10s)
	QueuePollInterval time.Duration // QUEUE_POLL_INTERVAL — worker idle poll backoff (default 1s)
	QueueWorkerCount  int           // QUEUE_WORKERS — number of concurrent job workers (default 4)
	FollowerBatchSize int           // FOLLOWER_BATCH_SIZE (default 10) — not read; fan-out uses the fixed engine.FollowerBatchSize
	ResponseBodyLimit int64         // RESPONSE_BODY_LIMIT (default 65536) — not read; response reads use the fixed engine.BodyLimit
}

// Load reads configuration from environment variables.
// Exits the process if required variables (URL, PRIVATE_KEY_PEM) are missing.
func Load() *Config {
	baseURL := os.Getenv("URL")
	if baseURL == "" {
		fmt.Fprintln(os.Stderr, "ERROR: URL is not set!")
		fmt.Fprintln(os.Stderr, "Set it to this instance's externally reachable base URL, e.g. https://blog.example.")
		os.Exit(1)
	}
	baseURL = strings.TrimRight(baseURL, "/")

	privKey := os.Getenv("PRIVATE_KEY_PEM")
	if privKey == "" {
		fmt.Fprintln(os.Stderr, "ERROR: PRIVATE_KEY_PEM is not set!")
		fmt.Fprintln(os.Stderr, "Set it to a PKCS#8 PEM-encoded RSA private key.")
		os.Exit(1)
	}

	return &Config{
		URL:               baseURL,
		PrivateKeyPEM:     privKey,
		DatabaseURL:       getEnv("DATABASE_URL", "fblog.db"),
		Port:              getEnv("PORT", "8000"),
		SignFetch:         getEnv("SIGN_FETCH", "true") != "false",
		HTTPClientTimeout: parseDuration(os.Getenv("HTTP_CLIENT_TIMEOUT"), 10*time.Second),
		QueuePollInterval: parseDuration(os.Getenv("QUEUE_POLL_INTERVAL"), time.Second),
		QueueWorkerCount:  parseInt(os.Getenv("QUEUE_WORKERS"), 4),
		FollowerBatchSize: parseInt(os.Getenv("FOLLOWER_BATCH_SIZE"), 10),
		ResponseBodyLimit: int64(parseInt(os.Getenv("RESPONSE_BODY_LIMIT"), 64*1024)),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return i
}
