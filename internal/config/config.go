// Package config centralizes environment-driven configuration.
package config

import (
	"os"
	"strconv"
	"sync"
)

// Config carries everything the server reads from the environment.
type Config struct {
	// Addr is the listen address of the HTTP server.
	Addr string
	// DatabasePath is the sqlite file holding users, balances, and the
	// chat log.
	DatabasePath string
	// JWTSecret signs access and refresh tokens. Required.
	JWTSecret string
	// OpenAIAPIKey enables the real model backend when set; without it the
	// service answers with the canned response.
	OpenAIAPIKey string
	// OpenAIAPIURL overrides the chat completions endpoint (useful for
	// compatible providers and tests).
	OpenAIAPIURL string
	// StripeAPIKey enables mirroring top-ups to Stripe when set.
	StripeAPIKey string
	// IdempotencyDBPath is the bolt file backing top-up idempotency keys.
	// Empty disables idempotency handling.
	IdempotencyDBPath string
	// ChatCost is the token cost per chat request.
	ChatCost int64
}

var (
	cfg     *Config
	cfgOnce sync.Once
)

// Get returns the singleton configuration, loading it from the environment
// on first call.
func Get() *Config {
	cfgOnce.Do(func() {
		cfg = &Config{
			Addr:              envOr("ADDR", ":8080"),
			DatabasePath:      envOr("DATABASE_PATH", "chatmeter.db"),
			JWTSecret:         os.Getenv("JWT_SECRET"),
			OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
			OpenAIAPIURL:      os.Getenv("OPENAI_API_URL"),
			StripeAPIKey:      os.Getenv("STRIPE_API_KEY"),
			IdempotencyDBPath: os.Getenv("IDEMPOTENCY_DB_PATH"),
			ChatCost:          envInt("CHAT_COST", 100),
		}
	})
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
