package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr     string
	LogLevel string
	Dev      bool
}

// Load reads .env if present, then the environment. Every field has a
// workable default so a bare `go run ./cmd/server` comes up listening.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:     getEnv("RELAY_ADDR", ":8080"),
		LogLevel: getEnv("RELAY_LOG_LEVEL", "info"),
		Dev:      getEnvAsBool("RELAY_DEV", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
