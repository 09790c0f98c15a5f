package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the relay's environment configuration.
type Config struct {
	Port string
	Env  string

	RedisURL  string
	RedisPass string
	RedisDB   int

	RoomSecret string
	TokenTTL   time.Duration

	StartingBalance float64
}

// Load reads configuration from the environment. ROOM_SECRET is the only
// required value; everything else has a development default.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		RedisURL:        getEnv("REDIS_URL", "localhost:6379"),
		RedisPass:       getEnv("REDIS_PASS", ""),
		RoomSecret:      os.Getenv("ROOM_SECRET"),
		TokenTTL:        24 * time.Hour,
		StartingBalance: 100,
	}

	if cfg.RoomSecret == "" {
		if cfg.Env == "production" {
			return nil, fmt.Errorf("ROOM_SECRET is required in production")
		}
		cfg.RoomSecret = "dev-room-secret"
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %v", err)
		}
		cfg.RedisDB = n
	}

	if ttl := os.Getenv("TOKEN_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid TOKEN_TTL: %v", err)
		}
		cfg.TokenTTL = d
	}

	if bal := os.Getenv("STARTING_BALANCE"); bal != "" {
		f, err := strconv.ParseFloat(bal, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid STARTING_BALANCE: %v", err)
		}
		cfg.StartingBalance = f
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
