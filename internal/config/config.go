package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	ClientID        string
	ClientSecret    string
	APIBaseURL      string
	CachePath       string
	DBPath          string
	ServerPort      string
	LogLevel        string
	RefreshInterval time.Duration
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cachePath := getEnv("CACHE_PATH", "cache")

	cfg := &Config{
		ClientID:     getEnv("OSU_CLIENT_ID", ""),
		ClientSecret: getEnv("OSU_CLIENT_SECRET", ""),
		APIBaseURL:   getEnv("OSU_API_URL", "https://osu.ppy.sh"),
		CachePath:    cachePath,
		DBPath:       getEnv("DB_PATH", filepath.Join(cachePath, "reftool.db")),
		ServerPort:   getEnv("SERVER_PORT", "8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}

	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("OSU_CLIENT_ID and OSU_CLIENT_SECRET are required")
	}

	if raw := getEnv("REFRESH_INTERVAL", ""); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid REFRESH_INTERVAL %q: %w", raw, err)
		}
		cfg.RefreshInterval = interval
	}

	logger.Info().
		Str("api_base_url", cfg.APIBaseURL).
		Str("cache_path", cfg.CachePath).
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Dur("refresh_interval", cfg.RefreshInterval).
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var Module = fx.Provide(Load)
