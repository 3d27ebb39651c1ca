package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AttemptStoreKind selects where in-flight handshake state lives.
const (
	AttemptStorePostgres = "postgres"
	AttemptStoreMemory   = "memory"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port        int
	MetricsPort int
	BaseURL     string
	DatabaseURL string
	AppName     string

	// TokenEncryptionKey encrypts stored provider credentials at rest.
	// Empty disables encryption.
	TokenEncryptionKey string

	SessionTTL   time.Duration
	AttemptTTL   time.Duration
	AttemptStore string

	SpotifyClientID     string
	SpotifyClientSecret string

	TwitterClientID       string
	TwitterClientSecret   string
	TwitterEnabled        bool
	TwitterRequireMisskey bool
	TwitterAllowedHosts   []string

	PostRateLimit float64
	PostRateBurst int

	LogFormat string
	LogLevel  string
}

// Load reads configuration from environment variables and validates required fields.
func Load() (Config, error) {
	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return Config{}, fmt.Errorf("parse PORT: %w", err)
	}
	metricsPort, err := getEnvInt("METRICS_PORT", 9090)
	if err != nil {
		return Config{}, fmt.Errorf("parse METRICS_PORT: %w", err)
	}

	sessionTTL, err := getEnvDuration("SESSION_TTL", 7*24*time.Hour)
	if err != nil {
		return Config{}, fmt.Errorf("parse SESSION_TTL: %w", err)
	}
	attemptTTL, err := getEnvDuration("LINK_ATTEMPT_TTL", 10*time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("parse LINK_ATTEMPT_TTL: %w", err)
	}

	rateLimit, err := getEnvFloat("POST_RATE_LIMIT", 1)
	if err != nil {
		return Config{}, fmt.Errorf("parse POST_RATE_LIMIT: %w", err)
	}
	rateBurst, err := getEnvInt("POST_RATE_BURST", 5)
	if err != nil {
		return Config{}, fmt.Errorf("parse POST_RATE_BURST: %w", err)
	}

	cfg := Config{
		Port:        port,
		MetricsPort: metricsPort,
		BaseURL:     strings.TrimSuffix(getEnv("BASE_URL", "http://localhost:8080"), "/"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		AppName:     getEnv("APP_NAME", "Spotify NowPlaying"),

		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),

		SessionTTL:   sessionTTL,
		AttemptTTL:   attemptTTL,
		AttemptStore: getEnv("LINK_ATTEMPT_STORE", AttemptStorePostgres),

		SpotifyClientID:     getEnv("SPOTIFY_CLIENT_ID", ""),
		SpotifyClientSecret: getEnv("SPOTIFY_CLIENT_SECRET", ""),

		TwitterClientID:       getEnv("TWITTER_CLIENT_ID", ""),
		TwitterClientSecret:   getEnv("TWITTER_CLIENT_SECRET", ""),
		TwitterEnabled:        getEnv("TWITTER_ENABLED", "true") != "false",
		TwitterRequireMisskey: getEnv("TWITTER_REQUIRE_MISSKEY", "false") == "true",
		TwitterAllowedHosts:   splitHosts(getEnv("TWITTER_ALLOWED_HOSTS", "")),

		PostRateLimit: rateLimit,
		PostRateBurst: rateBurst,

		LogFormat: getEnv("LOG_FORMAT", "text"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.SpotifyClientID == "" || c.SpotifyClientSecret == "" {
		return fmt.Errorf("SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET are required")
	}
	if c.AttemptStore != AttemptStorePostgres && c.AttemptStore != AttemptStoreMemory {
		return fmt.Errorf("LINK_ATTEMPT_STORE must be %q or %q", AttemptStorePostgres, AttemptStoreMemory)
	}
	return nil
}

func splitHosts(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	hosts := make([]string, 0, len(parts))
	for _, h := range parts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(v)
}
