package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment          string
	HTTPPort             string
	DatabaseURL          string
	TokenIssuer          string
	TokenAudience        string
	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	AdminEmail           string
	AdminPassword        string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	GoogleClientID       string
	GoogleClientSecret   string
	GoogleRedirectURL    string
	GoogleTokenURL       string
	GoogleUserInfoURL    string
	ServiceName          string
	RateLimitRPM         int
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:          getEnv("APP_ENV", "development"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		TokenIssuer:          getEnv("TOKEN_ISSUER", "tracknest.io"),
		TokenAudience:        getEnv("TOKEN_AUDIENCE", "tracknest.io"),
		AccessTokenTTL:       getDuration("ACCESS_TOKEN_TTL", 30*time.Minute),
		RefreshTokenTTL:      getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		AdminEmail:           strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
		AdminPassword:        strings.TrimSpace(os.Getenv("ADMIN_PASSWORD")),
		RedisAddr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		GoogleClientID:       os.Getenv("GOOGLE_OAUTH_CLIENT_ID"),
		GoogleClientSecret:   os.Getenv("GOOGLE_OAUTH_CLIENT_SECRET"),
		GoogleRedirectURL:    os.Getenv("GOOGLE_OAUTH_REDIRECT_URL"),
		GoogleTokenURL:       getEnv("GOOGLE_OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		GoogleUserInfoURL:    getEnv("GOOGLE_OAUTH_USERINFO_URL", "https://www.googleapis.com/oauth2/v1/userinfo"),
		ServiceName:          getEnv("SERVICE_NAME", "tracknest-auth"),
		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.AdminEmail == "" {
		return Config{}, fmt.Errorf("ADMIN_EMAIL is required")
	}
	if cfg.AdminPassword == "" {
		return Config{}, fmt.Errorf("ADMIN_PASSWORD is required")
	}
	if cfg.AccessTokenTTL >= cfg.RefreshTokenTTL {
		return Config{}, fmt.Errorf("ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
