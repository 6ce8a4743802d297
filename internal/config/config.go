package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Rabbit    RabbitConfig
	Gateway   GatewayConfig
	Auth      AuthConfig
	Reconcile ReconcileConfig
	// CatalogJSON optionally overrides the built-in points package catalog.
	CatalogJSON string
}

type ServerConfig struct {
	Port           int
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RabbitConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string
	Queue    string
	Prefetch int
	Workers  int
}

type GatewayConfig struct {
	BaseURL    string
	APIKey     string
	SuccessURL string
	CancelURL  string
	Timeout    time.Duration
}

type AuthConfig struct {
	JWTSecret string
}

type ReconcileConfig struct {
	Interval  time.Duration
	BatchSize int
	MinAge    time.Duration
}

func Load() *Config {
	// .env file is optional
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:           intFromEnv("PORT", 8080),
			AllowedOrigins: []string{getenv("CORS_ALLOWED_ORIGIN", "*")},
		},
		Database: DatabaseConfig{
			Host:     getenv("DB_HOST", "localhost"),
			Port:     intFromEnv("DB_PORT", 5432),
			User:     getenv("DB_USER", "postgres"),
			Password: getenv("DB_PASSWORD", "postgres"),
			DBName:   getenv("DB_NAME", "points_db"),
			SSLMode:  getenv("DB_SSLMODE", "disable"),
		},
		Rabbit: RabbitConfig{
			Host:     getenv("RABBITMQ_HOST", "localhost"),
			Port:     intFromEnv("RABBITMQ_PORT", 5672),
			User:     getenv("RABBITMQ_USER", "guest"),
			Password: getenv("RABBITMQ_PASSWORD", "guest"),
			VHost:    getenv("RABBITMQ_VHOST", "/"),
			Queue:    getenv("RABBITMQ_QUEUE", "payment_notifications"),
			Prefetch: intFromEnv("RABBITMQ_PREFETCH", 50),
			Workers:  clamp(intFromEnv("RABBITMQ_WORKERS", 4), 1, 16),
		},
		Gateway: GatewayConfig{
			BaseURL:    getenv("PAYMENT_GATEWAY_URL", "http://localhost:9090"),
			APIKey:     getenv("PAYMENT_GATEWAY_API_KEY", ""),
			SuccessURL: getenv("CHECKOUT_SUCCESS_URL", "http://localhost:3000/points/success"),
			CancelURL:  getenv("CHECKOUT_CANCEL_URL", "http://localhost:3000/points/cancel"),
			Timeout:    time.Duration(intFromEnv("PAYMENT_GATEWAY_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Auth: AuthConfig{
			JWTSecret: getenv("JWT_SECRET", "change-me-in-production"),
		},
		Reconcile: ReconcileConfig{
			Interval:  time.Duration(intFromEnv("RECONCILE_INTERVAL_SECONDS", 300)) * time.Second,
			BatchSize: intFromEnv("RECONCILE_BATCH_SIZE", 100),
			MinAge:    time.Duration(intFromEnv("RECONCILE_MIN_AGE_SECONDS", 900)) * time.Second,
		},
		CatalogJSON: getenv("POINTS_CATALOG_JSON", ""),
	}
}

func getenv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func intFromEnv(key string, def int) int {
	val := getenv(key, "")
	if val == "" {
		return def
	}
	if parsed, err := strconv.Atoi(val); err == nil {
		return parsed
	}
	return def
}

func clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
