package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the process reads from the environment.
type Config struct {
	HTTPAddr  string
	JWTSecret string

	DB     Database
	Redis  Redis
	Push   Push
	Digest Digest
	SMTP   SMTP
}

type Database struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type Redis struct {
	Addr string
}

type Push struct {
	// VAPID key pair used to sign Web Push requests. The public key is
	// served to browsers via the public-key endpoint.
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is the contact address required by RFC 8292.
	Subscriber string
	// SendTimeout bounds a single delivery attempt.
	SendTimeout time.Duration
	// SendsPerSecond throttles outbound provider calls.
	SendsPerSecond int
}

type Digest struct {
	Interval    time.Duration
	TickBudget  time.Duration
	Scope       string // "unread" or "since_last"
	FromAddress string
}

type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Load reads .env (if present) and assembles the configuration.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file loaded", "error", err)
	}

	cfg := &Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		JWTSecret: getEnv("JWT_SECRET", ""),
		DB: Database{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "deskwire"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: Redis{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Push: Push{
			VAPIDPublicKey:  getEnv("VAPID_PUBLIC_KEY", ""),
			VAPIDPrivateKey: getEnv("VAPID_PRIVATE_KEY", ""),
			Subscriber:      getEnv("VAPID_SUBSCRIBER", "mailto:ops@deskwire.local"),
			SendTimeout:     getEnvDuration("PUSH_SEND_TIMEOUT", 30*time.Second),
			SendsPerSecond:  getEnvInt("PUSH_SENDS_PER_SECOND", 50),
		},
		Digest: Digest{
			Interval:    getEnvDuration("DIGEST_INTERVAL", 15*time.Minute),
			TickBudget:  getEnvDuration("DIGEST_TICK_BUDGET", 5*time.Minute),
			Scope:       getEnv("DIGEST_SCOPE", "unread"),
			FromAddress: getEnv("DIGEST_FROM", "digest@deskwire.local"),
		},
		SMTP: SMTP{
			Host:     getEnv("SMTP_HOST", "localhost"),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
		},
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	return cfg, nil
}

// DatabaseURL renders the postgres connection URL used by the migrator.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name, c.DB.SSLMode)
}

// DSN renders the key/value connection string used by sqlx.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", value)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", value)
		return defaultValue
	}
	return d
}
