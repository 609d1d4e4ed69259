// Package config loads server settings from defaults, an optional .env
// file, environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime settings for the server.
type Config struct {
	Addr   string
	DBPath string

	JWTSecret     string
	TokenDuration time.Duration

	ChannelKey    string
	ChannelSecret string

	// RedisURL enables cross-instance realtime fan-out when set.
	RedisURL string

	// SMTPHost empty means emails are logged instead of sent.
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	MailFrom     string

	AppURL          string
	AllowedOrigin   string
	RateLimit       float64
	RateBurst       int
	DispatchTimeout time.Duration
	LogLevel        string
}

// LoadDefaults populates Config with development defaults.
// NOTE: the secrets are insecure and must be overridden in production.
func (c *Config) LoadDefaults() {
	c.Addr = ":8080"
	c.DBPath = "./data/blueledger.db"
	c.JWTSecret = "dev-secret-change-me"
	c.TokenDuration = 24 * time.Hour
	c.ChannelKey = "blueledger"
	c.ChannelSecret = "dev-channel-secret"
	c.SMTPPort = 587
	c.MailFrom = "Blue Ledger <noreply@blueledger.local>"
	c.AppURL = "http://localhost:8080"
	c.AllowedOrigin = "*"
	c.RateLimit = 10
	c.RateBurst = 20
	c.DispatchTimeout = 5 * time.Second
	c.LogLevel = "info"
}

// Load builds a Config from defaults, envFile (skipped if missing), the
// environment and args.
func Load(envFile string, args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if envFile != "" {
		// Existing environment variables win over the file.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := cfg.parseEnv(); err != nil {
		return nil, err
	}
	if err := cfg.parseFlags(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.New("config: listen address is required")
	case c.DBPath == "":
		return errors.New("config: database path is required")
	case c.JWTSecret == "":
		return errors.New("config: JWT secret is required")
	case c.ChannelSecret == "":
		return errors.New("config: channel secret is required")
	case c.TokenDuration <= 0:
		return errors.New("config: token duration must be positive")
	case c.RateLimit <= 0 || c.RateBurst <= 0:
		return errors.New("config: rate limit and burst must be positive")
	}
	return nil
}

func (c *Config) parseEnv() error {
	c.Addr = getEnv("ADDR", c.Addr)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.ChannelKey = getEnv("CHANNEL_KEY", c.ChannelKey)
	c.ChannelSecret = getEnv("CHANNEL_SECRET", c.ChannelSecret)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.SMTPHost = getEnv("SMTP_HOST", c.SMTPHost)
	c.SMTPUser = getEnv("SMTP_USER", c.SMTPUser)
	c.SMTPPassword = getEnv("SMTP_PASSWORD", c.SMTPPassword)
	c.MailFrom = getEnv("MAIL_FROM", c.MailFrom)
	c.AppURL = getEnv("APP_URL", c.AppURL)
	c.AllowedOrigin = getEnv("CORS_ORIGIN", c.AllowedOrigin)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	var err error
	if c.TokenDuration, err = getDuration("TOKEN_DURATION", c.TokenDuration); err != nil {
		return err
	}
	if c.DispatchTimeout, err = getDuration("DISPATCH_TIMEOUT", c.DispatchTimeout); err != nil {
		return err
	}
	if c.SMTPPort, err = getInt("SMTP_PORT", c.SMTPPort); err != nil {
		return err
	}
	if c.RateBurst, err = getInt("RATE_BURST", c.RateBurst); err != nil {
		return err
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		if c.RateLimit, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("config: RATE_LIMIT: %w", err)
		}
	}
	return nil
}

func (c *Config) parseFlags(args []string) error {
	fs := flag.NewFlagSet("blueledger", flag.ContinueOnError)

	fs.StringVar(&c.Addr, "addr", c.Addr, "address to listen on")
	fs.StringVar(&c.DBPath, "db", c.DBPath, "SQLite database path")
	fs.StringVar(&c.RedisURL, "redis", c.RedisURL, "Redis URL for realtime fan-out")
	fs.StringVar(&c.AllowedOrigin, "cors-origin", c.AllowedOrigin, "allowed CORS origin")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.DurationVar(&c.TokenDuration, "token-duration", c.TokenDuration, "session token lifetime")
	fs.DurationVar(&c.DispatchTimeout, "dispatch-timeout", c.DispatchTimeout, "timeout for background notification delivery")
	fs.Float64Var(&c.RateLimit, "rate", c.RateLimit, "requests per second per caller")
	fs.IntVar(&c.RateBurst, "burst", c.RateBurst, "rate limit burst")

	return fs.Parse(args)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
