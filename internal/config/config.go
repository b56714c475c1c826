package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"

	StoragePostgres = "postgres"
	StorageMongo    = "mongo"
	StorageMemory   = "memory"

	MailLog      = "log"
	MailPostmark = "postmark"
)

// Config holds runtime configuration sourced from env vars.
type Config struct {
	Env  string `env:"APP_ENV" envDefault:"development"`
	Port string `env:"PORT" envDefault:"8080"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`
	DatabaseURL   string `env:"DATABASE_URL"`
	MongoURL      string `env:"MONGODB_URL"`
	MongoDatabase string `env:"MONGODB_DATABASE" envDefault:"homeservices"`

	JWTSecret string `env:"JWT_SECRET"`
	JWTIssuer string `env:"JWT_ISSUER" envDefault:"homeservices-identity"`

	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	MailDriver           string        `env:"MAIL_DRIVER" envDefault:"log"`
	PostmarkServerToken  string        `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string        `env:"POSTMARK_ACCOUNT_TOKEN"`
	MailSender           string        `env:"MAIL_SENDER"`
	MailSupport          string        `env:"MAIL_SUPPORT"`
	MailTimeout          time.Duration `env:"MAIL_TIMEOUT" envDefault:"15s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT"`

	// EphemeralSecret is set when JWTSecret was generated at startup.
	EphemeralSecret bool `env:"-"`
}

// Load reads configuration from the process environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.finish()
}

// LoadFrom reads configuration from environ instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.finish()
}

func (c Config) finish() (Config, error) {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	c.MailDriver = strings.ToLower(strings.TrimSpace(c.MailDriver))
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.MongoURL = strings.TrimSpace(c.MongoURL)
	c.JWTSecret = strings.TrimSpace(c.JWTSecret)
	c.CORSOrigins = cleanList(c.CORSOrigins)

	switch c.Env {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return Config{}, fmt.Errorf("APP_ENV must be one of development, staging, production (got %q)", c.Env)
	}

	switch c.StorageDriver {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return Config{}, errors.New("DATABASE_URL is required")
		}
	case StorageMongo:
		if c.MongoURL == "" {
			return Config{}, errors.New("MONGODB_URL is required")
		}
	case StorageMemory:
		if c.IsProduction() {
			return Config{}, errors.New("STORAGE_DRIVER=memory is not allowed in production")
		}
	default:
		return Config{}, fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}

	switch c.MailDriver {
	case MailLog:
		// the log driver writes passcodes into the log
		if c.IsProduction() {
			return Config{}, errors.New("MAIL_DRIVER=log is not allowed in production")
		}
	case MailPostmark:
		if c.PostmarkServerToken == "" || c.PostmarkAccountToken == "" {
			return Config{}, errors.New("POSTMARK_SERVER_TOKEN and POSTMARK_ACCOUNT_TOKEN are required")
		}
		if strings.TrimSpace(c.MailSender) == "" {
			return Config{}, errors.New("MAIL_SENDER is required")
		}
	default:
		return Config{}, fmt.Errorf("unknown MAIL_DRIVER %q", c.MailDriver)
	}

	if c.JWTSecret == "" {
		if c.IsProduction() {
			return Config{}, errors.New("JWT_SECRET is required")
		}
		secret, err := randomSecret()
		if err != nil {
			return Config{}, err
		}
		c.JWTSecret = secret
		c.EphemeralSecret = true
	}

	return c, nil
}

// IsProduction reports whether APP_ENV is production.
func (c Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// HTTPAddress returns the host:port pair for the HTTP server to bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate ephemeral secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func cleanList(in []string) []string {
	var out []string
	for _, part := range in {
		if trimmed := strings.TrimSpace(part); trimmed != "" && !slices.Contains(out, trimmed) {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
