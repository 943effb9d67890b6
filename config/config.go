package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration for the API and CLI.
type Config struct {
	HTTPAddr string
	LogLevel string

	DatabaseURL string
	RedisURL    string

	JWTSecret string
	JWTIssuer string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	MFACodeTTL      time.Duration
	ResetTokenTTL   time.Duration

	MFAInvalidatePrevious bool
	BcryptCost            int

	LockoutThreshold int
	LockoutWindow    time.Duration

	MailAPIKey string
	MailFrom   string
	AppBaseURL string

	CookieDomain string
	CookieSecure bool
}

// fileConfig mirrors the optional YAML file.
type fileConfig struct {
	Server struct {
		Addr     string `yaml:"addr"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"server"`
	Dependencies struct {
		PostgresURL string `yaml:"postgres_url"`
		RedisURL    string `yaml:"redis_url"`
	} `yaml:"dependencies"`
	Auth struct {
		JWTIssuer             string `yaml:"jwt_issuer"`
		AccessTokenTTL        string `yaml:"access_token_ttl"`
		RefreshTokenTTL       string `yaml:"refresh_token_ttl"`
		MFACodeTTL            string `yaml:"mfa_code_ttl"`
		ResetTokenTTL         string `yaml:"reset_token_ttl"`
		MFAInvalidatePrevious *bool  `yaml:"mfa_invalidate_previous"`
		BcryptCost            int    `yaml:"bcrypt_cost"`
		LockoutThreshold      int    `yaml:"lockout_threshold"`
		LockoutWindow         string `yaml:"lockout_window"`
	} `yaml:"auth"`
	Mail struct {
		From       string `yaml:"from"`
		AppBaseURL string `yaml:"app_base_url"`
	} `yaml:"mail"`
	Cookies struct {
		Domain string `yaml:"domain"`
		Secure *bool  `yaml:"secure"`
	} `yaml:"cookies"`
}

// Load resolves configuration in priority order: defaults -> YAML file -> .env -> environment.
// A missing file at path is not an error.
func Load(path string) (Config, error) {
	cfg := Config{
		HTTPAddr:         ":8080",
		LogLevel:         "info",
		JWTIssuer:        "nutrihub",
		AccessTokenTTL:   15 * time.Minute,
		RefreshTokenTTL:  7 * 24 * time.Hour,
		MFACodeTTL:       10 * time.Minute,
		ResetTokenTTL:    30 * time.Minute,
		BcryptCost:       12,
		LockoutThreshold: 5,
		LockoutWindow:    15 * time.Minute,
		MailFrom:         "nutrihub <no-reply@nutrihub.app>",
		CookieSecure:     true,
	}

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var errs []error
	cfg.HTTPAddr = envOrDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.JWTSecret = envOrDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = envOrDefault("JWT_ISSUER", cfg.JWTIssuer)
	cfg.MailAPIKey = envOrDefault("RESEND_API_KEY", cfg.MailAPIKey)
	cfg.MailFrom = envOrDefault("MAIL_FROM", cfg.MailFrom)
	cfg.AppBaseURL = envOrDefault("APP_BASE_URL", cfg.AppBaseURL)
	cfg.CookieDomain = envOrDefault("COOKIE_DOMAIN", cfg.CookieDomain)
	cfg.CookieSecure = envBool("COOKIE_SECURE", cfg.CookieSecure)
	cfg.MFAInvalidatePrevious = envBool("MFA_INVALIDATE_PREVIOUS", cfg.MFAInvalidatePrevious)
	cfg.BcryptCost = envInt("BCRYPT_COST", cfg.BcryptCost)
	cfg.LockoutThreshold = envInt("LOCKOUT_THRESHOLD", cfg.LockoutThreshold)
	cfg.AccessTokenTTL = envDuration("ACCESS_TOKEN_TTL", cfg.AccessTokenTTL, &errs)
	cfg.RefreshTokenTTL = envDuration("REFRESH_TOKEN_TTL", cfg.RefreshTokenTTL, &errs)
	cfg.MFACodeTTL = envDuration("MFA_CODE_TTL", cfg.MFACodeTTL, &errs)
	cfg.ResetTokenTTL = envDuration("RESET_TOKEN_TTL", cfg.ResetTokenTTL, &errs)
	cfg.LockoutWindow = envDuration("LOCKOUT_WINDOW", cfg.LockoutWindow, &errs)
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate reports the settings the HTTP server cannot run without.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	} else if len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes"))
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.MFACodeTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.AccessTokenTTL >= c.RefreshTokenTTL {
		errs = append(errs, errors.New("access token lifetime must be shorter than refresh token lifetime"))
	}
	return errors.Join(errs...)
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if f.Server.Addr != "" {
		cfg.HTTPAddr = f.Server.Addr
	}
	if f.Server.LogLevel != "" {
		cfg.LogLevel = f.Server.LogLevel
	}
	if f.Dependencies.PostgresURL != "" {
		cfg.DatabaseURL = f.Dependencies.PostgresURL
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if f.Auth.JWTIssuer != "" {
		cfg.JWTIssuer = f.Auth.JWTIssuer
	}
	if f.Auth.MFAInvalidatePrevious != nil {
		cfg.MFAInvalidatePrevious = *f.Auth.MFAInvalidatePrevious
	}
	if f.Auth.BcryptCost > 0 {
		cfg.BcryptCost = f.Auth.BcryptCost
	}
	if f.Auth.LockoutThreshold > 0 {
		cfg.LockoutThreshold = f.Auth.LockoutThreshold
	}
	if f.Mail.From != "" {
		cfg.MailFrom = f.Mail.From
	}
	if f.Mail.AppBaseURL != "" {
		cfg.AppBaseURL = f.Mail.AppBaseURL
	}
	if f.Cookies.Domain != "" {
		cfg.CookieDomain = f.Cookies.Domain
	}
	if f.Cookies.Secure != nil {
		cfg.CookieSecure = *f.Cookies.Secure
	}

	durations := []struct {
		key    string
		raw    string
		target *time.Duration
	}{
		{"auth.access_token_ttl", f.Auth.AccessTokenTTL, &cfg.AccessTokenTTL},
		{"auth.refresh_token_ttl", f.Auth.RefreshTokenTTL, &cfg.RefreshTokenTTL},
		{"auth.mfa_code_ttl", f.Auth.MFACodeTTL, &cfg.MFACodeTTL},
		{"auth.reset_token_ttl", f.Auth.ResetTokenTTL, &cfg.ResetTokenTTL},
		{"auth.lockout_window", f.Auth.LockoutWindow, &cfg.LockoutWindow},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.target = parsed
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func envInt(key string, fallback int) int {
	value, err := strconv.Atoi(envOrDefault(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func envBool(key string, fallback bool) bool {
	value, err := strconv.ParseBool(envOrDefault(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func envDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := envOrDefault(key, "")
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return value
}
