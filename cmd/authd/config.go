package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	auth "github.com/goliatone/go-auth-accounts"
	"github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
)

type serverConfig struct {
	Addr           string
	DatabaseDriver string
	DatabaseDSN    string
	RedisURL       string
	SessionKey     string
	StateEncKey    string
	StateHMACKey   string
	SecureCookies  bool
	PurgeInterval  time.Duration
	MetricsPath    string

	Auth auth.Config
}

func (c serverConfig) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required),
		validation.Field(&c.DatabaseDriver, validation.Required, validation.In("sqlite", "postgres")),
		validation.Field(&c.DatabaseDSN, validation.Required),
		validation.Field(&c.SessionKey, validation.Required, validation.Length(32, 0)),
		validation.Field(&c.StateEncKey, validation.Required, validation.Length(32, 32)),
		validation.Field(&c.StateHMACKey, validation.Required, validation.Length(32, 0)),
	)
	if err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "invalid server configuration")
	}
	return c.Auth.Validate()
}

// loadConfig reads AUTH_* variables, a .env file in the working directory
// is loaded first when present.
func loadConfig(logger auth.Logger) (serverConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("could not load .env file: %v", err)
	}

	cfg := auth.DefaultConfig()
	cfg.TokenTTL = envDuration("AUTH_TOKEN_TTL", cfg.TokenTTL)
	cfg.SupersedeOnIssue = envBool("AUTH_SUPERSEDE_TOKENS", cfg.SupersedeOnIssue)
	cfg.PasswordMinLength = envInt("AUTH_PASSWORD_MIN_LENGTH", cfg.PasswordMinLength)
	cfg.BcryptCost = envInt("AUTH_BCRYPT_COST", cfg.BcryptCost)
	cfg.RefreshProviderEmail = envBool("AUTH_REFRESH_PROVIDER_EMAIL", cfg.RefreshProviderEmail)
	cfg.JoinLinkBase = envString("AUTH_JOIN_LINK_BASE", cfg.JoinLinkBase)
	cfg.ResetLinkBase = envString("AUTH_RESET_LINK_BASE", cfg.ResetLinkBase)
	cfg.AppleClientID = envString("AUTH_APPLE_CLIENT_ID", "")
	cfg.GoogleClientID = envString("AUTH_GOOGLE_CLIENT_ID", "")
	cfg.RedirectStateTTL = envDuration("AUTH_REDIRECT_STATE_TTL", cfg.RedirectStateTTL)
	cfg.OperationTimeout = envDuration("AUTH_OPERATION_TIMEOUT", cfg.OperationTimeout)

	server := serverConfig{
		Addr:           envString("AUTH_ADDR", ":8080"),
		DatabaseDriver: strings.ToLower(envString("AUTH_DATABASE_DRIVER", "sqlite")),
		DatabaseDSN:    envString("AUTH_DATABASE_DSN", "file:auth.db?cache=shared"),
		RedisURL:       envString("AUTH_REDIS_URL", ""),
		SessionKey:     envString("AUTH_SESSION_KEY", ""),
		StateEncKey:    envString("AUTH_STATE_ENC_KEY", ""),
		StateHMACKey:   envString("AUTH_STATE_HMAC_KEY", ""),
		SecureCookies:  envBool("AUTH_SECURE_COOKIES", true),
		PurgeInterval:  envDuration("AUTH_PURGE_INTERVAL", 10*time.Minute),
		MetricsPath:    envString("AUTH_METRICS_PATH", "/metrics"),
		Auth:           cfg,
	}

	if err := server.Validate(); err != nil {
		return serverConfig{}, err
	}
	return server, nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(envString(key, "")); err == nil {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(envString(key, "")); err == nil {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(envString(key, "")); err == nil {
		return v
	}
	return def
}
