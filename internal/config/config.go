// Package config loads the process settings once at startup.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAppName            = "moms"
	defaultPort               = "8080"
	defaultTokenExpireMinutes = 24 * 60
	defaultRequestTimeout     = 10
	generatedSecretBytes      = 32
)

// Config is built by Load and never mutated afterwards. Components receive it
// (or the fields they need) through their constructors.
type Config struct {
	AppName   string
	AppEnv    string
	Port      string
	APIPrefix string

	DatabaseURL           string
	DBMaxOpenConns        int
	DBMaxIdleConns        int
	DBConnMaxLifetime     time.Duration
	DBConnMaxIdleTime     time.Duration
	RunMigrations         bool
	RequestTimeout        time.Duration
	RequireActiveUser     bool
	CORSAllowedOrigins    []string
	SentryDSN             string
	AdminEmail            string
	AdminPassword         string
	SecretKey             string
	SecretGenerated       bool
	AccessTokenExpiration time.Duration
	BcryptCost            int
}

// Load reads the configuration through getenv, normally os.Getenv.
func Load(getenv func(string) string) (*Config, error) {
	env := envReader(getenv)

	databaseURL, err := env.required("DATABASE_URL")
	if err != nil {
		return nil, err
	}

	origins, err := parseOrigins(env.str("BACKEND_CORS_ORIGINS", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppName:               env.str("APP_NAME", defaultAppName),
		AppEnv:                env.str("APP_ENV", "development"),
		Port:                  env.str("PORT", defaultPort),
		APIPrefix:             normalizePrefix(env.str("API_PREFIX", "")),
		DatabaseURL:           databaseURL,
		DBMaxOpenConns:        env.integer("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:        env.integer("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime:     time.Duration(env.integer("DB_CONN_MAX_LIFETIME_MINUTES", 30)) * time.Minute,
		DBConnMaxIdleTime:     time.Duration(env.integer("DB_CONN_MAX_IDLE_TIME_MINUTES", 10)) * time.Minute,
		RunMigrations:         env.boolean("RUN_MIGRATIONS_ON_STARTUP", true),
		RequestTimeout:        time.Duration(env.integer("REQUEST_TIMEOUT_SECONDS", defaultRequestTimeout)) * time.Second,
		RequireActiveUser:     env.boolean("REQUIRE_ACTIVE_USER", false),
		CORSAllowedOrigins:    origins,
		SentryDSN:             env.str("SENTRY_DSN", ""),
		AdminEmail:            env.str("ADMIN_EMAIL", ""),
		AdminPassword:         env.str("ADMIN_PASSWORD", ""),
		SecretKey:             env.str("SECRET_KEY", ""),
		AccessTokenExpiration: time.Duration(env.integer("ACCESS_TOKEN_EXPIRE_MINUTES", defaultTokenExpireMinutes)) * time.Minute,
		BcryptCost:            clampCost(env.integer("BCRYPT_COST", bcrypt.DefaultCost)),
	}

	if cfg.SecretKey == "" {
		secret, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate secret key: %w", err)
		}
		cfg.SecretKey = secret
		cfg.SecretGenerated = true
	}

	return cfg, nil
}

type envReader func(string) string

func (e envReader) str(name, fallback string) string {
	value := strings.TrimSpace(e(name))
	if value == "" {
		return fallback
	}
	return value
}

func (e envReader) required(name string) (string, error) {
	value := strings.TrimSpace(e(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func (e envReader) integer(name string, fallback int) int {
	value := strings.TrimSpace(e(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func (e envReader) boolean(name string, fallback bool) bool {
	return ParseBool(e(name), fallback)
}

// ParseBool accepts the usual spellings of on/off switches.
func ParseBool(value string, fallback bool) bool {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseOrigins(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}

	var origins []string
	for _, part := range strings.Split(raw, ",") {
		origin := strings.TrimRight(strings.TrimSpace(part), "/")
		if origin == "" {
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid cors origin: %q", part)
		}
		origins = append(origins, origin)
	}

	return origins, nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}

func clampCost(cost int) int {
	if cost < bcrypt.MinCost {
		return bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		return bcrypt.MaxCost
	}
	return cost
}

func generateSecret() (string, error) {
	b := make([]byte, generatedSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
