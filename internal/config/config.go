package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Skotchmaster/vera/internal/hash"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	LogLevel    string

	JWTSecret        []byte
	JWTRefreshSecret []byte
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	ResetTokenTTL    time.Duration

	Argon2 hash.Config

	PurgeDelay    time.Duration
	PurgeInterval time.Duration
	JanitorGrace  time.Duration

	CSRFTokenTTL      time.Duration
	CSRFEnforceOrigin bool
	RedisAddr         string

	KafkaBrokers []string
	CookieSecure bool
	CORSOrigins  []string
}

// Load reads .env when present and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() (Config, error) {
	var errs []error
	p := parser{errs: &errs}

	argon := hash.DefaultConfig()
	argon.MemoryKB = uint32(p.uintDefault("ARGON2_MEMORY_KB", uint64(argon.MemoryKB), 32))
	argon.Time = uint32(p.uintDefault("ARGON2_TIME", uint64(argon.Time), 32))
	argon.Parallelism = uint8(p.uintDefault("ARGON2_PARALLELISM", uint64(argon.Parallelism), 8))

	cfg := Config{
		HTTPAddr:    EnvDefault("HTTP_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogLevel:    EnvDefault("LOG_LEVEL", "info"),

		JWTSecret:        []byte(p.must("JWT_SECRET")),
		JWTRefreshSecret: []byte(os.Getenv("JWT_REFRESH_SECRET")),
		AccessTokenTTL:   p.durationDefault("ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL:  p.durationDefault("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		ResetTokenTTL:    p.durationDefault("RESET_TOKEN_TTL", 15*time.Minute),

		Argon2: argon,

		PurgeDelay:    p.durationDefault("BLACKLIST_PURGE_DELAY", 2*time.Minute),
		PurgeInterval: p.durationDefault("BLACKLIST_PURGE_INTERVAL", 60*time.Minute),
		JanitorGrace:  p.durationDefault("JANITOR_SHUTDOWN_GRACE", 10*time.Second),

		CSRFTokenTTL:      p.durationDefault("CSRF_TOKEN_TTL", 24*time.Hour),
		CSRFEnforceOrigin: p.boolDefault("CSRF_ENFORCE_ORIGIN", false),
		RedisAddr:         os.Getenv("REDIS_ADDR"),

		KafkaBrokers: CSV(os.Getenv("KAFKA_BROKERS")),
		CookieSecure: p.boolDefault("COOKIE_SECURE", true),
		CORSOrigins:  CSV(os.Getenv("CORS_ORIGINS")),
	}
	if len(cfg.JWTRefreshSecret) == 0 {
		cfg.JWTRefreshSecret = cfg.JWTSecret
	}
	if cfg.PurgeInterval <= 0 {
		errs = append(errs, errors.New("BLACKLIST_PURGE_INTERVAL must be positive"))
	}
	return cfg, errors.Join(errs...)
}

func CSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func EnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// parser collects every malformed variable instead of stopping at the first.
type parser struct {
	errs *[]error
}

func (p parser) fail(key, v string, err error) {
	*p.errs = append(*p.errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
}

func (p parser) must(key string) string {
	v := os.Getenv(key)
	if v == "" {
		*p.errs = append(*p.errs, fmt.Errorf("missing required env %s", key))
	}
	return v
}

// uintDefault parses a positive integer that must fit in bits.
func (p parser) uintDefault(key string, def uint64, bits int) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, bits)
	if err == nil && n == 0 {
		err = errors.New("must be positive")
	}
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

func (p parser) durationDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return d
}

func (p parser) boolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return b
}
