// Package config reads the service configuration from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	BackendTables = "tables"
	BackendSQL    = "sql"
)

// Config holds every setting of the board service and its tools.
type Config struct {
	Debug bool

	StorageBackend  string
	StorageConnStr  string
	BoardTable      string
	ProjectsTable   string
	EventsQueue     string
	DatabaseURL     string
	RedisConnStr    string
	BoardCacheTTL   time.Duration
	ProjectCacheTTL time.Duration
	DeduperTTL      time.Duration
	UpdatesChannel  string
	OverdueInterval time.Duration
	OverdueRenotify time.Duration
	ListenAddr      string
	Auth0Domain     string
	Auth0Audience   string
	AuthTestSecret  string
	JWKSCacheTTL    time.Duration
}

// Load reads an optional .env file and then the environment. Variables that
// are already set win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("unable to read .env file")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}
	c := Config{
		Debug:           p.bool("DEBUG"),
		StorageBackend:  strings.ToLower(p.str("STORAGE_BACKEND", BackendTables)),
		StorageConnStr:  p.str("STORAGE_CONNECTION_STRING", ""),
		BoardTable:      p.str("BOARD_TABLE", "board"),
		ProjectsTable:   p.str("PROJECTS_TABLE", "projects"),
		EventsQueue:     p.str("EVENTS_QUEUE", ""),
		DatabaseURL:     p.str("DATABASE_URL", ""),
		RedisConnStr:    p.str("REDIS_CONNECTION_STRING", ""),
		BoardCacheTTL:   p.duration("BOARD_CACHE_TTL", 5*time.Minute),
		ProjectCacheTTL: p.duration("PROJECT_CACHE_TTL", time.Minute),
		DeduperTTL:      p.duration("DEDUPER_TTL", 24*time.Hour),
		UpdatesChannel:  p.str("BOARD_UPDATES_CHANNEL", "board-updates"),
		OverdueInterval: p.duration("OVERDUE_SWEEP_INTERVAL", 15*time.Minute),
		OverdueRenotify: p.duration("OVERDUE_RENOTIFY_AFTER", 24*time.Hour),
		ListenAddr:      ":8080",
		Auth0Domain:     p.str("AUTH0_DOMAIN", ""),
		Auth0Audience:   p.str("AUTH0_AUDIENCE", ""),
		JWKSCacheTTL:    p.duration("JWKS_CACHE_TTL", 15*time.Minute),
	}
	if v := p.str("LISTEN_ADDR", ""); v != "" {
		c.ListenAddr = v
	} else if v := p.str("FUNCTIONS_CUSTOMHANDLER_PORT", ""); v != "" {
		c.ListenAddr = ":" + v
	}
	if p.str("AUTH0_TEST_MODE", "") == "1" {
		c.AuthTestSecret = p.str("TEST_JWT_SECRET", "")
		if c.AuthTestSecret == "" {
			p.errs = append(p.errs, errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1"))
		}
	}
	if c.StorageBackend != BackendTables && c.StorageBackend != BackendSQL {
		p.errs = append(p.errs, fmt.Errorf("unsupported STORAGE_BACKEND %q", c.StorageBackend))
	}
	return c, errors.Join(p.errs...)
}

// CheckStorage reports missing settings of the selected storage backend.
func (c Config) CheckStorage() error {
	switch c.StorageBackend {
	case BackendSQL:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the sql backend")
		}
	default:
		if c.StorageConnStr == "" || c.BoardTable == "" || c.ProjectsTable == "" {
			return errors.New("missing storage config")
		}
	}
	return nil
}

// CheckServer reports settings the API server cannot start without.
func (c Config) CheckServer() error {
	var errs []error
	if err := c.CheckStorage(); err != nil {
		errs = append(errs, err)
	}
	if c.RedisConnStr == "" {
		errs = append(errs, errors.New("missing redis config"))
	}
	if c.AuthTestSecret == "" && (c.Auth0Domain == "" || c.Auth0Audience == "") {
		errs = append(errs, errors.New("missing Auth0 config"))
	}
	return errors.Join(errs...)
}

// Issuer is the expected token issuer for the configured Auth0 tenant.
func (c Config) Issuer() string {
	if c.Auth0Domain == "" {
		return ""
	}
	return "https://" + c.Auth0Domain + "/"
}

// JWKSURL is the key set location of the configured Auth0 tenant.
func (c Config) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", c.Auth0Domain)
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) bool(key string) bool {
	raw := p.getenv(key)
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := p.getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %q", key, raw))
		return def
	}
	return d
}

// RedisOptions accepts either a redis:// URL or the Azure style
// "host:port,password=...,ssl=true" connection string.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "password":
			opts.Password = v
		case "ssl":
			if strings.EqualFold(v, "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
