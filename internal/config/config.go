// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"pubsub/internal/couchbase"
	"pubsub/internal/pubsub/metrics"
	"pubsub/internal/pubsub/tracing"
)

const (
	BrokerGCP     = "gcp"
	BrokerChannel = "channel"
)

type Config struct {
	ProjectID              string        `env:"PROJECT_ID"`
	Broker                 string        `env:"BROKER" envDefault:"gcp"`
	DefaultTimeout         time.Duration `env:"DEFAULT_TIMEOUT" envDefault:"10s"`
	WorkerPoolSize         int           `env:"WORKER_POOL_SIZE" envDefault:"16"`
	DrainTimeout           time.Duration `env:"DRAIN_TIMEOUT" envDefault:"30s"`
	AckTimeout             time.Duration `env:"ACK_TIMEOUT" envDefault:"10s"`
	MaxOutstandingMessages int           `env:"MAX_OUTSTANDING_MESSAGES" envDefault:"1000"`
	ChannelBuffer          int64         `env:"CHANNEL_BUFFER" envDefault:"64"`
	LogLevel               string        `env:"LOG_LEVEL" envDefault:"info"`

	Database  DatabaseConfig       `envPrefix:"DATABASE_"`
	Couchbase couchbase.Config     `envPrefix:"COUCHBASE_"`
	Metrics   metrics.ServerConfig `envPrefix:"METRICS_"`
	Tracing   tracing.Config       `envPrefix:"TRACING_"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses environment, ignoring the process environment.
func LoadFrom(environment map[string]string) (Config, error) {
	return parse(env.Options{Environment: environment})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c Config) Validate() error {
	switch c.Broker {
	case BrokerGCP:
		if c.ProjectID == "" {
			return errors.New("PROJECT_ID is required for the gcp broker")
		}
	case BrokerChannel:
	default:
		return fmt.Errorf("unknown broker %q", c.Broker)
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("WORKER_POOL_SIZE must be positive, got %d", c.WorkerPoolSize)
	}
	return nil
}

// DatabaseConfig describes the SQL database behind transactional sessions,
// either as a full URL or as parts.
type DatabaseConfig struct {
	URL          string `env:"URL"`
	Dialect      string `env:"DIALECT"`
	Username     string `env:"USERNAME"`
	Password     string `env:"PASSWORD"`
	Host         string `env:"HOST"`
	Port         string `env:"PORT"`
	Name         string `env:"NAME"`
	SSLMode      string `env:"SSL_MODE" envDefault:"disable"`
	Async        bool   `env:"ASYNC" envDefault:"true"`
	MaxOpenConns int    `env:"MAX_OPEN_CONNS" envDefault:"10"`
}

const (
	defaultDatabaseName = "default_schema"
	defaultUsername     = "appuser"
)

var dialects = map[string]string{
	"postgres":   "postgres",
	"postgresql": "postgres",
	"sqlite":     "sqlite3",
	"sqlite3":    "sqlite3",
}

// Enabled reports whether a database is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.URL != "" || d.Dialect != ""
}

// DSN returns the database/sql driver name and data source name. A URL wins
// over parts; its scheme selects the driver.
func (d DatabaseConfig) DSN() (string, string, error) {
	if d.URL != "" {
		return d.fromURL()
	}

	dialect := strings.ToLower(strings.TrimSpace(d.Dialect))
	if dialect == "" {
		return "", "", errors.New("database dialect has not been configured")
	}
	driver, ok := dialects[dialect]
	if !ok {
		return "", "", fmt.Errorf("unsupported database dialect %q", d.Dialect)
	}

	name := strings.TrimSpace(d.Name)
	if name == "" {
		name = defaultDatabaseName
	}

	if driver == "sqlite3" {
		return driver, name, nil
	}

	username := strings.TrimSpace(d.Username)
	if username == "" {
		username = defaultUsername
	}
	host := d.Host
	if host == "" {
		host = "localhost"
	}
	if d.Port != "" {
		if _, err := strconv.Atoi(d.Port); err != nil {
			return "", "", fmt.Errorf("invalid database port %q", d.Port)
		}
		host = net.JoinHostPort(host, d.Port)
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(username, d.Password),
		Host:   host,
		Path:   "/" + name,
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {d.SSLMode}}.Encode()
	}

	return driver, u.String(), nil
}

func (d DatabaseConfig) fromURL() (string, string, error) {
	scheme, rest, ok := strings.Cut(d.URL, "://")
	if !ok {
		return "", "", fmt.Errorf("database url %q has no scheme", d.URL)
	}
	driver, ok := dialects[strings.ToLower(scheme)]
	if !ok {
		return "", "", fmt.Errorf("unsupported database dialect %q", scheme)
	}
	if driver == "sqlite3" {
		return driver, rest, nil
	}
	return driver, d.URL, nil
}
