// Package config loads the shared configuration for the relic gateway,
// pipeline worker and CLI.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ConfigDirEnv names the directory holding config.yaml.
const ConfigDirEnv = "RELIC_CONFIG_DIR"

const defaultConfigDir = "/etc/relic"

// Config is the full process configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Ingress  IngressConfig  `mapstructure:"ingress" yaml:"ingress"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	NATS     NATSConfig     `mapstructure:"nats" yaml:"nats"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds the gateway's HTTP listener settings.
type ServerConfig struct {
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// IngressConfig holds gateway credentials and request limits. ClientID and
// ClientAPIKey come from CLIENT_ID / CLIENT_API_KEY; Clients adds more
// pairs from the config file.
type IngressConfig struct {
	ClientID     string            `mapstructure:"client_id" yaml:"client_id"`
	ClientAPIKey string            `mapstructure:"client_api_key" yaml:"client_api_key"`
	Clients      map[string]string `mapstructure:"clients" yaml:"clients"`
	MaxBodyBytes int64             `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	CORSOrigins  []string          `mapstructure:"cors_origins" yaml:"cors_origins"`
	RateLimit    RateLimitConfig   `mapstructure:"rate_limit" yaml:"rate_limit"`
	// UsageFlushInterval is how often per-client usage is written to Redis.
	// Zero disables usage tracking.
	UsageFlushInterval time.Duration `mapstructure:"usage_flush_interval" yaml:"usage_flush_interval"`
}

// Credentials merges the single env pair with the configured client map.
func (c IngressConfig) Credentials() map[string]string {
	creds := make(map[string]string, len(c.Clients)+1)
	for id, key := range c.Clients {
		creds[id] = key
	}
	if c.ClientID != "" {
		creds[c.ClientID] = c.ClientAPIKey
	}
	return creds
}

// RateLimitConfig configures the optional per-client sliding window.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Requests int           `mapstructure:"requests" yaml:"requests"`
	Window   time.Duration `mapstructure:"window" yaml:"window"`
}

// RedisConfig locates the queue backend.
type RedisConfig struct {
	Host        string        `mapstructure:"host" yaml:"host"`
	Port        int           `mapstructure:"port" yaml:"port"`
	Password    string        `mapstructure:"password" yaml:"password"`
	DB          int           `mapstructure:"db" yaml:"db"`
	PoolSize    int           `mapstructure:"pool_size" yaml:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// PostgresConfig locates the relational store. A non-empty
// ConnectionString wins over the individual fields.
type PostgresConfig struct {
	ConnectionString string `mapstructure:"connection_string" yaml:"connection_string"`
	Host             string `mapstructure:"host" yaml:"host"`
	Port             int    `mapstructure:"port" yaml:"port"`
	Database         string `mapstructure:"database" yaml:"database"`
	User             string `mapstructure:"user" yaml:"user"`
	Password         string `mapstructure:"password" yaml:"password"`
	SSLMode          string `mapstructure:"sslmode" yaml:"sslmode"`
}

// DSN returns a postgres:// URL for pgx.
func (p PostgresConfig) DSN() string {
	if p.ConnectionString != "" {
		return p.ConnectionString
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   "/" + p.Database,
	}
	if p.User != "" {
		if p.Password != "" {
			u.User = url.UserPassword(p.User, p.Password)
		} else {
			u.User = url.User(p.User)
		}
	}
	if p.SSLMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(p.SSLMode)
	}
	return u.String()
}

// PipelineConfig tunes the worker loop. PollTimeout of zero blocks on the
// queue indefinitely.
type PipelineConfig struct {
	Channel     string        `mapstructure:"channel" yaml:"channel"`
	PollTimeout time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	ErrorPause  time.Duration `mapstructure:"error_pause" yaml:"error_pause"`
	MetricsPort int           `mapstructure:"metrics_port" yaml:"metrics_port"`
	// DLQDir receives error records the store rejects. Empty disables it.
	DLQDir string `mapstructure:"dlq_dir" yaml:"dlq_dir"`
}

// NATSConfig controls best-effort record notifications.
type NATSConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxReconnects int           `mapstructure:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load reads configuration from path, or from $RELIC_CONFIG_DIR/config.yaml
// when path is empty, then applies environment overrides. A missing file is
// not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		dir := os.Getenv(ConfigDirEnv)
		if dir == "" {
			dir = defaultConfigDir
		}
		path = filepath.Join(dir, "config.yaml")
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindLegacyEnv(v)

	fileRead := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		fileRead = false
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// viper lowercases map keys; client ids are matched exactly.
	if fileRead {
		clients, err := fileClients(path)
		if err != nil {
			return nil, err
		}
		if clients != nil {
			cfg.Ingress.Clients = clients
		}
	}
	return &cfg, nil
}

// fileClients reads ingress.clients from the YAML file with its keys as
// written. It returns nil when the file has no clients section.
func fileClients(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var doc struct {
		Ingress struct {
			Clients map[string]string `yaml:"clients"`
		} `yaml:"ingress"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to read ingress.clients: %w", err)
	}
	return doc.Ingress.Clients, nil
}

// bindLegacyEnv maps the flat variable names used by the docker deployment.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("ingress.client_id", "INGRESS_CLIENT_ID", "CLIENT_ID")
	_ = v.BindEnv("ingress.client_api_key", "INGRESS_CLIENT_API_KEY", "CLIENT_API_KEY")
	_ = v.BindEnv("redis.host", "REDIS_HOST")
	_ = v.BindEnv("redis.port", "REDIS_PORT")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("postgres.connection_string", "POSTGRES_CONNECTION_STRING")
	_ = v.BindEnv("postgres.host", "POSTGRES_HOST")
	_ = v.BindEnv("postgres.port", "POSTGRES_PORT")
	_ = v.BindEnv("postgres.database", "POSTGRES_DB", "POSTGRES_DATABASE")
	_ = v.BindEnv("postgres.user", "POSTGRES_USER")
	_ = v.BindEnv("postgres.password", "POSTGRES_PASSWORD")
	_ = v.BindEnv("postgres.sslmode", "POSTGRES_SSLMODE")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("ingress.client_id", "")
	v.SetDefault("ingress.client_api_key", "")
	v.SetDefault("ingress.max_body_bytes", 1<<20)
	v.SetDefault("ingress.cors_origins", []string{"http://localhost", "http://localhost:8080"})
	v.SetDefault("ingress.rate_limit.enabled", false)
	v.SetDefault("ingress.rate_limit.requests", 600)
	v.SetDefault("ingress.rate_limit.window", "1m")
	v.SetDefault("ingress.usage_flush_interval", "10s")

	v.SetDefault("redis.host", "redis")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", "5s")

	v.SetDefault("postgres.connection_string", "")
	v.SetDefault("postgres.host", "postgres")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.database", "relic")
	v.SetDefault("postgres.user", "")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("pipeline.channel", "hub-inbox")
	v.SetDefault("pipeline.poll_timeout", "0s")
	v.SetDefault("pipeline.error_pause", "1s")
	v.SetDefault("pipeline.metrics_port", 0)
	v.SetDefault("pipeline.dlq_dir", "")

	v.SetDefault("nats.url", "nats://nats:4222")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

const redacted = "********"

// Redacted returns a copy with every secret replaced, for display.
func (c Config) Redacted() Config {
	out := c
	if out.Ingress.ClientAPIKey != "" {
		out.Ingress.ClientAPIKey = redacted
	}
	if len(c.Ingress.Clients) > 0 {
		out.Ingress.Clients = make(map[string]string, len(c.Ingress.Clients))
		for id := range c.Ingress.Clients {
			out.Ingress.Clients[id] = redacted
		}
	}
	if out.Redis.Password != "" {
		out.Redis.Password = redacted
	}
	if out.Postgres.Password != "" {
		out.Postgres.Password = redacted
	}
	if out.Postgres.ConnectionString != "" {
		if u, err := url.Parse(out.Postgres.ConnectionString); err == nil && u.User != nil {
			if _, ok := u.User.Password(); ok {
				u.User = url.UserPassword(u.User.Username(), "xxxxx")
				out.Postgres.ConnectionString = strings.Replace(u.String(), "xxxxx", redacted, 1)
			}
		}
	}
	return out
}
