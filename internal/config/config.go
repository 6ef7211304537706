package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	DefaultUpstreamURL = "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-12-17"
	DefaultSubprotocol = "realtime"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Admin    AdminConfig    `yaml:"admin"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Host           string        `yaml:"host" env:"RELAY_HOST"`
	Port           int           `yaml:"port" env:"PORT"`
	Path           string        `yaml:"path"`
	Subprotocol    string        `yaml:"subprotocol"`
	PingInterval   time.Duration `yaml:"ping_interval" env:"RELAY_PING_INTERVAL"`
	PingTimeout    time.Duration `yaml:"ping_timeout" env:"RELAY_PING_TIMEOUT"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"RELAY_ALLOWED_ORIGINS"`
}

type UpstreamConfig struct {
	URL              string        `yaml:"url" env:"RELAY_UPSTREAM_URL"`
	Subprotocol      string        `yaml:"subprotocol"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	// APIKey is never read from the config file.
	APIKey string `yaml:"-" env:"OPENAI_API_KEY"`
}

type AdminConfig struct {
	// Addr is the listen address of the admin endpoint. Empty disables it.
	Addr             string `yaml:"addr" env:"RELAY_ADMIN_ADDR"`
	FailureThreshold int    `yaml:"failure_threshold"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         3000,
			Path:         "/",
			Subprotocol:  DefaultSubprotocol,
			PingInterval: 20 * time.Second,
			PingTimeout:  20 * time.Second,
		},
		Upstream: UpstreamConfig{
			URL:              DefaultUpstreamURL,
			Subprotocol:      DefaultSubprotocol,
			HandshakeTimeout: 45 * time.Second,
		},
		Admin: AdminConfig{
			FailureThreshold: 3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Default returns the built-in configuration without reading a file or the
// environment.
func Default() *Config {
	return defaultConfig()
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the process environment, in that order.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Upstream.APIKey == "" {
		return errors.New("OPENAI_API_KEY must be set")
	}
	if c.Upstream.URL == "" {
		return errors.New("upstream url must be set")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Server.Path == "" {
		return errors.New("server path must be set")
	}
	if c.Server.PingInterval > 0 && c.Server.PingTimeout <= 0 {
		return errors.New("ping_timeout must be positive when ping_interval is set")
	}
	return nil
}

// Addr returns the relay listen address in host:port form.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
