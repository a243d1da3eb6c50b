// Package config loads the application configuration: a yaml file with
// ${ENV} expansion layered over built-in defaults.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds HTTP server settings for the API process.
type ServerConfig struct {
	HTTPPort        string        `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultServerConfig returns the built-in HTTP defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		HTTPPort:        "8080",
		ShutdownTimeout: 10 * time.Second,
	}
}

// AuthConfig holds JWT verification settings.
type AuthConfig struct {
	// JWTSecret is the HMAC secret bearer tokens are verified against.
	JWTSecret string `yaml:"jwt_secret"`
}

// Config is the root configuration shared by both processes.
type Config struct {
	Server  *ServerConfig `yaml:"server"`
	Outbox  *OutboxConfig `yaml:"outbox"`
	Broker  *BrokerConfig `yaml:"broker"`
	Routing RoutingConfig `yaml:"routing"`
	Auth    AuthConfig    `yaml:"auth"`
}

// Default returns a Config with every section at its defaults.
func Default() *Config {
	return &Config{
		Server:  DefaultServerConfig(),
		Outbox:  DefaultOutboxConfig(),
		Broker:  DefaultBrokerConfig(),
		Routing: DefaultRoutingConfig(),
	}
}

// Load reads a yaml config file, expands ${ENV} references, and overlays it
// on the defaults. A missing file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	expanded := expandEnv(string(raw))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// Omitted sections keep the defaults above, but a section written empty
	// or null decodes to nil; restore its defaults.
	if cfg.Server == nil {
		cfg.Server = DefaultServerConfig()
	}
	if cfg.Outbox == nil {
		cfg.Outbox = DefaultOutboxConfig()
	}
	if cfg.Broker == nil {
		cfg.Broker = DefaultBrokerConfig()
	}
	if cfg.Routing == nil {
		cfg.Routing = DefaultRoutingConfig()
	}

	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{(\w+)\}`)

// expandEnv substitutes ${VAR} with the environment value. Unset variables
// expand to the empty string.
func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		name := envRef.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}
