// Package config loads the server configuration from file, environment
// and defaults.
//
// Configuration sources, in order of precedence:
//  1. CLI flags (bound by the command layer)
//  2. Environment variables (API_STORE_*)
//  3. Configuration file (YAML)
//  4. Default values
//
// SESSION_SECRET and OIDC_CLIENT_SECRET are additionally honored
// without the prefix so secrets can be injected the way container
// runtimes usually do.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Modes the server runs in.
const (
	ModeSingleUser = "single-user"
	ModeMultiUser  = "multi-user"
)

// Config is the complete server configuration.
type Config struct {
	// Mode selects single-user (no authentication, implicit default
	// user) or multi-user (OIDC login) operation.
	Mode string `mapstructure:"mode" validate:"required,oneof=single-user multi-user" yaml:"mode"`

	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Data    DataConfig    `mapstructure:"data" yaml:"data"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is the minimum level to output: debug, info, warn, error.
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error" yaml:"level"`

	// Format is "console" or "json".
	Format string `mapstructure:"format" validate:"required,oneof=console json" yaml:"format"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" yaml:"output"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Port is the TCP port the API listens on.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// Prefix is the route prefix all API paths live under.
	Prefix string `mapstructure:"prefix" validate:"required,startswith=/" yaml:"prefix"`

	// ShutdownTimeout bounds graceful shutdown on SIGINT.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// RequestTimeout bounds a single request.
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"required,gt=0" yaml:"request_timeout"`
}

// DataConfig locates the database.
type DataConfig struct {
	// Path is the database directory. Empty runs fully in memory and
	// loses everything on restart.
	Path string `mapstructure:"path" yaml:"path"`
}

// SessionConfig configures token signing.
type SessionConfig struct {
	// Secret signs session tokens and seals pagination cursors.
	// Override: API_STORE_SESSION_SECRET or SESSION_SECRET.
	Secret string `mapstructure:"secret" validate:"required,min=16" yaml:"secret,omitempty"`

	// TokenDuration is the session token lifetime.
	TokenDuration time.Duration `mapstructure:"token_duration" validate:"required,gt=0" yaml:"token_duration"`
}

// AuthConfig configures authentication in multi-user mode.
type AuthConfig struct {
	// Type names the authentication scheme. Only "oidc" is supported.
	Type string `mapstructure:"type" validate:"omitempty,oneof=oidc" yaml:"type,omitempty"`

	Oidc OidcConfig `mapstructure:"oidc" yaml:"oidc"`
}

// OidcConfig holds the OpenID Connect client settings.
type OidcConfig struct {
	// IssuerUri is the provider's issuer URL, used for discovery.
	IssuerUri string `mapstructure:"issuer_uri" validate:"omitempty,url" yaml:"issuer_uri,omitempty"`

	ClientId string `mapstructure:"client_id" yaml:"client_id,omitempty"`

	// ClientSecret override: API_STORE_AUTH_OIDC_CLIENT_SECRET or
	// OIDC_CLIENT_SECRET.
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret,omitempty"`

	// RedirectBase is the externally visible base URL the provider
	// redirects back to after login.
	RedirectBase string `mapstructure:"redirect_base" validate:"omitempty,url" yaml:"redirect_base,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled exposes /metrics on the API port.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load reads the configuration. An empty configPath falls back to the
// default location; a missing file is not an error, defaults apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	ApplyDefaults(&cfg)
	applySecretOverrides(&cfg)

	return &cfg, nil
}

// setupViper wires the environment and file sources. Environment
// variables use the API_STORE_ prefix with underscores, e.g.
// API_STORE_LOGGING_LEVEL=debug.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("API_STORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(configDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	return nil
}

// applySecretOverrides honors the un-prefixed secret variables.
func applySecretOverrides(cfg *Config) {
	if s := os.Getenv("SESSION_SECRET"); s != "" {
		cfg.Session.Secret = s
	}
	if s := os.Getenv("OIDC_CLIENT_SECRET"); s != "" {
		cfg.Auth.Oidc.ClientSecret = s
	}
}

// configDir returns the configuration directory, honoring
// XDG_CONFIG_HOME.
func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "api-store")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "api-store")
}
