package config

import "time"

// Default values applied when neither file, environment, nor flags set
// a field.
const (
	DefaultPort            = 8080
	DefaultPrefix          = "/v1"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
	DefaultTokenDuration   = 7 * 24 * time.Hour
)

// ApplyDefaults fills unset fields in place. Mode and the session
// secret have no defaults: the command layer supplies the mode and the
// secret must be provided explicitly.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.Prefix == "" {
		cfg.Server.Prefix = DefaultPrefix
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = DefaultRequestTimeout
	}

	if cfg.Session.TokenDuration == 0 {
		cfg.Session.TokenDuration = DefaultTokenDuration
	}
}
