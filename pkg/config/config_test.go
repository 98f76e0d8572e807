package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{
		Mode: ModeSingleUser,
		Session: SessionConfig{
			Secret: "0123456789abcdef0123456789abcdef",
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultPrefix, cfg.Server.Prefix)
	assert.Equal(t, DefaultTokenDuration, cfg.Session.TokenDuration)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: single-user
server:
  port: 9000
  prefix: /api
session:
  secret: 0123456789abcdef0123456789abcdef
  token_duration: 24h
logging:
  level: debug
  format: json
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/api", cfg.Server.Prefix)
	assert.Equal(t, 24*time.Hour, cfg.Session.TokenDuration)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	require.NoError(t, Validate(cfg))
}

func TestSecretEnvOverrides(t *testing.T) {
	t.Setenv("SESSION_SECRET", "env-secret-0123456789abcdef")
	t.Setenv("OIDC_CLIENT_SECRET", "oidc-env-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "env-secret-0123456789abcdef", cfg.Session.Secret)
	assert.Equal(t, "oidc-env-secret", cfg.Auth.Oidc.ClientSecret)
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, Validate(cfg))

	t.Run("missing secret", func(t *testing.T) {
		bad := validConfig()
		bad.Session.Secret = ""
		assert.Error(t, Validate(bad))
	})

	t.Run("short secret", func(t *testing.T) {
		bad := validConfig()
		bad.Session.Secret = "short"
		assert.Error(t, Validate(bad))
	})

	t.Run("bad mode", func(t *testing.T) {
		bad := validConfig()
		bad.Mode = "kiosk"
		assert.Error(t, Validate(bad))
	})

	t.Run("bad port", func(t *testing.T) {
		bad := validConfig()
		bad.Server.Port = 70000
		assert.Error(t, Validate(bad))
	})

	t.Run("multi-user requires oidc", func(t *testing.T) {
		bad := validConfig()
		bad.Mode = ModeMultiUser
		assert.Error(t, Validate(bad))

		bad.Auth.Type = "oidc"
		bad.Auth.Oidc = OidcConfig{
			IssuerUri:    "https://issuer.example.com",
			ClientId:     "client",
			RedirectBase: "https://store.example.com",
		}
		assert.NoError(t, Validate(bad))
	})
}
