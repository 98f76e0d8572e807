package commands

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/apiclient/api-store/internal/logger"
	"github.com/apiclient/api-store/pkg/api"
	"github.com/apiclient/api-store/pkg/auth/oidc"
	"github.com/apiclient/api-store/pkg/config"
	"github.com/apiclient/api-store/pkg/cursor"
	"github.com/apiclient/api-store/pkg/event"
	badgerkv "github.com/apiclient/api-store/pkg/kv/badger"
	"github.com/apiclient/api-store/pkg/metrics"
	"github.com/apiclient/api-store/pkg/session"
	"github.com/apiclient/api-store/pkg/store"
	"github.com/apiclient/api-store/pkg/token"
)

// serveFlags carries the flag values of one mode command. Only flags
// the user actually set override the file and environment config.
type serveFlags struct {
	port             int
	prefix           string
	dataPath         string
	sessionSecret    string
	authType         string
	oidcIssuerUri    string
	oidcClientId     string
	oidcClientSecret string
	oidcRedirectBase string
	metricsEnabled   bool
}

func newModeCommand(mode, short, long string) *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   mode,
		Short: short,
		Long:  long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, mode, &flags)
		},
	}

	cmd.Flags().IntVar(&flags.port, "port", config.DefaultPort, "TCP port to listen on")
	cmd.Flags().StringVar(&flags.prefix, "prefix", config.DefaultPrefix, "route prefix for all API paths")
	cmd.Flags().StringVar(&flags.dataPath, "data-path", "", "database directory (empty: in-memory)")
	cmd.Flags().StringVar(&flags.sessionSecret, "session-secret", "", "secret for token signing and cursor sealing")
	cmd.Flags().StringVar(&flags.authType, "auth-type", "oidc", "authentication scheme (multi-user)")
	cmd.Flags().StringVar(&flags.oidcIssuerUri, "oidc-issuer-uri", "", "OIDC issuer URL")
	cmd.Flags().StringVar(&flags.oidcClientId, "oidc-client-id", "", "OIDC client id")
	cmd.Flags().StringVar(&flags.oidcClientSecret, "oidc-client-secret", "", "OIDC client secret")
	cmd.Flags().StringVar(&flags.oidcRedirectBase, "oidc-redirect-base", "", "externally visible base URL for the OIDC callback")
	cmd.Flags().BoolVar(&flags.metricsEnabled, "metrics", false, "expose Prometheus metrics on /metrics")

	return cmd
}

func runServe(cmd *cobra.Command, mode string, flags *serveFlags) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg.Mode = mode
	applyFlags(cmd, cfg, flags)

	// A single-user instance is usable with zero configuration; a
	// random per-process secret just means tokens die with the process.
	if cfg.Mode == config.ModeSingleUser && cfg.Session.Secret == "" {
		secret, err := randomSecret()
		if err != nil {
			return fmt.Errorf("generating session secret: %w", err)
		}
		cfg.Session.Secret = secret
	}

	if err := config.Validate(cfg); err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := badgerkv.Open(badgerkv.Options{Path: cfg.Data.Path, Logger: log})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Error().Err(err).Msg("closing database")
		}
	}()
	if cfg.Data.Path == "" {
		log.Warn().Msg("no data path configured, running in memory")
	}

	tokens, err := token.NewService(token.Config{
		Secret:   cfg.Session.Secret,
		Duration: cfg.Session.TokenDuration,
	})
	if err != nil {
		return fmt.Errorf("initializing token service: %w", err)
	}
	codec, err := cursor.NewCodec(cfg.Session.Secret)
	if err != nil {
		return fmt.Errorf("initializing cursor codec: %w", err)
	}

	bus := event.NewBus(log)
	sessions := session.New(engine, tokens, log)
	singleUser := cfg.Mode == config.ModeSingleUser

	st := store.New(engine, store.Options{
		Prefix:     cfg.Server.Prefix,
		SingleUser: singleUser,
		Cursor:     codec,
		Bus:        bus,
		Logger:     log,
	})
	if err := st.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrapping store: %w", err)
	}

	var authenticator *oidc.Authenticator
	if !singleUser {
		authenticator, err = oidc.New(ctx, oidc.Config{
			IssuerUri:    cfg.Auth.Oidc.IssuerUri,
			ClientId:     cfg.Auth.Oidc.ClientId,
			ClientSecret: cfg.Auth.Oidc.ClientSecret,
			RedirectBase: cfg.Auth.Oidc.RedirectBase,
			Prefix:       cfg.Server.Prefix,
		}, log)
		if err != nil {
			return fmt.Errorf("oidc discovery: %w", err)
		}
	}

	m := metrics.New(cfg.Metrics.Enabled)
	if m != nil {
		bus.OnPublish(m.RecordEvent)
		log.Info().Msg("metrics enabled")
	}

	router := api.NewRouter(api.RouterOptions{
		Mode:           cfg.Mode,
		Prefix:         cfg.Server.Prefix,
		SingleUser:     singleUser,
		Store:          st,
		Sessions:       sessions,
		Tokens:         tokens,
		Bus:            bus,
		Auth:           authenticator,
		Metrics:        m,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         log,
	})
	server := api.NewServer(router, api.ServerOptions{
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Logger:          log,
	})

	log.Info().
		Str("mode", cfg.Mode).
		Str("prefix", cfg.Server.Prefix).
		Int("port", cfg.Server.Port).
		Msg("starting")

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		log.Info().Msg("shutdown signal received")
		cancel()
		err = <-serverDone
	case err = <-serverDone:
		signal.Stop(sigChan)
	}

	// Hijacked WebSocket connections survive Shutdown; drop them so
	// the engine can flush and close cleanly.
	bus.CloseAll()

	if err != nil {
		return err
	}
	log.Info().Msg("stopped")
	return nil
}

// applyFlags copies flag values the user set explicitly onto the
// loaded configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config, flags *serveFlags) {
	set := cmd.Flags().Changed

	if set("port") {
		cfg.Server.Port = flags.port
	}
	if set("prefix") {
		cfg.Server.Prefix = flags.prefix
	}
	if set("data-path") {
		cfg.Data.Path = flags.dataPath
	}
	if set("session-secret") {
		cfg.Session.Secret = flags.sessionSecret
	}
	if set("auth-type") {
		cfg.Auth.Type = flags.authType
	}
	if set("oidc-issuer-uri") {
		cfg.Auth.Oidc.IssuerUri = flags.oidcIssuerUri
	}
	if set("oidc-client-id") {
		cfg.Auth.Oidc.ClientId = flags.oidcClientId
	}
	if set("oidc-client-secret") {
		cfg.Auth.Oidc.ClientSecret = flags.oidcClientSecret
	}
	if set("oidc-redirect-base") {
		cfg.Auth.Oidc.RedirectBase = flags.oidcRedirectBase
	}
	if set("metrics") {
		cfg.Metrics.Enabled = flags.metricsEnabled
	}

	if cfg.Mode == config.ModeMultiUser && cfg.Auth.Type == "" {
		cfg.Auth.Type = "oidc"
	}
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
