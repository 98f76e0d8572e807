// Package commands implements the api-store CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/apiclient/api-store/pkg/config"
)

// Version information injected at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "api-store",
	Short: "api-store - persistence and live-update backend for API clients",
	Long: `api-store persists workspaces, files, HTTP projects, request history
and revisions on an embedded key-value store, and serves them over an
HTTP + WebSocket API.

It runs in one of two modes:

  single-user   no authentication, every caller is the default user
  multi-user    OIDC login, per-user access control and sharing

Use "api-store [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/api-store/config.yaml)")

	rootCmd.AddCommand(newModeCommand(config.ModeSingleUser,
		"Run without authentication as a single default user",
		`Start the server in single-user mode.

Every request maps to the implicit default user and owns the whole
tree. When no session secret is configured a random one is generated
at startup, which invalidates outstanding tokens across restarts.

Examples:
  # In-memory store on the default port
  api-store single-user

  # Persist to disk
  api-store single-user --data-path ~/.local/share/api-store`))

	rootCmd.AddCommand(newModeCommand(config.ModeMultiUser,
		"Run with OIDC login and per-user access control",
		`Start the server in multi-user mode.

Requires a session secret and an OIDC provider; users log in through
the authorization-code flow and only see files they own or that were
shared with them.

Examples:
  api-store multi-user \
    --data-path /var/lib/api-store \
    --session-secret "$SESSION_SECRET" \
    --oidc-issuer-uri https://accounts.example.com \
    --oidc-client-id api-store \
    --oidc-redirect-base https://store.example.com`))

	rootCmd.AddCommand(versionCmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("api-store %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}
