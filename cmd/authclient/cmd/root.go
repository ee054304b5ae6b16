// Package cmd provides the CLI commands for authclient.
package cmd

import (
	"fmt"
	"os"

	"github.com/jrsteele09/go-auth-client/client"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/logging"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "authclient",
	Short: "authclient - signed-in access to a backend API",
	Long: `authclient signs in to a backend, keeps the session on disk, and sends
authenticated requests. An expired access credential is refreshed and the
request replayed once, transparently.

Configuration:
  Config is loaded from authclient.yaml in the current directory or the
  user config directory, or from the file given with --config.

  Environment variables override config values with the AUTHCLIENT_ prefix.
  Example: AUTHCLIENT_BASE_URL=http://localhost:8080

Commands:
  login       Sign in and store the session
  logout      End the session and clear the store
  status      Show the signed-in identity and credential expiry
  get         Send an authenticated GET and print the response
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./authclient.yaml)")
}

// newClient loads configuration and opens the client. Logs go to the
// command's error stream.
func newClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger := logging.Setup(cfg, cmd.ErrOrStderr())
	return client.New(cfg, client.WithLogger(logger))
}
