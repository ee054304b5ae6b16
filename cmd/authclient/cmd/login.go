package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/spf13/cobra"
)

var (
	loginUsername string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session",
	Long: `Sign in with a username and password. The password is taken from
--password, then AUTHCLIENT_PASSWORD, then read from standard input.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		password := loginPassword
		if password == "" {
			password = config.GetEnv("AUTHCLIENT_PASSWORD", "")
		}
		if password == "" {
			fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.New("no password given")
			}
			password = strings.TrimRight(line, "\r\n")
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		identity, err := c.SignIn(cmd.Context(), loginUsername, password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s, %s)\n", identity.DisplayName, identity.ID, identity.Role)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "username")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "password (prefer AUTHCLIENT_PASSWORD or stdin)")
	_ = loginCmd.MarkFlagRequired("username")
	rootCmd.AddCommand(loginCmd)
}
