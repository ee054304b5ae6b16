package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the signed-in identity and credential expiry",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		out := cmd.OutOrStdout()
		status := c.Session().Status()
		if !status.Authenticated {
			fmt.Fprintln(out, "Not signed in")
			return nil
		}
		fmt.Fprintf(out, "Signed in as %s\n", status.Identity.DisplayName)
		fmt.Fprintf(out, "  ID:       %s\n", status.Identity.ID)
		fmt.Fprintf(out, "  Role:     %s\n", status.Identity.Role)
		if status.Identity.OrgUnit != "" {
			fmt.Fprintf(out, "  Org unit: %s\n", status.Identity.OrgUnit)
		}
		if !status.ExpiresAt.IsZero() {
			fmt.Fprintf(out, "  Access:   expires %s (in %s)\n", status.ExpiresAt.Format(time.RFC3339), status.ExpiresIn.Round(time.Second))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
