package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/glwatch/internal/config"
	"github.com/lucasnoah/glwatch/internal/gitlab"
)

var loginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Validate a personal access token and store it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		client, err := gitlab.NewClient(gitlab.Config{
			BaseURL: s.GitLabURL,
			Tokens:  gitlab.StaticToken(args[0]),
		})
		if err != nil {
			return err
		}

		user, err := client.CurrentUser(cmd.Context())
		if err != nil {
			return fmt.Errorf("token rejected: %w", err)
		}

		store, err := config.DefaultTokenStore()
		if err != nil {
			return err
		}
		if err := store.Set(config.Credentials{Token: args[0], Username: user.Username, IsAdmin: user.IsAdmin}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s as %s (@%s)\n", s.GitLabURL, user.Name, user.Username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := config.DefaultTokenStore()
		if err != nil {
			return err
		}
		if err := store.Clear(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the user the stored token belongs to",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		user, err := a.client.CurrentUser(cmd.Context())
		if errors.Is(err, gitlab.ErrNoToken) {
			return errors.New("not logged in; run `glwatch login <token>`")
		}
		if err != nil {
			return err
		}

		if jsonOutput(cmd) {
			return writeJSON(cmd, user)
		}
		role := "user"
		if user.IsAdmin {
			role = "admin"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (@%s, %s) on %s\n", user.Name, user.Username, role, a.settings.GitLabURL)
		return nil
	},
}

func init() {
	whoamiCmd.Flags().String("format", "text", "Output format: text or json")
}
