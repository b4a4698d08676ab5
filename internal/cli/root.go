package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/glwatch/internal/config"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "glwatch",
	Short: "glwatch — GitLab pipeline watcher and release helper",
	Long: `glwatch polls GitLab for the scheduled pipelines of a fixed set of projects on
the support, release, and live branches, announces when they start and finish,
and triggers schedules on demand.

Settings live in ~/.glwatch/settings.yaml, credentials in ~/.glwatch/token.json,
and the transition history in ~/.glwatch/glwatch.db. Set GLWATCH_HOME to move
all three.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnv(); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
		verbose, _ := cmd.Flags().GetBool("verbose")
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

// writeJSON pretty-prints v to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// jsonOutput reports whether --format json was requested.
func jsonOutput(cmd *cobra.Command) bool {
	format, _ := cmd.Flags().GetString("format")
	return format == "json"
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("settings", "", "Settings file (default ~/.glwatch/settings.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(pipelinesCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(branchCmd)
	rootCmd.AddCommand(mrCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dashboardCmd)
}
