package cli

import (
	"io"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/glwatch/internal/tracker"
	"github.com/lucasnoah/glwatch/internal/tui"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Interactive terminal dashboard of pipeline rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		refs, err := a.projectRefs(nil)
		if err != nil {
			return err
		}
		branch, _ := cmd.Flags().GetString("branch")

		// Log lines would tear the alternate screen.
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))

		ctx, stop := signalContext(cmd)
		defer stop()

		events, closeEvents := optionalEventLog(a.logger)
		defer closeEvents()

		broadcaster := tracker.NewBroadcaster()
		notes, unsubscribe := broadcaster.Subscribe(16)
		defer unsubscribe()

		sinks := []tracker.Sink{broadcaster}
		if noDesktop, _ := cmd.Flags().GetBool("no-desktop"); !noDesktop {
			sinks = append(sinks, tracker.NewDesktopSink())
		}
		dispatcher := tracker.NewDispatcher(0, a.logger, sinks...)
		dispatcher.Start(ctx)
		defer dispatcher.Close()

		orch := a.newOrchestrator(refs, events, dispatcher)
		model := tui.New(ctx, orch, tui.Options{
			Branch:  branch,
			Refresh: a.settings.PollEvery(),
			Notes:   notes,
		})
		_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()

		// Join a track loop started from the dashboard before the
		// dispatcher closes.
		stop()
		_ = orch.WaitTracking(ctx)
		return err
	},
}

func init() {
	dashboardCmd.Flags().String("branch", "", "Branch shown first (default: the support branch)")
	dashboardCmd.Flags().Bool("no-desktop", false, "Do not send desktop notifications")
}
