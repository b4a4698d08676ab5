package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/glwatch/internal/orchestrator"
	"github.com/lucasnoah/glwatch/internal/pipeline"
	"github.com/lucasnoah/glwatch/internal/tracker"
)

var pipelinesCmd = &cobra.Command{
	Use:   "pipelines",
	Short: "Show the latest pipeline of every selected project on a branch",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		refs, err := a.projectRefs(nil)
		if err != nil {
			return err
		}
		flagBranch, _ := cmd.Flags().GetString("branch")
		branch, err := a.branchOrDefault(flagBranch)
		if err != nil {
			return err
		}

		rows, fetchErr := a.aggregator().Aggregate(cmd.Context(), refs, branch)
		if rows == nil {
			return fetchErr
		}
		if fetchErr != nil {
			a.logger.Warn("some data could not be fetched", "error", fetchErr)
		}

		if jsonOutput(cmd) {
			return writeJSON(cmd, rows)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Branch %s (%s)\n\n", branch, a.settings.Role(branch))
		return printRows(cmd.OutOrStdout(), rows, time.Now())
	},
}

var runCmd = &cobra.Command{
	Use:   "run [project...]",
	Short: "Trigger the scheduled pipeline of projects on a branch and track them",
	Long: `Plays the pipeline schedule matching the branch in each named project
(default: all selected projects). Projects without a matching schedule or
with a pipeline already in flight are skipped. Unless --no-track is given the
command stays attached and reports transitions until every triggered
pipeline has settled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		refs, err := a.projectRefs(args)
		if err != nil {
			return err
		}
		flagBranch, _ := cmd.Flags().GetString("branch")
		branch, err := a.branchOrDefault(flagBranch)
		if err != nil {
			return err
		}

		ctx, stop := signalContext(cmd)
		defer stop()

		events, closeEvents := optionalEventLog(a.logger)
		defer closeEvents()
		dispatcher := tracker.NewDispatcher(0, a.logger, notifySinks(cmd, a.logger)...)
		dispatcher.Start(ctx)
		defer dispatcher.Close()

		orch := a.newOrchestrator(refs, events, dispatcher)
		polled, pollErr := orch.Poll(ctx, branch)
		if polled == nil {
			return pollErr
		}

		if pollErr != nil {
			a.logger.Warn("some data could not be fetched", "error", pollErr)
		}

		res, runErr := orch.RunSelected(ctx, polled.Rows)
		if jsonOutput(cmd) {
			if err := writeJSON(cmd, res); err != nil {
				return err
			}
		} else {
			printRunResult(cmd.OutOrStdout(), res)
		}

		// The track loop is always joined before the deferred dispatcher
		// Close; --no-track just cancels it first.
		if res.Tracking {
			if noTrack, _ := cmd.Flags().GetBool("no-track"); noTrack {
				stop()
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "Tracking %d pipeline(s) on %s; Ctrl-C to stop.\n", orch.Active().Len(), branch)
			}
			if err := orch.WaitTracking(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		}
		return runErr
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll every configured branch and report pipeline transitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		refs, err := a.projectRefs(nil)
		if err != nil {
			return err
		}
		interval, _ := cmd.Flags().GetDuration("interval")
		if interval <= 0 {
			interval = a.settings.PollEvery()
		}

		ctx, stop := signalContext(cmd)
		defer stop()

		events, closeEvents := optionalEventLog(a.logger)
		defer closeEvents()
		dispatcher := tracker.NewDispatcher(0, a.logger, notifySinks(cmd, a.logger)...)
		dispatcher.Start(ctx)
		defer dispatcher.Close()

		orch := a.newOrchestrator(refs, events, dispatcher)
		out := cmd.OutOrStdout()
		fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s every %s; Ctrl-C to stop.\n",
			strings.Join(orch.Branches(), ", "), interval)

		orch.Watch(ctx, interval, func(res *orchestrator.CheckInResult, err error) {
			if res == nil {
				return
			}
			for _, p := range res.Polls {
				fmt.Fprintf(out, "%s  %-20s %s\n", time.Now().Format("15:04:05"), p.Branch, pipelineSummary(p.Rows))
			}
		})
		return nil
	},
}

func printRows(out io.Writer, rows []pipeline.Row, now time.Time) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tTYPE\tSTATUS\tPIPELINE\tUSER\tTOTAL\tRUN\tSCHEDULE\tOPEN MRS\tSINCE DEPLOY")
	for _, r := range rows {
		id, user, total, run := "-", "-", "-", "-"
		if r.Latest != nil {
			id = r.Latest.PipelineID
			if r.Latest.User != "" {
				user = r.Latest.User
			}
			total = r.Latest.TotalDuration(now)
			run = r.Latest.RunDuration(now)
		}
		schedule := "-"
		if r.Schedule != nil {
			schedule = r.Schedule.Description
			if !r.Schedule.Active {
				schedule += " (inactive)"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Project, r.Type, r.Status, id, user, total, run, schedule,
			r.Lag.OpenMRs, r.Lag.SinceDeploy)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, r := range rows {
		if r.Error != "" {
			fmt.Fprintf(out, "  %s: %s\n", r.Project, r.Error)
		}
	}
	return nil
}

func printRunResult(out io.Writer, res *orchestrator.RunResult) {
	for _, p := range res.Triggered {
		fmt.Fprintf(out, "  triggered  %s\n", p)
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(out, "  skipped    %s (%s)\n", s.Project, s.Reason)
	}
	for _, f := range res.Failed {
		fmt.Fprintf(out, "  failed     %s: %s\n", f.Project, f.Error)
	}
	fmt.Fprintln(out, res.Summary())
}

// pipelineSummary counts rows by status, e.g. "3 SUCCESS, 1 RUNNING".
func pipelineSummary(rows []pipeline.Row) string {
	counts := map[pipeline.Status]int{}
	var order []pipeline.Status
	for _, r := range rows {
		if counts[r.Status] == 0 {
			order = append(order, r.Status)
		}
		counts[r.Status]++
	}
	parts := make([]string, 0, len(order))
	for _, s := range order {
		parts = append(parts, fmt.Sprintf("%d %s", counts[s], s))
	}
	if len(parts) == 0 {
		return "no rows"
	}
	return strings.Join(parts, ", ")
}

func init() {
	pipelinesCmd.Flags().String("branch", "", "Branch to show (default: the support branch)")
	pipelinesCmd.Flags().String("format", "text", "Output format: text or json")

	runCmd.Flags().String("branch", "", "Branch whose schedules to play (default: the support branch)")
	runCmd.Flags().Bool("no-track", false, "Return after triggering instead of tracking to completion")
	runCmd.Flags().Bool("no-desktop", false, "Do not send desktop notifications")
	runCmd.Flags().String("format", "text", "Output format: text or json")

	watchCmd.Flags().Duration("interval", 0, "Poll interval (default: poll_interval from settings)")
	watchCmd.Flags().Bool("no-desktop", false, "Do not send desktop notifications")
}
