package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/glwatch/internal/db"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recorded pipeline transitions and trigger attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := openEventLog()
		if err != nil {
			return err
		}
		defer cleanup()

		if reset, _ := cmd.Flags().GetBool("reset"); reset {
			if err := d.Reset(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared event log %s.\n", d.Path())
			return nil
		}
		if prune, _ := cmd.Flags().GetDuration("prune"); prune > 0 {
			n, err := d.PruneBefore(time.Now().Add(-prune))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Pruned %d event(s) older than %s.\n", n, prune)
		}

		limit, _ := cmd.Flags().GetInt("limit")
		branch, _ := cmd.Flags().GetString("branch")
		transitions, err := d.RecentTransitions(branch, limit)
		if err != nil {
			return err
		}
		triggers, err := d.RecentTriggers(limit)
		if err != nil {
			return err
		}

		if jsonOutput(cmd) {
			return writeJSON(cmd, struct {
				Transitions []db.Transition `json:"transitions"`
				Triggers    []db.Trigger    `json:"triggers"`
			}{transitions, triggers})
		}

		out := cmd.OutOrStdout()
		if len(transitions) == 0 && len(triggers) == 0 {
			fmt.Fprintln(out, "No events recorded.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tBRANCH\tPROJECT\tACTION\tSTATE\tSTATUS\tPIPELINE")
		for _, t := range transitions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s -> %s\t%s\t%s\n",
				t.Timestamp, t.Branch, t.Project, t.Action, t.Previous, t.Current, t.Status, t.PipelineID)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if len(triggers) > 0 {
			fmt.Fprintln(out)
			w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tBRANCH\tPROJECT\tSCHEDULE\tOUTCOME\tMESSAGE")
			for _, t := range triggers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					t.Timestamp, t.Branch, t.Project, t.ScheduleID, t.Outcome, t.Message)
			}
			return w.Flush()
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().Int("limit", 20, "Number of events of each kind to show")
	eventsCmd.Flags().String("branch", "", "Only show transitions on this branch")
	eventsCmd.Flags().Duration("prune", 0, "Delete events older than this before listing (e.g. 720h)")
	eventsCmd.Flags().Bool("reset", false, "Delete every recorded event")
	eventsCmd.Flags().String("format", "text", "Output format: text or json")
}
