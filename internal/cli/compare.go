package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/glwatch/internal/compare"
)

var compareCmd = &cobra.Command{
	Use:   "compare [project...]",
	Short: "Compare two branches across projects and report deploy readiness",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		refs, err := a.projectRefs(args)
		if err != nil {
			return err
		}
		source, _ := cmd.Flags().GetString("source")
		target, _ := cmd.Flags().GetString("target")
		if source == "" {
			source = a.settings.ReleaseBranch
		}
		if target == "" {
			target = a.settings.LiveBranch
		}
		if source == "" || target == "" {
			return fmt.Errorf("both --source and --target are required")
		}

		results := compare.New(a.client, a.settings.MaxConcurrency, a.logger).
			CompareProjects(cmd.Context(), refs, source, target)

		if jsonOutput(cmd) {
			return writeJSON(cmd, results)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s -> %s\n\n", source, target)
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PROJECT\tAHEAD\tBEHIND\tMR\tREADINESS")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Project, r.Ahead, r.Behind, r.MRStatus, r.Readiness())
		}
		if err := w.Flush(); err != nil {
			return err
		}

		showDiffs, _ := cmd.Flags().GetBool("diffs")
		for _, r := range results {
			if r.Error != "" {
				fmt.Fprintf(out, "\n%s: %s\n", r.Project, r.Error)
			}
			if len(r.Commits) > 0 {
				fmt.Fprintf(out, "\n%s commits:\n", r.Project)
				for _, c := range r.Commits {
					fmt.Fprintf(out, "  %s  %s (%s)\n", c.ShortID, c.Title, c.AuthorName)
				}
			}
			for _, c := range r.ConfigChanges {
				fmt.Fprintf(out, "\n%s config change: %s\n", r.Project, c.File)
				if showDiffs {
					fmt.Fprintln(out, c.Diff)
				}
			}
		}
		return nil
	},
}

func init() {
	compareCmd.Flags().String("source", "", "Source branch (default: the release branch)")
	compareCmd.Flags().String("target", "", "Target branch (default: the live branch)")
	compareCmd.Flags().Bool("diffs", false, "Print the diff of each changed config file")
	compareCmd.Flags().String("format", "text", "Output format: text or json")
}
