package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/glwatch/internal/release"
)

var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "Create or inspect a branch across projects",
}

var branchCreateCmd = &cobra.Command{
	Use:   "create <name> [project...]",
	Short: "Create a branch in every selected project",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		refs, err := a.projectRefs(args[1:])
		if err != nil {
			return err
		}
		from, _ := cmd.Flags().GetString("from")
		if from == "" {
			from = a.settings.SupportBranch
		}
		protect, _ := cmd.Flags().GetBool("protect")

		results, err := release.NewBrancher(a.client, a.settings.MaxConcurrency, a.logger).
			Create(cmd.Context(), refs, release.BranchOptions{Name: args[0], From: from, Protect: protect})
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return writeJSON(cmd, results)
		}
		return printBranchResults(cmd.OutOrStdout(), results)
	},
}

var branchStatusCmd = &cobra.Command{
	Use:   "status <name> [project...]",
	Short: "Check whether a branch exists or is merged in each project",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		refs, err := a.projectRefs(args[1:])
		if err != nil {
			return err
		}

		results, err := release.NewBrancher(a.client, a.settings.MaxConcurrency, a.logger).
			Status(cmd.Context(), refs, args[0])
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return writeJSON(cmd, results)
		}
		return printBranchResults(cmd.OutOrStdout(), results)
	},
}

func printBranchResults(out io.Writer, results []release.BranchResult) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tBRANCH\tSTATUS\tPROTECTION\tURL")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Project, r.Branch, r.Status, r.Protection, r.WebURL)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, r := range results {
		if r.Error != "" {
			fmt.Fprintf(out, "  %s: %s\n", r.Project, r.Error)
		}
	}
	return nil
}

func init() {
	branchCreateCmd.Flags().String("from", "", "Ref to branch from (default: the support branch)")
	branchCreateCmd.Flags().Bool("protect", false, "Protect the new branch (maintainers push and merge)")
	branchCreateCmd.Flags().String("format", "text", "Output format: text or json")
	branchStatusCmd.Flags().String("format", "text", "Output format: text or json")

	branchCmd.AddCommand(branchCreateCmd)
	branchCmd.AddCommand(branchStatusCmd)
}
