package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/glwatch/internal/git"
	"github.com/lucasnoah/glwatch/internal/release"
)

var mrCmd = &cobra.Command{
	Use:   "mr",
	Short: "Open and list merge requests across projects",
}

var mrCreateCmd = &cobra.Command{
	Use:   "create [project...]",
	Short: "Open a merge request from each project's local clone",
	Long: `Opens one merge request per project (default: all selected projects) from
the branch checked out in the project's local clone, or from source_branch
when use_custom_branch is set. Title and description default to the last
commit message of the clone.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		projects, err := a.projects(args)
		if err != nil {
			return err
		}

		opts := release.MergeRequestOptions{AssigneeID: a.settings.SelectedAssigneeID, Labels: a.settings.Labels}
		opts.Target, _ = cmd.Flags().GetString("target")
		if opts.Target == "" {
			opts.Target = a.settings.SupportBranch
		}
		opts.SourceBranch, _ = cmd.Flags().GetString("source")
		if opts.SourceBranch == "" && a.settings.UseCustomBranch {
			opts.SourceBranch = a.settings.SourceBranch
		}
		opts.Title, _ = cmd.Flags().GetString("title")
		opts.Description, _ = cmd.Flags().GetString("description")
		if cmd.Flags().Changed("labels") {
			labels, _ := cmd.Flags().GetStringSlice("labels")
			opts.Labels = labels
		}

		opener := release.NewOpener(a.client, git.NewLocal(&git.ExecRunner{}, a.logger), a.settings.MaxConcurrency, a.logger)
		results, err := opener.Create(cmd.Context(), projects, opts)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return writeJSON(cmd, results)
		}

		out := cmd.OutOrStdout()
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PROJECT\tSOURCE\tTARGET\tRESULT")
		for _, r := range results {
			result := r.Message
			if r.OK && r.WebURL != "" {
				result = r.WebURL
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Project, r.SourceBranch, r.TargetBranch, result)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		ok, failed := release.Summarize(results)
		fmt.Fprintf(out, "%d created, %d failed\n", ok, failed)
		if failed > 0 {
			return fmt.Errorf("%d merge request(s) failed", failed)
		}
		return nil
	},
}

var mrListCmd = &cobra.Command{
	Use:   "list [project...]",
	Short: "List open merge requests targeting a branch",
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
		target, err := a.branchOrDefault(flagBranch)
		if err != nil {
			return err
		}

		opener := release.NewOpener(a.client, nil, a.settings.MaxConcurrency, a.logger)
		mrs, err := opener.ListOpen(cmd.Context(), refs, target)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return writeJSON(cmd, mrs)
		}

		if len(mrs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No open merge requests into %s.\n", target)
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PROJECT\tTITLE\tAUTHOR\tASSIGNEES\tSOURCE\tCREATED")
		for _, mr := range mrs {
			created := "-"
			if !mr.CreatedAt.IsZero() {
				created = mr.CreatedAt.Local().Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				mr.Project, mr.Title, mr.Author, strings.Join(mr.Assignees, ", "), mr.SourceBranch, created)
		}
		return w.Flush()
	},
}

func init() {
	mrCreateCmd.Flags().String("title", "", "Title (default: last commit message)")
	mrCreateCmd.Flags().String("description", "", "Description (default: last commit message)")
	mrCreateCmd.Flags().StringSlice("labels", nil, "Comma-separated labels (default: labels from settings)")
	mrCreateCmd.Flags().String("target", "", "Target branch (default: the support branch)")
	mrCreateCmd.Flags().String("source", "", "Source branch (default: each clone's checked-out branch)")
	mrCreateCmd.Flags().String("format", "text", "Output format: text or json")

	mrListCmd.Flags().String("branch", "", "Target branch (default: the support branch)")
	mrListCmd.Flags().String("format", "text", "Output format: text or json")

	mrCmd.AddCommand(mrCreateCmd)
	mrCmd.AddCommand(mrListCmd)
}
