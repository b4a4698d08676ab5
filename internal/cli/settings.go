package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/glwatch/internal/config"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show and edit settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, path, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return writeJSON(cmd, s)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "# %s\n", path)
		data, err := yaml.Marshal(s)
		if err != nil {
			return fmt.Errorf("encode settings: %w", err)
		}
		_, err = out.Write(data)
		return err
	},
}

var settingsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the settings file for errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, path, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		errs := config.Validate(s)
		if len(errs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid.\n", path)
			return nil
		}
		for _, e := range errs {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", e.Error())
		}
		return fmt.Errorf("%d validation error(s)", len(errs))
	},
}

var settingsInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a settings file with the default project list",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := settingsPathFor(cmd)
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Save(path, config.Default()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var settingsSetBranchCmd = &cobra.Command{
	Use:   "set-branch <support|release|live|source> <branch>",
	Short: "Assign a branch to a role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateSettings(cmd, func(s *config.Settings) error {
			branch := strings.TrimSpace(args[1])
			switch strings.ToLower(args[0]) {
			case "support":
				s.SupportBranch = branch
			case "release":
				s.ReleaseBranch = branch
			case "live", "uat":
				s.LiveBranch = branch
			case "source":
				s.SourceBranch = branch
				s.UseCustomBranch = branch != ""
			default:
				return fmt.Errorf("unknown role %q (want support, release, live, or source)", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s branch set to %s\n", strings.ToLower(args[0]), branch)
			return nil
		})
	},
}

var settingsSelectCmd = &cobra.Command{
	Use:   "select <project...>",
	Short: "Mark projects as watched",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		only, _ := cmd.Flags().GetBool("only")
		deselect, _ := cmd.Flags().GetBool("deselect")
		return updateSettings(cmd, func(s *config.Settings) error {
			want := make(map[string]bool, len(args))
			for _, a := range args {
				p, ok := s.FindProject(a)
				if !ok {
					return fmt.Errorf("unknown project %q", a)
				}
				want[p.Name] = true
			}
			for i := range s.Projects {
				p := &s.Projects[i]
				switch {
				case want[p.Name]:
					p.Selected = !deselect
				case only:
					p.Selected = false
				}
			}
			return printProjects(cmd, s)
		})
	},
}

var settingsSetPathCmd = &cobra.Command{
	Use:   "set-path <project> <dir>",
	Short: "Set the local clone used for merge request titles and source branches",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateSettings(cmd, func(s *config.Settings) error {
			for i := range s.Projects {
				if strings.EqualFold(s.Projects[i].Name, args[0]) {
					s.Projects[i].LocalRepoPath = args[1]
					fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", s.Projects[i].Name, args[1])
					return nil
				}
			}
			return fmt.Errorf("unknown project %q", args[0])
		})
	},
}

var settingsProjectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List configured projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return writeJSON(cmd, s.Projects)
		}
		return printProjects(cmd, s)
	},
}

// updateSettings loads, edits, validates, and saves the settings file.
func updateSettings(cmd *cobra.Command, edit func(*config.Settings) error) error {
	s, path, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if err := edit(s); err != nil {
		return err
	}
	if errs := config.Validate(s); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return errors.New("settings not saved: " + strings.Join(msgs, "; "))
	}
	return config.Save(path, s)
}

func printProjects(cmd *cobra.Command, s *config.Settings) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEL\tID\tPROJECT\tLOCAL PATH")
	for _, p := range s.Projects {
		mark := ""
		if p.Selected {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", mark, p.ID, p.Name, p.LocalRepoPath)
	}
	return w.Flush()
}

func init() {
	settingsShowCmd.Flags().String("format", "text", "Output format: text (yaml) or json")
	settingsProjectsCmd.Flags().String("format", "text", "Output format: text or json")
	settingsInitCmd.Flags().Bool("force", false, "Overwrite an existing settings file")
	settingsSelectCmd.Flags().Bool("only", false, "Deselect every project not named")
	settingsSelectCmd.Flags().Bool("deselect", false, "Stop watching the named projects instead")

	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsValidateCmd)
	settingsCmd.AddCommand(settingsInitCmd)
	settingsCmd.AddCommand(settingsSetBranchCmd)
	settingsCmd.AddCommand(settingsSelectCmd)
	settingsCmd.AddCommand(settingsSetPathCmd)
	settingsCmd.AddCommand(settingsProjectsCmd)
}
