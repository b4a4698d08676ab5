package compare

import (
	"path"
	"regexp"

	"github.com/lucasnoah/glwatch/internal/gitlab"
)

// configFilePatterns match file base names whose change needs a manual
// config deployment.
var configFilePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^appsettings.*\.json$`),
	regexp.MustCompile(`(?i)^ocelot.*\.json$`),
}

// ConfigChange is a changed configuration file in the ahead diff.
type ConfigChange struct {
	File        string `json:"file"`
	Diff        string `json:"diff"`
	NewFile     bool   `json:"new_file"`
	RenamedFile bool   `json:"renamed_file"`
	DeletedFile bool   `json:"deleted_file"`
}

// IsConfigFile reports whether the base name of p is a config file.
func IsConfigFile(p string) bool {
	base := path.Base(p)
	for _, rx := range configFilePatterns {
		if rx.MatchString(base) {
			return true
		}
	}
	return false
}

// ConfigChanges filters diffs down to config files.
func ConfigChanges(diffs []gitlab.FileDiff) []ConfigChange {
	var out []ConfigChange
	for _, d := range diffs {
		if !IsConfigFile(d.NewPath) {
			continue
		}
		out = append(out, ConfigChange{
			File:        d.NewPath,
			Diff:        d.Diff,
			NewFile:     d.NewFile,
			RenamedFile: d.RenamedFile,
			DeletedFile: d.DeletedFile,
		})
	}
	return out
}
