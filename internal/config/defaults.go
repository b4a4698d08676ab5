package config

import "time"

const (
	DefaultGitLabURL      = "https://git.promptdairytech.com"
	DefaultGroup          = "pdp"
	DefaultBranch         = "master_ah"
	DefaultAssigneeID     = 119
	DefaultMaxConcurrency = 8

	DefaultPollInterval   = 60 * time.Second
	DefaultTrackInterval  = 60 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// DefaultProjects is the project list `settings init` seeds. None are
// selected until the user picks them.
func DefaultProjects() []Project {
	return []Project{
		{ID: 19, Name: "Config.Identity"},
		{ID: 14, Name: "Config.Management"},
		{ID: 880, Name: "ah.management"},
		{ID: 24, Name: "Org.Management"},
		{ID: 925, Name: "AmulOrgAPI"},
		{ID: 897, Name: "Ah.Service"},
		{ID: 28, Name: "Common"},
		{ID: 31, Name: "Org.UI"},
		{ID: 30, Name: "Config.UI"},
		{ID: 1076, Name: "AdoptCattle.Api"},
		{ID: 1077, Name: "AdoptCattle.Ui"},
		{ID: 1074, Name: "Common (AdoptCattle)"},
		{ID: 1075, Name: "Identity (AdoptCattle)"},
	}
}

// Default returns fully defaulted settings with the default project list.
func Default() *Settings {
	s := &Settings{Projects: DefaultProjects()}
	applyDefaults(s)
	return s
}

// DefaultLabels are the merge request labels offered by `mr create`.
var DefaultLabels = []string{"Task", "Urgent", "High", "Feature", "Bug", "User Story", "Branch Merge"}
