package config

import (
	"strings"
	"time"
)

// Settings is the persisted user configuration: which GitLab instance to
// talk to, which projects to watch, and which branches fill the three roles.
type Settings struct {
	GitLabURL          string    `yaml:"gitlab_url"`
	Group              string    `yaml:"group"`
	Projects           []Project `yaml:"projects"`
	SupportBranch      string    `yaml:"support_branch"`
	ReleaseBranch      string    `yaml:"release_branch"`
	LiveBranch         string    `yaml:"live_branch"`
	SourceBranch       string    `yaml:"source_branch"`
	UseCustomBranch    bool      `yaml:"use_custom_branch"`
	SelectedAssigneeID int       `yaml:"selected_assignee_id"`
	Labels             []string  `yaml:"labels,omitempty"`
	PollInterval       string    `yaml:"poll_interval"`
	TrackInterval      string    `yaml:"track_interval"`
	RequestTimeout     string    `yaml:"request_timeout"`
	MaxConcurrency     int       `yaml:"max_concurrency"`
}

// Project is a GitLab project the user may watch.
type Project struct {
	ID            int    `yaml:"project_id"`
	Name          string `yaml:"project_name"`
	LocalRepoPath string `yaml:"local_repo_path,omitempty"`
	Selected      bool   `yaml:"is_selected"`
}

// Branch roles. The live branch is reported as UAT in notifications.
const (
	RoleSupport = "SUPPORT"
	RoleRelease = "RELEASE"
	RoleLive    = "UAT"
)

// SelectedProjects returns the watched projects in settings order.
func (s *Settings) SelectedProjects() []Project {
	var out []Project
	for _, p := range s.Projects {
		if p.Selected {
			out = append(out, p)
		}
	}
	return out
}

// FindProject looks a project up by name, case-insensitively.
func (s *Settings) FindProject(name string) (Project, bool) {
	for _, p := range s.Projects {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Project{}, false
}

// FullPath is the GraphQL project path, "{group}/{project}".
func (s *Settings) FullPath(p Project) string {
	if s.Group == "" {
		return p.Name
	}
	return s.Group + "/" + p.Name
}

// Branches returns the BranchSet in display order (support, release, live)
// with blanks and duplicates removed.
func (s *Settings) Branches() []string {
	seen := make(map[string]bool, 3)
	var out []string
	for _, b := range []string{s.SupportBranch, s.ReleaseBranch, s.LiveBranch} {
		b = strings.TrimSpace(b)
		if b == "" || seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	return out
}

// Role returns the role label of branch. When one branch fills several roles
// the first in display order wins; unknown branches get their own name
// upper-cased.
func (s *Settings) Role(branch string) string {
	switch branch {
	case s.SupportBranch:
		return RoleSupport
	case s.ReleaseBranch:
		return RoleRelease
	case s.LiveBranch:
		return RoleLive
	}
	return strings.ToUpper(branch)
}

// PollEvery is the watch poll interval.
func (s *Settings) PollEvery() time.Duration {
	return parseDurationOr(s.PollInterval, DefaultPollInterval)
}

// TrackEvery is the trigger-tracking poll interval.
func (s *Settings) TrackEvery() time.Duration {
	return parseDurationOr(s.TrackInterval, DefaultTrackInterval)
}

// Timeout is the per-request HTTP timeout.
func (s *Settings) Timeout() time.Duration {
	return parseDurationOr(s.RequestTimeout, DefaultRequestTimeout)
}

func parseDurationOr(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
