package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a single validation issue with the settings.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks settings for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(s *Settings) []ValidationError {
	var errs []ValidationError

	if s.GitLabURL == "" {
		errs = append(errs, ValidationError{Field: "gitlab_url", Message: "is required"})
	} else if u, err := url.Parse(s.GitLabURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{Field: "gitlab_url", Message: fmt.Sprintf("must be an http(s) URL, got %q", s.GitLabURL)})
	}

	for _, role := range []struct {
		field, value string
	}{
		{"support_branch", s.SupportBranch},
		{"release_branch", s.ReleaseBranch},
		{"live_branch", s.LiveBranch},
	} {
		if strings.TrimSpace(role.value) == "" {
			errs = append(errs, ValidationError{Field: role.field, Message: "is required"})
		}
	}
	if s.UseCustomBranch && strings.TrimSpace(s.SourceBranch) == "" {
		errs = append(errs, ValidationError{Field: "source_branch", Message: "is required when use_custom_branch is set"})
	}

	ids := make(map[int]bool)
	names := make(map[string]bool)
	for i, p := range s.Projects {
		prefix := fmt.Sprintf("projects[%d]", i)
		if p.ID <= 0 {
			errs = append(errs, ValidationError{Field: prefix + ".project_id", Message: "must be positive"})
		} else if ids[p.ID] {
			errs = append(errs, ValidationError{Field: prefix + ".project_id", Message: fmt.Sprintf("duplicate project ID %d", p.ID)})
		}
		ids[p.ID] = true

		if p.Name == "" {
			errs = append(errs, ValidationError{Field: prefix + ".project_name", Message: "is required"})
			continue
		}
		key := strings.ToLower(p.Name)
		if names[key] {
			errs = append(errs, ValidationError{Field: prefix + ".project_name", Message: fmt.Sprintf("duplicate project name %q", p.Name)})
		}
		names[key] = true
	}

	for _, d := range []struct {
		field, value string
	}{
		{"poll_interval", s.PollInterval},
		{"track_interval", s.TrackInterval},
		{"request_timeout", s.RequestTimeout},
	} {
		if d.value == "" {
			continue
		}
		v, err := parseDuration(d.value)
		if err != nil {
			errs = append(errs, ValidationError{Field: d.field, Message: fmt.Sprintf("invalid duration %q", d.value)})
		} else if v <= 0 {
			errs = append(errs, ValidationError{Field: d.field, Message: "must be positive"})
		}
	}

	if s.MaxConcurrency < 0 {
		errs = append(errs, ValidationError{Field: "max_concurrency", Message: "must not be negative"})
	}

	return errs
}
