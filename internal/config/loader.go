package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the settings file.
const (
	EnvGitLabURL = "GLWATCH_GITLAB_URL"
	EnvToken     = "GLWATCH_TOKEN"
	EnvHome      = "GLWATCH_HOME"
)

// LoadEnv loads a .env file from the working directory into the process
// environment. A missing file is not an error; existing variables win.
func LoadEnv() error {
	err := godotenv.Load()
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Home returns the state directory: $GLWATCH_HOME or ~/.glwatch.
func Home() (string, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".glwatch"), nil
}

// SettingsPath returns the settings file location inside Home.
func SettingsPath() (string, error) {
	dir, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.yaml"), nil
}

// Load reads settings from the given YAML file, applies defaults, then
// applies environment overrides.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing settings YAML: %w", err)
	}

	applyDefaults(&s)
	applyEnv(&s)
	return &s, nil
}

// LoadDefault loads the settings file from Home. When the file does not
// exist the defaults are returned so first-run commands still work.
func LoadDefault() (*Settings, error) {
	path, err := SettingsPath()
	if err != nil {
		return nil, err
	}
	return LoadOrDefault(path)
}

// LoadOrDefault is Load, except that a missing file yields Default() with
// environment overrides applied.
func LoadOrDefault(path string) (*Settings, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		s := Default()
		applyEnv(s)
		return s, nil
	}
	return Load(path)
}

// Save writes settings to path atomically.
func Save(path string, s *Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding settings YAML: %w", err)
	}
	return writeFile(path, data, 0o644)
}

// applyDefaults fills every unset field. Blank branch roles fall back to
// DefaultBranch, and the source branch falls back to the support branch.
func applyDefaults(s *Settings) {
	if s.GitLabURL == "" {
		s.GitLabURL = DefaultGitLabURL
	}
	if s.Group == "" {
		s.Group = DefaultGroup
	}
	if s.SupportBranch == "" {
		s.SupportBranch = DefaultBranch
	}
	if s.ReleaseBranch == "" {
		s.ReleaseBranch = DefaultBranch
	}
	if s.LiveBranch == "" {
		s.LiveBranch = DefaultBranch
	}
	if s.SourceBranch == "" {
		s.SourceBranch = s.SupportBranch
	}
	if s.SelectedAssigneeID == 0 {
		s.SelectedAssigneeID = DefaultAssigneeID
	}
	if s.PollInterval == "" {
		s.PollInterval = DefaultPollInterval.String()
	}
	if s.TrackInterval == "" {
		s.TrackInterval = DefaultTrackInterval.String()
	}
	if s.RequestTimeout == "" {
		s.RequestTimeout = DefaultRequestTimeout.String()
	}
	if s.MaxConcurrency <= 0 {
		s.MaxConcurrency = DefaultMaxConcurrency
	}
}

func applyEnv(s *Settings) {
	if v := os.Getenv(EnvGitLabURL); v != "" {
		s.GitLabURL = v
	}
}

// parseDuration is used by Validate to report malformed intervals.
func parseDuration(v string) (time.Duration, error) {
	return time.ParseDuration(v)
}
