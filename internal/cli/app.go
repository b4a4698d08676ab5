package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/glwatch/internal/config"
	"github.com/lucasnoah/glwatch/internal/db"
	"github.com/lucasnoah/glwatch/internal/gitlab"
	"github.com/lucasnoah/glwatch/internal/orchestrator"
	"github.com/lucasnoah/glwatch/internal/pipeline"
	"github.com/lucasnoah/glwatch/internal/tracker"
)

// app bundles what most commands need: settings, credentials, and a client.
type app struct {
	settings     *config.Settings
	settingsPath string
	tokens       *config.TokenStore
	client       *gitlab.Client
	logger       *slog.Logger
}

// settingsPathFor returns --settings or the default settings location.
func settingsPathFor(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("settings"); p != "" {
		return p, nil
	}
	return config.SettingsPath()
}

func loadSettings(cmd *cobra.Command) (*config.Settings, string, error) {
	path, err := settingsPathFor(cmd)
	if err != nil {
		return nil, "", err
	}
	s, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, "", err
	}
	return s, path, nil
}

// newApp loads settings and builds a GitLab client. The token is read per
// request, so a missing token only fails once a request is made.
func newApp(cmd *cobra.Command) (*app, error) {
	s, path, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(s); len(errs) > 0 {
		return nil, fmt.Errorf("invalid settings in %s: %w", path, errs[0])
	}

	tokens, err := config.DefaultTokenStore()
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	client, err := gitlab.NewClient(gitlab.Config{
		BaseURL:    s.GitLabURL,
		Tokens:     tokens,
		HTTPClient: &http.Client{Timeout: s.Timeout()},
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		settings:     s,
		settingsPath: path,
		tokens:       tokens,
		client:       client,
		logger:       logger,
	}, nil
}

// projects resolves names to settings projects; no names means the selected
// projects.
func (a *app) projects(names []string) ([]config.Project, error) {
	if len(names) == 0 {
		selected := a.settings.SelectedProjects()
		if len(selected) == 0 {
			return nil, errors.New("no projects selected; run `glwatch settings select <project...>`")
		}
		return selected, nil
	}

	var out []config.Project
	var unknown []string
	for _, n := range names {
		p, ok := a.settings.FindProject(n)
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		out = append(out, p)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown project(s): %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

func (a *app) refs(projects []config.Project) []gitlab.ProjectRef {
	out := make([]gitlab.ProjectRef, len(projects))
	for i, p := range projects {
		out[i] = gitlab.ProjectRef{ID: p.ID, Name: p.Name, FullPath: a.settings.FullPath(p)}
	}
	return out
}

// projectRefs is projects followed by refs.
func (a *app) projectRefs(names []string) ([]gitlab.ProjectRef, error) {
	projects, err := a.projects(names)
	if err != nil {
		return nil, err
	}
	return a.refs(projects), nil
}

// branchOrDefault returns branch, or the first BranchSet entry.
func (a *app) branchOrDefault(branch string) (string, error) {
	if branch != "" {
		return branch, nil
	}
	branches := a.settings.Branches()
	if len(branches) == 0 {
		return "", errors.New("no branches configured")
	}
	return branches[0], nil
}

func (a *app) aggregator() *pipeline.Aggregator {
	return pipeline.NewAggregator(a.client, pipeline.Options{
		BaseURL:        a.settings.GitLabURL,
		MaxConcurrency: a.settings.MaxConcurrency,
		Logger:         a.logger,
	})
}

// newOrchestrator wires the poll/trigger machinery. events and emitter may be
// nil.
func (a *app) newOrchestrator(refs []gitlab.ProjectRef, events *db.DB, emitter orchestrator.Emitter) *orchestrator.Orchestrator {
	deps := orchestrator.Deps{
		Aggregator: a.aggregator(),
		Player:     a.client,
		Tracker:    tracker.New(a.settings.Role, a.logger),
		Emitter:    emitter,
	}
	if events != nil {
		deps.Events = events
	}
	return orchestrator.New(deps, orchestrator.Options{
		Projects:      refs,
		Branches:      a.settings.Branches(),
		TrackInterval: a.settings.TrackEvery(),
		Logger:        a.logger,
	})
}

// openEventLog opens and migrates the event log in the state directory.
func openEventLog() (*db.DB, func(), error) {
	dir, err := config.Home()
	if err != nil {
		return nil, nil, err
	}
	path, err := db.DefaultDBPath(dir)
	if err != nil {
		return nil, nil, err
	}
	d, err := db.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, nil, err
	}
	return d, func() { d.Close() }, nil
}

// optionalEventLog opens the event log, logging and continuing without one
// when it cannot be opened.
func optionalEventLog(logger *slog.Logger) (*db.DB, func()) {
	d, cleanup, err := openEventLog()
	if err != nil {
		logger.Warn("event log unavailable", "error", err)
		return nil, func() {}
	}
	return d, cleanup
}

// notifySinks returns the sinks for long-running commands: the log, and the
// desktop unless disabled.
func notifySinks(cmd *cobra.Command, logger *slog.Logger, extra ...tracker.Sink) []tracker.Sink {
	sinks := []tracker.Sink{tracker.LogSink{Logger: logger}}
	if noDesktop, _ := cmd.Flags().GetBool("no-desktop"); !noDesktop {
		sinks = append(sinks, tracker.NewDesktopSink())
	}
	return append(sinks, extra...)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
