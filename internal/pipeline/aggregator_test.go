package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lucasnoah/glwatch/internal/compare"
	"github.com/lucasnoah/glwatch/internal/gitlab"
)

type fakeAPI struct {
	mu        sync.Mutex
	pipelines map[string]*gitlab.BranchPipelines
	pipesErr  error
	schedules map[string][]gitlab.Schedule
	schedErr  error
	compares  map[string]int // "from..to" -> commit count
	compared  []string
}

func (f *fakeAPI) BranchPipelines(ctx context.Context, projects []gitlab.ProjectRef, ref string) (map[string]*gitlab.BranchPipelines, error) {
	return f.pipelines, f.pipesErr
}

func (f *fakeAPI) PipelineSchedules(ctx context.Context, projects []gitlab.ProjectRef) (map[string][]gitlab.Schedule, error) {
	return f.schedules, f.schedErr
}

func (f *fakeAPI) CommitSHAs(ctx context.Context, projects []gitlab.ProjectRef, source, target string) (map[string]gitlab.CommitPair, error) {
	return nil, nil
}

func (f *fakeAPI) Compare(ctx context.Context, projectID int, from, to string) (*gitlab.Comparison, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := from + ".." + to
	f.compared = append(f.compared, key)
	n, ok := f.compares[key]
	if !ok {
		return nil, errors.New("compare failed")
	}
	return &gitlab.Comparison{Commits: make([]gitlab.Commit, n)}, nil
}

func ts(s string) gitlab.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return gitlab.Time{Time: t}
}

var watched = []gitlab.ProjectRef{
	{ID: 24, Name: "Org.Management", FullPath: "pdp/Org.Management"},
	{ID: 897, Name: "Ah.Service", FullPath: "pdp/Ah.Service"},
	{ID: 31, Name: "Org.UI", FullPath: "pdp/Org.UI"},
}

func TestAggregate(t *testing.T) {
	api := &fakeAPI{
		pipelines: map[string]*gitlab.BranchPipelines{
			"Org.Management": {
				OpenMRCount: 2,
				Pipelines: []gitlab.Pipeline{
					{ID: "p3", Status: "running", Source: "push", SHA: "c3", CreatedAt: ts("2026-03-01T12:00:00Z")},
					{ID: "p2", Status: "SUCCESS", Source: "schedule", SHA: "c2", CreatedAt: ts("2026-03-01T10:00:00Z")},
					{ID: "p4", Status: "failed", Source: "schedule", SHA: "c4", CreatedAt: ts("2026-03-01T11:00:00Z")},
					{ID: "p1", Status: "success", Source: "schedule", SHA: "c1", CreatedAt: ts("2026-02-28T10:00:00Z")},
				},
			},
			"Ah.Service": {Pipelines: nil},
		},
		schedules: map[string][]gitlab.Schedule{
			"Org.Management": {
				{ID: "s-release-x", Ref: "release_x", Active: true},
				{ID: "s-release", Ref: "Release", Active: true},
			},
			"Ah.Service": {{ID: "s-other", Ref: "release_ah"}},
		},
		compares: map[string]int{"c2..release": 5},
	}

	rows, err := NewAggregator(api, Options{BaseURL: "https://git.example.com/", MaxConcurrency: 2}).
		Aggregate(context.Background(), watched, "release")
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(rows) != len(watched) {
		t.Fatalf("len(rows) = %d, want %d", len(rows), len(watched))
	}

	om := rows[0]
	if om.Project != "Org.Management" || om.Status != StatusRunning || om.Latest.PipelineID != "p3" {
		t.Errorf("latest = %+v, status %s", om.Latest, om.Status)
	}
	if om.Scheduled == nil || om.Scheduled.PipelineID != "p4" {
		t.Errorf("Scheduled = %+v, want p4", om.Scheduled)
	}
	if om.LastDeploy == nil || om.LastDeploy.PipelineID != "p2" {
		t.Errorf("LastDeploy = %+v, want p2", om.LastDeploy)
	}
	if om.ScheduleID() != "s-release" {
		t.Errorf("schedule = %q, want exact-ref match s-release", om.ScheduleID())
	}
	if om.Lag.OpenMRs != compare.Known(2) || om.Lag.SinceDeploy != compare.Known(5) {
		t.Errorf("Lag = %+v", om.Lag)
	}
	if om.ScheduleURL != "https://git.example.com/pdp/Org.Management/-/pipeline_schedules" {
		t.Errorf("ScheduleURL = %q", om.ScheduleURL)
	}

	ah := rows[1]
	if ah.Status != StatusNotRun || ah.Latest != nil {
		t.Errorf("Ah.Service status = %s, want NOT RUN", ah.Status)
	}
	if ah.Schedule != nil {
		t.Errorf("release_ah schedule must not match branch release")
	}
	if ah.Lag.OpenMRs != compare.Known(0) || ah.Lag.SinceDeploy.IsKnown() {
		t.Errorf("Ah.Service lag = %+v", ah.Lag)
	}

	ui := rows[2]
	if ui.Status != StatusNotRun || ui.Error == "" || ui.Type != "ui" {
		t.Errorf("missing project row = %+v", ui)
	}
	if ui.Lag.OpenMRs.IsKnown() {
		t.Error("open MR count of an unreadable project must be unknown")
	}
}

func TestAggregate_PipelineFetchFailureKeepsRows(t *testing.T) {
	api := &fakeAPI{
		pipesErr: errors.New("gitlab: HTTP 502"),
		schedules: map[string][]gitlab.Schedule{
			"Org.UI": {{ID: "s1", Ref: "master_ah", Active: true}},
		},
	}
	rows, err := NewAggregator(api, Options{}).Aggregate(context.Background(), watched, "master_ah")
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("err = %v, want fetch failure", err)
	}
	if len(rows) != len(watched) {
		t.Fatalf("len(rows) = %d, want %d", len(rows), len(watched))
	}
	for _, r := range rows {
		if r.Status != StatusUnknown || !r.Stale || r.Error == "" {
			t.Errorf("%s = %s stale=%v %q", r.Project, r.Status, r.Stale, r.Error)
		}
		if r.Scheduled != nil || r.Lag.OpenMRs.IsKnown() {
			t.Errorf("%s: unfetched row must not claim pipeline data", r.Project)
		}
	}
	if rows[2].ScheduleID() != "s1" {
		t.Errorf("schedules should still match when pipelines fail")
	}
}

func TestAggregate_EmptyBranch(t *testing.T) {
	api := &fakeAPI{}
	if _, err := NewAggregator(api, Options{}).Aggregate(context.Background(), watched, "  "); !errors.Is(err, ErrEmptyBranch) {
		t.Fatalf("err = %v, want ErrEmptyBranch", err)
	}
}

func TestMatchSchedule(t *testing.T) {
	schedules := []gitlab.Schedule{
		{ID: "1", Ref: "release_x", Active: true},
		{ID: "2", Ref: "RELEASE", Active: false},
		{ID: "3", Ref: "release", Active: true},
	}
	if m := MatchSchedule(schedules, "release"); m == nil || m.ID != "3" {
		t.Errorf("MatchSchedule = %+v, want active exact match 3", m)
	}
	if m := MatchSchedule(schedules[:2], "release"); m == nil || m.ID != "2" {
		t.Errorf("MatchSchedule = %+v, want inactive exact match 2", m)
	}
	if m := MatchSchedule(schedules[:1], "release"); m != nil {
		t.Errorf("release_x must not match release, got %+v", m)
	}
}

func TestParseStatus(t *testing.T) {
	tests := map[string]Status{
		"running":              StatusRunning,
		"SUCCESS":              StatusSuccess,
		"failed":               StatusFailed,
		"canceled":             StatusCanceled,
		"created":              StatusCreated,
		"pending":              StatusPending,
		"WAITING_FOR_RESOURCE": StatusPending,
		"manual":               StatusUnknown,
		"":                     StatusUnknown,
	}
	for raw, want := range tests {
		if got := ParseStatus(raw); got != want {
			t.Errorf("ParseStatus(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestProjectType(t *testing.T) {
	tests := map[string]string{
		"Common":               "common",
		"Common (AdoptCattle)": "common",
		"Org.UI":               "ui",
		"AdoptCattle.Ui":       "ui",
		"Ah.Service":           "api",
		"AmulOrgAPI":           "api",
	}
	for name, want := range tests {
		if got := ProjectType(name); got != want {
			t.Errorf("ProjectType(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestDurations(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := base.Add(90 * time.Second)

	done := Observation{Status: StatusSuccess, CreatedAt: base, StartedAt: base.Add(10 * time.Second), FinishedAt: base.Add(time.Hour + 2*time.Minute + 13*time.Second)}
	if got := done.TotalDuration(now); got != "1h 2m 13s" {
		t.Errorf("TotalDuration = %q", got)
	}
	if got := done.RunDuration(now); got != "1h 2m 3s" {
		t.Errorf("RunDuration = %q", got)
	}

	running := Observation{Status: StatusRunning, CreatedAt: base}
	if got := running.TotalDuration(now); got != "1m 30s (running)" {
		t.Errorf("TotalDuration = %q", got)
	}
	if got := running.RunDuration(now); got != "Waiting to start" {
		t.Errorf("RunDuration = %q", got)
	}

	if got := (Observation{}).TotalDuration(now); got != "-" {
		t.Errorf("TotalDuration of empty = %q", got)
	}
	if got := FormatDuration(4 * time.Second); got != "4s" {
		t.Errorf("FormatDuration = %q", got)
	}
}
