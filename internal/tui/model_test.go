package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lucasnoah/glwatch/internal/compare"
	"github.com/lucasnoah/glwatch/internal/orchestrator"
	"github.com/lucasnoah/glwatch/internal/pipeline"
	"github.com/lucasnoah/glwatch/internal/tracker"
)

type fakeBackend struct {
	branches []string
	rows     map[string][]pipeline.Row
	polled   []string
	ran      []pipeline.Row
	active   *orchestrator.ActiveSet
}

func newFakeBackend() *fakeBackend {
	sched := &pipeline.ScheduleMatch{ID: "gid://gitlab/Ci::PipelineSchedule/1"}
	return &fakeBackend{
		branches: []string{"master_ah", "release"},
		rows: map[string][]pipeline.Row{
			"master_ah": {
				{Project: "Api", Type: "api", Status: pipeline.StatusSuccess, Schedule: sched, Lag: pipeline.DeployLag{OpenMRs: compare.Known(1)}},
				{Project: "Ui", Type: "ui", Status: pipeline.StatusRunning, Schedule: sched},
				{Project: "Common", Type: "common", Status: pipeline.StatusFailed},
			},
			"release": {
				{Project: "Api", Type: "api", Status: pipeline.StatusNotRun},
			},
		},
		active: orchestrator.NewActiveSet(),
	}
}

func (f *fakeBackend) Branches() []string              { return f.branches }
func (f *fakeBackend) Active() *orchestrator.ActiveSet { return f.active }

func (f *fakeBackend) Poll(ctx context.Context, branch string) (*orchestrator.PollResult, error) {
	f.polled = append(f.polled, branch)
	return &orchestrator.PollResult{Branch: branch, Rows: f.rows[branch]}, nil
}

func (f *fakeBackend) RunSelected(ctx context.Context, rows []pipeline.Row) (*orchestrator.RunResult, error) {
	f.ran = append(f.ran, rows...)
	res := &orchestrator.RunResult{}
	for _, r := range rows {
		res.Triggered = append(res.Triggered, r.Project)
	}
	return res, nil
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// loaded returns a model with the first branch's rows in place.
func loaded(t *testing.T, b *fakeBackend) Model {
	t.Helper()
	m := New(context.Background(), b, Options{})
	updated, _ := m.Update(rowsLoadedMsg{branch: "master_ah", rows: b.rows["master_ah"]})
	return updated.(Model)
}

func TestNewModel(t *testing.T) {
	m := New(context.Background(), newFakeBackend(), Options{Branch: "release"})
	if m.Branch() != "release" {
		t.Errorf("Branch() = %q, want release", m.Branch())
	}
	if !m.loading {
		t.Error("model should start loading")
	}
	if m.Init() == nil {
		t.Error("Init should return a command")
	}
}

func TestModelView(t *testing.T) {
	m := loaded(t, newFakeBackend())
	view := m.View()
	for _, want := range []string{"glwatch", "master_ah", "release", "Api", "Common", "SUCCESS"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModelToggleAndRun(t *testing.T) {
	b := newFakeBackend()
	m := loaded(t, b)

	updated, _ := m.Update(runes("x"))
	m = updated.(Model)
	if !m.selected["Api"] {
		t.Fatal("cursor row should be selected")
	}

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)
	if cmd == nil {
		t.Fatal("run should return a command")
	}
	msg := cmd()
	done, ok := msg.(runDoneMsg)
	if !ok {
		t.Fatalf("command produced %T, want runDoneMsg", msg)
	}
	if len(b.ran) != 1 || b.ran[0].Project != "Api" {
		t.Errorf("ran = %+v", b.ran)
	}

	updated, _ = m.Update(done)
	m = updated.(Model)
	if len(m.selected) != 0 {
		t.Error("selection should clear after a run")
	}
	if m.status != "triggered 1, skipped 0, failed 0" {
		t.Errorf("status = %q", m.status)
	}
}

func TestModelSelectAllSkipsUnrunnable(t *testing.T) {
	m := loaded(t, newFakeBackend())
	updated, _ := m.Update(runes("a"))
	m = updated.(Model)

	if !m.selected["Api"] {
		t.Error("Api has a schedule and is idle; it should be selected")
	}
	if m.selected["Ui"] {
		t.Error("Ui is running; it should not be selected")
	}
	if m.selected["Common"] {
		t.Error("Common has no schedule; it should not be selected")
	}
}

func TestModelBranchSwitching(t *testing.T) {
	b := newFakeBackend()
	m := loaded(t, b)

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = updated.(Model)
	if m.Branch() != "release" {
		t.Fatalf("Branch() = %q, want release", m.Branch())
	}
	if cmd == nil {
		t.Fatal("switching to an unfetched branch should poll it")
	}
	msg := cmd().(rowsLoadedMsg)
	if msg.branch != "release" {
		t.Errorf("polled %q", msg.branch)
	}

	updated, cmd = m.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	m = updated.(Model)
	if m.Branch() != "master_ah" {
		t.Errorf("Branch() = %q, want master_ah", m.Branch())
	}
	if cmd != nil {
		t.Error("switching back to a cached branch should not poll")
	}
}

func TestModelNotificationUpdatesStatus(t *testing.T) {
	ch := make(chan tracker.Notification, 1)
	b := newFakeBackend()
	m := New(context.Background(), b, Options{Notes: ch})
	updated, _ := m.Update(rowsLoadedMsg{branch: "master_ah", rows: b.rows["master_ah"]})
	m = updated.(Model)

	updated, cmd := m.Update(noteMsg{n: tracker.Notification{Branch: "master_ah", Title: "🚀 Pipeline started", Body: "Api on master_ah"}})
	m = updated.(Model)
	if !strings.Contains(m.status, "Pipeline started") {
		t.Errorf("status = %q", m.status)
	}
	if cmd == nil {
		t.Error("a notification should re-arm the listener and refresh")
	}
}

func TestModelQuit(t *testing.T) {
	m := loaded(t, newFakeBackend())
	_, cmd := m.Update(runes("q"))
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestModelNoBranches(t *testing.T) {
	b := newFakeBackend()
	b.branches = nil
	m := New(context.Background(), b, Options{})
	if !strings.Contains(m.View(), "no branches configured") {
		t.Errorf("view = %q", m.View())
	}
}
