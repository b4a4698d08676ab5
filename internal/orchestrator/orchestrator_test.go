package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/lucasnoah/glwatch/internal/db"
	"github.com/lucasnoah/glwatch/internal/gitlab"
	"github.com/lucasnoah/glwatch/internal/pipeline"
	"github.com/lucasnoah/glwatch/internal/tracker"
)

// --- fakes ---

type fakeAggregator struct {
	mu    sync.Mutex
	calls int
	// script[i] is returned on call i; the last entry repeats.
	script [][]pipeline.Row
	err    error
	block  chan struct{}
}

func (f *fakeAggregator) Aggregate(ctx context.Context, projects []gitlab.ProjectRef, branch string) ([]pipeline.Row, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	f.calls++
	rows := make([]pipeline.Row, len(f.script[i]))
	copy(rows, f.script[i])
	for j := range rows {
		rows[j].Branch = branch
	}
	return rows, f.err
}

func (f *fakeAggregator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePlayer struct {
	mu     sync.Mutex
	played []string
	fail   map[string]error
}

func (f *fakePlayer) PlaySchedule(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[id]; err != nil {
		return err
	}
	f.played = append(f.played, id)
	return nil
}

func (f *fakePlayer) Played() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.played...)
}

type fakeEvents struct {
	mu          sync.Mutex
	transitions []db.Transition
	triggers    []db.Trigger
}

func (f *fakeEvents) LogTransition(t db.Transition, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, t)
	return nil
}

func (f *fakeEvents) LogTrigger(t db.Trigger, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, t)
	return nil
}

type collectEmitter struct {
	mu    sync.Mutex
	notes []tracker.Notification
}

func (c *collectEmitter) Emit(n tracker.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, n)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func row(project string, status pipeline.Status, scheduleID string) pipeline.Row {
	r := pipeline.Row{Project: project, Status: status}
	if status != pipeline.StatusNotRun {
		obs := &pipeline.Observation{Project: project, PipelineID: "p-" + project, Status: status, Source: pipeline.SourceSchedule}
		r.Latest = obs
		r.Scheduled = obs
	}
	if scheduleID != "" {
		r.Schedule = &pipeline.ScheduleMatch{ID: scheduleID, Ref: "master", Active: true}
	}
	return r
}

func newTestOrchestrator(agg *fakeAggregator, player *fakePlayer, events *fakeEvents, em *collectEmitter) *Orchestrator {
	deps := Deps{Aggregator: agg, Player: player}
	if events != nil {
		deps.Events = events
	}
	if em != nil {
		deps.Emitter = em
	}
	return New(deps, Options{
		Projects:      []gitlab.ProjectRef{{ID: 1, Name: "Api"}, {ID: 2, Name: "Ui"}},
		Branches:      []string{"support", "master"},
		TrackInterval: 10 * time.Millisecond,
		Logger:        quietLogger(),
	})
}

// --- tests ---

func TestPoll_EmitsTransitionsAndRecordsThem(t *testing.T) {
	agg := &fakeAggregator{script: [][]pipeline.Row{
		{row("Api", pipeline.StatusSuccess, "")},
		{row("Api", pipeline.StatusRunning, "")},
		{row("Api", pipeline.StatusSuccess, "")},
	}}
	events := &fakeEvents{}
	em := &collectEmitter{}
	o := newTestOrchestrator(agg, &fakePlayer{}, events, em)
	ctx := context.Background()

	var got []tracker.Action
	for i := 0; i < 3; i++ {
		res, err := o.Poll(ctx, "master")
		if err != nil {
			t.Fatalf("Poll %d: %v", i, err)
		}
		for _, n := range res.Notifications {
			got = append(got, n.Action)
		}
	}

	want := []tracker.Action{tracker.ActionStarted, tracker.ActionCompleted}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("actions = %v, want %v", got, want)
	}
	if len(em.notes) != 2 {
		t.Errorf("emitted %d notifications, want 2", len(em.notes))
	}
	if len(events.transitions) != 2 {
		t.Fatalf("recorded %d transitions, want 2", len(events.transitions))
	}
	if events.transitions[0].Action != "STARTED" || events.transitions[0].Project != "Api" {
		t.Errorf("first transition = %+v", events.transitions[0])
	}
	if rows := o.Rows("master"); len(rows) != 1 || rows[0].Status != pipeline.StatusSuccess {
		t.Errorf("Rows(master) = %+v", rows)
	}
}

func TestPoll_ReturnsRowsWithFetchError(t *testing.T) {
	agg := &fakeAggregator{
		script: [][]pipeline.Row{{row("Api", pipeline.StatusRunning, "")}},
		err:    errors.New("schedules unavailable"),
	}
	o := newTestOrchestrator(agg, &fakePlayer{}, nil, nil)

	res, err := o.Poll(context.Background(), "master")
	if err == nil {
		t.Fatal("expected error")
	}
	if res == nil || len(res.Rows) != 1 {
		t.Fatalf("rows should still be returned, got %+v", res)
	}
	if !o.Active().Has("Api") {
		t.Error("in-flight row should be added to the active set")
	}
}

func staleRow(project string) pipeline.Row {
	return pipeline.Row{Project: project, Status: pipeline.StatusUnknown, Stale: true, Error: "network down"}
}

func TestPoll_FetchFailureKeepsTrackedState(t *testing.T) {
	agg := &fakeAggregator{script: [][]pipeline.Row{
		{row("Api", pipeline.StatusRunning, "")},
		{staleRow("Api")},
		{row("Api", pipeline.StatusRunning, "")},
	}}
	events := &fakeEvents{}
	em := &collectEmitter{}
	o := newTestOrchestrator(agg, &fakePlayer{}, events, em)
	ctx := context.Background()

	var got []tracker.Action
	for i := 0; i < 3; i++ {
		res, err := o.Poll(ctx, "master")
		if err != nil {
			t.Fatalf("Poll %d: %v", i, err)
		}
		for _, n := range res.Notifications {
			got = append(got, n.Action)
		}
		if !o.Active().Has("Api") {
			t.Errorf("poll %d: running pipeline dropped from the active set", i)
		}
	}

	if len(got) != 1 || got[0] != tracker.ActionStarted {
		t.Errorf("actions = %v, want [STARTED]", got)
	}
	if len(events.transitions) != 1 {
		t.Errorf("recorded %d transitions, want 1", len(events.transitions))
	}
	key := tracker.Key{Branch: "master", Project: "Api"}
	if s := o.Tracker().State(key); s != tracker.StateRunning {
		t.Errorf("tracked state = %s, want %s", s, tracker.StateRunning)
	}
}

func TestPoll_ConcurrentCallsShareAggregation(t *testing.T) {
	agg := &fakeAggregator{
		script: [][]pipeline.Row{{row("Api", pipeline.StatusSuccess, "")}},
		block:  make(chan struct{}),
	}
	o := newTestOrchestrator(agg, &fakePlayer{}, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.Poll(context.Background(), "master"); err != nil {
				t.Errorf("Poll: %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(agg.block)
	wg.Wait()

	if calls := agg.Calls(); calls != 1 {
		t.Errorf("Aggregate called %d times, want 1", calls)
	}
}

func TestRunSelected_SkipsAndTriggers(t *testing.T) {
	agg := &fakeAggregator{script: [][]pipeline.Row{{}}}
	player := &fakePlayer{}
	events := &fakeEvents{}
	o := newTestOrchestrator(agg, player, events, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rows := []pipeline.Row{
		row("Api", pipeline.StatusSuccess, "11"),
		row("Ui", pipeline.StatusRunning, "12"),
		row("Common", pipeline.StatusFailed, ""),
	}
	for i := range rows {
		rows[i].Branch = "master"
	}

	res, err := o.RunSelected(ctx, rows)
	if err != nil {
		t.Fatalf("RunSelected: %v", err)
	}
	if len(res.Triggered) != 1 || res.Triggered[0] != "Api" {
		t.Errorf("Triggered = %v, want [Api]", res.Triggered)
	}
	if len(res.Skipped) != 2 {
		t.Fatalf("Skipped = %+v, want 2 entries", res.Skipped)
	}
	if res.Skipped[0].Reason != SkipInFlight || res.Skipped[1].Reason != SkipNoSchedule {
		t.Errorf("skip reasons = %+v", res.Skipped)
	}
	if got := player.Played(); len(got) != 1 || got[0] != "11" {
		t.Errorf("played = %v, want [11]", got)
	}
	if !res.Tracking {
		t.Error("tracking should start after a trigger")
	}
	if len(events.triggers) != 3 {
		t.Errorf("recorded %d trigger events, want 3", len(events.triggers))
	}
	if got := res.Summary(); got != "triggered 1, skipped 2, failed 0" {
		t.Errorf("Summary() = %q", got)
	}
}

func TestRunSelected_DoesNotRetriggerTrackedProject(t *testing.T) {
	agg := &fakeAggregator{script: [][]pipeline.Row{{row("Api", pipeline.StatusCreated, "11")}}}
	player := &fakePlayer{}
	o := newTestOrchestrator(agg, player, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := row("Api", pipeline.StatusSuccess, "11")
	r.Branch = "master"
	if _, err := o.RunSelected(ctx, []pipeline.Row{r}); err != nil {
		t.Fatalf("first RunSelected: %v", err)
	}
	res, err := o.RunSelected(ctx, []pipeline.Row{r})
	if err != nil {
		t.Fatalf("second RunSelected: %v", err)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].Reason != SkipTracked {
		t.Errorf("second run skipped = %+v, want already tracked", res.Skipped)
	}
	if got := player.Played(); len(got) != 1 {
		t.Errorf("schedule played %d times, want 1", len(got))
	}
}

func TestRunSelected_ConcurrentBatchesPlayOnce(t *testing.T) {
	agg := &fakeAggregator{script: [][]pipeline.Row{{row("Api", pipeline.StatusRunning, "11")}}}
	player := &fakePlayer{}
	o := newTestOrchestrator(agg, player, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := row("Api", pipeline.StatusSuccess, "11")
	r.Branch = "master"

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.RunSelected(ctx, []pipeline.Row{r})
		}()
	}
	wg.Wait()

	if got := player.Played(); len(got) != 1 {
		t.Errorf("schedule played %d times, want 1", len(got))
	}
}

func TestRunSelected_FailureDoesNotStopBatch(t *testing.T) {
	agg := &fakeAggregator{script: [][]pipeline.Row{{}}}
	player := &fakePlayer{fail: map[string]error{"11": errors.New("403 Forbidden")}}
	events := &fakeEvents{}
	o := newTestOrchestrator(agg, player, events, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rows := []pipeline.Row{
		row("Api", pipeline.StatusSuccess, "11"),
		row("Ui", pipeline.StatusSuccess, "12"),
	}
	for i := range rows {
		rows[i].Branch = "master"
	}

	res, err := o.RunSelected(ctx, rows)
	if err == nil {
		t.Fatal("expected the first failure to be returned")
	}
	if len(res.Failed) != 1 || res.Failed[0].Project != "Api" {
		t.Errorf("Failed = %+v", res.Failed)
	}
	if len(res.Triggered) != 1 || res.Triggered[0] != "Ui" {
		t.Errorf("Triggered = %v, want [Ui]", res.Triggered)
	}
	if o.Active().Has("Api") {
		t.Error("failed trigger should release its reservation")
	}
	if events.triggers[0].Outcome != db.OutcomeFailed {
		t.Errorf("first trigger outcome = %q, want failed", events.triggers[0].Outcome)
	}
}

func TestRunSelected_SkipsRowWithUnknownStatus(t *testing.T) {
	player := &fakePlayer{}
	o := newTestOrchestrator(&fakeAggregator{script: [][]pipeline.Row{{}}}, player, nil, nil)

	r := staleRow("Api")
	r.Branch = "master"
	r.Schedule = &pipeline.ScheduleMatch{ID: "7", Ref: "master", Active: true}
	res, err := o.RunSelected(context.Background(), []pipeline.Row{r})
	if err != nil {
		t.Fatalf("RunSelected: %v", err)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].Reason != SkipUnknown {
		t.Errorf("Skipped = %+v, want %q", res.Skipped, SkipUnknown)
	}
	if len(player.Played()) != 0 || o.Tracking() {
		t.Errorf("played %v, tracking %v; want nothing", player.Played(), o.Tracking())
	}
}

type countingSink struct {
	mu    sync.Mutex
	notes []tracker.Notification
}

func (s *countingSink) Notify(ctx context.Context, n tracker.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, n)
	return nil
}

func (s *countingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notes)
}

func TestWaitTracking_CancelJoinsLoopBeforeSinksClose(t *testing.T) {
	agg := &fakeAggregator{
		script: [][]pipeline.Row{{row("Api", pipeline.StatusRunning, "7")}},
		block:  make(chan struct{}),
	}
	sink := &countingSink{}
	dispatcher := tracker.NewDispatcher(8, quietLogger(), sink)
	o := New(Deps{Aggregator: agg, Player: &fakePlayer{}, Emitter: dispatcher}, Options{
		Projects:      []gitlab.ProjectRef{{ID: 1, Name: "Api"}},
		Branches:      []string{"master"},
		TrackInterval: 10 * time.Millisecond,
		Logger:        quietLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx)

	r := row("Api", pipeline.StatusSuccess, "7")
	r.Branch = "master"
	res, err := o.RunSelected(ctx, []pipeline.Row{r})
	if err != nil || !res.Tracking {
		t.Fatalf("RunSelected = %+v, %v", res, err)
	}

	// Let the loop tick and block inside Aggregate, then cancel while the
	// poll is still in progress.
	time.Sleep(50 * time.Millisecond)
	cancel()
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(agg.block)
	}()

	if err := o.WaitTracking(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("WaitTracking = %v, want context.Canceled", err)
	}
	if o.Tracking() {
		t.Fatal("track loop still running after WaitTracking returned")
	}
	if agg.Calls() != 1 {
		t.Errorf("Aggregate calls = %d, want 1", agg.Calls())
	}

	dispatcher.Close()
	if sink.Len() != 1 {
		t.Errorf("delivered %d notifications, want the STARTED from the last poll", sink.Len())
	}
	dispatcher.Emit(tracker.Notification{Key: "late"})
	if sink.Len() != 1 {
		t.Errorf("notification delivered after Close")
	}
}

func TestTrackLoop_StopsWhenPipelinesSettle(t *testing.T) {
	agg := &fakeAggregator{script: [][]pipeline.Row{
		{row("Api", pipeline.StatusRunning, "11")},
		{row("Api", pipeline.StatusSuccess, "11")},
	}}
	em := &collectEmitter{}
	o := newTestOrchestrator(agg, &fakePlayer{}, nil, em)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	r := row("Api", pipeline.StatusSuccess, "11")
	r.Branch = "master"
	if _, err := o.RunSelected(ctx, []pipeline.Row{r}); err != nil {
		t.Fatalf("RunSelected: %v", err)
	}
	if err := o.WaitTracking(ctx); err != nil {
		t.Fatalf("track loop did not finish: %v", err)
	}
	if o.Tracking() {
		t.Error("Tracking() should be false after the loop exits")
	}
	if o.Active().Len() != 0 {
		t.Errorf("active set has %d entries, want 0", o.Active().Len())
	}

	em.mu.Lock()
	defer em.mu.Unlock()
	if len(em.notes) != 2 || em.notes[0].Action != tracker.ActionStarted || em.notes[1].Action != tracker.ActionCompleted {
		t.Errorf("notifications = %+v, want STARTED then COMPLETED", em.notes)
	}
}

func TestStartTracking_Idempotent(t *testing.T) {
	agg := &fakeAggregator{script: [][]pipeline.Row{{row("Api", pipeline.StatusRunning, "11")}}}
	o := newTestOrchestrator(agg, &fakePlayer{}, nil, nil)
	o.Active().Put(ActiveEntry{Project: "Api", Branch: "master", Status: pipeline.StatusRunning})
	ctx, cancel := context.WithCancel(context.Background())

	if !o.StartTracking(ctx) {
		t.Fatal("first StartTracking should start the loop")
	}
	if o.StartTracking(ctx) {
		t.Error("second StartTracking should be a no-op")
	}

	cancel()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	if err := o.WaitTracking(waitCtx); err != nil {
		t.Fatalf("loop did not exit on cancel: %v", err)
	}
}

func TestCheckIn_PollsEveryBranch(t *testing.T) {
	agg := &fakeAggregator{script: [][]pipeline.Row{{row("Api", pipeline.StatusSuccess, "")}}}
	o := newTestOrchestrator(agg, &fakePlayer{}, nil, nil)

	res, err := o.CheckIn(context.Background())
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if len(res.Polls) != 2 {
		t.Fatalf("polls = %d, want 2", len(res.Polls))
	}
	if res.Polls[0].Branch != "support" || res.Polls[1].Branch != "master" {
		t.Errorf("poll order = %s, %s", res.Polls[0].Branch, res.Polls[1].Branch)
	}
}

func TestWatch_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	agg := &fakeAggregator{script: [][]pipeline.Row{{row("Api", pipeline.StatusSuccess, "")}}}
	o := newTestOrchestrator(agg, &fakePlayer{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	cycles := make(chan struct{}, 10)
	done := make(chan struct{})
	go func() {
		o.Watch(ctx, time.Hour, func(*CheckInResult, error) { cycles <- struct{}{} })
		close(done)
	}()

	select {
	case <-cycles:
	case <-time.After(time.Second):
		t.Fatal("first cycle did not run immediately")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestActiveSet_Reconcile(t *testing.T) {
	s := NewActiveSet()
	now := time.Now()
	s.Put(ActiveEntry{Project: "Api", Branch: "master", Status: pipeline.StatusCreated})
	s.Put(ActiveEntry{Project: "Ui", Branch: "support", Status: pipeline.StatusRunning})

	rows := []pipeline.Row{
		row("Api", pipeline.StatusSuccess, "11"),
		row("Ui", pipeline.StatusSuccess, "12"),
		row("Common", pipeline.StatusPending, "13"),
	}
	removed := s.Reconcile("master", rows, now)

	if len(removed) != 1 || removed[0] != "Api" {
		t.Errorf("removed = %v, want [Api]", removed)
	}
	if !s.Has("Ui") {
		t.Error("entry on another branch must not be removed")
	}
	e, ok := s.Get("Common")
	if !ok || e.ScheduleID != "13" || e.Branch != "master" {
		t.Errorf("Common entry = %+v, %v", e, ok)
	}
	if got := s.Branches(); len(got) != 2 || got[0] != "master" || got[1] != "support" {
		t.Errorf("Branches() = %v", got)
	}
}
