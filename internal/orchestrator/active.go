package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/lucasnoah/glwatch/internal/pipeline"
)

// ActiveEntry is a pipeline this process believes is still in flight.
type ActiveEntry struct {
	Project     string          `json:"project"`
	Branch      string          `json:"branch"`
	ScheduleID  string          `json:"schedule_id"`
	Status      pipeline.Status `json:"status"`
	LastUpdated time.Time       `json:"last_updated"`
}

// ActiveSet holds in-flight pipelines keyed by project name. It suppresses
// duplicate triggers and decides when the track loop may stop. In-flight
// here means running, pending, or created, which is broader than the
// tracker's running state.
type ActiveSet struct {
	mu      sync.Mutex
	entries map[string]ActiveEntry
}

// NewActiveSet returns an empty set.
func NewActiveSet() *ActiveSet {
	return &ActiveSet{entries: make(map[string]ActiveEntry)}
}

// Reserve inserts e unless the project is already present. The check and
// insert are atomic, so concurrent triggers for one project cannot both win.
func (s *ActiveSet) Reserve(e ActiveEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.Project]; ok {
		return false
	}
	s.entries[e.Project] = e
	return true
}

// Put inserts or replaces the entry for e.Project.
func (s *ActiveSet) Put(e ActiveEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Project] = e
}

// Get returns the entry for project.
func (s *ActiveSet) Get(project string) (ActiveEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[project]
	return e, ok
}

// Has reports whether project is tracked.
func (s *ActiveSet) Has(project string) bool {
	_, ok := s.Get(project)
	return ok
}

// Remove deletes the entry for project.
func (s *ActiveSet) Remove(project string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, project)
}

// Len returns the number of tracked projects.
func (s *ActiveSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Snapshot returns all entries sorted by project.
func (s *ActiveSet) Snapshot() []ActiveEntry {
	s.mu.Lock()
	out := make([]ActiveEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Project < out[j].Project })
	return out
}

// Branches returns the distinct branches of tracked entries, sorted.
func (s *ActiveSet) Branches() []string {
	s.mu.Lock()
	seen := make(map[string]bool)
	for _, e := range s.entries {
		seen[e.Branch] = true
	}
	s.mu.Unlock()

	out := make([]string, 0, len(seen))
	for b := range seen {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// Reconcile applies one poll's rows for branch: entries whose row is now
// terminal are removed, and in-flight rows not yet tracked are added. Stale
// rows are ignored. It returns the projects removed.
func (s *ActiveSet) Reconcile(branch string, rows []pipeline.Row, now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for _, row := range rows {
		if row.Stale {
			continue
		}
		e, ok := s.entries[row.Project]
		switch {
		case ok && e.Branch == branch && row.Status.Terminal():
			delete(s.entries, row.Project)
			removed = append(removed, row.Project)
		case ok && e.Branch == branch:
			e.Status = row.Status
			e.LastUpdated = now
			s.entries[row.Project] = e
		case !ok && row.Status.InFlight():
			s.entries[row.Project] = ActiveEntry{
				Project:     row.Project,
				Branch:      branch,
				ScheduleID:  row.ScheduleID(),
				Status:      row.Status,
				LastUpdated: now,
			}
		}
	}
	return removed
}
