package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/lucasnoah/glwatch/internal/db"
	"github.com/lucasnoah/glwatch/internal/orchestrator"
	"github.com/lucasnoah/glwatch/internal/pipeline"
)

// ---- view models ----

// PipelineRowView is a Row flattened for display.
type PipelineRowView struct {
	Project     string          `json:"project"`
	Type        string          `json:"type"`
	Status      pipeline.Status `json:"status"`
	PipelineID  string          `json:"pipeline_id,omitempty"`
	User        string          `json:"triggering_user,omitempty"`
	Total       string          `json:"total_duration"`
	Run         string          `json:"run_duration"`
	LastDeploy  string          `json:"last_deploy,omitempty"`
	OpenMRs     string          `json:"open_mr_count"`
	SinceDeploy string          `json:"commits_since_last_deploy"`
	HasSchedule bool            `json:"has_schedule"`
	ScheduleURL string          `json:"schedule_url"`
	Error       string          `json:"error,omitempty"`
	InFlight    bool            `json:"in_flight"`
}

type pipelinesResponse struct {
	Branch string            `json:"branch"`
	Rows   []PipelineRowView `json:"rows"`
}

type DashboardData struct {
	Branch      string
	Branches    []string
	Rows        []PipelineRowView
	Active      []orchestrator.ActiveEntry
	Transitions []db.Transition
	Error       string
}

func rowView(r pipeline.Row, now time.Time) PipelineRowView {
	v := PipelineRowView{
		Project:     r.Project,
		Type:        r.Type,
		Status:      r.Status,
		Total:       "-",
		Run:         "-",
		OpenMRs:     r.Lag.OpenMRs.String(),
		SinceDeploy: r.Lag.SinceDeploy.String(),
		HasSchedule: r.Schedule != nil,
		ScheduleURL: r.ScheduleURL,
		Error:       r.Error,
		InFlight:    r.Status.InFlight(),
	}
	if r.Latest != nil {
		v.PipelineID = r.Latest.PipelineID
		v.User = r.Latest.User
		v.Total = r.Latest.TotalDuration(now)
		v.Run = r.Latest.RunDuration(now)
	}
	if r.LastDeploy != nil && !r.LastDeploy.FinishedAt.IsZero() {
		v.LastDeploy = r.LastDeploy.FinishedAt.UTC().Format(time.RFC3339)
	}
	return v
}

func rowViews(rows []pipeline.Row, now time.Time) []PipelineRowView {
	out := make([]PipelineRowView, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowView(r, now))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func limitParam(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func relTime(ts string) string {
	formats := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	var t time.Time
	for _, f := range formats {
		if parsed, err := time.Parse(f, ts); err == nil {
			t = parsed
			break
		}
	}
	if t.IsZero() {
		return ts
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// ---- Dashboard ----

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	branch := s.branchParam(r)
	data := DashboardData{
		Branch:   branch,
		Branches: s.source.Branches(),
		Active:   s.source.Active().Snapshot(),
	}

	rows, err := s.rowsFor(r.Context(), branch)
	if err != nil {
		data.Error = err.Error()
	}
	data.Rows = rowViews(rows, s.now())

	if s.events != nil {
		data.Transitions, _ = s.events.RecentTransitions(branch, 20)
	}

	if err := s.dashboardTmpl.ExecuteTemplate(w, "base", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// ---- JSON API ----

func (s *Server) handlePipelines(w http.ResponseWriter, r *http.Request) {
	branch := s.branchParam(r)
	if branch == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no branch configured"})
		return
	}
	rows, err := s.rowsFor(r.Context(), branch)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, pipelinesResponse{Branch: branch, Rows: rowViews(rows, s.now())})
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Active().Snapshot())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "event log disabled"})
		return
	}
	limit := limitParam(r, 50)

	transitions, err := s.events.RecentTransitions(r.URL.Query().Get("branch"), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	triggers, err := s.events.RecentTriggers(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if transitions == nil {
		transitions = []db.Transition{}
	}
	if triggers == nil {
		triggers = []db.Trigger{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transitions": transitions,
		"triggers":    triggers,
	})
}
