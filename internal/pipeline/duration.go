package pipeline

import (
	"fmt"
	"time"
)

// FormatDuration renders d as "1h 2m 3s", omitting zero hours and minutes.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h, m, s := total/3600, (total/60)%60, total%60

	out := ""
	if h > 0 {
		out += fmt.Sprintf("%dh ", h)
	}
	if m > 0 {
		out += fmt.Sprintf("%dm ", m)
	}
	return out + fmt.Sprintf("%ds", s)
}

// TotalDuration is created to finished. A running pipeline is measured up to
// now and marked "(running)". Unknown spans render "-".
func (o Observation) TotalDuration(now time.Time) string {
	return span(o.CreatedAt, o.FinishedAt, o.Status == StatusRunning, now)
}

// RunDuration is started to finished, or "Waiting to start" when the
// pipeline has not started.
func (o Observation) RunDuration(now time.Time) string {
	if o.StartedAt.IsZero() {
		return "Waiting to start"
	}
	return span(o.StartedAt, o.FinishedAt, o.Status == StatusRunning, now)
}

func span(start, end time.Time, running bool, now time.Time) string {
	if start.IsZero() {
		return "-"
	}
	if end.IsZero() || end.Before(start) {
		if running {
			return FormatDuration(now.Sub(start)) + " (running)"
		}
		return "-"
	}
	return FormatDuration(end.Sub(start))
}
