package domain

import "time"

// RunReport summarizes one extraction and resolution run.
type RunReport struct {
	RunID       string        `json:"run_id"`
	Method      Method        `json:"method"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Targets     int           `json:"targets"`
	Failed      []string      `json:"failed,omitempty"`
	Resolved    int           `json:"resolved"`
	Groups      int           `json:"groups"`
	Heavy       int           `json:"heavily_censored"`
	GroupErrors []string      `json:"group_errors,omitempty"`
}
