// Package contracts defines the events published about reconciliation runs.
package contracts

import "time"

// BuildPostedEvent announces a CI build newly recorded in the backlog system.
// Published to: bldbridge.builds.posted
// Key: {job_path}
type BuildPostedEvent struct {
	RunID   string `json:"run_id"`
	Config  string `json:"config"`
	JobPath string `json:"job_path"`
	Number  string `json:"number"`
	Status  string `json:"status"`
	Project string `json:"project"`

	StartedAt       time.Time `json:"started_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	BuildURL        string    `json:"build_url"`

	// Ref of the created Build in the backlog system.
	BacklogRef string `json:"backlog_ref"`
}

// RunCompletedEvent summarizes one run of one configuration.
// Published to: bldbridge.runs.completed
// Key: {config}
type RunCompletedEvent struct {
	RunID   string `json:"run_id"`
	Config  string `json:"config"`
	Preview bool   `json:"preview"`
	Success bool   `json:"success"`

	Unrecorded int `json:"unrecorded"`
	Posted     int `json:"posted"`
	Skipped    int `json:"skipped"`
	Errored    int `json:"errored"`
	Deferred   int `json:"deferred"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// Watermark is the value written to the time file, zero when unchanged.
	Watermark time.Time `json:"watermark,omitempty"`
	Error     string    `json:"error,omitempty"`
}
