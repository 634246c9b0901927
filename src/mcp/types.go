// Package mcp exposes the run ledger as read-only MCP tools.
package mcp

import (
	"time"

	"build-bridge/src/store"
)

// RunSummary is one entry of the list_runs response.
type RunSummary struct {
	ID         string    `json:"id"`
	Config     string    `json:"config"`
	Preview    bool      `json:"preview"`
	Status     string    `json:"status"`
	Success    bool      `json:"success"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Posted     int       `json:"posted"`
	Errored    int       `json:"errored"`
	Deferred   int       `json:"deferred"`
}

// RunsResponse is the list_runs response.
type RunsResponse struct {
	Count int          `json:"count"`
	Runs  []RunSummary `json:"runs"`
}

// RunDetail is the get_run response: the full run and every build it posted.
type RunDetail struct {
	Run    store.Run           `json:"run"`
	Builds []store.PostedBuild `json:"builds"`
}

func summarize(r store.Run) RunSummary {
	return RunSummary{
		ID:         r.ID,
		Config:     r.Config,
		Preview:    r.Preview,
		Status:     r.Status,
		Success:    r.Success,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Posted:     r.Posted,
		Errored:    r.Errored,
		Deferred:   r.Deferred,
	}
}
