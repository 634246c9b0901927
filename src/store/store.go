// Package store records reconciliation runs and the builds they posted.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run is one processing of one connector configuration.
type Run struct {
	ID         string    `json:"id"`
	Config     string    `json:"config"`
	Preview    bool      `json:"preview"`
	Status     string    `json:"status"`
	Success    bool      `json:"success"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	Unrecorded int `json:"unrecorded"`
	Posted     int `json:"posted"`
	Skipped    int `json:"skipped"`
	Errored    int `json:"errored"`
	Deferred   int `json:"deferred"`

	Watermark time.Time `json:"watermark,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// PostedBuild is a build created in the backlog system during a run.
type PostedBuild struct {
	RunID           string    `json:"run_id"`
	JobPath         string    `json:"job_path"`
	Number          string    `json:"number"`
	Status          string    `json:"status"`
	Project         string    `json:"project"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	BuildURL        string    `json:"build_url"`
	BacklogRef      string    `json:"backlog_ref"`
}

// ErrNotFound is returned for an unknown run ID.
type ErrNotFound struct {
	RunID string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("run not found: %s", e.RunID)
}

// Store defines the interface for persisting the run ledger.
type Store interface {
	// CreateRun records a started run. An empty ID is assigned.
	CreateRun(ctx context.Context, run *Run) error

	// CompleteRun stores the final state of a run created earlier.
	CompleteRun(ctx context.Context, run *Run) error

	// SavePostedBuild records one build created by a run.
	SavePostedBuild(ctx context.Context, build *PostedBuild) error

	// GetRun returns a run by ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns the most recent runs first, optionally only those of
	// one configuration. A limit of zero or less means no limit.
	ListRuns(ctx context.Context, config string, limit int) ([]Run, error)

	// GetPostedBuilds returns the builds of a run in posting order.
	GetPostedBuilds(ctx context.Context, runID string) ([]PostedBuild, error)

	// Close closes the store connection
	Close() error
}

// Open returns the store selected by driver: "memory" (or empty), "sqlite"
// or "postgres".
func Open(driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(dsn)
	case "postgres":
		return NewPostgresStore(dsn)
	}
	return nil, fmt.Errorf("unknown ledger driver %q", driver)
}
