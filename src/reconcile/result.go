package reconcile

import (
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"build-bridge/src/agilecentral"
	"build-bridge/src/provider"
)

// State is the phase of a run.
type State int

const (
	Idle State = iota
	InventoryLoaded
	BothHistoriesRetrieved
	Diffed
	Posting
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case InventoryLoaded:
		return "InventoryLoaded"
	case BothHistoriesRetrieved:
		return "BothHistoriesRetrieved"
	case Diffed:
		return "Diffed"
	case Posting:
		return "Posting"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	}
	return "Unknown"
}

// OutcomeKind is what happened to one unrecorded build.
type OutcomeKind string

const (
	// Posted builds were created in the backlog system.
	Posted OutcomeKind = "posted"
	// Skipped builds already existed when checked just before creation.
	Skipped OutcomeKind = "skipped"
	// Errored builds failed while resolving prerequisites or creating.
	Errored OutcomeKind = "errored"
	// Previewed builds would have been posted outside preview mode.
	Previewed OutcomeKind = "previewed"
	// Deferred builds exceeded their job's cap for this run.
	Deferred OutcomeKind = "deferred"
	// InFlight builds were still running.
	InFlight OutcomeKind = "in-flight"
)

// Outcome records the handling of one unrecorded build.
type Outcome struct {
	Build provider.BuildRecord
	Kind  OutcomeKind
	// Created is set for Posted and Skipped outcomes.
	Created *agilecentral.Build
	Err     error
}

// Result is the report of one run.
type Result struct {
	// Success is true when at least one build was posted.
	Success bool
	// Posted maps job paths, in first-posted order, to the builds created for them.
	Posted     *orderedmap.OrderedMap[string, []agilecentral.Build]
	Unrecorded []provider.BuildRecord
	Reflected  int
	Outcomes   []Outcome
	// Watermark is the earliest start the next run must still look at: the
	// oldest of each job's last posted build and any errored or in-flight
	// build. Zero when nothing qualifies.
	Watermark time.Time

	CISince       time.Time
	BacklogSince  time.Time
	CIBuilds      map[provider.ContainerKey]provider.JobBuilds
	BacklogBuilds map[string]provider.JobBuilds
}

func newResult() *Result {
	return &Result{Posted: orderedmap.New[string, []agilecentral.Build]()}
}

// Count returns the number of outcomes of kind.
func (r *Result) Count(kind OutcomeKind) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind == kind {
			n++
		}
	}
	return n
}

// PostedCount returns the number of builds created.
func (r *Result) PostedCount() int {
	n := 0
	for pair := r.Posted.Oldest(); pair != nil; pair = pair.Next() {
		n += len(pair.Value)
	}
	return n
}

// PostedByJob returns the number of builds created per job path, in posting order.
func (r *Result) PostedByJob() []JobCount {
	var out []JobCount
	for pair := r.Posted.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, JobCount{Job: pair.Key, Count: len(pair.Value)})
	}
	return out
}

// JobCount pairs a job path with a count.
type JobCount struct {
	Job   string
	Count int
}

func (r *Result) addPosted(job string, b agilecentral.Build) {
	builds, _ := r.Posted.Get(job)
	r.Posted.Set(job, append(builds, b))
}

func (r *Result) computeWatermark() {
	lastPosted := make(map[string]int64)
	var candidates []int64
	for _, o := range r.Outcomes {
		switch o.Kind {
		case Posted:
			if o.Build.StartedAt > lastPosted[o.Build.JobPath] {
				lastPosted[o.Build.JobPath] = o.Build.StartedAt
			}
		case Errored, InFlight:
			candidates = append(candidates, o.Build.StartedAt)
		}
	}
	for _, ts := range lastPosted {
		candidates = append(candidates, ts)
	}
	if len(candidates) == 0 {
		return
	}
	earliest := candidates[0]
	for _, ts := range candidates[1:] {
		earliest = min(earliest, ts)
	}
	r.Watermark = time.UnixMilli(earliest).UTC()
}
