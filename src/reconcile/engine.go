// Package reconcile finds CI builds that the backlog system has no record of
// and posts them, oldest first.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"build-bridge/src/agilecentral"
	"build-bridge/src/config"
	"build-bridge/src/linker"
	"build-bridge/src/logger"
	"build-bridge/src/provider"
)

// Backlog is the backlog system side of a run.
type Backlog interface {
	linker.Backend
	FindProjectsByName(ctx context.Context, names []string) (map[string]agilecentral.Project, error)
	RecentBuilds(ctx context.Context, projects []string, since time.Time) (map[string]provider.JobBuilds, error)
	EnsureBuildDefinition(ctx context.Context, cache *agilecentral.Cache, project, jobPath, uri string, strict bool) (agilecentral.BuildDefinition, error)
	BuildExists(ctx context.Context, def agilecentral.BuildDefinition, number string) (agilecentral.Build, bool, error)
	CreateBuild(ctx context.Context, p agilecentral.BuildPayload) (agilecentral.Build, error)
}

var _ Backlog = (*agilecentral.Connection)(nil)

// Options controls a run.
type Options struct {
	Preview         bool
	MaxBuilds       int
	CILookback      time.Duration
	BacklogLookback time.Duration
	// Projects are the backlog projects whose builds are compared.
	Projects      []string
	StrictProject bool
}

// Engine reconciles one CI source against one backlog workspace.
type Engine struct {
	source  provider.BuildSource
	backlog Backlog
	opts    Options
	log     logger.Logger

	state     State
	validated bool
}

// NewEngine returns an idle Engine.
func NewEngine(source provider.BuildSource, backlog Backlog, opts Options, log logger.Logger) *Engine {
	if opts.MaxBuilds <= 0 {
		opts.MaxBuilds = config.DefaultMaxBuilds
	}
	return &Engine{source: source, backlog: backlog, opts: opts, log: log}
}

// State returns the phase the engine last reached.
func (e *Engine) State() State {
	return e.state
}

// Validate checks that every configured CI item and backlog project exists.
func (e *Engine) Validate(ctx context.Context) error {
	if err := e.source.Validate(ctx); err != nil {
		e.state = Failed
		return err
	}
	if _, err := e.backlog.FindProjectsByName(ctx, e.opts.Projects); err != nil {
		e.state = Failed
		return err
	}
	e.validated = true
	e.state = InventoryLoaded
	return nil
}

// Run compares both histories since lastRun, less each side's lookback, and
// posts the CI builds the backlog is missing. Failures of single builds are
// recorded in the result and do not stop the run.
func (e *Engine) Run(ctx context.Context, lastRun time.Time) (*Result, error) {
	if !e.validated {
		if err := e.Validate(ctx); err != nil {
			return nil, err
		}
	}

	res := newResult()
	res.BacklogSince = lastRun.Add(-e.opts.BacklogLookback)
	res.CISince = lastRun.Add(-e.opts.CILookback)

	e.log.Info("Obtaining %s builds since %s", "AgileCentral", res.BacklogSince.UTC().Format(time.RFC3339))
	backlogBuilds, err := e.backlog.RecentBuilds(ctx, e.opts.Projects, res.BacklogSince)
	if err != nil {
		e.state = Failed
		return nil, err
	}
	e.log.Info("Obtaining %s builds since %s", e.source.Name(), res.CISince.UTC().Format(time.RFC3339))
	ciBuilds, err := e.source.RecentBuilds(ctx, res.CISince)
	if err != nil {
		e.state = Failed
		return nil, err
	}
	res.BacklogBuilds, res.CIBuilds = backlogBuilds, ciBuilds
	e.state = BothHistoriesRetrieved

	res.Unrecorded, res.Reflected = Diff(backlogBuilds, ciBuilds)
	e.state = Diffed
	e.log.Info("%d %s builds already reflected, %d unrecorded", res.Reflected, e.source.Name(), len(res.Unrecorded))

	e.state = Posting
	p := &poster{engine: e, cache: agilecentral.NewCache(), posted: make(map[string]int)}
	for _, build := range res.Unrecorded {
		if err := ctx.Err(); err != nil {
			e.state = Failed
			return res, err
		}
		res.Outcomes = append(res.Outcomes, p.handle(ctx, build, res))
	}

	res.Success = res.PostedCount() > 0
	res.computeWatermark()
	e.state = Done
	return res, nil
}

// poster holds the state shared by the builds of one run.
type poster struct {
	engine   *Engine
	cache    *agilecentral.Cache
	linker   *linker.Linker
	posted   map[string]int
}

func (p *poster) handle(ctx context.Context, build provider.BuildRecord, res *Result) Outcome {
	e := p.engine
	if build.InFlight() {
		e.log.Warn("%s #%s is still running, not posted", build.JobPath, build.Number)
		return Outcome{Build: build, Kind: InFlight}
	}
	// Only postings (or would-be postings in preview) count against MaxBuilds.
	if p.posted[build.JobPath] >= e.opts.MaxBuilds {
		return Outcome{Build: build, Kind: Deferred}
	}

	if e.opts.Preview {
		p.posted[build.JobPath]++
		e.log.Info("(Preview) %-36.36s #%5s  %-10.10s %s", build.JobPath, build.Number, build.Status, build.StartTime().UTC().Format(time.RFC3339))
		return Outcome{Build: build, Kind: Previewed}
	}

	created, existed, err := p.post(ctx, build)
	if err != nil {
		e.log.Error("%s #%s not posted: %v", build.JobPath, build.Number, err)
		return Outcome{Build: build, Kind: Errored, Err: err}
	}
	if existed {
		return Outcome{Build: build, Kind: Skipped, Created: &created}
	}
	p.posted[build.JobPath]++
	res.addPosted(build.JobPath, created)
	return Outcome{Build: build, Kind: Posted, Created: &created}
}

func (p *poster) post(ctx context.Context, build provider.BuildRecord) (agilecentral.Build, bool, error) {
	e := p.engine
	def, err := e.backlog.EnsureBuildDefinition(ctx, p.cache, build.Project, build.JobPath, build.JobURI(), e.opts.StrictProject)
	if err != nil {
		return agilecentral.Build{}, false, err
	}

	existing, found, err := e.backlog.BuildExists(ctx, def, build.Number)
	if err != nil {
		return agilecentral.Build{}, false, err
	}
	if found {
		e.log.Debug("%s #%s already recorded, skipped", build.JobPath, build.Number)
		return existing, true, nil
	}

	var changesets []agilecentral.Changeset
	if len(build.Commits) > 0 {
		if p.linker == nil {
			if p.linker, err = linker.New(ctx, e.backlog, e.log); err != nil {
				return agilecentral.Build{}, false, err
			}
		}
		if changesets, err = p.linker.Link(ctx, p.cache, build); err != nil {
			return agilecentral.Build{}, false, err
		}
	}

	created, err := e.backlog.CreateBuild(ctx, agilecentral.BuildPayload{
		Definition: def,
		Number:     build.Number,
		Status:     string(build.Status),
		Start:      build.StartTime(),
		Duration:   build.DurationSeconds(),
		URI:        build.URL,
		Message:    fmt.Sprintf("%s #%s", agilecentral.DefinitionName(build.JobPath), build.Number),
		Changesets: changesets,
	})
	if err != nil {
		return agilecentral.Build{}, false, err
	}
	return created, false, nil
}
