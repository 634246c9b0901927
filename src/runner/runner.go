// Package runner drives reconciliation runs for a list of connector
// configurations under one process lock.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"build-bridge/src/agilecentral"
	"build-bridge/src/broker"
	"build-bridge/src/config"
	"build-bridge/src/contracts"
	"build-bridge/src/jenkins"
	"build-bridge/src/lockfile"
	"build-bridge/src/logger"
	"build-bridge/src/provider"
	"build-bridge/src/reconcile"
	"build-bridge/src/report"
	"build-bridge/src/store"
	"build-bridge/src/timefile"
)

// Version is reported in the startup banner and the integration headers.
var Version = "0.9.8"

const (
	DefaultConfigDir = "config"
	DefaultLogDir    = "log"

	integrationVendor = "Open Source contributors"
)

// Connector is one configuration's connected pair of systems.
type Connector struct {
	Source  provider.BuildSource
	Backlog reconcile.Backlog
}

// ConnectFunc connects both systems described by cfg.
type ConnectFunc func(ctx context.Context, cfg *config.Config, log logger.Logger) (*Connector, error)

// Connect connects to Jenkins first, so its version can be announced in the
// AgileCentral integration headers, then to AgileCentral.
func Connect(ctx context.Context, cfg *config.Config, log logger.Logger) (*Connector, error) {
	jc := jenkins.NewConnection(cfg.Jenkins, log)
	if err := jc.Connect(ctx); err != nil {
		return nil, err
	}

	ac := agilecentral.NewConnection(cfg.AgileCentral, log)
	name := fmt.Sprintf("AgileCentral BuildConnector for %s (Jenkins %s)", jc.Name(), jc.Version())
	ac.Client().SetIntegration(name, integrationVendor, Version)
	if err := ac.Connect(ctx, cfg.Jenkins.DefaultProject); err != nil {
		return nil, err
	}
	return &Connector{Source: jc, Backlog: ac}, nil
}

// Options configures a Runner.
type Options struct {
	ConfigDir string
	LogDir    string
	// LockPath defaults to lockfile.DefaultName in the working directory.
	LockPath string
	// Preview forces preview mode regardless of Service.Preview.
	Preview bool
	// Console receives human readable log lines. Defaults to stderr.
	Console io.Writer
	// Out receives the outcome table of each run. Nil disables it.
	Out io.Writer
	// Connect defaults to Connect.
	Connect ConnectFunc
	// Broker, when set, receives the events of every configuration instead of
	// the brokers named in Service.Events.
	Broker broker.Broker
}

// Report is what happened to one configuration.
type Report struct {
	Config string
	RunID  string
	Result *reconcile.Result
	// Written is the time file value stored by the run, zero if unchanged.
	Written time.Time
	Err     error
}

// Runner runs configurations one after the other. Ledgers and brokers are
// opened on first use and kept until Close.
type Runner struct {
	opts    Options
	console logger.Logger
	now     func() time.Time

	mu      sync.Mutex
	stores  map[string]store.Store
	brokers map[string]broker.Broker
}

// New returns a Runner with defaults filled in.
func New(opts Options) *Runner {
	if opts.ConfigDir == "" {
		opts.ConfigDir = DefaultConfigDir
	}
	if opts.LogDir == "" {
		opts.LogDir = DefaultLogDir
	}
	if opts.LockPath == "" {
		opts.LockPath = lockfile.DefaultName
	}
	if opts.Console == nil {
		opts.Console = os.Stderr
	}
	if opts.Connect == nil {
		opts.Connect = Connect
	}
	return &Runner{
		opts:    opts,
		console: logger.New(opts.Console, logger.Options{Level: config.DefaultLogLevel, Console: true}),
		now:     time.Now,
		stores:  make(map[string]store.Store),
		brokers: make(map[string]broker.Broker),
	}
}

// Run processes names in order while holding the process lock. A failing
// configuration is logged and the next one proceeds; the failures are
// returned together.
func (r *Runner) Run(ctx context.Context, names []string) ([]Report, error) {
	if len(names) == 0 {
		return nil, provider.NewConfigurationError("insufficient command line args, must be at least a config file name")
	}

	lock := lockfile.New(r.opts.LockPath, r.console)
	if err := lock.Acquire(); err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			r.console.Error("unable to remove lock file %s: %v", r.opts.LockPath, err)
		}
	}()

	var reports []Report
	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		rep := r.runConfig(ctx, name)
		reports = append(reports, rep)
		if rep.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rep.Config, rep.Err))
		}
	}
	r.console.Info("run completed")
	return reports, errors.Join(errs...)
}

func (r *Runner) runConfig(ctx context.Context, name string) (rep Report) {
	rep.Config = config.Stem(name)

	if err := os.MkdirAll(r.opts.LogDir, 0o755); err != nil {
		rep.Err = fmt.Errorf("unable to locate or create the log directory: %w", err)
		r.console.Error("%v", rep.Err)
		return rep
	}
	logPath := filepath.Join(r.opts.LogDir, strings.TrimSuffix(rep.Config, "_config")+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		rep.Err = fmt.Errorf("unable to open log file: %w", err)
		r.console.Error("%v", rep.Err)
		return rep
	}
	defer logFile.Close()

	fields := map[string]string{"config": rep.Config}
	log := logger.NewTee(logFile, r.opts.Console, logger.Options{Level: config.DefaultLogLevel, Fields: fields})

	path, err := config.Resolve(r.opts.ConfigDir, name)
	if err != nil {
		rep.Err = err
		log.Error("%v", err)
		return rep
	}
	cfg, err := config.Load(path)
	if err != nil {
		rep.Err = err
		log.Error("%v", err)
		return rep
	}
	log = logger.NewTee(logFile, r.opts.Console, logger.Options{Level: cfg.Service.LogLevel, Fields: fields})

	r.proclaim(log, cfg, path)
	for _, w := range cfg.Warnings {
		log.Warn("%s", w)
	}

	started := r.now()
	tf := timefile.New(timefile.PathFor(r.opts.LogDir, cfg.Name), log)
	lastRun := tf.LastRun()
	log.Info("Time File value %s --- Now %s", lastRun.Format(timefile.Layout), started.UTC().Format(timefile.Layout))

	preview := r.opts.Preview || cfg.Service.Preview
	ledger := r.openLedger(log, cfg.Service.Ledger)
	pub := r.publisher(log, cfg.Service.Events)

	run := &store.Run{Config: cfg.Name, Preview: preview, StartedAt: started}
	if ledger != nil {
		if err := ledger.CreateRun(ctx, run); err != nil {
			log.Warn("run ledger unavailable: %v", err)
			ledger = nil
		}
	}
	rep.RunID = run.ID

	res, err := r.reconcile(ctx, log, cfg, preview, lastRun)
	rep.Result = res
	rep.Err = err
	if err != nil {
		log.Error("%v", err)
	}

	report.LogStatistics(log, cfg.Name, res, preview, r.now().Sub(started))
	if res != nil && r.opts.Out != nil {
		report.NewRenderer(r.opts.Out).Outcomes(cfg.Name, res, preview)
	}

	if err == nil {
		rep.Written = r.advance(log, tf, res, preview)
	}

	r.record(ctx, log, ledger, pub, run, rep)
	return rep
}

func (r *Runner) proclaim(log logger.Logger, cfg *config.Config, path string) {
	connector := cfg.Connector
	if connector == "" {
		connector = "Jenkins"
	}
	wd, _ := os.Getwd()
	log.Info("%s version %s starting with pid %d in %s", connector, Version, os.Getpid(), wd)
	log.Info("processing to commence using content from %s", path)
	if info, err := os.Stat(path); err == nil {
		log.Info("%s last modified %s, size: %d chars", path, info.ModTime().UTC().Format(timefile.Layout), info.Size())
	}
}

func (r *Runner) reconcile(ctx context.Context, log logger.Logger, cfg *config.Config, preview bool, lastRun time.Time) (*reconcile.Result, error) {
	conn, err := r.opts.Connect(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	engine := reconcile.NewEngine(conn.Source, conn.Backlog, reconcile.Options{
		Preview:         preview,
		MaxBuilds:       cfg.Service.MaxBuilds,
		CILookback:      cfg.Jenkins.LookbackDuration(),
		BacklogLookback: cfg.AgileCentral.LookbackDuration(),
		Projects:        cfg.Jenkins.Projects(),
		StrictProject:   cfg.Service.StrictProject,
	}, log)

	log.Info("Connector validation starting")
	if err := engine.Validate(ctx); err != nil {
		return nil, err
	}
	log.Info("Connector validation succeeded")

	res, err := engine.Run(ctx, lastRun)
	for _, line := range report.BuildInformation(res) {
		log.Debug("%s", line)
	}
	return res, err
}

// advance writes the run's watermark to the time file when the run posted
// builds outside preview mode.
func (r *Runner) advance(log logger.Logger, tf *timefile.File, res *reconcile.Result, preview bool) time.Time {
	switch {
	case preview:
		log.Info("Preview mode in effect, time file not written/updated")
		return time.Time{}
	case !res.Success && res.Count(reconcile.Errored) > 0:
		log.Info("There was an error in processing so the time file was not written")
		return time.Time{}
	case !res.Success || res.Watermark.IsZero():
		log.Info("No builds were added during this run, so the time file NOT updated")
		return time.Time{}
	}
	if err := tf.Write(res.Watermark); err != nil {
		log.Error("%v", err)
		return time.Time{}
	}
	log.Info("time file written with value of %s", res.Watermark.Format(timefile.Layout))
	return res.Watermark
}

func (r *Runner) record(ctx context.Context, log logger.Logger, ledger store.Store, pub *broker.Publisher, run *store.Run, rep Report) {
	run.FinishedAt = r.now()
	run.Watermark = rep.Written
	run.Status = store.RunCompleted
	if rep.Err != nil {
		run.Status = store.RunFailed
		run.Error = rep.Err.Error()
	}

	if res := rep.Result; res != nil {
		run.Success = res.Success
		run.Unrecorded = len(res.Unrecorded)
		run.Posted = res.Count(reconcile.Posted)
		run.Skipped = res.Count(reconcile.Skipped)
		run.Errored = res.Count(reconcile.Errored)
		run.Deferred = res.Count(reconcile.Deferred)

		for _, o := range res.Outcomes {
			if o.Kind != reconcile.Posted || o.Created == nil {
				continue
			}
			posted := store.PostedBuild{
				RunID:           run.ID,
				JobPath:         o.Build.JobPath,
				Number:          o.Build.Number,
				Status:          string(o.Build.Status),
				Project:         o.Build.Project,
				StartedAt:       o.Build.StartTime(),
				DurationSeconds: o.Build.DurationSeconds(),
				BuildURL:        o.Build.URL,
				BacklogRef:      o.Created.Ref,
			}
			if ledger != nil {
				if err := ledger.SavePostedBuild(ctx, &posted); err != nil {
					log.Warn("unable to record %s #%s in the run ledger: %v", posted.JobPath, posted.Number, err)
				}
			}
			if pub != nil {
				err := pub.BuildPosted(ctx, contracts.BuildPostedEvent{
					RunID:           run.ID,
					Config:          run.Config,
					JobPath:         posted.JobPath,
					Number:          posted.Number,
					Status:          posted.Status,
					Project:         posted.Project,
					StartedAt:       posted.StartedAt,
					DurationSeconds: posted.DurationSeconds,
					BuildURL:        posted.BuildURL,
					BacklogRef:      posted.BacklogRef,
				})
				if err != nil {
					log.Warn("%v", err)
				}
			}
		}
	}

	if ledger != nil {
		if err := ledger.CompleteRun(ctx, run); err != nil {
			log.Warn("unable to complete run %s in the run ledger: %v", run.ID, err)
		}
	}
	if pub != nil {
		err := pub.RunCompleted(ctx, contracts.RunCompletedEvent{
			RunID:      run.ID,
			Config:     run.Config,
			Preview:    run.Preview,
			Success:    run.Success,
			Unrecorded: run.Unrecorded,
			Posted:     run.Posted,
			Skipped:    run.Skipped,
			Errored:    run.Errored,
			Deferred:   run.Deferred,
			StartedAt:  run.StartedAt,
			FinishedAt: run.FinishedAt,
			Watermark:  run.Watermark,
			Error:      run.Error,
		})
		if err != nil {
			log.Warn("%v", err)
		}
	}
}

// openLedger returns the store for lc, opening it on first use. Failures are
// logged and leave the run without a ledger.
func (r *Runner) openLedger(log logger.Logger, lc config.LedgerConfig) store.Store {
	key := strings.ToLower(lc.Driver) + "|" + lc.DSN
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[key]; ok {
		return s
	}
	s, err := store.Open(lc.Driver, lc.DSN)
	if err != nil {
		log.Warn("run ledger unavailable: %v", err)
		return nil
	}
	r.stores[key] = s
	return s
}

// publisher returns a Publisher for ec, or nil when no events are wanted.
func (r *Runner) publisher(log logger.Logger, ec config.EventsConfig) *broker.Publisher {
	if r.opts.Broker != nil {
		return broker.NewPublisher(r.opts.Broker, ec.Topic)
	}
	if len(ec.Brokers) == 0 {
		return nil
	}
	key := strings.Join(ec.Brokers, ",")
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.brokers[key]
	if !ok {
		var err error
		if b, err = broker.New(ec.Brokers, log); err != nil {
			log.Warn("event publication disabled: %v", err)
			return nil
		}
		r.brokers[key] = b
	}
	return broker.NewPublisher(b, ec.Topic)
}

// Ledger returns the store a configuration's runs were recorded in, if this
// Runner opened it.
func (r *Runner) Ledger(lc config.LedgerConfig) (store.Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stores[strings.ToLower(lc.Driver)+"|"+lc.DSN]
	return s, ok
}

// Close releases the ledgers and brokers opened by the Runner.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for key, s := range r.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.stores, key)
	}
	for key, b := range r.brokers {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.brokers, key)
	}
	return errors.Join(errs...)
}
