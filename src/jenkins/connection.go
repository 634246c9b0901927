package jenkins

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"build-bridge/src/config"
	"build-bridge/src/logger"
	"build-bridge/src/provider"
)

// Target is one resolved configuration entry: a set of jobs destined for one
// backlog project.
type Target struct {
	// Kind is "Job", "View" or "Folder".
	Kind    string
	Path    string
	Project string
	Jobs    []JobNode
}

// Key returns the grouping key of the builds the target yields.
func (t Target) Key() provider.ContainerKey {
	container := t.Path
	if t.Kind == "Job" {
		container = t.Jobs[0].Container()
	}
	return provider.ContainerKey{Container: container, Project: t.Project}
}

// treeFetcher is the part of Client a Connection needs.
type treeFetcher interface {
	BuildLister
	Version(ctx context.Context) (string, error)
	Tree(ctx context.Context, maxDepth int) (*RawNode, error)
}

// Connection is the Jenkins side of a reconciliation run.
type Connection struct {
	cfg     config.JenkinsConfig
	client  treeFetcher
	log     logger.Logger
	version string
	inv     *Inventory
	targets []Target
	valid   bool
}

var _ provider.BuildSource = (*Connection)(nil)

// NewConnection creates a connection for cfg. Connect must be called before use.
func NewConnection(cfg config.JenkinsConfig, log logger.Logger) *Connection {
	return &Connection{
		cfg:    cfg,
		client: NewClient(cfg.BaseURL(), cfg.Username, cfg.Credential()),
		log:    log,
	}
}

// Name returns the source system name.
func (c *Connection) Name() string {
	return "Jenkins"
}

// Connect reads the server version and builds the inventory.
func (c *Connection) Connect(ctx context.Context) error {
	version, err := c.client.Version(ctx)
	if err != nil {
		return provider.OpError("connect to Jenkins", err)
	}
	c.version = version
	c.log.Info("Connected to Jenkins server: %s running at version %s", c.cfg.BaseURL(), version)

	c.log.Debug("Obtaining Jenkins inventory to depth %d", c.cfg.MaxDepth)
	root, err := c.client.Tree(ctx, c.cfg.MaxDepth)
	if err != nil {
		return provider.OpError("read Jenkins inventory", err)
	}
	c.inv = BuildInventory(root, c.cfg.MaxDepth)
	c.log.Info("Jenkins inventory: %d folders, %d views, %d jobs",
		len(c.inv.Folders), len(c.inv.Views), len(c.inv.AllJobs()))
	return nil
}

// Version returns the server version read by Connect.
func (c *Connection) Version() string {
	return c.version
}

// Inventory returns the inventory read by Connect.
func (c *Connection) Inventory() *Inventory {
	return c.inv
}

// Targets returns the targets resolved by Validate.
func (c *Connection) Targets() []Target {
	return c.targets
}

// Validate resolves every configured Job, View and Folder against the
// inventory. All problems are collected into one ConfigurationError.
func (c *Connection) Validate(ctx context.Context) error {
	if c.inv == nil {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}

	var (
		targets   []Target
		missing   []string
		ambiguous []string
	)

	for _, jt := range c.cfg.Jobs {
		job, err := c.resolveJob(jt.Job)
		switch {
		case err == errMissing:
			missing = append(missing, "Job: "+jt.Job)
			continue
		case err == errAmbiguous:
			ambiguous = append(ambiguous, "Job: "+jt.Job)
			continue
		}
		targets = append(targets, Target{Kind: "Job", Path: job.Path(), Project: c.cfg.ProjectFor(jt.Project), Jobs: []JobNode{job}})
	}

	for _, vt := range c.cfg.Views {
		view, err := c.resolveView(vt.View)
		switch {
		case err == errMissing:
			missing = append(missing, "View: "+vt.View)
			continue
		case err == errAmbiguous:
			ambiguous = append(ambiguous, "View: "+vt.View)
			continue
		}
		jobs, ferr := filterJobs(view.Jobs, vt.Include, vt.Exclude)
		if ferr != nil {
			return ferr
		}
		targets = append(targets, Target{Kind: "View", Path: view.Path(), Project: c.cfg.ProjectFor(vt.Project), Jobs: jobs})
	}

	for _, ft := range c.cfg.Folders {
		folder, err := c.resolveFolder(ft.Folder)
		switch {
		case err == errMissing:
			missing = append(missing, "Folder: "+ft.Folder)
			continue
		case err == errAmbiguous:
			ambiguous = append(ambiguous, "Folder: "+ft.Folder)
			continue
		}
		jobs, ferr := filterJobs(folder.Jobs, ft.Include, ft.Exclude)
		if ferr != nil {
			return ferr
		}
		targets = append(targets, Target{Kind: "Folder", Path: folder.Path(), Project: c.cfg.ProjectFor(ft.Project), Jobs: jobs})
	}

	if len(missing) > 0 {
		return &provider.ConfigurationError{
			Message: "configured Jenkins items not found",
			Items:   missing,
			Hint:    fmt.Sprintf("Items nested deeper than Jenkins.MaxDepth (currently %d) are not visible; increase MaxDepth if they exist.", c.cfg.MaxDepth),
		}
	}
	if len(ambiguous) > 0 {
		return &provider.ConfigurationError{
			Message: "configured Jenkins names match more than one item",
			Items:   ambiguous,
			Hint:    "Set Jenkins.FullFolderPath to true and name items by their full path, e.g. /folder/sub/job.",
		}
	}

	c.targets = targets
	c.valid = true
	for _, t := range targets {
		c.log.Debug("%s %s -> project %s (%d jobs)", t.Kind, t.Path, t.Project, len(t.Jobs))
	}
	return nil
}

var (
	errMissing   = errors.New("missing")
	errAmbiguous = errors.New("ambiguous")
)

// itemPath reports the canonical path of a target given as a Jenkins URL.
func (c *Connection) itemPath(name string) (string, bool) {
	if !strings.HasPrefix(name, "http://") && !strings.HasPrefix(name, "https://") {
		return "", false
	}
	return PathFromURL(c.cfg.BaseURL(), name), true
}

func (c *Connection) resolveJob(name string) (JobNode, error) {
	p, isURL := c.itemPath(name)
	if isURL {
		name = p
	}
	if c.cfg.FullFolderPath || isURL || strings.Contains(strings.Trim(name, PathSeparator), PathSeparator) {
		if job, ok := c.inv.Job(name); ok {
			return job, nil
		}
		return JobNode{}, errMissing
	}
	matches := c.inv.JobsNamed(name)
	switch len(matches) {
	case 0:
		return JobNode{}, errMissing
	case 1:
		return matches[0], nil
	}
	for _, j := range matches {
		if len(j.ContainerPath) == 0 {
			return j, nil
		}
	}
	return JobNode{}, errAmbiguous
}

func (c *Connection) resolveView(name string) (*ViewNode, error) {
	p, isURL := c.itemPath(name)
	if isURL {
		name = p
	}
	if c.cfg.FullFolderPath || isURL {
		if v, ok := c.inv.View(name); ok {
			return v, nil
		}
		return nil, errMissing
	}
	matches := c.inv.ViewsNamed(name)
	switch len(matches) {
	case 0:
		return nil, errMissing
	case 1:
		return matches[0], nil
	}
	return nil, errAmbiguous
}

func (c *Connection) resolveFolder(name string) (*FolderNode, error) {
	p, isURL := c.itemPath(name)
	if isURL {
		name = p
	}
	if c.cfg.FullFolderPath || isURL {
		if f, ok := c.inv.Folder(name); ok {
			return f, nil
		}
		return nil, errMissing
	}
	matches := c.inv.FoldersNamed(name)
	switch len(matches) {
	case 0:
		return nil, errMissing
	case 1:
		return matches[0], nil
	}
	return nil, errAmbiguous
}

// filterJobs keeps the jobs whose name matches include and none of the
// comma separated exclude patterns.
func filterJobs(jobs []JobNode, include, exclude string) ([]JobNode, error) {
	if include == "" {
		include = ".*"
	}
	inc, err := regexp.Compile(include)
	if err != nil {
		return nil, provider.NewConfigurationError("invalid include pattern %q: %v", include, err)
	}

	var excl []*regexp.Regexp
	for _, pat := range splitPatterns(exclude) {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, provider.NewConfigurationError("invalid exclude pattern %q: %v", pat, err)
		}
		excl = append(excl, re)
	}

	var out []JobNode
outer:
	for _, j := range jobs {
		if !inc.MatchString(j.Name) {
			continue
		}
		for _, re := range excl {
			if re.MatchString(j.Name) {
				continue outer
			}
		}
		out = append(out, j)
	}
	return out, nil
}

var patternSep = regexp.MustCompile(`,\s*`)

func splitPatterns(s string) []string {
	var out []string
	for _, p := range patternSep.Split(strings.TrimSpace(s), -1) {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RecentBuilds reads the history of every target job started at or after since.
// A job reachable through two targets with the same project is read once.
func (c *Connection) RecentBuilds(ctx context.Context, since time.Time) (map[provider.ContainerKey]provider.JobBuilds, error) {
	if !c.valid {
		if err := c.Validate(ctx); err != nil {
			return nil, err
		}
	}

	type seenKey struct{ path, project string }
	seen := make(map[seenKey]bool)
	out := make(map[provider.ContainerKey]provider.JobBuilds)

	for _, t := range c.targets {
		key := t.Key()
		for _, job := range t.Jobs {
			sk := seenKey{job.Path(), t.Project}
			if seen[sk] {
				continue
			}
			seen[sk] = true

			records, err := ReadBuildHistory(ctx, c.client, job, since, c.log)
			if err != nil {
				return nil, provider.OpError("read Jenkins build history", err)
			}
			if len(records) == 0 {
				continue
			}
			for i := range records {
				records[i].Container = key.Container
				records[i].Project = t.Project
			}
			if out[key] == nil {
				out[key] = make(provider.JobBuilds)
			}
			out[key][job.Path()] = records
		}
	}
	return out, nil
}

// SortedKeys returns the keys of a RecentBuilds result in a stable order.
func SortedKeys(m map[provider.ContainerKey]provider.JobBuilds) []provider.ContainerKey {
	keys := make([]provider.ContainerKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Project != keys[j].Project {
			return keys[i].Project < keys[j].Project
		}
		return keys[i].Container < keys[j].Container
	})
	return keys
}
