package agilecentral

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"build-bridge/src/config"
	"build-bridge/src/logger"
	"build-bridge/src/provider"
)

const (
	// DefaultDefinitionName is the definition every project carries; it never maps to a job.
	DefaultDefinitionName = "Default Build Definition"
	// MaxDefinitionNameLength bounds BuildDefinition names.
	MaxDefinitionNameLength = 256

	buildFetch = "ObjectID,CreationDate,Number,Start,Status,Duration,BuildDefinition,Name,Project,Uri,Message"
)

// Connection is the AgileCentral side of a reconciliation run.
type Connection struct {
	cfg    config.AgileCentralConfig
	client *Client
	log    logger.Logger

	workspace Workspace
	projects  map[string]Project
	// DuplicateProjects lists project names used more than once under the default project.
	DuplicateProjects []string
}

// NewConnection creates a connection for cfg. Connect must be called before use.
func NewConnection(cfg config.AgileCentralConfig, log logger.Logger) *Connection {
	return &Connection{
		cfg:      cfg,
		client:   NewClient(cfg.Server, cfg.APIKey, cfg.Username, cfg.Password),
		log:      log,
		projects: make(map[string]Project),
	}
}

// Name returns the backlog system name.
func (c *Connection) Name() string {
	return "AgileCentral"
}

// Client returns the underlying WSAPI client.
func (c *Connection) Client() *Client {
	return c.client
}

// Workspace returns the workspace resolved by Connect.
func (c *Connection) Workspace() Workspace {
	return c.workspace
}

// Connect verifies the configured workspace is visible to the credentials and
// inspects the project tree below defaultProject.
func (c *Connection) Connect(ctx context.Context, defaultProject string) error {
	c.log.Info("Connecting to AgileCentral %s (WSAPI %s)", c.cfg.Server, APIVersion)

	spaces, err := QueryAll[Workspace](ctx, c.client, Query{
		Entity: "Workspace",
		Fetch:  "ObjectID,Name",
		Query:  Condition("Name", "=", c.cfg.Workspace),
	})
	if err != nil {
		if errors.Is(err, provider.ErrAuthFailed) {
			return err
		}
		return provider.NewConfigurationError("unable to connect to AgileCentral at %s: %v", c.cfg.Server, err)
	}
	if len(spaces) == 0 {
		user := c.cfg.Username
		if user == "" {
			user = "(API key)"
		}
		return provider.NewConfigurationError("specified Workspace %q not in list of workspaces available for your credentials as user %s", c.cfg.Workspace, user)
	}
	c.workspace = spaces[0]
	c.log.Info("    Workspace: %s", c.workspace.Name)
	c.log.Info("    Project  : %s", defaultProject)

	top, err := QueryAll[Project](ctx, c.client, Query{
		Entity:    "Project",
		Fetch:     "ObjectID,Name",
		Query:     Condition("Name", "=", defaultProject),
		Workspace: c.workspace.Ref,
	})
	if err != nil {
		return provider.OpError("query Project "+defaultProject, err)
	}
	if len(top) == 0 {
		return provider.NewConfigurationError("unable to locate a Project with the name %q in the target Workspace", defaultProject)
	}

	subs, err := QueryAll[Project](ctx, c.client, Query{
		Entity:    "Project",
		Fetch:     "ObjectID,Name",
		Workspace: c.workspace.Ref,
		Project:   top[0].Ref,
		ScopeDown: true,
	})
	if err != nil {
		return provider.OpError("query sub-projects of "+defaultProject, err)
	}

	counts := make(map[string]int)
	for _, p := range subs {
		counts[p.Name]++
	}
	c.DuplicateProjects = nil
	for name, n := range counts {
		if n > 1 {
			c.DuplicateProjects = append(c.DuplicateProjects, name)
		}
	}
	sort.Strings(c.DuplicateProjects)
	c.log.Info("    %d sub-projects", len(subs))
	if len(c.DuplicateProjects) > 0 {
		c.log.Warn("Duplicated project names under %s: %s", defaultProject, strings.Join(c.DuplicateProjects, ", "))
	}
	return nil
}

// FindProjectsByName resolves names with one OR query. Names not present in the
// workspace are reported together as a ConfigurationError.
func (c *Connection) FindProjectsByName(ctx context.Context, names []string) (map[string]Project, error) {
	if len(names) == 0 {
		return map[string]Project{}, nil
	}
	found, err := QueryAll[Project](ctx, c.client, Query{
		Entity:    "Project",
		Fetch:     "ObjectID,Name",
		Query:     OrQuery("Name", names),
		Workspace: c.workspace.Ref,
	})
	if err != nil {
		return nil, provider.OpError("query Projects", err)
	}
	if len(found) == 0 {
		return nil, &provider.ConfigurationError{
			Message: fmt.Sprintf("unable to locate any of the configured Projects in Workspace %s", c.cfg.Workspace),
			Items:   names,
		}
	}

	out := make(map[string]Project, len(found))
	for _, p := range found {
		if _, dup := out[p.Name]; !dup {
			out[p.Name] = p
		}
	}
	var missing []string
	for _, n := range names {
		if _, ok := out[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return nil, &provider.ConfigurationError{
			Message: fmt.Sprintf("projects mentioned in the config were not located in Workspace %s", c.cfg.Workspace),
			Items:   missing,
		}
	}
	for n, p := range out {
		c.projects[n] = p
	}
	return out, nil
}

func (c *Connection) project(ctx context.Context, name string) (Project, error) {
	if p, ok := c.projects[name]; ok {
		return p, nil
	}
	found, err := c.FindProjectsByName(ctx, []string{name})
	if err != nil {
		return Project{}, err
	}
	return found[name], nil
}

// RecentBuilds returns the Builds created at or after since in each project
// (scoped down), keyed by the owning definition's project name and then by
// definition name.
func (c *Connection) RecentBuilds(ctx context.Context, projects []string, since time.Time) (map[string]provider.JobBuilds, error) {
	cond := fmt.Sprintf("(CreationDate >= %s)", since.UTC().Format(TimeFormat))
	c.log.Info("Detecting recently added AgileCentral Builds")
	c.log.Info("   recent Builds query: %s", cond)

	out := make(map[string]provider.JobBuilds)
	for _, name := range projects {
		proj, err := c.project(ctx, name)
		if err != nil {
			return nil, err
		}
		builds, err := QueryAll[Build](ctx, c.client, Query{
			Entity:    "Build",
			Fetch:     buildFetch,
			Query:     cond,
			Workspace: c.workspace.Ref,
			Project:   proj.Ref,
			ScopeDown: true,
			Order:     "CreationDate",
		})
		if err != nil {
			return nil, provider.OpError("query recent Builds of "+name, err)
		}
		c.log.Info("  %d recently added AgileCentral Builds detected for project: %s", len(builds), name)

		for _, b := range builds {
			owner := b.BuildDefinition.Project.Name
			if owner == "" {
				owner = name
			}
			if out[owner] == nil {
				out[owner] = make(provider.JobBuilds)
			}
			def := b.BuildDefinition.Name
			out[owner][def] = append(out[owner][def], recordOf(b, owner))
		}
	}
	return out, nil
}

func recordOf(b Build, project string) provider.BuildRecord {
	return provider.BuildRecord{
		JobPath:        b.BuildDefinition.Name,
		JobName:        b.BuildDefinition.Name,
		Project:        project,
		Number:         provider.CanonicalNumber(b.Number),
		Status:         provider.Status(b.Status),
		StartedAt:      b.StartTime().UnixMilli(),
		DurationMillis: int64(b.Duration * 1000),
		URL:            b.Uri,
	}
}

// DefinitionName maps a job path onto a BuildDefinition name: the leading
// separator is dropped and over-long names keep their trailing segments.
func DefinitionName(jobPath string) string {
	name := strings.TrimPrefix(jobPath, "/")
	if len(name) <= MaxDefinitionNameLength {
		return name
	}
	cut := len(name) - MaxDefinitionNameLength
	for cut < len(name) && !utf8.RuneStart(name[cut]) {
		cut++
	}
	tail := name[cut:]
	if i := strings.Index(tail, "/"); i >= 0 && i+1 < len(tail) {
		tail = tail[i+1:]
	}
	return tail
}

// EnsureBuildDefinition returns the definition for jobPath in project, creating it
// when neither the cache nor a fresh read of the project knows it. With strict
// set only definitions owned by project itself are reused.
func (c *Connection) EnsureBuildDefinition(ctx context.Context, cache *Cache, project, jobPath, uri string, strict bool) (BuildDefinition, error) {
	name := DefinitionName(jobPath)

	if def, ok := c.cachedDefinition(cache, project, name, strict); ok {
		return def, nil
	}
	if !cache.Loaded(project) {
		c.log.Debug("BuildDefinition cache for project %s is empty, populating", project)
		if err := c.fillDefinitions(ctx, cache, project); err != nil {
			return BuildDefinition{}, err
		}
		if def, ok := c.cachedDefinition(cache, project, name, strict); ok {
			return def, nil
		}
	}

	proj, err := c.project(ctx, project)
	if err != nil {
		return BuildDefinition{}, err
	}

	c.log.Debug("Creating a BuildDefinition for job %q in Project %q", name, project)
	var def BuildDefinition
	err = c.client.Create(ctx, "BuildDefinition", map[string]interface{}{
		"Workspace": ShortRef(c.workspace.Ref),
		"Project":   ShortRef(proj.Ref),
		"Name":      name,
		"Uri":       uri,
	}, &def)
	if errors.Is(err, ErrDuplicate) {
		// Another writer created it since the cache was filled.
		c.log.Warn("BuildDefinition %q already exists; re-reading project %s", name, project)
		if ferr := c.fillDefinitions(ctx, cache, project); ferr == nil {
			if existing, ok := cache.Definition(project, name); ok {
				return existing, nil
			}
		}
	}
	if err != nil {
		return BuildDefinition{}, provider.OpError(fmt.Sprintf("create BuildDefinition %q", name), err)
	}
	if def.Name == "" {
		def.Name = name
	}
	if def.Project.Name == "" {
		def.Project = Ref{Ref: proj.Ref, Name: proj.Name}
	}
	cache.PutDefinition(project, def)
	c.log.Info("Created BuildDefinition %s in project %s", name, project)
	return def, nil
}

func (c *Connection) cachedDefinition(cache *Cache, project, name string, strict bool) (BuildDefinition, bool) {
	if def, ok := cache.Definition(project, name); ok {
		return def, true
	}
	if strict {
		return BuildDefinition{}, false
	}
	return cache.DefinitionAnywhere(name)
}

func (c *Connection) fillDefinitions(ctx context.Context, cache *Cache, project string) error {
	proj, err := c.project(ctx, project)
	if err != nil {
		return err
	}
	defs, err := QueryAll[BuildDefinition](ctx, c.client, Query{
		Entity:    "BuildDefinition",
		Fetch:     "ObjectID,Name,Project,LastBuild,Uri",
		Query:     Condition("Name", "!=", DefaultDefinitionName),
		Workspace: c.workspace.Ref,
		Project:   proj.Ref,
		ScopeDown: true,
		Order:     "Project.Name,Name",
	})
	if err != nil {
		return provider.OpError("query BuildDefinitions of "+project, err)
	}
	cache.Fill(project, defs)
	return nil
}

// EnsureSCMRepository returns the repository named after the leaf of rawPath,
// creating one named rawPath when no case-insensitive match exists.
func (c *Connection) EnsureSCMRepository(ctx context.Context, cache *Cache, rawPath string, kind provider.VCSKind) (SCMRepository, error) {
	normalized := strings.ReplaceAll(rawPath, `\`, "/")
	leaf := normalized
	if i := strings.LastIndex(strings.TrimRight(normalized, "/"), "/"); i >= 0 {
		leaf = strings.TrimRight(normalized, "/")[i+1:]
	}

	for _, n := range []string{leaf, rawPath} {
		if repo, ok := cache.Repository(n); ok {
			return repo, nil
		}
	}

	repos, err := QueryAll[SCMRepository](ctx, c.client, Query{
		Entity:    "SCMRepository",
		Fetch:     "ObjectID,Name,SCMType",
		Query:     Condition("Name", "contains", leaf),
		Workspace: c.workspace.Ref,
	})
	if err != nil {
		return SCMRepository{}, provider.OpError("query SCMRepository "+leaf, err)
	}
	for _, r := range repos {
		if strings.EqualFold(r.Name, leaf) || strings.EqualFold(r.Name, rawPath) {
			cache.PutRepository(r)
			return r, nil
		}
	}

	var repo SCMRepository
	err = c.client.Create(ctx, "SCMRepository", map[string]interface{}{
		"Workspace": ShortRef(c.workspace.Ref),
		"Name":      rawPath,
		"SCMType":   kind.SCMType(),
	}, &repo)
	if err != nil {
		return SCMRepository{}, provider.OpError("create SCMRepository "+rawPath, err)
	}
	if repo.Name == "" {
		repo.Name = rawPath
	}
	cache.PutRepository(repo)
	c.log.Info("Created SCMRepository %s (%d)", repo.Name, repo.ObjectID)
	return repo, nil
}

// BuildExists looks for a Build of def with the given number.
func (c *Connection) BuildExists(ctx context.Context, def BuildDefinition, number string) (Build, bool, error) {
	builds, err := QueryAll[Build](ctx, c.client, Query{
		Entity:    "Build",
		Fetch:     "ObjectID,CreationDate,Number,Name,BuildDefinition,Project",
		Query:     AndQuery(Condition("BuildDefinition.ObjectID", "=", fmt.Sprint(def.ObjectID)), Condition("Number", "=", number)),
		Workspace: c.workspace.Ref,
		Limit:     1,
	})
	if err != nil {
		return Build{}, false, provider.OpError("query Build "+number, err)
	}
	if len(builds) == 0 {
		return Build{}, false, nil
	}
	return builds[0], true, nil
}

// CreateBuild creates a Build from p.
func (c *Connection) CreateBuild(ctx context.Context, p BuildPayload) (Build, error) {
	fields := map[string]interface{}{
		"Workspace":       ShortRef(c.workspace.Ref),
		"BuildDefinition": ShortRef(p.Definition.Ref),
		"Number":          p.Number,
		"Status":          p.Status,
		"Start":           p.Start.UTC().Format(TimeFormat),
		"Duration":        p.Duration,
		"Uri":             p.URI,
	}
	if p.Message != "" {
		fields["Message"] = p.Message
	}
	if len(p.Changesets) > 0 {
		fields["Changesets"] = refList(p.Changesets, func(cs Changeset) string { return cs.Ref })
	}

	var b Build
	if err := c.client.Create(ctx, "Build", fields, &b); err != nil {
		return Build{}, provider.OpError(fmt.Sprintf("create Build %s #%s", p.Definition.Name, p.Number), err)
	}
	if b.BuildDefinition.Name == "" {
		b.BuildDefinition = p.Definition
	}
	if b.Number == "" {
		b.Number = p.Number
	}
	if b.Status == "" {
		b.Status = p.Status
	}
	c.log.Debug("  Created Build: %-36.36s #%5s  %-8.8s %s", b.BuildDefinition.Name, b.Number, b.Status, p.Start.UTC().Format(TimeFormat))
	return b, nil
}

// FindChangesets returns the Changesets whose Revision is one of revisions.
func (c *Connection) FindChangesets(ctx context.Context, revisions []string) ([]Changeset, error) {
	if len(revisions) == 0 {
		return nil, nil
	}
	found, err := QueryAll[Changeset](ctx, c.client, Query{
		Entity:    "Changeset",
		Fetch:     "ObjectID,Revision,SCMRepository,Name",
		Query:     OrQuery("Revision", revisions),
		Workspace: c.workspace.Ref,
	})
	if err != nil {
		return nil, provider.OpError("query Changesets", err)
	}
	return found, nil
}

// CreateChangeset creates a Changeset from p.
func (c *Connection) CreateChangeset(ctx context.Context, p ChangesetPayload) (Changeset, error) {
	fields := map[string]interface{}{
		"Workspace":       ShortRef(c.workspace.Ref),
		"SCMRepository":   ShortRef(p.Repository.Ref),
		"Revision":        p.Revision,
		"CommitTimestamp": p.CommitTimestamp.UTC().Format(TimeFormat),
	}
	if p.Message != "" {
		fields["Message"] = p.Message
	}
	if p.URI != "" {
		fields["Uri"] = p.URI
	}
	if len(p.Artifacts) > 0 {
		fields["Artifacts"] = refList(p.Artifacts, func(a Artifact) string { return a.Ref })
	}

	var cs Changeset
	if err := c.client.Create(ctx, "Changeset", fields, &cs); err != nil {
		return Changeset{}, provider.OpError("create Changeset "+p.Revision, err)
	}
	if cs.Revision == "" {
		cs.Revision = p.Revision
	}
	c.log.Debug("Created Changeset %s (%d)", cs.Revision, cs.ObjectID)
	return cs, nil
}

// FindArtifacts returns the work items whose FormattedID is one of ids.
func (c *Connection) FindArtifacts(ctx context.Context, ids []string) ([]Artifact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := QueryAll[Artifact](ctx, c.client, Query{
		Entity:    "Artifact",
		Fetch:     "ObjectID,FormattedID",
		Query:     OrQuery("FormattedID", ids),
		Workspace: c.workspace.Ref,
	})
	if err != nil {
		return nil, provider.OpError("query Artifacts", err)
	}
	return found, nil
}

// artifactTypes are the work item types whose prefixes are looked up besides
// the portfolio item types.
var artifactTypes = []string{"HierarchicalRequirement", "Defect", "DefectSuite", "TestCase", "Task"}

// IDPrefixes returns the FormattedID prefix of every work item type in the workspace.
func (c *Connection) IDPrefixes(ctx context.Context) ([]string, error) {
	query := OrQuery("ElementName", artifactTypes)
	query = fmt.Sprintf("(%s OR %s)", query, Condition("Parent.Name", "=", "Portfolio Item"))

	defs, err := QueryAll[TypeDefinition](ctx, c.client, Query{
		Entity:    "TypeDefinition",
		Fetch:     "ElementName,IDPrefix",
		Query:     query,
		Workspace: c.workspace.Ref,
		Order:     "Ordinal",
	})
	if err != nil {
		return nil, provider.OpError("query TypeDefinitions", err)
	}

	seen := make(map[string]bool)
	var prefixes []string
	for _, d := range defs {
		p := strings.ToUpper(strings.TrimSpace(d.IDPrefix))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		prefixes = append(prefixes, p)
	}
	return prefixes, nil
}
