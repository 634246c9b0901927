package reconcile

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"build-bridge/src/agilecentral"
	"build-bridge/src/logger"
	"build-bridge/src/provider"
)

type fakeSource struct {
	builds      map[provider.ContainerKey]provider.JobBuilds
	validateErr error
	since       time.Time
	calls       int
}

func (f *fakeSource) Name() string { return "Jenkins" }

func (f *fakeSource) Validate(ctx context.Context) error { return f.validateErr }

func (f *fakeSource) RecentBuilds(ctx context.Context, since time.Time) (map[provider.ContainerKey]provider.JobBuilds, error) {
	f.calls++
	f.since = since
	return f.builds, nil
}

// fakeBacklog keeps definitions and builds per project in memory.
type fakeBacklog struct {
	builds      map[string]map[string][]agilecentral.Build
	defs        map[string]agilecentral.BuildDefinition
	hidden      bool
	createErr   map[string]error
	created     []agilecentral.BuildPayload
	changesets  []agilecentral.ChangesetPayload
	prefixCalls int
	since       time.Time
}

func newFakeBacklog() *fakeBacklog {
	return &fakeBacklog{
		builds:    make(map[string]map[string][]agilecentral.Build),
		defs:      make(map[string]agilecentral.BuildDefinition),
		createErr: make(map[string]error),
	}
}

func (f *fakeBacklog) FindProjectsByName(ctx context.Context, names []string) (map[string]agilecentral.Project, error) {
	out := make(map[string]agilecentral.Project)
	for _, n := range names {
		if n == "Missing" {
			return nil, provider.NewConfigurationError("projects not located: %s", n)
		}
		out[n] = agilecentral.Project{Name: n}
	}
	return out, nil
}

func (f *fakeBacklog) RecentBuilds(ctx context.Context, projects []string, since time.Time) (map[string]provider.JobBuilds, error) {
	f.since = since
	out := make(map[string]provider.JobBuilds)
	if f.hidden {
		return out, nil
	}
	for _, project := range projects {
		jobs := make(provider.JobBuilds)
		for def, builds := range f.builds[project] {
			for _, b := range builds {
				jobs[def] = append(jobs[def], provider.BuildRecord{JobPath: def, Number: b.Number, Project: project})
			}
		}
		out[project] = jobs
	}
	return out, nil
}

func (f *fakeBacklog) EnsureBuildDefinition(ctx context.Context, cache *agilecentral.Cache, project, jobPath, uri string, strict bool) (agilecentral.BuildDefinition, error) {
	name := agilecentral.DefinitionName(jobPath)
	key := project + "|" + name
	if def, ok := f.defs[key]; ok {
		return def, nil
	}
	def := agilecentral.BuildDefinition{
		Ref:     fmt.Sprintf("/builddefinition/%d", len(f.defs)+1),
		Name:    name,
		Uri:     uri,
		Project: agilecentral.Ref{Name: project},
	}
	f.defs[key] = def
	return def, nil
}

func (f *fakeBacklog) BuildExists(ctx context.Context, def agilecentral.BuildDefinition, number string) (agilecentral.Build, bool, error) {
	for _, b := range f.builds[def.Project.Name][def.Name] {
		if b.Number == number {
			return b, true, nil
		}
	}
	return agilecentral.Build{}, false, nil
}

func (f *fakeBacklog) CreateBuild(ctx context.Context, p agilecentral.BuildPayload) (agilecentral.Build, error) {
	if err := f.createErr[p.Number]; err != nil {
		return agilecentral.Build{}, err
	}
	f.created = append(f.created, p)
	b := agilecentral.Build{Ref: fmt.Sprintf("/build/%d", len(f.created)), Number: p.Number, Status: p.Status, BuildDefinition: p.Definition}
	project := p.Definition.Project.Name
	if f.builds[project] == nil {
		f.builds[project] = make(map[string][]agilecentral.Build)
	}
	f.builds[project][p.Definition.Name] = append(f.builds[project][p.Definition.Name], b)
	return b, nil
}

func (f *fakeBacklog) FindChangesets(ctx context.Context, revisions []string) ([]agilecentral.Changeset, error) {
	return nil, nil
}

func (f *fakeBacklog) EnsureSCMRepository(ctx context.Context, cache *agilecentral.Cache, rawPath string, kind provider.VCSKind) (agilecentral.SCMRepository, error) {
	return agilecentral.SCMRepository{Ref: "/scmrepository/1", Name: rawPath}, nil
}

func (f *fakeBacklog) FindArtifacts(ctx context.Context, ids []string) ([]agilecentral.Artifact, error) {
	var out []agilecentral.Artifact
	for _, id := range ids {
		out = append(out, agilecentral.Artifact{Ref: "/defect/" + id, FormattedID: id})
	}
	return out, nil
}

func (f *fakeBacklog) CreateChangeset(ctx context.Context, p agilecentral.ChangesetPayload) (agilecentral.Changeset, error) {
	f.changesets = append(f.changesets, p)
	return agilecentral.Changeset{Ref: fmt.Sprintf("/changeset/%d", len(f.changesets)), Revision: p.Revision}, nil
}

func (f *fakeBacklog) IDPrefixes(ctx context.Context) ([]string, error) {
	f.prefixCalls++
	return []string{"US", "DE"}, nil
}

func (f *fakeBacklog) createdNumbers() []string {
	var out []string
	for _, p := range f.created {
		out = append(out, p.Definition.Name+"#"+p.Number)
	}
	return out
}

func build(job, number string, startedAt int64) provider.BuildRecord {
	return provider.BuildRecord{
		JobPath:        job,
		Number:         number,
		Status:         provider.StatusSuccess,
		StartedAt:      startedAt,
		DurationMillis: 1500,
		URL:            "http://jenkins" + job + "/" + number + "/",
		VCSKind:        provider.VCSNone,
	}
}

func ciBuilds(project string, builds ...provider.BuildRecord) map[provider.ContainerKey]provider.JobBuilds {
	jobs := make(provider.JobBuilds)
	for _, b := range builds {
		jobs[b.JobPath] = append(jobs[b.JobPath], b)
	}
	return map[provider.ContainerKey]provider.JobBuilds{{Container: "/teamA", Project: project}: jobs}
}

func newTestEngine(source *fakeSource, backlog *fakeBacklog, opts Options) *Engine {
	if opts.Projects == nil {
		opts.Projects = []string{"Alpha"}
	}
	return NewEngine(source, backlog, opts, logger.NewSilentLogger())
}

func TestEngine_PostsUnrecordedBuild(t *testing.T) {
	source := &fakeSource{builds: ciBuilds("Alpha", build("/teamA/build-x", "42", 1000))}
	backlog := newFakeBacklog()

	engine := newTestEngine(source, backlog, Options{})
	res, err := engine.Run(context.Background(), time.UnixMilli(0))
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if engine.State() != Done {
		t.Errorf("State() = %v, want Done", engine.State())
	}
	if !res.Success {
		t.Error("Success = false, want true")
	}
	if len(backlog.created) != 1 {
		t.Fatalf("created %d builds, want 1", len(backlog.created))
	}

	p := backlog.created[0]
	if p.Definition.Name != "teamA/build-x" || p.Definition.Uri != "http://jenkins/teamA/build-x" {
		t.Errorf("definition = %+v", p.Definition)
	}
	if p.Number != "42" || p.Status != "SUCCESS" || p.Duration != 1.5 {
		t.Errorf("payload = %+v", p)
	}
	if p.Message != "teamA/build-x #42" || p.URI != "http://jenkins/teamA/build-x/42/" {
		t.Errorf("payload message/uri = %q %q", p.Message, p.URI)
	}
	if !p.Start.Equal(time.UnixMilli(1000)) {
		t.Errorf("payload start = %v", p.Start)
	}
	if got := res.PostedByJob(); !reflect.DeepEqual(got, []JobCount{{Job: "/teamA/build-x", Count: 1}}) {
		t.Errorf("PostedByJob() = %v", got)
	}

	again, err := newTestEngine(source, backlog, Options{}).Run(context.Background(), time.UnixMilli(0))
	if err != nil {
		t.Fatalf("second Run() unexpected error: %v", err)
	}
	if len(again.Unrecorded) != 0 || again.Reflected != 1 || again.Success {
		t.Errorf("second Run() unrecorded=%d reflected=%d success=%v", len(again.Unrecorded), again.Reflected, again.Success)
	}
	if len(backlog.created) != 1 {
		t.Errorf("second Run() created builds, total %d", len(backlog.created))
	}
}

func TestEngine_Lookbacks(t *testing.T) {
	source := &fakeSource{}
	backlog := newFakeBacklog()
	lastRun := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	res, err := newTestEngine(source, backlog, Options{CILookback: time.Hour, BacklogLookback: 2 * time.Hour}).Run(context.Background(), lastRun)
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if !source.since.Equal(lastRun.Add(-time.Hour)) || !res.CISince.Equal(source.since) {
		t.Errorf("CI since = %v", source.since)
	}
	if !backlog.since.Equal(lastRun.Add(-2 * time.Hour)) {
		t.Errorf("backlog since = %v", backlog.since)
	}
	if res.Success || !res.Watermark.IsZero() {
		t.Errorf("empty run: success=%v watermark=%v", res.Success, res.Watermark)
	}
}

func TestEngine_SkipsBuildRecordedMeanwhile(t *testing.T) {
	source := &fakeSource{builds: ciBuilds("Alpha", build("/teamA/build-x", "42", 1000))}
	backlog := newFakeBacklog()
	backlog.builds["Alpha"] = map[string][]agilecentral.Build{"teamA/build-x": {{Number: "42"}}}
	backlog.hidden = true

	res, err := newTestEngine(source, backlog, Options{}).Run(context.Background(), time.UnixMilli(0))
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if len(backlog.created) != 0 {
		t.Errorf("created %d builds, want 0", len(backlog.created))
	}
	if res.Count(Skipped) != 1 || res.Success {
		t.Errorf("skipped=%d success=%v", res.Count(Skipped), res.Success)
	}
}

func TestEngine_CapsBuildsPerJob(t *testing.T) {
	var builds []provider.BuildRecord
	for i := 1; i <= 25; i++ {
		builds = append(builds, build("/teamA/build-x", fmt.Sprint(i), int64(i*1000)))
	}
	builds = append(builds, build("/teamA/other", "1", 500))
	source := &fakeSource{builds: ciBuilds("Alpha", builds...)}
	backlog := newFakeBacklog()

	res, err := newTestEngine(source, backlog, Options{MaxBuilds: 20}).Run(context.Background(), time.UnixMilli(0))
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if len(backlog.created) != 21 {
		t.Errorf("created %d builds, want 21", len(backlog.created))
	}
	if res.Count(Deferred) != 5 {
		t.Errorf("deferred = %d, want 5", res.Count(Deferred))
	}
	last := backlog.created[len(backlog.created)-1]
	if last.Number != "20" {
		t.Errorf("last posted = #%s, want #20", last.Number)
	}

	next, err := newTestEngine(source, backlog, Options{MaxBuilds: 20}).Run(context.Background(), time.UnixMilli(0))
	if err != nil {
		t.Fatalf("second Run() unexpected error: %v", err)
	}
	if len(next.Unrecorded) != 5 || next.PostedCount() != 5 {
		t.Errorf("second Run() unrecorded=%d posted=%d, want 5 and 5", len(next.Unrecorded), next.PostedCount())
	}
}

func TestEngine_CapCountsOnlyPostedBuilds(t *testing.T) {
	var builds []provider.BuildRecord
	for i := 1; i <= 25; i++ {
		builds = append(builds, build("/teamA/build-x", fmt.Sprint(i), int64(i*1000)))
	}
	source := &fakeSource{builds: ciBuilds("Alpha", builds...)}

	// #1-#20 are recorded but older than the backlog lookback.
	backlog := newFakeBacklog()
	backlog.hidden = true
	name := agilecentral.DefinitionName("/teamA/build-x")
	backlog.builds["Alpha"] = map[string][]agilecentral.Build{}
	for i := 1; i <= 20; i++ {
		backlog.builds["Alpha"][name] = append(backlog.builds["Alpha"][name], agilecentral.Build{Ref: fmt.Sprintf("/build/old%d", i), Number: fmt.Sprint(i)})
	}

	res, err := newTestEngine(source, backlog, Options{MaxBuilds: 20}).Run(context.Background(), time.UnixMilli(0))
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if res.Count(Skipped) != 20 || res.PostedCount() != 5 || res.Count(Deferred) != 0 {
		t.Errorf("skipped=%d posted=%d deferred=%d, want 20, 5 and 0", res.Count(Skipped), res.PostedCount(), res.Count(Deferred))
	}
	if len(backlog.created) != 5 || backlog.created[0].Number != "21" {
		t.Errorf("created = %+v, want #21-#25", backlog.created)
	}
	if !res.Success {
		t.Error("Success = false, want true")
	}
}

func TestEngine_CapIgnoresErroredBuilds(t *testing.T) {
	source := &fakeSource{builds: ciBuilds("Alpha",
		build("/teamA/build-x", "1", 1000),
		build("/teamA/build-x", "2", 2000),
		build("/teamA/build-x", "3", 3000),
	)}
	backlog := newFakeBacklog()
	backlog.createErr["1"] = errors.New("boom")

	res, err := newTestEngine(source, backlog, Options{MaxBuilds: 1}).Run(context.Background(), time.UnixMilli(0))
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if res.Count(Errored) != 1 || res.PostedCount() != 1 || res.Count(Deferred) != 1 {
		t.Errorf("errored=%d posted=%d deferred=%d, want 1 each", res.Count(Errored), res.PostedCount(), res.Count(Deferred))
	}
	if len(backlog.created) != 1 || backlog.created[0].Number != "2" {
		t.Errorf("created = %+v, want #2 only", backlog.created)
	}
}

func TestEngine_PostsOldestFirst(t *testing.T) {
	source := &fakeSource{builds: ciBuilds("Alpha",
		build("/teamA/a", "2", 3000),
		build("/teamA/b", "7", 2000),
		build("/teamA/a", "1", 1000),
		build("/teamA/c", "1", 2000),
	)}
	backlog := newFakeBacklog()

	if _, err := newTestEngine(source, backlog, Options{}).Run(context.Background(), time.UnixMilli(0)); err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	want := []string{"teamA/a#1", "teamA/b#7", "teamA/c#1", "teamA/a#2"}
	if got := backlog.createdNumbers(); !reflect.DeepEqual(got, want) {
		t.Errorf("posting order = %v, want %v", got, want)
	}
}

func TestEngine_Preview(t *testing.T) {
	source := &fakeSource{builds: ciBuilds("Alpha", build("/teamA/a", "1", 1000), build("/teamA/a", "2", 2000))}
	backlog := newFakeBacklog()

	res, err := newTestEngine(source, backlog, Options{Preview: true}).Run(context.Background(), time.UnixMilli(0))
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if len(backlog.created) != 0 || len(backlog.defs) != 0 {
		t.Errorf("preview wrote to the backlog: %d builds, %d definitions", len(backlog.created), len(backlog.defs))
	}
	if res.Count(Previewed) != 2 || len(res.Unrecorded) != 2 || res.Success {
		t.Errorf("previewed=%d unrecorded=%d success=%v", res.Count(Previewed), len(res.Unrecorded), res.Success)
	}
}

func TestEngine_IsolatesBuildFailures(t *testing.T) {
	running := build("/teamA/a", "4", 500)
	running.Status = provider.StatusInProgress
	source := &fakeSource{builds: ciBuilds("Alpha",
		running,
		build("/teamA/a", "1", 1000),
		build("/teamA/a", "2", 2000),
		build("/teamA/a", "3", 3000),
	)}
	backlog := newFakeBacklog()
	backlog.createErr["2"] = errors.New("boom")

	res, err := newTestEngine(source, backlog, Options{}).Run(context.Background(), time.UnixMilli(0))
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}

	var kinds []OutcomeKind
	for _, o := range res.Outcomes {
		kinds = append(kinds, o.Kind)
	}
	want := []OutcomeKind{InFlight, Posted, Errored, Posted}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("outcomes = %v, want %v", kinds, want)
	}
	if res.Outcomes[2].Err == nil {
		t.Error("errored outcome carries no error")
	}
	if !res.Success {
		t.Error("Success = false, want true")
	}
	if !res.Watermark.Equal(time.UnixMilli(500)) {
		t.Errorf("Watermark = %v, want in-flight start", res.Watermark)
	}
}

func TestEngine_Watermark(t *testing.T) {
	source := &fakeSource{builds: ciBuilds("Alpha",
		build("/teamA/a", "1", 1000),
		build("/teamA/a", "2", 5000),
		build("/teamA/b", "1", 3000),
	)}
	res, err := newTestEngine(source, newFakeBacklog(), Options{}).Run(context.Background(), time.UnixMilli(0))
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if !res.Watermark.Equal(time.UnixMilli(3000)) {
		t.Errorf("Watermark = %v, want 3000ms", res.Watermark.UnixMilli())
	}
}

func TestEngine_ValidationFailure(t *testing.T) {
	tests := []struct {
		name    string
		source  *fakeSource
		project string
	}{
		{name: "ci item missing", source: &fakeSource{validateErr: provider.NewConfigurationError("configured Jenkins items not found")}, project: "Alpha"},
		{name: "project missing", source: &fakeSource{}, project: "Missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(tt.source, newFakeBacklog(), Options{Projects: []string{tt.project}})
			_, err := engine.Run(context.Background(), time.UnixMilli(0))
			if !provider.IsConfigurationError(err) {
				t.Errorf("Run() error = %v, want configuration error", err)
			}
			if engine.State() != Failed {
				t.Errorf("State() = %v, want Failed", engine.State())
			}
			if tt.source.calls != 0 {
				t.Error("histories were read after a failed validation")
			}
		})
	}
}

func TestEngine_LinksChangesets(t *testing.T) {
	b1 := build("/teamA/a", "1", 1000)
	b1.VCSKind, b1.RepositoryName = provider.VCSGit, "widgets"
	b1.Commits = []provider.CommitInfo{{RevisionID: "aaa", Message: "fixes DE7"}}
	b2 := build("/teamA/a", "2", 2000)
	b2.VCSKind, b2.RepositoryName = provider.VCSGit, "widgets"
	b2.Commits = []provider.CommitInfo{{RevisionID: "bbb", Message: "US3"}}

	backlog := newFakeBacklog()
	if _, err := newTestEngine(&fakeSource{builds: ciBuilds("Alpha", b1, b2)}, backlog, Options{}).Run(context.Background(), time.UnixMilli(0)); err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if backlog.prefixCalls != 1 {
		t.Errorf("IDPrefixes called %d times, want 1", backlog.prefixCalls)
	}
	if len(backlog.changesets) != 2 || backlog.changesets[0].Artifacts[0].FormattedID != "DE7" {
		t.Errorf("changesets = %+v", backlog.changesets)
	}
	if len(backlog.created) != 2 || len(backlog.created[0].Changesets) != 1 || backlog.created[0].Changesets[0].Revision != "aaa" {
		t.Errorf("build changesets = %+v", backlog.created)
	}
}

func TestDiff(t *testing.T) {
	backlog := map[string]provider.JobBuilds{
		"Alpha": {"teamA/build-x": {{Number: "42"}, {Number: "43"}}},
	}
	ci := map[provider.ContainerKey]provider.JobBuilds{
		{Container: "/teamA", Project: "Alpha"}: {"/teamA/build-x": {
			build("/teamA/build-x", "042", 1000),
			build("/teamA/build-x", "44", 3000),
		}},
		{Container: "/Shoreline", Project: "Beta"}: {"/teamA/build-x": {
			build("/teamA/build-x", "43", 2000),
		}},
	}

	unrecorded, reflected := Diff(backlog, ci)
	if reflected != 1 {
		t.Errorf("reflected = %d, want 1", reflected)
	}
	var got []string
	for _, b := range unrecorded {
		got = append(got, b.Project+":"+b.Number+":"+b.Container)
	}
	want := []string{"Beta:43:/Shoreline", "Alpha:44:/teamA"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Diff() = %v, want %v", got, want)
	}
}

func TestState_String(t *testing.T) {
	if Posting.String() != "Posting" || State(99).String() != "Unknown" {
		t.Errorf("String() = %s, %s", Posting, State(99))
	}
}
