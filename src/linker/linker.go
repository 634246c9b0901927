package linker

import (
	"context"
	"regexp"
	"strings"

	"build-bridge/src/agilecentral"
	"build-bridge/src/logger"
	"build-bridge/src/provider"
	"build-bridge/src/sanitize"
)

// Backend is the part of the backlog system the linker reads and writes.
type Backend interface {
	FindChangesets(ctx context.Context, revisions []string) ([]agilecentral.Changeset, error)
	EnsureSCMRepository(ctx context.Context, cache *agilecentral.Cache, rawPath string, kind provider.VCSKind) (agilecentral.SCMRepository, error)
	FindArtifacts(ctx context.Context, ids []string) ([]agilecentral.Artifact, error)
	CreateChangeset(ctx context.Context, p agilecentral.ChangesetPayload) (agilecentral.Changeset, error)
	IDPrefixes(ctx context.Context) ([]string, error)
}

// Linker resolves the Changesets of builds. The ID prefix vocabulary is read
// once when the Linker is created.
type Linker struct {
	backend Backend
	log     logger.Logger
	pattern *regexp.Regexp
}

// New reads the workspace ID prefixes and returns a Linker using them.
func New(ctx context.Context, backend Backend, log logger.Logger) (*Linker, error) {
	prefixes, err := backend.IDPrefixes(ctx)
	if err != nil {
		return nil, err
	}
	log.Debug("Artifact ID prefixes: %s", strings.Join(prefixes, ", "))
	return NewWithPrefixes(backend, prefixes, log), nil
}

// NewWithPrefixes returns a Linker matching the given prefixes.
func NewWithPrefixes(backend Backend, prefixes []string, log logger.Logger) *Linker {
	return &Linker{backend: backend, log: log, pattern: CompilePrefixes(prefixes)}
}

// Resolution splits a build's commits by whether a Changeset exists for them.
type Resolution struct {
	Existing   []agilecentral.Changeset
	Missing    []provider.CommitInfo
	Repository agilecentral.SCMRepository
}

// ResolveChangesets looks all commit revisions up with one query. The
// repository is taken from the first existing Changeset, or else ensured
// from the build's own repository name.
func (l *Linker) ResolveChangesets(ctx context.Context, cache *agilecentral.Cache, build provider.BuildRecord) (*Resolution, error) {
	res := &Resolution{}
	if len(build.Commits) == 0 {
		return res, nil
	}

	revisions := make([]string, 0, len(build.Commits))
	for _, c := range build.Commits {
		revisions = append(revisions, c.RevisionID)
	}
	found, err := l.backend.FindChangesets(ctx, revisions)
	if err != nil {
		return nil, err
	}

	byRevision := make(map[string]agilecentral.Changeset, len(found))
	for _, cs := range found {
		if _, dup := byRevision[cs.Revision]; !dup {
			byRevision[cs.Revision] = cs
		}
	}
	for _, c := range build.Commits {
		if cs, ok := byRevision[c.RevisionID]; ok {
			res.Existing = append(res.Existing, cs)
		} else {
			res.Missing = append(res.Missing, c)
		}
	}

	switch {
	case len(res.Existing) > 0:
		ref := res.Existing[0].SCMRepository
		res.Repository = agilecentral.SCMRepository{Ref: ref.Ref, Name: ref.Name}
	case build.RepositoryName != "":
		repo, err := l.backend.EnsureSCMRepository(ctx, cache, build.RepositoryName, build.VCSKind)
		if err != nil {
			return nil, err
		}
		res.Repository = repo
	}
	return res, nil
}

// Link returns a Changeset for every commit of build, creating the missing
// ones with references to the work items their messages mention. The result
// follows the build's commit order.
func (l *Linker) Link(ctx context.Context, cache *agilecentral.Cache, build provider.BuildRecord) ([]agilecentral.Changeset, error) {
	res, err := l.ResolveChangesets(ctx, cache, build)
	if err != nil {
		return nil, err
	}
	if len(res.Missing) > 0 && res.Repository.Ref == "" {
		l.log.Warn("%s #%s: no repository known for %d commits, Changesets not created", build.JobPath, build.Number, len(res.Missing))
		res.Missing = nil
	}

	artifacts, err := l.artifactsByCommit(ctx, res.Missing)
	if err != nil {
		return nil, err
	}

	byRevision := make(map[string]agilecentral.Changeset)
	for _, cs := range res.Existing {
		byRevision[cs.Revision] = cs
	}
	for _, c := range res.Missing {
		cs, err := l.backend.CreateChangeset(ctx, agilecentral.ChangesetPayload{
			Repository:      res.Repository,
			Revision:        c.RevisionID,
			CommitTimestamp: c.Timestamp(),
			Message:         sanitize.CommitMessage(c.Message),
			URI:             c.URI,
			Artifacts:       artifacts[c.RevisionID],
		})
		if err != nil {
			return nil, err
		}
		byRevision[c.RevisionID] = cs
	}

	out := make([]agilecentral.Changeset, 0, len(byRevision))
	for _, c := range build.Commits {
		if cs, ok := byRevision[c.RevisionID]; ok {
			out = append(out, cs)
		}
	}
	return out, nil
}

// artifactsByCommit validates the identifiers of all commits with one query and
// hands each commit back only the work items its own message named.
func (l *Linker) artifactsByCommit(ctx context.Context, commits []provider.CommitInfo) (map[string][]agilecentral.Artifact, error) {
	perCommit := make(map[string][]string)
	var union []string
	seen := make(map[string]bool)
	for _, c := range commits {
		ids := ExtractIdentifiers(sanitize.CommitMessage(c.Message), l.pattern)
		perCommit[c.RevisionID] = ids
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				union = append(union, id)
			}
		}
	}
	if len(union) == 0 {
		return nil, nil
	}

	found, err := l.backend.FindArtifacts(ctx, union)
	if err != nil {
		return nil, err
	}
	valid := make(map[string]agilecentral.Artifact, len(found))
	for _, a := range found {
		valid[strings.ToUpper(a.FormattedID)] = a
	}

	out := make(map[string][]agilecentral.Artifact)
	for rev, ids := range perCommit {
		attached := make(map[string]bool)
		for _, id := range ids {
			a, ok := valid[id]
			if !ok || attached[id] {
				continue
			}
			attached[id] = true
			out[rev] = append(out[rev], a)
		}
	}
	return out, nil
}
