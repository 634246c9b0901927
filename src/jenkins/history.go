package jenkins

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"build-bridge/src/logger"
	"build-bridge/src/provider"
)

// MaxRepositoryNameLength bounds the repository name derived from a git remote.
const MaxRepositoryNameLength = 256

// RawBuild is one entry of a job's build list. The VCS sections are kept raw
// so a malformed change set only affects the build that carries it.
type RawBuild struct {
	Number     int64           `json:"number"`
	ID         string          `json:"id"`
	Timestamp  int64           `json:"timestamp"`
	Duration   int64           `json:"duration"`
	Result     *string         `json:"result"`
	Building   bool            `json:"building"`
	URL        string          `json:"url"`
	ChangeSet  json.RawMessage `json:"changeSet"`
	ChangeSets json.RawMessage `json:"changeSets"`
	Actions    json.RawMessage `json:"actions"`
}

type rawChangeSet struct {
	Kind      *string         `json:"kind"`
	Items     []rawChangeItem `json:"items"`
	Revisions []struct {
		Module   string `json:"module"`
		Revision int64  `json:"revision"`
	} `json:"revisions"`
}

type rawChangeItem struct {
	CommitID  string `json:"commitId"`
	Timestamp int64  `json:"timestamp"`
	Msg       string `json:"msg"`
	Comment   string `json:"comment"`
}

type rawAction struct {
	RemoteURLs []string `json:"remoteUrls"`
}

// BuildLister returns a job's builds newest first.
type BuildLister interface {
	Builds(ctx context.Context, jobURL string) ([]RawBuild, error)
}

// ReadBuildHistory returns the builds of job started at or after since, oldest first.
// The listing is consumed newest first and reading stops at the first older build.
func ReadBuildHistory(ctx context.Context, lister BuildLister, job JobNode, since time.Time, log logger.Logger) ([]provider.BuildRecord, error) {
	raw, err := lister.Builds(ctx, job.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to read build history of %s: %w", job.Path(), err)
	}

	cutoff := since.UnixMilli()
	var records []provider.BuildRecord
	for _, rb := range raw {
		if rb.Timestamp < cutoff {
			break
		}
		records = append(records, NormalizeBuild(job, rb, log))
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// NormalizeBuild converts a raw build into a BuildRecord. VCS parsing problems
// are logged and leave the record with an unknown VCS kind and no commits.
func NormalizeBuild(job JobNode, rb RawBuild, log logger.Logger) provider.BuildRecord {
	rec := provider.BuildRecord{
		JobPath:        job.Path(),
		JobName:        job.Name,
		Number:         strconv.FormatInt(rb.Number, 10),
		StartedAt:      rb.Timestamp,
		DurationMillis: rb.Duration,
		URL:            rb.URL,
	}

	result := ""
	if rb.Result != nil {
		result = *rb.Result
	}
	if rb.Building {
		result = ""
	}
	rec.Status = provider.NormalizeStatus(result)

	kind, repo, commits, err := parseVCS(rb)
	if err != nil {
		log.Warn("%s #%s: unable to read change set, treating VCS as unknown: %v", rec.JobPath, rec.Number, err)
		rec.VCSKind = provider.VCSUnknown
		return rec
	}
	rec.VCSKind = kind
	rec.RepositoryName = repo
	rec.Commits = commits
	return rec
}

func parseVCS(rb RawBuild) (provider.VCSKind, string, []provider.CommitInfo, error) {
	var sets []rawChangeSet
	if isPresent(rb.ChangeSet) {
		var cs rawChangeSet
		if err := json.Unmarshal(rb.ChangeSet, &cs); err != nil {
			return "", "", nil, fmt.Errorf("changeSet: %w", err)
		}
		sets = append(sets, cs)
	}
	if isPresent(rb.ChangeSets) {
		var css []rawChangeSet
		if err := json.Unmarshal(rb.ChangeSets, &css); err != nil {
			return "", "", nil, fmt.Errorf("changeSets: %w", err)
		}
		sets = append(sets, css...)
	}

	kind := provider.VCSNone
	for _, cs := range sets {
		if cs.Kind == nil || *cs.Kind == "" {
			continue
		}
		kind = vcsKindOf(*cs.Kind)
		break
	}

	// Source order is newest first; a pipeline may repeat a commit across batches.
	seen := make(map[string]bool)
	var commits []provider.CommitInfo
	for _, cs := range sets {
		for _, item := range cs.Items {
			if item.CommitID == "" || seen[item.CommitID] {
				continue
			}
			seen[item.CommitID] = true
			msg := item.Msg
			if item.Comment != "" {
				msg = strings.TrimRight(item.Comment, "\n")
			}
			commits = append(commits, provider.CommitInfo{
				RevisionID:      item.CommitID,
				TimestampMillis: item.Timestamp,
				Message:         msg,
				URI:             strings.TrimSuffix(rb.URL, "/") + "/changes",
			})
		}
	}
	for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
		commits[i], commits[j] = commits[j], commits[i]
	}

	var repo string
	switch kind {
	case provider.VCSGit:
		var err error
		repo, err = gitRepositoryName(rb.Actions)
		if err != nil {
			return "", "", nil, err
		}
	case provider.VCSSVN:
		for _, cs := range sets {
			if len(cs.Revisions) > 0 {
				repo = cs.Revisions[0].Module
				break
			}
		}
	}
	return kind, repo, commits, nil
}

func vcsKindOf(kind string) provider.VCSKind {
	switch strings.ToLower(kind) {
	case "git":
		return provider.VCSGit
	case "svn", "subversion":
		return provider.VCSSVN
	}
	return provider.VCSUnknown
}

// gitRepositoryName derives the repository name from the first remote URL
// recorded by the git plugin.
func gitRepositoryName(actions json.RawMessage) (string, error) {
	if !isPresent(actions) {
		return "", nil
	}
	var list []rawAction
	if err := json.Unmarshal(actions, &list); err != nil {
		return "", fmt.Errorf("actions: %w", err)
	}
	for _, a := range list {
		for _, remote := range a.RemoteURLs {
			if name := RepositoryNameFromRemote(remote); name != "" {
				return name, nil
			}
		}
	}
	return "", nil
}

// RepositoryNameFromRemote returns the last path segment of a git remote URL
// without its .git suffix, truncated to MaxRepositoryNameLength.
func RepositoryNameFromRemote(remote string) string {
	remote = strings.TrimRight(strings.TrimSpace(remote), "/")
	if i := strings.LastIndexAny(remote, "/:"); i >= 0 {
		remote = remote[i+1:]
	}
	remote = strings.TrimSuffix(remote, ".git")
	if len(remote) > MaxRepositoryNameLength {
		cut := MaxRepositoryNameLength
		for cut > 0 && !utf8.RuneStart(remote[cut]) {
			cut--
		}
		remote = remote[:cut]
	}
	return remote
}

func isPresent(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}
