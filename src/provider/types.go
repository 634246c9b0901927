package provider

import (
	"strings"
	"time"
)

// Status is a normalized build result.
type Status string

const (
	StatusSuccess    Status = "SUCCESS"
	StatusFailure    Status = "FAILURE"
	StatusUnstable   Status = "UNSTABLE"
	StatusIncomplete Status = "INCOMPLETE"
	// StatusInProgress marks a build that has not produced a result yet.
	StatusInProgress Status = "IN_PROGRESS"
)

// NormalizeStatus maps a raw CI result onto a Status.
// An empty result means the build is still running.
func NormalizeStatus(raw string) Status {
	switch raw {
	case "", "null", "None":
		return StatusInProgress
	case "ABORTED":
		return StatusIncomplete
	}
	return Status(raw)
}

// VCSKind identifies the version control system that fed a build.
type VCSKind string

const (
	VCSGit     VCSKind = "git"
	VCSSVN     VCSKind = "svn"
	VCSNone    VCSKind = "none"
	VCSUnknown VCSKind = "unknown"
)

// SCMType returns the value used for the SCMType of a backlog repository.
func (k VCSKind) SCMType() string {
	switch k {
	case VCSGit:
		return "git"
	case VCSSVN:
		return "svn"
	}
	return string(k)
}

// CommitInfo is one VCS commit attached to a build.
type CommitInfo struct {
	RevisionID      string `json:"revision_id"`
	TimestampMillis int64  `json:"timestamp_millis"`
	Message         string `json:"message"`
	URI             string `json:"uri,omitempty"`
}

// Timestamp returns the commit time in UTC.
func (c CommitInfo) Timestamp() time.Time {
	return time.UnixMilli(c.TimestampMillis).UTC()
}

// BuildRecord is a normalized build observation from either system.
// (JobPath, Number) is the natural key.
type BuildRecord struct {
	JobPath        string       `json:"job_path"`
	JobName        string       `json:"job_name"`
	Container      string       `json:"container,omitempty"`
	Project        string       `json:"project,omitempty"`
	Number         string       `json:"number"`
	Status         Status       `json:"status"`
	StartedAt      int64        `json:"started_at"`
	DurationMillis int64        `json:"duration_millis"`
	URL            string       `json:"url"`
	VCSKind        VCSKind      `json:"vcs_kind"`
	RepositoryName string       `json:"repository_name,omitempty"`
	Commits        []CommitInfo `json:"commits,omitempty"`
}

// StartTime returns the build start in UTC.
func (b BuildRecord) StartTime() time.Time {
	return time.UnixMilli(b.StartedAt).UTC()
}

// InFlight reports whether the build is still running.
func (b BuildRecord) InFlight() bool {
	return b.Status == StatusInProgress
}

// DurationSeconds returns the build duration as fractional seconds.
func (b BuildRecord) DurationSeconds() float64 {
	return float64(b.DurationMillis) / 1000.0
}

// JobURI returns the URL of the job that produced the build,
// i.e. the build URL with its trailing build number removed.
func (b BuildRecord) JobURI() string {
	u := strings.TrimSuffix(b.URL, "/")
	if i := strings.LastIndex(u, "/"); i > 0 {
		return u[:i]
	}
	return u
}

// ContainerKey groups CI builds by the configured target that yielded them
// and the backlog project they are destined for.
type ContainerKey struct {
	Container string
	Project   string
}

func (k ContainerKey) String() string {
	return k.Container + " -> " + k.Project
}

// JobBuilds maps a fully-qualified job path to its builds, oldest first.
type JobBuilds map[string][]BuildRecord

// CanonicalNumber returns the form used to compare build numbers across
// systems: surrounding space and leading zeros of a numeric value are dropped.
func CanonicalNumber(n string) string {
	n = strings.TrimSpace(n)
	if n == "" {
		return n
	}
	for _, r := range n {
		if r < '0' || r > '9' {
			return n
		}
	}
	if t := strings.TrimLeft(n, "0"); t != "" {
		return t
	}
	return "0"
}
