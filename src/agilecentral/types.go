package agilecentral

import (
	"strings"
	"time"
)

// TimeFormat is the timestamp layout written to WSAPI.
const TimeFormat = "2006-01-02T15:04:05Z"

// Ref is the reference form of a WSAPI object.
type Ref struct {
	Ref  string `json:"_ref"`
	Name string `json:"_refObjectName,omitempty"`
}

// Short returns the ref relative to the API root, e.g. "/project/1234".
func (r Ref) Short() string {
	return ShortRef(r.Ref)
}

// ShortRef trims a full ref URL down to /<type>/<oid>.
func ShortRef(ref string) string {
	i := strings.Index(ref, "/webservice/")
	if i < 0 {
		return ref
	}
	rest := ref[i+len("/webservice/"):]
	if j := strings.Index(rest, "/"); j >= 0 {
		return rest[j:]
	}
	return ref
}

// Workspace is a WSAPI workspace.
type Workspace struct {
	Ref      string `json:"_ref"`
	ObjectID int64  `json:"ObjectID"`
	Name     string `json:"Name"`
}

// Project is a WSAPI project.
type Project struct {
	Ref      string `json:"_ref"`
	ObjectID int64  `json:"ObjectID"`
	Name     string `json:"Name"`
}

// BuildDefinition is the backlog side handle of one CI job in one project.
type BuildDefinition struct {
	Ref      string `json:"_ref"`
	ObjectID int64  `json:"ObjectID"`
	Name     string `json:"Name"`
	Uri      string `json:"Uri"`
	Project  Ref    `json:"Project"`
}

// Build is a recorded build.
type Build struct {
	Ref             string          `json:"_ref"`
	ObjectID        int64           `json:"ObjectID"`
	Number          string          `json:"Number"`
	Status          string          `json:"Status"`
	Start           string          `json:"Start"`
	Duration        float64         `json:"Duration"`
	Uri             string          `json:"Uri"`
	Message         string          `json:"Message"`
	CreationDate    string          `json:"CreationDate"`
	BuildDefinition BuildDefinition `json:"BuildDefinition"`
}

// StartTime parses Start, returning the zero time when it is absent or malformed.
func (b Build) StartTime() time.Time {
	for _, layout := range []string{time.RFC3339Nano, TimeFormat} {
		if t, err := time.Parse(layout, b.Start); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// SCMRepository is a source repository.
type SCMRepository struct {
	Ref      string `json:"_ref"`
	ObjectID int64  `json:"ObjectID"`
	Name     string `json:"Name"`
	SCMType  string `json:"SCMType"`
}

// Changeset is one commit recorded against an SCMRepository.
type Changeset struct {
	Ref           string `json:"_ref"`
	ObjectID      int64  `json:"ObjectID"`
	Revision      string `json:"Revision"`
	SCMRepository Ref    `json:"SCMRepository"`
}

// Artifact is a work item addressed by FormattedID.
type Artifact struct {
	Ref         string `json:"_ref"`
	ObjectID    int64  `json:"ObjectID"`
	FormattedID string `json:"FormattedID"`
	Type        string `json:"_type,omitempty"`
}

// TypeDefinition carries the IDPrefix of a work item type.
type TypeDefinition struct {
	ElementName string `json:"ElementName"`
	IDPrefix    string `json:"IDPrefix"`
}

// BuildPayload holds the attributes of a Build to create.
type BuildPayload struct {
	Definition BuildDefinition
	Number     string
	Status     string
	Start      time.Time
	// Duration is in seconds.
	Duration   float64
	URI        string
	Message    string
	Changesets []Changeset
}

// ChangesetPayload holds the attributes of a Changeset to create.
type ChangesetPayload struct {
	Repository      SCMRepository
	Revision        string
	CommitTimestamp time.Time
	Message         string
	URI             string
	Artifacts       []Artifact
}

func refList[T any](items []T, ref func(T) string) []map[string]string {
	out := make([]map[string]string, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]string{"_ref": ShortRef(ref(it))})
	}
	return out
}
