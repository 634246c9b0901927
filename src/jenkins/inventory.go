package jenkins

import (
	"net/url"
	"sort"
	"strings"
)

// PathSeparator joins the segments of a fully-qualified path.
const PathSeparator = "/"

// RawNode is one entry of the Jenkins tree listing.
type RawNode struct {
	Class string    `json:"_class"`
	Name  string    `json:"name"`
	URL   string    `json:"url"`
	Jobs  []RawNode `json:"jobs"`
	Views []RawView `json:"views"`
}

// RawView is a view entry of the Jenkins tree listing.
type RawView struct {
	Class string    `json:"_class"`
	Name  string    `json:"name"`
	URL   string    `json:"url"`
	Jobs  []RawNode `json:"jobs"`
}

// IsContainer reports whether the node holds other jobs rather than builds.
func (n RawNode) IsContainer() bool {
	switch {
	case strings.HasSuffix(n.Class, ".Folder"),
		strings.HasSuffix(n.Class, "OrganizationFolder"),
		strings.Contains(n.Class, "MultiBranchProject"):
		return true
	case n.Class == "":
		return n.Jobs != nil
	}
	return false
}

func (v RawView) isAllView() bool {
	if v.Class != "" {
		return strings.HasSuffix(v.Class, "AllView")
	}
	return strings.EqualFold(v.Name, "all")
}

// JobKind distinguishes plain jobs from pipeline jobs.
type JobKind int

const (
	KindPlain JobKind = iota
	KindPipeline
)

func (k JobKind) String() string {
	if k == KindPipeline {
		return "pipeline"
	}
	return "job"
}

func kindOf(class string) JobKind {
	if strings.HasSuffix(class, "WorkflowJob") {
		return KindPipeline
	}
	return KindPlain
}

// JobNode is one buildable job. The same job reachable through several
// containers yields several JobNodes, told apart by Path.
type JobNode struct {
	Name          string
	ContainerPath []string
	Kind          JobKind
	URL           string
}

// Path returns the fully-qualified path of the job.
func (j JobNode) Path() string {
	return JoinPath(append(append([]string(nil), j.ContainerPath...), j.Name)...)
}

// Container returns the fully-qualified path of the enclosing container,
// or PathSeparator for top level jobs.
func (j JobNode) Container() string {
	return JoinPath(j.ContainerPath...)
}

// FolderNode is a Jenkins folder.
type FolderNode struct {
	Name          string
	ContainerPath []string
	URL           string
	Jobs          []JobNode
	// Views holds the fully-qualified paths of the views defined in the folder.
	Views []string
}

// Path returns the fully-qualified path of the folder.
func (f *FolderNode) Path() string {
	return JoinPath(append(append([]string(nil), f.ContainerPath...), f.Name)...)
}

// ViewNode is a Jenkins view, either top level or defined in a folder.
type ViewNode struct {
	Name          string
	ContainerPath []string
	URL           string
	Jobs          []JobNode
}

// Path returns the fully-qualified path of the view.
func (v *ViewNode) Path() string {
	return JoinPath(append(append([]string(nil), v.ContainerPath...), v.Name)...)
}

// Inventory is the addressable tree of one Jenkins server. It is built once
// per run and not modified afterwards.
type Inventory struct {
	Folders  map[string]*FolderNode
	Views    map[string]*ViewNode
	Jobs     []JobNode
	MaxDepth int

	byPath map[string]JobNode
}

// BuildInventory walks root depth first down to maxDepth levels. Folders whose
// contents lie beyond maxDepth are left out.
func BuildInventory(root *RawNode, maxDepth int) *Inventory {
	inv := &Inventory{
		Folders:  make(map[string]*FolderNode),
		Views:    make(map[string]*ViewNode),
		MaxDepth: maxDepth,
		byPath:   make(map[string]JobNode),
	}
	if root == nil {
		return inv
	}

	inv.Jobs = inv.walk(nil, root, 1)
	return inv
}

// walk records the children of node, which sit at the given level, and
// returns the leaf jobs found directly in it.
func (inv *Inventory) walk(container []string, node *RawNode, level int) []JobNode {
	if level > inv.MaxDepth {
		return nil
	}

	var jobs []JobNode
	for i := range node.Jobs {
		child := &node.Jobs[i]
		if child.IsContainer() {
			if level+1 > inv.MaxDepth {
				continue
			}
			folder := &FolderNode{Name: child.Name, ContainerPath: container, URL: child.URL}
			inner := appendSegment(container, child.Name)
			folder.Jobs = inv.walk(inner, child, level+1)
			folder.Views = inv.addViews(inner, child.Views)
			inv.Folders[folder.Path()] = folder
			continue
		}
		job := JobNode{Name: child.Name, ContainerPath: container, Kind: kindOf(child.Class), URL: child.URL}
		inv.byPath[job.Path()] = job
		jobs = append(jobs, job)
	}

	if level == 1 {
		inv.addViews(container, node.Views)
	}
	return jobs
}

func (inv *Inventory) addViews(container []string, views []RawView) []string {
	var paths []string
	for _, rv := range views {
		if rv.isAllView() {
			continue
		}
		view := &ViewNode{Name: rv.Name, ContainerPath: container, URL: rv.URL}
		inner := appendSegment(container, rv.Name)
		for _, rj := range rv.Jobs {
			if rj.IsContainer() {
				continue
			}
			job := JobNode{Name: rj.Name, ContainerPath: inner, Kind: kindOf(rj.Class), URL: rj.URL}
			inv.byPath[job.Path()] = job
			view.Jobs = append(view.Jobs, job)
		}
		inv.Views[view.Path()] = view
		paths = append(paths, view.Path())
	}
	return paths
}

func appendSegment(path []string, seg string) []string {
	out := make([]string, 0, len(path)+1)
	return append(append(out, path...), seg)
}

// Job looks up a job by fully-qualified path.
func (inv *Inventory) Job(path string) (JobNode, bool) {
	j, ok := inv.byPath[CanonicalPath(path)]
	return j, ok
}

// Folder looks up a folder by fully-qualified path.
func (inv *Inventory) Folder(path string) (*FolderNode, bool) {
	f, ok := inv.Folders[CanonicalPath(path)]
	return f, ok
}

// View looks up a view by fully-qualified path.
func (inv *Inventory) View(path string) (*ViewNode, bool) {
	v, ok := inv.Views[CanonicalPath(path)]
	return v, ok
}

// FoldersNamed returns every folder whose own name is name, ordered by path.
func (inv *Inventory) FoldersNamed(name string) []*FolderNode {
	var out []*FolderNode
	for _, f := range inv.Folders {
		if f.Name == name {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out
}

// ViewsNamed returns every view whose own name is name, ordered by path.
func (inv *Inventory) ViewsNamed(name string) []*ViewNode {
	var out []*ViewNode
	for _, v := range inv.Views {
		if v.Name == name {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out
}

// JobsNamed returns every job outside of views whose own name is name, ordered by path.
func (inv *Inventory) JobsNamed(name string) []JobNode {
	var out []JobNode
	for _, j := range inv.AllJobs() {
		if j.Name != name {
			continue
		}
		if _, inView := inv.Views[j.Container()]; inView {
			continue
		}
		out = append(out, j)
	}
	return out
}

// AllJobs returns every job in the inventory, ordered by path.
func (inv *Inventory) AllJobs() []JobNode {
	out := make([]JobNode, 0, len(inv.byPath))
	for _, j := range inv.byPath {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out
}

// JoinPath builds a canonical fully-qualified path from name segments.
func JoinPath(segments ...string) string {
	clean := make([]string, 0, len(segments))
	for _, s := range segments {
		if s = strings.Trim(s, PathSeparator); s != "" {
			clean = append(clean, s)
		}
	}
	return PathSeparator + strings.Join(clean, PathSeparator)
}

// CanonicalPath normalizes a fully-qualified name path ("a/b", "/a/b/") the
// way JoinPath builds it. Segments are names, so a folder literally named
// "job" stays a segment.
func CanonicalPath(p string) string {
	return JoinPath(strings.Split(p, PathSeparator)...)
}

// PathFromURL derives the canonical path of a job, folder or view from its
// Jenkins URL, given the server base URL. The "job/" and "view/" infixes of
// the URL are dropped and the names unescaped.
func PathFromURL(baseURL, itemURL string) string {
	p := itemURL
	if u, err := url.Parse(itemURL); err == nil {
		p = u.EscapedPath()
	}
	if b, err := url.Parse(baseURL); err == nil {
		if bp := strings.TrimSuffix(b.EscapedPath(), PathSeparator); bp != "" && strings.HasPrefix(p, bp+PathSeparator) {
			p = p[len(bp):]
		}
	}

	tokens := strings.Split(strings.Trim(p, PathSeparator), PathSeparator)
	segs := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if (tok == "job" || tok == "view") && i+1 < len(tokens) {
			i++
			tok = tokens[i]
		}
		if dec, err := url.PathUnescape(tok); err == nil {
			tok = dec
		}
		segs = append(segs, tok)
	}
	return JoinPath(segs...)
}
