package jenkins

import (
	"encoding/json"
	"testing"
)

const sampleTree = `{
  "jobs": [
    {"_class": "hudson.model.FreeStyleProject", "name": "build-x", "url": "http://ci/job/build-x/"},
    {"_class": "com.cloudbees.hudson.plugins.folder.Folder", "name": "teamA", "url": "http://ci/job/teamA/",
     "jobs": [
       {"_class": "hudson.model.FreeStyleProject", "name": "build-x", "url": "http://ci/job/teamA/job/build-x/"},
       {"_class": "org.jenkinsci.plugins.workflow.job.WorkflowJob", "name": "deploy", "url": "http://ci/job/teamA/job/deploy/"},
       {"_class": "com.cloudbees.hudson.plugins.folder.Folder", "name": "sub", "url": "http://ci/job/teamA/job/sub/",
        "jobs": [
          {"_class": "hudson.model.FreeStyleProject", "name": "lint", "url": "http://ci/job/teamA/job/sub/job/lint/"},
          {"_class": "com.cloudbees.hudson.plugins.folder.Folder", "name": "deep", "url": "http://ci/job/teamA/job/sub/job/deep/",
           "jobs": [{"_class": "hudson.model.FreeStyleProject", "name": "too-deep", "url": "http://ci/x/"}]}
        ]}
     ],
     "views": [
       {"_class": "hudson.model.AllView", "name": "All", "url": "http://ci/job/teamA/"},
       {"_class": "hudson.model.ListView", "name": "nightly", "url": "http://ci/job/teamA/view/nightly/",
        "jobs": [{"_class": "hudson.model.FreeStyleProject", "name": "build-x", "url": "http://ci/job/teamA/job/build-x/"}]}
     ]}
  ],
  "views": [
    {"_class": "hudson.model.AllView", "name": "all", "url": "http://ci/"},
    {"_class": "hudson.model.ListView", "name": "Shoreline", "url": "http://ci/view/Shoreline/",
     "jobs": [{"_class": "hudson.model.FreeStyleProject", "name": "build-x", "url": "http://ci/job/build-x/"}]}
  ]
}`

func loadTree(t *testing.T) *RawNode {
	t.Helper()
	var root RawNode
	if err := json.Unmarshal([]byte(sampleTree), &root); err != nil {
		t.Fatalf("unmarshal sample tree: %v", err)
	}
	return &root
}

func TestBuildInventory_FullyQualifiedPaths(t *testing.T) {
	inv := BuildInventory(loadTree(t), 3)

	wantJobs := []string{
		"/Shoreline/build-x",
		"/build-x",
		"/teamA/build-x",
		"/teamA/deploy",
		"/teamA/nightly/build-x",
		"/teamA/sub/lint",
	}
	got := inv.AllJobs()
	if len(got) != len(wantJobs) {
		t.Fatalf("AllJobs() returned %d jobs, want %d: %v", len(got), len(wantJobs), got)
	}
	for i, want := range wantJobs {
		if got[i].Path() != want {
			t.Errorf("AllJobs()[%d] = %s, want %s", i, got[i].Path(), want)
		}
	}

	same := inv.JobsNamed("build-x")
	if len(same) != 2 {
		t.Fatalf("JobsNamed(build-x) = %d jobs, want 2 outside views", len(same))
	}
	if same[0].Path() == same[1].Path() {
		t.Errorf("jobs with the same name share path %s", same[0].Path())
	}
	for _, j := range same {
		if found, ok := inv.Job(j.Path()); !ok || found.URL != j.URL {
			t.Errorf("Job(%s) not independently reachable", j.Path())
		}
	}

	if deploy, _ := inv.Job("/teamA/deploy"); deploy.Kind != KindPipeline {
		t.Errorf("deploy kind = %v, want pipeline", deploy.Kind)
	}
}

func TestBuildInventory_Containers(t *testing.T) {
	inv := BuildInventory(loadTree(t), 3)

	folder, ok := inv.Folder("teamA")
	if !ok {
		t.Fatal("Folder(teamA) not found")
	}
	if len(folder.Jobs) != 2 {
		t.Errorf("teamA direct jobs = %d, want 2", len(folder.Jobs))
	}
	if len(folder.Views) != 1 || folder.Views[0] != "/teamA/nightly" {
		t.Errorf("teamA views = %v, want [/teamA/nightly]", folder.Views)
	}

	if _, ok := inv.View("/Shoreline"); !ok {
		t.Error("top level view Shoreline not found")
	}
	if _, ok := inv.View("/all"); ok {
		t.Error("the all view should not be part of the inventory")
	}
	if v, ok := inv.View("job/teamA/view/nightly"); !ok || len(v.Jobs) != 1 {
		t.Error("View() should accept a Jenkins URL path")
	}
}

func TestBuildInventory_DepthGuard(t *testing.T) {
	tests := []struct {
		name       string
		maxDepth   int
		wantFolder string
		wantFound  bool
	}{
		{name: "depth 1 hides folders", maxDepth: 1, wantFolder: "/teamA", wantFound: false},
		{name: "depth 2 reaches teamA", maxDepth: 2, wantFolder: "/teamA", wantFound: true},
		{name: "depth 2 hides sub", maxDepth: 2, wantFolder: "/teamA/sub", wantFound: false},
		{name: "depth 3 reaches sub", maxDepth: 3, wantFolder: "/teamA/sub", wantFound: true},
		{name: "depth 3 hides deep", maxDepth: 3, wantFolder: "/teamA/sub/deep", wantFound: false},
		{name: "depth 4 reaches deep", maxDepth: 4, wantFolder: "/teamA/sub/deep", wantFound: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := BuildInventory(loadTree(t), tt.maxDepth)
			if _, ok := inv.Folder(tt.wantFolder); ok != tt.wantFound {
				t.Errorf("Folder(%s) found = %v, want %v", tt.wantFolder, ok, tt.wantFound)
			}
		})
	}
}

func TestBuildInventory_Nil(t *testing.T) {
	inv := BuildInventory(nil, 3)
	if len(inv.AllJobs()) != 0 || len(inv.Folders) != 0 {
		t.Errorf("BuildInventory(nil) = %+v, want empty", inv)
	}
}

func TestCanonicalPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "teamA/build-x", want: "/teamA/build-x"},
		{in: "/teamA/build-x/", want: "/teamA/build-x"},
		{in: "job/x", want: "/job/x"},
		{in: "/job/teamA/view/nightly/", want: "/job/teamA/view/nightly"},
		{in: "my%20job", want: "/my%20job"},
		{in: "", want: "/"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := CanonicalPath(tt.in); got != tt.want {
				t.Errorf("CanonicalPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestInventory_FolderNamedJob(t *testing.T) {
	root := &RawNode{Jobs: []RawNode{
		{Class: "hudson.model.FreeStyleProject", Name: "x", URL: "http://j/job/x/"},
		{Class: "com.cloudbees.hudson.plugins.folder.Folder", Name: "job", URL: "http://j/job/job/", Jobs: []RawNode{
			{Class: "hudson.model.FreeStyleProject", Name: "x", URL: "http://j/job/job/job/x/"},
		}},
	}}
	inv := BuildInventory(root, 3)

	nested, ok := inv.Job("/job/x")
	if !ok {
		t.Fatal("Job(/job/x) not found")
	}
	if nested.URL != "http://j/job/job/job/x/" {
		t.Errorf("Job(/job/x) URL = %q, want the job inside folder job", nested.URL)
	}
	top, ok := inv.Job("/x")
	if !ok || top.URL != "http://j/job/x/" {
		t.Errorf("Job(/x) = %+v, %v, want the top level job", top, ok)
	}
	if got := PathFromURL("http://j", nested.URL); got != "/job/x" {
		t.Errorf("PathFromURL(%q) = %q, want /job/x", nested.URL, got)
	}
}

func TestPathFromURL(t *testing.T) {
	tests := []struct {
		base string
		item string
		want string
	}{
		{base: "http://ci:8080/jenkins", item: "http://ci:8080/jenkins/job/teamA/job/build-x/", want: "/teamA/build-x"},
		{base: "http://ci:8080/jenkins", item: "https://ci.example.com/jenkins/job/teamA/view/nightly/", want: "/teamA/nightly"},
		{base: "http://ci:8080", item: "http://ci:8080/job/my%20job/", want: "/my job"},
		{base: "http://ci:8080", item: "job/a/job/b", want: "/a/b"},
	}
	for _, tt := range tests {
		if got := PathFromURL(tt.base, tt.item); got != tt.want {
			t.Errorf("PathFromURL(%q, %q) = %q, want %q", tt.base, tt.item, got, tt.want)
		}
	}
	if name := JoinPath("teamA", "", "/build-x/"); name != "/teamA/build-x" {
		t.Errorf("JoinPath() = %q", name)
	}
}
