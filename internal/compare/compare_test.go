package compare

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/lucasnoah/glwatch/internal/gitlab"
)

type compareCall struct {
	ProjectID int
	From, To  string
}

type fakeAPI struct {
	mu       sync.Mutex
	shas     map[string]gitlab.CommitPair
	shaErr   error
	compares map[compareCall]*gitlab.Comparison
	calls    []compareCall
}

func (f *fakeAPI) CommitSHAs(ctx context.Context, projects []gitlab.ProjectRef, source, target string) (map[string]gitlab.CommitPair, error) {
	if f.shaErr != nil {
		return nil, f.shaErr
	}
	return f.shas, nil
}

func (f *fakeAPI) Compare(ctx context.Context, projectID int, from, to string) (*gitlab.Comparison, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := compareCall{projectID, from, to}
	f.calls = append(f.calls, call)
	cmp, ok := f.compares[call]
	if !ok {
		return nil, &gitlab.APIError{StatusCode: 404, Message: "404 Not Found"}
	}
	return cmp, nil
}

func commits(n int) []gitlab.Commit {
	out := make([]gitlab.Commit, n)
	for i := range out {
		out[i].ID = string(rune('a' + i))
	}
	return out
}

var projects = []gitlab.ProjectRef{
	{ID: 24, Name: "Org.Management", FullPath: "pdp/Org.Management"},
	{ID: 897, Name: "Ah.Service", FullPath: "pdp/Ah.Service"},
	{ID: 28, Name: "Common", FullPath: "pdp/Common"},
}

func TestCompareProjects(t *testing.T) {
	api := &fakeAPI{
		shas: map[string]gitlab.CommitPair{
			"Org.Management": {SourceSHA: "s1", TargetSHA: "t1", MRState: "opened"},
			"Ah.Service":     {SourceSHA: "", TargetSHA: "t2"},
			"Common":         {SourceSHA: "s3", TargetSHA: "t3", MRState: "merged"},
		},
		compares: map[compareCall]*gitlab.Comparison{
			{24, "t1", "s1"}: {Commits: commits(3), Diffs: []gitlab.FileDiff{
				{NewPath: "src/Api/appsettings.Production.json", Diff: "+x"},
				{NewPath: "src/Api/Program.cs"},
			}},
			{24, "s1", "t1"}: {Commits: commits(1)},
			{28, "t3", "s3"}: {},
			{28, "s3", "t3"}: {},
		},
	}

	results := New(api, 2, nil).CompareProjects(context.Background(), projects, "feature", "master_ah")
	if len(results) != len(projects) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(projects))
	}

	om := results[0]
	if om.Project != "Org.Management" || om.Ahead != Known(3) || om.Behind != Known(1) {
		t.Errorf("Org.Management = %+v", om)
	}
	if len(om.ConfigChanges) != 1 || om.ConfigChanges[0].File != "src/Api/appsettings.Production.json" {
		t.Errorf("ConfigChanges = %+v", om.ConfigChanges)
	}
	if om.Readiness() != ReadyManualConfig {
		t.Errorf("Readiness = %q", om.Readiness())
	}
	if om.MRStatus != MRCreated {
		t.Errorf("MRStatus = %q", om.MRStatus)
	}

	ah := results[1]
	if ah.SourceExists || !ah.TargetExists {
		t.Errorf("Ah.Service existence = %v/%v", ah.SourceExists, ah.TargetExists)
	}
	if ah.Ahead.IsKnown() || ah.Behind.IsKnown() {
		t.Errorf("missing branch must give unknown counts, got %v/%v", ah.Ahead, ah.Behind)
	}
	if ah.Readiness() != ReadySourceMissing {
		t.Errorf("Readiness = %q", ah.Readiness())
	}

	common := results[2]
	if common.Ahead != Known(0) || common.Behind != Known(0) {
		t.Errorf("no divergence must give zero, not unknown: %v/%v", common.Ahead, common.Behind)
	}
	if common.Readiness() != ReadyNothing || common.MRStatus != MRMerged {
		t.Errorf("Common = %q %q", common.Readiness(), common.MRStatus)
	}

	for _, c := range api.calls {
		if c.ProjectID == 897 {
			t.Error("no compare call expected for a project with a missing branch")
		}
	}
}

func TestCompareProjects_LookupFailure(t *testing.T) {
	api := &fakeAPI{shaErr: errors.New("connection refused")}
	results := New(api, 4, nil).CompareProjects(context.Background(), projects, "feature", "master_ah")
	if len(results) != len(projects) {
		t.Fatalf("len(results) = %d", len(results))
	}
	for _, r := range results {
		if r.SourceExists || r.Ahead.IsKnown() || r.Behind.IsKnown() || r.Error == "" {
			t.Errorf("%s = %+v, want unknown with error", r.Project, r)
		}
		if r.Readiness() != ReadyUnknown {
			t.Errorf("%s Readiness = %q, want %q", r.Project, r.Readiness(), ReadyUnknown)
		}
	}
}

func TestCompareProjects_CompareFailureIsNotNothingToDeploy(t *testing.T) {
	api := &fakeAPI{
		shas: map[string]gitlab.CommitPair{
			"Common": {SourceSHA: "s3", TargetSHA: "t3"},
		},
	}
	results := New(api, 1, nil).CompareProjects(context.Background(), projects[2:], "feature", "master_ah")

	r := results[0]
	if !r.SourceExists || !r.TargetExists {
		t.Fatalf("existence = %v/%v, want both", r.SourceExists, r.TargetExists)
	}
	if r.Ahead.IsKnown() {
		t.Fatalf("Ahead = %v, want unknown after a failed compare", r.Ahead)
	}
	if got := r.Readiness(); got != ReadyUnknown {
		t.Errorf("Readiness = %q, want %q", got, ReadyUnknown)
	}
}

func TestCompare_FailureIsUnknown(t *testing.T) {
	d := New(&fakeAPI{}, 1, nil).Compare(context.Background(), 1, "a", "b")
	if d.Exists || d.Ahead.IsKnown() {
		t.Errorf("Divergence = %+v, want unknown", d)
	}
}

func TestCount(t *testing.T) {
	if Unknown.String() != "-" || Known(0).String() != "0" {
		t.Errorf("String: %q %q", Unknown.String(), Known(0).String())
	}
	if Unknown == Known(0) {
		t.Error("Unknown must differ from Known(0)")
	}
	b, _ := json.Marshal(struct {
		A Count `json:"a"`
		B Count `json:"b"`
	}{Unknown, Known(4)})
	if string(b) != `{"a":"-","b":4}` {
		t.Errorf("json = %s", b)
	}
}

func TestIsConfigFile(t *testing.T) {
	tests := map[string]bool{
		"appsettings.json":                 true,
		"src/API/AppSettings.Staging.json": true,
		"gateway/ocelot.Production.json":   true,
		"appsettings.json.bak":             false,
		"config/appsettings.yaml":          false,
		"my-appsettings.json":              false,
	}
	for path, want := range tests {
		if got := IsConfigFile(path); got != want {
			t.Errorf("IsConfigFile(%q) = %v, want %v", path, got, want)
		}
	}
}
