package gitlab

import (
	"bytes"
	"encoding/json"
	"time"
)

// Time decodes GitLab timestamps leniently: null, empty, or malformed values
// become the zero time instead of failing the whole response.
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Time = time.Time{}
		return nil
	}
	t.Time = parsed
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339))
}

// ProjectRef identifies a project for both REST (numeric ID) and GraphQL
// (full path) calls. Name is the settings name and the key of batch results.
type ProjectRef struct {
	ID       int
	Name     string
	FullPath string
}

// Pipeline is a pipeline node from the GraphQL API.
type Pipeline struct {
	ID         string `json:"id"`
	IID        string `json:"iid"`
	Status     string `json:"status"`
	Source     string `json:"source"`
	Ref        string `json:"ref"`
	SHA        string `json:"sha"`
	CreatedAt  Time   `json:"createdAt"`
	StartedAt  Time   `json:"startedAt"`
	FinishedAt Time   `json:"finishedAt"`
	User       *struct {
		Name string `json:"name"`
	} `json:"user"`
}

// UserName returns the triggering user's name or "".
func (p Pipeline) UserName() string {
	if p.User == nil {
		return ""
	}
	return p.User.Name
}

// BranchPipelines is the per-project result of BranchPipelines.
type BranchPipelines struct {
	Pipelines   []Pipeline
	OpenMRCount int
}

// Schedule is a pipeline schedule node.
type Schedule struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Ref         string `json:"ref"`
	Active      bool   `json:"active"`
}

// CommitPair holds the SHAs resolved for two refs. An empty SHA means the
// ref does not exist. MRState is the state of the newest merge request from
// source into target, or "" when there is none.
type CommitPair struct {
	SourceSHA string
	TargetSHA string
	MRState   string
}

// MergeRequest is an open merge request node.
type MergeRequest struct {
	Title        string `json:"title"`
	WebURL       string `json:"webUrl"`
	SourceBranch string `json:"sourceBranch"`
	TargetBranch string `json:"targetBranch"`
	State        string `json:"state"`
	CreatedAt    Time   `json:"createdAt"`
	Author       *struct {
		Name string `json:"name"`
	} `json:"author"`
	Assignees struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"assignees"`
}

// AuthorName returns the author's name or "".
func (m MergeRequest) AuthorName() string {
	if m.Author == nil {
		return ""
	}
	return m.Author.Name
}

// AssigneeNames returns the assignee names.
func (m MergeRequest) AssigneeNames() []string {
	names := make([]string, 0, len(m.Assignees.Nodes))
	for _, n := range m.Assignees.Nodes {
		names = append(names, n.Name)
	}
	return names
}

// Comparison is the REST repository compare result. Commits lists commits
// reachable from "to" but not from "from".
type Comparison struct {
	Commits []Commit   `json:"commits"`
	Diffs   []FileDiff `json:"diffs"`
}

// Commit is a commit entry of a comparison.
type Commit struct {
	ID         string `json:"id"`
	ShortID    string `json:"short_id"`
	Title      string `json:"title"`
	AuthorName string `json:"author_name"`
	CreatedAt  Time   `json:"created_at"`
}

// FileDiff is a file entry of a comparison.
type FileDiff struct {
	OldPath     string `json:"old_path"`
	NewPath     string `json:"new_path"`
	Diff        string `json:"diff"`
	NewFile     bool   `json:"new_file"`
	RenamedFile bool   `json:"renamed_file"`
	DeletedFile bool   `json:"deleted_file"`
}

// Branch is the REST branch resource.
type Branch struct {
	Name      string `json:"name"`
	Merged    bool   `json:"merged"`
	Protected bool   `json:"protected"`
	WebURL    string `json:"web_url"`
	Commit    struct {
		ID string `json:"id"`
	} `json:"commit"`
}

// User is the authenticated user returned by GET /user.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	IsAdmin  bool   `json:"is_admin"`
}
