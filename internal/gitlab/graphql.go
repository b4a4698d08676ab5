package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var nonAliasChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// Alias converts a project name into a GraphQL alias by replacing every
// character outside [a-zA-Z0-9_] with "_". A leading digit gets a "_" prefix
// so the result is always a valid GraphQL name.
func Alias(name string) string {
	alias := nonAliasChars.ReplaceAllString(name, "_")
	if alias == "" {
		return "_"
	}
	if alias[0] >= '0' && alias[0] <= '9' {
		alias = "_" + alias
	}
	return alias
}

// Aliases returns one alias per name, in order. Names that sanitize to the
// same alias (e.g. "Org.UI" and "Org_UI") get numeric suffixes so the
// response maps back without collision.
func Aliases(names []string) []string {
	used := make(map[string]bool, len(names))
	out := make([]string, len(names))
	for i, name := range names {
		base := Alias(name)
		alias := base
		for n := 2; used[alias]; n++ {
			alias = fmt.Sprintf("%s_%d", base, n)
		}
		used[alias] = true
		out[i] = alias
	}
	return out
}

// batchDocument builds one GraphQL document that selects `selection` on every
// project, each aliased by its sanitized name. Project paths are passed as
// variables $p0..$pN; extraDecls declares any other variables the selection
// uses (e.g. "$ref: String!"). It returns the document and alias per project.
func batchDocument(projects []ProjectRef, extraDecls, selection string) (string, []string) {
	names := make([]string, len(projects))
	for i, p := range projects {
		names[i] = p.Name
	}
	aliases := Aliases(names)

	decls := make([]string, 0, len(projects)+1)
	if extraDecls != "" {
		decls = append(decls, extraDecls)
	}
	var body strings.Builder
	for i := range projects {
		decls = append(decls, fmt.Sprintf("$p%d: ID!", i))
		fmt.Fprintf(&body, "  %s: project(fullPath: $p%d) {\n%s\n  }\n", aliases[i], i, selection)
	}
	return fmt.Sprintf("query(%s) {\n%s}", strings.Join(decls, ", "), body.String()), aliases
}

// batchProjects runs a batched per-project query and returns the raw payload
// per project name. Projects the API answers with null are absent from the
// map.
func (c *Client) batchProjects(ctx context.Context, projects []ProjectRef, extraDecls, selection string, vars map[string]any) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(projects))
	if len(projects) == 0 {
		return out, nil
	}

	doc, aliases := batchDocument(projects, extraDecls, selection)
	variables := make(map[string]any, len(vars)+len(projects))
	for k, v := range vars {
		variables[k] = v
	}
	for i, p := range projects {
		variables[fmt.Sprintf("p%d", i)] = p.FullPath
	}

	var data map[string]json.RawMessage
	if err := c.Query(ctx, doc, variables, &data); err != nil {
		return nil, err
	}
	for i, p := range projects {
		raw, ok := data[aliases[i]]
		if !ok || len(raw) == 0 || string(raw) == "null" {
			continue
		}
		out[p.Name] = raw
	}
	return out, nil
}

const branchPipelinesSelection = `    pipelines(ref: $ref, first: 5) {
      nodes { id iid status source ref sha createdAt startedAt finishedAt user { name } }
    }
    mergeRequests(state: opened, targetBranches: $targets) { count }`

// BranchPipelines fetches, in one request, the last five pipelines on ref and
// the open merge request count targeting ref for every project.
func (c *Client) BranchPipelines(ctx context.Context, projects []ProjectRef, ref string) (map[string]*BranchPipelines, error) {
	raw, err := c.batchProjects(ctx, projects, "$ref: String!, $targets: [String!]", branchPipelinesSelection,
		map[string]any{"ref": ref, "targets": []string{ref}})
	if err != nil {
		return nil, fmt.Errorf("branch pipelines: %w", err)
	}

	out := make(map[string]*BranchPipelines, len(raw))
	for name, payload := range raw {
		var p struct {
			Pipelines struct {
				Nodes []Pipeline `json:"nodes"`
			} `json:"pipelines"`
			MergeRequests *struct {
				Count int `json:"count"`
			} `json:"mergeRequests"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			c.logger.Warn("skipping malformed pipelines payload", "project", name, "error", err)
			continue
		}
		bp := &BranchPipelines{Pipelines: p.Pipelines.Nodes}
		if p.MergeRequests != nil {
			bp.OpenMRCount = p.MergeRequests.Count
		}
		out[name] = bp
	}
	return out, nil
}

const schedulesSelection = `    pipelineSchedules { nodes { id description ref active } }`

// PipelineSchedules fetches the pipeline schedules of every project.
func (c *Client) PipelineSchedules(ctx context.Context, projects []ProjectRef) (map[string][]Schedule, error) {
	raw, err := c.batchProjects(ctx, projects, "", schedulesSelection, nil)
	if err != nil {
		return nil, fmt.Errorf("pipeline schedules: %w", err)
	}

	out := make(map[string][]Schedule, len(raw))
	for name, payload := range raw {
		var p struct {
			PipelineSchedules struct {
				Nodes []Schedule `json:"nodes"`
			} `json:"pipelineSchedules"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			c.logger.Warn("skipping malformed schedules payload", "project", name, "error", err)
			continue
		}
		out[name] = p.PipelineSchedules.Nodes
	}
	return out, nil
}

const commitsSelection = `    repository {
      source: commit(ref: $source) { sha }
      target: commit(ref: $target) { sha }
    }
    mergeRequests(sourceBranches: [$source], targetBranches: [$target], sort: CREATED_DESC, first: 1) {
      nodes { state }
    }`

// CommitSHAs resolves source and target refs to SHAs for every project in
// one request, along with the state of the newest merge request between
// them. A missing SHA means the ref does not exist in that project.
func (c *Client) CommitSHAs(ctx context.Context, projects []ProjectRef, source, target string) (map[string]CommitPair, error) {
	raw, err := c.batchProjects(ctx, projects, "$source: String!, $target: String!", commitsSelection,
		map[string]any{"source": source, "target": target})
	if err != nil {
		return nil, fmt.Errorf("commit lookup: %w", err)
	}

	out := make(map[string]CommitPair, len(raw))
	for name, payload := range raw {
		var p struct {
			Repository *struct {
				Source *struct {
					SHA string `json:"sha"`
				} `json:"source"`
				Target *struct {
					SHA string `json:"sha"`
				} `json:"target"`
			} `json:"repository"`
			MergeRequests *struct {
				Nodes []struct {
					State string `json:"state"`
				} `json:"nodes"`
			} `json:"mergeRequests"`
		}
		if err := json.Unmarshal(payload, &p); err != nil || p.Repository == nil {
			continue
		}
		var pair CommitPair
		if p.MergeRequests != nil && len(p.MergeRequests.Nodes) > 0 {
			pair.MRState = p.MergeRequests.Nodes[0].State
		}
		if p.Repository.Source != nil {
			pair.SourceSHA = p.Repository.Source.SHA
		}
		if p.Repository.Target != nil {
			pair.TargetSHA = p.Repository.Target.SHA
		}
		out[name] = pair
	}
	return out, nil
}

const openMRsSelection = `    mergeRequests(state: opened, targetBranches: $targets, sort: CREATED_DESC) {
      nodes {
        title webUrl sourceBranch targetBranch state createdAt
        author { name }
        assignees { nodes { name } }
      }
    }`

// OpenMergeRequests lists open merge requests targeting target, per project.
func (c *Client) OpenMergeRequests(ctx context.Context, projects []ProjectRef, target string) (map[string][]MergeRequest, error) {
	raw, err := c.batchProjects(ctx, projects, "$targets: [String!]", openMRsSelection,
		map[string]any{"targets": []string{target}})
	if err != nil {
		return nil, fmt.Errorf("open merge requests: %w", err)
	}

	out := make(map[string][]MergeRequest, len(raw))
	for name, payload := range raw {
		var p struct {
			MergeRequests struct {
				Nodes []MergeRequest `json:"nodes"`
			} `json:"mergeRequests"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			continue
		}
		out[name] = p.MergeRequests.Nodes
	}
	return out, nil
}

const playScheduleMutation = `mutation($id: CiPipelineScheduleID!) {
  pipelineSchedulePlay(input: {id: $id}) { errors }
}`

// PlaySchedule runs a pipeline schedule immediately.
func (c *Client) PlaySchedule(ctx context.Context, scheduleID string) error {
	if scheduleID == "" {
		return fmt.Errorf("play schedule: empty schedule id")
	}
	var data struct {
		PipelineSchedulePlay *struct {
			Errors []string `json:"errors"`
		} `json:"pipelineSchedulePlay"`
	}
	if err := c.Query(ctx, playScheduleMutation, map[string]any{"id": scheduleID}, &data); err != nil {
		return fmt.Errorf("play schedule %s: %w", scheduleID, err)
	}
	if data.PipelineSchedulePlay == nil {
		return fmt.Errorf("play schedule %s: empty mutation response", scheduleID)
	}
	if len(data.PipelineSchedulePlay.Errors) > 0 {
		return fmt.Errorf("play schedule %s: %s", scheduleID, strings.Join(data.PipelineSchedulePlay.Errors, "; "))
	}
	return nil
}
