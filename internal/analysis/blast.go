// ABOUTME: Blast radius analyzer over the reverse dependency graph of task usage
// ABOUTME: Depth-limited BFS from a task name through using workflows and their callers

package analysis

import (
	"fmt"
	"sort"

	"github.com/weftwork/weft/pkg/types"
)

// DefaultMaxDepth bounds the traversal when the caller passes no limit
const DefaultMaxDepth = 5

// Node kinds in the blast radius graph
const (
	NodeTask     = "task"
	NodeWorkflow = "workflow"
)

// Edge kinds in the blast radius graph
const (
	EdgeUsedBy    = "used-by"
	EdgeContains  = "contains"
	EdgeInvokedBy = "invoked-by"
)

// Node is one vertex of the blast radius graph
type Node struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Workflow string `json:"workflow,omitempty"`
	Depth    int    `json:"depth"`
	IsSource bool   `json:"isSource,omitempty"`
}

// Edge is one reverse-dependency edge
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

// Summary aggregates the affected set
type Summary struct {
	AffectedWorkflows int         `json:"affectedWorkflows"`
	AffectedTasks     int         `json:"affectedTasks"`
	ByDepth           map[int]int `json:"byDepth"`
}

// Graph is the rendered blast radius graph
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Report is the result of one analysis
type Report struct {
	Source           string  `json:"source"`
	Summary          Summary `json:"summary"`
	Graph            Graph   `json:"graph"`
	TruncatedAtDepth int     `json:"truncatedAtDepth,omitempty"`
}

// Analyze computes the blast radius of changing one task definition. Depth 1
// holds the workflows invoking the task directly together with their sibling
// tasks; each further depth adds the workflows composing those via
// workflowRef. The source task sits at depth 0 and is not counted as affected.
func Analyze(source string, workflows []*types.WorkflowResource, maxDepth int) *Report {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	report := &Report{
		Source:  source,
		Summary: Summary{ByDepth: make(map[int]int)},
	}
	report.Graph.Nodes = append(report.Graph.Nodes, Node{
		ID:       source,
		Kind:     NodeTask,
		Depth:    0,
		IsSource: true,
	})

	// Reverse index: workflow key -> workflows invoking it via workflowRef.
	callers := make(map[string][]*types.WorkflowResource)
	for _, wf := range workflows {
		for i := range wf.Tasks {
			ref := wf.Tasks[i].WorkflowRef
			if ref == "" {
				continue
			}
			key := refKey(ref, wf.Metadata.Namespace)
			callers[key] = append(callers[key], wf)
		}
	}

	visited := make(map[string]bool)
	var frontier []*types.WorkflowResource
	for _, wf := range workflows {
		if usesTask(wf, source) {
			frontier = append(frontier, wf)
		}
	}

	depth := 0
	for len(frontier) > 0 {
		depth++
		if depth > maxDepth {
			report.TruncatedAtDepth = maxDepth
			break
		}

		sort.Slice(frontier, func(i, j int) bool {
			return workflowKey(frontier[i]) < workflowKey(frontier[j])
		})

		var next []*types.WorkflowResource
		for _, wf := range frontier {
			key := workflowKey(wf)
			if visited[key] {
				continue
			}
			visited[key] = true

			report.Graph.Nodes = append(report.Graph.Nodes, Node{
				ID:    key,
				Kind:  NodeWorkflow,
				Depth: depth,
			})
			report.Summary.AffectedWorkflows++
			report.Summary.ByDepth[depth]++
			if depth == 1 {
				report.Graph.Edges = append(report.Graph.Edges, Edge{
					From: source, To: key, Kind: EdgeUsedBy,
				})
			}

			// Siblings: every task of an affected workflow is affected.
			for i := range wf.Tasks {
				step := &wf.Tasks[i]
				stepID := fmt.Sprintf("%s:%s", key, step.ID)
				report.Graph.Nodes = append(report.Graph.Nodes, Node{
					ID:       stepID,
					Kind:     NodeTask,
					Workflow: key,
					Depth:    depth,
				})
				report.Graph.Edges = append(report.Graph.Edges, Edge{
					From: key, To: stepID, Kind: EdgeContains,
				})
				report.Summary.AffectedTasks++
				report.Summary.ByDepth[depth]++
			}

			for _, caller := range callers[key] {
				callerKey := workflowKey(caller)
				if !visited[callerKey] {
					next = append(next, caller)
				}
				report.Graph.Edges = append(report.Graph.Edges, Edge{
					From: key, To: callerKey, Kind: EdgeInvokedBy,
				})
			}
		}
		frontier = next
	}

	return report
}

func usesTask(wf *types.WorkflowResource, task string) bool {
	for i := range wf.Tasks {
		step := &wf.Tasks[i]
		if step.TaskRef == task {
			return true
		}
		if step.Switch != nil {
			for _, c := range step.Switch.Cases {
				if c.TaskRef == task {
					return true
				}
			}
			if step.Switch.Default != nil && step.Switch.Default.TaskRef == task {
				return true
			}
		}
	}
	return false
}

func workflowKey(wf *types.WorkflowResource) string {
	if wf.Metadata.Namespace == "" {
		return wf.Metadata.Name
	}
	return fmt.Sprintf("%s/%s", wf.Metadata.Namespace, wf.Metadata.Name)
}

// refKey normalizes a workflowRef to the key of its target. Version suffixes
// do not change which workflow is affected.
func refKey(ref, callerNamespace string) string {
	name := ref
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '@' {
			name = name[:i]
			break
		}
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			return name
		}
	}
	if callerNamespace == "" {
		return name
	}
	return fmt.Sprintf("%s/%s", callerNamespace, name)
}
