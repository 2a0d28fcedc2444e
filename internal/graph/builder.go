// ABOUTME: Execution graph builder with Kahn leveling and cycle detection
// ABOUTME: Derives a validated DAG from explicit dependsOn and implicit template references

package graph

import (
	"sort"

	"github.com/weftwork/weft/internal/template"
	"github.com/weftwork/weft/pkg/types"
)

// Node is one task step placed in the execution graph
type Node struct {
	ID        string         `json:"id"`
	Kind      types.StepKind `json:"kind"`
	Level     int            `json:"level"`
	DependsOn []string       `json:"dependsOn,omitempty"`
	Step      *types.TaskStep
}

// Edge is a dependency edge from a predecessor to a dependent task
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ParallelGroup is the set of tasks sharing a level when that set has size > 1
type ParallelGroup struct {
	Level   int      `json:"level"`
	TaskIDs []string `json:"taskIds"`
}

// Graph is a validated execution DAG
type Graph struct {
	Nodes          []*Node         `json:"nodes"`
	Edges          []Edge          `json:"edges"`
	Levels         map[string]int  `json:"levels"`
	ParallelGroups []ParallelGroup `json:"parallelGroups,omitempty"`
	ExecutionOrder []string        `json:"executionOrder"`
}

// LevelIDs returns the task ids at a level in deterministic (ascending) order
func (g *Graph) LevelIDs(level int) []string {
	var ids []string
	for _, node := range g.Nodes {
		if node.Level == level {
			ids = append(ids, node.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// LevelCount returns the number of levels in the graph
func (g *Graph) LevelCount() int {
	max := -1
	for _, node := range g.Nodes {
		if node.Level > max {
			max = node.Level
		}
	}
	return max + 1
}

// Node returns the node for a task id, or nil
func (g *Graph) Node(id string) *Node {
	for _, node := range g.Nodes {
		if node.ID == id {
			return node
		}
	}
	return nil
}

// Successors returns the ids of tasks depending on the given task
func (g *Graph) Successors(id string) []string {
	var out []string
	for _, edge := range g.Edges {
		if edge.From == id {
			out = append(out, edge.To)
		}
	}
	sort.Strings(out)
	return out
}

// BuildResult carries either a valid graph or the full list of construction errors
type BuildResult struct {
	Valid  bool
	Graph  *Graph
	Errors []error
}

// Build constructs and validates the execution graph of a workflow. On any
// failure it returns every detected error and no partial graph.
func Build(workflow *types.WorkflowResource) *BuildResult {
	result := &BuildResult{}

	steps := workflow.Tasks
	byID := make(map[string]*types.TaskStep, len(steps))
	for i := range steps {
		step := &steps[i]
		if err := step.Validate(); err != nil {
			result.Errors = append(result.Errors, err)
		}
		if _, dup := byID[step.ID]; dup && step.ID != "" {
			result.Errors = append(result.Errors, types.NewDuplicateTaskError(step.ID))
			continue
		}
		byID[step.ID] = step
	}

	deps := make(map[string][]string, len(steps))
	for i := range steps {
		step := &steps[i]
		stepDeps := template.StepDependencies(step)
		for _, dep := range stepDeps {
			if _, ok := byID[dep]; !ok {
				result.Errors = append(result.Errors, types.NewUnknownTaskError(step.ID, dep))
			}
		}
		deps[step.ID] = stepDeps
	}

	if len(result.Errors) > 0 {
		return result
	}

	if cycle := findCycle(deps); cycle != nil {
		result.Errors = append(result.Errors, types.NewCycleError(cycle))
		return result
	}

	graph := assemble(steps, deps)
	result.Valid = true
	result.Graph = graph
	return result
}

// assemble computes levels with Kahn's algorithm and produces the final graph.
// The dependency map is known to be acyclic at this point.
func assemble(steps []types.TaskStep, deps map[string][]string) *Graph {
	graph := &Graph{Levels: make(map[string]int, len(steps))}

	dependents := make(map[string][]string)
	inDegree := make(map[string]int, len(steps))
	for i := range steps {
		id := steps[i].ID
		inDegree[id] = len(deps[id])
		for _, dep := range deps[id] {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var current []string
	for i := range steps {
		if inDegree[steps[i].ID] == 0 {
			current = append(current, steps[i].ID)
		}
	}
	sort.Strings(current)

	level := 0
	for len(current) > 0 {
		var next []string
		for _, id := range current {
			graph.Levels[id] = level
			for _, dependent := range dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		// Deterministic order within a level keeps traces reproducible.
		sort.Strings(next)
		graph.ExecutionOrder = append(graph.ExecutionOrder, current...)
		current = next
		level++
	}

	for i := range steps {
		step := &steps[i]
		graph.Nodes = append(graph.Nodes, &Node{
			ID:        step.ID,
			Kind:      step.Kind(),
			Level:     graph.Levels[step.ID],
			DependsOn: deps[step.ID],
			Step:      step,
		})
	}
	sort.Slice(graph.Nodes, func(i, j int) bool {
		if graph.Nodes[i].Level != graph.Nodes[j].Level {
			return graph.Nodes[i].Level < graph.Nodes[j].Level
		}
		return graph.Nodes[i].ID < graph.Nodes[j].ID
	})

	for _, node := range graph.Nodes {
		for _, dep := range node.DependsOn {
			graph.Edges = append(graph.Edges, Edge{From: dep, To: node.ID})
		}
	}

	byLevel := make(map[int][]string)
	for id, lvl := range graph.Levels {
		byLevel[lvl] = append(byLevel[lvl], id)
	}
	for lvl := 0; lvl < graph.LevelCount(); lvl++ {
		ids := byLevel[lvl]
		if len(ids) > 1 {
			sort.Strings(ids)
			graph.ParallelGroups = append(graph.ParallelGroups, ParallelGroup{Level: lvl, TaskIDs: ids})
		}
	}

	return graph
}

// findCycle runs a DFS coloring pass and returns the shortest witness cycle
// found, as a sequence ending where it starts (a → b → a).
func findCycle(deps map[string][]string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(deps))
	var path []string
	var witness []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		color[id] = gray
		path = append(path, id)

		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				witness = append(append([]string{}, path[start:]...), dep)
				return true
			case white:
				if dfs(dep) {
					return true
				}
			}
		}

		color[id] = black
		path = path[:len(path)-1]
		return false
	}

	ids := make([]string, 0, len(deps))
	for id := range deps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if color[id] == white {
			if dfs(id) {
				return witness
			}
		}
	}
	return nil
}
