// ABOUTME: Dry-run planner rendering the execution graph without invoking tasks
// ABOUTME: Previews per-task inputs with placeholder markers for unresolved references

package orchestrator

import (
	"github.com/weftwork/weft/internal/graph"
	"github.com/weftwork/weft/pkg/types"
)

// PlannedTask is one task in a dry-run plan
type PlannedTask struct {
	ID           string                 `json:"id"`
	Kind         types.StepKind         `json:"kind"`
	Level        int                    `json:"level"`
	DependsOn    []string               `json:"dependsOn,omitempty"`
	InputPreview map[string]interface{} `json:"inputPreview,omitempty"`
}

// Plan is the dry-run view of a workflow execution
type Plan struct {
	WorkflowName   string                `json:"workflowName"`
	Levels         int                   `json:"levels"`
	Tasks          []PlannedTask         `json:"tasks"`
	ParallelGroups []graph.ParallelGroup `json:"parallelGroups,omitempty"`
	ExecutionOrder []string              `json:"executionOrder"`
}

// Plan validates a workflow and previews its execution without running any
// task. Template references to future task outputs render as placeholders.
func (o *Orchestrator) Plan(wf *types.WorkflowResource, input map[string]interface{}) (*Plan, error) {
	validated, err := validateInput(wf.Input, input)
	if err != nil {
		return nil, err
	}

	build := graph.Build(wf)
	if !build.Valid {
		return nil, build.Errors[0]
	}

	ec := types.NewExecutionContext()
	ec.Input = validated
	ec.Env = o.layerEnvironment(wf.Environment)

	plan := &Plan{
		WorkflowName:   wf.Metadata.Name,
		Levels:         build.Graph.LevelCount(),
		ParallelGroups: build.Graph.ParallelGroups,
		ExecutionOrder: build.Graph.ExecutionOrder,
	}
	for _, node := range build.Graph.Nodes {
		planned := PlannedTask{
			ID:        node.ID,
			Kind:      node.Kind,
			Level:     node.Level,
			DependsOn: node.DependsOn,
		}
		if len(node.Step.Input) > 0 {
			preview := make(map[string]interface{}, len(node.Step.Input))
			for key, value := range node.Step.Input {
				if s, ok := value.(string); ok {
					preview[key] = o.resolver.Preview(s, ec)
					continue
				}
				preview[key] = value
			}
			planned.InputPreview = preview
		}
		plan.Tasks = append(plan.Tasks, planned)
	}
	return plan, nil
}
