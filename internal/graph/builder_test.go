// ABOUTME: Tests for execution graph construction, leveling, and cycle detection
// ABOUTME: Validates topological ordering, parallel groups, and construction error reporting

package graph

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/weftwork/weft/pkg/types"
)

func workflowOf(steps ...types.TaskStep) *types.WorkflowResource {
	return &types.WorkflowResource{
		Metadata: types.Metadata{Name: "test", Namespace: "default"},
		Tasks:    steps,
	}
}

func TestBuild_LinearChain(t *testing.T) {
	wf := workflowOf(
		types.TaskStep{ID: "t1", TaskRef: "fetch-user", Input: map[string]interface{}{"id": "{{input.userId}}"}},
		types.TaskStep{ID: "t2", TaskRef: "send-email", Input: map[string]interface{}{"email": "{{tasks.t1.output.email}}"}},
	)

	result := Build(wf)
	if !result.Valid {
		t.Fatalf("Expected valid graph, got errors: %v", result.Errors)
	}

	if result.Graph.Levels["t1"] != 0 || result.Graph.Levels["t2"] != 1 {
		t.Errorf("Expected levels t1=0 t2=1, got %v", result.Graph.Levels)
	}
	if !reflect.DeepEqual(result.Graph.ExecutionOrder, []string{"t1", "t2"}) {
		t.Errorf("Expected order [t1 t2], got %v", result.Graph.ExecutionOrder)
	}
	if len(result.Graph.Edges) != 1 || result.Graph.Edges[0] != (Edge{From: "t1", To: "t2"}) {
		t.Errorf("Expected single edge t1->t2, got %v", result.Graph.Edges)
	}
}

func TestBuild_DiamondParallelism(t *testing.T) {
	wf := workflowOf(
		types.TaskStep{ID: "t1", TaskRef: "a"},
		types.TaskStep{ID: "t2", TaskRef: "b", Input: map[string]interface{}{"x": "{{tasks.t1.output.v}}"}},
		types.TaskStep{ID: "t3", TaskRef: "c", DependsOn: []string{"t1"}},
		types.TaskStep{ID: "t4", TaskRef: "d", Input: map[string]interface{}{
			"left":  "{{tasks.t2.output.v}}",
			"right": "{{tasks.t3.output.v}}",
		}},
	)

	result := Build(wf)
	if !result.Valid {
		t.Fatalf("Expected valid graph, got errors: %v", result.Errors)
	}

	g := result.Graph
	if g.Levels["t2"] != 1 || g.Levels["t3"] != 1 || g.Levels["t4"] != 2 {
		t.Errorf("Unexpected levels: %v", g.Levels)
	}
	if len(g.ParallelGroups) != 1 {
		t.Fatalf("Expected one parallel group, got %v", g.ParallelGroups)
	}
	if !reflect.DeepEqual(g.ParallelGroups[0].TaskIDs, []string{"t2", "t3"}) {
		t.Errorf("Expected parallel group [t2 t3], got %v", g.ParallelGroups[0].TaskIDs)
	}
	if !reflect.DeepEqual(g.ExecutionOrder, []string{"t1", "t2", "t3", "t4"}) {
		t.Errorf("Expected deterministic order, got %v", g.ExecutionOrder)
	}
}

func TestBuild_DuplicateEdgesCollapse(t *testing.T) {
	wf := workflowOf(
		types.TaskStep{ID: "t1", TaskRef: "a"},
		types.TaskStep{ID: "t2", TaskRef: "b", Input: map[string]interface{}{
			"x": "{{tasks.t1.output.v}}",
			"y": "{{tasks.t1.output.w}}",
		}},
	)

	result := Build(wf)
	if !result.Valid {
		t.Fatalf("Expected valid graph, got errors: %v", result.Errors)
	}
	if len(result.Graph.Edges) != 1 {
		t.Errorf("Expected collapsed single edge, got %v", result.Graph.Edges)
	}
}

func TestBuild_CycleWitness(t *testing.T) {
	wf := workflowOf(
		types.TaskStep{ID: "a", TaskRef: "x", Input: map[string]interface{}{"v": "{{tasks.c.output.v}}"}},
		types.TaskStep{ID: "b", TaskRef: "x", Input: map[string]interface{}{"v": "{{tasks.a.output.v}}"}},
		types.TaskStep{ID: "c", TaskRef: "x", Input: map[string]interface{}{"v": "{{tasks.b.output.v}}"}},
	)

	result := Build(wf)
	if result.Valid {
		t.Fatal("Expected invalid graph")
	}
	if result.Graph != nil {
		t.Error("Expected no partial graph on failure")
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Expected one error, got %v", result.Errors)
	}

	var graphErr *types.GraphError
	if !errors.As(result.Errors[0], &graphErr) {
		t.Fatalf("Expected GraphError, got %T", result.Errors[0])
	}
	if graphErr.Code() != types.CodeGraphCycle {
		t.Errorf("Expected GRAPH_CYCLE, got %s", graphErr.Code())
	}
	if !strings.Contains(graphErr.Message, "→") {
		t.Errorf("Expected witness cycle in message, got %q", graphErr.Message)
	}
}

func TestBuild_UnknownRef(t *testing.T) {
	wf := workflowOf(
		types.TaskStep{ID: "t1", TaskRef: "a", Input: map[string]interface{}{"v": "{{tasks.ghost.output.v}}"}},
	)

	result := Build(wf)
	if result.Valid {
		t.Fatal("Expected invalid graph")
	}
	var graphErr *types.GraphError
	if !errors.As(result.Errors[0], &graphErr) || graphErr.Code() != types.CodeUnknownTaskRef {
		t.Errorf("Expected UNKNOWN_TASK_REF, got %v", result.Errors[0])
	}
}

func TestBuild_DuplicateID(t *testing.T) {
	wf := workflowOf(
		types.TaskStep{ID: "t1", TaskRef: "a"},
		types.TaskStep{ID: "t1", TaskRef: "b"},
	)

	result := Build(wf)
	if result.Valid {
		t.Fatal("Expected invalid graph")
	}
	var graphErr *types.GraphError
	if !errors.As(result.Errors[0], &graphErr) || graphErr.Code() != types.CodeDuplicateTaskID {
		t.Errorf("Expected DUPLICATE_TASK_ID, got %v", result.Errors[0])
	}
}

func TestBuild_InvalidStepVariants(t *testing.T) {
	both := workflowOf(types.TaskStep{ID: "t1", TaskRef: "a", WorkflowRef: "b"})
	if result := Build(both); result.Valid {
		t.Error("Expected invalid graph for step with both taskRef and workflowRef")
	}

	neither := workflowOf(types.TaskStep{ID: "t1"})
	if result := Build(neither); result.Valid {
		t.Error("Expected invalid graph for step with no variant")
	}
}

func TestBuild_ControlFlowDependencies(t *testing.T) {
	wf := workflowOf(
		types.TaskStep{ID: "t1", TaskRef: "a"},
		types.TaskStep{ID: "t2", TaskRef: "b", Condition: &types.Condition{If: "{{tasks.t1.output.ok}}"}},
		types.TaskStep{ID: "t3", ForEach: &types.ForEach{Items: "{{tasks.t1.output.items}}"}, TaskRef: "c"},
		types.TaskStep{ID: "t4", Switch: &types.Switch{Value: "{{tasks.t1.output.kind}}", Default: &types.SwitchCase{TaskRef: "d"}}},
	)

	result := Build(wf)
	if !result.Valid {
		t.Fatalf("Expected valid graph, got errors: %v", result.Errors)
	}
	for _, id := range []string{"t2", "t3", "t4"} {
		if result.Graph.Levels[id] != 1 {
			t.Errorf("Expected %s at level 1, got %d", id, result.Graph.Levels[id])
		}
	}
}

func TestBuild_EmptyWorkflow(t *testing.T) {
	result := Build(workflowOf())
	if !result.Valid {
		t.Fatalf("Expected empty workflow to build, got %v", result.Errors)
	}
	if len(result.Graph.Nodes) != 0 || len(result.Graph.ExecutionOrder) != 0 {
		t.Errorf("Expected empty graph, got %+v", result.Graph)
	}
}

func TestBuild_LevelConsistency(t *testing.T) {
	wf := workflowOf(
		types.TaskStep{ID: "a", TaskRef: "x"},
		types.TaskStep{ID: "b", TaskRef: "x", DependsOn: []string{"a"}},
		types.TaskStep{ID: "c", TaskRef: "x", DependsOn: []string{"a", "b"}},
		types.TaskStep{ID: "d", TaskRef: "x", DependsOn: []string{"c"}},
	)

	result := Build(wf)
	if !result.Valid {
		t.Fatalf("Expected valid graph, got %v", result.Errors)
	}
	for _, node := range result.Graph.Nodes {
		max := -1
		for _, dep := range node.DependsOn {
			if l := result.Graph.Levels[dep]; l > max {
				max = l
			}
		}
		if node.Level != max+1 {
			t.Errorf("Level invariant violated for %s: level=%d deps max=%d", node.ID, node.Level, max)
		}
	}
}
