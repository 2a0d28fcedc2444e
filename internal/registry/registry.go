// ABOUTME: In-memory registries for task definitions and workflow resources
// ABOUTME: Back the provider contracts used by the executor and ref resolver

package registry

import (
	"sort"
	"sync"

	"github.com/weftwork/weft/pkg/types"
)

// TaskRegistry holds registered task definitions by name
type TaskRegistry struct {
	mu   sync.RWMutex
	defs map[string]*types.TaskDefinition
}

// NewTaskRegistry creates an empty task registry
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{defs: make(map[string]*types.TaskDefinition)}
}

// Register adds or replaces a task definition
func (r *TaskRegistry) Register(def *types.TaskDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
}

// Lookup implements types.TaskDefinitionProvider
func (r *TaskRegistry) Lookup(name string) (*types.TaskDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.defs[name]; ok {
		return def, nil
	}
	return nil, &types.TaskNotFoundError{Name: name}
}

// Names returns registered task names sorted
func (r *TaskRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for name := range r.defs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// WorkflowRegistry holds registered workflow resources
type WorkflowRegistry struct {
	mu        sync.RWMutex
	workflows []*types.WorkflowResource
}

// NewWorkflowRegistry creates an empty workflow registry
func NewWorkflowRegistry() *WorkflowRegistry {
	return &WorkflowRegistry{}
}

// Register adds a workflow resource. Multiple versions of the same name may
// coexist; ref resolution disambiguates by version annotation.
func (r *WorkflowRegistry) Register(wf *types.WorkflowResource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows = append(r.workflows, wf)
}

// List implements types.WorkflowProvider
func (r *WorkflowRegistry) List(namespace string) []*types.WorkflowResource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*types.WorkflowResource
	for _, wf := range r.workflows {
		if namespace == "" || wf.Metadata.Namespace == namespace {
			out = append(out, wf)
		}
	}
	return out
}

// Find returns the first workflow with the given name in a namespace, or nil
func (r *WorkflowRegistry) Find(namespace, name string) *types.WorkflowResource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, wf := range r.workflows {
		if wf.Metadata.Name == name && (namespace == "" || wf.Metadata.Namespace == namespace) {
			return wf
		}
	}
	return nil
}
