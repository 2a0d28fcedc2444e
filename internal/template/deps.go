// ABOUTME: Dependency extractor that derives task-to-task edges from template references
// ABOUTME: Scans step inputs and control-flow expressions for tasks.<id> references

package template

import (
	"regexp"
	"sort"

	"github.com/weftwork/weft/pkg/types"
)

var taskRefPattern = regexp.MustCompile(`\{\{\s*tasks\.([A-Za-z0-9_][A-Za-z0-9_-]*)`)

// ExtractRefs returns the task ids referenced by template expressions inside
// a single string. Extraction is purely syntactic; nothing is evaluated.
func ExtractRefs(tmpl string) []string {
	matches := taskRefPattern.FindAllStringSubmatch(tmpl, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	var refs []string
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		refs = append(refs, m[1])
	}
	return refs
}

// StepDependencies returns the full dependency set of a step: implicit
// template references from its inputs and control-flow expressions, unioned
// with explicit dependsOn. The result is sorted for deterministic graphs.
func StepDependencies(step *types.TaskStep) []string {
	set := make(map[string]struct{})

	for _, dep := range step.DependsOn {
		set[dep] = struct{}{}
	}
	collectValueRefs(step.Input, set)
	if step.Condition != nil {
		addRefs(step.Condition.If, set)
	}
	if step.Switch != nil {
		addRefs(step.Switch.Value, set)
	}
	if step.ForEach != nil {
		addRefs(step.ForEach.Items, set)
	}

	deps := make([]string, 0, len(set))
	for dep := range set {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps
}

func addRefs(tmpl string, set map[string]struct{}) {
	for _, ref := range ExtractRefs(tmpl) {
		set[ref] = struct{}{}
	}
}

func collectValueRefs(value interface{}, set map[string]struct{}) {
	switch v := value.(type) {
	case string:
		addRefs(v, set)
	case map[string]interface{}:
		for _, val := range v {
			collectValueRefs(val, set)
		}
	case []interface{}:
		for _, val := range v {
			collectValueRefs(val, set)
		}
	}
}
