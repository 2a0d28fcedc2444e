// ABOUTME: Template resolver for {{...}} placeholder expressions over an execution context
// ABOUTME: Supports input/tasks/env/item/parent roots, typed whole-string results, and preview mode

package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/weftwork/weft/pkg/types"
)

// part is one lexed segment of a template string: literal text or an expression
type part struct {
	expr    bool
	content string
}

// Resolver renders template strings against an execution context. It is pure:
// the same context always yields the same output. Parsed templates are cached
// by string identity for hot paths.
type Resolver struct {
	cache sync.Map // template string -> []part
}

// New creates a new template resolver
func New() *Resolver {
	return &Resolver{}
}

// Resolve renders a template string. When the entire input is a single
// placeholder the underlying value keeps its native type; otherwise the
// result is a string with null lookups rendered as the literal word "null".
func (r *Resolver) Resolve(tmpl string, ec *types.ExecutionContext) (interface{}, error) {
	parts, err := r.parse(tmpl)
	if err != nil {
		return nil, err
	}
	if len(parts) == 1 && !parts[0].expr {
		return parts[0].content, nil
	}
	if len(parts) == 1 && parts[0].expr {
		return r.eval(parts[0].content, ec)
	}

	var sb strings.Builder
	for _, p := range parts {
		if !p.expr {
			sb.WriteString(p.content)
			continue
		}
		value, err := r.eval(p.content, ec)
		if err != nil {
			return nil, err
		}
		sb.WriteString(stringify(value))
	}
	return sb.String(), nil
}

// ResolveString renders a template and coerces the result to a string
func (r *Resolver) ResolveString(tmpl string, ec *types.ExecutionContext) (string, error) {
	value, err := r.Resolve(tmpl, ec)
	if err != nil {
		return "", err
	}
	return stringify(value), nil
}

// ResolveValue recursively renders every template string in a nested value
func (r *Resolver) ResolveValue(value interface{}, ec *types.ExecutionContext) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return r.Resolve(v, ec)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			resolved, err := r.ResolveValue(val, ec)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve key '%s': %w", key, err)
			}
			out[key] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			resolved, err := r.ResolveValue(val, ec)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve index %d: %w", i, err)
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

// ResolveMap renders every template string in an input map
func (r *Resolver) ResolveMap(input map[string]interface{}, ec *types.ExecutionContext) (map[string]interface{}, error) {
	resolved, err := r.ResolveValue(input, ec)
	if err != nil {
		return nil, err
	}
	if resolved == nil {
		return map[string]interface{}{}, nil
	}
	return resolved.(map[string]interface{}), nil
}

// Preview renders a template for validation and dry runs. Unresolved task
// references become deterministic placeholders and misses become <null>;
// Preview never fails.
func (r *Resolver) Preview(tmpl string, ec *types.ExecutionContext) string {
	parts, err := r.parse(tmpl)
	if err != nil {
		return tmpl
	}
	var sb strings.Builder
	for _, p := range parts {
		if !p.expr {
			sb.WriteString(p.content)
			continue
		}
		sb.WriteString(r.previewExpr(p.content, ec))
	}
	return sb.String()
}

// parse lexes a template string into literal and expression parts
func (r *Resolver) parse(tmpl string) ([]part, error) {
	if cached, ok := r.cache.Load(tmpl); ok {
		return cached.([]part), nil
	}

	var parts []part
	rest := tmpl
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			break
		}
		closing := strings.Index(rest[open:], "}}")
		if closing < 0 {
			return nil, types.NewTemplateError(tmpl, "unterminated placeholder", nil)
		}
		if open > 0 {
			parts = append(parts, part{content: rest[:open]})
		}
		expr := strings.TrimSpace(rest[open+2 : open+closing])
		if expr == "" {
			return nil, types.NewTemplateError(tmpl, "empty placeholder", nil)
		}
		parts = append(parts, part{expr: true, content: expr})
		rest = rest[open+closing+2:]
	}
	if rest != "" || len(parts) == 0 {
		parts = append(parts, part{content: rest})
	}

	r.cache.Store(tmpl, parts)
	return parts, nil
}

// eval resolves a single path expression against the context
func (r *Resolver) eval(expr string, ec *types.ExecutionContext) (interface{}, error) {
	root, rest := splitRoot(expr)

	switch root {
	case "input":
		return lookup(ec.Input, rest), nil

	case "tasks":
		id, sub := splitRoot(rest)
		if id == "" {
			return nil, types.NewTemplateError(expr, "task reference is missing a task id", nil)
		}
		outcome, ok := ec.Tasks[id]
		if !ok || outcome.Skipped {
			// Skipped or absent predecessors resolve to null downstream.
			return nil, nil
		}
		field, path := splitRoot(sub)
		switch field {
		case "output":
			return lookup(outcome.Output, path), nil
		case "success":
			return outcome.Success, nil
		case "error":
			if outcome.Error == "" {
				return nil, nil
			}
			return outcome.Error, nil
		default:
			return nil, nil
		}

	case "env":
		if value, ok := ec.Env[rest]; ok {
			return value, nil
		}
		return nil, nil

	case "item":
		if ec.Loop == nil {
			return nil, types.NewTemplateError(expr, "item is only bound inside forEach", nil)
		}
		return lookup(ec.Loop.Item, rest), nil

	case "index":
		if ec.Loop == nil {
			return nil, types.NewTemplateError(expr, "index is only bound inside forEach", nil)
		}
		return ec.Loop.Index, nil

	case "parent":
		if ec.Parent == nil {
			return nil, types.NewTemplateError(expr, "parent is only bound inside a sub-workflow", nil)
		}
		field, path := splitRoot(rest)
		if field != "output" {
			return nil, types.NewTemplateError(expr, fmt.Sprintf("unknown parent field '%s'", field), nil)
		}
		// parent.output.<taskID>.<path> reaches the invoking workflow's
		// accumulated task outputs at the time of the sub-workflow call.
		taskID, sub := splitRoot(path)
		outcome, ok := ec.Parent.Tasks[taskID]
		if !ok {
			return nil, nil
		}
		return lookup(outcome.Output, sub), nil

	default:
		if ec.Loop != nil && ec.Loop.Var != "" && root == ec.Loop.Var {
			return lookup(ec.Loop.Item, rest), nil
		}
		return nil, types.NewTemplateError(expr, fmt.Sprintf("unknown template root '%s'", root), nil)
	}
}

// previewExpr renders one expression in preview mode; it never fails
func (r *Resolver) previewExpr(expr string, ec *types.ExecutionContext) string {
	root, rest := splitRoot(expr)
	switch root {
	case "tasks":
		id, sub := splitRoot(rest)
		return fmt.Sprintf("<will-resolve-from-%s.%s>", id, sub)
	case "input":
		if value := lookup(ec.Input, rest); value != nil {
			return stringify(value)
		}
		return "<null>"
	case "env":
		if value, ok := ec.Env[rest]; ok {
			return value
		}
		return "<null>"
	default:
		value, err := r.eval(expr, ec)
		if err != nil || value == nil {
			return "<null>"
		}
		return stringify(value)
	}
}

// splitRoot splits "a.b.c" into "a" and "b.c". Bracket indices attach to the
// root segment only when they precede the first dot.
func splitRoot(path string) (string, string) {
	if path == "" {
		return "", ""
	}
	dot := strings.IndexByte(path, '.')
	bracket := strings.IndexByte(path, '[')
	if bracket >= 0 && (dot < 0 || bracket < dot) {
		return path[:bracket], path[bracket:]
	}
	if dot < 0 {
		return path, ""
	}
	return path[:dot], path[dot+1:]
}

// lookup walks a dotted path (with bracket indices) into an arbitrary value.
// A miss at any segment yields nil.
func lookup(value interface{}, path string) interface{} {
	if value == nil {
		return nil
	}
	if path == "" {
		return value
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	result := gjson.GetBytes(data, toGJSONPath(path))
	if !result.Exists() {
		return nil
	}
	return result.Value()
}

// toGJSONPath rewrites bracket indices ("items[0].name") into gjson dot
// syntax ("items.0.name")
func toGJSONPath(path string) string {
	if !strings.ContainsAny(path, "[]") {
		return path
	}
	var sb strings.Builder
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '[':
			if sb.Len() > 0 {
				sb.WriteByte('.')
			}
		case ']':
			if i+1 < len(path) && path[i+1] == '.' {
				i++ // collapse "].", the dot is re-added by '['
				sb.WriteByte('.')
			}
		default:
			sb.WriteByte(path[i])
		}
	}
	return strings.Trim(sb.String(), ".")
}

// stringify renders a resolved value for string interpolation
func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// Truthy applies standard JSON truthiness: false, null, 0, "", [], {} are falsey
func Truthy(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case []interface{}:
		return len(v) > 0
	case map[string]interface{}:
		return len(v) > 0
	default:
		return true
	}
}
