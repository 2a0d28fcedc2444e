// ABOUTME: Declarative data transform pipeline with typed row operators
// ABOUTME: Executes filter/map/select/groupBy/aggregate and friends over JSON-like rows

package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/weftwork/weft/pkg/types"
)

// Run applies each operator in order. Rows are JSON-like values; most
// operators expect a sequence of objects. Aggregate and first collapse the
// sequence into a scalar, ending the pipeline's row shape.
func Run(ops []types.TransformOp, input interface{}) (interface{}, error) {
	current := input
	for i, op := range ops {
		next, err := apply(op, current)
		if err != nil {
			return nil, types.NewTaskError(types.CodeTaskFailed, "", "",
				fmt.Sprintf("transform step %d (%s) failed", i, op.Op), err)
		}
		current = next
	}
	return current, nil
}

func apply(op types.TransformOp, input interface{}) (interface{}, error) {
	switch op.Op {
	case "filter":
		return applyFilter(op.Args, input)
	case "map":
		return applyMap(op.Args, input)
	case "select":
		return applySelect(op.Args, input)
	case "groupBy":
		return applyGroupBy(op.Args, input)
	case "aggregate":
		return applyAggregate(op.Args, input)
	case "join":
		return applyJoin(op.Args, input)
	case "sortBy":
		return applySortBy(op.Args, input)
	case "limit":
		return applyLimit(op.Args, input)
	case "skip":
		return applySkip(op.Args, input)
	case "flatMap":
		return applyFlatMap(op.Args, input)
	case "enrich":
		return applyEnrich(op.Args, input)
	case "reverse":
		return applyReverse(input)
	case "unique":
		return applyUnique(op.Args, input)
	case "first":
		return applyFirst(input)
	case "scale":
		return applyScale(op.Args, input)
	case "round":
		return applyRound(op.Args, input)
	case "trim":
		return applyFieldString(op.Args, input, strings.TrimSpace)
	case "uppercase":
		return applyFieldString(op.Args, input, strings.ToUpper)
	case "randomOne":
		return applyRandomOne(op.Args, input)
	default:
		return nil, fmt.Errorf("unknown operator '%s'", op.Op)
	}
}

// rows coerces the pipeline value into a sequence
func rows(input interface{}) ([]interface{}, error) {
	if input == nil {
		return nil, nil
	}
	if seq, ok := input.([]interface{}); ok {
		return seq, nil
	}
	return nil, fmt.Errorf("expected a sequence, got %T", input)
}

func rowMap(row interface{}) map[string]interface{} {
	if m, ok := row.(map[string]interface{}); ok {
		return m
	}
	return nil
}

func copyRow(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// fieldValue looks up a dotted path inside a row
func fieldValue(row interface{}, path string) interface{} {
	if !strings.Contains(path, ".") {
		if m := rowMap(row); m != nil {
			return m[path]
		}
		return nil
	}
	encoded, err := json.Marshal(row)
	if err != nil {
		return nil
	}
	result := gjson.GetBytes(encoded, path)
	if !result.Exists() {
		return nil
	}
	return result.Value()
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case gjson.Result:
		return n.Float(), true
	}
	return 0, false
}

func stringArg(args map[string]interface{}, key string) string {
	if s, ok := args[key].(string); ok {
		return s
	}
	return ""
}

func intArg(args map[string]interface{}, key string, fallback int) int {
	switch n := args[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return fallback
}

func applyFilter(args map[string]interface{}, input interface{}) (interface{}, error) {
	seq, err := rows(input)
	if err != nil {
		return nil, err
	}
	// Fused filters carry a conjunction under "all".
	conditions := []map[string]interface{}{args}
	if all, ok := args["all"].([]interface{}); ok {
		conditions = conditions[:0]
		for _, c := range all {
			if cm, ok := c.(map[string]interface{}); ok {
				conditions = append(conditions, cm)
			}
		}
	}

	out := make([]interface{}, 0, len(seq))
	for _, row := range seq {
		keep := true
		for _, cond := range conditions {
			if !matches(cond, row) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, row)
		}
	}
	return out, nil
}

func matches(cond map[string]interface{}, row interface{}) bool {
	field := stringArg(cond, "field")
	operator := stringArg(cond, "op")
	if operator == "" {
		operator = "eq"
	}
	want := cond["value"]
	got := fieldValue(row, field)

	switch operator {
	case "eq":
		return equalValues(got, want)
	case "ne":
		return !equalValues(got, want)
	case "gt", "gte", "lt", "lte":
		a, okA := toFloat(got)
		b, okB := toFloat(want)
		if !okA || !okB {
			return false
		}
		switch operator {
		case "gt":
			return a > b
		case "gte":
			return a >= b
		case "lt":
			return a < b
		default:
			return a <= b
		}
	case "contains":
		s, okS := got.(string)
		sub, okSub := want.(string)
		return okS && okSub && strings.Contains(s, sub)
	case "in":
		options, ok := want.([]interface{})
		if !ok {
			return false
		}
		for _, option := range options {
			if equalValues(got, option) {
				return true
			}
		}
		return false
	case "exists":
		return got != nil
	}
	return false
}

func equalValues(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// applyMap rewrites each row by the "set" assignments. Values starting with
// "$." copy from the source row; anything else is a literal.
func applyMap(args map[string]interface{}, input interface{}) (interface{}, error) {
	seq, err := rows(input)
	if err != nil {
		return nil, err
	}
	assignments, _ := args["set"].(map[string]interface{})

	out := make([]interface{}, 0, len(seq))
	for _, row := range seq {
		m := rowMap(row)
		if m == nil {
			out = append(out, row)
			continue
		}
		next := copyRow(m)
		for target, spec := range assignments {
			if path, ok := spec.(string); ok && strings.HasPrefix(path, "$.") {
				next[target] = fieldValue(row, strings.TrimPrefix(path, "$."))
				continue
			}
			next[target] = spec
		}
		out = append(out, next)
	}
	return out, nil
}

func applySelect(args map[string]interface{}, input interface{}) (interface{}, error) {
	seq, err := rows(input)
	if err != nil {
		return nil, err
	}
	var fields []string
	if raw, ok := args["fields"].([]interface{}); ok {
		for _, f := range raw {
			if s, ok := f.(string); ok {
				fields = append(fields, s)
			}
		}
	}

	out := make([]interface{}, 0, len(seq))
	for _, row := range seq {
		m := rowMap(row)
		if m == nil {
			out = append(out, row)
			continue
		}
		next := make(map[string]interface{}, len(fields))
		for _, field := range fields {
			if v, ok := m[field]; ok {
				next[field] = v
			}
		}
		out = append(out, next)
	}
	return out, nil
}

// applyGroupBy emits {key, items} rows preserving first-seen group order
func applyGroupBy(args map[string]interface{}, input interface{}) (interface{}, error) {
	seq, err := rows(input)
	if err != nil {
		return nil, err
	}
	field := stringArg(args, "field")

	var order []string
	groups := make(map[string][]interface{})
	for _, row := range seq {
		key := fmt.Sprintf("%v", fieldValue(row, field))
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}

	out := make([]interface{}, 0, len(order))
	for _, key := range order {
		out = append(out, map[string]interface{}{
			"key":   key,
			"items": groups[key],
		})
	}
	return out, nil
}

func applyAggregate(args map[string]interface{}, input interface{}) (interface{}, error) {
	seq, err := rows(input)
	if err != nil {
		return nil, err
	}
	operator := stringArg(args, "op")
	field := stringArg(args, "field")

	if operator == "count" {
		return float64(len(seq)), nil
	}

	var values []float64
	for _, row := range seq {
		if n, ok := toFloat(fieldValue(row, field)); ok {
			values = append(values, n)
		}
	}

	switch operator {
	case "sum":
		total := 0.0
		for _, v := range values {
			total += v
		}
		return total, nil
	case "min", "max", "avg":
		if len(values) == 0 {
			return nil, nil
		}
		switch operator {
		case "min":
			least := values[0]
			for _, v := range values[1:] {
				if v < least {
					least = v
				}
			}
			return least, nil
		case "max":
			most := values[0]
			for _, v := range values[1:] {
				if v > most {
					most = v
				}
			}
			return most, nil
		default:
			total := 0.0
			for _, v := range values {
				total += v
			}
			return total / float64(len(values)), nil
		}
	}
	return nil, fmt.Errorf("unknown aggregate op '%s'", operator)
}

// applyJoin merges rows with a right-hand sequence on matching key fields.
// kind "left" keeps unmatched left rows; default is inner.
func applyJoin(args map[string]interface{}, input interface{}) (interface{}, error) {
	seq, err := rows(input)
	if err != nil {
		return nil, err
	}
	right, _ := args["with"].([]interface{})
	leftField := stringArg(args, "leftField")
	rightField := stringArg(args, "rightField")
	kind := stringArg(args, "kind")

	index := make(map[string]map[string]interface{}, len(right))
	for _, row := range right {
		if m := rowMap(row); m != nil {
			index[fmt.Sprintf("%v", m[rightField])] = m
		}
	}

	var out []interface{}
	for _, row := range seq {
		m := rowMap(row)
		if m == nil {
			continue
		}
		match, ok := index[fmt.Sprintf("%v", m[leftField])]
		if !ok {
			if kind == "left" {
				out = append(out, row)
			}
			continue
		}
		merged := copyRow(m)
		for k, v := range match {
			if _, exists := merged[k]; !exists {
				merged[k] = v
			}
		}
		out = append(out, merged)
	}
	return out, nil
}

func applySortBy(args map[string]interface{}, input interface{}) (interface{}, error) {
	seq, err := rows(input)
	if err != nil {
		return nil, err
	}
	field := stringArg(args, "field")
	descending := stringArg(args, "order") == "desc"

	out := append([]interface{}{}, seq...)
	sort.SliceStable(out, func(i, j int) bool {
		a := fieldValue(out[i], field)
		b := fieldValue(out[j], field)
		var less bool
		if fa, ok := toFloat(a); ok {
			fb, _ := toFloat(b)
			less = fa < fb
		} else {
			less = fmt.Sprintf("%v", a) < fmt.Sprintf("%v", b)
		}
		if descending {
			return !less && !equalValues(a, b)
		}
		return less
	})
	return out, nil
}

func applyLimit(args map[string]interface{}, input interface{}) (interface{}, error) {
	seq, err := rows(input)
	if err != nil {
		return nil, err
	}
	count := intArg(args, "count", len(seq))
	if count < 0 {
		count = 0
	}
	if count > len(seq) {
		count = len(seq)
	}
	return append([]interface{}{}, seq[:count]...), nil
}

func applySkip(args map[string]interface{}, input interface{}) (interface{}, error) {
	seq, err := rows(input)
	if err != nil {
		return nil, err
	}
	count := intArg(args, "count", 0)
	if count < 0 {
		count = 0
	}
	if count > len(seq) {
		count = len(seq)
	}
	return append([]interface{}{}, seq[count:]...), nil
}

// applyFlatMap expands the array under a field into one row per element.
// Object elements merge with the parent row minus the expanded field.
func applyFlatMap(args map[string]interface{}, input interface{}) (interface{}, error) {
	seq, err := rows(input)
	if err != nil {
		return nil, err
	}
	field := stringArg(args, "field")

	var out []interface{}
	for _, row := range seq {
		m := rowMap(row)
		if m == nil {
			out = append(out, row)
			continue
		}
		elements, ok := m[field].([]interface{})
		if !ok {
			continue
		}
		for _, element := range elements {
			if inner := rowMap(element); inner != nil {
				merged := copyRow(m)
				delete(merged, field)
				for k, v := range inner {
					merged[k] = v
				}
				out = append(out, merged)
				continue
			}
			out = append(out, element)
		}
	}
	return out, nil
}

// applyEnrich adds constant fields to every row
func applyEnrich(args map[string]interface{}, input interface{}) (interface{}, error) {
	seq, err := rows(input)
	if err != nil {
		return nil, err
	}
	extra, _ := args["fields"].(map[string]interface{})

	out := make([]interface{}, 0, len(seq))
	for _, row := range seq {
		m := rowMap(row)
		if m == nil {
			out = append(out, row)
			continue
		}
		next := copyRow(m)
		for k, v := range extra {
			next[k] = v
		}
		out = append(out, next)
	}
	return out, nil
}

func applyReverse(input interface{}) (interface{}, error) {
	seq, err := rows(input)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, len(seq))
	for i, row := range seq {
		out[len(seq)-1-i] = row
	}
	return out, nil
}

// applyUnique keeps the first row per key. Without a field arg the whole
// row's rendering is the key.
func applyUnique(args map[string]interface{}, input interface{}) (interface{}, error) {
	seq, err := rows(input)
	if err != nil {
		return nil, err
	}
	field := stringArg(args, "field")

	seen := make(map[string]bool, len(seq))
	var out []interface{}
	for _, row := range seq {
		var key string
		if field != "" {
			key = fmt.Sprintf("%v", fieldValue(row, field))
		} else {
			key = fmt.Sprintf("%v", row)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, row)
	}
	return out, nil
}

func applyFirst(input interface{}) (interface{}, error) {
	seq, err := rows(input)
	if err != nil {
		return nil, err
	}
	if len(seq) == 0 {
		return nil, nil
	}
	return seq[0], nil
}

func applyScale(args map[string]interface{}, input interface{}) (interface{}, error) {
	factor, ok := toFloat(args["factor"])
	if !ok {
		return nil, fmt.Errorf("scale requires a numeric factor")
	}
	return mapNumericField(args, input, func(v float64) float64 { return v * factor })
}

func applyRound(args map[string]interface{}, input interface{}) (interface{}, error) {
	precision := intArg(args, "precision", 0)
	shift := math.Pow(10, float64(precision))
	return mapNumericField(args, input, func(v float64) float64 {
		return math.Round(v*shift) / shift
	})
}

func mapNumericField(args map[string]interface{}, input interface{}, fn func(float64) float64) (interface{}, error) {
	seq, err := rows(input)
	if err != nil {
		return nil, err
	}
	field := stringArg(args, "field")

	out := make([]interface{}, 0, len(seq))
	for _, row := range seq {
		m := rowMap(row)
		if m == nil {
			out = append(out, row)
			continue
		}
		next := copyRow(m)
		if v, ok := toFloat(next[field]); ok {
			next[field] = fn(v)
		}
		out = append(out, next)
	}
	return out, nil
}

func applyFieldString(args map[string]interface{}, input interface{}, fn func(string) string) (interface{}, error) {
	seq, err := rows(input)
	if err != nil {
		return nil, err
	}
	field := stringArg(args, "field")

	out := make([]interface{}, 0, len(seq))
	for _, row := range seq {
		m := rowMap(row)
		if m == nil {
			out = append(out, row)
			continue
		}
		next := copyRow(m)
		if s, ok := next[field].(string); ok {
			next[field] = fn(s)
		}
		out = append(out, next)
	}
	return out, nil
}

// applyRandomOne selects one row with a seeded generator for reproducibility
func applyRandomOne(args map[string]interface{}, input interface{}) (interface{}, error) {
	seq, err := rows(input)
	if err != nil {
		return nil, err
	}
	if len(seq) == 0 {
		return nil, nil
	}
	seed := int64(intArg(args, "seed", 0))
	rng := rand.New(rand.NewSource(seed))
	return seq[rng.Intn(len(seq))], nil
}
