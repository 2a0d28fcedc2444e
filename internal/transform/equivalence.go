// ABOUTME: Algebraic equivalence checks over adjacent transform operators
// ABOUTME: Classifies rewrites as Safe, Conditional, or Unsafe with a proof sketch

package transform

import (
	"fmt"

	"github.com/weftwork/weft/pkg/types"
)

// Safety grades how trustworthy a rewrite is
type Safety string

const (
	Safe        Safety = "Safe"
	Conditional Safety = "Conditional"
	Unsafe      Safety = "Unsafe"
)

// Result is the verdict for one candidate rewrite
type Result struct {
	Equivalent bool   `json:"equivalent"`
	Safety     Safety `json:"safety"`
	Proof      string `json:"proof"`
	Warning    string `json:"warning,omitempty"`
}

// Check evaluates whether swapping or fusing two adjacent operators preserves
// pipeline semantics
func Check(a, b types.TransformOp) Result {
	switch {
	case a.Op == "filter" && b.Op == "filter":
		return Result{
			Equivalent: true,
			Safety:     Safe,
			Proof:      "filter fusion: filter(A); filter(B) = filter(A and B)",
		}
	case a.Op == "map" && b.Op == "map":
		return Result{
			Equivalent: true,
			Safety:     Safe,
			Proof:      "map composition: map(f); map(g) = map(g after f)",
		}
	case a.Op == "select" && b.Op == "select":
		return Result{
			Equivalent: true,
			Safety:     Safe,
			Proof:      "select composition narrows to the field intersection",
		}
	case (a.Op == "filter" && b.Op == "map") || (a.Op == "map" && b.Op == "filter"):
		return checkFilterMap(a, b)
	case a.Op == "limit" && b.Op == "filter", a.Op == "filter" && b.Op == "limit":
		return Result{
			Equivalent: false,
			Safety:     Unsafe,
			Proof:      "limit and filter do not commute: limit truncates before the predicate runs",
			Warning:    "reordering changes which rows survive",
		}
	case a.Op == "limit" && b.Op == "map", a.Op == "map" && b.Op == "limit":
		return Result{
			Equivalent: true,
			Safety:     Safe,
			Proof:      "limit and map commute: map is per-row and preserves order",
		}
	}
	return Result{
		Equivalent: false,
		Safety:     Unsafe,
		Proof:      fmt.Sprintf("no rule for %s/%s", a.Op, b.Op),
	}
}

// checkFilterMap decides whether a filter may cross a map. Safe when the
// filter predicate reads a field the map does not produce.
func checkFilterMap(a, b types.TransformOp) Result {
	filterOp, mapOp := a, b
	if a.Op == "map" {
		filterOp, mapOp = b, a
	}

	field := filterField(filterOp)
	if field == "" {
		return Result{
			Equivalent: false,
			Safety:     Unsafe,
			Proof:      "filter predicate field is unknown",
		}
	}
	for _, produced := range producedFields(mapOp) {
		if produced == field {
			return Result{
				Equivalent: false,
				Safety:     Unsafe,
				Proof:      fmt.Sprintf("filter reads '%s' which the map produces", field),
				Warning:    "predicate would observe pre-map values after the swap",
			}
		}
	}
	return Result{
		Equivalent: true,
		Safety:     Conditional,
		Proof:      fmt.Sprintf("filter field '%s' is not produced by the map", field),
		Warning:    "holds only while the map's assignments keep the field untouched",
	}
}

// FuseFilters combines two filter operators into one conjunction
func FuseFilters(a, b types.TransformOp) types.TransformOp {
	return types.TransformOp{
		Op: "filter",
		Args: map[string]interface{}{
			"all": []interface{}{a.Args, b.Args},
		},
	}
}

// Optimize applies the always-safe fusions over a pipeline. Conditional and
// unsafe rewrites are left to the caller.
func Optimize(ops []types.TransformOp) []types.TransformOp {
	if len(ops) < 2 {
		return ops
	}
	out := make([]types.TransformOp, 0, len(ops))
	for _, op := range ops {
		if len(out) > 0 {
			last := out[len(out)-1]
			if last.Op == "filter" && op.Op == "filter" {
				out[len(out)-1] = FuseFilters(last, op)
				continue
			}
		}
		out = append(out, op)
	}
	return out
}

func filterField(op types.TransformOp) string {
	if s, ok := op.Args["field"].(string); ok {
		return s
	}
	return ""
}

func producedFields(op types.TransformOp) []string {
	assignments, _ := op.Args["set"].(map[string]interface{})
	out := make([]string, 0, len(assignments))
	for field := range assignments {
		out = append(out, field)
	}
	return out
}
