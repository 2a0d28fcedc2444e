// ABOUTME: Tests for transform pipeline operators and the equivalence checker
// ABOUTME: Covers ordering guarantees, empty-input aggregates, and rewrite safety grades

package transform

import (
	"reflect"
	"testing"

	"github.com/weftwork/weft/pkg/types"
)

func sampleRows() []interface{} {
	return []interface{}{
		map[string]interface{}{"name": "alpha", "region": "us", "score": float64(40)},
		map[string]interface{}{"name": "beta", "region": "eu", "score": float64(90)},
		map[string]interface{}{"name": "gamma", "region": "us", "score": float64(70)},
		map[string]interface{}{"name": "delta", "region": "eu", "score": float64(90)},
	}
}

func run(t *testing.T, ops []types.TransformOp, input interface{}) interface{} {
	t.Helper()
	out, err := Run(ops, input)
	if err != nil {
		t.Fatalf("Expected pipeline to run, got %v", err)
	}
	return out
}

func names(t *testing.T, value interface{}) []string {
	t.Helper()
	seq, ok := value.([]interface{})
	if !ok {
		t.Fatalf("Expected sequence, got %T", value)
	}
	var out []string
	for _, row := range seq {
		out = append(out, row.(map[string]interface{})["name"].(string))
	}
	return out
}

func TestFilter(t *testing.T) {
	out := run(t, []types.TransformOp{
		{Op: "filter", Args: map[string]interface{}{"field": "score", "op": "gte", "value": float64(70)}},
	}, sampleRows())
	if got := names(t, out); !reflect.DeepEqual(got, []string{"beta", "gamma", "delta"}) {
		t.Errorf("Expected [beta gamma delta], got %v", got)
	}
}

func TestFilter_FusedConjunction(t *testing.T) {
	fused := FuseFilters(
		types.TransformOp{Op: "filter", Args: map[string]interface{}{"field": "region", "value": "us"}},
		types.TransformOp{Op: "filter", Args: map[string]interface{}{"field": "score", "op": "gt", "value": float64(50)}},
	)
	out := run(t, []types.TransformOp{fused}, sampleRows())
	if got := names(t, out); !reflect.DeepEqual(got, []string{"gamma"}) {
		t.Errorf("Expected [gamma], got %v", got)
	}
}

func TestMapAndSelect(t *testing.T) {
	out := run(t, []types.TransformOp{
		{Op: "map", Args: map[string]interface{}{"set": map[string]interface{}{
			"label": "$.name",
			"tier":  "standard",
		}}},
		{Op: "select", Args: map[string]interface{}{"fields": []interface{}{"label", "tier"}}},
	}, sampleRows())

	seq := out.([]interface{})
	first := seq[0].(map[string]interface{})
	if first["label"] != "alpha" || first["tier"] != "standard" || len(first) != 2 {
		t.Errorf("Expected selected {label alpha, tier standard}, got %v", first)
	}
}

func TestGroupBy_PreservesFirstSeenOrder(t *testing.T) {
	out := run(t, []types.TransformOp{
		{Op: "groupBy", Args: map[string]interface{}{"field": "region"}},
	}, sampleRows())

	seq := out.([]interface{})
	if len(seq) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(seq))
	}
	if seq[0].(map[string]interface{})["key"] != "us" || seq[1].(map[string]interface{})["key"] != "eu" {
		t.Errorf("Expected first-seen order [us eu], got %v", seq)
	}
	if items := seq[0].(map[string]interface{})["items"].([]interface{}); len(items) != 2 {
		t.Errorf("Expected 2 us rows, got %d", len(items))
	}
}

func TestAggregate(t *testing.T) {
	sum := run(t, []types.TransformOp{
		{Op: "aggregate", Args: map[string]interface{}{"op": "sum", "field": "score"}},
	}, sampleRows())
	if sum != float64(290) {
		t.Errorf("Expected sum 290, got %v", sum)
	}

	avg := run(t, []types.TransformOp{
		{Op: "aggregate", Args: map[string]interface{}{"op": "avg", "field": "score"}},
	}, sampleRows())
	if avg != float64(72.5) {
		t.Errorf("Expected avg 72.5, got %v", avg)
	}
}

func TestAggregate_EmptyInput(t *testing.T) {
	empty := []interface{}{}

	count := run(t, []types.TransformOp{{Op: "aggregate", Args: map[string]interface{}{"op": "count"}}}, empty)
	if count != float64(0) {
		t.Errorf("Expected count 0, got %v", count)
	}
	sum := run(t, []types.TransformOp{{Op: "aggregate", Args: map[string]interface{}{"op": "sum", "field": "score"}}}, empty)
	if sum != float64(0) {
		t.Errorf("Expected sum 0, got %v", sum)
	}
	for _, op := range []string{"min", "max", "avg"} {
		got := run(t, []types.TransformOp{{Op: "aggregate", Args: map[string]interface{}{"op": op, "field": "score"}}}, empty)
		if got != nil {
			t.Errorf("Expected %s of empty input to be nil, got %v", op, got)
		}
	}
}

func TestJoin(t *testing.T) {
	regions := []interface{}{
		map[string]interface{}{"code": "us", "label": "United States"},
		map[string]interface{}{"code": "eu", "label": "Europe"},
	}
	out := run(t, []types.TransformOp{
		{Op: "join", Args: map[string]interface{}{
			"with": regions, "leftField": "region", "rightField": "code",
		}},
	}, sampleRows())

	seq := out.([]interface{})
	if len(seq) != 4 {
		t.Fatalf("Expected 4 joined rows, got %d", len(seq))
	}
	if seq[0].(map[string]interface{})["label"] != "United States" {
		t.Errorf("Expected joined label, got %v", seq[0])
	}
}

func TestSortBy_Stable(t *testing.T) {
	out := run(t, []types.TransformOp{
		{Op: "sortBy", Args: map[string]interface{}{"field": "score", "order": "desc"}},
	}, sampleRows())
	// beta and delta tie at 90; stability keeps their input order.
	if got := names(t, out); !reflect.DeepEqual(got, []string{"beta", "delta", "gamma", "alpha"}) {
		t.Errorf("Expected stable desc order, got %v", got)
	}
}

func TestLimitSkipReverse(t *testing.T) {
	out := run(t, []types.TransformOp{
		{Op: "skip", Args: map[string]interface{}{"count": 1}},
		{Op: "limit", Args: map[string]interface{}{"count": 2}},
		{Op: "reverse"},
	}, sampleRows())
	if got := names(t, out); !reflect.DeepEqual(got, []string{"gamma", "beta"}) {
		t.Errorf("Expected [gamma beta], got %v", got)
	}
}

func TestFlatMap(t *testing.T) {
	input := []interface{}{
		map[string]interface{}{"team": "core", "members": []interface{}{
			map[string]interface{}{"name": "ann"},
			map[string]interface{}{"name": "bo"},
		}},
	}
	out := run(t, []types.TransformOp{
		{Op: "flatMap", Args: map[string]interface{}{"field": "members"}},
	}, input)

	seq := out.([]interface{})
	if len(seq) != 2 {
		t.Fatalf("Expected 2 expanded rows, got %d", len(seq))
	}
	first := seq[0].(map[string]interface{})
	if first["team"] != "core" || first["name"] != "ann" {
		t.Errorf("Expected merged parent fields, got %v", first)
	}
}

func TestEnrichUniqueFirst(t *testing.T) {
	out := run(t, []types.TransformOp{
		{Op: "enrich", Args: map[string]interface{}{"fields": map[string]interface{}{"source": "weft"}}},
		{Op: "unique", Args: map[string]interface{}{"field": "region"}},
		{Op: "first"},
	}, sampleRows())

	row, ok := out.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected single row, got %T", out)
	}
	if row["name"] != "alpha" || row["source"] != "weft" {
		t.Errorf("Expected enriched first unique row, got %v", row)
	}
}

func TestScaleRoundTrimUppercase(t *testing.T) {
	input := []interface{}{
		map[string]interface{}{"name": "  ada  ", "price": float64(3.14159)},
	}
	out := run(t, []types.TransformOp{
		{Op: "scale", Args: map[string]interface{}{"field": "price", "factor": float64(2)}},
		{Op: "round", Args: map[string]interface{}{"field": "price", "precision": 2}},
		{Op: "trim", Args: map[string]interface{}{"field": "name"}},
		{Op: "uppercase", Args: map[string]interface{}{"field": "name"}},
	}, input)

	row := out.([]interface{})[0].(map[string]interface{})
	if row["price"] != float64(6.28) {
		t.Errorf("Expected 6.28, got %v", row["price"])
	}
	if row["name"] != "ADA" {
		t.Errorf("Expected ADA, got %v", row["name"])
	}
}

func TestRandomOne_SeededReproducibility(t *testing.T) {
	ops := []types.TransformOp{{Op: "randomOne", Args: map[string]interface{}{"seed": 42}}}
	first := run(t, ops, sampleRows())
	second := run(t, ops, sampleRows())
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Expected identical picks for identical seeds, got %v vs %v", first, second)
	}
}

func TestRun_UnknownOperator(t *testing.T) {
	_, err := Run([]types.TransformOp{{Op: "teleport"}}, sampleRows())
	if err == nil {
		t.Fatal("Expected error for unknown operator")
	}
	if types.CodeOf(err) != types.CodeTaskFailed {
		t.Errorf("Expected TASK_FAILED, got %s", types.CodeOf(err))
	}
}

func TestCheck_Rules(t *testing.T) {
	filter := types.TransformOp{Op: "filter", Args: map[string]interface{}{"field": "region", "value": "us"}}
	mapSafe := types.TransformOp{Op: "map", Args: map[string]interface{}{"set": map[string]interface{}{"label": "$.name"}}}
	mapClobber := types.TransformOp{Op: "map", Args: map[string]interface{}{"set": map[string]interface{}{"region": "all"}}}
	limit := types.TransformOp{Op: "limit", Args: map[string]interface{}{"count": 1}}

	tests := []struct {
		name       string
		a, b       types.TransformOp
		equivalent bool
		safety     Safety
	}{
		{"filter fusion", filter, filter, true, Safe},
		{"map composition", mapSafe, mapSafe, true, Safe},
		{"select composition",
			types.TransformOp{Op: "select"}, types.TransformOp{Op: "select"}, true, Safe},
		{"filter map disjoint", filter, mapSafe, true, Conditional},
		{"filter map clobbered", filter, mapClobber, false, Unsafe},
		{"limit filter", limit, filter, false, Unsafe},
		{"limit map", limit, mapSafe, true, Safe},
		{"no rule", limit, types.TransformOp{Op: "groupBy"}, false, Unsafe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Check(tt.a, tt.b)
			if got.Equivalent != tt.equivalent || got.Safety != tt.safety {
				t.Errorf("Expected equivalent=%v safety=%s, got %+v", tt.equivalent, tt.safety, got)
			}
			if got.Proof == "" {
				t.Error("Expected a proof sketch")
			}
		})
	}
}

func TestOptimize_FusesAdjacentFilters(t *testing.T) {
	ops := []types.TransformOp{
		{Op: "filter", Args: map[string]interface{}{"field": "region", "value": "us"}},
		{Op: "filter", Args: map[string]interface{}{"field": "score", "op": "gt", "value": float64(50)}},
		{Op: "limit", Args: map[string]interface{}{"count": 10}},
	}
	optimized := Optimize(ops)
	if len(optimized) != 2 {
		t.Fatalf("Expected 2 ops after fusion, got %d", len(optimized))
	}
	if optimized[0].Op != "filter" || optimized[1].Op != "limit" {
		t.Errorf("Expected [filter limit], got %v", optimized)
	}

	before := run(t, ops, sampleRows())
	after := run(t, optimized, sampleRows())
	if !reflect.DeepEqual(before, after) {
		t.Errorf("Expected fused pipeline to match original, got %v vs %v", after, before)
	}
}
