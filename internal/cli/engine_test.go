// ABOUTME: Tests for CLI helper functions
// ABOUTME: Covers input flag parsing and workflow selection

package cli

import (
	"testing"
)

func TestParseInput_KeyValuePairs(t *testing.T) {
	input, err := parseInput([]string{"userId=u-42", "limit=10", "dryRun=true", "name=plain text"}, "")
	if err != nil {
		t.Fatalf("Expected parse, got %v", err)
	}
	if input["userId"] != "u-42" {
		t.Errorf("Expected string passthrough, got %v", input["userId"])
	}
	if input["limit"] != float64(10) {
		t.Errorf("Expected JSON number, got %T %v", input["limit"], input["limit"])
	}
	if input["dryRun"] != true {
		t.Errorf("Expected JSON bool, got %v", input["dryRun"])
	}
	if input["name"] != "plain text" {
		t.Errorf("Expected unparseable value kept as string, got %v", input["name"])
	}
}

func TestParseInput_JSONBodyWithOverrides(t *testing.T) {
	input, err := parseInput([]string{"region=eu"}, `{"region": "us", "limit": 5}`)
	if err != nil {
		t.Fatal(err)
	}
	if input["region"] != "eu" {
		t.Errorf("Expected flag to override JSON body, got %v", input["region"])
	}
	if input["limit"] != float64(5) {
		t.Errorf("Expected JSON body value, got %v", input["limit"])
	}
}

func TestParseInput_Invalid(t *testing.T) {
	if _, err := parseInput([]string{"no-equals"}, ""); err == nil {
		t.Error("Expected error for missing equals")
	}
	if _, err := parseInput(nil, "{broken"); err == nil {
		t.Error("Expected error for invalid JSON body")
	}
}
