// ABOUTME: Plan command rendering the dry-run execution plan of a workflow
// ABOUTME: Shows levels, parallel groups, and resolved input previews

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	planDefs      []string
	planWorkflow  string
	planInputs    []string
	planInputJSON string
)

// planCmd represents the plan command
var planCmd = &cobra.Command{
	Use:   "plan [definitions.yaml...]",
	Short: "Show the execution plan of a workflow without running it",
	Long: `Validate a workflow and print the level-ordered execution plan. Inputs
resolve immediately; references to task outputs render as placeholders.

Examples:
  weft plan workflow.yaml
  weft plan workflow.yaml --input userId=u-42`,
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	e, err := buildEngine(append(args, planDefs...))
	if err != nil {
		return err
	}
	defer e.close()

	wf, err := e.findWorkflow(planWorkflow)
	if err != nil {
		return err
	}
	input, err := parseInput(planInputs, planInputJSON)
	if err != nil {
		return err
	}

	plan, err := e.orchestrator.Plan(wf, input)
	if err != nil {
		return fmt.Errorf("workflow is not executable: %w", err)
	}

	if format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(plan)
	}

	fmt.Printf("Workflow: %s (%d levels)\n", plan.WorkflowName, plan.Levels)
	fmt.Printf("Execution order: %s\n\n", strings.Join(plan.ExecutionOrder, " → "))
	for _, task := range plan.Tasks {
		fmt.Printf("  [level %d] %s (%s)\n", task.Level, task.ID, task.Kind)
		if len(task.DependsOn) > 0 {
			fmt.Printf("    depends on: %s\n", strings.Join(task.DependsOn, ", "))
		}
		for key, value := range task.InputPreview {
			fmt.Printf("    input %s: %v\n", key, value)
		}
	}
	for _, group := range plan.ParallelGroups {
		fmt.Printf("\n  parallel at level %d: %s\n", group.Level, strings.Join(group.TaskIDs, ", "))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringSliceVar(&planDefs, "defs", nil, "additional definition files or directories")
	planCmd.Flags().StringVar(&planWorkflow, "workflow", "", "workflow name to plan")
	planCmd.Flags().StringSliceVar(&planInputs, "input", nil, "workflow input (key=value)")
	planCmd.Flags().StringVar(&planInputJSON, "input-json", "", "workflow input as a JSON object")
}
