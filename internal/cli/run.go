// ABOUTME: Run command executing a workflow to completion
// ABOUTME: Loads definitions, runs the orchestrator, and prints the result

package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/weftwork/weft/pkg/types"
)

var (
	runDefs      []string
	runWorkflow  string
	runInputs    []string
	runInputJSON string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [definitions.yaml...]",
	Short: "Execute a workflow",
	Long: `Execute a workflow to completion. Definition files or directories given
as arguments are loaded on top of the configured definitions directory; when
more than one workflow is loaded, pick one with --workflow.

Examples:
  weft run workflow.yaml
  weft run workflow.yaml --defs tasks/
  weft run --workflow onboard --input userId=u-42
  weft run workflow.yaml --input-json '{"userId": "u-42", "limit": 10}'`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	e, err := buildEngine(append(args, runDefs...))
	if err != nil {
		return err
	}
	defer e.close()

	wf, err := e.findWorkflow(runWorkflow)
	if err != nil {
		return err
	}
	input, err := parseInput(runInputs, runInputJSON)
	if err != nil {
		return err
	}

	result, err := e.orchestrator.Execute(cmd.Context(), wf, input)
	if err != nil {
		return fmt.Errorf("failed to execute workflow: %w", err)
	}

	if err := printResult(result); err != nil {
		return err
	}
	if !result.Success {
		os.Exit(1)
	}
	return nil
}

// printResult renders an execution result as text or JSON per --format
func printResult(result *types.ExecutionResult) error {
	if format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	icon := "✅"
	if !result.Success {
		icon = "❌"
	}
	fmt.Printf("\n%s Execution: %s\n", icon, result.ExecutionID)
	fmt.Printf("   Status: %s\n", result.Status)
	fmt.Printf("   Duration: %s\n", result.Duration)
	if result.Error != "" {
		fmt.Printf("   Error: %s\n", result.Error)
	}

	if len(result.TaskDetails) > 0 {
		fmt.Printf("\nTasks:\n")
		for _, task := range result.TaskDetails {
			taskIcon := "✅"
			switch task.Status {
			case types.TaskFailed:
				taskIcon = "❌"
			case types.TaskSkipped:
				taskIcon = "⏭️"
			}
			fmt.Printf("  %s %s (%s) - %s", taskIcon, task.TaskID, task.TaskRef, task.Status)
			if task.RetryCount > 0 {
				fmt.Printf(" [%d retries]", task.RetryCount)
			}
			fmt.Println()
			for _, message := range task.Errors {
				fmt.Printf("    Error: %s\n", message)
			}
		}
	}

	if result.Output != nil {
		data, err := json.MarshalIndent(result.Output, "", "  ")
		if err != nil {
			return err
		}
		fmt.Printf("\nOutput:\n%s\n", data)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSliceVar(&runDefs, "defs", nil, "additional definition files or directories")
	runCmd.Flags().StringVar(&runWorkflow, "workflow", "", "workflow name to execute")
	runCmd.Flags().StringSliceVar(&runInputs, "input", nil, "workflow input (key=value, JSON values keep their type)")
	runCmd.Flags().StringVar(&runInputJSON, "input-json", "", "workflow input as a JSON object")
}
