// ABOUTME: Validate command checking definitions without executing anything
// ABOUTME: Parses YAML, builds the execution graph, and reports every error found

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/weftwork/weft/internal/graph"
	"github.com/weftwork/weft/internal/loader"
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate [definitions.yaml...]",
	Short: "Validate workflow and task definitions",
	Long: `Parse definition files, check step declarations, and build the execution
graph of every workflow without invoking any task. All errors are reported,
not just the first.

Examples:
  weft validate workflow.yaml
  weft validate defs/`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	l := loader.New(nil, GetLogger())

	failed := false
	for _, path := range args {
		bundle, err := loadPath(l, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ %s: %v\n", path, err)
			failed = true
			continue
		}

		for _, wf := range bundle.Workflows {
			build := graph.Build(wf)
			if build.Valid {
				fmt.Printf("✅ workflow %s/%s (%d tasks, %d levels)\n",
					wf.Metadata.Namespace, wf.Metadata.Name, len(wf.Tasks), build.Graph.LevelCount())
				continue
			}
			failed = true
			fmt.Fprintf(os.Stderr, "❌ workflow %s/%s:\n", wf.Metadata.Namespace, wf.Metadata.Name)
			for _, buildErr := range build.Errors {
				fmt.Fprintf(os.Stderr, "  - %v\n", buildErr)
			}
		}
		for _, def := range bundle.Tasks {
			fmt.Printf("✅ task %s\n", def.Name)
		}
	}

	if failed {
		os.Exit(1)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
