// ABOUTME: Blast-radius command showing which workflows a task change would touch
// ABOUTME: Loads definitions and prints the reverse-dependency report

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/weftwork/weft/internal/analysis"
	"github.com/weftwork/weft/internal/loader"
	"github.com/weftwork/weft/internal/registry"
)

var blastMaxDepth int

// blastCmd represents the blast-radius command
var blastCmd = &cobra.Command{
	Use:   "blast-radius <task> [definitions.yaml...]",
	Short: "Show the blast radius of changing a task definition",
	Long: `Traverse the reverse dependency graph from a task definition: workflows
invoking it, their sibling tasks, and workflows composing those via
sub-workflow references, up to a depth limit.

Examples:
  weft blast-radius send-email defs/
  weft blast-radius send-email defs/ --max-depth 3`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBlast,
}

func runBlast(cmd *cobra.Command, args []string) error {
	l := loader.New(nil, GetLogger())
	workflows := registry.NewWorkflowRegistry()

	paths := args[1:]
	if cfg.DefinitionsDir != "" {
		paths = append([]string{cfg.DefinitionsDir}, paths...)
	}
	for _, path := range paths {
		bundle, err := loadPath(l, path)
		if err != nil {
			return err
		}
		for _, wf := range bundle.Workflows {
			workflows.Register(wf)
		}
	}

	report := analysis.Analyze(args[0], workflows.List(""), blastMaxDepth)

	if format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}

	fmt.Printf("Blast radius of '%s': %d workflows, %d tasks\n",
		report.Source, report.Summary.AffectedWorkflows, report.Summary.AffectedTasks)

	depths := make([]int, 0, len(report.Summary.ByDepth))
	for depth := range report.Summary.ByDepth {
		depths = append(depths, depth)
	}
	sort.Ints(depths)
	for _, depth := range depths {
		fmt.Printf("  depth %d: %d affected\n", depth, report.Summary.ByDepth[depth])
	}
	if report.TruncatedAtDepth > 0 {
		fmt.Printf("  (truncated at depth %d)\n", report.TruncatedAtDepth)
	}

	for _, node := range report.Graph.Nodes {
		if node.IsSource {
			continue
		}
		fmt.Printf("  [%d] %s %s\n", node.Depth, node.Kind, node.ID)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(blastCmd)

	blastCmd.Flags().IntVar(&blastMaxDepth, "max-depth", analysis.DefaultMaxDepth, "traversal depth limit")
}
