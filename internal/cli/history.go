// ABOUTME: History and versions commands over the recorded execution database
// ABOUTME: Lists executions with filters and the append-only version rows of a workflow

package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/weftwork/weft/internal/store"
	"github.com/weftwork/weft/pkg/types"
)

var (
	historyWorkflow string
	historyStatus   string
	historySkip     int
	historyTake     int
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded workflow executions",
	Long: `List executions from the history database, newest first.

Examples:
  weft history
  weft history --workflow onboard --status failed
  weft history --take 20 --skip 20`,
	RunE: runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	s, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer s.Close()

	records, err := s.Executions().List(types.ExecutionFilter{
		WorkflowName: historyWorkflow,
		Status:       types.ExecutionStatus(historyStatus),
		Skip:         historySkip,
		Take:         historyTake,
	})
	if err != nil {
		return err
	}

	if format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(records)
	}

	if len(records) == 0 {
		fmt.Println("No executions recorded.")
		return nil
	}
	for _, record := range records {
		icon := "✅"
		switch record.Status {
		case types.ExecutionFailed:
			icon = "❌"
		case types.ExecutionRunning:
			icon = "⏳"
		case types.ExecutionCancelled:
			icon = "🚫"
		}
		fmt.Printf("%s %s  %-20s %-10s %s  %dms\n",
			icon, record.ID, record.WorkflowName, record.Status,
			record.StartedAt.Format("2006-01-02 15:04:05"), record.DurationMs)
	}
	return nil
}

// versionsCmd represents the versions command
var versionsCmd = &cobra.Command{
	Use:   "versions <workflow>",
	Short: "List recorded versions of a workflow",
	Long: `List the append-only version rows of a workflow, newest first. A new
version is recorded whenever the deployed definition's content hash changes.

Examples:
  weft versions onboard`,
	Args: cobra.ExactArgs(1),
	RunE: runVersions,
}

func runVersions(cmd *cobra.Command, args []string) error {
	s, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer s.Close()

	versions, err := s.Versions().GetVersions(args[0])
	if err != nil {
		return err
	}

	if format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(versions)
	}

	if len(versions) == 0 {
		fmt.Printf("No versions recorded for '%s'.\n", args[0])
		return nil
	}
	for _, v := range versions {
		fmt.Printf("%s  %s  %s\n", v.VersionHash[:12], v.WorkflowName, v.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionsCmd)

	historyCmd.Flags().StringVar(&historyWorkflow, "workflow", "", "filter by workflow name")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "filter by status (running, succeeded, failed, cancelled)")
	historyCmd.Flags().IntVar(&historySkip, "skip", 0, "skip the first N records")
	historyCmd.Flags().IntVar(&historyTake, "take", 50, "return at most N records")
}
