// ABOUTME: Serve command running the HTTP API and optional cron scheduler
// ABOUTME: Registers triggers from workflow schedule annotations and shuts down gracefully

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/weftwork/weft/internal/schedule"
	"github.com/weftwork/weft/internal/server"
)

var (
	serveDefs      []string
	serveListen    string
	serveScheduler bool
)

// Workflow annotations consumed by the scheduler
const (
	// AnnotationSchedule holds a 5-field cron expression
	AnnotationSchedule = "schedule"
	// AnnotationScheduleInput holds a JSON object passed as trigger input
	AnnotationScheduleInput = "scheduleInput"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the JSON API. Workflows carrying a 'schedule' annotation are
registered as cron triggers when the scheduler is enabled.

Examples:
  weft serve
  weft serve --listen :9090 --defs defs/
  weft serve --scheduler`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	log := GetLogger()

	e, err := buildEngine(append(args, serveDefs...))
	if err != nil {
		return err
	}
	defer e.close()

	// Record a version row for every loaded workflow up front so the
	// versions API reflects deployment, not first execution.
	for _, wf := range e.workflows.List("") {
		if _, _, err := e.versioner.CreateVersionIfChanged(wf); err != nil {
			log.Warn().Err(err).Str("workflow", wf.Metadata.Name).Msg("Version tracking failed")
		}
	}

	listen := cfg.Listen
	if serveListen != "" {
		listen = serveListen
	}
	srv := server.New(server.Config{Listen: listen}, e.orchestrator, e.workflows, e.tasks, e.store.Versions(), log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveScheduler || cfg.SchedulerEnabled {
		scheduler, err := buildScheduler(e)
		if err != nil {
			return err
		}
		go func() {
			if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Scheduler stopped")
			}
		}()
	}

	errs := make(chan error, 1)
	go func() { errs <- srv.Start() }()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// buildScheduler registers a trigger for every workflow with a schedule
// annotation and fires them through the orchestrator.
func buildScheduler(e *engine) (*schedule.Scheduler, error) {
	log := GetLogger()

	scheduler := schedule.NewScheduler(e.store.TriggerStates(), nil, log, func(ctx context.Context, trigger schedule.Trigger) error {
		wf := e.workflows.Find("", trigger.WorkflowName)
		if wf == nil {
			return fmt.Errorf("workflow '%s' is not loaded", trigger.WorkflowName)
		}
		go func() {
			if _, err := e.orchestrator.Execute(context.Background(), wf, trigger.Input); err != nil {
				log.Error().Err(err).Str("workflow", trigger.WorkflowName).Msg("Scheduled execution failed")
			}
		}()
		return nil
	})

	for _, wf := range e.workflows.List("") {
		expr := wf.Metadata.Annotations[AnnotationSchedule]
		if expr == "" {
			continue
		}
		var input map[string]interface{}
		if raw := wf.Metadata.Annotations[AnnotationScheduleInput]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &input); err != nil {
				return nil, fmt.Errorf("workflow '%s' has invalid scheduleInput: %w", wf.Metadata.Name, err)
			}
		}
		trigger := schedule.Trigger{
			Name:         fmt.Sprintf("%s/%s", wf.Metadata.Namespace, wf.Metadata.Name),
			Expression:   expr,
			WorkflowName: wf.Metadata.Name,
			Input:        input,
		}
		if err := scheduler.Register(trigger); err != nil {
			return nil, fmt.Errorf("workflow '%s': %w", wf.Metadata.Name, err)
		}
		log.Info().
			Str("workflow", wf.Metadata.Name).
			Str("cron", expr).
			Msg("Registered scheduled trigger")
	}
	return scheduler, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringSliceVar(&serveDefs, "defs", nil, "definition files or directories to serve")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "bind address (overrides config)")
	serveCmd.Flags().BoolVar(&serveScheduler, "scheduler", false, "enable the cron trigger loop")
}
