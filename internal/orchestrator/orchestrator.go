// ABOUTME: Workflow orchestrator driving level-by-level parallel execution
// ABOUTME: Owns input validation, persistence writes, event ordering, cancellation, and sub-workflows

package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/weftwork/weft/internal/events"
	"github.com/weftwork/weft/internal/graph"
	"github.com/weftwork/weft/internal/taskexec"
	"github.com/weftwork/weft/internal/template"
	"github.com/weftwork/weft/internal/version"
	"github.com/weftwork/weft/internal/workflow"
	"github.com/weftwork/weft/pkg/types"
)

// Config tunes the orchestrator
type Config struct {
	// MaxWorkflowConcurrency bounds concurrent tasks across all executions
	MaxWorkflowConcurrency int
	// Environment is the base environment layered under each workflow's own
	Environment map[string]string
}

// Orchestrator executes workflows against their dependency graphs
type Orchestrator struct {
	config     Config
	executor   *taskexec.Executor
	resolver   *template.Resolver
	executions types.ExecutionRepository
	taskRepo   types.TaskExecutionRepository
	versioner  *version.Service
	workflows  types.WorkflowProvider
	publisher  *events.Publisher
	clock      types.Clock
	logger     types.Logger

	sem *semaphore.Weighted

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New creates an orchestrator. The versioner may be nil to disable version
// tracking; the workflow provider may be nil when sub-workflows are unused.
func New(
	config Config,
	executor *taskexec.Executor,
	resolver *template.Resolver,
	executions types.ExecutionRepository,
	taskRepo types.TaskExecutionRepository,
	versioner *version.Service,
	workflows types.WorkflowProvider,
	publisher *events.Publisher,
	clock types.Clock,
	logger types.Logger,
) *Orchestrator {
	if config.MaxWorkflowConcurrency <= 0 {
		config.MaxWorkflowConcurrency = types.DefaultWorkflowConcurrency
	}
	if clock == nil {
		clock = types.SystemClock{}
	}
	o := &Orchestrator{
		config:     config,
		executor:   executor,
		resolver:   resolver,
		executions: executions,
		taskRepo:   taskRepo,
		versioner:  versioner,
		workflows:  workflows,
		publisher:  publisher,
		clock:      clock,
		logger:     logger,
		sem:        semaphore.NewWeighted(int64(config.MaxWorkflowConcurrency)),
		active:     make(map[string]context.CancelFunc),
	}
	executor.SetSubWorkflowRunner(o)
	return o
}

// scope carries the execution identity down through sub-workflow recursion
type scope struct {
	executionID string
	namespace   string
	stack       *workflow.CallStack
}

type scopeKey struct{}

func scopeFrom(ctx context.Context) *scope {
	if s, ok := ctx.Value(scopeKey{}).(*scope); ok {
		return s
	}
	return nil
}

// Execute runs a workflow to completion and returns its result. Failures
// during execution are reported in the result; the error return is reserved
// for inputs the engine could not begin to process.
func (o *Orchestrator) Execute(ctx context.Context, wf *types.WorkflowResource, input map[string]interface{}) (*types.ExecutionResult, error) {
	return o.run(ctx, wf, input, "", &workflow.CallStack{}, nil)
}

// Cancel requests cooperative cancellation of an in-flight execution
func (o *Orchestrator) Cancel(executionID string) bool {
	o.mu.Lock()
	cancel, ok := o.active[executionID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// GetExecution returns a stored execution including its task records
func (o *Orchestrator) GetExecution(id string) (*types.ExecutionRecord, error) {
	return o.executions.Get(id)
}

// ListExecutions returns stored executions newest first
func (o *Orchestrator) ListExecutions(filter types.ExecutionFilter) ([]*types.ExecutionRecord, error) {
	return o.executions.List(filter)
}

// Subscribe returns an event stream for one execution
func (o *Orchestrator) Subscribe(executionID string) (<-chan types.Event, func()) {
	return o.publisher.Subscribe(executionID)
}

// SubscribeAll returns the visualization event stream
func (o *Orchestrator) SubscribeAll() (<-chan types.Event, func()) {
	return o.publisher.SubscribeAll()
}

// RunSubWorkflow resolves a workflowRef and executes the child workflow,
// implementing the task executor's SubWorkflowRunner contract.
func (o *Orchestrator) RunSubWorkflow(ctx context.Context, ref string, input map[string]interface{}, parent *types.ExecutionContext) (*types.TaskOutcome, error) {
	if o.workflows == nil {
		return nil, types.NewRefNotFoundError(ref)
	}
	parentScope := scopeFrom(ctx)
	parentNamespace := ""
	parentExecutionID := ""
	stack := &workflow.CallStack{}
	if parentScope != nil {
		parentNamespace = parentScope.namespace
		parentExecutionID = parentScope.executionID
		stack = parentScope.stack
	}

	child, err := workflow.Resolve(ref, parentNamespace, o.workflows)
	if err != nil {
		return nil, err
	}

	result, err := o.run(ctx, child, input, parentExecutionID, stack, parent)
	if err != nil {
		return nil, err
	}

	outcome := &types.TaskOutcome{
		Success:     result.Success,
		Output:      result.Output,
		CompletedAt: o.clock.Now(),
	}
	if !result.Success {
		outcome.Error = result.Error
		if outcome.Error == "" {
			outcome.Error = "sub-workflow failed"
		}
		if len(result.Errors) > 0 {
			outcome.Code = result.Errors[0].Code
		}
	}
	return outcome, nil
}

func (o *Orchestrator) run(ctx context.Context, wf *types.WorkflowResource, input map[string]interface{}, parentExecutionID string, stack *workflow.CallStack, parentCtx *types.ExecutionContext) (*types.ExecutionResult, error) {
	executionID := uuid.NewString()
	startedAt := o.clock.Now().UTC()

	record := &types.ExecutionRecord{
		ID:                executionID,
		WorkflowName:      wf.Metadata.Name,
		Namespace:         wf.Metadata.Namespace,
		ParentExecutionID: parentExecutionID,
		Status:            types.ExecutionRunning,
		Input:             input,
		StartedAt:         startedAt,
	}

	validated, err := validateInput(wf.Input, input)
	if err != nil {
		return o.terminate(record, startedAt, nil, types.ExecutionFailed,
			fmt.Sprintf("input validation: %v", err),
			[]types.TaskFailure{{Code: types.CodeOf(err), Message: err.Error()}}), nil
	}
	record.Input = validated

	buildStart := o.clock.Now()
	build := graph.Build(wf)
	record.GraphBuildMicros = o.clock.Now().Sub(buildStart).Microseconds()
	if !build.Valid {
		failures := make([]types.TaskFailure, 0, len(build.Errors))
		messages := ""
		for _, buildErr := range build.Errors {
			failures = append(failures, types.TaskFailure{Code: types.CodeOf(buildErr), Message: buildErr.Error()})
			if messages != "" {
				messages += "; "
			}
			messages += buildErr.Error()
		}
		return o.terminate(record, startedAt, nil, types.ExecutionFailed,
			fmt.Sprintf("graph build: %s", messages), failures), nil
	}

	// Cycle guard across the sub-workflow chain.
	hash, hashErr := version.CalculateVersionHash(wf)
	if hashErr != nil {
		hash = "unversioned"
	}
	frame := workflow.Frame(wf.Metadata.Namespace, wf.Metadata.Name, hash)
	stack, err = stack.Push(frame)
	if err != nil {
		return o.terminate(record, startedAt, nil, types.ExecutionFailed, err.Error(),
			[]types.TaskFailure{{Code: types.CodeOf(err), Message: err.Error()}}), nil
	}

	if err := o.executions.Save(record); err != nil && o.logger != nil {
		o.logger.Error().Err(err).Str("executionId", executionID).Msg("Failed to persist execution start")
	}
	o.publisher.Emit(types.Event{
		Kind:         types.EventWorkflowStarted,
		ExecutionID:  executionID,
		WorkflowName: wf.Metadata.Name,
		Timestamp:    o.clock.Now().UTC(),
	})

	if o.versioner != nil {
		if _, _, err := o.versioner.CreateVersionIfChanged(wf); err != nil && o.logger != nil {
			o.logger.Warn().Err(err).Str("workflow", wf.Metadata.Name).Msg("Version tracking failed")
		}
	}

	var execCtx context.Context
	var cancel context.CancelFunc
	if wf.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, wf.Timeout)
	} else {
		execCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	o.mu.Lock()
	o.active[executionID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.active, executionID)
		o.mu.Unlock()
	}()

	execCtx = context.WithValue(execCtx, scopeKey{}, &scope{
		executionID: executionID,
		namespace:   wf.Metadata.Namespace,
		stack:       stack,
	})

	ec := types.NewExecutionContext()
	ec.Input = validated
	ec.Env = o.layerEnvironment(wf.Environment)
	ec.Parent = parentCtx

	failures := o.runLevels(execCtx, executionID, wf, build.Graph, ec)

	var status types.ExecutionStatus
	var output interface{}
	errorMessage := ""
	switch {
	case execCtx.Err() == context.DeadlineExceeded && wf.Timeout > 0:
		status = types.ExecutionFailed
		errorMessage = "workflow timeout"
		failures = append(failures, types.TaskFailure{Code: types.CodeTaskTimeout, Message: errorMessage})
	case execCtx.Err() != nil:
		status = types.ExecutionCancelled
		errorMessage = "cancelled"
	case len(failures) > 0:
		status = types.ExecutionFailed
		errorMessage = failures[0].Message
	default:
		status = types.ExecutionSucceeded
		rendered, renderErr := o.renderOutput(wf.Output, ec)
		if renderErr != nil {
			status = types.ExecutionFailed
			errorMessage = renderErr.Error()
			failures = append(failures, types.TaskFailure{Code: types.CodeOf(renderErr), Message: errorMessage})
		} else {
			output = rendered
		}
	}

	result := o.terminate(record, startedAt, output, status, errorMessage, failures)
	o.publisher.Emit(types.Event{
		Kind:         types.EventWorkflowCompleted,
		ExecutionID:  executionID,
		WorkflowName: wf.Metadata.Name,
		Status:       string(status),
		Output:       output,
		Duration:     result.Duration,
		Timestamp:    o.clock.Now().UTC(),
	})
	return result, nil
}

// runLevels drives the graph one level at a time, fanning each level out
// under the global concurrency bound. Tasks already scheduled when a sibling
// fails still run to completion; later levels are not scheduled.
func (o *Orchestrator) runLevels(ctx context.Context, executionID string, wf *types.WorkflowResource, g *graph.Graph, ec *types.ExecutionContext) []types.TaskFailure {
	var failures []types.TaskFailure

	for level := 0; level < g.LevelCount(); level++ {
		if ctx.Err() != nil {
			break
		}

		ids := g.LevelIDs(level)
		outcomes := make(map[string]*types.TaskOutcome, len(ids))
		var outcomeMu sync.Mutex
		var wg sync.WaitGroup

		for _, id := range ids {
			node := g.Node(id)
			// A workflowRef step only waits on its child execution, whose
			// own tasks acquire slots; holding one here would starve nested
			// runs at the concurrency bound.
			holdsSlot := node.Step.WorkflowRef == ""
			if holdsSlot {
				if err := o.sem.Acquire(ctx, 1); err != nil {
					break
				}
			}
			wg.Add(1)
			go func(node *graph.Node, holdsSlot bool) {
				defer wg.Done()
				if holdsSlot {
					defer o.sem.Release(1)
				}
				outcome := o.runTask(ctx, executionID, node, g, ec.Clone())
				outcomeMu.Lock()
				outcomes[node.ID] = outcome
				outcomeMu.Unlock()
			}(node, holdsSlot)
		}
		wg.Wait()

		// Merge at the level join: the context is single-writer between
		// joins. Walk the level's id order so the first reported failure is
		// deterministic.
		for _, id := range ids {
			outcome, ok := outcomes[id]
			if !ok {
				continue
			}
			ec.Tasks[id] = outcome
			if !outcome.Success && !outcome.Skipped {
				code := outcome.Code
				if code == "" {
					code = types.CodeTaskFailed
				}
				failures = append(failures, types.TaskFailure{
					TaskID:  id,
					Code:    code,
					Message: outcome.Error,
				})
			}
		}
		if len(failures) > 0 {
			break
		}
	}
	return failures
}

// runTask executes one node and emits its lifecycle events. The task record
// is persisted before TaskCompleted so subscribers never observe an event
// for an unrecorded task.
func (o *Orchestrator) runTask(ctx context.Context, executionID string, node *graph.Node, g *graph.Graph, ec *types.ExecutionContext) *types.TaskOutcome {
	taskName := node.Step.TaskRef
	if taskName == "" {
		taskName = node.Step.WorkflowRef
	}

	o.publisher.Emit(types.Event{
		Kind:        types.EventTaskStarted,
		ExecutionID: executionID,
		TaskID:      node.ID,
		TaskName:    taskName,
		Timestamp:   o.clock.Now().UTC(),
	})

	outcome := o.executor.ExecuteStep(ctx, node.Step, ec)
	if ctx.Err() != nil && !outcome.Success {
		outcome.Error = "cancelled"
	}

	status := types.TaskSucceeded
	switch {
	case outcome.Skipped:
		status = types.TaskSkipped
	case !outcome.Success:
		status = types.TaskFailed
	}

	taskRecord := &types.TaskExecutionRecord{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		TaskID:      node.ID,
		TaskRef:     taskName,
		Status:      status,
		Input:       outcome.Input,
		Output:      outcome.Output,
		RetryCount:  outcome.RetryCount,
		StartedAt:   outcome.StartedAt.UTC(),
		CompletedAt: outcome.CompletedAt.UTC(),
		DurationMs:  outcome.CompletedAt.Sub(outcome.StartedAt).Milliseconds(),
	}
	if outcome.Error != "" {
		taskRecord.Errors = []string{outcome.Error}
	}
	if err := o.taskRepo.Save(taskRecord); err != nil && o.logger != nil {
		o.logger.Error().Err(err).
			Str("executionId", executionID).
			Str("taskId", node.ID).
			Msg("Failed to persist task record")
	}

	o.publisher.Emit(types.Event{
		Kind:        types.EventTaskCompleted,
		ExecutionID: executionID,
		TaskID:      node.ID,
		TaskName:    taskName,
		Status:      string(status),
		Output:      outcome.Output,
		Duration:    outcome.CompletedAt.Sub(outcome.StartedAt),
		Timestamp:   o.clock.Now().UTC(),
	})
	if outcome.Success {
		for _, successor := range g.Successors(node.ID) {
			o.publisher.Emit(types.Event{
				Kind:        types.EventSignalFlow,
				ExecutionID: executionID,
				FromTaskID:  node.ID,
				ToTaskID:    successor,
				Timestamp:   o.clock.Now().UTC(),
			})
		}
	}
	return outcome
}

// terminate writes the final execution record and builds the result. The
// final write retries with bounded backoff since it is the record of truth.
func (o *Orchestrator) terminate(record *types.ExecutionRecord, startedAt time.Time, output interface{}, status types.ExecutionStatus, errorMessage string, failures []types.TaskFailure) *types.ExecutionResult {
	completedAt := o.clock.Now().UTC()
	record.Status = status
	record.Output = output
	record.CompletedAt = &completedAt
	record.DurationMs = completedAt.Sub(startedAt).Milliseconds()
	for _, failure := range failures {
		record.Errors = append(record.Errors, failure.Message)
	}

	backoffs := []time.Duration{0, 100 * time.Millisecond, 500 * time.Millisecond}
	for attempt, wait := range backoffs {
		if wait > 0 {
			if err := o.clock.Sleep(context.Background(), wait); err != nil {
				break
			}
		}
		err := o.executions.Save(record)
		if err == nil {
			break
		}
		if o.logger != nil {
			o.logger.Error().Err(err).
				Str("executionId", record.ID).
				Int("attempt", attempt+1).
				Msg("Failed to persist terminal execution record")
		}
	}

	taskDetails, err := o.taskRepo.ListForExecution(record.ID)
	if err != nil {
		taskDetails = nil
	}

	return &types.ExecutionResult{
		ExecutionID: record.ID,
		Success:     status == types.ExecutionSucceeded,
		Status:      status,
		Output:      output,
		Error:       errorMessage,
		Errors:      failures,
		TaskDetails: taskDetails,
		Duration:    completedAt.Sub(startedAt),
	}
}

// renderOutput resolves the workflow-level output templates
func (o *Orchestrator) renderOutput(output map[string]string, ec *types.ExecutionContext) (interface{}, error) {
	if len(output) == 0 {
		return nil, nil
	}
	rendered := make(map[string]interface{}, len(output))
	for key, tmpl := range output {
		value, err := o.resolver.Resolve(tmpl, ec)
		if err != nil {
			return nil, err
		}
		rendered[key] = value
	}
	return rendered, nil
}

// layerEnvironment merges the workflow environment over the configured base
func (o *Orchestrator) layerEnvironment(env map[string]string) map[string]string {
	merged := make(map[string]string, len(env)+len(o.config.Environment))
	for k, v := range env {
		merged[k] = v
	}
	if err := mergo.Merge(&merged, o.config.Environment); err != nil && o.logger != nil {
		o.logger.Warn().Err(err).Msg("Environment merge failed")
	}
	return merged
}

// validateInput applies defaults and enforces required fields and types
func validateInput(schema map[string]types.InputProperty, input map[string]interface{}) (map[string]interface{}, error) {
	validated := make(map[string]interface{}, len(input))
	for k, v := range input {
		validated[k] = v
	}
	for name, property := range schema {
		value, present := validated[name]
		if !present {
			if property.Default != nil {
				validated[name] = property.Default
				continue
			}
			if property.Required {
				return nil, types.NewInputValidationError(name, "required property is missing")
			}
			continue
		}
		if property.Type != "" && !matchesType(value, property.Type) {
			return nil, types.NewInputValidationError(name,
				fmt.Sprintf("expected %s, got %T", property.Type, value))
		}
	}
	return validated, nil
}

func matchesType(value interface{}, kind string) bool {
	switch kind {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	}
	return true
}
