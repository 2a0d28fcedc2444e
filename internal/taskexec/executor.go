// ABOUTME: Task executor dispatching step variants: HTTP tasks, transforms, sub-workflows, control flow
// ABOUTME: Wraps invocations with per-attempt circuit breaker checks and retry policies

package taskexec

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/weftwork/weft/internal/breaker"
	"github.com/weftwork/weft/internal/retry"
	"github.com/weftwork/weft/internal/template"
	"github.com/weftwork/weft/internal/transform"
	"github.com/weftwork/weft/pkg/types"
)

// SubWorkflowRunner executes a workflowRef step. Implemented by the
// orchestrator; declared here to keep the dependency one-directional.
type SubWorkflowRunner interface {
	RunSubWorkflow(ctx context.Context, ref string, input map[string]interface{}, parent *types.ExecutionContext) (*types.TaskOutcome, error)
}

// Executor invokes a single task step and produces its outcome
type Executor struct {
	resolver *template.Resolver
	tasks    types.TaskDefinitionProvider
	breakers *breaker.Table
	retries  *retry.Runner
	client   *http.Client
	clock    types.Clock
	logger   types.Logger

	subRunner SubWorkflowRunner
}

// New creates a task executor
func New(
	resolver *template.Resolver,
	tasks types.TaskDefinitionProvider,
	breakers *breaker.Table,
	retries *retry.Runner,
	client *http.Client,
	clock types.Clock,
	logger types.Logger,
) *Executor {
	if client == nil {
		client = &http.Client{}
	}
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &Executor{
		resolver: resolver,
		tasks:    tasks,
		breakers: breakers,
		retries:  retries,
		client:   client,
		clock:    clock,
		logger:   logger,
	}
}

// SetSubWorkflowRunner wires the orchestrator in after construction
func (e *Executor) SetSubWorkflowRunner(runner SubWorkflowRunner) {
	e.subRunner = runner
}

// ExecuteStep runs one step against the execution context and returns its
// outcome. Failures are reported in the outcome, not as an error, so the
// orchestrator can aggregate them.
func (e *Executor) ExecuteStep(ctx context.Context, step *types.TaskStep, ec *types.ExecutionContext) *types.TaskOutcome {
	started := e.clock.Now()

	if step.Condition != nil {
		gate, err := e.resolver.Resolve(step.Condition.If, ec)
		if err != nil {
			return e.failed(started, 0, err)
		}
		if !template.Truthy(gate) {
			return &types.TaskOutcome{
				Skipped:     true,
				Success:     true,
				StartedAt:   started,
				CompletedAt: e.clock.Now(),
			}
		}
	}

	if step.ForEach != nil {
		return e.executeForEach(ctx, step, ec, started)
	}
	return e.executeVariant(ctx, step, ec, started)
}

func (e *Executor) executeVariant(ctx context.Context, step *types.TaskStep, ec *types.ExecutionContext, started time.Time) *types.TaskOutcome {
	switch {
	case step.Switch != nil:
		return e.executeSwitch(ctx, step, ec, started)
	case step.WorkflowRef != "":
		return e.executeSubWorkflow(ctx, step, ec, started)
	default:
		return e.executeTaskRef(ctx, step.TaskRef, step, ec, started)
	}
}

// executeForEach expands the step once per rendered item. Sequential by
// default; parallel mode caps concurrency and cancels pending iterations on
// the first failure.
func (e *Executor) executeForEach(ctx context.Context, step *types.TaskStep, ec *types.ExecutionContext, started time.Time) *types.TaskOutcome {
	rendered, err := e.resolver.Resolve(step.ForEach.Items, ec)
	if err != nil {
		return e.failed(started, 0, err)
	}
	items, ok := rendered.([]interface{})
	if !ok {
		return e.failed(started, 0, types.NewTaskError(types.CodeTaskFailed, step.ID, "",
			fmt.Sprintf("forEach items resolved to %T, expected a sequence", rendered), nil))
	}

	inner := *step
	inner.ForEach = nil
	inner.Condition = nil

	outputs := make([]interface{}, len(items))

	if step.ForEach.Parallel {
		limit := step.ForEach.MaxConcurrency
		if limit <= 0 {
			limit = types.DefaultWorkflowConcurrency
		}
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(limit)
		for index, item := range items {
			index, item := index, item
			group.Go(func() error {
				itemCtx := ec.WithLoop(step.ForEach.ItemVar, item, index)
				outcome := e.executeVariant(groupCtx, &inner, itemCtx, e.clock.Now())
				if !outcome.Success {
					return types.NewTaskError(types.CodeTaskFailed, step.ID, "",
						fmt.Sprintf("iteration %d failed", index), fmt.Errorf("%s", outcome.Error))
				}
				outputs[index] = outcome.Output
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return e.failed(started, 0, err)
		}
	} else {
		for index, item := range items {
			itemCtx := ec.WithLoop(step.ForEach.ItemVar, item, index)
			outcome := e.executeVariant(ctx, &inner, itemCtx, e.clock.Now())
			if !outcome.Success {
				return e.failed(started, 0, types.NewTaskError(types.CodeTaskFailed, step.ID, "",
					fmt.Sprintf("iteration %d failed", index), fmt.Errorf("%s", outcome.Error)))
			}
			outputs[index] = outcome.Output
		}
	}

	// The aggregate records the rendered item sequence it expanded over.
	return &types.TaskOutcome{
		Success:     true,
		Input:       map[string]interface{}{"items": items},
		Output:      outputs,
		StartedAt:   started,
		CompletedAt: e.clock.Now(),
	}
}

// executeSwitch renders the discriminator and runs the first matching case
func (e *Executor) executeSwitch(ctx context.Context, step *types.TaskStep, ec *types.ExecutionContext, started time.Time) *types.TaskOutcome {
	value, err := e.resolver.ResolveString(step.Switch.Value, ec)
	if err != nil {
		return e.failed(started, 0, err)
	}

	var selected *types.SwitchCase
	for i := range step.Switch.Cases {
		if step.Switch.Cases[i].Match == value {
			selected = &step.Switch.Cases[i]
			break
		}
	}
	if selected == nil {
		selected = step.Switch.Default
	}
	if selected == nil {
		return &types.TaskOutcome{
			Skipped:     true,
			Success:     true,
			StartedAt:   started,
			CompletedAt: e.clock.Now(),
		}
	}
	return e.executeTaskRef(ctx, selected.TaskRef, step, ec, started)
}

func (e *Executor) executeSubWorkflow(ctx context.Context, step *types.TaskStep, ec *types.ExecutionContext, started time.Time) *types.TaskOutcome {
	if e.subRunner == nil {
		return e.failed(started, 0, types.NewTaskError(types.CodeTaskFailed, step.ID, "",
			"no sub-workflow runner configured", nil))
	}
	input, err := e.resolver.ResolveMap(step.Input, ec)
	if err != nil {
		return e.failed(started, 0, err)
	}
	outcome, err := e.subRunner.RunSubWorkflow(ctx, step.WorkflowRef, input, ec)
	if err != nil {
		out := e.failed(started, 0, err)
		out.Input = input
		return out
	}
	outcome.Input = input
	outcome.StartedAt = started
	return outcome
}

// executeTaskRef resolves the step input, looks up the task definition, and
// runs its HTTP request or transform pipeline under retry and breaker policy.
func (e *Executor) executeTaskRef(ctx context.Context, taskRef string, step *types.TaskStep, ec *types.ExecutionContext, started time.Time) *types.TaskOutcome {
	input, err := e.resolver.ResolveMap(step.Input, ec)
	if err != nil {
		return e.failed(started, 0, err)
	}

	def, err := e.tasks.Lookup(taskRef)
	if err != nil {
		return e.failed(started, 0, err)
	}

	policy := types.RetryPolicy{MaxAttempts: 1}
	if def.Retry != nil {
		policy = *def.Retry
	}
	if step.Retry != nil {
		policy = *step.Retry
	}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = def.Timeout
	}
	if timeout <= 0 {
		timeout = types.DefaultTaskTimeout
	}

	guard := e.breakers.For(taskRef, def.Circuit)

	output, retries, err := e.retries.Do(ctx, taskRef, policy, func(ctx context.Context) (interface{}, error) {
		if !guard.CanExecute() {
			return nil, &types.CircuitOpenError{TaskRef: taskRef}
		}
		value, err := e.invoke(ctx, def, input, ec, timeout)
		if err != nil {
			guard.RecordFailure()
			return nil, err
		}
		guard.RecordSuccess()
		return value, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			err = types.NewTaskError(types.CodeCancelled, step.ID, taskRef, "cancelled", nil)
		}
		out := e.failed(started, retries, err)
		out.Input = input
		return out
	}

	return &types.TaskOutcome{
		Success:     true,
		Input:       input,
		Output:      output,
		RetryCount:  retries,
		StartedAt:   started,
		CompletedAt: e.clock.Now(),
	}
}

// invoke runs one attempt of a task definition
func (e *Executor) invoke(ctx context.Context, def *types.TaskDefinition, input map[string]interface{}, ec *types.ExecutionContext, timeout time.Duration) (interface{}, error) {
	if len(def.Pipeline) > 0 {
		return transform.Run(def.Pipeline, pipelineInput(input))
	}
	if def.HTTP == nil {
		return nil, types.NewTaskError(types.CodeTaskFailed, "", def.Name,
			"task definition has neither http nor pipeline", nil)
	}
	return e.invokeHTTP(ctx, def, input, ec, timeout)
}

// pipelineInput picks the row sequence for a transform task: the "items"
// key when present, otherwise the whole input map.
func pipelineInput(input map[string]interface{}) interface{} {
	if items, ok := input["items"]; ok {
		return items
	}
	return input
}

func (e *Executor) invokeHTTP(ctx context.Context, def *types.TaskDefinition, input map[string]interface{}, ec *types.ExecutionContext, timeout time.Duration) (interface{}, error) {
	// Definition templates render against the resolved step input, not the
	// workflow context.
	defCtx := &types.ExecutionContext{
		Input: input,
		Tasks: map[string]*types.TaskOutcome{},
		Env:   ec.Env,
	}

	url, err := e.resolver.ResolveString(def.HTTP.URL, defCtx)
	if err != nil {
		return nil, err
	}
	method := def.HTTP.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if def.HTTP.Body != "" {
		rendered, err := e.resolver.ResolveString(def.HTTP.Body, defCtx)
		if err != nil {
			return nil, err
		}
		body = strings.NewReader(rendered)
	} else if method != http.MethodGet && len(input) > 0 {
		encoded, err := json.Marshal(input)
		if err != nil {
			return nil, err
		}
		body = strings.NewReader(string(encoded))
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for name, value := range def.HTTP.Headers {
		rendered, err := e.resolver.ResolveString(value, defCtx)
		if err != nil {
			return nil, err
		}
		req.Header.Set(name, rendered)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, types.NewTaskError(types.CodeTaskTimeout, "", def.Name,
				fmt.Sprintf("request exceeded %s", timeout), err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &retry.HTTPStatusError{
			Status:     resp.StatusCode,
			Body:       string(payload),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), e.clock.Now()),
		}
	}
	return parseBody(payload), nil
}

// parseBody decodes a JSON response, falling back to the raw string
func parseBody(payload []byte) interface{} {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return nil
	}
	var decoded interface{}
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return trimmed
	}
	return decoded
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms
func parseRetryAfter(header string, now time.Time) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if wait := at.Sub(now); wait > 0 {
			return wait
		}
	}
	return 0
}

func (e *Executor) failed(started time.Time, retries int, err error) *types.TaskOutcome {
	return &types.TaskOutcome{
		Success:     false,
		Error:       err.Error(),
		Code:        types.CodeOf(err),
		RetryCount:  retries,
		StartedAt:   started,
		CompletedAt: e.clock.Now(),
	}
}
