// ABOUTME: Core types and interfaces for the Weft workflow execution engine
// ABOUTME: Defines workflow resources, task steps, execution records, and collaborator contracts

package types

import (
	"context"
	"fmt"
	"time"
)

// ExecutionStatus represents the overall state of a workflow execution
type ExecutionStatus string

const (
	// ExecutionRunning indicates the execution is in flight
	ExecutionRunning ExecutionStatus = "running"
	// ExecutionSucceeded indicates all non-skipped tasks completed successfully
	ExecutionSucceeded ExecutionStatus = "succeeded"
	// ExecutionFailed indicates at least one task failed terminally
	ExecutionFailed ExecutionStatus = "failed"
	// ExecutionCancelled indicates the execution was cancelled cooperatively
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// TaskExecutionStatus represents the terminal state of a single task invocation
type TaskExecutionStatus string

const (
	// TaskSucceeded indicates the task produced an output
	TaskSucceeded TaskExecutionStatus = "succeeded"
	// TaskFailed indicates the task failed terminally
	TaskFailed TaskExecutionStatus = "failed"
	// TaskSkipped indicates a condition or switch elected not to run the task
	TaskSkipped TaskExecutionStatus = "skipped"
)

// Concurrency constraints for workflow execution
const (
	// MinConcurrency is the minimum allowed concurrent task execution
	MinConcurrency = 1
	// MaxConcurrency is the maximum allowed concurrent task execution
	MaxConcurrency = 256
	// DefaultWorkflowConcurrency is the default global task parallelism bound
	DefaultWorkflowConcurrency = 32
	// DefaultTaskTimeout applies when neither the step nor the task definition sets one
	DefaultTaskTimeout = 30 * time.Second
)

// Metadata identifies a workflow resource
type Metadata struct {
	Name        string            `yaml:"name" json:"name"`
	Namespace   string            `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
	Annotations map[string]string `yaml:"annotations,omitempty" json:"annotations,omitempty"`
}

// Version returns the version annotation of the resource, if any
func (m Metadata) Version() string {
	return m.Annotations["version"]
}

// InputProperty describes one property of a workflow input schema
type InputProperty struct {
	Type     string      `yaml:"type" json:"type"`
	Required bool        `yaml:"required,omitempty" json:"required,omitempty"`
	Default  interface{} `yaml:"default,omitempty" json:"default,omitempty"`
}

// WorkflowResource is a declarative workflow definition. Definitions are
// immutable once versioned; re-deploying different content yields a new version.
type WorkflowResource struct {
	Metadata    Metadata                 `yaml:"metadata" json:"metadata"`
	Input       map[string]InputProperty `yaml:"input,omitempty" json:"input,omitempty"`
	Output      map[string]string        `yaml:"output,omitempty" json:"output,omitempty"`
	Environment map[string]string        `yaml:"environment,omitempty" json:"environment,omitempty"`
	Timeout     time.Duration            `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Tasks       []TaskStep               `yaml:"tasks" json:"tasks"`
}

// StepKind discriminates the task step variants
type StepKind string

const (
	// StepTaskRef invokes a registered task definition
	StepTaskRef StepKind = "taskRef"
	// StepWorkflowRef invokes a sub-workflow
	StepWorkflowRef StepKind = "workflowRef"
	// StepSwitch selects a task ref from a rendered value
	StepSwitch StepKind = "switch"
)

// RetryPolicy controls per-task retry behavior. Attempts = 1 + retries.
type RetryPolicy struct {
	MaxAttempts     int           `yaml:"maxAttempts" json:"maxAttempts"`
	InitialBackoff  time.Duration `yaml:"initialBackoff,omitempty" json:"initialBackoff,omitempty"`
	Multiplier      float64       `yaml:"multiplier,omitempty" json:"multiplier,omitempty"`
	Jitter          float64       `yaml:"jitter,omitempty" json:"jitter,omitempty"`
	RetryableErrors []string      `yaml:"retryableErrors,omitempty" json:"retryableErrors,omitempty"`
}

// Condition gates a step on a truthy template expression
type Condition struct {
	If string `yaml:"if" json:"if"`
}

// SwitchCase maps a rendered value to a task ref
type SwitchCase struct {
	Match   string `yaml:"match,omitempty" json:"match,omitempty"`
	TaskRef string `yaml:"taskRef" json:"taskRef"`
}

// Switch selects a task ref by matching a rendered template value
type Switch struct {
	Value   string       `yaml:"value" json:"value"`
	Cases   []SwitchCase `yaml:"cases,omitempty" json:"cases,omitempty"`
	Default *SwitchCase  `yaml:"default,omitempty" json:"default,omitempty"`
}

// ForEach expands a step once per element of a rendered sequence
type ForEach struct {
	Items          string `yaml:"items" json:"items"`
	ItemVar        string `yaml:"itemVar,omitempty" json:"itemVar,omitempty"`
	Parallel       bool   `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	MaxConcurrency int    `yaml:"maxConcurrency,omitempty" json:"maxConcurrency,omitempty"`
}

// TaskStep is a node in a workflow definition. Exactly one of TaskRef,
// WorkflowRef, or Switch must be set; Condition and ForEach may wrap that one.
type TaskStep struct {
	ID          string                 `yaml:"id" json:"id"`
	TaskRef     string                 `yaml:"taskRef,omitempty" json:"taskRef,omitempty"`
	WorkflowRef string                 `yaml:"workflowRef,omitempty" json:"workflowRef,omitempty"`
	Input       map[string]interface{} `yaml:"input,omitempty" json:"input,omitempty"`
	DependsOn   []string               `yaml:"dependsOn,omitempty" json:"dependsOn,omitempty"`
	Timeout     time.Duration          `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Retry       *RetryPolicy           `yaml:"retry,omitempty" json:"retry,omitempty"`
	Condition   *Condition             `yaml:"condition,omitempty" json:"condition,omitempty"`
	Switch      *Switch                `yaml:"switch,omitempty" json:"switch,omitempty"`
	ForEach     *ForEach               `yaml:"forEach,omitempty" json:"forEach,omitempty"`
}

// Kind returns the step variant, assuming the step validated
func (s *TaskStep) Kind() StepKind {
	switch {
	case s.Switch != nil:
		return StepSwitch
	case s.WorkflowRef != "":
		return StepWorkflowRef
	default:
		return StepTaskRef
	}
}

// Validate enforces the one-of constraint across step variants
func (s *TaskStep) Validate() error {
	if s.ID == "" {
		return NewStepError(s.ID, "step is missing an id")
	}
	set := 0
	if s.TaskRef != "" {
		set++
	}
	if s.WorkflowRef != "" {
		set++
	}
	if s.Switch != nil {
		set++
	}
	if set == 0 {
		return NewStepError(s.ID, "step must declare one of taskRef, workflowRef, or switch")
	}
	if set > 1 {
		return NewStepError(s.ID, "step declares more than one of taskRef, workflowRef, and switch")
	}
	if s.Switch != nil && s.Switch.Value == "" {
		return NewStepError(s.ID, "switch requires a value expression")
	}
	if s.ForEach != nil && s.ForEach.Items == "" {
		return NewStepError(s.ID, "forEach requires an items expression")
	}
	return nil
}

// CircuitConfig configures the circuit breaker for a task ref
type CircuitConfig struct {
	FailureThreshold int           `yaml:"failureThreshold" json:"failureThreshold"`
	SamplingDuration time.Duration `yaml:"samplingDuration" json:"samplingDuration"`
	BreakDuration    time.Duration `yaml:"breakDuration" json:"breakDuration"`
	HalfOpenRequests int           `yaml:"halfOpenRequests" json:"halfOpenRequests"`
}

// HTTPTemplate is the request template of an HTTP-backed task definition.
// Method, URL, headers, and body are rendered against the resolved step input.
type HTTPTemplate struct {
	Method  string            `yaml:"method" json:"method"`
	URL     string            `yaml:"url" json:"url"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Body    string            `yaml:"body,omitempty" json:"body,omitempty"`
}

// TransformOp is one typed operator in a transform pipeline
type TransformOp struct {
	Op   string                 `yaml:"op" json:"op"`
	Args map[string]interface{} `yaml:"args,omitempty" json:"args,omitempty"`
}

// TaskDefinition is a registered task consumed by name from workflow steps
type TaskDefinition struct {
	Name         string                   `yaml:"name" json:"name"`
	InputSchema  map[string]InputProperty `yaml:"inputSchema,omitempty" json:"inputSchema,omitempty"`
	OutputSchema map[string]InputProperty `yaml:"outputSchema,omitempty" json:"outputSchema,omitempty"`
	HTTP         *HTTPTemplate            `yaml:"http,omitempty" json:"http,omitempty"`
	Pipeline     []TransformOp            `yaml:"pipeline,omitempty" json:"pipeline,omitempty"`
	Retry        *RetryPolicy             `yaml:"retry,omitempty" json:"retry,omitempty"`
	Timeout      time.Duration            `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Circuit      *CircuitConfig           `yaml:"circuit,omitempty" json:"circuit,omitempty"`
}

// TaskOutcome is the in-context record of a terminated task. It exists in the
// execution context only after the task terminates, and exactly once.
type TaskOutcome struct {
	// Input is the fully resolved step input the invocation ran with
	Input       map[string]interface{} `json:"input,omitempty"`
	Output      interface{}            `json:"output,omitempty"`
	Success     bool                   `json:"success"`
	Skipped     bool                   `json:"skipped,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Code        string                 `json:"code,omitempty"`
	StartedAt   time.Time              `json:"startedAt"`
	CompletedAt time.Time              `json:"completedAt"`
	RetryCount  int                    `json:"retryCount"`
}

// LoopBinding binds the current item and index inside a forEach expansion
type LoopBinding struct {
	Var   string
	Item  interface{}
	Index int
}

// ExecutionContext is the in-memory evaluation context of one workflow
// execution. The orchestrator is its single writer: task outcomes are merged
// in only at level joins, so fan-out copies never observe sibling writes.
type ExecutionContext struct {
	Input  map[string]interface{}
	Tasks  map[string]*TaskOutcome
	Env    map[string]string
	Loop   *LoopBinding
	Parent *ExecutionContext
}

// NewExecutionContext creates an empty execution context
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{
		Input: make(map[string]interface{}),
		Tasks: make(map[string]*TaskOutcome),
		Env:   make(map[string]string),
	}
}

// Clone returns a shallow fan-out copy. Task outcome pointers are shared;
// outcomes are immutable after terminate so sharing is safe.
func (c *ExecutionContext) Clone() *ExecutionContext {
	tasks := make(map[string]*TaskOutcome, len(c.Tasks))
	for id, outcome := range c.Tasks {
		tasks[id] = outcome
	}
	return &ExecutionContext{
		Input:  c.Input,
		Tasks:  tasks,
		Env:    c.Env,
		Loop:   c.Loop,
		Parent: c.Parent,
	}
}

// WithLoop returns a copy bound to one forEach element
func (c *ExecutionContext) WithLoop(itemVar string, item interface{}, index int) *ExecutionContext {
	clone := c.Clone()
	clone.Loop = &LoopBinding{Var: itemVar, Item: item, Index: index}
	return clone
}

// ExecutionRecord is the persisted record of one workflow execution.
// It is written exactly twice: once at start and once at terminate.
type ExecutionRecord struct {
	ID                string                 `json:"id"`
	WorkflowName      string                 `json:"workflowName"`
	Namespace         string                 `json:"namespace,omitempty"`
	ParentExecutionID string                 `json:"parentExecutionId,omitempty"`
	Status            ExecutionStatus        `json:"status"`
	Input             map[string]interface{} `json:"input,omitempty"`
	Output            interface{}            `json:"output,omitempty"`
	Errors            []string               `json:"errors,omitempty"`
	StartedAt         time.Time              `json:"startedAt"`
	CompletedAt       *time.Time             `json:"completedAt,omitempty"`
	DurationMs        int64                  `json:"durationMs"`
	GraphBuildMicros  int64                  `json:"graphBuildMicros,omitempty"`
	Tasks             []*TaskExecutionRecord `json:"tasks,omitempty"`
}

// TaskExecutionRecord is the persisted record of one task invocation,
// written exactly once at task terminate.
type TaskExecutionRecord struct {
	ID          string                 `json:"id"`
	ExecutionID string                 `json:"executionId"`
	TaskID      string                 `json:"taskId"`
	TaskRef     string                 `json:"taskRef,omitempty"`
	Status      TaskExecutionStatus    `json:"status"`
	Input       map[string]interface{} `json:"input,omitempty"`
	Output      interface{}            `json:"output,omitempty"`
	Errors      []string               `json:"errors,omitempty"`
	RetryCount  int                    `json:"retryCount"`
	StartedAt   time.Time              `json:"startedAt"`
	CompletedAt time.Time              `json:"completedAt"`
	DurationMs  int64                  `json:"durationMs"`
}

// WorkflowVersion is one append-only version row of a workflow definition
type WorkflowVersion struct {
	ID           string    `json:"id"`
	WorkflowName string    `json:"workflowName"`
	VersionHash  string    `json:"versionHash"`
	Definition   string    `json:"definition"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TaskFailure carries the machine code for one task failure
type TaskFailure struct {
	TaskID  string `json:"taskId"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ExecutionResult is the user-visible outcome of Execute
type ExecutionResult struct {
	ExecutionID string                 `json:"executionId"`
	Success     bool                   `json:"success"`
	Status      ExecutionStatus        `json:"status"`
	Output      interface{}            `json:"output,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Errors      []TaskFailure          `json:"errors,omitempty"`
	TaskDetails []*TaskExecutionRecord `json:"taskDetails,omitempty"`
	Duration    time.Duration          `json:"duration"`
}

// EventKind discriminates engine events
type EventKind string

const (
	// EventWorkflowStarted fires once per execution before any task starts
	EventWorkflowStarted EventKind = "WorkflowStarted"
	// EventTaskStarted fires when a task begins
	EventTaskStarted EventKind = "TaskStarted"
	// EventTaskCompleted fires after the task record is persisted
	EventTaskCompleted EventKind = "TaskCompleted"
	// EventWorkflowCompleted fires once after all task events
	EventWorkflowCompleted EventKind = "WorkflowCompleted"
	// EventSignalFlow marks the runtime edge from a completed task to a successor
	EventSignalFlow EventKind = "SignalFlow"
)

// Event is one engine event delivered to subscribers
type Event struct {
	Kind         EventKind     `json:"kind"`
	ExecutionID  string        `json:"executionId"`
	WorkflowName string        `json:"workflowName,omitempty"`
	TaskID       string        `json:"taskId,omitempty"`
	TaskName     string        `json:"taskName,omitempty"`
	Status       string        `json:"status,omitempty"`
	Output       interface{}   `json:"output,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	FromTaskID   string        `json:"fromTaskId,omitempty"`
	ToTaskID     string        `json:"toTaskId,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// ExecutionFilter narrows ListExecutions
type ExecutionFilter struct {
	WorkflowName string
	Status       ExecutionStatus
	Skip         int
	Take         int
}

// ExecutionRepository persists execution records
type ExecutionRepository interface {
	// Save upserts a record by id
	Save(record *ExecutionRecord) error

	// Get returns a record including its task execution records
	Get(id string) (*ExecutionRecord, error)

	// List returns records ordered by startedAt descending
	List(filter ExecutionFilter) ([]*ExecutionRecord, error)
}

// TaskExecutionRepository persists task execution records
type TaskExecutionRepository interface {
	// Save upserts a record by id
	Save(record *TaskExecutionRecord) error

	// ListForExecution returns records ordered by startedAt ascending
	ListForExecution(executionID string) ([]*TaskExecutionRecord, error)
}

// WorkflowVersionRepository persists append-only workflow versions
type WorkflowVersionRepository interface {
	// SaveVersion appends a version row
	SaveVersion(v *WorkflowVersion) error

	// GetVersions returns versions for a workflow, newest first
	GetVersions(workflowName string) ([]*WorkflowVersion, error)

	// GetLatestVersion returns the newest version or nil when none exists
	GetLatestVersion(workflowName string) (*WorkflowVersion, error)
}

// TriggerStateRepository persists the last fire time per trigger name
type TriggerStateRepository interface {
	// GetLastFired returns the last fire time or nil when the trigger never fired
	GetLastFired(name string) (*time.Time, error)

	// SaveLastFired records a fire time
	SaveLastFired(name string, at time.Time) error
}

// TaskDefinitionProvider resolves registered task definitions by name
type TaskDefinitionProvider interface {
	// Lookup returns the definition or a TaskNotFoundError
	Lookup(name string) (*TaskDefinition, error)
}

// WorkflowProvider lists available workflow resources for ref resolution
type WorkflowProvider interface {
	// List returns workflows, optionally narrowed to a namespace
	List(namespace string) []*WorkflowResource
}

// Clock abstracts time for testability
type Clock interface {
	// Now returns the current time
	Now() time.Time

	// Sleep waits for the duration or until the context is cancelled
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall-clock Clock
type SystemClock struct{}

// Now implements Clock
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep implements Clock
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Logger provides structured logging interface
type Logger interface {
	// Debug logs a debug message
	Debug() LogEvent

	// Info logs an info message
	Info() LogEvent

	// Warn logs a warning message
	Warn() LogEvent

	// Error logs an error message
	Error() LogEvent

	// With returns a logger with additional context
	With() LogContext
}

// LogEvent represents a log event being constructed
type LogEvent interface {
	// Str adds a string field
	Str(key, val string) LogEvent

	// Int adds an integer field
	Int(key string, val int) LogEvent

	// Dur adds a duration field
	Dur(key string, val time.Duration) LogEvent

	// Err adds an error field
	Err(err error) LogEvent

	// Bool adds a boolean field
	Bool(key string, val bool) LogEvent

	// Any adds an arbitrary field
	Any(key string, val interface{}) LogEvent

	// Msg logs the event with a message
	Msg(msg string)

	// Msgf logs the event with a formatted message
	Msgf(format string, args ...interface{})
}

// LogContext represents a logger context being constructed
type LogContext interface {
	// Str adds a string field to the context
	Str(key, val string) LogContext

	// Logger returns the logger with the built context
	Logger() Logger
}

// ValidateConcurrency validates a concurrency value and returns a valid value
// or an error. A zero value selects DefaultWorkflowConcurrency.
func ValidateConcurrency(value int) (int, error) {
	if value == 0 {
		return DefaultWorkflowConcurrency, nil
	}
	if value < MinConcurrency {
		return 0, fmt.Errorf("concurrency must be at least %d, got %d", MinConcurrency, value)
	}
	if value > MaxConcurrency {
		return 0, fmt.Errorf("concurrency cannot exceed %d, got %d", MaxConcurrency, value)
	}
	return value, nil
}
