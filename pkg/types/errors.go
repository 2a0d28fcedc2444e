// ABOUTME: Error types and stable error codes for the Weft workflow engine
// ABOUTME: Defines the failure taxonomy surfaced through execution results and API responses

package types

import (
	"errors"
	"fmt"
	"strings"
)

// Stable error codes carried on typed errors and task failure records
const (
	CodeTemplateError      = "TEMPLATE_ERROR"
	CodeGraphCycle         = "GRAPH_CYCLE"
	CodeUnknownTaskRef     = "UNKNOWN_TASK_REF"
	CodeDuplicateTaskID    = "DUPLICATE_TASK_ID"
	CodeInvalidStep        = "INVALID_STEP"
	CodeInputValidation    = "INPUT_VALIDATION"
	CodeTaskTimeout        = "TASK_TIMEOUT"
	CodeTaskFailed         = "TASK_FAILED"
	CodeCircuitOpen        = "CIRCUIT_OPEN"
	CodeRetryExhausted     = "RETRY_EXHAUSTED"
	CodeSubWorkflowMissing = "SUBWORKFLOW_NOT_FOUND"
	CodeSubWorkflowCyclic  = "SUBWORKFLOW_CYCLIC"
	CodeCronInvalid        = "CRON_INVALID"
	CodeCancelled          = "CANCELLED"
	CodePersistence        = "PERSISTENCE"
)

// Coded is implemented by errors that carry a stable machine code
type Coded interface {
	Code() string
}

// CodeOf extracts the stable code from an error chain, defaulting to TASK_FAILED
func CodeOf(err error) string {
	var coded Coded
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return CodeTaskFailed
}

// TemplateError represents a failure resolving a template expression
type TemplateError struct {
	Template string
	Message  string
	Cause    error
}

func (e *TemplateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("template error in '%s': %s: %v", e.Template, e.Message, e.Cause)
	}
	return fmt.Sprintf("template error in '%s': %s", e.Template, e.Message)
}

func (e *TemplateError) Unwrap() error { return e.Cause }

// Code implements Coded
func (e *TemplateError) Code() string { return CodeTemplateError }

// NewTemplateError creates a new template error
func NewTemplateError(template, message string, cause error) *TemplateError {
	return &TemplateError{Template: template, Message: message, Cause: cause}
}

// GraphError represents a failure constructing the execution graph
type GraphError struct {
	ErrCode string
	TaskID  string
	Message string
}

func (e *GraphError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("graph error for task '%s': %s", e.TaskID, e.Message)
	}
	return fmt.Sprintf("graph error: %s", e.Message)
}

// Code implements Coded
func (e *GraphError) Code() string { return e.ErrCode }

// NewCycleError creates a graph cycle error naming the witness cycle
func NewCycleError(cycle []string) *GraphError {
	return &GraphError{
		ErrCode: CodeGraphCycle,
		Message: fmt.Sprintf("Circular dependency: %s", strings.Join(cycle, " → ")),
	}
}

// NewUnknownTaskError creates an error for a reference to a nonexistent task id
func NewUnknownTaskError(taskID, ref string) *GraphError {
	return &GraphError{
		ErrCode: CodeUnknownTaskRef,
		TaskID:  taskID,
		Message: fmt.Sprintf("unknown task id '%s' referenced", ref),
	}
}

// NewDuplicateTaskError creates an error for a duplicated step id
func NewDuplicateTaskError(taskID string) *GraphError {
	return &GraphError{
		ErrCode: CodeDuplicateTaskID,
		TaskID:  taskID,
		Message: fmt.Sprintf("duplicate task id '%s'", taskID),
	}
}

// StepError represents an invalid task step declaration
type StepError struct {
	TaskID  string
	Message string
}

func (e *StepError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("invalid step '%s': %s", e.TaskID, e.Message)
	}
	return fmt.Sprintf("invalid step: %s", e.Message)
}

// Code implements Coded
func (e *StepError) Code() string { return CodeInvalidStep }

// NewStepError creates a new step validation error
func NewStepError(taskID, message string) *StepError {
	return &StepError{TaskID: taskID, Message: message}
}

// InputValidationError represents a workflow input schema mismatch
type InputValidationError struct {
	Property string
	Message  string
}

func (e *InputValidationError) Error() string {
	if e.Property != "" {
		return fmt.Sprintf("input validation failed for '%s': %s", e.Property, e.Message)
	}
	return fmt.Sprintf("input validation failed: %s", e.Message)
}

// Code implements Coded
func (e *InputValidationError) Code() string { return CodeInputValidation }

// NewInputValidationError creates a new input validation error
func NewInputValidationError(property, message string) *InputValidationError {
	return &InputValidationError{Property: property, Message: message}
}

// TaskError represents a terminal task invocation failure
type TaskError struct {
	ErrCode string
	TaskID  string
	TaskRef string
	Message string
	Cause   error
}

func (e *TaskError) Error() string {
	name := e.TaskID
	if e.TaskRef != "" {
		name = fmt.Sprintf("%s (%s)", name, e.TaskRef)
	}
	if e.Cause != nil {
		return fmt.Sprintf("task '%s': %s: %v", name, e.Message, e.Cause)
	}
	return fmt.Sprintf("task '%s': %s", name, e.Message)
}

func (e *TaskError) Unwrap() error { return e.Cause }

// Code implements Coded
func (e *TaskError) Code() string { return e.ErrCode }

// NewTaskError creates a terminal task failure with an explicit code
func NewTaskError(code, taskID, taskRef, message string, cause error) *TaskError {
	return &TaskError{ErrCode: code, TaskID: taskID, TaskRef: taskRef, Message: message, Cause: cause}
}

// CircuitOpenError indicates the breaker refused the invocation
type CircuitOpenError struct {
	TaskRef string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for task ref '%s'", e.TaskRef)
}

// Code implements Coded
func (e *CircuitOpenError) Code() string { return CodeCircuitOpen }

// RetryExhaustedError indicates all attempts failed
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// Code implements Coded
func (e *RetryExhaustedError) Code() string { return CodeRetryExhausted }

// RefError represents a sub-workflow reference resolution failure
type RefError struct {
	ErrCode string
	Ref     string
	Message string
}

func (e *RefError) Error() string {
	return fmt.Sprintf("workflow ref '%s': %s", e.Ref, e.Message)
}

// Code implements Coded
func (e *RefError) Code() string { return e.ErrCode }

// NewRefNotFoundError creates a not-found reference error
func NewRefNotFoundError(ref string) *RefError {
	return &RefError{ErrCode: CodeSubWorkflowMissing, Ref: ref, Message: "no matching workflow"}
}

// NewRefAmbiguousError creates a multiple-matches reference error
func NewRefAmbiguousError(ref string, count int) *RefError {
	return &RefError{
		ErrCode: CodeSubWorkflowMissing,
		Ref:     ref,
		Message: fmt.Sprintf("%d workflows match", count),
	}
}

// CyclicWorkflowError indicates cyclic sub-workflow composition
type CyclicWorkflowError struct {
	Cycle []string
}

func (e *CyclicWorkflowError) Error() string {
	return fmt.Sprintf("cyclic sub-workflow composition: %s", strings.Join(e.Cycle, " → "))
}

// Code implements Coded
func (e *CyclicWorkflowError) Code() string { return CodeSubWorkflowCyclic }

// CronError represents an invalid cron expression
type CronError struct {
	Expression string
	Cause      error
}

func (e *CronError) Error() string {
	return fmt.Sprintf("invalid cron expression '%s': %v", e.Expression, e.Cause)
}

func (e *CronError) Unwrap() error { return e.Cause }

// Code implements Coded
func (e *CronError) Code() string { return CodeCronInvalid }

// PersistenceError wraps a repository failure; non-fatal unless terminal
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

// Code implements Coded
func (e *PersistenceError) Code() string { return CodePersistence }

// TaskNotFoundError indicates no task definition is registered under a name
type TaskNotFoundError struct {
	Name string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task definition '%s' not found", e.Name)
}

// Code implements Coded
func (e *TaskNotFoundError) Code() string { return CodeUnknownTaskRef }
