// ABOUTME: YAML loader for workflow resources and task definitions
// ABOUTME: Strict-decodes kind-discriminated documents from files and directories

package loader

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/weftwork/weft/pkg/types"
)

// Document kinds accepted by the loader
const (
	KindWorkflow       = "Workflow"
	KindTaskDefinition = "TaskDefinition"
)

// DefaultNamespace applies when a workflow declares none
const DefaultNamespace = "default"

// Bundle is the result of loading a file or directory tree
type Bundle struct {
	Workflows []*types.WorkflowResource
	Tasks     []*types.TaskDefinition
}

// Loader reads workflow and task definition documents from a filesystem
type Loader struct {
	fs     afero.Fs
	logger types.Logger
}

// New creates a loader. A nil filesystem uses the OS filesystem.
func New(fs afero.Fs, logger types.Logger) *Loader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Loader{fs: fs, logger: logger}
}

// LoadFile parses every YAML document in one file
func (l *Loader) LoadFile(path string) (*Bundle, error) {
	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	bundle, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bundle, nil
}

// LoadDir walks a directory tree and loads every .yaml and .yml file
func (l *Loader) LoadDir(root string) (*Bundle, error) {
	merged := &Bundle{}
	err := afero.Walk(l.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !isYAML(path) {
			return nil
		}
		bundle, err := l.LoadFile(path)
		if err != nil {
			return err
		}
		merged.Workflows = append(merged.Workflows, bundle.Workflows...)
		merged.Tasks = append(merged.Tasks, bundle.Tasks...)
		if l.logger != nil {
			l.logger.Debug().
				Str("path", path).
				Int("workflows", len(bundle.Workflows)).
				Int("tasks", len(bundle.Tasks)).
				Msg("Loaded definitions")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// Parse decodes a multi-document YAML stream
func (l *Loader) Parse(data []byte) (*Bundle, error) {
	bundle := &Bundle{}
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))

	for index := 0; ; index++ {
		var node yaml.Node
		if err := decoder.Decode(&node); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("document %d: failed to parse YAML: %w", index, err)
		}
		if node.Kind == 0 || node.IsZero() {
			continue
		}

		kind, err := documentKind(&node)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", index, err)
		}

		switch kind {
		case KindWorkflow:
			wf, err := decodeWorkflow(&node)
			if err != nil {
				return nil, fmt.Errorf("document %d: %w", index, err)
			}
			bundle.Workflows = append(bundle.Workflows, wf)
		case KindTaskDefinition:
			def, err := decodeTaskDefinition(&node)
			if err != nil {
				return nil, fmt.Errorf("document %d: %w", index, err)
			}
			bundle.Tasks = append(bundle.Tasks, def)
		default:
			return nil, fmt.Errorf("document %d: unknown kind '%s'", index, kind)
		}
	}
	return bundle, nil
}

func isYAML(path string) bool {
	return strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")
}

// documentKind peeks at the kind field before strict decoding
func documentKind(node *yaml.Node) (string, error) {
	var probe struct {
		Kind string `yaml:"kind"`
	}
	if err := node.Decode(&probe); err != nil {
		return "", fmt.Errorf("failed to read document kind: %w", err)
	}
	if probe.Kind == "" {
		return "", fmt.Errorf("document is missing a kind")
	}
	return probe.Kind, nil
}

// strictDecode re-encodes the node and decodes with unknown fields rejected
func strictDecode(node *yaml.Node, out interface{}) error {
	data, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	return decoder.Decode(out)
}

// File-format structs. Durations are strings ("30s") in YAML and converted
// on the way into the engine types.

type workflowFile struct {
	Kind        string                         `yaml:"kind"`
	Metadata    types.Metadata                 `yaml:"metadata"`
	Input       map[string]types.InputProperty `yaml:"input,omitempty"`
	Output      map[string]string              `yaml:"output,omitempty"`
	Environment map[string]string              `yaml:"environment,omitempty"`
	Timeout     string                         `yaml:"timeout,omitempty"`
	Tasks       []taskStepFile                 `yaml:"tasks,omitempty"`
}

type taskStepFile struct {
	ID          string                 `yaml:"id"`
	TaskRef     string                 `yaml:"taskRef,omitempty"`
	WorkflowRef string                 `yaml:"workflowRef,omitempty"`
	Input       map[string]interface{} `yaml:"input,omitempty"`
	DependsOn   []string               `yaml:"dependsOn,omitempty"`
	Timeout     string                 `yaml:"timeout,omitempty"`
	Retry       *retryFile             `yaml:"retry,omitempty"`
	Condition   *types.Condition       `yaml:"condition,omitempty"`
	Switch      *types.Switch          `yaml:"switch,omitempty"`
	ForEach     *types.ForEach         `yaml:"forEach,omitempty"`
}

type retryFile struct {
	MaxAttempts     int      `yaml:"maxAttempts"`
	InitialBackoff  string   `yaml:"initialBackoff,omitempty"`
	Multiplier      float64  `yaml:"multiplier,omitempty"`
	Jitter          float64  `yaml:"jitter,omitempty"`
	RetryableErrors []string `yaml:"retryableErrors,omitempty"`
}

type circuitFile struct {
	FailureThreshold int    `yaml:"failureThreshold"`
	SamplingDuration string `yaml:"samplingDuration,omitempty"`
	BreakDuration    string `yaml:"breakDuration,omitempty"`
	HalfOpenRequests int    `yaml:"halfOpenRequests,omitempty"`
}

type taskDefFile struct {
	Kind         string                         `yaml:"kind"`
	Name         string                         `yaml:"name"`
	InputSchema  map[string]types.InputProperty `yaml:"inputSchema,omitempty"`
	OutputSchema map[string]types.InputProperty `yaml:"outputSchema,omitempty"`
	HTTP         *types.HTTPTemplate            `yaml:"http,omitempty"`
	Pipeline     []types.TransformOp            `yaml:"pipeline,omitempty"`
	Retry        *retryFile                     `yaml:"retry,omitempty"`
	Timeout      string                         `yaml:"timeout,omitempty"`
	Circuit      *circuitFile                   `yaml:"circuit,omitempty"`
}

func decodeWorkflow(node *yaml.Node) (*types.WorkflowResource, error) {
	var file workflowFile
	if err := strictDecode(node, &file); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}
	if file.Metadata.Name == "" {
		return nil, fmt.Errorf("workflow is missing metadata.name")
	}
	if file.Metadata.Namespace == "" {
		file.Metadata.Namespace = DefaultNamespace
	}

	timeout, err := parseDuration(file.Timeout, "timeout")
	if err != nil {
		return nil, err
	}

	wf := &types.WorkflowResource{
		Metadata:    file.Metadata,
		Input:       file.Input,
		Output:      file.Output,
		Environment: file.Environment,
		Timeout:     timeout,
	}
	for i := range file.Tasks {
		step, err := convertStep(&file.Tasks[i])
		if err != nil {
			return nil, err
		}
		if err := step.Validate(); err != nil {
			return nil, err
		}
		wf.Tasks = append(wf.Tasks, *step)
	}
	return wf, nil
}

func convertStep(file *taskStepFile) (*types.TaskStep, error) {
	timeout, err := parseDuration(file.Timeout, fmt.Sprintf("task '%s' timeout", file.ID))
	if err != nil {
		return nil, err
	}
	retry, err := convertRetry(file.Retry, file.ID)
	if err != nil {
		return nil, err
	}
	return &types.TaskStep{
		ID:          file.ID,
		TaskRef:     file.TaskRef,
		WorkflowRef: file.WorkflowRef,
		Input:       file.Input,
		DependsOn:   file.DependsOn,
		Timeout:     timeout,
		Retry:       retry,
		Condition:   file.Condition,
		Switch:      file.Switch,
		ForEach:     file.ForEach,
	}, nil
}

func decodeTaskDefinition(node *yaml.Node) (*types.TaskDefinition, error) {
	var file taskDefFile
	if err := strictDecode(node, &file); err != nil {
		return nil, fmt.Errorf("invalid task definition: %w", err)
	}
	if file.Name == "" {
		return nil, fmt.Errorf("task definition is missing a name")
	}
	if file.HTTP == nil && len(file.Pipeline) == 0 {
		return nil, fmt.Errorf("task definition '%s' declares neither http nor pipeline", file.Name)
	}
	if file.HTTP != nil && len(file.Pipeline) > 0 {
		return nil, fmt.Errorf("task definition '%s' declares both http and pipeline", file.Name)
	}
	if file.HTTP != nil && (file.HTTP.Method == "" || file.HTTP.URL == "") {
		return nil, fmt.Errorf("task definition '%s' http requires method and url", file.Name)
	}

	timeout, err := parseDuration(file.Timeout, fmt.Sprintf("task '%s' timeout", file.Name))
	if err != nil {
		return nil, err
	}
	retry, err := convertRetry(file.Retry, file.Name)
	if err != nil {
		return nil, err
	}
	circuit, err := convertCircuit(file.Circuit, file.Name)
	if err != nil {
		return nil, err
	}

	return &types.TaskDefinition{
		Name:         file.Name,
		InputSchema:  file.InputSchema,
		OutputSchema: file.OutputSchema,
		HTTP:         file.HTTP,
		Pipeline:     file.Pipeline,
		Retry:        retry,
		Timeout:      timeout,
		Circuit:      circuit,
	}, nil
}

func convertRetry(file *retryFile, owner string) (*types.RetryPolicy, error) {
	if file == nil {
		return nil, nil
	}
	if file.MaxAttempts < 1 {
		return nil, fmt.Errorf("'%s' retry maxAttempts must be at least 1", owner)
	}
	backoff, err := parseDuration(file.InitialBackoff, fmt.Sprintf("'%s' retry initialBackoff", owner))
	if err != nil {
		return nil, err
	}
	return &types.RetryPolicy{
		MaxAttempts:     file.MaxAttempts,
		InitialBackoff:  backoff,
		Multiplier:      file.Multiplier,
		Jitter:          file.Jitter,
		RetryableErrors: file.RetryableErrors,
	}, nil
}

func convertCircuit(file *circuitFile, owner string) (*types.CircuitConfig, error) {
	if file == nil {
		return nil, nil
	}
	if file.FailureThreshold < 1 {
		return nil, fmt.Errorf("'%s' circuit failureThreshold must be at least 1", owner)
	}
	sampling, err := parseDuration(file.SamplingDuration, fmt.Sprintf("'%s' circuit samplingDuration", owner))
	if err != nil {
		return nil, err
	}
	breakFor, err := parseDuration(file.BreakDuration, fmt.Sprintf("'%s' circuit breakDuration", owner))
	if err != nil {
		return nil, err
	}
	return &types.CircuitConfig{
		FailureThreshold: file.FailureThreshold,
		SamplingDuration: sampling,
		BreakDuration:    breakFor,
		HalfOpenRequests: file.HalfOpenRequests,
	}, nil
}

func parseDuration(value, field string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s '%s': %w", field, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s cannot be negative", field)
	}
	return d, nil
}
