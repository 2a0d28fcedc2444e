// ABOUTME: Tests for the task executor against httptest servers and stub providers
// ABOUTME: Covers HTTP retries, breaker refusal, control-flow variants, and transforms

package taskexec

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/weftwork/weft/internal/breaker"
	"github.com/weftwork/weft/internal/retry"
	"github.com/weftwork/weft/internal/template"
	"github.com/weftwork/weft/pkg/types"
)

type defProvider map[string]*types.TaskDefinition

func (p defProvider) Lookup(name string) (*types.TaskDefinition, error) {
	if def, ok := p[name]; ok {
		return def, nil
	}
	return nil, &types.TaskNotFoundError{Name: name}
}

func newExecutor(defs defProvider) *Executor {
	return New(
		template.New(),
		defs,
		breaker.NewTable(nil),
		retry.New(nil, nil),
		&http.Client{},
		nil,
		nil,
	)
}

func contextWithInput(input map[string]interface{}) *types.ExecutionContext {
	ec := types.NewExecutionContext()
	ec.Input = input
	return ec
}

func fastRetry(attempts int) *types.RetryPolicy {
	return &types.RetryPolicy{MaxAttempts: attempts, InitialBackoff: time.Millisecond, Multiplier: 1, Jitter: 0}
}

func TestExecuteStep_HTTPSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/u-1" {
			t.Errorf("Expected rendered path, got %s", r.URL.Path)
		}
		w.Write([]byte(`{"email": "ada@example.com"}`))
	}))
	defer server.Close()

	executor := newExecutor(defProvider{
		"fetch-user": {
			Name: "fetch-user",
			HTTP: &types.HTTPTemplate{Method: "GET", URL: server.URL + "/users/{{input.id}}"},
		},
	})

	step := &types.TaskStep{ID: "t1", TaskRef: "fetch-user", Input: map[string]interface{}{"id": "{{input.userId}}"}}
	outcome := executor.ExecuteStep(context.Background(), step, contextWithInput(map[string]interface{}{"userId": "u-1"}))

	if !outcome.Success {
		t.Fatalf("Expected success, got %s", outcome.Error)
	}
	output, ok := outcome.Output.(map[string]interface{})
	if !ok || output["email"] != "ada@example.com" {
		t.Errorf("Expected parsed JSON output, got %v", outcome.Output)
	}
}

func TestExecuteStep_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	executor := newExecutor(defProvider{
		"flaky": {
			Name:  "flaky",
			HTTP:  &types.HTTPTemplate{Method: "GET", URL: server.URL},
			Retry: fastRetry(5),
		},
	})

	outcome := executor.ExecuteStep(context.Background(),
		&types.TaskStep{ID: "t1", TaskRef: "flaky"}, types.NewExecutionContext())

	if !outcome.Success {
		t.Fatalf("Expected eventual success, got %s", outcome.Error)
	}
	if outcome.RetryCount != 2 {
		t.Errorf("Expected 2 retries, got %d", outcome.RetryCount)
	}
}

func TestExecuteStep_ClientErrorIsTerminal(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	executor := newExecutor(defProvider{
		"lookup": {
			Name:  "lookup",
			HTTP:  &types.HTTPTemplate{Method: "GET", URL: server.URL},
			Retry: fastRetry(5),
		},
	})

	outcome := executor.ExecuteStep(context.Background(),
		&types.TaskStep{ID: "t1", TaskRef: "lookup"}, types.NewExecutionContext())

	if outcome.Success {
		t.Fatal("Expected failure")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected single attempt for 404, got %d", got)
	}
}

func TestExecuteStep_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	executor := newExecutor(defProvider{
		"slow": {Name: "slow", HTTP: &types.HTTPTemplate{Method: "GET", URL: server.URL}},
	})

	step := &types.TaskStep{ID: "t1", TaskRef: "slow", Timeout: 20 * time.Millisecond}
	outcome := executor.ExecuteStep(context.Background(), step, types.NewExecutionContext())

	if outcome.Success {
		t.Fatal("Expected timeout failure")
	}
	if !strings.Contains(outcome.Error, "exceeded") {
		t.Errorf("Expected timeout error, got %s", outcome.Error)
	}
}

func TestExecuteStep_CircuitRefusesAfterThreshold(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	executor := newExecutor(defProvider{
		"down": {
			Name: "down",
			HTTP: &types.HTTPTemplate{Method: "GET", URL: server.URL},
			Circuit: &types.CircuitConfig{
				FailureThreshold: 2,
				SamplingDuration: time.Minute,
				BreakDuration:    time.Minute,
				HalfOpenRequests: 1,
			},
		},
	})

	step := &types.TaskStep{ID: "t1", TaskRef: "down"}
	for i := 0; i < 2; i++ {
		executor.ExecuteStep(context.Background(), step, types.NewExecutionContext())
	}

	outcome := executor.ExecuteStep(context.Background(), step, types.NewExecutionContext())
	if outcome.Success {
		t.Fatal("Expected circuit refusal")
	}
	if !strings.Contains(outcome.Error, "circuit open") {
		t.Errorf("Expected circuit open error, got %s", outcome.Error)
	}
}

func TestExecuteStep_ConditionSkips(t *testing.T) {
	executor := newExecutor(defProvider{})

	step := &types.TaskStep{
		ID:        "t1",
		TaskRef:   "never-called",
		Condition: &types.Condition{If: "{{input.enabled}}"},
	}
	outcome := executor.ExecuteStep(context.Background(), step,
		contextWithInput(map[string]interface{}{"enabled": false}))

	if !outcome.Skipped {
		t.Errorf("Expected skipped outcome, got %+v", outcome)
	}
	if outcome.Output != nil {
		t.Error("Expected skipped task to contribute no output")
	}
}

func TestExecuteStep_Switch(t *testing.T) {
	var path atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	defs := defProvider{
		"notify-email": {Name: "notify-email", HTTP: &types.HTTPTemplate{Method: "POST", URL: server.URL + "/email"}},
		"notify-sms":   {Name: "notify-sms", HTTP: &types.HTTPTemplate{Method: "POST", URL: server.URL + "/sms"}},
	}
	executor := newExecutor(defs)

	step := &types.TaskStep{
		ID: "t1",
		Switch: &types.Switch{
			Value: "{{input.channel}}",
			Cases: []types.SwitchCase{
				{Match: "email", TaskRef: "notify-email"},
				{Match: "sms", TaskRef: "notify-sms"},
			},
			Default: &types.SwitchCase{TaskRef: "notify-email"},
		},
	}

	outcome := executor.ExecuteStep(context.Background(), step,
		contextWithInput(map[string]interface{}{"channel": "sms"}))
	if !outcome.Success || path.Load() != "/sms" {
		t.Errorf("Expected sms case, got %v via %v", outcome, path.Load())
	}

	outcome = executor.ExecuteStep(context.Background(), step,
		contextWithInput(map[string]interface{}{"channel": "pigeon"}))
	if !outcome.Success || path.Load() != "/email" {
		t.Errorf("Expected default case, got %v via %v", outcome, path.Load())
	}
}

func TestExecuteStep_SwitchWithoutDefaultSkips(t *testing.T) {
	executor := newExecutor(defProvider{})

	step := &types.TaskStep{
		ID: "t1",
		Switch: &types.Switch{
			Value: "{{input.channel}}",
			Cases: []types.SwitchCase{{Match: "email", TaskRef: "notify-email"}},
		},
	}
	outcome := executor.ExecuteStep(context.Background(), step,
		contextWithInput(map[string]interface{}{"channel": "pigeon"}))
	if !outcome.Skipped {
		t.Errorf("Expected skip when nothing matches, got %+v", outcome)
	}
}

func TestExecuteStep_ForEachSequential(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Write([]byte(`{"path": "` + r.URL.Path + `"}`))
	}))
	defer server.Close()

	executor := newExecutor(defProvider{
		"ping": {Name: "ping", HTTP: &types.HTTPTemplate{Method: "GET", URL: server.URL + "/{{input.target}}"}},
	})

	step := &types.TaskStep{
		ID:      "t1",
		TaskRef: "ping",
		ForEach: &types.ForEach{Items: "{{input.targets}}"},
		Input:   map[string]interface{}{"target": "{{item}}"},
	}
	outcome := executor.ExecuteStep(context.Background(), step,
		contextWithInput(map[string]interface{}{"targets": []interface{}{"a", "b", "c"}}))

	if !outcome.Success {
		t.Fatalf("Expected success, got %s", outcome.Error)
	}
	outputs, ok := outcome.Output.([]interface{})
	if !ok || len(outputs) != 3 {
		t.Fatalf("Expected 3 ordered outputs, got %v", outcome.Output)
	}
	if outputs[1].(map[string]interface{})["path"] != "/b" {
		t.Errorf("Expected ordered outputs, got %v", outputs)
	}
	if len(paths) != 3 || paths[0] != "/a" || paths[2] != "/c" {
		t.Errorf("Expected sequential request order, got %v", paths)
	}
}

func TestExecuteStep_ForEachParallelPreservesOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Later items respond faster to expose ordering bugs.
		if r.URL.Path == "/0" {
			time.Sleep(30 * time.Millisecond)
		}
		w.Write([]byte(`{"path": "` + r.URL.Path + `"}`))
	}))
	defer server.Close()

	executor := newExecutor(defProvider{
		"ping": {Name: "ping", HTTP: &types.HTTPTemplate{Method: "GET", URL: server.URL + "/{{input.position}}"}},
	})

	step := &types.TaskStep{
		ID:      "t1",
		TaskRef: "ping",
		ForEach: &types.ForEach{Items: "{{input.targets}}", Parallel: true, MaxConcurrency: 3},
		Input:   map[string]interface{}{"position": "{{index}}"},
	}
	outcome := executor.ExecuteStep(context.Background(), step,
		contextWithInput(map[string]interface{}{"targets": []interface{}{"a", "b", "c"}}))

	if !outcome.Success {
		t.Fatalf("Expected success, got %s", outcome.Error)
	}
	outputs := outcome.Output.([]interface{})
	for i, want := range []string{"/0", "/1", "/2"} {
		if outputs[i].(map[string]interface{})["path"] != want {
			t.Errorf("Expected output %d to be %s, got %v", i, want, outputs[i])
		}
	}
}

func TestExecuteStep_ForEachSequentialStopsOnFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 2 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	executor := newExecutor(defProvider{
		"ping": {Name: "ping", HTTP: &types.HTTPTemplate{Method: "GET", URL: server.URL}},
	})

	step := &types.TaskStep{
		ID:      "t1",
		TaskRef: "ping",
		ForEach: &types.ForEach{Items: "{{input.targets}}"},
	}
	outcome := executor.ExecuteStep(context.Background(), step,
		contextWithInput(map[string]interface{}{"targets": []interface{}{"a", "b", "c"}}))

	if outcome.Success {
		t.Fatal("Expected failure")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("Expected sequential mode to stop after the failure, got %d calls", got)
	}
}

func TestExecuteStep_TransformPipeline(t *testing.T) {
	executor := newExecutor(defProvider{
		"top-scores": {
			Name: "top-scores",
			Pipeline: []types.TransformOp{
				{Op: "filter", Args: map[string]interface{}{"field": "score", "op": "gte", "value": float64(50)}},
				{Op: "sortBy", Args: map[string]interface{}{"field": "score", "order": "desc"}},
				{Op: "limit", Args: map[string]interface{}{"count": 1}},
			},
		},
	})

	step := &types.TaskStep{
		ID:      "t1",
		TaskRef: "top-scores",
		Input:   map[string]interface{}{"items": "{{input.rows}}"},
	}
	outcome := executor.ExecuteStep(context.Background(), step,
		contextWithInput(map[string]interface{}{"rows": []interface{}{
			map[string]interface{}{"name": "low", "score": float64(10)},
			map[string]interface{}{"name": "high", "score": float64(90)},
		}}))

	if !outcome.Success {
		t.Fatalf("Expected success, got %s", outcome.Error)
	}
	rows := outcome.Output.([]interface{})
	if len(rows) != 1 || rows[0].(map[string]interface{})["name"] != "high" {
		t.Errorf("Expected top row, got %v", rows)
	}
}

type stubSubRunner struct {
	gotRef   string
	gotInput map[string]interface{}
}

func (s *stubSubRunner) RunSubWorkflow(_ context.Context, ref string, input map[string]interface{}, _ *types.ExecutionContext) (*types.TaskOutcome, error) {
	s.gotRef = ref
	s.gotInput = input
	return &types.TaskOutcome{Success: true, Output: map[string]interface{}{"child": true}}, nil
}

func TestExecuteStep_SubWorkflowDelegation(t *testing.T) {
	executor := newExecutor(defProvider{})
	runner := &stubSubRunner{}
	executor.SetSubWorkflowRunner(runner)

	step := &types.TaskStep{
		ID:          "t1",
		WorkflowRef: "payments/billing@v2",
		Input:       map[string]interface{}{"userId": "{{input.userId}}"},
	}
	outcome := executor.ExecuteStep(context.Background(), step,
		contextWithInput(map[string]interface{}{"userId": "u-9"}))

	if !outcome.Success {
		t.Fatalf("Expected success, got %s", outcome.Error)
	}
	if runner.gotRef != "payments/billing@v2" || runner.gotInput["userId"] != "u-9" {
		t.Errorf("Expected rendered delegation, got %s %v", runner.gotRef, runner.gotInput)
	}
}

func TestExecuteStep_UnknownTaskRef(t *testing.T) {
	executor := newExecutor(defProvider{})
	outcome := executor.ExecuteStep(context.Background(),
		&types.TaskStep{ID: "t1", TaskRef: "ghost"}, types.NewExecutionContext())
	if outcome.Success {
		t.Fatal("Expected failure for unknown task definition")
	}
	if !strings.Contains(outcome.Error, "not found") {
		t.Errorf("Expected not-found error, got %s", outcome.Error)
	}
}
