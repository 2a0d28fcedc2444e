// ABOUTME: Engine assembly shared by the CLI commands
// ABOUTME: Wires loader, registries, store, versioner, publisher, and orchestrator together

package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/weftwork/weft/internal/breaker"
	"github.com/weftwork/weft/internal/events"
	"github.com/weftwork/weft/internal/loader"
	"github.com/weftwork/weft/internal/orchestrator"
	"github.com/weftwork/weft/internal/registry"
	"github.com/weftwork/weft/internal/retry"
	"github.com/weftwork/weft/internal/store"
	"github.com/weftwork/weft/internal/taskexec"
	"github.com/weftwork/weft/internal/template"
	"github.com/weftwork/weft/internal/version"
	"github.com/weftwork/weft/pkg/types"
)

// engine bundles the assembled runtime for one command invocation
type engine struct {
	store        *store.Store
	tasks        *registry.TaskRegistry
	workflows    *registry.WorkflowRegistry
	publisher    *events.Publisher
	orchestrator *orchestrator.Orchestrator
	versioner    *version.Service
}

// buildEngine assembles the engine against the configured database. Extra
// definition paths (files or directories) are loaded on top of the configured
// definitions directory.
func buildEngine(extraDefs []string) (*engine, error) {
	log := GetLogger()

	s, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if recovered, err := s.RecoverInterrupted(); err != nil {
		log.Warn().Err(err).Msg("Failed to recover interrupted executions")
	} else if recovered > 0 {
		log.Info().Int("count", int(recovered)).Msg("Marked interrupted executions as failed")
	}

	e := &engine{
		store:     s,
		tasks:     registry.NewTaskRegistry(),
		workflows: registry.NewWorkflowRegistry(),
		publisher: events.NewPublisher(cfg.EventQueueSize, log),
	}

	paths := extraDefs
	if cfg.DefinitionsDir != "" {
		paths = append([]string{cfg.DefinitionsDir}, paths...)
	}
	if err := e.loadDefinitions(paths); err != nil {
		s.Close()
		return nil, err
	}

	e.versioner = version.NewService(s.Versions(), nil, log)

	resolver := template.New()
	executor := taskexec.New(resolver, e.tasks, breaker.NewTable(nil), retry.New(nil, log), &http.Client{}, nil, log)
	e.orchestrator = orchestrator.New(
		orchestrator.Config{
			MaxWorkflowConcurrency: cfg.MaxWorkflowConcurrency,
			Environment:            cfg.Environment,
		},
		executor, resolver,
		s.Executions(), s.TaskExecutions(),
		e.versioner, e.workflows, e.publisher, nil, log,
	)
	return e, nil
}

// close releases engine resources
func (e *engine) close() {
	e.publisher.Close()
	if err := e.store.Close(); err != nil {
		GetLogger().Warn().Err(err).Msg("Failed to close store")
	}
}

// loadDefinitions reads workflow and task documents from files or directories
func (e *engine) loadDefinitions(paths []string) error {
	l := loader.New(nil, GetLogger())
	for _, path := range paths {
		bundle, err := loadPath(l, path)
		if err != nil {
			return err
		}
		for _, def := range bundle.Tasks {
			e.tasks.Register(def)
		}
		for _, wf := range bundle.Workflows {
			e.workflows.Register(wf)
		}
	}
	return nil
}

func loadPath(l *loader.Loader, path string) (*loader.Bundle, error) {
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		return l.LoadFile(path)
	}
	return l.LoadDir(path)
}

// findWorkflow returns the named workflow, or the only loaded one when no
// name is given.
func (e *engine) findWorkflow(name string) (*types.WorkflowResource, error) {
	if name != "" {
		wf := e.workflows.Find("", name)
		if wf == nil {
			return nil, fmt.Errorf("workflow '%s' is not loaded", name)
		}
		return wf, nil
	}
	all := e.workflows.List("")
	switch len(all) {
	case 0:
		return nil, fmt.Errorf("no workflow definitions loaded")
	case 1:
		return all[0], nil
	default:
		names := make([]string, 0, len(all))
		for _, wf := range all {
			names = append(names, wf.Metadata.Name)
		}
		return nil, fmt.Errorf("multiple workflows loaded (%s), pick one with --workflow", strings.Join(names, ", "))
	}
}

// parseInput merges --input key=value pairs over an optional --input-json body
func parseInput(pairs []string, jsonBody string) (map[string]interface{}, error) {
	input := make(map[string]interface{})
	if jsonBody != "" {
		if err := json.Unmarshal([]byte(jsonBody), &input); err != nil {
			return nil, fmt.Errorf("invalid --input-json: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --input '%s', expected key=value", pair)
		}
		// Values that parse as JSON keep their type; everything else is a string.
		var typed interface{}
		if err := json.Unmarshal([]byte(value), &typed); err == nil {
			input[key] = typed
		} else {
			input[key] = value
		}
	}
	return input, nil
}
