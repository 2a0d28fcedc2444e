// ABOUTME: Minute-boundary scheduler loop firing workflows whose cron triggers are due
// ABOUTME: Persists last fire times so restarts do not double-fire or lose schedules

package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/weftwork/weft/pkg/types"
)

// Trigger binds a cron expression to a workflow invocation
type Trigger struct {
	Name         string
	Expression   string
	WorkflowName string
	Input        map[string]interface{}
}

// FireFunc starts a workflow execution for a due trigger
type FireFunc func(ctx context.Context, trigger Trigger) error

// Scheduler examines registered triggers once per minute boundary
type Scheduler struct {
	mu       sync.RWMutex
	triggers map[string]Trigger

	states types.TriggerStateRepository
	clock  types.Clock
	logger types.Logger
	fire   FireFunc
}

// NewScheduler creates a scheduler
func NewScheduler(states types.TriggerStateRepository, clock types.Clock, logger types.Logger, fire FireFunc) *Scheduler {
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &Scheduler{
		triggers: make(map[string]Trigger),
		states:   states,
		clock:    clock,
		logger:   logger,
		fire:     fire,
	}
}

// Register adds or replaces a trigger after validating its expression
func (s *Scheduler) Register(trigger Trigger) error {
	if _, err := Parse(trigger.Expression); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers[trigger.Name] = trigger
	return nil
}

// Unregister removes a trigger by name
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.triggers, name)
}

// Run ticks at each wall-clock minute boundary until the context ends
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := s.clock.Now()
		wait := now.Truncate(time.Minute).Add(time.Minute).Sub(now)
		if err := s.clock.Sleep(ctx, wait); err != nil {
			return err
		}
		s.Tick(ctx)
	}
}

// Tick examines every trigger once and fires the due ones
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.RLock()
	triggers := make([]Trigger, 0, len(s.triggers))
	for _, t := range s.triggers {
		triggers = append(triggers, t)
	}
	s.mu.RUnlock()

	now := s.clock.Now().UTC()
	for _, trigger := range triggers {
		lastRun, err := s.states.GetLastFired(trigger.Name)
		if err != nil {
			if s.logger != nil {
				s.logger.Error().Err(err).Str("trigger", trigger.Name).Msg("Failed to read trigger state")
			}
			continue
		}

		due, err := IsDue(trigger.Expression, lastRun, now)
		if err != nil || !due {
			continue
		}

		if err := s.fire(ctx, trigger); err != nil {
			if s.logger != nil {
				s.logger.Error().Err(err).
					Str("trigger", trigger.Name).
					Str("workflow", trigger.WorkflowName).
					Msg("Trigger fire failed")
			}
			continue
		}
		if err := s.states.SaveLastFired(trigger.Name, now); err != nil && s.logger != nil {
			s.logger.Error().Err(err).Str("trigger", trigger.Name).Msg("Failed to persist trigger state")
		}
		if s.logger != nil {
			s.logger.Info().
				Str("trigger", trigger.Name).
				Str("workflow", trigger.WorkflowName).
				Msg("Fired scheduled workflow")
		}
	}
}
