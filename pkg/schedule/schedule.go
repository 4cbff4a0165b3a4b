// Package schedule runs registered workflows on cron expressions.
package schedule

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/workflow"
)

// Scheduler dispatches workflow runs on cron ticks. Each entry runs
// the workflow with a fixed initial context; run outcomes are
// observable through the engine's usual channels (bus, progress,
// run store), not here.
type Scheduler struct {
	engine *workflow.Engine
	cron   *cron.Cron
	logger zerolog.Logger
}

// NewScheduler creates a scheduler over a workflow engine
func NewScheduler(engine *workflow.Engine) *Scheduler {
	return &Scheduler{
		engine: engine,
		cron:   cron.New(),
		logger: log.WithComponent("schedule"),
	}
}

// Add registers a cron entry for a workflow id
func (s *Scheduler) Add(spec, workflowID string, initial map[string]any) (cron.EntryID, error) {
	id, err := s.cron.AddFunc(spec, func() {
		s.logger.Info().Str("workflow", workflowID).Str("spec", spec).Msg("Scheduled run starting")
		result := s.engine.RunWorkflowByID(context.Background(), workflowID, initial)
		if !result.Success {
			s.logger.Error().
				Err(result.Err).
				Str("workflow", workflowID).
				Int("failed_at", result.FailedAt).
				Msg("Scheduled run failed")
		}
	})
	if err != nil {
		return 0, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return id, nil
}

// Remove deletes a cron entry
func (s *Scheduler) Remove(id cron.EntryID) {
	s.cron.Remove(id)
}

// Start begins dispatching
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts dispatching; running jobs finish
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
