package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/droverhq/drover/pkg/events"
	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/progress"
	"github.com/droverhq/drover/pkg/types"
)

// Block is one workflow step unit. Execute returns a record that is
// shallow-merged into the workflow context.
type Block interface {
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
}

// BlockFunc adapts a function to the Block interface
type BlockFunc func(ctx context.Context, input map[string]any) (map[string]any, error)

// Execute implements Block
func (f BlockFunc) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	return f(ctx, input)
}

// Result is the outcome of one workflow run
type Result struct {
	RunID    string
	Success  bool
	FailedAt int // step index, -1 when no step failed
	Err      error
	Context  map[string]any
}

// RunJournal receives finished run records for durable bookkeeping
type RunJournal interface {
	RecordRun(rec *types.RunRecord)
}

// Engine runs block workflows. Steps execute strictly sequentially;
// any parallelism lives inside a block. The engine applies no retry
// policy: a failing block stops the run and the partial context is
// returned.
type Engine struct {
	logger zerolog.Logger
	bus    *events.Bus
	store  *progress.Store
	runs   RunJournal

	mu        sync.RWMutex
	blocks    map[string]Block
	workflows map[string]*types.WorkflowDefinition
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithBus publishes workflow lifecycle events to a bus
func WithBus(bus *events.Bus) EngineOption {
	return func(e *Engine) { e.bus = bus }
}

// WithProgress emits run progress to a store
func WithProgress(store *progress.Store) EngineOption {
	return func(e *Engine) { e.store = store }
}

// WithRunJournal journals finished runs
func WithRunJournal(j RunJournal) EngineOption {
	return func(e *Engine) { e.runs = j }
}

// NewEngine creates an isolated engine instance
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		logger:    log.WithComponent("workflow"),
		blocks:    make(map[string]Block),
		workflows: make(map[string]*types.WorkflowDefinition),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var (
	defaultEngine     *Engine
	defaultEngineOnce sync.Once
)

// Default returns the process-wide engine
func Default() *Engine {
	defaultEngineOnce.Do(func() {
		defaultEngine = NewEngine()
	})
	return defaultEngine
}

// RegisterBlock installs a block on the process-wide engine
func RegisterBlock(name string, block Block) error {
	return Default().RegisterBlock(name, block)
}

// RegisterBlock installs a named block
func (e *Engine) RegisterBlock(name string, block Block) error {
	if name == "" || block == nil {
		return fmt.Errorf("block registration requires a name and an implementation")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.blocks[name]; exists {
		return fmt.Errorf("block %q already registered", name)
	}
	e.blocks[name] = block
	return nil
}

// RegisterWorkflow installs a named workflow definition
func (e *Engine) RegisterWorkflow(def *types.WorkflowDefinition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("workflow registration requires an id")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.workflows[def.ID]; exists {
		return fmt.Errorf("workflow %q already registered", def.ID)
	}
	e.workflows[def.ID] = def
	return nil
}

// Workflows returns the registered workflow ids
func (e *Engine) Workflows() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.workflows))
	for id := range e.workflows {
		out = append(out, id)
	}
	return out
}

// RunWorkflowByID looks up a registered definition and runs it
func (e *Engine) RunWorkflowByID(ctx context.Context, id string, initial map[string]any) *Result {
	e.mu.RLock()
	def := e.workflows[id]
	e.mu.RUnlock()
	if def == nil {
		return &Result{
			Success:  false,
			FailedAt: -1,
			Err:      fmt.Errorf("workflow %q is not registered", id),
			Context:  initial,
		}
	}
	return e.Run(ctx, def, initial)
}

// Run executes a workflow definition over an initial context
func (e *Engine) Run(ctx context.Context, def *types.WorkflowDefinition, initial map[string]any) *Result {
	runID := uuid.New().String()
	startedAt := time.Now()

	wfctx := make(map[string]any, len(initial))
	for k, v := range initial {
		wfctx[k] = v
	}

	logger := e.logger.With().Str("run_id", runID).Str("workflow", def.ID).Logger()
	logger.Info().Int("steps", len(def.Steps)).Msg("Workflow run started")
	e.emitProgress(runID, def, "workflow_started", map[string]any{"steps": len(def.Steps)})

	result := &Result{RunID: runID, Success: true, FailedAt: -1}

	for i, step := range def.Steps {
		e.mu.RLock()
		block := e.blocks[step.Block]
		e.mu.RUnlock()

		if block == nil {
			result.Success = false
			result.FailedAt = i
			result.Err = fmt.Errorf("step %d names unknown block %q", i, step.Block)
			break
		}

		input, _ := Resolve(step.Input, wfctx).(map[string]any)
		if input == nil {
			input = map[string]any{}
		}

		logger.Debug().Int("step", i).Str("block", step.Block).Msg("Running block")
		e.publishStep(runID, def.ID, step.Block, i, "started")
		timer := metrics.NewTimer()

		output, err := block.Execute(ctx, input)
		timer.ObserveDuration(metrics.BlockDuration.WithLabelValues(step.Block))

		if err == nil && output != nil {
			if ok, present := output["success"].(bool); present && !ok {
				err = blockError(output)
			}
		}
		if err != nil {
			result.Success = false
			result.FailedAt = i
			result.Err = err
			logger.Error().Err(err).Int("step", i).Str("block", step.Block).Msg("Block failed")
			e.publishStep(runID, def.ID, step.Block, i, "failed")
			break
		}

		for k, v := range output {
			wfctx[k] = v
		}
		e.publishStep(runID, def.ID, step.Block, i, "completed")
	}

	result.Context = wfctx

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	metrics.WorkflowRuns.WithLabelValues(outcome).Inc()

	e.emitProgress(runID, def, "workflow_finished", map[string]any{
		"success":   result.Success,
		"failed_at": result.FailedAt,
	})
	if e.runs != nil {
		rec := &types.RunRecord{
			ID:         runID,
			WorkflowID: def.ID,
			StartedAt:  startedAt,
			FinishedAt: time.Now(),
			Success:    result.Success,
			FailedAt:   result.FailedAt,
		}
		if result.Err != nil {
			rec.Error = result.Err.Error()
		}
		if cp, ok := wfctx["checkpoint"].(string); ok {
			rec.Checkpoint = types.CheckpointID(cp)
		}
		if profile, ok := wfctx["profile"].(string); ok {
			rec.ProfileID = profile
		}
		e.runs.RecordRun(rec)
	}

	logger.Info().Bool("success", result.Success).Int("failed_at", result.FailedAt).Msg("Workflow run finished")
	return result
}

// blockError extracts the failure reason from a {success:false} record
func blockError(output map[string]any) error {
	if msg, ok := output["error"].(string); ok && msg != "" {
		return fmt.Errorf("%s", msg)
	}
	if err, ok := output["error"].(error); ok {
		return err
	}
	return fmt.Errorf("block reported failure")
}

func (e *Engine) publishStep(runID, workflowID, block string, step int, state string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(context.Background(), events.Event{
		Topic: "workflow:step:" + state,
		Payload: map[string]any{
			"run_id":   runID,
			"workflow": workflowID,
			"block":    block,
			"step":     step,
		},
	})
}

func (e *Engine) emitProgress(runID string, def *types.WorkflowDefinition, event string, payload map[string]any) {
	if e.store == nil {
		return
	}
	e.store.Emit(types.ProgressEvent{
		Source:  "workflow",
		RunID:   runID,
		Event:   event,
		Payload: payload,
	})
}
