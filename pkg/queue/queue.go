package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/droverhq/drover/pkg/browser"
	"github.com/droverhq/drover/pkg/errdefs"
	"github.com/droverhq/drover/pkg/events"
	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/operation"
	"github.com/droverhq/drover/pkg/types"
)

// Lifecycle topics emitted on the bus
const (
	TopicTaskQueued    = "task:queued"
	TopicTaskStarted   = "task:started"
	TopicTaskCompleted = "task:completed"
	TopicTaskFailed    = "task:failed"
)

// ContextProvider supplies the browser context a task runs against
type ContextProvider interface {
	Context(ctx context.Context, profile string) (*browser.Context, error)
}

// Journal receives terminal tasks for durable bookkeeping
type Journal interface {
	RecordTask(task *types.OperationTask)
}

// Options tune one enqueue
type Options struct {
	Priority int
	Config   map[string]any
	Event    string                   // originating bus topic, when dispatched
	Instance *types.ContainerInstance // live binding, when a match pass supplied one
	Profile  string                   // session override; defaults to the queue's profile
}

// item is one queued task plus its scheduling keys
type item struct {
	task   *types.OperationTask
	target operation.Target
	opts   Options
	seq    uint64        // FIFO tiebreak within a priority
	done   chan struct{} // closed at terminal status or cancellation
}

// taskHeap orders priority-desc, then FIFO
type taskHeap []*item

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any) { *h = append(*h, x.(*item)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue serializes operations per container while letting distinct
// containers proceed concurrently. One cooperative worker runs per
// container id; the worker exits when its queue drains and a fresh
// one spawns on the next enqueue. The processing set guarantees a
// container never has two in-flight tasks.
type Queue struct {
	registry *operation.Registry
	provider ContextProvider
	bus      *events.Bus
	journal  Journal
	profile  string
	logger   zerolog.Logger

	mu         sync.Mutex
	queues     map[string]*taskHeap
	processing map[string]bool
	nextSeq    uint64
	wg         sync.WaitGroup
}

// Option configures a Queue
type Option func(*Queue)

// WithProvider sets the context provider
func WithProvider(p ContextProvider) Option {
	return func(q *Queue) { q.provider = p }
}

// WithBus sets the lifecycle event bus
func WithBus(b *events.Bus) Option {
	return func(q *Queue) { q.bus = b }
}

// WithJournal sets the terminal-task journal
func WithJournal(j Journal) Option {
	return func(q *Queue) { q.journal = j }
}

// WithProfile sets the default session profile for tasks
func WithProfile(profile string) Option {
	return func(q *Queue) { q.profile = profile }
}

// New creates an operation queue
func New(registry *operation.Registry, opts ...Option) *Queue {
	q := &Queue{
		registry:   registry,
		logger:     log.WithComponent("queue"),
		queues:     make(map[string]*taskHeap),
		processing: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SetProvider installs the context provider after construction
func (q *Queue) SetProvider(p ContextProvider) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.provider = p
}

// Enqueue validates binding, merges the container's declared default
// config under the caller's config (caller wins) and schedules the
// task on the container's queue.
func (q *Queue) Enqueue(def *types.ContainerDefinition, opID string, opts Options) (*types.OperationTask, error) {
	task, _, err := q.enqueue(def, opID, opts)
	return task, err
}

// EnqueueWait enqueues and blocks until the task reaches a terminal
// status (or is cancelled, or ctx expires). The task still runs in
// its container's single-flight worker; this only changes when the
// caller resumes.
func (q *Queue) EnqueueWait(ctx context.Context, def *types.ContainerDefinition, opID string, opts Options) (*types.OperationTask, error) {
	task, done, err := q.enqueue(def, opID, opts)
	if err != nil {
		return nil, err
	}
	select {
	case <-done:
		return task, nil
	case <-ctx.Done():
		q.Cancel(task.ID)
		return task, ctx.Err()
	}
}

func (q *Queue) enqueue(def *types.ContainerDefinition, opID string, opts Options) (*types.OperationTask, chan struct{}, error) {
	if err := q.registry.ContainerAllowsOperation(def, opID); err != nil {
		return nil, nil, err
	}

	config := mergeConfig(def.DeclaredConfig(opID), opts.Config)

	task := &types.OperationTask{
		ID:          uuid.New().String(),
		ContainerID: def.ID,
		OperationID: opID,
		Priority:    opts.Priority,
		Config:      config,
		Status:      types.TaskStatusPending,
		EnqueuedAt:  time.Now(),
		Event:       opts.Event,
	}

	done := make(chan struct{})

	// Queued publishes before the heap push so a live worker cannot
	// emit task:started ahead of it.
	q.publish(TopicTaskQueued, task)
	metrics.TasksQueued.Inc()
	metrics.QueueDepth.WithLabelValues(def.ID).Inc()

	q.mu.Lock()
	h, ok := q.queues[def.ID]
	if !ok {
		h = &taskHeap{}
		q.queues[def.ID] = h
	}
	q.nextSeq++
	heap.Push(h, &item{
		task:   task,
		target: operation.Target{Definition: def, Instance: opts.Instance},
		opts:   opts,
		seq:    q.nextSeq,
		done:   done,
	})
	spawn := !q.processing[def.ID]
	if spawn {
		q.processing[def.ID] = true
		q.wg.Add(1)
	}
	q.mu.Unlock()

	if spawn {
		go q.worker(def.ID)
	}
	return task, done, nil
}

// EnqueueForEvent adapts Enqueue to the dispatcher's surface
func (q *Queue) EnqueueForEvent(def *types.ContainerDefinition, opID string, priority int, config map[string]any, event string) (*types.OperationTask, error) {
	return q.Enqueue(def, opID, Options{Priority: priority, Config: config, Event: event})
}

// Cancel removes a pending task. Running tasks are atomic from the
// queue's viewpoint and cannot be cancelled.
func (q *Queue) Cancel(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, h := range q.queues {
		for i, it := range *h {
			if it.task.ID == taskID {
				heap.Remove(h, i)
				close(it.done)
				metrics.QueueDepth.WithLabelValues(it.task.ContainerID).Dec()
				return true
			}
		}
	}
	return false
}

// Pending returns the number of queued tasks for a container
func (q *Queue) Pending(containerID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if h, ok := q.queues[containerID]; ok {
		return h.Len()
	}
	return 0
}

// Depths returns the pending task count per container
func (q *Queue) Depths() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int, len(q.queues))
	for id, h := range q.queues {
		out[id] = h.Len()
	}
	return out
}

// Wait blocks until every spawned worker has drained. The CLI calls it
// on shutdown; tests use it to synchronize.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// worker drains one container's queue, one task at a time
func (q *Queue) worker(containerID string) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		h := q.queues[containerID]
		if h == nil || h.Len() == 0 {
			q.processing[containerID] = false
			q.mu.Unlock()
			return
		}
		it := heap.Pop(h).(*item)
		q.mu.Unlock()

		q.run(it)
		metrics.QueueDepth.WithLabelValues(containerID).Dec()
	}
}

// run executes one task to a terminal status
func (q *Queue) run(it *item) {
	defer close(it.done)
	task := it.task
	task.Status = types.TaskStatusRunning
	task.StartedAt = time.Now()
	q.publish(TopicTaskStarted, task)

	timer := metrics.NewTimer()
	result, err := q.execute(it)
	timer.ObserveDuration(metrics.TaskDuration.WithLabelValues(task.OperationID))

	task.FinishedAt = time.Now()
	if err != nil {
		task.Status = types.TaskStatusFailed
		task.Error = err.Error()
		q.publish(TopicTaskFailed, task)
		metrics.TasksFailed.Inc()
		q.logger.Error().
			Err(err).
			Str("task_id", task.ID).
			Str("container_id", task.ContainerID).
			Str("operation", task.OperationID).
			Msg("Task failed")
	} else {
		task.Status = types.TaskStatusCompleted
		task.Result = result
		q.publish(TopicTaskCompleted, task)
		metrics.TasksCompleted.Inc()
	}

	if q.journal != nil {
		q.journal.RecordTask(task)
	}
}

// execute resolves the context and runs the operation
func (q *Queue) execute(it *item) (any, error) {
	q.mu.Lock()
	provider := q.provider
	q.mu.Unlock()

	if provider == nil {
		return nil, errdefs.New(errdefs.KindNoContextProvider, "queue has no context provider configured")
	}

	profile := it.opts.Profile
	if profile == "" {
		profile = q.profile
	}

	ctx := context.Background()
	octx, err := provider.Context(ctx, profile)
	if err != nil {
		return nil, err
	}

	op := q.registry.Get(it.task.OperationID)
	if op == nil {
		return nil, errdefs.Newf(errdefs.KindOperationNotDeclared, "operation %q vanished from registry", it.task.OperationID)
	}

	result, err := op.Run(ctx, octx, it.target, it.task.Config)
	if err != nil {
		if errdefs.KindOf(err) == "" {
			err = errdefs.Wrap(errdefs.KindOperationFailed, "operation run failed", err)
		}
		return nil, err
	}
	return result, nil
}

// publish emits a lifecycle event when a bus is configured
func (q *Queue) publish(topic string, task *types.OperationTask) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(context.Background(), events.Event{
		Topic: topic,
		Payload: map[string]any{
			"task":         task,
			"container_id": task.ContainerID,
			"operation":    task.OperationID,
		},
	})
}

// mergeConfig layers caller config over container-declared defaults
func mergeConfig(defaults, override map[string]any) map[string]any {
	if len(defaults) == 0 && len(override) == 0 {
		return nil
	}
	merged := make(map[string]any, len(defaults)+len(override))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
