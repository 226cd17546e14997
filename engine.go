package automation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultStaleThreshold is how long an execution may sit in pending or
// running before the reaper force-transitions it to timeout.
const DefaultStaleThreshold = 24 * time.Hour

// EngineOptions configures an Engine.
type EngineOptions struct {
	Store   ExecutionStore
	Actions *ActionRegistry
	Logger  *slog.Logger

	// Clock and Sleep exist so tests can run without wall-clock delays.
	Clock func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// ExecuteOptions carries per-call inputs for starting an execution.
type ExecuteOptions struct {
	TriggerID string
	ActorID   string
	Input     map[string]any

	// Metadata is merged into the execution context alongside the input
	// (e.g. triggered_by and trigger_type set by the scheduler).
	Metadata map[string]any
}

// runHandle tracks one in-process execution task, used for cancellation
// lookup. The engine guarantees at most one task per execution ID; it does
// not guarantee global exclusivity across process restarts.
type runHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	reason ExecutionStatus
}

// Engine owns workflow runs: it builds and walks the dependency graph,
// invokes step actions with retry, merges context, and decides workflow-level
// success or failure.
type Engine struct {
	store   ExecutionStore
	actions *ActionRegistry
	logger  *slog.Logger
	clock   func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	mutex   sync.Mutex
	running map[string]*runHandle
	wg      sync.WaitGroup
}

// NewEngine creates an execution engine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("execution store is required")
	}
	if opts.Actions == nil {
		return nil, fmt.Errorf("action registry is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Engine{
		store:   opts.Store,
		actions: opts.Actions,
		logger:  opts.Logger,
		clock:   opts.Clock,
		sleep:   opts.Sleep,
		running: map[string]*runHandle{},
	}, nil
}

// Execute validates the workflow, creates a pending execution record, and
// drives the run to completion asynchronously. It returns the execution ID
// as soon as the record exists; the run is not bound to the caller's context.
func (e *Engine) Execute(ctx context.Context, workflowID string, opts ExecuteOptions) (string, error) {
	workflow, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return "", err
	}
	if err := e.actions.ValidateWorkflow(workflow); err != nil {
		return "", err
	}

	metadata := opts.Metadata
	if opts.ActorID != "" {
		metadata = mergeMaps(metadata, map[string]any{"actor_id": opts.ActorID})
	}
	execution := &WorkflowExecution{
		ID:         NewExecutionID(),
		WorkflowID: workflow.ID(),
		TriggerID:  opts.TriggerID,
		Status:     ExecutionStatusPending,
		InputData:  copyMap(opts.Input),
		Variables:  mergeMaps(workflow.Variables(), opts.Input, metadata),
		StepsTotal: len(workflow.Steps()),
		StartedAt:  e.clock(),
	}
	if err := e.store.CreateExecution(ctx, execution); err != nil {
		return "", fmt.Errorf("failed to create execution: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	handle := &runHandle{cancel: cancel, done: make(chan struct{})}

	e.mutex.Lock()
	e.running[execution.ID] = handle
	e.mutex.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(runCtx, workflow, execution, handle)
	}()

	return execution.ID, nil
}

// run drives one execution to a terminal status.
func (e *Engine) run(ctx context.Context, workflow *Workflow, execution *WorkflowExecution, handle *runHandle) {
	logger := e.logger.With("execution_id", execution.ID, "workflow", workflow.Name())
	persistCtx := context.WithoutCancel(ctx)

	defer func() {
		e.mutex.Lock()
		delete(e.running, execution.ID)
		e.mutex.Unlock()
		close(handle.done)
	}()

	if err := e.store.UpdateExecutionStatus(persistCtx, execution.ID, ExecutionStatusRunning, "", nil); err != nil {
		logger.Error("failed to mark execution running", "error", err)
		return
	}

	rc := &runContext{
		workflow:   workflow,
		execution:  execution,
		vars:       mergeMaps(execution.Variables),
		completed:  map[string]bool{},
		store:      e.store,
		actions:    e.actions,
		logger:     logger,
		clock:      e.clock,
		sleep:      e.sleep,
		persistCtx: persistCtx,
	}

	var runErr error
	func() {
		// A panicking action must fail this execution, not the process.
		defer func() {
			if r := recover(); r != nil {
				runErr = NewAbortError(fmt.Errorf("panic in execution loop: %v", r))
			}
		}()
		runErr = selectRunner(workflow).Run(ctx, rc)
	}()

	switch {
	case runErr == nil:
		logger.Info("execution completed", "steps_completed", rc.stepsCompleted)
		e.updateStatus(persistCtx, logger, execution.ID, ExecutionStatusCompleted, "", rc.vars)
	case ctx.Err() != nil:
		status := handle.terminalReason()
		logger.Info("execution stopped", "status", status)
		e.updateStatus(persistCtx, logger, execution.ID, status, runErr.Error(), nil)
	default:
		logger.Error("execution failed", "error", runErr)
		e.updateStatus(persistCtx, logger, execution.ID, ExecutionStatusFailed, runErr.Error(), nil)
	}
}

func (e *Engine) updateStatus(ctx context.Context, logger *slog.Logger, executionID string, status ExecutionStatus, errorMessage string, outputData map[string]any) {
	if err := e.store.UpdateExecutionStatus(ctx, executionID, status, errorMessage, outputData); err != nil {
		logger.Error("failed to update execution status", "status", status, "error", err)
	}
}

// terminalReason returns the status a cancelled run should settle in. The
// reaper sets timeout before cancelling; everything else is a plain cancel.
func (h *runHandle) terminalReason() ExecutionStatus {
	if h.reason != "" {
		return h.reason
	}
	return ExecutionStatusCancelled
}

// Cancel stops a running execution and marks it cancelled. Concurrently
// running step tasks are cancelled cooperatively through their context.
func (e *Engine) Cancel(executionID string) error {
	e.mutex.Lock()
	handle, ok := e.running[executionID]
	if ok && handle.reason == "" {
		handle.reason = ExecutionStatusCancelled
	}
	e.mutex.Unlock()

	if !ok {
		return NewValidationError(fmt.Sprintf("execution %q is not running in this process", executionID))
	}
	handle.cancel()
	return nil
}

// Wait blocks until the execution's task finishes or ctx is done. Executions
// not tracked in-process return immediately.
func (e *Engine) Wait(ctx context.Context, executionID string) error {
	e.mutex.Lock()
	handle, ok := e.running[executionID]
	e.mutex.Unlock()

	if !ok {
		return nil
	}
	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunningCount returns how many executions this process is currently driving.
func (e *Engine) RunningCount() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	return len(e.running)
}

// CleanupStaleExecutions force-transitions executions stuck in pending or
// running beyond the threshold to timeout, cancelling their tasks if still
// tracked in-process. Returns the number of executions reaped.
func (e *Engine) CleanupStaleExecutions(ctx context.Context, threshold time.Duration) (int, error) {
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	active, err := e.store.GetActiveExecutions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active executions: %w", err)
	}

	cutoff := e.clock().Add(-threshold)
	reaped := 0
	for _, execution := range active {
		if execution.StartedAt.After(cutoff) {
			continue
		}
		e.mutex.Lock()
		handle, tracked := e.running[execution.ID]
		if tracked && handle.reason == "" {
			handle.reason = ExecutionStatusTimeout
		}
		e.mutex.Unlock()

		message := fmt.Sprintf("execution stale since %s", execution.StartedAt.Format(time.RFC3339))
		if err := e.store.UpdateExecutionStatus(ctx, execution.ID, ExecutionStatusTimeout, message, nil); err != nil {
			e.logger.Error("failed to reap stale execution", "execution_id", execution.ID, "error", err)
			continue
		}
		if tracked {
			handle.cancel()
		}
		e.logger.Warn("reaped stale execution", "execution_id", execution.ID)
		reaped++
	}
	return reaped, nil
}

// Close waits for all in-process execution tasks to finish.
func (e *Engine) Close() {
	e.wg.Wait()
}

// sleepContext sleeps for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
