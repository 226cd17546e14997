package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quillworks/automation/retry"
)

// runContext carries the mutable state of one execution through the graph
// runner. The vars map is owned by the runner goroutine: in parallel mode,
// step tasks only read it, and all writes happen between batches.
type runContext struct {
	workflow  *Workflow
	execution *WorkflowExecution
	vars      map[string]any
	completed map[string]bool
	store     ExecutionStore
	actions   *ActionRegistry
	logger    *slog.Logger
	clock     func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	// persistCtx survives run cancellation so terminal records still land.
	persistCtx context.Context

	stepsCompleted int
}

// graphRunner walks the dependency graph of one execution. The dependency
// and condition logic is shared; only the concurrency mechanics differ.
type graphRunner interface {
	Run(ctx context.Context, rc *runContext) error
}

// selectRunner picks the strategy for a workflow.
func selectRunner(workflow *Workflow) graphRunner {
	if workflow.IsParallel() {
		return &parallelRunner{}
	}
	return &sequentialRunner{}
}

// sequentialRunner visits steps in order, one at a time.
type sequentialRunner struct{}

func (r *sequentialRunner) Run(ctx context.Context, rc *runContext) error {
	for _, step := range rc.workflow.Steps() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !depsSatisfied(step, rc.completed) {
			rc.logger.Info("skipping step, dependencies not completed", "step", step.ID)
			continue
		}
		if !EvaluateConditions(step.Conditions, rc.vars) {
			rc.logger.Info("skipping step, conditions not met", "step", step.ID)
			continue
		}

		output, err := runStep(ctx, rc, step)
		if err != nil {
			if step.OnError == OnErrorFail {
				return NewAbortError(fmt.Errorf("step %q failed: %w", step.ID, err))
			}
			rc.logger.Warn("step failed, continuing",
				"step", step.ID, "on_error", step.OnError, "error", err)
			continue
		}
		rc.markCompleted(step, output)
	}
	return nil
}

// parallelRunner fans out one batch of ready steps at a time, awaits the
// whole batch, then merges outcomes sequentially in submission order so
// context writes never race and the final context is deterministic.
type parallelRunner struct{}

type stepResult struct {
	step   *WorkflowStep
	output map[string]any
	err    error
}

func (r *parallelRunner) Run(ctx context.Context, rc *runContext) error {
	pending := make(map[string]bool, len(rc.workflow.Steps()))
	for _, step := range rc.workflow.Steps() {
		pending[step.ID] = true
	}

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		var ready []*WorkflowStep
		for _, step := range rc.workflow.Steps() {
			if !pending[step.ID] || !depsSatisfied(step, rc.completed) {
				continue
			}
			if !EvaluateConditions(step.Conditions, rc.vars) {
				continue
			}
			ready = append(ready, step)
		}

		if len(ready) == 0 {
			// Unsatisfiable remainder: unmet conditions or failed
			// dependencies. Not escalated to execution failure.
			rc.logger.Warn("no runnable steps remain", "pending", len(pending))
			return nil
		}

		results := make([]stepResult, len(ready))
		var wg sync.WaitGroup
		for i, step := range ready {
			wg.Add(1)
			go func(i int, step *WorkflowStep) {
				defer wg.Done()
				output, err := runStep(ctx, rc, step)
				results[i] = stepResult{step: step, output: output, err: err}
			}(i, step)
		}
		wg.Wait()

		for _, result := range results {
			delete(pending, result.step.ID)
			if result.err != nil {
				if result.step.OnError == OnErrorFail {
					return NewAbortError(fmt.Errorf("step %q failed: %w", result.step.ID, result.err))
				}
				rc.logger.Warn("step failed, continuing",
					"step", result.step.ID, "on_error", result.step.OnError, "error", result.err)
				continue
			}
			rc.markCompleted(result.step, result.output)
		}
	}
	return nil
}

// markCompleted merges a step's output into the context and records progress.
func (rc *runContext) markCompleted(step *WorkflowStep, output map[string]any) {
	applyOutputMapping(step, output, rc.vars)
	rc.completed[step.ID] = true
	rc.stepsCompleted++
	if err := rc.store.UpdateExecutionProgress(rc.persistCtx, rc.execution.ID, rc.stepsCompleted); err != nil {
		rc.logger.Error("failed to update execution progress", "error", err)
	}
}

func depsSatisfied(step *WorkflowStep, completed map[string]bool) bool {
	for _, dep := range step.DependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// runStep attempts one step up to retry_count+1 times, recording one
// append-only attempt row per try. The inter-attempt delay is fixed at
// retry_count*2 seconds, derived once from the configured retry count.
func runStep(ctx context.Context, rc *runContext, step *WorkflowStep) (map[string]any, error) {
	attempts := step.RetryCount + 1
	delay := time.Duration(step.RetryCount*2) * time.Second

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		input := prepareStepInput(step, rc.vars)

		record := &WorkflowStepExecution{
			ID:            NewStepExecutionID(),
			ExecutionID:   rc.execution.ID,
			StepID:        step.ID,
			AttemptNumber: attempt,
			Status:        ExecutionStatusRunning,
			InputData:     copyMap(input),
			StartedAt:     rc.clock(),
		}
		if err := rc.store.CreateStepExecution(rc.persistCtx, record); err != nil {
			return nil, fmt.Errorf("failed to record step attempt: %w", err)
		}

		output, err := dispatchStep(ctx, rc, step, input)

		finished := rc.clock()
		record.CompletedAt = &finished
		record.ExecutionTimeSeconds = finished.Sub(record.StartedAt).Seconds()

		if err == nil {
			record.Status = ExecutionStatusCompleted
			record.OutputData = copyMap(output)
			if updateErr := rc.store.UpdateStepExecution(rc.persistCtx, record); updateErr != nil {
				return nil, fmt.Errorf("failed to record step outcome: %w", updateErr)
			}
			return output, nil
		}

		record.Status = ExecutionStatusFailed
		record.ErrorMessage = err.Error()
		if updateErr := rc.store.UpdateStepExecution(rc.persistCtx, record); updateErr != nil {
			rc.logger.Error("failed to record step failure", "step", step.ID, "error", updateErr)
		}
		rc.logger.Error("step attempt failed",
			"step", step.ID, "attempt", attempt, "of", attempts, "error", err)
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !retry.IsRecoverable(err) {
			rc.logger.Warn("step error is not recoverable, skipping remaining attempts", "step", step.ID)
			break
		}
		if attempt < attempts {
			if sleepErr := rc.sleep(ctx, delay); sleepErr != nil {
				return nil, sleepErr
			}
		}
	}
	return nil, lastErr
}

// dispatchStep routes the prepared input to the step's action handler,
// bounding the call with the step's timeout when one is configured.
func dispatchStep(ctx context.Context, rc *runContext, step *WorkflowStep, input map[string]any) (map[string]any, error) {
	if step.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	output, err := rc.actions.Dispatch(ctx, step.Type, input)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return nil, &EngineError{
			Type:    ErrorTypeTimeout,
			Cause:   fmt.Sprintf("step %q exceeded %ds timeout", step.ID, step.TimeoutSeconds),
			Wrapped: err,
		}
	}
	return output, err
}

// prepareStepInput applies the step's input mapping over the current context
// (context key to step input key, dotted paths allowed), then overlays the
// static step config.
func prepareStepInput(step *WorkflowStep, vars map[string]any) map[string]any {
	input := make(map[string]any, len(step.InputMapping)+len(step.Config))
	for contextKey, inputKey := range step.InputMapping {
		if value, ok := lookupField(vars, contextKey); ok {
			input[inputKey] = value
		}
	}
	for key, value := range step.Config {
		input[key] = value
	}
	return input
}

// applyOutputMapping writes mapped step outputs into the context (step
// output key to context key). Steps without an output mapping leave the
// context untouched.
func applyOutputMapping(step *WorkflowStep, output map[string]any, vars map[string]any) {
	for outputKey, contextKey := range step.OutputMapping {
		if value, ok := lookupField(output, outputKey); ok {
			vars[contextKey] = value
		}
	}
}
