// Package scheduler polls trigger definitions on a fixed interval and starts
// workflow executions when a trigger fires.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/quillworks/automation"
)

// DefaultTickInterval is how often trigger definitions are re-evaluated.
// It also bounds the cron fire window: an outage longer than one tick can
// silently skip a fire. That is a documented limitation, not a bug to fix
// here.
const DefaultTickInterval = 60 * time.Second

// Executor starts workflow executions. *automation.Engine satisfies it.
type Executor interface {
	Execute(ctx context.Context, workflowID string, opts automation.ExecuteOptions) (string, error)
}

// Reaper force-terminates stale executions. *automation.Engine satisfies it.
type Reaper interface {
	CleanupStaleExecutions(ctx context.Context, threshold time.Duration) (int, error)
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Store    automation.ExecutionStore
	Executor Executor
	Logger   *slog.Logger

	// TickInterval defaults to DefaultTickInterval and also sets the cron
	// fire window.
	TickInterval time.Duration

	// Reaper, when set, runs once per tick with StaleThreshold.
	Reaper         Reaper
	StaleThreshold time.Duration

	Clock func() time.Time
}

// Scheduler is the background trigger dispatcher: a single loop ticks at a
// fixed interval, evaluates enabled triggers, and fires the executor for any
// that match. Firing never blocks the tick loop: Execute returns as soon as
// the execution record exists.
type Scheduler struct {
	store          automation.ExecutionStore
	executor       Executor
	logger         *slog.Logger
	interval       time.Duration
	reaper         Reaper
	staleThreshold time.Duration
	clock          func() time.Time
	parser         cron.Parser

	mutex   sync.Mutex
	stop    chan struct{}
	stopped sync.WaitGroup
}

// NewScheduler creates a scheduler.
func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("execution store is required")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = automation.DefaultStaleThreshold
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Scheduler{
		store:          opts.Store,
		executor:       opts.Executor,
		logger:         opts.Logger,
		interval:       opts.TickInterval,
		reaper:         opts.Reaper,
		staleThreshold: opts.StaleThreshold,
		clock:          opts.Clock,
		parser:         cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}, nil
}

// Start launches the background tick loop. It returns an error if the
// scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.stop != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.stop = make(chan struct{})

	s.stopped.Add(1)
	go func() {
		defer s.stopped.Done()
		s.loop(ctx)
	}()
	return nil
}

// Stop halts the tick loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	stop := s.stop
	s.stop = nil
	s.mutex.Unlock()

	if stop != nil {
		close(stop)
		s.stopped.Wait()
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	s.mutex.Lock()
	stop := s.stop
	s.mutex.Unlock()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates all schedule triggers once. Each trigger is fault-isolated:
// one failing trigger never stops the others from being checked.
func (s *Scheduler) Tick(ctx context.Context) {
	triggers, err := s.store.ListTriggers(ctx, automation.TriggerTypeSchedule)
	if err != nil {
		s.logger.Error("failed to list schedule triggers", "error", err)
		return
	}

	now := s.clock()
	for _, trigger := range triggers {
		if !trigger.Enabled || trigger.CronExpression == "" {
			continue
		}
		due, err := s.cronDue(trigger, now)
		if err != nil {
			s.logger.Error("failed to evaluate cron trigger",
				"trigger_id", trigger.ID, "cron", trigger.CronExpression, "error", err)
			continue
		}
		if due {
			s.fire(ctx, trigger, scheduleInput(trigger), now)
		}
	}

	if s.reaper != nil {
		if reaped, err := s.reaper.CleanupStaleExecutions(ctx, s.staleThreshold); err != nil {
			s.logger.Error("stale execution cleanup failed", "error", err)
		} else if reaped > 0 {
			s.logger.Warn("reaped stale executions", "count", reaped)
		}
	}
}

// cronDue reports whether a schedule trigger should fire now: the previous
// fire instant is within the tick window and the trigger has not already
// fired for that instant.
func (s *Scheduler) cronDue(trigger *automation.WorkflowTrigger, now time.Time) (bool, error) {
	schedule, location, err := s.parseSchedule(trigger.CronExpression, trigger.Timezone)
	if err != nil {
		return false, err
	}

	localNow := now.In(location)
	previous := previousFireTime(schedule, localNow)
	if previous.IsZero() {
		return false, nil
	}
	if localNow.Before(previous) || localNow.Sub(previous) > s.interval {
		return false, nil
	}
	if trigger.LastTriggeredAt != nil && !trigger.LastTriggeredAt.Before(previous) {
		return false, nil
	}
	return true, nil
}

func (s *Scheduler) parseSchedule(expression, timezone string) (cron.Schedule, *time.Location, error) {
	schedule, err := s.parser.Parse(expression)
	if err != nil {
		return nil, nil, automation.NewValidationError(
			fmt.Sprintf("invalid cron expression %q: %v", expression, err))
	}
	location := time.UTC
	if timezone != "" {
		location, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, nil, automation.NewValidationError(
				fmt.Sprintf("invalid timezone %q: %v", timezone, err))
		}
	}
	return schedule, location, nil
}

// previousFireTime finds the latest fire instant at or before now. The cron
// library only computes next-fire instants, so scan forward from
// progressively larger lookbacks until one lands in the past.
func previousFireTime(schedule cron.Schedule, now time.Time) time.Time {
	lookbacks := []time.Duration{
		2 * time.Hour,
		25 * time.Hour,
		32 * 24 * time.Hour,
		366 * 24 * time.Hour,
	}
	for _, lookback := range lookbacks {
		candidate := schedule.Next(now.Add(-lookback))
		if candidate.IsZero() || candidate.After(now) {
			continue
		}
		for {
			next := schedule.Next(candidate)
			if next.IsZero() || next.After(now) {
				return candidate
			}
			candidate = next
		}
	}
	return time.Time{}
}

// fire starts an execution for a trigger and records the firing. Execute is
// asynchronous, so firing does not block subsequent trigger checks.
func (s *Scheduler) fire(ctx context.Context, trigger *automation.WorkflowTrigger, input map[string]any, now time.Time) {
	executionID, err := s.executor.Execute(ctx, trigger.WorkflowID, automation.ExecuteOptions{
		TriggerID: trigger.ID,
		Input:     input,
		Metadata: map[string]any{
			"triggered_by": "scheduler",
			"trigger_type": string(trigger.Type),
		},
	})
	if err != nil {
		s.logger.Error("failed to fire trigger",
			"trigger_id", trigger.ID, "workflow_id", trigger.WorkflowID, "error", err)
		return
	}

	fired := now
	trigger.LastTriggeredAt = &fired
	trigger.TriggerCount++
	if err := s.store.UpdateTrigger(ctx, trigger); err != nil {
		s.logger.Error("failed to record trigger firing", "trigger_id", trigger.ID, "error", err)
	}
	s.logger.Info("trigger fired",
		"trigger_id", trigger.ID, "workflow_id", trigger.WorkflowID, "execution_id", executionID)
}

// TriggerByEvent fires every enabled event trigger whose configured
// event_type matches and whose conditions hold against the event data. The
// event data becomes the execution input. Returns the started execution IDs.
func (s *Scheduler) TriggerByEvent(ctx context.Context, eventType string, eventData map[string]any) ([]string, error) {
	triggers, err := s.store.ListTriggers(ctx, automation.TriggerTypeEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to list event triggers: %w", err)
	}

	now := s.clock()
	var executionIDs []string
	for _, trigger := range triggers {
		if !trigger.Enabled {
			continue
		}
		configured, _ := trigger.Config["event_type"].(string)
		if configured != eventType {
			continue
		}
		if !automation.EvaluateConditions(trigger.Conditions, eventData) {
			continue
		}

		executionID, err := s.executor.Execute(ctx, trigger.WorkflowID, automation.ExecuteOptions{
			TriggerID: trigger.ID,
			Input:     eventData,
			Metadata: map[string]any{
				"triggered_by": "event:" + eventType,
				"trigger_type": string(trigger.Type),
			},
		})
		if err != nil {
			s.logger.Error("failed to fire event trigger",
				"trigger_id", trigger.ID, "event_type", eventType, "error", err)
			continue
		}
		executionIDs = append(executionIDs, executionID)

		fired := now
		trigger.LastTriggeredAt = &fired
		trigger.TriggerCount++
		if err := s.store.UpdateTrigger(ctx, trigger); err != nil {
			s.logger.Error("failed to record trigger firing", "trigger_id", trigger.ID, "error", err)
		}
	}
	return executionIDs, nil
}

func scheduleInput(trigger *automation.WorkflowTrigger) map[string]any {
	if input, ok := trigger.Config["input_data"].(map[string]any); ok {
		return input
	}
	return nil
}

// ScheduleWorkflow creates a cron trigger for a workflow. The expression and
// timezone are validated eagerly; invalid schedules are rejected before
// anything is persisted.
func (s *Scheduler) ScheduleWorkflow(ctx context.Context, workflowID, cronExpression, timezone string, input map[string]any, enabled bool) (string, error) {
	if _, _, err := s.parseSchedule(cronExpression, timezone); err != nil {
		return "", err
	}
	if _, err := s.store.GetWorkflow(ctx, workflowID); err != nil {
		return "", err
	}

	trigger := &automation.WorkflowTrigger{
		ID:             automation.NewTriggerID(),
		WorkflowID:     workflowID,
		Type:           automation.TriggerTypeSchedule,
		CronExpression: cronExpression,
		Timezone:       timezone,
		Enabled:        enabled,
	}
	if input != nil {
		trigger.Config = map[string]any{"input_data": input}
	}
	if err := s.store.CreateTrigger(ctx, trigger); err != nil {
		return "", err
	}
	s.logger.Info("workflow scheduled",
		"workflow_id", workflowID, "trigger_id", trigger.ID, "cron", cronExpression)
	return trigger.ID, nil
}

// Unschedule removes a schedule trigger.
func (s *Scheduler) Unschedule(ctx context.Context, triggerID string) error {
	return s.store.DeleteTrigger(ctx, triggerID)
}

// UpdateSchedule mutates a schedule trigger's cron expression, timezone, and
// enablement. The new schedule is validated before the update is persisted.
func (s *Scheduler) UpdateSchedule(ctx context.Context, triggerID, cronExpression, timezone string, enabled bool) error {
	if _, _, err := s.parseSchedule(cronExpression, timezone); err != nil {
		return err
	}
	trigger, err := s.store.GetTrigger(ctx, triggerID)
	if err != nil {
		return err
	}
	trigger.CronExpression = cronExpression
	trigger.Timezone = timezone
	trigger.Enabled = enabled
	return s.store.UpdateTrigger(ctx, trigger)
}
