package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"

	"github.com/quillworks/automation"
)

type executedCall struct {
	workflowID string
	opts       automation.ExecuteOptions
}

// fakeExecutor records Execute calls and returns canned execution IDs.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []executedCall
}

func (e *fakeExecutor) Execute(ctx context.Context, workflowID string, opts automation.ExecuteOptions) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, executedCall{workflowID: workflowID, opts: opts})
	return "exec_test", nil
}

func (e *fakeExecutor) snapshot() []executedCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]executedCall(nil), e.calls...)
}

func newTestScheduler(t *testing.T, store automation.ExecutionStore, executor Executor, now time.Time) *Scheduler {
	t.Helper()
	scheduler, err := NewScheduler(SchedulerOptions{
		Store:    store,
		Executor: executor,
		Clock:    func() time.Time { return now },
	})
	require.NoError(t, err)
	return scheduler
}

func putWorkflowWithTrigger(t *testing.T, store *automation.MemoryStore, trigger *automation.WorkflowTrigger) *automation.Workflow {
	t.Helper()
	wf, err := automation.New(automation.Options{
		Name:     "scheduled",
		Steps:    []*automation.WorkflowStep{{ID: "a", Type: automation.StepTypeWait}},
		Triggers: []*automation.WorkflowTrigger{trigger},
	})
	require.NoError(t, err)
	store.PutWorkflow(wf)
	return wf
}

func TestCronTriggerFiresWithinWindow(t *testing.T) {
	// Monday 2024-01-08, 30 seconds after the 09:00 fire instant
	now := time.Date(2024, 1, 8, 9, 0, 30, 0, time.UTC)

	store := automation.NewMemoryStore()
	trigger := &automation.WorkflowTrigger{
		ID:             "trig_cron",
		Type:           automation.TriggerTypeSchedule,
		CronExpression: "0 9 * * MON",
		Enabled:        true,
	}
	wf := putWorkflowWithTrigger(t, store, trigger)

	executor := &fakeExecutor{}
	scheduler := newTestScheduler(t, store, executor, now)

	scheduler.Tick(context.Background())

	calls := executor.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, wf.ID(), calls[0].workflowID)
	require.Equal(t, "trig_cron", calls[0].opts.TriggerID)
	require.Equal(t, "scheduler", calls[0].opts.Metadata["triggered_by"])

	updated, err := store.GetTrigger(context.Background(), "trig_cron")
	require.NoError(t, err)
	require.Equal(t, 1, updated.TriggerCount)
	require.NotNil(t, updated.LastTriggeredAt)
}

func TestCronTriggerFiresAtMostOncePerInstant(t *testing.T) {
	fired := time.Date(2024, 1, 8, 9, 0, 30, 0, time.UTC)

	store := automation.NewMemoryStore()
	trigger := &automation.WorkflowTrigger{
		ID:              "trig_cron",
		Type:            automation.TriggerTypeSchedule,
		CronExpression:  "0 9 * * MON",
		Enabled:         true,
		LastTriggeredAt: &fired,
		TriggerCount:    1,
	}
	putWorkflowWithTrigger(t, store, trigger)

	executor := &fakeExecutor{}
	scheduler := newTestScheduler(t, store, executor, fired.Add(10*time.Second))

	scheduler.Tick(context.Background())
	require.Empty(t, executor.snapshot())
}

func TestCronTriggerOutsideWindowDoesNotFire(t *testing.T) {
	// Two minutes past the fire instant, beyond the 60s tick window
	now := time.Date(2024, 1, 8, 9, 2, 0, 0, time.UTC)

	store := automation.NewMemoryStore()
	trigger := &automation.WorkflowTrigger{
		ID:             "trig_cron",
		Type:           automation.TriggerTypeSchedule,
		CronExpression: "0 9 * * MON",
		Enabled:        true,
	}
	putWorkflowWithTrigger(t, store, trigger)

	executor := &fakeExecutor{}
	scheduler := newTestScheduler(t, store, executor, now)

	scheduler.Tick(context.Background())
	require.Empty(t, executor.snapshot())
}

func TestDisabledTriggerDoesNotFire(t *testing.T) {
	now := time.Date(2024, 1, 8, 9, 0, 30, 0, time.UTC)

	store := automation.NewMemoryStore()
	trigger := &automation.WorkflowTrigger{
		ID:             "trig_cron",
		Type:           automation.TriggerTypeSchedule,
		CronExpression: "0 9 * * MON",
		Enabled:        false,
	}
	putWorkflowWithTrigger(t, store, trigger)

	executor := &fakeExecutor{}
	scheduler := newTestScheduler(t, store, executor, now)

	scheduler.Tick(context.Background())
	require.Empty(t, executor.snapshot())
}

func TestCronTriggerHonorsTimezone(t *testing.T) {
	// 09:00 in New York is 14:00 UTC in January
	now := time.Date(2024, 1, 8, 14, 0, 30, 0, time.UTC)

	store := automation.NewMemoryStore()
	trigger := &automation.WorkflowTrigger{
		ID:             "trig_cron",
		Type:           automation.TriggerTypeSchedule,
		CronExpression: "0 9 * * MON",
		Timezone:       "America/New_York",
		Enabled:        true,
	}
	putWorkflowWithTrigger(t, store, trigger)

	executor := &fakeExecutor{}
	scheduler := newTestScheduler(t, store, executor, now)

	scheduler.Tick(context.Background())
	require.Len(t, executor.snapshot(), 1)
}

func TestPreviousFireTime(t *testing.T) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	t.Run("every minute", func(t *testing.T) {
		schedule, err := parser.Parse("* * * * *")
		require.NoError(t, err)
		now := time.Date(2024, 1, 8, 9, 0, 30, 0, time.UTC)
		require.Equal(t, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), previousFireTime(schedule, now))
	})

	t.Run("weekly", func(t *testing.T) {
		schedule, err := parser.Parse("0 9 * * MON")
		require.NoError(t, err)
		now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
		require.Equal(t, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), previousFireTime(schedule, now))
	})

	t.Run("monthly", func(t *testing.T) {
		schedule, err := parser.Parse("0 0 1 * *")
		require.NoError(t, err)
		now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
		require.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), previousFireTime(schedule, now))
	})

	t.Run("exactly on the instant", func(t *testing.T) {
		schedule, err := parser.Parse("0 9 * * MON")
		require.NoError(t, err)
		now := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
		require.Equal(t, now, previousFireTime(schedule, now))
	})
}

func TestTriggerByEvent(t *testing.T) {
	store := automation.NewMemoryStore()
	matching := &automation.WorkflowTrigger{
		ID:      "trig_match",
		Type:    automation.TriggerTypeEvent,
		Config:  map[string]any{"event_type": "task.completed"},
		Enabled: true,
		Conditions: []automation.Condition{
			{Field: "priority", Operator: automation.OperatorEquals, Value: "high"},
		},
	}
	otherEvent := &automation.WorkflowTrigger{
		ID:      "trig_other",
		Type:    automation.TriggerTypeEvent,
		Config:  map[string]any{"event_type": "task.created"},
		Enabled: true,
	}
	disabled := &automation.WorkflowTrigger{
		ID:      "trig_disabled",
		Type:    automation.TriggerTypeEvent,
		Config:  map[string]any{"event_type": "task.completed"},
		Enabled: false,
	}
	wf, err := automation.New(automation.Options{
		Name:     "event-driven",
		Steps:    []*automation.WorkflowStep{{ID: "a", Type: automation.StepTypeWait}},
		Triggers: []*automation.WorkflowTrigger{matching, otherEvent, disabled},
	})
	require.NoError(t, err)
	store.PutWorkflow(wf)

	executor := &fakeExecutor{}
	scheduler := newTestScheduler(t, store, executor, time.Now())

	t.Run("conditions not met", func(t *testing.T) {
		ids, err := scheduler.TriggerByEvent(context.Background(), "task.completed",
			map[string]any{"priority": "low"})
		require.NoError(t, err)
		require.Empty(t, ids)
	})

	t.Run("matching event fires", func(t *testing.T) {
		eventData := map[string]any{"priority": "high", "task_id": "t-1"}
		ids, err := scheduler.TriggerByEvent(context.Background(), "task.completed", eventData)
		require.NoError(t, err)
		require.Equal(t, []string{"exec_test"}, ids)

		calls := executor.snapshot()
		require.Len(t, calls, 1)
		require.Equal(t, "trig_match", calls[0].opts.TriggerID)
		require.Equal(t, eventData, calls[0].opts.Input)
		require.Equal(t, "event:task.completed", calls[0].opts.Metadata["triggered_by"])

		updated, err := store.GetTrigger(context.Background(), "trig_match")
		require.NoError(t, err)
		require.Equal(t, 1, updated.TriggerCount)
	})

	t.Run("unknown event fires nothing", func(t *testing.T) {
		ids, err := scheduler.TriggerByEvent(context.Background(), "task.deleted", nil)
		require.NoError(t, err)
		require.Empty(t, ids)
	})
}

func TestScheduleWorkflow(t *testing.T) {
	store := automation.NewMemoryStore()
	wf, err := automation.New(automation.Options{
		Name:  "to-schedule",
		Steps: []*automation.WorkflowStep{{ID: "a", Type: automation.StepTypeWait}},
	})
	require.NoError(t, err)
	store.PutWorkflow(wf)

	executor := &fakeExecutor{}
	scheduler := newTestScheduler(t, store, executor, time.Now())
	ctx := context.Background()

	t.Run("invalid cron rejected", func(t *testing.T) {
		_, err := scheduler.ScheduleWorkflow(ctx, wf.ID(), "not a cron", "", nil, true)
		require.Error(t, err)
		require.True(t, automation.IsValidationError(err))
	})

	t.Run("invalid timezone rejected", func(t *testing.T) {
		_, err := scheduler.ScheduleWorkflow(ctx, wf.ID(), "0 9 * * *", "Mars/Olympus", nil, true)
		require.Error(t, err)
		require.True(t, automation.IsValidationError(err))
	})

	t.Run("unknown workflow rejected", func(t *testing.T) {
		_, err := scheduler.ScheduleWorkflow(ctx, "wf_missing", "0 9 * * *", "", nil, true)
		require.Error(t, err)
	})

	t.Run("creates trigger", func(t *testing.T) {
		input := map[string]any{"source": "nightly"}
		triggerID, err := scheduler.ScheduleWorkflow(ctx, wf.ID(), "0 2 * * *", "UTC", input, true)
		require.NoError(t, err)

		trigger, err := store.GetTrigger(ctx, triggerID)
		require.NoError(t, err)
		require.Equal(t, automation.TriggerTypeSchedule, trigger.Type)
		require.Equal(t, "0 2 * * *", trigger.CronExpression)
		require.True(t, trigger.Enabled)
		require.Equal(t, map[string]any{"input_data": input}, trigger.Config)

		require.NoError(t, scheduler.UpdateSchedule(ctx, triggerID, "30 2 * * *", "UTC", false))
		trigger, err = store.GetTrigger(ctx, triggerID)
		require.NoError(t, err)
		require.Equal(t, "30 2 * * *", trigger.CronExpression)
		require.False(t, trigger.Enabled)

		require.NoError(t, scheduler.Unschedule(ctx, triggerID))
		_, err = store.GetTrigger(ctx, triggerID)
		require.Error(t, err)
	})
}

func TestSchedulerStartStop(t *testing.T) {
	store := automation.NewMemoryStore()
	executor := &fakeExecutor{}
	scheduler, err := NewScheduler(SchedulerOptions{
		Store:        store,
		Executor:     executor,
		TickInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, scheduler.Start(ctx))
	require.Error(t, scheduler.Start(ctx))

	time.Sleep(30 * time.Millisecond)
	scheduler.Stop()

	// Stop is idempotent
	scheduler.Stop()
}
