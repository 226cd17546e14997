package automation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParallelExecutionRespectsDependencies(t *testing.T) {
	recorder := &callRecorder{}
	wf, err := New(Options{
		Name:     "diamond",
		Parallel: true,
		Steps: []*WorkflowStep{
			{ID: "a", Order: 1, Type: StepTypeCreateTask, Config: map[string]any{"label": "a"}},
			{ID: "b", Order: 2, Type: StepTypeCreateTask, Config: map[string]any{"label": "b"}, DependsOn: []string{"a"}},
			{ID: "c", Order: 3, Type: StepTypeCreateTask, Config: map[string]any{"label": "c"}, DependsOn: []string{"a"}},
			{ID: "d", Order: 4, Type: StepTypeCreateTask, Config: map[string]any{"label": "d"}, DependsOn: []string{"b", "c"}},
		},
	})
	require.NoError(t, err)

	store := NewMemoryStore()
	store.PutWorkflow(wf)
	engine := newTestEngine(t, store, nil, echoHandler(StepTypeCreateTask, recorder))
	defer engine.Close()

	execution := runToCompletion(t, engine, store, wf.ID(), ExecuteOptions{})
	require.Equal(t, ExecutionStatusCompleted, execution.Status)
	require.Equal(t, 4, execution.StepsCompleted)

	calls := recorder.snapshot()
	require.Len(t, calls, 4)
	require.Equal(t, "a", calls[0])
	require.Equal(t, "d", calls[3])
	require.ElementsMatch(t, []string{"b", "c"}, calls[1:3])
}

func TestParallelMergeOrderIsDeterministic(t *testing.T) {
	// Two independent steps race, but merges happen in submission order, so
	// the step with the higher sequential position always wins the key.
	makeHandler := func() ActionHandler {
		return NewActionFunc(StepTypeCreateTask, func(ctx context.Context, input map[string]any) (map[string]any, error) {
			if input["label"] == "slow" {
				time.Sleep(5 * time.Millisecond)
			}
			return map[string]any{"value": input["label"]}, nil
		})
	}

	for i := 0; i < 20; i++ {
		wf, err := New(Options{
			Name:     fmt.Sprintf("race-%d", i),
			Parallel: true,
			Steps: []*WorkflowStep{
				{ID: "slow", Order: 1, Type: StepTypeCreateTask,
					Config:        map[string]any{"label": "slow"},
					OutputMapping: map[string]string{"value": "x"}},
				{ID: "fast", Order: 2, Type: StepTypeCreateTask,
					Config:        map[string]any{"label": "fast"},
					OutputMapping: map[string]string{"value": "x"}},
			},
		})
		require.NoError(t, err)

		store := NewMemoryStore()
		store.PutWorkflow(wf)
		engine := newTestEngine(t, store, nil, makeHandler())

		execution := runToCompletion(t, engine, store, wf.ID(), ExecuteOptions{})
		engine.Close()

		require.Equal(t, ExecutionStatusCompleted, execution.Status)
		require.Equal(t, "fast", execution.OutputData["x"])
	}
}

func TestParallelFailureAbortsBatchMerge(t *testing.T) {
	failing := NewActionFunc(StepTypeCallAPI, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return nil, fmt.Errorf("boom")
	})
	recorder := &callRecorder{}

	wf, err := New(Options{
		Name:     "parallel-failure",
		Parallel: true,
		Steps: []*WorkflowStep{
			{ID: "broken", Order: 1, Type: StepTypeCallAPI, OnError: OnErrorFail},
			{ID: "sibling", Order: 2, Type: StepTypeCreateTask, Config: map[string]any{"label": "sibling"}},
			{ID: "next", Order: 3, Type: StepTypeCreateTask, DependsOn: []string{"sibling"},
				Config: map[string]any{"label": "next"}},
		},
	})
	require.NoError(t, err)

	store := NewMemoryStore()
	store.PutWorkflow(wf)
	engine := newTestEngine(t, store, nil, failing, echoHandler(StepTypeCreateTask, recorder))
	defer engine.Close()

	execution := runToCompletion(t, engine, store, wf.ID(), ExecuteOptions{})
	require.Equal(t, ExecutionStatusFailed, execution.Status)
	require.Contains(t, execution.ErrorMessage, `step "broken" failed`)

	// The sibling ran in the same batch, but the batch after it never started
	require.Equal(t, []string{"sibling"}, recorder.snapshot())
}

func TestParallelUnsatisfiableRemainderStops(t *testing.T) {
	recorder := &callRecorder{}
	wf, err := New(Options{
		Name:     "unsatisfiable",
		Parallel: true,
		Steps: []*WorkflowStep{
			{ID: "gated", Order: 1, Type: StepTypeCreateTask,
				Config:     map[string]any{"label": "gated"},
				Conditions: []Condition{{Field: "never", Operator: OperatorEquals, Value: true}}},
			{ID: "dependent", Order: 2, Type: StepTypeCreateTask, DependsOn: []string{"gated"},
				Config: map[string]any{"label": "dependent"}},
		},
	})
	require.NoError(t, err)

	store := NewMemoryStore()
	store.PutWorkflow(wf)
	engine := newTestEngine(t, store, nil, echoHandler(StepTypeCreateTask, recorder))
	defer engine.Close()

	execution := runToCompletion(t, engine, store, wf.ID(), ExecuteOptions{})
	require.Equal(t, ExecutionStatusCompleted, execution.Status)
	require.Equal(t, 0, execution.StepsCompleted)
	require.Empty(t, recorder.snapshot())
}

func TestInputAndOutputMapping(t *testing.T) {
	var received map[string]any
	var mu sync.Mutex
	capture := NewActionFunc(StepTypeCreateTask, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		mu.Lock()
		defer mu.Unlock()
		received = input
		return map[string]any{"task_id": "t-1", "nested": map[string]any{"deep": "value"}}, nil
	})

	wf, err := New(Options{
		Name:      "mappings",
		Variables: map[string]any{"payload": map[string]any{"user": "u-9"}},
		Steps: []*WorkflowStep{
			{ID: "create", Order: 1, Type: StepTypeCreateTask,
				InputMapping:  map[string]string{"payload.user": "assignee_id"},
				Config:        map[string]any{"title": "Review"},
				OutputMapping: map[string]string{"task_id": "created_task", "nested.deep": "deep_value"}},
		},
	})
	require.NoError(t, err)

	store := NewMemoryStore()
	store.PutWorkflow(wf)
	engine := newTestEngine(t, store, nil, capture)
	defer engine.Close()

	execution := runToCompletion(t, engine, store, wf.ID(), ExecuteOptions{})
	require.Equal(t, ExecutionStatusCompleted, execution.Status)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "u-9", received["assignee_id"])
	require.Equal(t, "Review", received["title"])
	require.Equal(t, "t-1", execution.OutputData["created_task"])
	require.Equal(t, "value", execution.OutputData["deep_value"])
}

func TestConfigOverridesMappedInput(t *testing.T) {
	var received map[string]any
	var mu sync.Mutex
	capture := NewActionFunc(StepTypeCreateTask, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		mu.Lock()
		defer mu.Unlock()
		received = input
		return nil, nil
	})

	wf, err := New(Options{
		Name:      "overlay",
		Variables: map[string]any{"title": "from context"},
		Steps: []*WorkflowStep{
			{ID: "create", Order: 1, Type: StepTypeCreateTask,
				InputMapping: map[string]string{"title": "title"},
				Config:       map[string]any{"title": "from config"}},
		},
	})
	require.NoError(t, err)

	store := NewMemoryStore()
	store.PutWorkflow(wf)
	engine := newTestEngine(t, store, nil, capture)
	defer engine.Close()

	execution := runToCompletion(t, engine, store, wf.ID(), ExecuteOptions{})
	require.Equal(t, ExecutionStatusCompleted, execution.Status)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "from config", received["title"])
}
