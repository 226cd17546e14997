package automation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory ExecutionStore. It backs tests and the CLI and
// is safe for concurrent use.
type MemoryStore struct {
	mutex          sync.RWMutex
	workflows      map[string]*Workflow
	triggers       map[string]*WorkflowTrigger
	executions     map[string]*WorkflowExecution
	stepExecutions map[string][]*WorkflowStepExecution
	clock          func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:      map[string]*Workflow{},
		triggers:       map[string]*WorkflowTrigger{},
		executions:     map[string]*WorkflowExecution{},
		stepExecutions: map[string][]*WorkflowStepExecution{},
		clock:          time.Now,
	}
}

// PutWorkflow registers a workflow and its triggers.
func (s *MemoryStore) PutWorkflow(workflow *Workflow) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.workflows[workflow.ID()] = workflow
	for _, trigger := range workflow.Triggers() {
		s.triggers[trigger.ID] = trigger
	}
}

func (s *MemoryStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	workflow, ok := s.workflows[id]
	if !ok {
		return nil, NewValidationError(fmt.Sprintf("workflow %q not found", id))
	}
	return workflow, nil
}

func (s *MemoryStore) GetTrigger(ctx context.Context, id string) (*WorkflowTrigger, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	trigger, ok := s.triggers[id]
	if !ok {
		return nil, NewValidationError(fmt.Sprintf("trigger %q not found", id))
	}
	dup := *trigger
	return &dup, nil
}

func (s *MemoryStore) ListTriggers(ctx context.Context, triggerType TriggerType) ([]*WorkflowTrigger, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var triggers []*WorkflowTrigger
	for _, trigger := range s.triggers {
		if trigger.Type == triggerType {
			dup := *trigger
			triggers = append(triggers, &dup)
		}
	}
	return triggers, nil
}

func (s *MemoryStore) CreateTrigger(ctx context.Context, trigger *WorkflowTrigger) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.triggers[trigger.ID]; exists {
		return NewValidationError(fmt.Sprintf("trigger %q already exists", trigger.ID))
	}
	dup := *trigger
	s.triggers[trigger.ID] = &dup
	return nil
}

func (s *MemoryStore) UpdateTrigger(ctx context.Context, trigger *WorkflowTrigger) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.triggers[trigger.ID]; !exists {
		return NewValidationError(fmt.Sprintf("trigger %q not found", trigger.ID))
	}
	dup := *trigger
	s.triggers[trigger.ID] = &dup
	return nil
}

func (s *MemoryStore) DeleteTrigger(ctx context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.triggers[id]; !exists {
		return NewValidationError(fmt.Sprintf("trigger %q not found", id))
	}
	delete(s.triggers, id)
	return nil
}

func (s *MemoryStore) CreateExecution(ctx context.Context, execution *WorkflowExecution) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.executions[execution.ID]; exists {
		return NewValidationError(fmt.Sprintf("execution %q already exists", execution.ID))
	}
	s.executions[execution.ID] = execution.Copy()
	return nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, id string) (*WorkflowExecution, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	execution, ok := s.executions[id]
	if !ok {
		return nil, NewValidationError(fmt.Sprintf("execution %q not found", id))
	}
	return execution.Copy(), nil
}

func (s *MemoryStore) UpdateExecutionStatus(ctx context.Context, id string, status ExecutionStatus, errorMessage string, outputData map[string]any) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	execution, ok := s.executions[id]
	if !ok {
		return NewValidationError(fmt.Sprintf("execution %q not found", id))
	}
	if execution.Status.IsTerminal() {
		return nil
	}
	finishExecution(execution, status, errorMessage, outputData, s.clock())
	return nil
}

func (s *MemoryStore) UpdateExecutionProgress(ctx context.Context, id string, stepsCompleted int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	execution, ok := s.executions[id]
	if !ok {
		return NewValidationError(fmt.Sprintf("execution %q not found", id))
	}
	if stepsCompleted > execution.StepsTotal {
		stepsCompleted = execution.StepsTotal
	}
	execution.StepsCompleted = stepsCompleted
	return nil
}

func (s *MemoryStore) GetActiveExecutions(ctx context.Context) ([]*WorkflowExecution, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var active []*WorkflowExecution
	for _, execution := range s.executions {
		if !execution.Status.IsTerminal() {
			active = append(active, execution.Copy())
		}
	}
	return active, nil
}

func (s *MemoryStore) CreateStepExecution(ctx context.Context, stepExecution *WorkflowStepExecution) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.stepExecutions[stepExecution.ExecutionID] = append(
		s.stepExecutions[stepExecution.ExecutionID], stepExecution.Copy())
	return nil
}

func (s *MemoryStore) UpdateStepExecution(ctx context.Context, stepExecution *WorkflowStepExecution) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	records := s.stepExecutions[stepExecution.ExecutionID]
	for i, record := range records {
		if record.ID == stepExecution.ID {
			records[i] = stepExecution.Copy()
			return nil
		}
	}
	return NewValidationError(fmt.Sprintf("step execution %q not found", stepExecution.ID))
}

func (s *MemoryStore) ListStepExecutions(ctx context.Context, executionID string) ([]*WorkflowStepExecution, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	records := s.stepExecutions[executionID]
	out := make([]*WorkflowStepExecution, len(records))
	for i, record := range records {
		out[i] = record.Copy()
	}
	return out, nil
}

var _ ExecutionStore = (*MemoryStore)(nil)
