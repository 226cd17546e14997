package automation

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// StepType identifies the kind of action a step performs. The set is closed:
// workflows referencing unknown step types are rejected at validation time.
type StepType string

const (
	StepTypeCreateTask       StepType = "create_task"
	StepTypeUpdateTask       StepType = "update_task"
	StepTypeAssignTask       StepType = "assign_task"
	StepTypeSendEmail        StepType = "send_email"
	StepTypeSendNotification StepType = "send_notification"
	StepTypeCreateWorkspace  StepType = "create_workspace"
	StepTypeMoveFile         StepType = "move_file"
	StepTypeGenerateReport   StepType = "generate_report"
	StepTypeCallAPI          StepType = "call_api"
	StepTypeWait             StepType = "wait"
	StepTypeConditional      StepType = "conditional"
	StepTypeApproval         StepType = "approval"
	StepTypeAIAnalysis       StepType = "ai_analysis"
	StepTypeWebhookCall      StepType = "webhook_call"
)

// StepTypes returns all valid step types.
func StepTypes() []StepType {
	return []StepType{
		StepTypeCreateTask, StepTypeUpdateTask, StepTypeAssignTask,
		StepTypeSendEmail, StepTypeSendNotification, StepTypeCreateWorkspace,
		StepTypeMoveFile, StepTypeGenerateReport, StepTypeCallAPI,
		StepTypeWait, StepTypeConditional, StepTypeApproval,
		StepTypeAIAnalysis, StepTypeWebhookCall,
	}
}

// OnErrorPolicy governs workflow behavior after a step exhausts its attempts.
type OnErrorPolicy string

const (
	// OnErrorFail aborts the whole execution.
	OnErrorFail OnErrorPolicy = "fail"

	// OnErrorContinue proceeds to the next step. The failed step is never
	// marked completed, so steps depending on it are permanently skipped.
	OnErrorContinue OnErrorPolicy = "continue"

	// OnErrorRetry behaves like continue once the step's retry budget is
	// exhausted. The retries themselves happen regardless of policy.
	OnErrorRetry OnErrorPolicy = "retry"
)

// TriggerType identifies how a workflow execution is initiated.
type TriggerType string

const (
	TriggerTypeManual     TriggerType = "manual"
	TriggerTypeSchedule   TriggerType = "schedule"
	TriggerTypeWebhook    TriggerType = "webhook"
	TriggerTypeEvent      TriggerType = "event"
	TriggerTypeAPICall    TriggerType = "api_call"
	TriggerTypeFileUpload TriggerType = "file_upload"
	TriggerTypeTaskStatus TriggerType = "task_status"
	TriggerTypeTimeBased  TriggerType = "time_based"
)

// WorkflowStep is a single unit of work with a type, configuration,
// dependencies, and error policy.
type WorkflowStep struct {
	ID             string            `json:"id" yaml:"id"`
	Name           string            `json:"name,omitempty" yaml:"name,omitempty"`
	Order          int               `json:"order" yaml:"order"`
	Type           StepType          `json:"step_type" yaml:"step_type"`
	Config         map[string]any    `json:"config,omitempty" yaml:"config,omitempty"`
	InputMapping   map[string]string `json:"input_mapping,omitempty" yaml:"input_mapping,omitempty"`
	OutputMapping  map[string]string `json:"output_mapping,omitempty" yaml:"output_mapping,omitempty"`
	DependsOn      []string          `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Conditions     []Condition       `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	OnError        OnErrorPolicy     `json:"on_error,omitempty" yaml:"on_error,omitempty"`
	RetryCount     int               `json:"retry_count,omitempty" yaml:"retry_count,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// WorkflowTrigger defines a condition that starts an execution.
type WorkflowTrigger struct {
	ID              string         `json:"id" yaml:"id"`
	WorkflowID      string         `json:"workflow_id" yaml:"workflow_id"`
	Type            TriggerType    `json:"trigger_type" yaml:"trigger_type"`
	Config          map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Conditions      []Condition    `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	CronExpression  string         `json:"cron_expression,omitempty" yaml:"cron_expression,omitempty"`
	Timezone        string         `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Enabled         bool           `json:"is_enabled" yaml:"is_enabled"`
	LastTriggeredAt *time.Time     `json:"last_triggered_at,omitempty" yaml:"last_triggered_at,omitempty"`
	TriggerCount    int            `json:"trigger_count" yaml:"trigger_count"`
}

// Options are used to configure a workflow.
type Options struct {
	ID                string             `json:"id,omitempty" yaml:"id,omitempty"`
	Name              string             `json:"name" yaml:"name"`
	Description       string             `json:"description,omitempty" yaml:"description,omitempty"`
	Steps             []*WorkflowStep    `json:"steps" yaml:"steps"`
	Triggers          []*WorkflowTrigger `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	Config            map[string]any     `json:"config,omitempty" yaml:"config,omitempty"`
	Variables         map[string]any     `json:"variables,omitempty" yaml:"variables,omitempty"`
	TimeoutMinutes    int                `json:"timeout_minutes,omitempty" yaml:"timeout_minutes,omitempty"`
	MaxRetries        int                `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	RetryDelaySeconds int                `json:"retry_delay_seconds,omitempty" yaml:"retry_delay_seconds,omitempty"`
	Parallel          bool               `json:"is_parallel,omitempty" yaml:"is_parallel,omitempty"`
}

// Workflow defines a repeatable process as a graph of typed steps with
// dependencies. A Workflow is immutable during a run.
type Workflow struct {
	id                string
	name              string
	description       string
	steps             []*WorkflowStep
	stepsByID         map[string]*WorkflowStep
	triggers          []*WorkflowTrigger
	config            map[string]any
	variables         map[string]any
	timeoutMinutes    int
	maxRetries        int
	retryDelaySeconds int
	parallel          bool
}

// New returns a new Workflow configured with the given options.
func New(opts Options) (*Workflow, error) {
	if opts.Name == "" {
		return nil, NewValidationError("workflow name required")
	}
	if len(opts.Steps) == 0 {
		return nil, NewValidationError("steps required")
	}

	stepsByID := make(map[string]*WorkflowStep, len(opts.Steps))
	for _, step := range opts.Steps {
		if step.ID == "" {
			return nil, NewValidationError("step id required")
		}
		if _, exists := stepsByID[step.ID]; exists {
			return nil, NewValidationError(fmt.Sprintf("duplicate step id %q", step.ID))
		}
		if step.OnError == "" {
			step.OnError = OnErrorFail
		}
		stepsByID[step.ID] = step
	}

	if err := validateWorkflowSteps(stepsByID); err != nil {
		return nil, fmt.Errorf("workflow validation failed: %w", err)
	}
	if err := validateDependencyGraph(stepsByID); err != nil {
		return nil, fmt.Errorf("workflow validation failed: %w", err)
	}

	id := opts.ID
	if id == "" {
		id = NewWorkflowID()
	}

	// Stable sequential position for the sequential runner
	steps := make([]*WorkflowStep, len(opts.Steps))
	copy(steps, opts.Steps)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Order < steps[j].Order
	})

	for _, trigger := range opts.Triggers {
		if trigger.ID == "" {
			trigger.ID = NewTriggerID()
		}
		trigger.WorkflowID = id
	}

	return &Workflow{
		id:                id,
		name:              opts.Name,
		description:       opts.Description,
		steps:             steps,
		stepsByID:         stepsByID,
		triggers:          opts.Triggers,
		config:            opts.Config,
		variables:         opts.Variables,
		timeoutMinutes:    opts.TimeoutMinutes,
		maxRetries:        opts.MaxRetries,
		retryDelaySeconds: opts.RetryDelaySeconds,
		parallel:          opts.Parallel,
	}, nil
}

// Options returns the serializable form of the workflow, suitable for
// persisting and for reconstructing via New.
func (w *Workflow) Options() Options {
	return Options{
		ID:                w.id,
		Name:              w.name,
		Description:       w.description,
		Steps:             w.steps,
		Triggers:          w.triggers,
		Config:            w.config,
		Variables:         w.variables,
		TimeoutMinutes:    w.timeoutMinutes,
		MaxRetries:        w.maxRetries,
		RetryDelaySeconds: w.retryDelaySeconds,
		Parallel:          w.parallel,
	}
}

// ID returns the workflow ID
func (w *Workflow) ID() string {
	return w.id
}

// Name returns the workflow name
func (w *Workflow) Name() string {
	return w.name
}

// Description returns the workflow description
func (w *Workflow) Description() string {
	return w.description
}

// Steps returns the workflow steps ordered by sequential position.
func (w *Workflow) Steps() []*WorkflowStep {
	return w.steps
}

// Triggers returns the workflow triggers
func (w *Workflow) Triggers() []*WorkflowTrigger {
	return w.triggers
}

// Config returns the workflow configuration map
func (w *Workflow) Config() map[string]any {
	return w.config
}

// Variables returns the workflow's initial context variables
func (w *Workflow) Variables() map[string]any {
	return w.variables
}

// TimeoutMinutes returns the workflow-level timeout. It is advisory: the
// stale-execution reaper is what force-terminates long runs.
func (w *Workflow) TimeoutMinutes() int {
	return w.timeoutMinutes
}

// MaxRetries returns the workflow-level retry budget (informational only;
// retries are governed per step).
func (w *Workflow) MaxRetries() int {
	return w.maxRetries
}

// RetryDelaySeconds returns the workflow-level retry delay.
func (w *Workflow) RetryDelaySeconds() int {
	return w.retryDelaySeconds
}

// IsParallel reports whether independent steps run concurrently.
func (w *Workflow) IsParallel() bool {
	return w.parallel
}

// GetStep returns a step by ID
func (w *Workflow) GetStep(id string) (*WorkflowStep, bool) {
	step, ok := w.stepsByID[id]
	return step, ok
}

// StepIDs returns the IDs of all steps in the workflow
func (w *Workflow) StepIDs() []string {
	ids := make([]string, 0, len(w.stepsByID))
	for id := range w.stepsByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// validateWorkflowSteps checks step types, error policies, and that
// dependency references resolve.
func validateWorkflowSteps(stepsByID map[string]*WorkflowStep) error {
	validTypes := make(map[StepType]bool, len(StepTypes()))
	for _, t := range StepTypes() {
		validTypes[t] = true
	}
	for _, step := range stepsByID {
		if !validTypes[step.Type] {
			return NewValidationError(fmt.Sprintf("step %q has unknown step type %q", step.ID, step.Type))
		}
		switch step.OnError {
		case OnErrorFail, OnErrorContinue, OnErrorRetry:
		default:
			return NewValidationError(fmt.Sprintf("step %q has unknown on_error policy %q", step.ID, step.OnError))
		}
		if step.RetryCount < 0 {
			return NewValidationError(fmt.Sprintf("step %q has negative retry count", step.ID))
		}
		for _, dep := range step.DependsOn {
			if _, ok := stepsByID[dep]; !ok {
				return NewValidationError(fmt.Sprintf("step %q depends on unknown step %q", step.ID, dep))
			}
		}
	}
	return nil
}

// validateDependencyGraph rejects cyclic dependencies with a topological
// sort, so cycles fail at creation time instead of stalling the runner.
func validateDependencyGraph(stepsByID map[string]*WorkflowStep) error {
	indegree := make(map[string]int, len(stepsByID))
	dependents := make(map[string][]string, len(stepsByID))
	for id, step := range stepsByID {
		indegree[id] += 0
		for _, dep := range step.DependsOn {
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	queue := make([]string, 0, len(stepsByID))
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(stepsByID) {
		var cyclic []string
		for id, deg := range indegree {
			if deg > 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		return NewValidationError(fmt.Sprintf("dependency cycle involving steps %v", cyclic))
	}
	return nil
}

// LoadFile loads a workflow from a YAML file
func LoadFile(path string) (*Workflow, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	return LoadString(string(yamlData))
}

// LoadString loads a workflow from a YAML string
func LoadString(data string) (*Workflow, error) {
	var opts Options
	if err := yaml.Unmarshal([]byte(data), &opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow definition: %w", err)
	}
	return New(opts)
}
