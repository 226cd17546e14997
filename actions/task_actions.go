package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quillworks/automation"
)

// CreateTaskInput defines the input parameters for the create_task action.
type CreateTaskInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	AssigneeID  string   `json:"assignee_id"`
	ProjectID   string   `json:"project_id"`
	Priority    string   `json:"priority"`
	DueDate     string   `json:"due_date"`
	Tags        []string `json:"tags"`
}

// CreateTaskOutput defines the output of the create_task action.
type CreateTaskOutput struct {
	TaskID     string `json:"task_id"`
	Title      string `json:"title"`
	AssigneeID string `json:"assignee_id,omitempty"`
	ProjectID  string `json:"project_id,omitempty"`
	Priority   string `json:"priority"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
}

// CreateTaskAction creates a task entity.
type CreateTaskAction struct{}

func NewCreateTaskAction() *CreateTaskAction {
	return &CreateTaskAction{}
}

func (a *CreateTaskAction) Type() automation.StepType {
	return automation.StepTypeCreateTask
}

func (a *CreateTaskAction) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	var params CreateTaskInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if params.Title == "" {
		return nil, fmt.Errorf("create_task requires 'title'")
	}
	if params.Priority == "" {
		params.Priority = "medium"
	}
	return encodeOutput(CreateTaskOutput{
		TaskID:     uuid.NewString(),
		Title:      params.Title,
		AssigneeID: params.AssigneeID,
		ProjectID:  params.ProjectID,
		Priority:   params.Priority,
		Status:     "open",
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	})
}

// UpdateTaskInput defines the input parameters for the update_task action.
type UpdateTaskInput struct {
	TaskID  string         `json:"task_id"`
	Updates map[string]any `json:"updates"`
	Status  string         `json:"status"`
}

// UpdateTaskAction applies field updates to an existing task.
type UpdateTaskAction struct{}

func NewUpdateTaskAction() *UpdateTaskAction {
	return &UpdateTaskAction{}
}

func (a *UpdateTaskAction) Type() automation.StepType {
	return automation.StepTypeUpdateTask
}

func (a *UpdateTaskAction) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	var params UpdateTaskInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if params.TaskID == "" {
		return nil, fmt.Errorf("update_task requires 'task_id'")
	}
	updated := map[string]any{}
	for key, value := range params.Updates {
		updated[key] = value
	}
	if params.Status != "" {
		updated["status"] = params.Status
	}
	return map[string]any{
		"task_id":        params.TaskID,
		"updated_fields": updated,
		"updated_at":     time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// AssignTaskInput defines the input parameters for the assign_task action.
type AssignTaskInput struct {
	TaskID     string `json:"task_id"`
	AssigneeID string `json:"assignee_id"`
	Notify     bool   `json:"notify"`
}

// AssignTaskAction assigns a task to a user.
type AssignTaskAction struct{}

func NewAssignTaskAction() *AssignTaskAction {
	return &AssignTaskAction{}
}

func (a *AssignTaskAction) Type() automation.StepType {
	return automation.StepTypeAssignTask
}

func (a *AssignTaskAction) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	var params AssignTaskInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if params.TaskID == "" {
		return nil, fmt.Errorf("assign_task requires 'task_id'")
	}
	if params.AssigneeID == "" {
		return nil, fmt.Errorf("assign_task requires 'assignee_id'")
	}
	return map[string]any{
		"task_id":     params.TaskID,
		"assignee_id": params.AssigneeID,
		"notified":    params.Notify,
		"assigned_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}
