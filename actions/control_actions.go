package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/expr-lang/expr"

	"github.com/quillworks/automation"
	"github.com/quillworks/automation/retry"
)

// WaitInput defines the input parameters for the wait action.
type WaitInput struct {
	Seconds float64 `json:"seconds"`
}

// WaitAction pauses the workflow for a duration. The wait is interrupted by
// context cancellation and by the step timeout.
type WaitAction struct{}

func NewWaitAction() *WaitAction {
	return &WaitAction{}
}

func (a *WaitAction) Type() automation.StepType {
	return automation.StepTypeWait
}

func (a *WaitAction) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	var params WaitInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if params.Seconds < 0 {
		return nil, retry.NonRecoverable(fmt.Errorf("wait requires a non-negative 'seconds'"))
	}

	duration := time.Duration(params.Seconds * float64(time.Second))
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return map[string]any{"waited_seconds": params.Seconds}, nil
}

// ConditionalInput defines the input parameters for the conditional action.
type ConditionalInput struct {
	Expression string `json:"expression"`
}

// ConditionalAction evaluates a boolean expression against the step input.
// The full input map is the expression environment, so mapped context values
// are addressable by name.
type ConditionalAction struct{}

func NewConditionalAction() *ConditionalAction {
	return &ConditionalAction{}
}

func (a *ConditionalAction) Type() automation.StepType {
	return automation.StepTypeConditional
}

func (a *ConditionalAction) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	expression, _ := input["expression"].(string)
	if expression == "" {
		return nil, retry.NonRecoverable(fmt.Errorf("conditional requires 'expression'"))
	}

	program, err := expr.Compile(expression, expr.Env(input), expr.AsBool())
	if err != nil {
		return nil, retry.NonRecoverable(fmt.Errorf("invalid expression %q: %w", expression, err))
	}
	result, err := expr.Run(program, input)
	if err != nil {
		return nil, fmt.Errorf("expression evaluation failed: %w", err)
	}
	return map[string]any{
		"result":     result,
		"expression": expression,
	}, nil
}

// ApprovalInput defines the input parameters for the approval action.
type ApprovalInput struct {
	ApproverID  string  `json:"approver_id"`
	Description string  `json:"description"`
	AutoApprove bool    `json:"auto_approve"`
	TimeoutDays float64 `json:"timeout_days"`
}

// ApprovalAction records an approval request. Without an external approval
// channel the action resolves immediately: auto_approve grants, anything
// else leaves the request pending in the output.
type ApprovalAction struct{}

func NewApprovalAction() *ApprovalAction {
	return &ApprovalAction{}
}

func (a *ApprovalAction) Type() automation.StepType {
	return automation.StepTypeApproval
}

func (a *ApprovalAction) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	var params ApprovalInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if params.ApproverID == "" {
		return nil, retry.NonRecoverable(fmt.Errorf("approval requires 'approver_id'"))
	}
	status := "pending"
	if params.AutoApprove {
		status = "approved"
	}
	return map[string]any{
		"approver_id":  params.ApproverID,
		"status":       status,
		"approved":     params.AutoApprove,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}
