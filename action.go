package automation

import (
	"context"
	"fmt"
)

// ActionHandler implements one step type. Handlers receive the prepared step
// input (input mapping over the execution context, overlaid with the step
// config) and return the step output.
type ActionHandler interface {

	// Type returns the step type this handler implements.
	Type() StepType

	// Execute performs the action with the prepared input.
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
}

// ActionFunc adapts a function to the ActionHandler interface.
type ActionFunc struct {
	stepType StepType
	fn       func(ctx context.Context, input map[string]any) (map[string]any, error)
}

// NewActionFunc creates an ActionHandler from a function.
func NewActionFunc(stepType StepType, fn func(ctx context.Context, input map[string]any) (map[string]any, error)) *ActionFunc {
	return &ActionFunc{stepType: stepType, fn: fn}
}

func (a *ActionFunc) Type() StepType {
	return a.stepType
}

func (a *ActionFunc) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	return a.fn(ctx, input)
}

// ActionRegistry maps the closed step-type enum to handler implementations.
// Registration happens at startup; dispatch at execution time never sees an
// unknown type because workflows are validated against the registry first.
type ActionRegistry struct {
	handlers map[StepType]ActionHandler
}

// NewActionRegistry creates a registry from the given handlers.
func NewActionRegistry(handlers ...ActionHandler) (*ActionRegistry, error) {
	registry := &ActionRegistry{handlers: make(map[StepType]ActionHandler, len(handlers))}
	for _, handler := range handlers {
		if handler == nil {
			return nil, NewValidationError("nil action handler")
		}
		if _, exists := registry.handlers[handler.Type()]; exists {
			return nil, NewValidationError(fmt.Sprintf("duplicate action handler for step type %q", handler.Type()))
		}
		registry.handlers[handler.Type()] = handler
	}
	return registry, nil
}

// Get returns the handler for a step type.
func (r *ActionRegistry) Get(stepType StepType) (ActionHandler, bool) {
	handler, ok := r.handlers[stepType]
	return handler, ok
}

// Dispatch routes a step to its action implementation.
func (r *ActionRegistry) Dispatch(ctx context.Context, stepType StepType, input map[string]any) (map[string]any, error) {
	handler, ok := r.handlers[stepType]
	if !ok {
		return nil, NewValidationError(fmt.Sprintf("no action handler registered for step type %q", stepType))
	}
	return handler.Execute(ctx, input)
}

// ValidateWorkflow checks that every step type in the workflow has a
// registered handler.
func (r *ActionRegistry) ValidateWorkflow(workflow *Workflow) error {
	for _, step := range workflow.Steps() {
		if _, ok := r.handlers[step.Type]; !ok {
			return NewValidationError(fmt.Sprintf("step %q: no action handler registered for step type %q", step.ID, step.Type))
		}
	}
	return nil
}
