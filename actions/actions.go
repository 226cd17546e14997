// Package actions provides the built-in handler for every step type in the
// engine's closed enum. Each handler decodes its input into a typed struct,
// does its work, and returns a plain map so outputs flow through output
// mappings unchanged.
package actions

import (
	"encoding/json"
	"fmt"

	"github.com/quillworks/automation"
)

// decodeInput converts a step input map into a typed parameter struct via a
// JSON roundtrip.
func decodeInput(input map[string]any, target any) error {
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to marshal step input: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to decode step input: %w", err)
	}
	return nil
}

// encodeOutput converts a typed result struct into a step output map via a
// JSON roundtrip.
func encodeOutput(result any) (map[string]any, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal step output: %w", err)
	}
	var output map[string]any
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, fmt.Errorf("failed to decode step output: %w", err)
	}
	return output, nil
}

// Defaults returns one handler for every step type.
func Defaults() []automation.ActionHandler {
	return []automation.ActionHandler{
		NewCreateTaskAction(),
		NewUpdateTaskAction(),
		NewAssignTaskAction(),
		NewSendEmailAction(),
		NewSendNotificationAction(),
		NewCreateWorkspaceAction(),
		NewMoveFileAction(),
		NewGenerateReportAction(),
		NewCallAPIAction(),
		NewWaitAction(),
		NewConditionalAction(),
		NewApprovalAction(),
		NewAIAnalysisAction(),
		NewWebhookCallAction(),
	}
}

// Registry returns an action registry covering the full step-type enum.
func Registry() (*automation.ActionRegistry, error) {
	return automation.NewActionRegistry(Defaults()...)
}
