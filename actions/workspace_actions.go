package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quillworks/automation"
)

// CreateWorkspaceInput defines the input parameters for the create_workspace
// action.
type CreateWorkspaceInput struct {
	Name        string   `json:"name"`
	OwnerID     string   `json:"owner_id"`
	Description string   `json:"description"`
	MemberIDs   []string `json:"member_ids"`
	Template    string   `json:"template"`
}

// CreateWorkspaceAction provisions a workspace.
type CreateWorkspaceAction struct{}

func NewCreateWorkspaceAction() *CreateWorkspaceAction {
	return &CreateWorkspaceAction{}
}

func (a *CreateWorkspaceAction) Type() automation.StepType {
	return automation.StepTypeCreateWorkspace
}

func (a *CreateWorkspaceAction) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	var params CreateWorkspaceInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, fmt.Errorf("create_workspace requires 'name'")
	}
	return map[string]any{
		"workspace_id": uuid.NewString(),
		"name":         params.Name,
		"owner_id":     params.OwnerID,
		"member_count": len(params.MemberIDs),
		"template":     params.Template,
		"created_at":   time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// GenerateReportInput defines the input parameters for the generate_report
// action.
type GenerateReportInput struct {
	ReportType string         `json:"report_type"`
	Format     string         `json:"format"`
	Filters    map[string]any `json:"filters"`
	Title      string         `json:"title"`
}

// GenerateReportAction produces a report artifact reference.
type GenerateReportAction struct{}

func NewGenerateReportAction() *GenerateReportAction {
	return &GenerateReportAction{}
}

func (a *GenerateReportAction) Type() automation.StepType {
	return automation.StepTypeGenerateReport
}

func (a *GenerateReportAction) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	var params GenerateReportInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if params.ReportType == "" {
		return nil, fmt.Errorf("generate_report requires 'report_type'")
	}
	if params.Format == "" {
		params.Format = "pdf"
	}
	reportID := uuid.NewString()
	return map[string]any{
		"report_id":    reportID,
		"report_type":  params.ReportType,
		"format":       params.Format,
		"title":        params.Title,
		"report_url":   fmt.Sprintf("/reports/%s.%s", reportID, params.Format),
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}
