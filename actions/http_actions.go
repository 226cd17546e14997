package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/quillworks/automation"
	"github.com/quillworks/automation/webhook"
)

// CallAPIInput defines the input parameters for the call_api action.
type CallAPIInput struct {
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers"`
	QueryParams map[string]string `json:"query_params"`
	Body        any               `json:"body"`
	Timeout     float64           `json:"timeout"`
}

// CallAPIOutput defines the output of the call_api action.
type CallAPIOutput struct {
	StatusCode   int            `json:"status_code"`
	Body         string         `json:"body"`
	JSONResponse map[string]any `json:"json_response,omitempty"`
	Success      bool           `json:"success"`
	DurationMs   int64          `json:"duration_ms"`
}

// CallAPIAction makes an outbound HTTP request.
type CallAPIAction struct {
	client *resty.Client
}

func NewCallAPIAction() *CallAPIAction {
	return &CallAPIAction{client: resty.New()}
}

func (a *CallAPIAction) Type() automation.StepType {
	return automation.StepTypeCallAPI
}

func (a *CallAPIAction) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	var params CallAPIInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if params.URL == "" {
		return nil, fmt.Errorf("call_api requires 'url'")
	}
	if params.Method == "" {
		params.Method = "GET"
	}
	if params.Timeout <= 0 {
		params.Timeout = 30
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(params.Timeout*float64(time.Second)))
	defer cancel()

	request := a.client.R().
		SetContext(timeoutCtx).
		SetHeaders(params.Headers).
		SetQueryParams(params.QueryParams)
	if params.Body != nil {
		request.SetBody(params.Body)
	}

	start := time.Now()
	response, err := request.Execute(strings.ToUpper(params.Method), params.URL)
	if err != nil {
		return nil, fmt.Errorf("call_api request failed: %w", err)
	}

	output := CallAPIOutput{
		StatusCode: response.StatusCode(),
		Body:       string(response.Body()),
		Success:    response.IsSuccess(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if strings.Contains(response.Header().Get("Content-Type"), "application/json") {
		var parsed map[string]any
		if err := json.Unmarshal(response.Body(), &parsed); err == nil {
			output.JSONResponse = parsed
		}
	}
	return encodeOutput(output)
}

// WebhookCallInput defines the input parameters for the webhook_call action.
type WebhookCallInput struct {
	URL     string            `json:"url"`
	Payload map[string]any    `json:"payload"`
	Headers map[string]string `json:"headers"`
	Secret  string            `json:"secret"`
	Timeout float64           `json:"timeout"`
}

// WebhookCallAction posts a JSON payload to an external webhook endpoint,
// signing the body when a secret is configured.
type WebhookCallAction struct {
	client *resty.Client
}

func NewWebhookCallAction() *WebhookCallAction {
	return &WebhookCallAction{client: resty.New()}
}

func (a *WebhookCallAction) Type() automation.StepType {
	return automation.StepTypeWebhookCall
}

func (a *WebhookCallAction) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	var params WebhookCallInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if params.URL == "" {
		return nil, fmt.Errorf("webhook_call requires 'url'")
	}
	if params.Timeout <= 0 {
		params.Timeout = 30
	}

	body, err := json.Marshal(params.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(params.Timeout*float64(time.Second)))
	defer cancel()

	request := a.client.R().
		SetContext(timeoutCtx).
		SetHeader("Content-Type", "application/json").
		SetHeaders(params.Headers).
		SetBody(body)
	if params.Secret != "" {
		request.SetHeader(webhook.SignatureHeader, webhook.Sign(params.Secret, body))
	}

	start := time.Now()
	response, err := request.Post(params.URL)
	if err != nil {
		return nil, fmt.Errorf("webhook_call request failed: %w", err)
	}
	return map[string]any{
		"status_code": response.StatusCode(),
		"success":     response.IsSuccess(),
		"duration_ms": time.Since(start).Milliseconds(),
	}, nil
}
