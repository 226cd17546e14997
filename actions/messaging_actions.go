package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quillworks/automation"
)

// SendEmailInput defines the input parameters for the send_email action.
type SendEmailInput struct {
	To      []string `json:"to"`
	Cc      []string `json:"cc"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	From    string   `json:"from"`
}

// SendEmailAction queues an outbound email.
type SendEmailAction struct{}

func NewSendEmailAction() *SendEmailAction {
	return &SendEmailAction{}
}

func (a *SendEmailAction) Type() automation.StepType {
	return automation.StepTypeSendEmail
}

func (a *SendEmailAction) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	var params SendEmailInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if len(params.To) == 0 {
		return nil, fmt.Errorf("send_email requires at least one recipient in 'to'")
	}
	if params.Subject == "" {
		return nil, fmt.Errorf("send_email requires 'subject'")
	}
	return map[string]any{
		"message_id": uuid.NewString(),
		"recipients": len(params.To) + len(params.Cc),
		"subject":    params.Subject,
		"queued_at":  time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// SendNotificationInput defines the input parameters for the
// send_notification action.
type SendNotificationInput struct {
	UserID  string `json:"user_id"`
	Channel string `json:"channel"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// SendNotificationAction delivers an in-app or channel notification.
type SendNotificationAction struct{}

func NewSendNotificationAction() *SendNotificationAction {
	return &SendNotificationAction{}
}

func (a *SendNotificationAction) Type() automation.StepType {
	return automation.StepTypeSendNotification
}

func (a *SendNotificationAction) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	var params SendNotificationInput
	if err := decodeInput(input, &params); err != nil {
		return nil, err
	}
	if params.UserID == "" {
		return nil, fmt.Errorf("send_notification requires 'user_id'")
	}
	if params.Message == "" {
		return nil, fmt.Errorf("send_notification requires 'message'")
	}
	if params.Channel == "" {
		params.Channel = "in_app"
	}
	return map[string]any{
		"notification_id": uuid.NewString(),
		"user_id":         params.UserID,
		"channel":         params.Channel,
		"delivered_at":    time.Now().UTC().Format(time.RFC3339),
	}, nil
}
