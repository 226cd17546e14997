// Package webhook receives inbound HTTP calls and turns them into workflow
// executions. Requests pass a fixed validation gauntlet before anything runs:
// registration lookup, enablement, method, required headers, HMAC signature,
// then rate limit.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/quillworks/automation"
)

// SignatureHeader carries the HMAC-SHA256 signature of the raw request body,
// hex encoded with a "sha256=" prefix.
const SignatureHeader = "X-Webhook-Signature"

// Registration describes one webhook endpoint bound to a workflow.
type Registration struct {
	Path             string            `json:"path"`
	WorkflowID       string            `json:"workflow_id"`
	TriggerID        string            `json:"trigger_id,omitempty"`
	Enabled          bool              `json:"enabled"`
	AllowedMethods   []string          `json:"allowed_methods,omitempty"`
	RequiredHeaders  map[string]string `json:"required_headers,omitempty"`
	SecretKey        string            `json:"secret_key,omitempty"`
	RateLimitPerHour int               `json:"rate_limit_per_hour,omitempty"`
}

// Source resolves an inbound path to its webhook registration.
type Source interface {
	GetRegistration(ctx context.Context, path string) (*Registration, error)
}

// MemorySource is a mutex-guarded in-memory Source.
type MemorySource struct {
	mutex         sync.RWMutex
	registrations map[string]*Registration
}

// NewMemorySource creates an empty in-memory registration source.
func NewMemorySource() *MemorySource {
	return &MemorySource{registrations: map[string]*Registration{}}
}

// Register adds or replaces the registration for a path.
func (s *MemorySource) Register(registration *Registration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	copied := *registration
	s.registrations[registration.Path] = &copied
}

// Unregister removes the registration for a path.
func (s *MemorySource) Unregister(path string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.registrations, path)
}

// GetRegistration returns the registration for a path, or nil when the path
// is unknown.
func (s *MemorySource) GetRegistration(ctx context.Context, path string) (*Registration, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	registration, ok := s.registrations[path]
	if !ok {
		return nil, nil
	}
	copied := *registration
	return &copied, nil
}

// Executor starts workflow executions. *automation.Engine satisfies it.
type Executor interface {
	Execute(ctx context.Context, workflowID string, opts automation.ExecuteOptions) (string, error)
}

// Response is the JSON body returned for an accepted webhook.
type Response struct {
	Success     bool   `json:"success"`
	ExecutionID string `json:"execution_id,omitempty"`
	WorkflowID  string `json:"workflow_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	Source   Source
	Executor Executor
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Handler validates inbound webhook requests and starts workflow executions
// for the ones that pass. It implements http.Handler.
type Handler struct {
	source   Source
	executor Executor
	logger   *slog.Logger
	clock    func() time.Time

	mutex    sync.Mutex
	counters map[string]*hourlyCounter
}

type hourlyCounter struct {
	windowStart time.Time
	count       int
}

// NewHandler creates a webhook handler.
func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("registration source is required")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Handler{
		source:   opts.Source,
		executor: opts.Executor,
		logger:   opts.Logger,
		clock:    opts.Clock,
		counters: map[string]*hourlyCounter{},
	}, nil
}

// ServeHTTP adapts HandleWebhook to the standard library server.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "failed to read request body"})
		return
	}
	status, response := h.HandleWebhook(r.Context(), r.URL.Path, r.Method, r.Header, body)
	writeJSON(w, status, response)
}

// HandleWebhook runs the full validation pipeline for one inbound request and
// starts the bound workflow when every check passes. Checks run in a fixed
// order so callers get stable status codes: unknown path 404, disabled 403,
// method 405, missing headers 403, bad signature 403, rate limit 429.
func (h *Handler) HandleWebhook(ctx context.Context, path, method string, headers http.Header, body []byte) (int, Response) {
	registration, err := h.source.GetRegistration(ctx, path)
	if err != nil {
		h.logger.Error("webhook registration lookup failed", "path", path, "error", err)
		return http.StatusInternalServerError, Response{Error: "registration lookup failed"}
	}
	if registration == nil {
		return http.StatusNotFound, Response{Error: "no webhook registered for path"}
	}
	if !registration.Enabled {
		return http.StatusForbidden, Response{Error: "webhook is disabled"}
	}
	if !methodAllowed(registration.AllowedMethods, method) {
		return http.StatusMethodNotAllowed, Response{Error: "method not allowed"}
	}
	for name, want := range registration.RequiredHeaders {
		if headers.Get(name) != want {
			return http.StatusForbidden, Response{Error: "required header missing or invalid"}
		}
	}
	if registration.SecretKey != "" {
		if !VerifySignature(registration.SecretKey, body, headers.Get(SignatureHeader)) {
			return http.StatusForbidden, Response{Error: "invalid signature"}
		}
	}
	if h.rateLimited(registration) {
		return http.StatusTooManyRequests, Response{Error: "rate limit exceeded"}
	}

	input := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &input); err != nil {
			// Non-JSON payloads are still delivered, just raw.
			input = map[string]any{"raw_body": string(body)}
		}
	}

	executionID, err := h.executor.Execute(ctx, registration.WorkflowID, automation.ExecuteOptions{
		TriggerID: registration.TriggerID,
		Input:     input,
		Metadata: map[string]any{
			"triggered_by": "webhook:" + path,
			"trigger_type": string(automation.TriggerTypeWebhook),
		},
	})
	if err != nil {
		h.logger.Error("webhook execution failed to start",
			"path", path, "workflow_id", registration.WorkflowID, "error", err)
		return http.StatusInternalServerError, Response{Error: "failed to start execution"}
	}
	h.countRequest(registration)

	h.logger.Info("webhook accepted",
		"path", path, "workflow_id", registration.WorkflowID, "execution_id", executionID)
	return http.StatusOK, Response{
		Success:     true,
		ExecutionID: executionID,
		WorkflowID:  registration.WorkflowID,
	}
}

func methodAllowed(allowed []string, method string) bool {
	if len(allowed) == 0 {
		return strings.EqualFold(method, http.MethodPost)
	}
	for _, m := range allowed {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// rateLimited reports whether the path has exhausted its hourly budget.
// Counters live in a fixed one-hour window keyed off the first counted
// request in the window.
func (h *Handler) rateLimited(registration *Registration) bool {
	if registration.RateLimitPerHour <= 0 {
		return false
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()

	counter, ok := h.counters[registration.Path]
	if !ok || h.clock().Sub(counter.windowStart) >= time.Hour {
		return false
	}
	return counter.count >= registration.RateLimitPerHour
}

// countRequest charges one started execution against the path's hourly
// window. Requests that fail to start an execution are never counted.
func (h *Handler) countRequest(registration *Registration) {
	if registration.RateLimitPerHour <= 0 {
		return
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()

	now := h.clock()
	counter, ok := h.counters[registration.Path]
	if !ok || now.Sub(counter.windowStart) >= time.Hour {
		counter = &hourlyCounter{windowStart: now}
		h.counters[registration.Path] = counter
	}
	counter.count++
}

// Sign computes the signature expected in SignatureHeader for a payload.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header value against the payload using
// a constant-time comparison.
func VerifySignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

func writeJSON(w http.ResponseWriter, status int, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}
