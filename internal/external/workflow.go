package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"arcana/internal/config"
	"arcana/internal/types"
)

// WorkflowRequest is the payload posted to the workflow engine. Field names
// are fixed by the deployed workflows and must not be renamed.
type WorkflowRequest struct {
	Service   string       `json:"service"`
	Input     string       `json:"input"`
	UserID    string       `json:"userId"`
	Timestamp string       `json:"timestamp"`
	MeowMode  bool         `json:"meowMode"`
	Cards     []types.Card `json:"cards,omitempty"`
}

// WorkflowResult is the engine's answer, reduced to the text shown to the
// visitor.
type WorkflowResult struct {
	Output string `json:"output"`
}

// WorkflowClient calls the workflow engine's webhook endpoints. Each service
// ID may have its own endpoint (and a separate meow-mode variant); anything
// unmapped falls back to the default webhook.
type WorkflowClient struct {
	base   *BaseClient
	cfg    config.WorkflowConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewWorkflowClient creates a WorkflowClient from workflow configuration.
func NewWorkflowClient(cfg config.WorkflowConfig, logger *slog.Logger, opts ...BaseClientOption) *WorkflowClient {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &WorkflowClient{
		base:   NewBaseClient(httpClient, "workflow", DefaultRetryPolicy(), cfg.UserAgent, opts...),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// endpointFor resolves the webhook URL for a service. Meow mode prefers the
// meow-specific endpoint but falls back through the regular mapping.
func (c *WorkflowClient) endpointFor(service string, meowMode bool) string {
	if meowMode {
		if u, ok := c.cfg.MeowServiceURLs[service]; ok {
			return u
		}
	}
	if u, ok := c.cfg.ServiceURLs[service]; ok {
		return u
	}
	return c.cfg.DefaultURL
}

// Ask posts the request to the engine and returns its text answer. Transport
// failures and unusable responses surface as upstream AppErrors; the caller
// decides what the visitor sees.
func (c *WorkflowClient) Ask(ctx context.Context, req WorkflowRequest) (*WorkflowResult, error) {
	if req.Timestamp == "" {
		req.Timestamp = c.now().UTC().Format(time.RFC3339)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode workflow request", err)
	}

	endpoint := c.endpointFor(req.Service, req.MeowMode)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build workflow request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.base.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamWorkflow,
			fmt.Sprintf("workflow engine returned %d", resp.StatusCode),
			nil,
		)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamWorkflow, "failed to read workflow response", err)
	}

	output, err := parseWorkflowOutput(raw)
	if err != nil {
		c.logger.ErrorContext(ctx, "unrecognized workflow response shape",
			"service", req.Service,
			"body_prefix", prefixForLog(raw),
		)
		return nil, err
	}
	return &WorkflowResult{Output: output}, nil
}

// parseWorkflowOutput extracts the answer text from the engine's response.
// Deployed workflows answer in one of three shapes: a JSON object with an
// "output" string, a JSON array of such objects (first element wins), or
// plain text. A structured body without a usable "output" is an error rather
// than something to show the visitor.
func parseWorkflowOutput(raw []byte) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "", types.NewAppError(types.ErrCodeUpstreamBadPayload, "workflow response was empty", nil)
	}

	switch trimmed[0] {
	case '{':
		var obj struct {
			Output string `json:"output"`
		}
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil && obj.Output != "" {
			return obj.Output, nil
		}
		return "", types.NewAppError(types.ErrCodeUpstreamBadPayload, "workflow object response has no output field", nil)
	case '[':
		var arr []struct {
			Output string `json:"output"`
		}
		if err := json.Unmarshal([]byte(trimmed), &arr); err == nil && len(arr) > 0 && arr[0].Output != "" {
			return arr[0].Output, nil
		}
		return "", types.NewAppError(types.ErrCodeUpstreamBadPayload, "workflow array response has no output field", nil)
	default:
		return trimmed, nil
	}
}

func prefixForLog(raw []byte) string {
	const max = 200
	s := string(raw)
	if len(s) > max {
		return s[:max]
	}
	return s
}
