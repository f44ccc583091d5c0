package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultBaseURL      = "https://api.openai.com/v1"
	defaultModel        = "gpt-4o-mini"
	defaultInstructions = "Please address the user as Awesome User. The user has a premium account."
	assistantsBeta      = "assistants=v2"
)

// OpenAIConfig configures the OpenAI Assistants engine.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Instructions string
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// OpenAIEngine runs turns against the OpenAI Assistants API. Messages,
// threads and assistants go through go-openai; the run itself is streamed
// over server-sent events.
type OpenAIEngine struct {
	client       *openai.Client
	httpClient   *http.Client
	apiKey       string
	baseURL      string
	instructions string
	logger       *slog.Logger
}

// NewOpenAIEngine creates an engine for the given configuration.
func NewOpenAIEngine(cfg OpenAIConfig) *OpenAIEngine {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Instructions == "" {
		cfg.Instructions = defaultInstructions
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	clientCfg.HTTPClient = cfg.HTTPClient

	return &OpenAIEngine{
		client:       openai.NewClientWithConfig(clientCfg),
		httpClient:   cfg.HTTPClient,
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		instructions: cfg.Instructions,
		logger:       cfg.Logger.With("component", "openai"),
	}
}

// Name returns the engine name.
func (e *OpenAIEngine) Name() string {
	return "openai"
}

// runRequest is the body of POST /threads/{id}/runs with streaming enabled.
type runRequest struct {
	AssistantID  string `json:"assistant_id"`
	Instructions string `json:"instructions,omitempty"`
	Stream       bool   `json:"stream"`
}

// StartTurn adds the message to the thread and opens a streamed run.
// The returned stream is bound to ctx: cancelling it aborts the run request.
func (e *OpenAIEngine) StartTurn(ctx context.Context, req TurnRequest) (Stream, error) {
	role := req.Role
	if role == "" {
		role = openai.ChatMessageRoleUser
	}

	_, err := e.client.CreateMessage(ctx, req.ThreadID, openai.MessageRequest{
		Role:    role,
		Content: req.Content,
	})
	if err != nil {
		return nil, classifyError(ctx, err, ErrInvalidThread)
	}

	body, err := json.Marshal(runRequest{
		AssistantID:  req.AssistantID,
		Instructions: e.instructions,
		Stream:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode run request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/threads/"+req.ThreadID+"/runs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build run request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("OpenAI-Beta", assistantsBeta)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, runStatusError(resp)
	}

	e.logger.Debug("run stream opened",
		"thread_id", req.ThreadID,
		"assistant_id", req.AssistantID)

	return newRunStream(resp.Body), nil
}

// CreateThread creates an empty thread at OpenAI.
func (e *OpenAIEngine) CreateThread(ctx context.Context) (string, error) {
	thread, err := e.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", classifyError(ctx, err, ErrInvalidThread)
	}
	return thread.ID, nil
}

// CreateAssistant creates a code-interpreter assistant at OpenAI.
func (e *OpenAIEngine) CreateAssistant(ctx context.Context, spec AssistantSpec) (string, error) {
	model := spec.Model
	if model == "" {
		model = defaultModel
	}

	req := openai.AssistantRequest{
		Model: model,
		Tools: []openai.AssistantTool{{Type: openai.AssistantToolTypeCodeInterpreter}},
	}
	if spec.Name != "" {
		req.Name = &spec.Name
	}
	if spec.Instructions != "" {
		req.Instructions = &spec.Instructions
	}

	assistant, err := e.client.CreateAssistant(ctx, req)
	if err != nil {
		return "", classifyError(ctx, err, ErrInvalidAssistant)
	}
	return assistant.ID, nil
}

// classifyError maps a go-openai error to the engine taxonomy. A 404 maps to
// notFound, everything else to ErrEngineUnavailable.
func classifyError(ctx context.Context, err error, notFound error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", notFound, apiErr.Message)
		}
		return fmt.Errorf("%w: %s", ErrEngineUnavailable, apiErr.Message)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", notFound, reqErr.Err)
	}

	return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
}

// runStatusError maps a non-200 run response to the engine taxonomy.
func runStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil && payload.Error.Message != "" {
		msg = payload.Error.Message
	}

	if resp.StatusCode == http.StatusNotFound {
		if strings.Contains(strings.ToLower(msg), "assistant") {
			return fmt.Errorf("%w: %s", ErrInvalidAssistant, msg)
		}
		return fmt.Errorf("%w: %s", ErrInvalidThread, msg)
	}
	return fmt.Errorf("%w: run request failed with status %d: %s", ErrEngineUnavailable, resp.StatusCode, msg)
}
