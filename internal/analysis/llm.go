package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"tasksync.app/tasksync/core/config"
	"tasksync.app/tasksync/internal/domain"
)

// Client is the single LLM capability the engine needs: one structured
// extraction call returning the JSON arguments of a schema-constrained tool.
type Client interface {
	Extract(ctx context.Context, req ExtractRequest) (string, error)
	Model() string
}

// ExtractRequest describes one structured model call.
type ExtractRequest struct {
	System     string
	User       string
	ToolName   string
	ToolDesc   string
	Schema     any // JSON Schema for the tool parameters
	MaxTokens  int
}

type openaiClient struct {
	client    openai.Client
	model     string
	maxTokens int
}

// NewClient creates an LLM client backed by the OpenAI API.
func NewClient(cfg config.LLMConfig) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &openaiClient{
		client:    openai.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

func (c *openaiClient) Extract(ctx context.Context, req ExtractRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	var params shared.FunctionParameters
	if req.Schema != nil {
		data, _ := json.Marshal(req.Schema)
		_ = json.Unmarshal(data, &params)
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
		Tools: []openai.ChatCompletionToolParam{
			{
				Function: shared.FunctionDefinitionParam{
					Name:        req.ToolName,
					Description: openai.String(req.ToolDesc),
					Parameters:  params,
				},
			},
		},
	})
	if err != nil {
		return "", classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	choice := resp.Choices[0]
	slog.DebugContext(ctx, "llm extraction completed",
		"model", c.model,
		"tool", req.ToolName,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"finish_reason", choice.FinishReason)

	for _, tc := range choice.Message.ToolCalls {
		if tc.Function.Name == req.ToolName {
			return tc.Function.Arguments, nil
		}
	}

	// Some models answer inline instead of calling the tool; accept the
	// content when it is itself the JSON payload.
	if json.Valid([]byte(choice.Message.Content)) {
		return choice.Message.Content, nil
	}

	return "", fmt.Errorf("model did not call tool %q", req.ToolName)
}

func (c *openaiClient) Model() string {
	return c.model
}

// classifyError marks rate-limit, server-side, and timeout failures as
// transient so the retry loop acts only on them. Auth and malformed-request
// errors pass through untouched.
func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return domain.MarkTransient(err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.MarkTransient(err)
	}
	return err
}

// GenerateSchema generates a JSON schema from an instance value for use as
// tool parameters.
func GenerateSchema(v any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(v)
}
