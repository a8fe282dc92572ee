// Package openai provides an internal/model.Client implementation backed by
// the OpenAI Chat Completions API via github.com/openai/openai-go.
//
// Adapted from
// _examples/goadesign-goa-ai/features/model/openai/client.go's
// Complete/translateResponse/encodeTools shape, generalized from that
// teacher's sashabaranov/go-openai-backed adapter (single string Content, no
// streaming) to the official openai-go SDK, adding Stream support the
// teacher's version explicitly lacked.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/fudanyi/agentflow/internal/model"
)

// ChatClient captures the subset of the openai-go client used by the
// adapter, so tests can substitute a fake.
type ChatClient interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// Client implements model.Client via the OpenAI Chat Completions API.
type Client struct {
	chat ChatClient
}

// New builds an OpenAI-backed model.Client from an existing chat completions
// client (typically &openai.NewClient(...).Chat.Completions).
func New(chat ChatClient) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	return &Client{chat: chat}, nil
}

// NewFromAPIKey constructs a Client using the SDK's default HTTP transport.
func NewFromAPIKey(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions)
}

// Complete issues a non-streaming chat completion request.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, err := prepareRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		if isAuthFailure(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrAuthFailed, err)
		}
		return nil, fmt.Errorf("openai chat.completions: %w", err)
	}
	return translateResponse(resp), nil
}

// Stream issues a streaming chat completion request and adapts the SDK's
// server-sent events into model.Chunks.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	params, err := prepareRequest(req)
	if err != nil {
		return nil, err
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	stream := c.chat.NewStreaming(ctx, *params)
	return newStreamer(stream), nil
}

func prepareRequest(req *model.Request) (*openai.ChatCompletionNewParams, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	if req.Model == "" {
		return nil, errors.New("openai: model identifier is required")
	}

	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	params := &openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
		if tc := encodeToolChoice(req.ToolChoice); tc.OfAuto != nil || tc.OfChatCompletionNamedToolChoice != nil {
			params.ToolChoice = tc
		}
	}
	return params, nil
}

func encodeMessages(messages []model.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(m.Text()))
		case model.RoleUser:
			out = append(out, encodeUserMessage(m))
		case model.RoleAssistant:
			out = append(out, encodeAssistantMessage(m))
		case model.RoleTool:
			out = append(out, openai.ToolMessage(m.Text(), m.ToolCallID))
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

func encodeUserMessage(m model.Message) openai.ChatCompletionMessageParamUnion {
	hasImage := false
	for _, part := range m.Content {
		if part.Image != nil {
			hasImage = true
			break
		}
	}
	if !hasImage {
		return openai.UserMessage(m.Text())
	}

	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(m.Content))
	for _, part := range m.Content {
		if part.Text != "" {
			parts = append(parts, openai.TextContentPart(part.Text))
		}
		if part.Image != nil {
			url := fmt.Sprintf("data:%s;base64,%s", part.Image.MediaType, part.Image.Base64)
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
		}
	}
	return openai.UserMessage(parts)
}

func encodeAssistantMessage(m model.Message) openai.ChatCompletionMessageParamUnion {
	if len(m.ToolCalls) == 0 {
		return openai.AssistantMessage(m.Text())
	}
	calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(m.ToolCalls))
	for _, tc := range m.ToolCalls {
		calls = append(calls, openai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	msg := openai.ChatCompletionAssistantMessageParam{
		ToolCalls: calls,
	}
	if text := m.Text(); text != "" {
		msg.Content.OfString = openai.String(text)
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &msg}
}

func encodeTools(defs []model.ToolDefinition) ([]openai.ChatCompletionToolUnionParam, error) {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))
	for _, def := range defs {
		params, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("openai: marshal tool %q schema: %w", def.Name, err)
		}
		var schema map[string]any
		if err := json.Unmarshal(params, &schema); err != nil {
			return nil, fmt.Errorf("openai: unmarshal tool %q schema: %w", def.Name, err)
		}
		out = append(out, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        def.Name,
			Description: openai.String(def.Description),
			Parameters:  shared.FunctionParameters(schema),
		}))
	}
	return out, nil
}

func encodeToolChoice(choice model.ToolChoiceMode) openai.ChatCompletionToolChoiceOptionUnionParam {
	switch choice {
	case model.ToolChoiceNone:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}
	case model.ToolChoiceRequired:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("required")}
	default:
		return openai.ChatCompletionToolChoiceOptionUnionParam{}
	}
}

func isRateLimited(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

func isAuthFailure(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 401 || apiErr.StatusCode == 403
	}
	return false
}

func translateResponse(resp *openai.ChatCompletion) *model.Response {
	out := &model.Response{}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		out.Content = choice.Message.Content
		out.StopReason = string(choice.FinishReason)
		for _, tc := range choice.Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID: tc.ID,
				Function: model.ToolCallFunc{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
	}
	out.Usage = model.TokenUsage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	return out
}
