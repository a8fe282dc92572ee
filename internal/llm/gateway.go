package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/fudanyi/agentflow/internal/bus"
	"github.com/fudanyi/agentflow/internal/model"
	"github.com/fudanyi/agentflow/internal/telemetry"
	"github.com/fudanyi/agentflow/internal/tokencount"
)

// Option configures a Gateway at construction time.
type Option func(*Gateway)

// WithSystemMessages sets the system prompt(s) prepended to every request.
func WithSystemMessages(msgs ...model.Message) Option {
	return func(g *Gateway) { g.systemMsgs = msgs }
}

// WithMaxInputTokens sets the preflight token ceiling, past which Ask/AskTool
// return model.ErrTokenLimitExceeded without ever calling the provider. Zero
// (the default) disables the check.
func WithMaxInputTokens(n int) Option {
	return func(g *Gateway) { g.maxInputTokens = n }
}

// WithSupportsImages declares whether the underlying model accepts image
// content parts; when false, images passed to AskWithImages/AskToolWithImage
// are silently dropped during normalization (format_messages step 1).
func WithSupportsImages(v bool) Option {
	return func(g *Gateway) { g.supportsImages = v }
}

// WithTemperature sets the sampling temperature applied to every request.
func WithTemperature(t float32) Option {
	return func(g *Gateway) { g.temperature = t }
}

// WithMaxTokens sets the max output tokens requested of the provider.
func WithMaxTokens(n int) Option {
	return func(g *Gateway) { g.maxTokens = n }
}

// WithBus attaches an output bus that streaming calls emit chunks to.
func WithBus(b *bus.Bus) Option {
	return func(g *Gateway) { g.bus = b }
}

// WithLogger attaches a structured logger.
func WithLogger(l telemetry.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// Gateway is the LLM Gateway (SPEC_FULL.md §4.3): it normalizes message
// history, enforces a token budget, retries transient failures, and exposes
// both plain-text and tool-calling request shapes over a provider-agnostic
// model.Client.
type Gateway struct {
	mu sync.Mutex

	client    model.Client
	modelName string
	counter   *tokencount.Counter
	bus       *bus.Bus
	logger    telemetry.Logger

	systemMsgs     []model.Message
	maxInputTokens int
	supportsImages bool
	temperature    float32
	maxTokens      int

	totalUsage model.TokenUsage
}

// New constructs a Gateway wrapping client (typically an
// internal/providers/{anthropic,openai} adapter, possibly itself wrapped by
// internal/llm/middleware.AdaptiveRateLimiter.Middleware()).
func New(client model.Client, modelName string, opts ...Option) *Gateway {
	g := &Gateway{
		client:    client,
		modelName: modelName,
		counter:   tokencount.New(),
		logger:    telemetry.NewNoopLogger(),
		maxTokens: 4096,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Usage returns the cumulative token usage observed across every call made
// through this Gateway so far.
func (g *Gateway) Usage() model.TokenUsage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.totalUsage
}

func (g *Gateway) addUsage(u model.TokenUsage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.totalUsage.InputTokens += u.InputTokens
	g.totalUsage.OutputTokens += u.OutputTokens
	g.totalUsage.TotalTokens += u.TotalTokens
}

// preflight normalizes the message history and rejects it up front if it
// would exceed maxInputTokens, matching app/llm.py's pre-send token check
// (raised as TokenLimitExceeded, never retried).
func (g *Gateway) preflight(messages []model.Message, images []model.Image) ([]model.Message, error) {
	formatted := formatMessages(g.systemMsgs, messages, images, g.supportsImages)
	if g.maxInputTokens > 0 {
		if n := g.counter.CountMessages(formatted); n > g.maxInputTokens {
			return nil, fmt.Errorf("%w: %d tokens exceeds limit of %d", model.ErrTokenLimitExceeded, n, g.maxInputTokens)
		}
	}
	return formatted, nil
}

func (g *Gateway) baseRequest(messages []model.Message) *model.Request {
	return &model.Request{
		Model:       g.modelName,
		Messages:    messages,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}
}

// Ask sends a plain-text request (no tools) and returns the assistant's
// text response, streaming it to the bus as it arrives when a bus is
// attached, matching LLM.ask's streaming-by-default behavior.
func (g *Gateway) Ask(ctx context.Context, messages []model.Message) (string, error) {
	return g.AskWithImages(ctx, messages, nil)
}

// AskWithImages is Ask with image content parts attached to the last user
// message, dropped silently if the model was constructed without
// WithSupportsImages(true).
func (g *Gateway) AskWithImages(ctx context.Context, messages []model.Message, images []model.Image) (string, error) {
	formatted, err := g.preflight(messages, images)
	if err != nil {
		return "", err
	}

	var text string
	err = withRetry(ctx, func() error {
		req := g.baseRequest(formatted)
		t, usage, streamErr := g.streamText(ctx, req)
		if streamErr != nil {
			return streamErr
		}
		text = t
		g.addUsage(usage)
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// AskTool sends a request offering tool definitions and returns the full
// Response, including any requested tool calls, per
// ToolCallAgent.think/LLM.ask_tool.
func (g *Gateway) AskTool(ctx context.Context, messages []model.Message, tools []model.ToolDefinition, choice model.ToolChoiceMode) (*model.Response, error) {
	return g.AskToolWithImage(ctx, messages, nil, tools, choice)
}

// AskToolWithImage is AskTool with image content parts attached to the last
// user message.
func (g *Gateway) AskToolWithImage(ctx context.Context, messages []model.Message, images []model.Image, tools []model.ToolDefinition, choice model.ToolChoiceMode) (*model.Response, error) {
	formatted, err := g.preflight(messages, images)
	if err != nil {
		return nil, err
	}

	var resp *model.Response
	err = withRetry(ctx, func() error {
		req := g.baseRequest(formatted)
		req.Tools = tools
		req.ToolChoice = choice
		if choice == "" {
			req.ToolChoice = model.ToolChoiceAuto
		}

		r, streamErr := g.streamTool(ctx, req)
		if streamErr != nil {
			return streamErr
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.addUsage(resp.Usage)
	return resp, nil
}
