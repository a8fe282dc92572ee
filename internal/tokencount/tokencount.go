// Package tokencount estimates token costs for messages, images, and tool
// calls. It is never an exact provider count; it exists to gate requests
// against max_input_tokens before they are sent.
//
// Rules are taken bit-exact from
// _examples/original_source/app/llm.py's TokenCounter, cross-checked against
// SPEC_FULL.md §4.2.
package tokencount

import (
	"math"
	"unicode/utf8"

	"github.com/fudanyi/agentflow/internal/model"
)

const (
	// perMessageOverhead is the fixed per-message token overhead.
	perMessageOverhead = 4
	// messageListOverhead is the fixed overhead for a list of messages.
	messageListOverhead = 2

	lowDetailImageTokens = 85
	tileSize             = 512
	tileTokens           = 170
	tileBaseTokens       = 85
	maxDimension         = 2048
	highDetailShortSide  = 768
)

// Counter estimates token counts for text, images, and tool calls.
//
// It has no vendored tokenizer model table (see DESIGN.md): no example or
// pack repo in this corpus ships a BPE vocabulary, so Counter uses a
// generic byte/word-ratio approximation for text and the exact formulas
// from SPEC_FULL.md §4.2 for everything else.
type Counter struct{}

// New constructs a Counter.
func New() *Counter { return &Counter{} }

// CountText estimates the token count of a plain string using a generic
// approximation: roughly 4 bytes per token for ASCII-heavy text, with a
// floor of 1 token for any non-empty string.
func (c *Counter) CountText(s string) int {
	if s == "" {
		return 0
	}
	n := utf8.RuneCountInString(s)
	tokens := int(math.Ceil(float64(n) / 4.0))
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// CountImage estimates the token cost of an image part per its detail
// level, following SPEC_FULL.md §4.2 / app/llm.py's count_image:
//   - low: fixed 85 tokens.
//   - high: scale to fit within 2048x2048, then scale the shortest side to
//     768, tile by 512px, cost = ceil(w/512)*ceil(h/512)*170 + 85.
//   - medium: same as high when dimensions are known, else fixed 1024.
//   - unknown dimensions for high default to a 1024x1024 calculation.
func (c *Counter) CountImage(img *model.Image) int {
	if img == nil {
		return 0
	}
	switch img.Detail {
	case "low":
		return lowDetailImageTokens
	case "medium":
		if img.Width == 0 || img.Height == 0 {
			return 1024
		}
		return c.highDetailTokens(img.Width, img.Height)
	default: // "high" or unspecified defaults to high per the provider convention
		if img.Width == 0 || img.Height == 0 {
			return c.highDetailTokens(1024, 1024)
		}
		return c.highDetailTokens(img.Width, img.Height)
	}
}

func (c *Counter) highDetailTokens(w, h int) int {
	width, height := float64(w), float64(h)

	if width > maxDimension || height > maxDimension {
		scale := maxDimension / math.Max(width, height)
		width *= scale
		height *= scale
	}

	shortSide := math.Min(width, height)
	if shortSide > 0 {
		scale := highDetailShortSide / shortSide
		width *= scale
		height *= scale
	}

	tilesW := math.Ceil(width / tileSize)
	tilesH := math.Ceil(height / tileSize)
	return int(tilesW*tilesH*tileTokens) + tileBaseTokens
}

// CountToolCall estimates the token cost of a single tool call as
// tokens(name) + tokens(arguments).
func (c *Counter) CountToolCall(tc model.ToolCall) int {
	return c.CountText(tc.Function.Name) + c.CountText(tc.Function.Arguments)
}

// CountMessage estimates a single message's token cost: the per-message
// overhead plus text/role/name/tool_call_id fields plus any tool calls.
func (c *Counter) CountMessage(m model.Message) int {
	total := perMessageOverhead
	total += c.CountText(string(m.Role))
	total += c.CountText(m.Name)
	total += c.CountText(m.ToolCallID)
	for _, part := range m.Content {
		if part.Text != "" {
			total += c.CountText(part.Text)
		}
		if part.Image != nil {
			total += c.CountImage(part.Image)
		}
	}
	for _, tc := range m.ToolCalls {
		total += c.CountToolCall(tc)
	}
	return total
}

// CountMessages estimates the total token cost of a message list, including
// the fixed list overhead.
func (c *Counter) CountMessages(msgs []model.Message) int {
	total := messageListOverhead
	for _, m := range msgs {
		total += c.CountMessage(m)
	}
	return total
}
