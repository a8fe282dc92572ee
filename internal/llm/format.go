// Package llm implements the LLM Gateway (SPEC_FULL.md §4.3): message
// normalization, tool-call/response reconstruction, streaming assembly, and
// bounded retry, wrapping a provider-agnostic internal/model.Client.
//
// Grounded bit-for-bit on _examples/original_source/app/llm.py's
// format_messages (normalization/history-trimming/dedup) and ask_tool
// (tool-call reconstruction, streaming accumulator).
package llm

import (
	"github.com/fudanyi/agentflow/internal/model"
)

// reconstructToolCalls walks the message list and, for each assistant
// message carrying tool_calls, ensures every call id is immediately
// followed by its matching tool response — inserting a synthetic empty
// response when one is missing, and dropping stray tool messages whose id
// has no assistant origin. This is an emit-time transform, not an
// in-memory invariant (SPEC_FULL.md §9), so partial histories from
// interactive retries round-trip correctly.
func reconstructToolCalls(messages []model.Message) []model.Message {
	// Map tool_call_id -> the tool response message, built from wherever it
	// appears in the input (order among tool responses doesn't matter; only
	// their content does).
	responses := make(map[string]model.Message)
	for _, m := range messages {
		if m.Role == model.RoleTool && m.ToolCallID != "" {
			responses[m.ToolCallID] = m
		}
	}

	out := make([]model.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == model.RoleTool {
			// Tool messages are re-emitted only directly after their owning
			// assistant message, handled below; skip them here.
			continue
		}
		out = append(out, m)
		if m.Role == model.RoleAssistant && len(m.ToolCalls) > 0 {
			for _, tc := range m.ToolCalls {
				if resp, ok := responses[tc.ID]; ok {
					out = append(out, resp)
				} else {
					out = append(out, model.ToolMessage(tc.ID, "", "", ""))
				}
			}
		}
	}
	return out
}

// collapseToText flattens a message's content parts into a single text
// part, dropping any image parts. Used for history trimming on all but the
// last message during an image-augmented turn.
func collapseToText(m model.Message) model.Message {
	if len(m.Content) <= 1 {
		return m
	}
	text := m.Text()
	m.Content = []model.ContentPart{{Text: text}}
	return m
}

// trimHistoryImages collapses every message except the last to plain text,
// matching format_messages step 3.
func trimHistoryImages(messages []model.Message) []model.Message {
	if len(messages) == 0 {
		return messages
	}
	out := make([]model.Message, len(messages))
	for i, m := range messages {
		if i == len(messages)-1 {
			out[i] = m
			continue
		}
		out[i] = collapseToText(m)
	}
	return out
}

// dedupNextPrompt removes any earlier message whose rendered text equals
// the last message verbatim, when the last message is a plain user text
// message. This eliminates reinjected "NEXT_STEP" prompts across a long
// ReAct loop (format_messages step 4).
func dedupNextPrompt(messages []model.Message) []model.Message {
	if len(messages) == 0 {
		return messages
	}
	last := messages[len(messages)-1]
	if last.Role != model.RoleUser {
		return messages
	}
	lastText := last.Text()
	if lastText == "" {
		return messages
	}
	out := make([]model.Message, 0, len(messages))
	for i, m := range messages[:len(messages)-1] {
		if m.Text() == lastText {
			continue
		}
		out = append(out, messages[i])
	}
	out = append(out, last)
	return out
}

// injectImages attaches image content parts to the last user message, or
// silently strips them when the model does not support multimodal input.
func injectImages(messages []model.Message, images []model.Image, supportsImages bool) []model.Message {
	if len(images) == 0 {
		return messages
	}
	if !supportsImages {
		return messages
	}
	out := make([]model.Message, len(messages))
	copy(out, messages)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == model.RoleUser {
			parts := append([]model.ContentPart(nil), out[i].Content...)
			for _, img := range images {
				imgCopy := img
				parts = append(parts, model.ContentPart{Image: &imgCopy})
			}
			out[i].Content = parts
			break
		}
	}
	return out
}

// formatMessages runs the full normalization pipeline: optional system
// messages prepended, image injection, tool-call/response reconstruction,
// history trimming, and next-prompt dedup, per format_messages steps 1-4.
func formatMessages(systemMsgs, messages []model.Message, images []model.Image, supportsImages bool) []model.Message {
	all := make([]model.Message, 0, len(systemMsgs)+len(messages))
	all = append(all, systemMsgs...)
	all = append(all, messages...)

	all = injectImages(all, images, supportsImages)
	all = reconstructToolCalls(all)
	if len(images) > 0 {
		all = trimHistoryImages(all)
	}
	all = dedupNextPrompt(all)
	return all
}
