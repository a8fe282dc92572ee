package flow

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/fudanyi/agentflow/internal/bus"
	"github.com/fudanyi/agentflow/internal/model"
)

// summarizeSystemPrompt and summarizeUserPrompt are taken verbatim from
// _examples/original_source/app/prompt/flow_prompt.py's
// SUMMARY_SYSTEM_MESSAGE/SUMMARY_REQUEST_PROMPT.
const summarizeSystemPrompt = "You are a information extraction assistant."

const summarizeUserPrompt = `Your task is to summarize previous conversation(representing partial execution of an agent) into a comprehensive document.

## Key Elements to Include
1. **Insights** - Key learnings and observations
2. **Fact Details** - Important factual information
3. **Information Fetched** - Critical data and resources obtained
4. **Deliverables** - Completed outputs and results
5. **Error Prevention** - Recommendations to avoid common issues

## Document Requirements
- The document must contain sufficient and accurate details for subsequent execution to complete user goal without duplicate refetching/redoing
- Pay special attention to data schema details
- Assume subsequent execution only has access to this summary
- Do NOT include planning information as it will be fetched automatically
`

// shouldSummarizeBeforeStep reports whether summarizeMemory should run before
// starting the plan step at idx, per SPEC_FULL.md §4.7 step 3.d: only when
// auto-summarize is enabled and idx is not the plan's first step.
func shouldSummarizeBeforeStep(autoSummarize bool, idx int) bool {
	return autoSummarize && idx > 0
}

// summarizeMemory compresses f.cfg.Memory before a non-first step
// (SPEC_FULL.md §4.9): the original request and every "real result"
// tool-call/response pair are carried forward verbatim, the rest of the
// history is replaced with a single dense summary. Any failure along the way
// leaves memory untouched, matching tarsy's maybeSummarize fail-open
// discipline.
func (f *Flow) summarizeMemory(ctx context.Context) {
	if f.cfg.SummarizeGateway == nil {
		return
	}
	messages := f.cfg.Memory.Messages()
	if len(messages) == 0 {
		return
	}

	originalRequest, ok := firstUserMessage(messages)
	if !ok {
		return
	}

	resp, err := f.cfg.SummarizeGateway.Ask(ctx, append(append([]model.Message{}, messages...), model.UserMessage(summarizeUserPrompt)))
	if err != nil {
		f.cfg.Logger.Warn(ctx, "flow: summarization failed, leaving memory untouched", "error", err.Error())
		return
	}

	realResults := extractRealResults(messages, f.registryPreservesOnSummarize)
	existingSummaries := existingSummaryMessages(messages)
	newSummary := model.Message{Role: model.RoleSummary, Content: []model.ContentPart{{Text: wrapSummary(resp)}}}

	rebuilt := make([]model.Message, 0, 2+len(realResults)+len(existingSummaries))
	rebuilt = append(rebuilt, originalRequest)
	rebuilt = append(rebuilt, realResults...)
	rebuilt = append(rebuilt, existingSummaries...)
	rebuilt = append(rebuilt, newSummary)

	f.cfg.Memory.ReplaceAll(rebuilt)

	if f.cfg.Bus != nil {
		f.cfg.Bus.Print(bus.TypeLiveStatus, "conversation summarized", nil)
	}
}

// registryPreservesOnSummarize reports whether name's results are eligible
// to survive summarization, deferring to the Tool Registry's declaration
// (SPEC_FULL.md §9 Open Question 3) when one is configured.
func (f *Flow) registryPreservesOnSummarize(name string) bool {
	if f.cfg.Registry == nil {
		return false
	}
	return f.cfg.Registry.PreservesOnSummarize(name)
}

func firstUserMessage(messages []model.Message) (model.Message, bool) {
	for _, m := range messages {
		if m.Role == model.RoleUser {
			return m, true
		}
	}
	return model.Message{}, false
}

func existingSummaryMessages(messages []model.Message) []model.Message {
	var out []model.Message
	for _, m := range messages {
		if m.Role == model.RoleSummary {
			out = append(out, m)
		}
	}
	return out
}

// extractRealResults finds, in order, every assistant-tool-call/tool-response
// pair whose tool is registry-eligible and whose result indicates a produced
// artifact: python_execute success with at least one output file, or
// datasource success with a csv_filename. These must survive summarization
// because later steps reference their artifacts (SPEC_FULL.md §4.9/§8
// Invariant 5).
func extractRealResults(messages []model.Message, preserves func(string) bool) []model.Message {
	responses := make(map[string]model.Message, len(messages))
	for _, m := range messages {
		if m.Role == model.RoleTool && m.ToolCallID != "" {
			responses[m.ToolCallID] = m
		}
	}

	var out []model.Message
	for _, m := range messages {
		if m.Role != model.RoleAssistant || len(m.ToolCalls) == 0 {
			continue
		}
		for _, call := range m.ToolCalls {
			name := call.Function.Name
			if !preserves(name) {
				continue
			}
			toolMsg, ok := responses[call.ID]
			if !ok || !isRealResult(name, toolMsg.Text()) {
				continue
			}
			out = append(out, model.AssistantToolCallMessage(m.Text(), []model.ToolCall{call}))
			out = append(out, toolMsg)
		}
	}
	return out
}

// isRealResult checks the JSON body of a tool observation for the
// success markers §4.9 cares about. Observations are rendered as
// "Observed output of cmd `name` executed:\n<json>" (reactagent.executeTool),
// so the JSON object is recovered from within the surrounding text rather
// than unmarshaled directly.
func isRealResult(toolName, content string) bool {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return false
	}

	var parsed struct {
		OutputFiles []string `json:"output_files"`
		CSVFilename string   `json:"csv_filename"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &parsed); err != nil {
		return false
	}
	switch toolName {
	case "python_execute":
		return len(parsed.OutputFiles) > 0
	case "datasource":
		return parsed.CSVFilename != ""
	default:
		return false
	}
}

// wrapSummary wraps the model's summary text with literal delimiters so it
// is visually distinguishable from ordinary conversation turns once folded
// back into memory.
func wrapSummary(text string) string {
	return "=== CONVERSATION SUMMARY ===\n" + text + "\n=== END SUMMARY ==="
}
