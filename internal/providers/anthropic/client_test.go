package anthropic

import (
	"testing"

	"github.com/fudanyi/agentflow/internal/model"
)

func TestEncodeMessages_SplitsSystemFromConversation(t *testing.T) {
	messages := []model.Message{
		model.SystemMessage("be concise"),
		model.UserMessage("hello"),
		model.AssistantMessage("hi there"),
	}
	msgs, system, err := encodeMessages(messages)
	if err != nil {
		t.Fatalf("encodeMessages error: %v", err)
	}
	if system != "be concise" {
		t.Fatalf("expected system prompt extracted, got %q", system)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 conversation messages, got %d", len(msgs))
	}
}

func TestEncodeMessages_ToolResponseBecomesToolResultBlock(t *testing.T) {
	messages := []model.Message{
		model.UserMessage("run it"),
		model.AssistantToolCallMessage("", []model.ToolCall{
			{ID: "call_1", Function: model.ToolCallFunc{Name: "terminate", Arguments: `{"status":"success"}`}},
		}),
		model.ToolMessage("call_1", "terminate", "done", ""),
	}
	msgs, _, err := encodeMessages(messages)
	if err != nil {
		t.Fatalf("encodeMessages error: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages (user, assistant tool_use, tool result), got %d", len(msgs))
	}
}

func TestPrepareRequest_RequiresModelAndMessages(t *testing.T) {
	if _, err := prepareRequest(&model.Request{}); err == nil {
		t.Fatal("expected error for empty request")
	}
	req := &model.Request{Model: "claude-sonnet-4-5", Messages: []model.Message{model.UserMessage("hi")}}
	params, err := prepareRequest(req)
	if err != nil {
		t.Fatalf("prepareRequest error: %v", err)
	}
	if params.MaxTokens != 4096 {
		t.Fatalf("expected default max tokens 4096, got %d", params.MaxTokens)
	}
}
