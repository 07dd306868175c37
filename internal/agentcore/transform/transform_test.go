package transform

import (
	"testing"
	"time"

	"github.com/xonecas/symb/internal/agentcore/message"
)

func TestDropsAbortedAssistantAndOrphanedUser(t *testing.T) {
	now := time.Now()
	history := []message.Message{
		message.NewUserMessage("hi", now),
		message.NewAssistantMessage(nil, "anthropic-messages", "anthropic", "claude-sonnet-4", message.Usage{}, message.StopNormal, "", now),
		message.NewUserMessage("question", now),
		message.NewAssistantMessage(nil, "anthropic-messages", "anthropic", "claude-sonnet-4", message.Usage{}, message.StopAborted, "", now),
		message.NewUserMessage("never answered", now),
	}

	out := Transform(history, Options{TargetAPI: "anthropic-messages", TargetModel: "claude-sonnet-4"})

	if len(out) != 3 {
		t.Fatalf("expected 3 messages after dropping aborted turn, got %d: %+v", len(out), out)
	}
	for _, m := range out {
		if m.StopReason == message.StopAborted {
			t.Fatalf("aborted assistant message survived: %+v", m)
		}
		if m.Content == "never answered" {
			t.Fatalf("orphaned user message survived: %+v", m)
		}
	}
}

func TestSynthesizesMissingToolResult(t *testing.T) {
	now := time.Now()
	call := message.ToolCallBlock("call-1", "read_file", marshalArgsOrEmpty(map[string]any{"path": "a.go"}))
	history := []message.Message{
		message.NewUserMessage("read a.go", now),
		message.NewAssistantMessage([]message.Block{call}, "anthropic-messages", "anthropic", "claude-sonnet-4", message.Usage{}, message.StopToolUse, "", now),
	}

	out := Transform(history, Options{TargetAPI: "anthropic-messages", TargetModel: "claude-sonnet-4"})

	if len(out) != 3 {
		t.Fatalf("expected a synthetic tool result to be appended, got %d messages", len(out))
	}
	result := out[2]
	if result.Role != message.RoleToolResult || result.ToolCallID != "call-1" || !result.IsError {
		t.Fatalf("expected synthetic error tool result for call-1, got %+v", result)
	}
}

func TestDoesNotDuplicateExistingToolResult(t *testing.T) {
	now := time.Now()
	call := message.ToolCallBlock("call-1", "read_file", marshalArgsOrEmpty(nil))
	history := []message.Message{
		message.NewAssistantMessage([]message.Block{call}, "anthropic-messages", "anthropic", "claude-sonnet-4", message.Usage{}, message.StopToolUse, "", now),
		message.NewToolResultMessage("call-1", "read_file", []message.Block{message.TextBlock("contents")}, false, nil, now),
	}

	out := Transform(history, Options{TargetAPI: "anthropic-messages", TargetModel: "claude-sonnet-4"})

	if len(out) != 2 {
		t.Fatalf("expected no synthetic result inserted, got %d messages: %+v", len(out), out)
	}
}

func TestNormalizeIDsRenamesCallAndResultTogether(t *testing.T) {
	now := time.Now()
	call := message.ToolCallBlock("anthropic-style-id", "search", marshalArgsOrEmpty(nil))
	history := []message.Message{
		message.NewAssistantMessage([]message.Block{call}, "anthropic-messages", "anthropic", "claude-sonnet-4", message.Usage{}, message.StopToolUse, "", now),
		message.NewToolResultMessage("anthropic-style-id", "search", []message.Block{message.TextBlock("ok")}, false, nil, now),
	}

	normalize := func(id, api, model string) string { return "mistral_" + id[:6] }

	out := Transform(history, Options{
		TargetAPI:    "mistral",
		TargetModel:  "mistral-large",
		IDNormalizer: normalize,
	})

	wantID := "mistral_anthro"
	if out[0].ToolCalls()[0].ToolCallID != wantID {
		t.Fatalf("call id not renamed: got %q", out[0].ToolCalls()[0].ToolCallID)
	}
	if out[1].ToolCallID != wantID {
		t.Fatalf("result id not renamed to match: got %q", out[1].ToolCallID)
	}
}

func TestCollapsesThinkingFromDifferentProvider(t *testing.T) {
	now := time.Now()
	blocks := []message.Block{message.ThinkingBlock("let me think", "sig-abc")}
	history := []message.Message{
		message.NewAssistantMessage(blocks, "anthropic-messages", "anthropic", "claude-sonnet-4", message.Usage{}, message.StopNormal, "", now),
	}

	out := Transform(history, Options{TargetAPI: "openai-responses", TargetModel: "gpt-5"})

	if len(out[0].Blocks) != 1 || out[0].Blocks[0].Type != message.BlockText {
		t.Fatalf("expected thinking block collapsed to text, got %+v", out[0].Blocks)
	}
	if out[0].Blocks[0].Text != "let me think" {
		t.Fatalf("unexpected collapsed text: %q", out[0].Blocks[0].Text)
	}
}

func TestKeepsThinkingFromSameProvider(t *testing.T) {
	now := time.Now()
	blocks := []message.Block{message.ThinkingBlock("let me think", "sig-abc")}
	history := []message.Message{
		message.NewAssistantMessage(blocks, "anthropic-messages", "anthropic", "claude-sonnet-4", message.Usage{}, message.StopNormal, "", now),
	}

	out := Transform(history, Options{TargetAPI: "anthropic-messages", TargetModel: "claude-sonnet-4"})

	if out[0].Blocks[0].Type != message.BlockThinking {
		t.Fatalf("thinking block from the same provider should survive unchanged, got %+v", out[0].Blocks[0])
	}
}

func TestDropsBlankThinkingAfterCollapse(t *testing.T) {
	now := time.Now()
	blocks := []message.Block{message.ThinkingBlock("   ", "sig-abc"), message.TextBlock("answer")}
	history := []message.Message{
		message.NewAssistantMessage(blocks, "anthropic-messages", "anthropic", "claude-sonnet-4", message.Usage{}, message.StopNormal, "", now),
	}

	out := Transform(history, Options{TargetAPI: "openai-responses", TargetModel: "gpt-5"})

	if len(out[0].Blocks) != 1 || out[0].Blocks[0].Text != "answer" {
		t.Fatalf("expected blank thinking block dropped, got %+v", out[0].Blocks)
	}
}

func TestDropsCustomMessagesWithoutConverter(t *testing.T) {
	now := time.Now()
	history := []message.Message{
		message.NewUserMessage("hi", now),
		message.NewCustomMessage("bashExecution", []byte(`{"output":"ok"}`), now),
	}

	out := Transform(history, Options{TargetAPI: "anthropic-messages", TargetModel: "claude-sonnet-4"})

	if len(out) != 1 {
		t.Fatalf("expected custom message dropped, got %+v", out)
	}
}

func TestCustomConverterCanKeepCustomMessages(t *testing.T) {
	now := time.Now()
	history := []message.Message{
		message.NewCustomMessage("bashExecution", []byte(`{"output":"ok"}`), now),
	}

	convert := func(m message.Message) (message.Message, bool) {
		return message.NewUserMessage("bash output: ok", m.Timestamp), true
	}

	out := Transform(history, Options{
		TargetAPI:       "anthropic-messages",
		TargetModel:     "claude-sonnet-4",
		CustomConverter: convert,
	})

	if len(out) != 1 || out[0].Role != message.RoleUser {
		t.Fatalf("expected converted custom message to survive as a user message, got %+v", out)
	}
}

func TestTransformIsDeterministic(t *testing.T) {
	now := time.Now()
	call := message.ToolCallBlock("call-1", "read_file", marshalArgsOrEmpty(nil))
	history := []message.Message{
		message.NewUserMessage("hi", now),
		message.NewAssistantMessage([]message.Block{call}, "anthropic-messages", "anthropic", "claude-sonnet-4", message.Usage{}, message.StopToolUse, "", now),
		message.NewToolResultMessage("call-1", "read_file", []message.Block{message.TextBlock("contents")}, false, nil, now),
	}

	opts := Options{TargetAPI: "openai-responses", TargetModel: "gpt-5", IDNormalizer: func(id, api, model string) string { return "gpt_" + id }}

	first := Transform(history, opts)
	second := Transform(history, opts)

	if len(first) != len(second) {
		t.Fatalf("transform not deterministic: first run has %d messages, second has %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Role != second[i].Role || first[i].ToolCallID != second[i].ToolCallID {
			t.Fatalf("transform not deterministic at index %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}
