package message

import (
	"testing"
	"time"
)

func TestToolCallsFiltersNonAssistant(t *testing.T) {
	u := NewUserMessage("hi", time.Now())
	if got := u.ToolCalls(); got != nil {
		t.Fatalf("expected nil tool calls for user message, got %v", got)
	}
}

func TestToolCallsReturnsBlocksInOrder(t *testing.T) {
	a := NewAssistantMessage([]Block{
		TextBlock("thinking out loud"),
		ToolCallBlock("call_1", "calculate", nil),
		ToolCallBlock("call_2", "calculate", nil),
	}, "anthropic-messages", "anthropic", "claude", Usage{}, StopToolUse, "", time.Now())

	calls := a.ToolCalls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(calls))
	}
	if calls[0].ToolCallID != "call_1" || calls[1].ToolCallID != "call_2" {
		t.Fatalf("tool calls out of order: %+v", calls)
	}
}

func TestTextPrefersShorthandContent(t *testing.T) {
	m := Message{Role: RoleUser, Content: "shorthand", Blocks: []Block{TextBlock("block")}}
	if got := m.Text(); got != "shorthand" {
		t.Fatalf("expected shorthand content, got %q", got)
	}
}

func TestTextFallsBackToBlocks(t *testing.T) {
	m := NewAssistantMessage([]Block{TextBlock("a"), TextBlock("b")}, "", "", "", Usage{}, StopNormal, "", time.Now())
	if got := m.Text(); got != "ab" {
		t.Fatalf("expected concatenated block text, got %q", got)
	}
}
