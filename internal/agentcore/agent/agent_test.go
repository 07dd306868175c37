package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xonecas/symb/internal/agentcore/message"
	"github.com/xonecas/symb/internal/agentcore/tool"
	"github.com/xonecas/symb/internal/provider"
)

func resolverFor(p provider.Provider) ProviderResolver {
	return func(model string) (provider.Provider, error) { return p, nil }
}

func newTestAgent(t *testing.T, p provider.Provider, opts Options) *Agent {
	t.Helper()
	opts.ResolveProvider = resolverFor(p)
	if opts.Model == "" {
		opts.Model = "mock-model"
	}
	a, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestPromptBasicTextReply(t *testing.T) {
	mock := provider.NewMock("mock", "hello there")
	a := newTestAgent(t, mock, Options{})

	if err := a.Prompt(context.Background(), "hi"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}

	msgs := a.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages (user + assistant), got %d", len(msgs))
	}
	if msgs[1].Role != message.RoleAssistant || msgs[1].Text() != "hello there" {
		t.Fatalf("unexpected assistant message: %+v", msgs[1])
	}
	if a.Status() != StatusIdle {
		t.Fatalf("expected idle after turn, got %s", a.Status())
	}
}

func TestPromptToolRoundTrip(t *testing.T) {
	callArgs := json.RawMessage(`{"a":2,"b":3}`)
	mock := provider.NewMockScript("mock",
		provider.ChatResponse{ToolCalls: []provider.ToolCall{{ID: "call_1", Name: "calculate", Arguments: callArgs}}},
		provider.ChatResponse{Content: "the answer is 5"},
	)

	reg := tool.NewRegistry()
	executed := false
	reg.Register(tool.Tool{
		Name:             "calculate",
		ParametersSchema: json.RawMessage(`{"type":"object","required":["a","b"]}`),
		Execute: func(ctx context.Context, toolCallID string, params json.RawMessage, onUpdate tool.UpdateFunc) tool.Result {
			executed = true
			return tool.TextResult("5")
		},
	})

	a := newTestAgent(t, mock, Options{Tools: reg})

	var events []EventType
	var mu sync.Mutex
	a.Subscribe(func(e Event) {
		mu.Lock()
		events = append(events, e.Type)
		mu.Unlock()
	})

	if err := a.Prompt(context.Background(), "what is 2+3?"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if !executed {
		t.Fatalf("expected calculate tool to run")
	}

	msgs := a.Messages()
	if len(msgs) != 4 {
		t.Fatalf("expected user, assistant(tool call), toolResult, assistant(text); got %d: %+v", len(msgs), msgs)
	}
	if msgs[2].Role != message.RoleToolResult || msgs[2].ToolCallID != "call_1" {
		t.Fatalf("expected toolResult for call_1, got %+v", msgs[2])
	}
	if msgs[3].Text() != "the answer is 5" {
		t.Fatalf("unexpected final assistant text: %+v", msgs[3])
	}

	mu.Lock()
	defer mu.Unlock()
	sawStart, sawEnd := false, false
	for _, e := range events {
		if e == EventToolExecutionStart {
			sawStart = true
		}
		if e == EventToolExecutionEnd {
			sawEnd = true
		}
	}
	if !sawStart || !sawEnd {
		t.Fatalf("expected toolExecutionStart/End events, got %v", events)
	}
}

func TestAbortDuringToolExecutionStopsTurn(t *testing.T) {
	mock := provider.NewMockScript("mock",
		provider.ChatResponse{ToolCalls: []provider.ToolCall{{ID: "call_1", Name: "slow"}}},
	)

	reg := tool.NewRegistry()
	started := make(chan struct{})
	reg.Register(tool.Tool{
		Name: "slow",
		Execute: func(ctx context.Context, toolCallID string, params json.RawMessage, onUpdate tool.UpdateFunc) tool.Result {
			close(started)
			<-ctx.Done()
			return tool.ErrorResult("aborted")
		},
	})

	a := newTestAgent(t, mock, Options{Tools: reg})

	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { done <- a.Prompt(ctx, "do the slow thing") }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("tool never started")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Prompt returned error after abort: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Prompt did not return after abort")
	}

	if a.Status() != StatusIdle {
		t.Fatalf("expected idle after abort, got %s", a.Status())
	}
}

func TestSteerPreemptsRemainingToolCallsInBatch(t *testing.T) {
	mock := provider.NewMockScript("mock",
		provider.ChatResponse{ToolCalls: []provider.ToolCall{
			{ID: "call_1", Name: "echo", Arguments: json.RawMessage(`{"text":"a"}`)},
			{ID: "call_2", Name: "echo", Arguments: json.RawMessage(`{"text":"b"}`)},
		}},
		provider.ChatResponse{Content: "done"},
	)

	reg := tool.NewRegistry()
	var a *Agent
	reg.Register(tool.Tool{
		Name: "echo",
		Execute: func(ctx context.Context, toolCallID string, params json.RawMessage, onUpdate tool.UpdateFunc) tool.Result {
			if toolCallID == "call_1" {
				// Simulate the user steering in while call_1 is still running,
				// which should preempt call_2 before it starts.
				a.Steer("never mind, stop")
			}
			return tool.TextResult("ok")
		},
	})

	a = newTestAgent(t, mock, Options{Tools: reg})

	if err := a.Prompt(context.Background(), "run both"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}

	msgs := a.Messages()
	var results []message.Message
	for _, m := range msgs {
		if m.Role == message.RoleToolResult {
			results = append(results, m)
		}
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 tool results, got %d", len(results))
	}
	if !results[1].IsError {
		t.Fatalf("expected second call skipped by steering, got %+v", results[1])
	}
}

func TestFollowUpQueueDrainsAtTurnEnd(t *testing.T) {
	mock := provider.NewMock("mock", "first reply")
	a := newTestAgent(t, mock, Options{FollowUpMode: FollowUpQueue})

	a.FollowUp("a second thing while you're at it")

	if err := a.Prompt(context.Background(), "do the first thing"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}

	msgs := a.Messages()
	// user, assistant, follow-up user, assistant.
	if len(msgs) != 4 {
		t.Fatalf("expected follow-up to be appended and answered, got %d: %+v", len(msgs), msgs)
	}
	if msgs[2].Role != message.RoleUser || msgs[2].Text() != "a second thing while you're at it" {
		t.Fatalf("unexpected follow-up message: %+v", msgs[2])
	}
}

func TestAutoRetryOnTransientError(t *testing.T) {
	mock := provider.NewMock("mock", "recovered").WithStreamError(errors.New("503 service unavailable"))
	a := newTestAgent(t, mock, Options{
		AutoRetryEnabled: true,
		Retry:            RetrySettings{MaxAttempts: 2, InitialDelay: time.Millisecond, BackoffMultiplier: 1, MaxDelay: time.Millisecond},
	})

	var retried bool
	a.Subscribe(func(e Event) {
		if e.Type == EventRetrying {
			retried = true
			mock.WithStreamError(nil)
		}
	})

	if err := a.Prompt(context.Background(), "hi"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if !retried {
		t.Fatalf("expected at least one retrying event")
	}

	msgs := a.Messages()
	last := msgs[len(msgs)-1]
	if last.StopReason == message.StopError {
		t.Fatalf("expected retry to eventually succeed, got error message: %+v", last)
	}
}

func TestAutoCompactionTriggersWhenOverThreshold(t *testing.T) {
	mock := provider.NewMock("mock", "ok")
	var compacted bool
	a := newTestAgent(t, mock, Options{
		Compaction:     CompactionSettings{Enabled: true, Threshold: 0.5},
		ContextWindow:  1000,
		EstimateTokens: func(messages []message.Message, model string) int { return 900 },
		Compact: func(ctx context.Context, customInstructions string) error {
			compacted = true
			return nil
		},
	})

	if err := a.Prompt(context.Background(), "hi"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if !compacted {
		t.Fatalf("expected auto-compaction to run before the turn")
	}
}

func TestMalformedToolCallArgumentsProduceSyntheticErrorWithoutExecuting(t *testing.T) {
	mock := provider.NewMockScript("mock",
		provider.ChatResponse{ToolCalls: []provider.ToolCall{{ID: "call_1", Name: "echo", Arguments: json.RawMessage(`{not json`)}}},
		provider.ChatResponse{Content: "done"},
	)

	reg := tool.NewRegistry()
	executed := false
	reg.Register(tool.Tool{
		Name: "echo",
		Execute: func(ctx context.Context, toolCallID string, params json.RawMessage, onUpdate tool.UpdateFunc) tool.Result {
			executed = true
			return tool.TextResult("should not run")
		},
	})

	a := newTestAgent(t, mock, Options{Tools: reg})
	if err := a.Prompt(context.Background(), "call echo badly"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if executed {
		t.Fatalf("tool should not execute with malformed arguments")
	}

	msgs := a.Messages()
	for _, m := range msgs {
		if m.Role == message.RoleToolResult {
			if !m.IsError {
				t.Fatalf("expected isError result for malformed arguments, got %+v", m)
			}
		}
	}
}
