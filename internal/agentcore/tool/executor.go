package tool

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/xonecas/symb/internal/agentcore/message"
)

// Registry holds the tools available to a turn, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Lookup returns the tool registered under name, if any.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool in no particular order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Call is one tool invocation requested by an assistant message.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// UpdateEvent is reported through the caller-supplied onUpdate hook for
// each toolExecutionUpdate.
type UpdateEvent struct {
	ToolCallID string
	Partial    string
}

// skippedMessage is the fixed text used when a call is preempted by a
// queued steering message rather than executed.
const skippedMessage = "Skipped due to queued user message"

// Run executes calls sequentially, in order, and returns one toolResult
// message per call. steeringPending is consulted before each call starts:
// once it reports true, that call and every later one in the batch are
// marked as skipped without running.
// onStart, if non-nil, fires immediately before a call actually runs (not
// for calls skipped by steering preemption). onUpdate, if non-nil, is
// invoked for every progress update any call reports.
func Run(ctx context.Context, registry *Registry, calls []Call, steeringPending func() bool, onStart func(Call), onUpdate func(UpdateEvent)) []message.Message {
	results := make([]message.Message, 0, len(calls))
	skipping := false

	for _, call := range calls {
		if !skipping && steeringPending != nil && steeringPending() {
			skipping = true
		}
		if skipping {
			results = append(results, errorResultMessage(call, skippedMessage))
			continue
		}
		if onStart != nil {
			onStart(call)
		}
		results = append(results, executeOne(ctx, registry, call, onUpdate))
	}
	return results
}

// executeOne validates and runs a single call, returning its toolResult
// message. A missing tool, an invalid-parameters error, and an execution
// failure are all reported as isError results rather than surfaced as a
// Go error — the model sees the explanation, not a crash.
func executeOne(ctx context.Context, registry *Registry, call Call, onUpdate func(UpdateEvent)) message.Message {
	if len(call.Arguments) > 0 && !json.Valid(call.Arguments) {
		return errorResultMessage(call, "malformed tool call arguments: not valid JSON")
	}

	t, ok := registry.Lookup(call.Name)
	if !ok {
		return errorResultMessage(call, "unknown tool \""+call.Name+"\"")
	}

	coerced, errs := t.Validate(call.Arguments)
	if len(errs) > 0 {
		return errorResultMessage(call, formatValidationErrors(errs))
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	report := func(partial string) {
		if onUpdate != nil {
			onUpdate(UpdateEvent{ToolCallID: call.ID, Partial: partial})
		}
	}

	res := t.Execute(callCtx, call.ID, coerced, report)
	return message.NewToolResultMessage(call.ID, call.Name, res.Content, res.IsError, res.Details, time.Now())
}

func errorResultMessage(call Call, text string) message.Message {
	return message.NewToolResultMessage(call.ID, call.Name, []message.Block{message.TextBlock(text)}, true, nil, time.Now())
}

func formatValidationErrors(errs []ValidationError) string {
	out := "invalid parameters:"
	for _, e := range errs {
		out += "\n  " + e.Error()
	}
	return out
}
