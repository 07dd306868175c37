// Package tool defines the tool contract the agent loop invokes and a
// sequential executor that runs one assistant turn's tool calls under
// cancellation, generalizing the MCP proxy's ToolHandler/CallTool shape
// (internal/mcp/proxy.go) to built-in tools as well as upstream ones.
package tool

import (
	"context"
	"encoding/json"

	"github.com/xonecas/symb/internal/agentcore/message"
)

// Result is what a tool execution returns. A failing tool reports
// IsError rather than returning a Go error, so the model always sees a
// human-readable explanation instead of a crash.
type Result struct {
	Content []message.Block
	Details json.RawMessage
	IsError bool
}

// ErrorResult is a convenience constructor for a failed tool call.
func ErrorResult(text string) Result {
	return Result{Content: []message.Block{message.TextBlock(text)}, IsError: true}
}

// TextResult is a convenience constructor for a single-block success.
func TextResult(text string) Result {
	return Result{Content: []message.Block{message.TextBlock(text)}}
}

// UpdateFunc reports incremental progress during a long-running tool call;
// each invocation should cause the caller to emit a toolExecutionUpdate
// event.
type UpdateFunc func(partial string)

// ExecuteFunc runs a tool call. params is the call's coerced, validated
// arguments. ctx is a per-call child of the context passed to Run, so
// cancelling the turn cancels the call.
type ExecuteFunc func(ctx context.Context, toolCallID string, params json.RawMessage, onUpdate UpdateFunc) Result

// Tool is a single named capability the model can invoke.
type Tool struct {
	Name             string
	Label            string
	Description      string
	ParametersSchema json.RawMessage
	// CoerceTypes controls whether ValidateParams attempts string<->number
	// <->bool coercion before rejecting a call.
	CoerceTypes bool
	Execute     ExecuteFunc
}

// Validate checks params against t.ParametersSchema, returning coerced
// params and any validation errors. It never executes the tool.
func (t Tool) Validate(params json.RawMessage) (json.RawMessage, []ValidationError) {
	return ValidateParams(t.ParametersSchema, params, t.CoerceTypes)
}
