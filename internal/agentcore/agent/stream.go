package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/symb/internal/agentcore/message"
	"github.com/xonecas/symb/internal/agentcore/tool"
	"github.com/xonecas/symb/internal/agentcore/transform"
	"github.com/xonecas/symb/internal/provider"
)

// transientErrorSubstrings classifies a provider error as retryable,
// mirroring the 429/5xx/timeout sniffing internal/mcp/proxy.go does for
// upstream tool-call retries.
var transientErrorSubstrings = []string{
	"429", "500", "502", "503", "504",
	"connection reset", "timeout", "temporarily unavailable", "rate limit",
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, s := range transientErrorSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// streamOneMessage runs one provider call with the agent's current tool
// registry and returns the resulting assistant message, already appended
// to history and broadcast.
func (a *Agent) streamOneMessage(ctx context.Context) (message.Message, error) {
	a.mu.Lock()
	tools := a.tools
	a.mu.Unlock()
	providerTools := toolsToProviderTools(tools.List())
	return a.streamOneMessageWithTools(ctx, providerTools)
}

// streamOneMessageWithTools is streamOneMessage with an explicit tool
// list; passing nil disables tool calling for this one call (used for the
// forced end-of-round-limit summary).
func (a *Agent) streamOneMessageWithTools(ctx context.Context, providerTools []provider.Tool) (message.Message, error) {
	assistant, err := a.callWithRetry(ctx, providerTools)
	if err != nil {
		return message.Message{}, err
	}

	a.mu.Lock()
	a.messages = append(a.messages, assistant)
	a.lastErr = nil
	if assistant.StopReason == message.StopError {
		a.lastErr = fmt.Errorf("%s", assistant.ErrorMessage)
	}
	a.mu.Unlock()

	a.emit(Event{Type: EventMessageStart, Message: &assistant})
	a.emit(Event{Type: EventMessageEnd, Message: &assistant})
	return assistant, nil
}

// callWithRetry runs one provider call, retrying with exponential back-off
// on a transient error up to retry.maxAttempts, per the auto-retry policy.
func (a *Agent) callWithRetry(ctx context.Context, providerTools []provider.Tool) (message.Message, error) {
	a.mu.Lock()
	retry := a.retry
	autoRetry := a.autoRetryEnabled
	a.mu.Unlock()

	delay := retry.InitialDelay
	if delay == 0 {
		delay = DefaultRetrySettings.InitialDelay
	}
	maxAttempts := retry.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultRetrySettings.MaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		assistant, callErr := a.callOnce(ctx, providerTools)
		if callErr == nil {
			return assistant, nil
		}
		lastErr = callErr
		if ctx.Err() != nil {
			return message.Message{}, ctx.Err()
		}
		if !autoRetry || !isTransientError(callErr) || attempt == maxAttempts-1 {
			break
		}

		a.emit(Event{Type: EventRetrying, Attempt: attempt + 1, RetryDelay: delay.String(), Err: callErr})
		retryCtx, cancel := context.WithCancel(ctx)
		a.mu.Lock()
		a.retryCancel = cancel
		a.mu.Unlock()
		select {
		case <-time.After(delay):
		case <-retryCtx.Done():
			cancel()
			return message.Message{}, fmt.Errorf("agent: retry aborted: %w", retryCtx.Err())
		}
		cancel()
		a.mu.Lock()
		a.retryCancel = nil
		a.mu.Unlock()

		maxDelay := retry.MaxDelay
		if maxDelay == 0 {
			maxDelay = DefaultRetrySettings.MaxDelay
		}
		mult := retry.BackoffMultiplier
		if mult == 0 {
			mult = DefaultRetrySettings.BackoffMultiplier
		}
		delay = time.Duration(float64(delay) * mult)
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	a.mu.Lock()
	providerName, model := a.activeProvider.Name(), a.model
	a.mu.Unlock()
	errMsg := message.NewAssistantMessage(nil, providerName, providerName, model, message.Usage{}, message.StopError, lastErr.Error(), time.Now())
	return errMsg, nil
}

// callOnce makes exactly one streaming provider call and assembles the
// resulting AssistantMessage, retrying internally once if the provider
// returns a completely empty response (as internal/llm/loop.go does).
func (a *Agent) callOnce(ctx context.Context, providerTools []provider.Tool) (message.Message, error) {
	a.mu.Lock()
	history := append([]message.Message(nil), a.messages...)
	systemPrompt := a.systemPrompt
	model := a.model
	targetAPI := a.targetAPI
	idNormalizer := a.idNormalizer
	prov := a.activeProvider
	a.mu.Unlock()

	wire := transform.Transform(history, transform.Options{
		TargetAPI:    targetAPI,
		TargetModel:  model,
		IDNormalizer: idNormalizer,
	})
	msgs := toProviderMessages(systemPrompt, wire)

	const maxEmptyRetries = 1
	for attempt := 0; attempt <= maxEmptyRetries; attempt++ {
		stream, err := prov.ChatStream(ctx, msgs, providerTools)
		if err != nil {
			return message.Message{}, err
		}
		resp, err := a.collectWithEvents(stream)
		if err != nil {
			return message.Message{}, err
		}
		if !isEmptyResponse(resp) {
			return assistantFromResponse(prov.Name(), targetAPI, model, resp, message.StopNormal), nil
		}
		log.Warn().Str("provider", prov.Name()).Int("attempt", attempt+1).Msg("empty response from provider")
	}
	return message.Message{}, fmt.Errorf("empty response from provider %s", prov.Name())
}

func isEmptyResponse(resp *provider.ChatResponse) bool {
	return resp == nil || (resp.Content == "" && resp.Reasoning == "" && len(resp.ToolCalls) == 0)
}

func assistantFromResponse(providerName, api, model string, resp *provider.ChatResponse, stop message.StopReason) message.Message {
	var blocks []message.Block
	if resp.Reasoning != "" {
		blocks = append(blocks, message.ThinkingBlock(resp.Reasoning, ""))
	}
	if resp.Content != "" {
		blocks = append(blocks, message.TextBlock(resp.Content))
	}
	for _, tc := range resp.ToolCalls {
		blocks = append(blocks, message.ToolCallBlock(tc.ID, tc.Name, tc.Arguments))
	}
	reason := stop
	if len(resp.ToolCalls) > 0 {
		reason = message.StopToolUse
	}
	usage := message.Usage{InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens}
	return message.NewAssistantMessage(blocks, api, providerName, model, usage, reason, "", time.Now())
}

// toolCallAccumulator tracks tool calls as they stream in, unchanged in
// shape from internal/llm/loop.go's accumulator.
type toolCallAccumulator struct {
	byIndex     map[int]int
	calls       []provider.ToolCall
	argBuilders []string
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]int)}
}

func (acc *toolCallAccumulator) begin(evt provider.StreamEvent) {
	pos := len(acc.calls)
	acc.byIndex[evt.ToolCallIndex] = pos
	acc.calls = append(acc.calls, provider.ToolCall{ID: evt.ToolCallID, Name: evt.ToolCallName})
	acc.argBuilders = append(acc.argBuilders, "")
}

func (acc *toolCallAccumulator) delta(evt provider.StreamEvent) {
	if pos, ok := acc.byIndex[evt.ToolCallIndex]; ok {
		acc.argBuilders[pos] += evt.ToolCallArgs
	}
}

// finalize assembles the accumulated argument fragments into each call's
// Arguments. A fragment that never parses as JSON is left as-is rather
// than papered over with "{}": the executor detects this and produces a
// synthetic isError result without invoking the tool, since an empty
// object would silently change what the model actually asked for.
func (acc *toolCallAccumulator) finalize() []provider.ToolCall {
	for i := range acc.calls {
		if i >= len(acc.argBuilders) {
			continue
		}
		raw := acc.argBuilders[i]
		if raw == "" {
			raw = "{}"
		}
		acc.calls[i].Arguments = json.RawMessage(raw)
	}
	return acc.calls
}

// collectWithEvents reads every event from the stream, forwarding
// messageUpdate events to subscribers, and assembles the final response.
func (a *Agent) collectWithEvents(ch <-chan provider.StreamEvent) (*provider.ChatResponse, error) {
	var result provider.ChatResponse
	acc := newToolCallAccumulator()

	for evt := range ch {
		switch evt.Type {
		case provider.EventContentDelta:
			result.Content += evt.Content
			a.emit(Event{Type: EventMessageUpdate, TextDelta: evt.Content})
		case provider.EventReasoningDelta:
			result.Reasoning += evt.Content
			a.emit(Event{Type: EventMessageUpdate, ThinkingDelta: evt.Content})
		case provider.EventToolCallBegin:
			acc.begin(evt)
			a.emit(Event{Type: EventMessageUpdate, ToolCallID: evt.ToolCallID, ToolCallName: evt.ToolCallName})
		case provider.EventToolCallDelta:
			acc.delta(evt)
			a.emit(Event{Type: EventMessageUpdate, ToolCallArgs: evt.ToolCallArgs})
		case provider.EventUsage:
			if evt.InputTokens > result.InputTokens {
				result.InputTokens = evt.InputTokens
			}
			if evt.OutputTokens > result.OutputTokens {
				result.OutputTokens = evt.OutputTokens
			}
		case provider.EventError:
			return nil, evt.Err
		case provider.EventDone:
		}
	}

	if calls := acc.finalize(); len(calls) > 0 {
		result.ToolCalls = calls
	}
	return &result, nil
}

// toProviderMessages flattens the wire-ready message list (post-transform)
// into the flat provider.Message shape every adapter consumes, the way
// anthropic.go's toAnthropicMessages does for a single provider.
func toProviderMessages(systemPrompt string, wire []message.Message) []provider.Message {
	var out []provider.Message
	if systemPrompt != "" {
		out = append(out, provider.Message{Role: "system", Content: systemPrompt, CreatedAt: time.Now()})
	}
	for _, m := range wire {
		switch m.Role {
		case message.RoleUser:
			out = append(out, provider.Message{Role: "user", Content: m.Text(), CreatedAt: m.Timestamp})
		case message.RoleAssistant:
			out = append(out, provider.Message{
				Role:         "assistant",
				Content:      textOf(m),
				Reasoning:    thinkingOf(m),
				ToolCalls:    toProviderToolCalls(m.ToolCalls()),
				CreatedAt:    m.Timestamp,
				InputTokens:  m.Usage.InputTokens,
				OutputTokens: m.Usage.OutputTokens,
			})
		case message.RoleToolResult:
			out = append(out, provider.Message{
				Role:         "tool",
				Content:      textOf(m),
				ToolCallID:   m.ToolCallID,
				FunctionName: m.ToolName,
				CreatedAt:    m.Timestamp,
			})
		}
	}
	return out
}

func textOf(m message.Message) string {
	var sb strings.Builder
	for _, b := range m.Blocks {
		if b.Type == message.BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

func thinkingOf(m message.Message) string {
	var sb strings.Builder
	for _, b := range m.Blocks {
		if b.Type == message.BlockThinking {
			sb.WriteString(b.Thinking)
		}
	}
	return sb.String()
}

func toProviderToolCalls(blocks []message.Block) []provider.ToolCall {
	if len(blocks) == 0 {
		return nil
	}
	out := make([]provider.ToolCall, len(blocks))
	for i, b := range blocks {
		out[i] = provider.ToolCall{ID: b.ToolCallID, Name: b.ToolCallName, Arguments: b.Arguments}
	}
	return out
}

func toolsToProviderTools(tools []tool.Tool) []provider.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]provider.Tool, len(tools))
	for i, t := range tools {
		out[i] = provider.Tool{Name: t.Name, Description: t.Description, Parameters: t.ParametersSchema}
	}
	return out
}
