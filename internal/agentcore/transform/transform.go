// Package transform rewrites a persisted conversation history into the
// flat message list a provider adapter sends over the wire. It mirrors the
// conversion anthropic.go's toAnthropicMessages does for a single provider,
// generalized to run ahead of any adapter and to repair history that a
// single-provider conversion never had to worry about: unmatched tool
// calls, ids a new provider can't accept, and thinking blocks produced by
// a different model.
package transform

import (
	"encoding/json"
	"strings"

	"github.com/xonecas/symb/internal/agentcore/message"
)

// IDNormalizer rewrites a tool-call id for a target provider/model. It must
// be pure: the same inputs always produce the same output, since the
// transformer calls it once for the call block and again for the matching
// result and relies on both producing an identical new id.
type IDNormalizer func(id, api, model string) string

// CustomConverter turns an opaque custom message into a wire message for
// its role, or returns ok=false to drop it.
type CustomConverter func(m message.Message) (message.Message, bool)

// Options configures a single Transform call.
type Options struct {
	TargetAPI   string
	TargetModel string

	// IDNormalizer, if set, rewrites tool-call ids for the target
	// provider/model. Both the call and its matching result are rewritten
	// atomically.
	IDNormalizer IDNormalizer

	// CustomConverter, if set, lets custom messages survive into the wire
	// list instead of being dropped.
	CustomConverter CustomConverter
}

// Transform applies the ordered rewrite rules to messages and returns the
// wire-ready list. It is a pure function: given the same messages and
// Options, it always returns the same result every time it is called.
func Transform(messages []message.Message, opts Options) []message.Message {
	out := dropAbortedTurns(messages)
	out = synthesizeMissingToolResults(out)
	if opts.IDNormalizer != nil {
		out = normalizeIDs(out, opts.IDNormalizer, opts.TargetAPI, opts.TargetModel)
	}
	out = collapseThinking(out, opts.TargetAPI)
	out = filterCustom(out, opts.CustomConverter)
	return out
}

// dropAbortedTurns removes an aborted assistant message, along with any
// user message immediately following it that was never answered (i.e. is
// itself immediately followed by another user message, or is the last
// entry).
func dropAbortedTurns(messages []message.Message) []message.Message {
	drop := make([]bool, len(messages))
	for i, m := range messages {
		if m.Role == message.RoleAssistant && m.StopReason == message.StopAborted {
			drop[i] = true
			if j := i + 1; j < len(messages) && messages[j].Role == message.RoleUser {
				if j+1 >= len(messages) || messages[j+1].Role == message.RoleUser {
					drop[j] = true
				}
			}
		}
	}
	out := make([]message.Message, 0, len(messages))
	for i, m := range messages {
		if !drop[i] {
			out = append(out, m)
		}
	}
	return out
}

// synthesizeMissingToolResults ensures every tool-call block is followed by
// exactly one matching toolResult. Anything unmatched (e.g. the process
// crashed mid tool execution) gets a synthetic error result inserted right
// after its assistant message.
func synthesizeMissingToolResults(messages []message.Message) []message.Message {
	answered := make(map[string]bool)
	for _, m := range messages {
		if m.Role == message.RoleToolResult {
			answered[m.ToolCallID] = true
		}
	}

	out := make([]message.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, m)
		if m.Role != message.RoleAssistant {
			continue
		}
		for _, call := range m.ToolCalls() {
			if answered[call.ToolCallID] {
				continue
			}
			out = append(out, message.NewToolResultMessage(
				call.ToolCallID,
				call.ToolCallName,
				[]message.Block{message.TextBlock("Tool call did not complete.")},
				true,
				nil,
				m.Timestamp,
			))
			answered[call.ToolCallID] = true
		}
	}
	return out
}

// normalizeIDs rewrites a tool-call id and its matching result together so
// ids stay paired after renaming.
func normalizeIDs(messages []message.Message, normalize IDNormalizer, api, model string) []message.Message {
	rename := make(map[string]string)
	out := make([]message.Message, len(messages))
	copy(out, messages)

	for i, m := range out {
		if m.Role != message.RoleAssistant {
			continue
		}
		blocks := make([]message.Block, len(m.Blocks))
		copy(blocks, m.Blocks)
		for j, b := range blocks {
			if b.Type != message.BlockToolCall {
				continue
			}
			newID, ok := rename[b.ToolCallID]
			if !ok {
				newID = normalize(b.ToolCallID, api, model)
				rename[b.ToolCallID] = newID
			}
			blocks[j].ToolCallID = newID
		}
		m.Blocks = blocks
		out[i] = m
	}

	for i, m := range out {
		if m.Role != message.RoleToolResult {
			continue
		}
		if newID, ok := rename[m.ToolCallID]; ok {
			m.ToolCallID = newID
			out[i] = m
		}
	}
	return out
}

// collapseThinking turns a thinking block produced by a provider other
// than targetAPI into plain text, dropping its provider-specific
// signature. A block that collapses to blank text is dropped entirely.
func collapseThinking(messages []message.Message, targetAPI string) []message.Message {
	out := make([]message.Message, len(messages))
	copy(out, messages)

	for i, m := range out {
		if m.Role != message.RoleAssistant {
			continue
		}
		sourceAPI := m.API
		var blocks []message.Block
		changed := false
		for _, b := range m.Blocks {
			if b.Type == message.BlockThinking && sourceAPI != targetAPI {
				changed = true
				text := strings.TrimSpace(b.Thinking)
				if text == "" {
					continue
				}
				blocks = append(blocks, message.TextBlock(text))
				continue
			}
			blocks = append(blocks, b)
		}
		if changed {
			m.Blocks = blocks
			out[i] = m
		}
	}
	return out
}

// filterCustom drops a custom message unless a CustomConverter is supplied
// and accepts it.
func filterCustom(messages []message.Message, convert CustomConverter) []message.Message {
	out := make([]message.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != message.RoleCustom {
			out = append(out, m)
			continue
		}
		if convert == nil {
			continue
		}
		if wire, ok := convert(m); ok {
			out = append(out, wire)
		}
	}
	return out
}

// marshalArgsOrEmpty is a helper for tests/callers constructing tool-call
// blocks with untyped argument maps.
func marshalArgsOrEmpty(args map[string]any) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage("{}")
	}
	b, err := json.Marshal(args)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
