// Package message defines the normalized conversation entry and content
// block model shared by the provider adapters, the transformer, the agent
// loop, and the session store.
package message

import (
	"encoding/json"
	"time"
)

// BlockType identifies the kind of a content block.
type BlockType string

const (
	BlockText              BlockType = "text"
	BlockThinking          BlockType = "thinking"
	BlockRedactedThinking  BlockType = "redacted_thinking"
	BlockToolCall          BlockType = "tool_call"
	BlockImage             BlockType = "image"
	BlockDocument          BlockType = "document"
)

// Block is a single content block within a message. Only the fields
// relevant to Type are populated; the rest are zero.
type Block struct {
	Type BlockType `json:"type"`

	// BlockText
	Text string `json:"text,omitempty"`

	// BlockThinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// BlockRedactedThinking
	Data string `json:"data,omitempty"`

	// BlockToolCall. ID is assigned by the assistant and uniquely links
	// the call to its later tool result.
	ToolCallID   string          `json:"tool_call_id,omitempty"`
	ToolCallName string          `json:"tool_call_name,omitempty"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`

	// BlockImage
	ImageData string `json:"image_data,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`

	// BlockDocument
	DocumentData string `json:"document_data,omitempty"`
	DocumentName string `json:"document_name,omitempty"`
}

// TextBlock constructs a text content block.
func TextBlock(text string) Block { return Block{Type: BlockText, Text: text} }

// ThinkingBlock constructs a thinking content block.
func ThinkingBlock(thinking, signature string) Block {
	return Block{Type: BlockThinking, Thinking: thinking, Signature: signature}
}

// ToolCallBlock constructs a tool-call content block.
func ToolCallBlock(id, name string, args json.RawMessage) Block {
	return Block{Type: BlockToolCall, ToolCallID: id, ToolCallName: name, Arguments: args}
}

// StopReason is the reason an assistant turn ended.
type StopReason string

const (
	StopNormal    StopReason = "stop"
	StopToolUse   StopReason = "toolUse"
	StopError     StopReason = "error"
	StopAborted   StopReason = "aborted"
	StopMaxTokens StopReason = "maxTokens"
)

// Role identifies the tagged union variant of a Message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "toolResult"
	RoleCustom     Role = "custom"
)

// Usage reports token accounting for an assistant turn.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Message is a tagged union over the conversation roles. Fields not
// relevant to Role are left zero; helper constructors keep callers from
// having to know which fields apply.
type Message struct {
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// RoleUser
	Content string  `json:"content,omitempty"` // plain-text shorthand
	Blocks  []Block `json:"blocks,omitempty"`  // set when the user message carries blocks (e.g. images)

	// RoleAssistant
	API          string     `json:"api,omitempty"`
	Provider     string     `json:"provider,omitempty"`
	Model        string     `json:"model,omitempty"`
	Usage        Usage      `json:"usage,omitempty"`
	StopReason   StopReason `json:"stopReason,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`

	// RoleToolResult
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
	IsError    bool   `json:"isError,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`

	// RoleCustom
	CustomRole string          `json:"customRole,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// NewUserMessage builds a plain-text user message.
func NewUserMessage(text string, ts time.Time) Message {
	return Message{Role: RoleUser, Content: text, Timestamp: ts}
}

// NewUserBlocksMessage builds a user message carrying content blocks
// (e.g. text plus images).
func NewUserBlocksMessage(blocks []Block, ts time.Time) Message {
	return Message{Role: RoleUser, Blocks: blocks, Timestamp: ts}
}

// NewAssistantMessage builds an assistant message from accumulated
// content blocks and a stop reason.
func NewAssistantMessage(blocks []Block, api, providerName, model string, usage Usage, stop StopReason, errMsg string, ts time.Time) Message {
	return Message{
		Role:         RoleAssistant,
		Blocks:       blocks,
		API:          api,
		Provider:     providerName,
		Model:        model,
		Usage:        usage,
		StopReason:   stop,
		ErrorMessage: errMsg,
		Timestamp:    ts,
	}
}

// NewToolResultMessage builds a tool-result message.
func NewToolResultMessage(toolCallID, toolName string, blocks []Block, isError bool, details json.RawMessage, ts time.Time) Message {
	return Message{
		Role:       RoleToolResult,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Blocks:     blocks,
		IsError:    isError,
		Details:    details,
		Timestamp:  ts,
	}
}

// NewCustomMessage builds an opaque custom message, skipped by default
// when converting history to provider wire format.
func NewCustomMessage(role string, payload json.RawMessage, ts time.Time) Message {
	return Message{Role: RoleCustom, CustomRole: role, Payload: payload, Timestamp: ts}
}

// ToolCalls returns the tool-call blocks of an assistant message, in order.
func (m Message) ToolCalls() []Block {
	if m.Role != RoleAssistant {
		return nil
	}
	var out []Block
	for _, b := range m.Blocks {
		if b.Type == BlockToolCall {
			out = append(out, b)
		}
	}
	return out
}

// Text returns the plain-text shorthand Content when it is set; otherwise it
// concatenates every text block's content (used for display/logging).
func (m Message) Text() string {
	if m.Content != "" {
		return m.Content
	}
	var out string
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}
