package agent

import "github.com/xonecas/symb/internal/agentcore/message"

// EventType identifies the kind of Event emitted to subscribers.
type EventType string

const (
	EventAgentStart          EventType = "agentStart"
	EventAgentEnd            EventType = "agentEnd"
	EventTurnStart           EventType = "turnStart"
	EventTurnEnd             EventType = "turnEnd"
	EventMessageStart        EventType = "messageStart"
	EventMessageUpdate       EventType = "messageUpdate"
	EventMessageEnd          EventType = "messageEnd"
	EventToolExecutionStart  EventType = "toolExecutionStart"
	EventToolExecutionUpdate EventType = "toolExecutionUpdate"
	EventToolExecutionEnd    EventType = "toolExecutionEnd"
	EventRetrying            EventType = "retrying"
)

// Event is a single item broadcast to subscribers. Fields irrelevant to
// Type are left zero.
type Event struct {
	Type EventType

	Message *message.Message // messageStart/messageEnd, toolExecutionEnd

	// Streaming deltas (messageUpdate).
	TextDelta     string
	ThinkingDelta string
	ToolCallID    string
	ToolCallName  string
	ToolCallArgs  string // argument JSON fragment

	// Tool execution (toolExecutionStart/Update/End).
	ToolName string
	Partial  string

	// retrying
	Attempt    int
	RetryDelay string
	Err        error
}

// Subscriber receives events from an Agent in emission order.
type Subscriber func(Event)
