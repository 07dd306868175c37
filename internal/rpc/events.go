package rpc

import (
	"github.com/xonecas/symb/internal/agentcore/agent"
	"github.com/xonecas/symb/internal/agentcore/message"
	agentsession "github.com/xonecas/symb/internal/agentcore/session"
)

// eventTypeNames maps the agent package's camelCase EventType to the
// snake_case wire names the event stream uses. agent.EventRetrying has no
// counterpart in the core list; it is forwarded as "retrying" rather than
// dropped, since it carries real retry-state a front-end wants to show.
var eventTypeNames = map[agent.EventType]string{
	agent.EventAgentStart:          "agent_start",
	agent.EventAgentEnd:            "agent_end",
	agent.EventTurnStart:           "turn_start",
	agent.EventTurnEnd:             "turn_end",
	agent.EventMessageStart:        "message_start",
	agent.EventMessageUpdate:       "message_update",
	agent.EventMessageEnd:          "message_end",
	agent.EventToolExecutionStart:  "tool_execution_start",
	agent.EventToolExecutionUpdate: "tool_execution_update",
	agent.EventToolExecutionEnd:    "tool_execution_end",
	agent.EventRetrying:            "retrying",
}

// wireEvent is the compact JSON rendering of one session.Event.
type wireEvent struct {
	Type      string           `json:"type"`
	SessionID string           `json:"sessionId"`
	Seq       uint64           `json:"seq"`
	Message   *message.Message `json:"message,omitempty"`

	TextDelta     string `json:"textDelta,omitempty"`
	ThinkingDelta string `json:"thinkingDelta,omitempty"`
	ToolCallID    string `json:"toolCallId,omitempty"`
	ToolCallName  string `json:"toolCallName,omitempty"`
	ToolCallArgs  string `json:"toolCallArgs,omitempty"`

	ToolName string `json:"toolName,omitempty"`
	Partial  string `json:"partial,omitempty"`

	Attempt    int    `json:"attempt,omitempty"`
	RetryDelay string `json:"retryDelay,omitempty"`
	Err        string `json:"error,omitempty"`
}

func toWireEvent(e agentsession.Event) wireEvent {
	name, ok := eventTypeNames[e.Type]
	if !ok {
		name = string(e.Type)
	}
	w := wireEvent{
		Type:          name,
		SessionID:     e.SessionID,
		Seq:           e.Seq,
		Message:       e.Message,
		TextDelta:     e.TextDelta,
		ThinkingDelta: e.ThinkingDelta,
		ToolCallID:    e.ToolCallID,
		ToolCallName:  e.ToolCallName,
		ToolCallArgs:  e.ToolCallArgs,
		ToolName:      e.ToolName,
		Partial:       e.Partial,
		Attempt:       e.Attempt,
		RetryDelay:    e.RetryDelay,
	}
	if e.Err != nil {
		w.Err = e.Err.Error()
	}
	return w
}
