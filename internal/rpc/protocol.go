// Package rpc implements the line-delimited JSON front-end: one AgentSession
// driven over stdin/stdout instead of a terminal UI, in the same envelope
// style the MCP client's request/response framing uses, generalized from an
// HTTP call-response round trip to a standing stdin/stdout pipe.
package rpc

import "encoding/json"

// request is the single flexible shape every input line decodes into.
// encoding/json ignores fields a given command doesn't use, so one struct
// covers the whole command set instead of a type switch over raw JSON.
type request struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	Message string   `json:"message,omitempty"`
	Images  []string `json:"images,omitempty"`

	ParentSession string `json:"parentSession,omitempty"`
	Name          string `json:"name,omitempty"`

	Provider string `json:"provider,omitempty"`
	ModelID  string `json:"modelId,omitempty"`
	Level    string `json:"level,omitempty"`
	Mode     string `json:"mode,omitempty"`

	CustomInstructions string `json:"customInstructions,omitempty"`
	Enabled            *bool  `json:"enabled,omitempty"`

	Command     string `json:"command,omitempty"`
	OutputPath  string `json:"outputPath,omitempty"`
	SessionPath string `json:"sessionPath,omitempty"`
	EntryID     string `json:"entryId,omitempty"`

	// hook_ui_response carries whatever the original hook_ui_request asked
	// for; this server never issues one (see DESIGN.md), so it is accepted
	// and acknowledged but otherwise unused.
	Extra json.RawMessage `json:"-"`
}

// response is the synchronous reply to every command.
type response struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Command string `json:"command"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(id, command string, data any) response {
	return response{Type: "response", ID: id, Command: command, Success: true, Data: data}
}

func fail(id, command string, err error) response {
	return response{Type: "response", ID: id, Command: command, Success: false, Error: err.Error()}
}

// hookErrorEnvelope reports a hook failure that didn't otherwise produce a
// command response, per the hook_error output shape.
type hookErrorEnvelope struct {
	Type     string `json:"type"`
	HookPath string `json:"hookPath,omitempty"`
	Event    string `json:"event"`
	Error    string `json:"error"`
	Stack    string `json:"stack,omitempty"`
}

// hookUIRequestEnvelope would carry a blocking UI delegation from a hook.
// Nothing in this tree's hook.Runner can originate one yet (its handlers
// are in-process only; see internal/agentcore/hook's own doc comment), so
// this type exists for wire-format completeness and is never emitted.
type hookUIRequestEnvelope struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
}
