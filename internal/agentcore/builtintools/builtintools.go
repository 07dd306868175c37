// Package builtintools provides the in-process tool set an AgentSession
// wires into an agent.Agent by default: a calculator, a hash-anchored file
// reader/editor, a shell runner, and a sub-agent dispatcher. It generalizes
// internal/mcptools' individual tool/handler pairs (open.go's Read,
// edit.go's Edit, shell.go's Shell) and internal/subagent's recursive run
// onto the tool.Tool contract directly, trimmed to what the agent loop's
// tool-call contract (validation, cancellation, OnUpdate) needs to
// demonstrate end to end rather than the teacher's full LSP/MCP-proxy
// surface.
package builtintools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/xonecas/symb/internal/agentcore/agent"
	"github.com/xonecas/symb/internal/agentcore/message"
	"github.com/xonecas/symb/internal/agentcore/tool"
	"github.com/xonecas/symb/internal/hashline"
	"github.com/xonecas/symb/internal/shell"
	"github.com/xonecas/symb/internal/treesitter"
)

// calculateArgs is Calculate's coerced parameter shape: a flat two-operand
// arithmetic expression, the same restricted grammar internal/llm's tests
// exercise the tool contract with.
type calculateArgs struct {
	Operation string  `json:"operation"`
	A         float64 `json:"a"`
	B         float64 `json:"b"`
}

// NewCalculateTool is a pure, side-effect-free tool: useful on its own for
// testing validation/coercion, and as the simplest possible Execute
// implementation to compare a real I/O-bound tool against.
func NewCalculateTool() tool.Tool {
	return tool.Tool{
		Name:        "calculate",
		Label:       "Calculate",
		Description: "Performs a single arithmetic operation (add, subtract, multiply, divide) on two numbers.",
		ParametersSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"operation": {"type": "string", "enum": ["add", "subtract", "multiply", "divide"]},
				"a": {"type": "number"},
				"b": {"type": "number"}
			},
			"required": ["operation", "a", "b"],
			"additionalProperties": false
		}`),
		CoerceTypes: true,
		Execute: func(_ context.Context, _ string, params json.RawMessage, _ tool.UpdateFunc) tool.Result {
			var args calculateArgs
			if err := json.Unmarshal(params, &args); err != nil {
				return tool.ErrorResult(fmt.Sprintf("invalid arguments: %v", err))
			}
			result, err := calculate(args)
			if err != nil {
				return tool.ErrorResult(err.Error())
			}
			return tool.TextResult(strconv.FormatFloat(result, 'g', -1, 64))
		},
	}
}

func calculate(args calculateArgs) (float64, error) {
	switch args.Operation {
	case "add":
		return args.A + args.B, nil
	case "subtract":
		return args.A - args.B, nil
	case "multiply":
		return args.A * args.B, nil
	case "divide":
		if args.B == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return args.A / args.B, nil
	default:
		return 0, fmt.Errorf("unknown operation %q", args.Operation)
	}
}

// readTracker records which absolute paths have been read through this
// session's Read tool, the same gate internal/mcptools' FileReadTracker
// enforces before an Edit call is allowed to touch a file: the model must
// see a file's current hashes before it can reference them as anchors.
type readTracker struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newReadTracker() *readTracker {
	return &readTracker{seen: make(map[string]bool)}
}

func (t *readTracker) markRead(absPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[absPath] = true
}

func (t *readTracker) wasRead(absPath string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seen[absPath]
}

// readArgs is Read's coerced parameter shape.
type readArgs struct {
	File  string `json:"file"`
	Start int    `json:"start,omitempty"`
	End   int    `json:"end,omitempty"`
}

// NewReadTool creates a file-reading tool that returns hash-anchored,
// line-numbered content, optionally restricted to [start,end] (1-indexed,
// inclusive). Each line is tagged with a short content hash the Edit tool
// validates against before applying a change, and a recognized source
// file's symbol outline is appended when tree-sitter can parse it, the
// same structural context internal/treesitter/context.go's FormatOutline
// builds for whole-project system-prompt injection, scoped here to one
// file per Read call.
func NewReadTool(tracker *readTracker) tool.Tool {
	return tool.Tool{
		Name:        "read",
		Label:       "Read",
		Description: "Reads a file and returns its content tagged \"linenum:hash|content\". Use start/end for a line range. The hashes are required anchors for the edit tool.",
		ParametersSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file": {"type": "string"},
				"start": {"type": "integer", "minimum": 1},
				"end": {"type": "integer", "minimum": 1}
			},
			"required": ["file"],
			"additionalProperties": false
		}`),
		CoerceTypes: true,
		Execute: func(_ context.Context, _ string, params json.RawMessage, _ tool.UpdateFunc) tool.Result {
			var args readArgs
			if err := json.Unmarshal(params, &args); err != nil {
				return tool.ErrorResult(fmt.Sprintf("invalid arguments: %v", err))
			}
			text, err := readFile(args, tracker)
			if err != nil {
				return tool.ErrorResult(err.Error())
			}
			return tool.TextResult(text)
		},
	}
}

func readFile(args readArgs, tracker *readTracker) (string, error) {
	data, err := os.ReadFile(args.File)
	if err != nil {
		return "", fmt.Errorf("read %q: %w", args.File, err)
	}
	absPath, err := filepath.Abs(args.File)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", args.File, err)
	}

	tagged := hashline.TagLines(string(data), 1)
	start, end := args.Start, args.End
	if start <= 0 {
		start = 1
	}
	if end <= 0 || end > len(tagged) {
		end = len(tagged)
	}
	if start > end {
		return "", fmt.Errorf("start line %d is after end line %d", start, end)
	}

	text := hashline.FormatTagged(tagged[start-1 : end])
	if tracker != nil {
		tracker.markRead(absPath)
	}

	if treesitter.Supported(absPath) {
		if symbols, err := treesitter.ParseFile(absPath); err == nil && len(symbols) > 0 {
			outline := treesitter.FormatOutline(map[string][]treesitter.Symbol{args.File: symbols})
			if outline != "" {
				text += "\n\n" + outline
			}
		}
	}
	return text, nil
}

// editReplaceOp replaces lines between start and end (inclusive) with new content.
type editReplaceOp struct {
	Start   hashline.Anchor `json:"start"`
	End     hashline.Anchor `json:"end"`
	Content string          `json:"content"`
}

// editInsertOp inserts new lines after the anchored line.
type editInsertOp struct {
	After   hashline.Anchor `json:"after"`
	Content string          `json:"content"`
}

// editDeleteOp deletes lines between start and end (inclusive).
type editDeleteOp struct {
	Start hashline.Anchor `json:"start"`
	End   hashline.Anchor `json:"end"`
}

// editCreateOp creates a new file with the given content.
type editCreateOp struct {
	Content string `json:"content"`
}

// editArgs is Edit's coerced parameter shape. Exactly one of Replace,
// Insert, Delete, or Create must be set.
type editArgs struct {
	File    string         `json:"file"`
	Replace *editReplaceOp `json:"replace,omitempty"`
	Insert  *editInsertOp  `json:"insert,omitempty"`
	Delete  *editDeleteOp  `json:"delete,omitempty"`
	Create  *editCreateOp  `json:"create,omitempty"`
}

const anchorSchema = `{"type": "object", "properties": {"line": {"type": "integer"}, "hash": {"type": "string"}}, "required": ["line", "hash"]}`

// NewEditTool creates a hash-anchored file editor: the model must Read a
// file (through tracker) before editing it, and every anchor it supplies
// must match the line's current content hash or the edit is rejected
// before anything is written — the same closed loop
// internal/mcptools/edit.go's EditHandler enforces, trimmed of the LSP
// diagnostics and delta-tracking hooks that front-end has no consumer for
// here.
func NewEditTool(tracker *readTracker) tool.Tool {
	return tool.Tool{
		Name:  "edit",
		Label: "Edit",
		Description: `Edit a file using hash-anchored operations. You MUST Read the file first to get line hashes.
Each line from Read is tagged as "linenum:hash|content". Use the line number and hash as anchors.
Exactly one operation per call: replace, insert, delete, or create.
If a hash does not match, the file changed since you read it — re-Read and retry.`,
		ParametersSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file": {"type": "string"},
				"replace": {
					"type": "object",
					"properties": {
						"start": ` + anchorSchema + `,
						"end": ` + anchorSchema + `,
						"content": {"type": "string"}
					},
					"required": ["start", "end", "content"]
				},
				"insert": {
					"type": "object",
					"properties": {
						"after": ` + anchorSchema + `,
						"content": {"type": "string"}
					},
					"required": ["after", "content"]
				},
				"delete": {
					"type": "object",
					"properties": {
						"start": ` + anchorSchema + `,
						"end": ` + anchorSchema + `
					},
					"required": ["start", "end"]
				},
				"create": {
					"type": "object",
					"properties": {
						"content": {"type": "string"}
					},
					"required": ["content"]
				}
			},
			"required": ["file"],
			"additionalProperties": false
		}`),
		CoerceTypes: true,
		Execute: func(_ context.Context, _ string, params json.RawMessage, _ tool.UpdateFunc) tool.Result {
			var args editArgs
			if err := json.Unmarshal(params, &args); err != nil {
				return tool.ErrorResult(fmt.Sprintf("invalid arguments: %v", err))
			}
			text, err := applyEdit(args, tracker)
			if err != nil {
				return tool.ErrorResult(err.Error())
			}
			return tool.TextResult(text)
		},
	}
}

func applyEdit(args editArgs, tracker *readTracker) (string, error) {
	if args.File == "" {
		return "", fmt.Errorf("file path cannot be empty")
	}
	if err := validateEditOps(args); err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(args.File)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", args.File, err)
	}

	if args.Create != nil {
		return createFile(absPath, args.File, args.Create, tracker)
	}

	if tracker == nil || !tracker.wasRead(absPath) {
		return "", fmt.Errorf("you must read %q before editing it — the edit tool needs its current line hashes", args.File)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return "", fmt.Errorf("read %q: %w", args.File, err)
	}
	lines := strings.Split(string(content), "\n")

	var result string
	switch {
	case args.Replace != nil:
		result, err = applyReplace(lines, args.Replace)
	case args.Insert != nil:
		result, err = applyInsert(lines, args.Insert)
	case args.Delete != nil:
		result, err = applyDelete(lines, args.Delete)
	}
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(absPath, []byte(result), 0600); err != nil {
		return "", fmt.Errorf("write %q: %w", args.File, err)
	}
	tracker.markRead(absPath)

	tagged := hashline.TagLines(result, 1)
	return fmt.Sprintf("Edited %s (%d lines):\n\n%s", args.File, len(tagged), hashline.FormatTagged(tagged)), nil
}

func createFile(absPath, displayPath string, op *editCreateOp, tracker *readTracker) (string, error) {
	if _, err := os.Stat(absPath); err == nil {
		return "", fmt.Errorf("file already exists: %s (use replace/insert/delete to modify)", displayPath)
	}
	if dir := filepath.Dir(absPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("create directories: %w", err)
		}
	}
	if err := os.WriteFile(absPath, []byte(op.Content), 0600); err != nil {
		return "", fmt.Errorf("create %q: %w", displayPath, err)
	}
	if tracker != nil {
		tracker.markRead(absPath)
	}
	tagged := hashline.TagLines(op.Content, 1)
	return fmt.Sprintf("Created %s (%d lines):\n\n%s", displayPath, len(tagged), hashline.FormatTagged(tagged)), nil
}

func validateEditOps(args editArgs) error {
	ops := 0
	for _, set := range []bool{args.Replace != nil, args.Insert != nil, args.Delete != nil, args.Create != nil} {
		if set {
			ops++
		}
	}
	if ops != 1 {
		return fmt.Errorf("exactly one operation (replace, insert, delete, or create) must be specified")
	}
	return nil
}

func applyReplace(lines []string, op *editReplaceOp) (string, error) {
	if err := hashline.ValidateRange(op.Start, op.End, lines); err != nil {
		return "", fmt.Errorf("replace: %w", err)
	}
	newLines := make([]string, 0, len(lines))
	newLines = append(newLines, lines[:op.Start.Num-1]...)
	newLines = append(newLines, strings.Split(op.Content, "\n")...)
	newLines = append(newLines, lines[op.End.Num:]...)
	return strings.Join(newLines, "\n"), nil
}

func applyInsert(lines []string, op *editInsertOp) (string, error) {
	if err := op.After.Validate(lines); err != nil {
		return "", fmt.Errorf("insert: after anchor: %w", err)
	}
	newLines := make([]string, 0, len(lines)+1)
	newLines = append(newLines, lines[:op.After.Num]...)
	newLines = append(newLines, strings.Split(op.Content, "\n")...)
	newLines = append(newLines, lines[op.After.Num:]...)
	return strings.Join(newLines, "\n"), nil
}

func applyDelete(lines []string, op *editDeleteOp) (string, error) {
	if err := hashline.ValidateRange(op.Start, op.End, lines); err != nil {
		return "", fmt.Errorf("delete: %w", err)
	}
	newLines := make([]string, 0, len(lines))
	newLines = append(newLines, lines[:op.Start.Num-1]...)
	newLines = append(newLines, lines[op.End.Num:]...)
	return strings.Join(newLines, "\n"), nil
}

// bashArgs is Bash's coerced parameter shape.
type bashArgs struct {
	Command string `json:"command"`
}

// NewBashTool wraps sh as a tool.Tool, generalizing internal/mcptools/
// shell.go's ShellHandler directly onto the new contract: the model sees
// combined stdout+stderr and a non-zero exit is reported as IsError text
// rather than a Go error, matching executeOne's "model sees an explanation,
// not a crash" contract.
func NewBashTool(sh *shell.Shell) tool.Tool {
	return tool.Tool{
		Name:        "bash",
		Label:       "Bash",
		Description: "Runs a shell command and returns its combined stdout/stderr.",
		ParametersSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string", "minLength": 1}
			},
			"required": ["command"],
			"additionalProperties": false
		}`),
		Execute: func(ctx context.Context, _ string, params json.RawMessage, _ tool.UpdateFunc) tool.Result {
			var args bashArgs
			if err := json.Unmarshal(params, &args); err != nil {
				return tool.ErrorResult(fmt.Sprintf("invalid arguments: %v", err))
			}
			stdout, stderr, err := sh.Exec(ctx, args.Command)
			output := stdout + stderr
			if err != nil {
				exitCode := shell.ExitCode(err)
				return tool.Result{
					Content: []message.Block{message.TextBlock(fmt.Sprintf("%s\n(exit code %d)", output, exitCode))},
					IsError: true,
				}
			}
			return tool.TextResult(output)
		},
	}
}

// dispatchAgentArgs is DispatchAgent's coerced parameter shape.
type dispatchAgentArgs struct {
	Prompt string `json:"prompt"`
}

// subAgentSystemPrompt keeps a dispatched sub-agent focused on producing one
// final answer rather than a running commentary, the same framing
// internal/subagent/subagent.go's SystemPrompt built by concatenating
// base/role prompt fragments.
const subAgentSystemPrompt = "You are a focused sub-agent dispatched to complete one bounded task. " +
	"Use the tools available to you, then reply with a single, self-contained final answer. " +
	"Do not ask the user questions — you have no user to ask."

// NewDispatchAgentTool spawns a fresh, depth-bounded agent.Agent to carry
// out prompt and returns its final assistant reply, generalizing
// internal/subagent/subagent.go's Run (which drove internal/llm's
// ProcessTurn recursively against an mcp.Proxy) onto this codebase's
// agent.Agent. subTools should omit this tool itself — the caller is
// responsible for the depth bound internal/subagent/subagent.go enforced
// with MaxSubAgentDepth, since agent.Agent has no recursion guard of its
// own.
func NewDispatchAgentTool(resolveProvider agent.ProviderResolver, model string, subTools *tool.Registry) tool.Tool {
	return tool.Tool{
		Name:        "dispatch_agent",
		Label:       "Dispatch sub-agent",
		Description: "Delegates a bounded, self-contained task to a fresh sub-agent and returns its final answer. Use for focused side-quests that would otherwise clutter the main conversation.",
		ParametersSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"prompt": {"type": "string", "minLength": 1}
			},
			"required": ["prompt"],
			"additionalProperties": false
		}`),
		Execute: func(ctx context.Context, _ string, params json.RawMessage, _ tool.UpdateFunc) tool.Result {
			var args dispatchAgentArgs
			if err := json.Unmarshal(params, &args); err != nil {
				return tool.ErrorResult(fmt.Sprintf("invalid arguments: %v", err))
			}
			sub, err := agent.New(agent.Options{
				SystemPrompt:    subAgentSystemPrompt,
				Model:           model,
				Tools:           subTools,
				ResolveProvider: resolveProvider,
				FollowUpMode:    agent.FollowUpQueue,
			})
			if err != nil {
				return tool.ErrorResult(fmt.Sprintf("dispatch_agent: %v", err))
			}
			if err := sub.Prompt(ctx, args.Prompt); err != nil {
				return tool.ErrorResult(fmt.Sprintf("sub-agent failed: %v", err))
			}
			reply := lastAssistantText(sub.Messages())
			if reply == "" {
				return tool.ErrorResult("sub-agent produced no final response")
			}
			return tool.TextResult(reply)
		},
	}
}

func lastAssistantText(messages []message.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == message.RoleAssistant {
			if text := messages[i].Text(); text != "" {
				return text
			}
		}
	}
	return ""
}

// Register adds every built-in tool to reg. sh may be nil, in which case
// the bash tool is omitted (no shell configured for this session).
// resolveProvider and model, when both set, additionally register
// dispatch_agent, scoped to a sibling registry holding every other
// built-in tool so a dispatched sub-agent can read/edit/run commands but
// can never dispatch a further sub-agent itself.
func Register(reg *tool.Registry, sh *shell.Shell, resolveProvider agent.ProviderResolver, model string) {
	tracker := newReadTracker()
	reg.Register(NewCalculateTool())
	reg.Register(NewReadTool(tracker))
	reg.Register(NewEditTool(tracker))
	if sh != nil {
		reg.Register(NewBashTool(sh))
	}

	if resolveProvider == nil || model == "" {
		return
	}
	subTools := tool.NewRegistry()
	subTracker := newReadTracker()
	subTools.Register(NewCalculateTool())
	subTools.Register(NewReadTool(subTracker))
	subTools.Register(NewEditTool(subTracker))
	if sh != nil {
		subTools.Register(NewBashTool(sh))
	}
	reg.Register(NewDispatchAgentTool(resolveProvider, model, subTools))
}
