// Package session implements AgentSession, the orchestration layer that
// wires an agent.Agent to a session store, a hook runner, and a set of
// scoped models, exposing the single façade a front-end (TUI, print mode,
// or the RPC server) drives instead of touching those pieces directly.
// It follows cmd/symb/main.go's services/wiring pattern and the TUI
// Model's provider-plus-store ownership, expressed as an arena owning
// everything a tool or hook might need instead of a bubbletea Model.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/symb/internal/agentcore/agent"
	"github.com/xonecas/symb/internal/agentcore/hook"
	"github.com/xonecas/symb/internal/agentcore/message"
	"github.com/xonecas/symb/internal/agentcore/tool"
	"github.com/xonecas/symb/internal/provider"
	store "github.com/xonecas/symb/internal/session"
	"github.com/xonecas/symb/internal/shell"
)

// ModelOption is one entry in a user-configured cycling list: a model
// paired with an optional fixed thinking level.
type ModelOption struct {
	Provider      string `json:"provider"`
	ModelID       string `json:"modelId"`
	ThinkingLevel string `json:"thinkingLevel,omitempty"`
}

// Mode selects how a session's log is resolved on New.
type Mode string

const (
	ModeCreate   Mode = "create"
	ModeContinue Mode = "continue"
	ModeOpen     Mode = "open"
	ModeInMemory Mode = "inMemory"
)

// Options configures a new AgentSession.
type Options struct {
	AgentDir    string // base dir, e.g. from config.DataDir(); sessions live under AgentDir/sessions/...
	CWD         string
	DirOverride string

	Mode     Mode
	OpenPath string // required when Mode == ModeOpen

	ResolveProvider agent.ProviderResolver
	Models          []ModelOption
	InitialModel    int // index into Models

	Tools            *tool.Registry
	TargetAPI        string
	SystemPrompt     func(activeToolNames []string) string
	Hooks            *hook.Runner
	Shell            *shell.Shell
	ContextWindow    int
	EstimateTokens   agent.TokenEstimator
	Compaction       agent.CompactionSettings
	Retry            agent.RetrySettings
	AutoRetryEnabled bool
	FollowUpMode     agent.FollowUpMode
}

// Event wraps an agent.Event with the session metadata a front-end's
// event stream needs: which session produced it and its place in this
// session's monotonic sequence.
type Event struct {
	agent.Event
	SessionID string
	Seq       uint64
}

// Subscriber receives every Event in emission order.
type Subscriber func(Event)

// AgentSession is the arena owning one conversation's Agent, session log,
// hook runner, tool registry, and scoped-model list. No tool or hook holds
// a reference back into it beyond the small closures ToolContext exposes.
type AgentSession struct {
	mu sync.Mutex

	agent *agent.Agent
	store *store.Store
	hooks *hook.Runner
	tools *tool.Registry
	shell *shell.Shell

	agentDir    string
	cwd         string
	dirOverride string

	steeringMode string
	sessionName  string

	resolveProvider agent.ProviderResolver
	models          []ModelOption
	modelIdx        int

	systemPrompt  func([]string) string
	targetAPI     string
	estimateTokens agent.TokenEstimator

	seq         atomic.Uint64
	subscribers []Subscriber
	compacting  atomic.Bool
}

// ToolContext is the narrow, functional-snapshot view a tool's Execute
// closure may capture instead of a reference to the arena itself, per the
// arena+handle design: isIdle/hasPendingMessages read a point-in-time
// snapshot, sendMessage queues a message the normal way.
type ToolContext struct {
	IsIdle             func() bool
	HasPendingMessages func() bool
	SendMessage        func(text string)
}

// New builds an AgentSession per opts.Mode, wiring the agent loop, the
// session store, and this façade's own persistence subscriber together.
func New(opts Options) (*AgentSession, error) {
	if opts.ResolveProvider == nil {
		return nil, fmt.Errorf("session: ResolveProvider is required")
	}
	if len(opts.Models) == 0 {
		return nil, fmt.Errorf("session: at least one model is required")
	}

	s, err := openStore(opts)
	if err != nil {
		return nil, err
	}

	idx := opts.InitialModel
	if idx < 0 || idx >= len(opts.Models) {
		idx = 0
	}

	as := &AgentSession{
		store:           s,
		hooks:           opts.Hooks,
		tools:           opts.Tools,
		shell:           opts.Shell,
		agentDir:        opts.AgentDir,
		cwd:             opts.CWD,
		dirOverride:     opts.DirOverride,
		resolveProvider: opts.ResolveProvider,
		models:          opts.Models,
		modelIdx:        idx,
		systemPrompt:    opts.SystemPrompt,
		targetAPI:       opts.TargetAPI,
		estimateTokens:  opts.EstimateTokens,
	}

	ctx := s.BuildContext()
	model := opts.Models[idx].Provider + "/" + opts.Models[idx].ModelID
	thinkingLevel := opts.Models[idx].ThinkingLevel
	if ctx.Provider != "" && ctx.Model != "" {
		model = ctx.Provider + "/" + ctx.Model
	}
	if ctx.ThinkingLevel != "" {
		thinkingLevel = ctx.ThinkingLevel
	}

	sysPrompt := ""
	if as.systemPrompt != nil {
		sysPrompt = as.systemPrompt(toolNames(opts.Tools))
	}

	a, err := agent.New(agent.Options{
		SystemPrompt:     sysPrompt,
		Model:            model,
		ThinkingLevel:    thinkingLevel,
		Tools:            opts.Tools,
		ResolveProvider:  opts.ResolveProvider,
		TargetAPI:        opts.TargetAPI,
		FollowUpMode:     opts.FollowUpMode,
		AutoRetryEnabled: opts.AutoRetryEnabled,
		Retry:            opts.Retry,
		Compaction:       opts.Compaction,
		EstimateTokens:   opts.EstimateTokens,
		ContextWindow:    opts.ContextWindow,
		Compact:          as.doCompact,
	})
	if err != nil {
		return nil, err
	}
	as.agent = a
	a.ReplaceMessages(ctx.Messages)
	a.Subscribe(as.onAgentEvent)

	if as.hooks != nil {
		if _, err := as.hooks.Publish(context.Background(), hook.Event{Name: hook.SessionStart, SessionID: s.ID()}); err != nil {
			return nil, fmt.Errorf("session: session_start hook: %w", err)
		}
	}

	return as, nil
}

func openStore(opts Options) (*store.Store, error) {
	switch opts.Mode {
	case ModeCreate, "":
		return store.Create(opts.AgentDir, opts.CWD, opts.DirOverride)
	case ModeContinue:
		return store.ContinueRecent(opts.AgentDir, opts.CWD, opts.DirOverride)
	case ModeOpen:
		if opts.OpenPath == "" {
			return nil, fmt.Errorf("session: OpenPath is required for ModeOpen")
		}
		return store.Open(opts.OpenPath)
	case ModeInMemory:
		return store.InMemory(opts.CWD), nil
	default:
		return nil, fmt.Errorf("session: unknown mode %q", opts.Mode)
	}
}

func toolNames(reg *tool.Registry) []string {
	if reg == nil {
		return nil
	}
	tools := reg.List()
	out := make([]string, len(tools))
	for i, t := range tools {
		out[i] = t.Name
	}
	return out
}

func (as *AgentSession) onAgentEvent(e agent.Event) {
	if e.Type == agent.EventMessageEnd && e.Message != nil {
		if _, err := as.store.AppendMessage(*e.Message); err != nil {
			log.Warn().Err(err).Msg("session: failed to persist message")
		}
	}

	if e.Type == agent.EventToolExecutionEnd && as.hooks != nil {
		toolCallID, toolName := "", ""
		if e.Message != nil {
			toolCallID, toolName = e.Message.ToolCallID, e.Message.ToolName
		}
		if _, err := as.hooks.Publish(context.Background(), hook.Event{
			Name: hook.ToolPost, SessionID: as.store.ID(), ToolCallID: toolCallID, ToolName: toolName,
		}); err != nil {
			log.Warn().Err(err).Msg("session: tool_post hook failed")
		}
	}

	wrapped := Event{Event: e, SessionID: as.store.ID(), Seq: as.seq.Add(1)}
	as.mu.Lock()
	subs := append([]Subscriber(nil), as.subscribers...)
	as.mu.Unlock()
	for _, sub := range subs {
		sub(wrapped)
	}
}

// Subscribe registers a subscriber for this session's wrapped event
// stream, in addition to whatever the underlying Agent already emits.
func (as *AgentSession) Subscribe(sub Subscriber) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.subscribers = append(as.subscribers, sub)
}

// Prompt persists text as a user message, then runs the agent loop. If
// expandSlashCommands is true and text starts with "/", slash-command
// expansion runs first and may rewrite text entirely.
func (as *AgentSession) Prompt(ctx context.Context, text string, expandSlashCommands bool) error {
	if expandSlashCommands {
		expanded, handled, err := as.expandSlashCommand(ctx, text)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}
		text = expanded
	}

	m := message.NewUserMessage(text, time.Now())
	if _, err := as.store.AppendMessage(m); err != nil {
		return fmt.Errorf("session: persist prompt: %w", err)
	}
	as.agent.AppendMessage(m)

	if as.hooks != nil {
		decision, err := as.hooks.Publish(ctx, hook.Event{Name: hook.Context, SessionID: as.store.ID(), Messages: as.agent.Messages()})
		if err != nil {
			return fmt.Errorf("session: context hook: %w", err)
		}
		if rewritten, ok := decision.Messages.([]message.Message); ok {
			as.agent.ReplaceMessages(rewritten)
		}
	}

	return as.agent.Continue(ctx)
}

// Steer enqueues a steering message on the underlying agent.
func (as *AgentSession) Steer(text string) { as.agent.Steer(text) }

// FollowUp enqueues a follow-up message on the underlying agent.
func (as *AgentSession) FollowUp(text string) { as.agent.FollowUp(text) }

// Abort cancels the agent's current turn.
func (as *AgentSession) Abort() { as.agent.Abort() }

// SetSteeringMode records mode for reporting purposes: steering has no
// separate runtime behavior beyond "always preemptive between batches" in
// this façade, unlike follow-up's interrupt/queue choice, but a front-end
// (and get_state) still needs to see what it last asked for.
func (as *AgentSession) SetSteeringMode(mode string) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.steeringMode = mode
}

// SteeringMode returns the last mode recorded by SetSteeringMode.
func (as *AgentSession) SteeringMode() string {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.steeringMode
}

// SetSessionName records a display name on the session log and for
// get_state reporting.
func (as *AgentSession) SetSessionName(name string) error {
	if _, err := as.store.AppendSessionInfo(name); err != nil {
		return err
	}
	as.mu.Lock()
	as.sessionName = name
	as.mu.Unlock()
	return nil
}

// SessionName returns the name last set by SetSessionName, or "" if none
// has been set yet.
func (as *AgentSession) SessionName() string {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.sessionName
}

// SetFollowUpMode changes how queued follow-ups are drained.
func (as *AgentSession) SetFollowUpMode(mode agent.FollowUpMode) { as.agent.SetFollowUpMode(mode) }

// SetAutoCompactionEnabled toggles auto-compaction.
func (as *AgentSession) SetAutoCompactionEnabled(enabled bool) {
	as.agent.SetAutoCompactionEnabled(enabled)
}

// SetAutoRetryEnabled toggles auto-retry.
func (as *AgentSession) SetAutoRetryEnabled(enabled bool) { as.agent.SetAutoRetryEnabled(enabled) }

// AbortRetry cancels a pending retry delay.
func (as *AgentSession) AbortRetry() { as.agent.AbortRetry() }

// SetModel switches to an explicit provider/model pair not necessarily in
// the scoped list, recording the change on the session log.
func (as *AgentSession) SetModel(providerName, modelID string) error {
	model := providerName + "/" + modelID
	if err := as.agent.SetModel(model); err != nil {
		return err
	}
	_, err := as.store.AppendModelChange(providerName, modelID)
	return err
}

// CycleModel advances the scoped-model index by direction (±1, wrapping)
// and applies the new model (and its fixed thinking level, if any).
func (as *AgentSession) CycleModel(direction int) error {
	as.mu.Lock()
	n := len(as.models)
	idx := ((as.modelIdx+direction)%n + n) % n
	as.modelIdx = idx
	opt := as.models[idx]
	as.mu.Unlock()

	if err := as.agent.SetModel(opt.Provider + "/" + opt.ModelID); err != nil {
		return err
	}
	if _, err := as.store.AppendModelChange(opt.Provider, opt.ModelID); err != nil {
		return err
	}
	if opt.ThinkingLevel != "" {
		return as.SetThinkingLevel(opt.ThinkingLevel)
	}
	return nil
}

// SetThinkingLevel sets the active thinking/reasoning effort level,
// recording the change on the session log.
func (as *AgentSession) SetThinkingLevel(level string) error {
	as.agent.SetThinkingLevel(level)
	_, err := as.store.AppendThinkingLevel(level)
	return err
}

var thinkingLevels = []string{"off", "low", "medium", "high"}

// CycleThinkingLevel advances through a fixed off/low/medium/high cycle.
func (as *AgentSession) CycleThinkingLevel() error {
	current := as.agent.ThinkingLevel()
	idx := 0
	for i, l := range thinkingLevels {
		if l == current {
			idx = i
			break
		}
	}
	next := thinkingLevels[(idx+1)%len(thinkingLevels)]
	return as.SetThinkingLevel(next)
}

// GetAvailableModels returns the configured scoped-model list.
func (as *AgentSession) GetAvailableModels() []ModelOption {
	as.mu.Lock()
	defer as.mu.Unlock()
	return append([]ModelOption(nil), as.models...)
}

// SessionStats summarizes the session for a front-end's status bar.
type SessionStats struct {
	SessionID     string       `json:"sessionId"`
	SessionPath   string       `json:"sessionPath,omitempty"`
	Model         string       `json:"model"`
	ThinkingLevel string       `json:"thinkingLevel"`
	MessageCount  int          `json:"messageCount"`
	Status        agent.Status `json:"status"`
}

// GetSessionStats reports the current session identity, model, and
// message count.
func (as *AgentSession) GetSessionStats() SessionStats {
	return SessionStats{
		SessionID:     as.store.ID(),
		SessionPath:   as.store.Path(),
		Model:         as.agent.Model(),
		ThinkingLevel: as.agent.ThinkingLevel(),
		MessageCount:  len(as.agent.Messages()),
		Status:        as.agent.Status(),
	}
}

// State is the full status snapshot an RPC front-end's get_state command
// reports.
type State struct {
	Model                 string             `json:"model"`
	ThinkingLevel         string             `json:"thinkingLevel"`
	IsStreaming           bool               `json:"isStreaming"`
	IsCompacting          bool               `json:"isCompacting"`
	SteeringMode          string             `json:"steeringMode"`
	FollowUpMode          agent.FollowUpMode `json:"followUpMode"`
	SessionFile           string             `json:"sessionFile,omitempty"`
	SessionID             string             `json:"sessionId"`
	SessionName           string             `json:"sessionName,omitempty"`
	AutoCompactionEnabled bool               `json:"autoCompactionEnabled"`
	MessageCount          int                `json:"messageCount"`
	PendingMessageCount   int                `json:"pendingMessageCount"`
}

// GetState reports the full status snapshot an RPC front-end's get_state
// command needs.
func (as *AgentSession) GetState() State {
	return State{
		Model:                 as.agent.Model(),
		ThinkingLevel:         as.agent.ThinkingLevel(),
		IsStreaming:           as.agent.Status() == agent.StatusStreaming || as.agent.Status() == agent.StatusExecutingTools,
		IsCompacting:          as.compacting.Load(),
		SteeringMode:          as.SteeringMode(),
		FollowUpMode:          as.agent.FollowUpMode(),
		SessionFile:           as.store.Path(),
		SessionID:             as.store.ID(),
		SessionName:           as.SessionName(),
		AutoCompactionEnabled: as.agent.AutoCompactionEnabled(),
		MessageCount:          len(as.agent.Messages()),
		PendingMessageCount:   as.agent.PendingMessageCount(),
	}
}

// GetMessages returns the active branch's full in-memory message history.
func (as *AgentSession) GetMessages() []message.Message {
	return as.agent.Messages()
}

// GetLastAssistantText returns the text of the most recent assistant
// message, or "" if there isn't one yet.
func (as *AgentSession) GetLastAssistantText() string {
	msgs := as.agent.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == message.RoleAssistant {
			return msgs[i].Text()
		}
	}
	return ""
}

// ForkCandidate is one user message a front-end may offer to fork from.
type ForkCandidate struct {
	EntryID string `json:"entryId"`
	Text    string `json:"text"`
}

// GetUserMessagesForForking walks the session's root-to-leaf path and
// returns every user message entry, in order, as a fork candidate.
func (as *AgentSession) GetUserMessagesForForking() []ForkCandidate {
	var out []ForkCandidate
	for _, id := range as.pathToLeaf() {
		e, ok := as.store.Entry(id)
		if !ok || e.Type != store.EntryMessage || e.Message == nil {
			continue
		}
		if e.Message.Role != message.RoleUser {
			continue
		}
		out = append(out, ForkCandidate{EntryID: e.ID, Text: e.Message.Text()})
	}
	return out
}

// pathToLeaf re-derives the root-to-leaf entry id path the same way
// store.BuildContext does internally, via the store's public Entry lookup
// starting at Leaf and following ParentID.
func (as *AgentSession) pathToLeaf() []string {
	var reversed []string
	for id := as.store.Leaf(); id != ""; {
		e, ok := as.store.Entry(id)
		if !ok {
			break
		}
		reversed = append(reversed, id)
		id = e.ParentID
	}
	out := make([]string, len(reversed))
	for i, id := range reversed {
		out[i] = reversed[len(reversed)-1-i]
	}
	return out
}

// ForkResult is returned by Fork: the text of the entry forked to, for a
// front-end to let the user re-edit before resubmitting as a new prompt.
type ForkResult struct {
	SelectedText string `json:"selectedText"`
	Cancelled    bool   `json:"cancelled"`
}

// Fork rewinds the active branch to entryID without appending anything.
// The abandoned branch stays in the log, just unreachable from the new
// leaf; the next Prompt call grows a fresh child under entryID.
func (as *AgentSession) Fork(entryID string) (ForkResult, error) {
	e, ok := as.store.Entry(entryID)
	if !ok || e.Type != store.EntryMessage || e.Message == nil {
		return ForkResult{}, fmt.Errorf("session: fork: entry %q is not a message", entryID)
	}
	if err := as.store.SetLeaf(entryID); err != nil {
		return ForkResult{}, err
	}
	as.agent.ReplaceMessages(as.store.BuildContext().Messages)
	return ForkResult{SelectedText: e.Message.Text()}, nil
}

// NewSession opens a brand-new, empty session under the same AgentDir/CWD
// this AgentSession was created with, replacing the active store and
// resetting the agent's history.
func (as *AgentSession) NewSession() error {
	newStore, err := store.Create(as.agentDir, as.cwd, as.dirOverride)
	if err != nil {
		return err
	}
	as.store.Close()
	as.store = newStore
	as.agent.ClearMessages()
	return nil
}

// SwitchSession closes the active store and opens a different session log
// by path, replacing the agent's history with the new session's
// reconstructed context, model, and thinking level.
func (as *AgentSession) SwitchSession(path string) error {
	newStore, err := store.Open(path)
	if err != nil {
		return err
	}
	as.store.Close()
	as.store = newStore
	ctx := newStore.BuildContext()
	as.agent.ReplaceMessages(ctx.Messages)
	if ctx.Provider != "" && ctx.Model != "" {
		_ = as.agent.SetModel(ctx.Provider + "/" + ctx.Model)
	}
	if ctx.ThinkingLevel != "" {
		as.agent.SetThinkingLevel(ctx.ThinkingLevel)
	}
	return nil
}

// CompactResult reports what a manual or automatic compaction produced.
type CompactResult struct {
	Summary          string `json:"summary"`
	TokensBefore     int    `json:"tokensBefore"`
	FirstKeptEntryID string `json:"firstKeptEntryId"`
}

// Compact summarizes the current history through the active provider and
// records a compaction entry, collapsing everything before it to the
// summary on the next context build.
func (as *AgentSession) Compact(ctx context.Context, customInstructions string) (CompactResult, error) {
	before := as.store.Leaf()
	if err := as.doCompact(ctx, customInstructions); err != nil {
		return CompactResult{}, err
	}
	msgs := as.agent.Messages()
	summary := ""
	if len(msgs) > 0 {
		summary = msgs[0].Text()
	}
	return CompactResult{Summary: summary, FirstKeptEntryID: before}, nil
}

// doCompact is the agent.CompactFunc the AgentSession wires into its
// Agent: it asks the active model to summarize the conversation so far,
// records the summary as a compaction entry, and collapses the agent's
// in-memory history down to that single summary message.
func (as *AgentSession) doCompact(ctx context.Context, customInstructions string) error {
	messages := as.agent.Messages()
	if len(messages) == 0 {
		return nil
	}
	as.compacting.Store(true)
	defer as.compacting.Store(false)

	model := as.agent.Model()
	prov, err := as.resolveProvider(model)
	if err != nil {
		return fmt.Errorf("session: compact: resolve provider: %w", err)
	}

	instruction := "Summarize the conversation so far so it can replace the full history. Be concise but keep every decision, fact, and unresolved question."
	if customInstructions != "" {
		instruction += " " + customInstructions
	}
	wire := append(flattenForSummary(messages), provider.Message{Role: "user", Content: instruction, CreatedAt: time.Now()})

	stream, err := prov.ChatStream(ctx, wire, nil)
	if err != nil {
		return fmt.Errorf("session: compact: %w", err)
	}
	summary, err := drainText(stream)
	if err != nil {
		return fmt.Errorf("session: compact: %w", err)
	}
	if summary == "" {
		return fmt.Errorf("session: compact: empty summary from provider")
	}

	tokensBefore := 0
	if as.estimateTokens != nil {
		tokensBefore = as.estimateTokens(messages, model)
	}
	leaf := as.store.Leaf()
	if _, err := as.store.Compact(summary, leaf, tokensBefore, nil); err != nil {
		return fmt.Errorf("session: compact: record entry: %w", err)
	}
	as.agent.ReplaceMessages([]message.Message{message.NewUserMessage(summary, time.Now())})
	return nil
}

// flattenForSummary turns history into the flat provider.Message shape a
// summarization call needs, the same reshaping agent/stream.go's
// toProviderMessages does for a normal turn, duplicated here in miniature
// since that helper is unexported across the package boundary.
func flattenForSummary(messages []message.Message) []provider.Message {
	var out []provider.Message
	for _, m := range messages {
		switch m.Role {
		case message.RoleUser:
			out = append(out, provider.Message{Role: "user", Content: m.Text(), CreatedAt: m.Timestamp})
		case message.RoleAssistant:
			out = append(out, provider.Message{Role: "assistant", Content: m.Text(), CreatedAt: m.Timestamp})
		case message.RoleToolResult:
			out = append(out, provider.Message{Role: "tool", Content: m.Text(), ToolCallID: m.ToolCallID, FunctionName: m.ToolName, CreatedAt: m.Timestamp})
		}
	}
	return out
}

func drainText(ch <-chan provider.StreamEvent) (string, error) {
	var content string
	for evt := range ch {
		switch evt.Type {
		case provider.EventContentDelta:
			content += evt.Content
		case provider.EventError:
			return "", evt.Err
		}
	}
	return content, nil
}

// Close publishes session_end and releases the session store's writer
// lock.
func (as *AgentSession) Close() error {
	if as.hooks != nil {
		if _, err := as.hooks.Publish(context.Background(), hook.Event{Name: hook.SessionEnd, SessionID: as.store.ID()}); err != nil {
			log.Warn().Err(err).Msg("session: session_end hook failed")
		}
	}
	return as.store.Close()
}
