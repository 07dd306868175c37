// Package agent implements the turn-driven streaming state machine that
// bridges a provider stream, the tool executor, and conversation history,
// generalizing internal/llm/loop.go's ProcessTurn into a long-lived,
// subscribable Agent.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/symb/internal/agentcore/message"
	"github.com/xonecas/symb/internal/agentcore/tool"
	"github.com/xonecas/symb/internal/agentcore/transform"
	"github.com/xonecas/symb/internal/provider"
)

// Status is the agent's turn state.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusStreaming      Status = "streaming"
	StatusExecutingTools Status = "executingTools"
)

// FollowUpMode selects when a queued follow-up message is drained.
type FollowUpMode string

const (
	FollowUpInterrupt FollowUpMode = "interrupt" // same as steer
	FollowUpQueue     FollowUpMode = "queue"      // wait for natural end-of-turn
)

// RetrySettings configures the exponential back-off auto-retry policy.
type RetrySettings struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
}

// DefaultRetrySettings is a conservative retry posture for transient
// provider failures, in the same spirit as internal/llm/loop.go's backoff.
var DefaultRetrySettings = RetrySettings{
	MaxAttempts:       5,
	InitialDelay:      1 * time.Second,
	BackoffMultiplier: 2,
	MaxDelay:          30 * time.Second,
}

// CompactionSettings controls when auto-compaction runs before a turn.
type CompactionSettings struct {
	Enabled   bool
	Threshold float64 // fraction of model.ContextWindow, default 0.85
}

// ProviderResolver returns the Provider bound to model, used whenever the
// active model changes.
type ProviderResolver func(model string) (provider.Provider, error)

// CompactFunc performs compaction (owned by the session façade, since it
// needs the session store) and reports only whether it failed; a failure is
// logged and the turn proceeds.
type CompactFunc func(ctx context.Context, customInstructions string) error

// TokenEstimator predicts the input-token cost of sending history to the
// active model, used by the auto-compaction trigger.
type TokenEstimator func(messages []message.Message, model string) int

// MaxToolRounds bounds one turn's tool-calling iterations before the agent
// forces a final text-only reply, mirroring ProcessTurnOptions.MaxToolRounds.
const MaxToolRounds = 60

// reminderInterval is the number of tool-calling rounds between synthetic
// goal reminders, unchanged from internal/llm/loop.go.
const reminderInterval = 10

// Agent is a single conversational loop: a stateful turn machine with a
// message history, a set of subscribers, and queues for steering/follow-up
// messages injected by the user mid-turn.
type Agent struct {
	mu sync.Mutex

	systemPrompt  string
	model         string
	thinkingLevel string
	tools         *tool.Registry
	messages      []message.Message
	status        Status
	streamMessage *message.Message
	pendingCalls  map[string]bool
	lastErr       error

	subscribers []Subscriber

	steeringQueue []message.Message
	followUpQueue []message.Message
	followUpMode  FollowUpMode

	resolveProvider ProviderResolver
	activeProvider  provider.Provider

	idNormalizer transform.IDNormalizer
	targetAPI    string

	autoRetryEnabled bool
	retry            RetrySettings
	retryCancel      context.CancelFunc

	compaction     CompactionSettings
	compact        CompactFunc
	estimateTokens TokenEstimator
	contextWindow  int

	turnCancel context.CancelFunc
}

// Options configures a new Agent.
type Options struct {
	SystemPrompt     string
	Model            string
	ThinkingLevel    string
	Tools            *tool.Registry
	ResolveProvider  ProviderResolver
	TargetAPI        string
	IDNormalizer     transform.IDNormalizer
	FollowUpMode     FollowUpMode
	AutoRetryEnabled bool
	Retry            RetrySettings
	Compaction       CompactionSettings
	Compact          CompactFunc
	EstimateTokens   TokenEstimator
	ContextWindow    int
}

// New creates an idle Agent.
func New(opts Options) (*Agent, error) {
	if opts.ResolveProvider == nil {
		return nil, fmt.Errorf("agent: ResolveProvider is required")
	}
	p, err := opts.ResolveProvider(opts.Model)
	if err != nil {
		return nil, fmt.Errorf("agent: resolve provider for model %q: %w", opts.Model, err)
	}
	if opts.Tools == nil {
		opts.Tools = tool.NewRegistry()
	}
	if opts.Retry == (RetrySettings{}) {
		opts.Retry = DefaultRetrySettings
	}
	if opts.FollowUpMode == "" {
		opts.FollowUpMode = FollowUpQueue
	}
	return &Agent{
		systemPrompt:     opts.SystemPrompt,
		model:            opts.Model,
		thinkingLevel:    opts.ThinkingLevel,
		tools:            opts.Tools,
		status:           StatusIdle,
		pendingCalls:     make(map[string]bool),
		resolveProvider:  opts.ResolveProvider,
		activeProvider:   p,
		targetAPI:        opts.TargetAPI,
		idNormalizer:     opts.IDNormalizer,
		followUpMode:     opts.FollowUpMode,
		autoRetryEnabled: opts.AutoRetryEnabled,
		retry:            opts.Retry,
		compaction:       opts.Compaction,
		compact:          opts.Compact,
		estimateTokens:   opts.EstimateTokens,
		contextWindow:    opts.ContextWindow,
	}, nil
}

// Subscribe registers a subscriber that receives every future event in
// emission order. There is a single producer (this Agent), so subscribers
// never see interleaved or reordered events from it.
func (a *Agent) Subscribe(sub Subscriber) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subscribers = append(a.subscribers, sub)
}

func (a *Agent) emit(evt Event) {
	a.mu.Lock()
	subs := append([]Subscriber(nil), a.subscribers...)
	a.mu.Unlock()
	for _, sub := range subs {
		sub(evt)
	}
}

// Status reports the agent's current turn state.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Messages returns a copy of the current message history.
func (a *Agent) Messages() []message.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]message.Message, len(a.messages))
	copy(out, a.messages)
	return out
}

// Model returns the active model.
func (a *Agent) Model() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model
}

// ThinkingLevel returns the active thinking/reasoning effort level.
func (a *Agent) ThinkingLevel() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.thinkingLevel
}

// FollowUpMode returns how a queued follow-up message is currently drained.
func (a *Agent) FollowUpMode() FollowUpMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.followUpMode
}

// AutoRetryEnabled reports whether a transport error auto-retries.
func (a *Agent) AutoRetryEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.autoRetryEnabled
}

// AutoCompactionEnabled reports whether compaction runs automatically
// before a turn that would overflow the context window.
func (a *Agent) AutoCompactionEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.compaction.Enabled
}

// PendingMessageCount reports how many steering and follow-up messages are
// queued but not yet drained into the conversation.
func (a *Agent) PendingMessageCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.steeringQueue) + len(a.followUpQueue)
}

// SetSystemPrompt replaces the system prompt. Synchronous; takes effect on
// the next turn.
func (a *Agent) SetSystemPrompt(prompt string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.systemPrompt = prompt
}

// SetModel switches the active model, re-resolving its provider.
func (a *Agent) SetModel(model string) error {
	p, err := a.resolveProvider(model)
	if err != nil {
		return fmt.Errorf("agent: resolve provider for model %q: %w", model, err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model = model
	a.activeProvider = p
	return nil
}

// SetThinkingLevel sets the active thinking/reasoning effort level.
func (a *Agent) SetThinkingLevel(level string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.thinkingLevel = level
}

// SetTools replaces the tool registry available to the next turn.
func (a *Agent) SetTools(tools *tool.Registry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tools = tools
}

// ReplaceMessages overwrites the whole history (used by fork/switch).
func (a *Agent) ReplaceMessages(messages []message.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append([]message.Message(nil), messages...)
}

// AppendMessage appends a single message without entering a turn (used
// when replaying persisted entries on session open).
func (a *Agent) AppendMessage(m message.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, m)
}

// ClearMessages empties the history.
func (a *Agent) ClearMessages() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = nil
}

// SetAutoRetryEnabled toggles the auto-retry policy.
func (a *Agent) SetAutoRetryEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.autoRetryEnabled = enabled
}

// SetAutoCompactionEnabled toggles the auto-compaction policy.
func (a *Agent) SetAutoCompactionEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.compaction.Enabled = enabled
}

// SetFollowUpMode changes how queued follow-up messages are drained.
func (a *Agent) SetFollowUpMode(mode FollowUpMode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.followUpMode = mode
}

// AbortRetry cancels a pending auto-retry delay, if one is in flight.
func (a *Agent) AbortRetry() {
	a.mu.Lock()
	cancel := a.retryCancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Prompt appends a user message and runs the turn loop. It fails if the
// agent is not idle.
func (a *Agent) Prompt(ctx context.Context, text string) error {
	a.mu.Lock()
	if a.status != StatusIdle {
		a.mu.Unlock()
		return fmt.Errorf("agent: prompt called while not idle (status=%s)", a.status)
	}
	a.messages = append(a.messages, message.NewUserMessage(text, time.Now()))
	a.mu.Unlock()
	return a.runTurns(ctx)
}

// Continue re-enters the loop without appending a user message. It fails
// if the agent is not idle, or the last history entry is an assistant
// message (nothing new for the model to respond to).
func (a *Agent) Continue(ctx context.Context) error {
	a.mu.Lock()
	if a.status != StatusIdle {
		a.mu.Unlock()
		return fmt.Errorf("agent: continue called while not idle (status=%s)", a.status)
	}
	if n := len(a.messages); n > 0 && a.messages[n-1].Role == message.RoleAssistant {
		a.mu.Unlock()
		return fmt.Errorf("agent: continue called with no new input since the last assistant turn")
	}
	a.mu.Unlock()
	return a.runTurns(ctx)
}

// Steer enqueues a message to be spliced into history at the next
// steering drain point. It never fails.
func (a *Agent) Steer(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.steeringQueue = append(a.steeringQueue, message.NewUserMessage(text, time.Now()))
}

// FollowUp enqueues a message with "after current turn" semantics (unless
// followUpMode is interrupt, in which case it behaves like Steer).
func (a *Agent) FollowUp(text string) {
	a.mu.Lock()
	mode := a.followUpMode
	a.mu.Unlock()
	if mode == FollowUpInterrupt {
		a.Steer(text)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.followUpQueue = append(a.followUpQueue, message.NewUserMessage(text, time.Now()))
}

// Abort cancels the current provider stream and all running tools. The
// in-flight assistant message, if any, ends with stopReason=aborted.
func (a *Agent) Abort() {
	a.mu.Lock()
	cancel := a.turnCancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (a *Agent) steeringPending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.steeringQueue) > 0
}

func (a *Agent) drainSteering() []message.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	drained := a.steeringQueue
	a.steeringQueue = nil
	return drained
}

func (a *Agent) drainFollowUp() []message.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	drained := a.followUpQueue
	a.followUpQueue = nil
	return drained
}

func (a *Agent) appendAll(batch []message.Message) {
	if len(batch) == 0 {
		return
	}
	a.mu.Lock()
	a.messages = append(a.messages, batch...)
	a.mu.Unlock()
	for i := range batch {
		a.emit(Event{Type: EventMessageStart, Message: &batch[i]})
		a.emit(Event{Type: EventMessageEnd, Message: &batch[i]})
	}
}

// runTurns runs turnStart..turnEnd repeatedly, draining the follow-up
// queue after each natural turn end, until the queue is empty.
func (a *Agent) runTurns(ctx context.Context) error {
	a.emit(Event{Type: EventAgentStart})
	defer a.emit(Event{Type: EventAgentEnd})

	for {
		if err := a.runOneTurn(ctx); err != nil {
			return err
		}
		drained := a.drainFollowUp()
		if len(drained) == 0 {
			return nil
		}
		a.appendAll(drained)
	}
}

func (a *Agent) runOneTurn(ctx context.Context) error {
	a.appendAll(a.drainSteering())

	a.setStatus(StatusStreaming)
	a.emit(Event{Type: EventTurnStart})
	defer a.emit(Event{Type: EventTurnEnd})

	turnCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.turnCancel = cancel
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.turnCancel = nil
		a.mu.Unlock()
		cancel()
	}()

	var recentCalls []string
	for round := 0; round < MaxToolRounds; round++ {
		a.maybeCompact(turnCtx)
		a.injectRecitation(round)

		assistant, err := a.streamOneMessage(turnCtx)
		if err != nil {
			if turnCtx.Err() != nil {
				a.mu.Lock()
				aborted := message.NewAssistantMessage(nil, a.targetAPI, a.activeProvider.Name(), a.model, message.Usage{}, message.StopAborted, "aborted", time.Now())
				a.messages = append(a.messages, aborted)
				a.mu.Unlock()
				a.emit(Event{Type: EventMessageStart, Message: &aborted})
				a.emit(Event{Type: EventMessageEnd, Message: &aborted})
				a.setStatus(StatusIdle)
				return nil // aborted: exit immediately, no tool execution
			}
			return err
		}

		if assistant.StopReason == message.StopAborted {
			a.setStatus(StatusIdle)
			return nil
		}

		calls := assistant.ToolCalls()
		if len(calls) == 0 {
			a.setStatus(StatusIdle)
			return nil
		}

		a.setStatus(StatusExecutingTools)
		results := a.runToolBatch(turnCtx, calls)
		a.appendToolResults(results)

		for _, c := range calls {
			recentCalls = append(recentCalls, c.ToolCallName+string(c.Arguments))
		}
		warnOnRepeatedCalls(recentCalls, results)

		// Steering messages queued while tools were running get spliced in
		// here, between tool-call batches within the same turn.
		if steered := a.drainSteering(); len(steered) > 0 {
			a.appendAll(steered)
		}
		a.setStatus(StatusStreaming)
	}

	return a.finalizeOverLimit(turnCtx)
}

func (a *Agent) setStatus(s Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

// finalizeOverLimit forces one last tools-disabled call once MaxToolRounds
// is exhausted, matching ProcessTurn's limit handling.
func (a *Agent) finalizeOverLimit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		a.setStatus(StatusIdle)
		return nil
	}
	limit := message.NewUserMessage(
		"You have exhausted your tool call limit for this turn. Respond in text only. Summarize what you accomplished and what remains.",
		time.Now(),
	)
	a.appendAll([]message.Message{limit})

	assistant, err := a.streamOneMessageWithTools(ctx, nil)
	if err != nil {
		a.setStatus(StatusIdle)
		return fmt.Errorf("agent: final text-only call failed: %w", err)
	}
	_ = assistant
	a.setStatus(StatusIdle)
	return nil
}

// warnOnRepeatedCalls appends a system-reminder to the last tool result
// when the same (name, args) pair has been called three times running, in
// the same spirit as internal/llm/loop.go's repeated-call detector.
func warnOnRepeatedCalls(recent []string, results []message.Message) {
	if len(recent) < 3 || len(results) == 0 {
		return
	}
	last3 := recent[len(recent)-3:]
	if last3[0] != last3[1] || last3[1] != last3[2] {
		return
	}
	last := &results[len(results)-1]
	warn := message.TextBlock("\n\n<system-reminder>WARNING: You are repeating the same tool call with the same arguments. This is wasteful. Stop and either try a different approach, summarize what you know, or ask the user for help.</system-reminder>")
	last.Blocks = append(last.Blocks, warn)
}

func (a *Agent) runToolBatch(ctx context.Context, calls []message.Block) []message.Message {
	toolCalls := make([]tool.Call, len(calls))
	for i, c := range calls {
		toolCalls[i] = tool.Call{ID: c.ToolCallID, Name: c.ToolCallName, Arguments: c.Arguments}
	}
	a.mu.Lock()
	reg := a.tools
	a.mu.Unlock()

	onStart := func(c tool.Call) {
		a.emit(Event{Type: EventToolExecutionStart, ToolCallID: c.ID, ToolName: c.Name})
	}
	onUpdate := func(u tool.UpdateEvent) {
		a.emit(Event{Type: EventToolExecutionUpdate, ToolCallID: u.ToolCallID, Partial: u.Partial})
	}
	results := tool.Run(ctx, reg, toolCalls, a.steeringPending, onStart, onUpdate)
	for i := range results {
		a.emit(Event{Type: EventToolExecutionEnd, Message: &results[i]})
	}
	return results
}

func (a *Agent) appendToolResults(results []message.Message) {
	a.mu.Lock()
	a.messages = append(a.messages, results...)
	a.mu.Unlock()
	for i := range results {
		a.emit(Event{Type: EventMessageStart, Message: &results[i]})
		a.emit(Event{Type: EventMessageEnd, Message: &results[i]})
	}
}

func (a *Agent) injectRecitation(round int) {
	if round == 0 || round%reminderInterval != 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var reminder string
	for _, m := range a.messages {
		if m.Role == message.RoleUser {
			reminder = "The user's request: " + m.Text()
			break
		}
	}
	if reminder == "" {
		return
	}
	tag := "\n\n<system-reminder>\n"
	for i := len(a.messages) - 1; i >= 0; i-- {
		if a.messages[i].Role != message.RoleToolResult {
			continue
		}
		// Append (and de-duplicate) the reminder on the last text block,
		// creating one if none exists.
		idx := -1
		for j, b := range a.messages[i].Blocks {
			if b.Type == message.BlockText {
				idx = j
			}
		}
		if idx == -1 {
			a.messages[i].Blocks = append(a.messages[i].Blocks, message.TextBlock(""))
			idx = len(a.messages[i].Blocks) - 1
		}
		text := a.messages[i].Blocks[idx].Text
		if cut := indexOf(text, tag); cut >= 0 {
			text = text[:cut]
		}
		a.messages[i].Blocks[idx].Text = text + tag + reminder + "\n</system-reminder>"
		return
	}
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// maybeCompact triggers compaction before a turn if predicted tokens
// exceed contextWindow * threshold, or unconditionally if the agent's last
// error was a context-overflow (forced compaction).
func (a *Agent) maybeCompact(ctx context.Context) {
	a.mu.Lock()
	enabled := a.compaction.Enabled
	compactFn := a.compact
	estimate := a.estimateTokens
	contextWindow := a.contextWindow
	threshold := a.compaction.Threshold
	forced := a.lastErr != nil && provider.IsContextOverflow(a.lastErr.Error())
	messages := append([]message.Message(nil), a.messages...)
	model := a.model
	a.mu.Unlock()

	if !enabled || compactFn == nil {
		return
	}
	if threshold == 0 {
		threshold = 0.85
	}
	predicted := 0
	if estimate != nil {
		predicted = estimate(messages, model)
	}
	safetyMargin := 1024
	if !forced && contextWindow > 0 && float64(predicted+safetyMargin) <= float64(contextWindow)*threshold {
		return
	}
	if err := compactFn(ctx, ""); err != nil {
		log.Warn().Err(err).Msg("agent: auto-compaction failed")
	}
}
