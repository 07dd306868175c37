// Package session implements the append-only, parented-entry log that
// backs a conversation: one JSONL file per session, a companion pointer
// file naming the active leaf, and in-memory tree reconstruction on open.
// It replaces internal/store's SQLite-linear Session* functions, which
// cannot represent a forest of branches without a schema rewrite.
package session

import (
	"bufio"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xonecas/symb/internal/agentcore/message"
)

// EntryType identifies the kind of a session log entry.
type EntryType string

const (
	EntryMessage       EntryType = "message"
	EntryModelChange   EntryType = "modelChange"
	EntryThinkingLevel EntryType = "thinkingLevel"
	EntryCompaction    EntryType = "compaction"
	EntryBranchSummary EntryType = "branchSummary"
	EntryCustom        EntryType = "custom"
	EntryCustomMessage EntryType = "customMessage"
	EntryLabel         EntryType = "label"
	EntrySessionInfo   EntryType = "sessionInfo"
)

// Entry is one line of a session's JSONL log. Only the fields relevant to
// Type are populated, in the same flat-tagged-union style as message.Block.
type Entry struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parentId,omitempty"` // "" marks a root entry
	Timestamp time.Time `json:"timestamp"`
	Type      EntryType `json:"type"`

	// EntryMessage
	Message *message.Message `json:"message,omitempty"`

	// EntryModelChange
	Provider string `json:"provider,omitempty"`
	ModelID  string `json:"modelId,omitempty"`

	// EntryThinkingLevel
	ThinkingLevel string `json:"thinkingLevel,omitempty"`

	// EntryCompaction
	Summary          string          `json:"summary,omitempty"`
	FirstKeptEntryID string          `json:"firstKeptEntryId,omitempty"`
	TokensBefore     int             `json:"tokensBefore,omitempty"`
	Details          json.RawMessage `json:"details,omitempty"`

	// EntryCustom
	CustomType string          `json:"customType,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`

	// EntryCustomMessage
	Role    string          `json:"role,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// EntryLabel
	Label string `json:"label,omitempty"`

	// EntrySessionInfo
	Name string `json:"name,omitempty"`
}

// Store is one session's append-only log plus the in-memory tree built
// from it. A nil file/lock means the store is in-memory only.
type Store struct {
	id       string
	path     string // "" for in-memory stores
	file     *os.File
	lock     *fileLock
	inMemory bool

	entries  map[string]Entry
	children map[string][]string
	roots    []string
	leaf     string
}

// ID returns the session id (the log file's base name without extension,
// or a generated id for an in-memory store).
func (s *Store) ID() string { return s.id }

// Path returns the session log file's path, or "" for an in-memory store.
func (s *Store) Path() string { return s.path }

// Leaf returns the active leaf entry id, or "" for an empty session.
func (s *Store) Leaf() string { return s.leaf }

// SetLeaf rewinds the active leaf to an earlier entry without appending
// anything, e.g. so a caller can let a user re-edit an earlier message:
// the next append simply grows a new child under entryID, leaving the
// abandoned branch intact but unreachable from the new leaf.
func (s *Store) SetLeaf(entryID string) error {
	if _, ok := s.entries[entryID]; !ok {
		return fmt.Errorf("session: set leaf: unknown entry %q", entryID)
	}
	s.leaf = entryID
	return s.writeLeafPointer()
}

// newEntryID returns a sortable-by-generation, globally unique entry id:
// a nanosecond timestamp prefix (for rough ordering; readers must not
// assume it is strictly monotonic, per clock jitter across processes)
// followed by random bytes (for uniqueness when two entries land in the
// same nanosecond).
func newEntryID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%020d-%s", time.Now().UnixNano(), hex.EncodeToString(b[:]))
}

// sessionsDir returns <agentDir>/sessions/<hashOfCwd>.
func sessionsDir(agentDir, cwd string) string {
	sum := sha256.Sum256([]byte(cwd))
	return filepath.Join(agentDir, "sessions", hex.EncodeToString(sum[:])[:16])
}

func leafPointerPath(logPath string) string {
	return strings.TrimSuffix(logPath, ".jsonl") + ".leaf"
}

// Create starts a brand-new, empty session under agentDir for cwd.
// dirOverride, if non-empty, replaces the computed sessions directory
// (used by tests and by an explicit --session-dir flag).
func Create(agentDir, cwd, dirOverride string) (*Store, error) {
	dir := dirOverride
	if dir == "" {
		dir = sessionsDir(agentDir, cwd)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("session: create dir: %w", err)
	}
	id := newEntryID()
	path := filepath.Join(dir, id+".jsonl")
	return openForWrite(path)
}

// ContinueRecent resolves the most-recently-modified session for cwd and
// opens it.
func ContinueRecent(agentDir, cwd, dirOverride string) (*Store, error) {
	dir := dirOverride
	if dir == "" {
		dir = sessionsDir(agentDir, cwd)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("session: no sessions for this directory: %w", err)
	}
	var best string
	var bestMod time.Time
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best = filepath.Join(dir, e.Name())
			bestMod = info.ModTime()
		}
	}
	if best == "" {
		return nil, fmt.Errorf("session: no sessions for this directory")
	}
	return Open(best)
}

// Open loads an existing session log from an explicit path, takes the
// exclusive writer lock, and reconstructs the entry tree.
func Open(path string) (*Store, error) {
	return openForWrite(path)
}

func openForWrite(path string) (*Store, error) {
	lock, err := acquireLock(path)
	if err != nil {
		return nil, err
	}
	s := &Store{
		id:       strings.TrimSuffix(filepath.Base(path), ".jsonl"),
		path:     path,
		lock:     lock,
		entries:  make(map[string]Entry),
		children: make(map[string][]string),
	}
	if err := s.loadExisting(); err != nil {
		lock.release()
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		lock.release()
		return nil, fmt.Errorf("session: open log for append: %w", err)
	}
	s.file = f
	return s, nil
}

// InMemory returns a Store with the same API that never touches disk,
// for scripted tests and ephemeral/dry-run sessions.
func InMemory(cwd string) *Store {
	return &Store{
		id:       newEntryID(),
		inMemory: true,
		entries:  make(map[string]Entry),
		children: make(map[string][]string),
	}
}

func (s *Store) loadExisting() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("session: read log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue // a torn trailing write is tolerated; it just never linked in
		}
		s.index(e)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("session: scan log: %w", err)
	}

	if leaf, err := os.ReadFile(leafPointerPath(s.path)); err == nil {
		s.leaf = strings.TrimSpace(string(leaf))
	} else if len(s.roots) > 0 {
		s.leaf = s.lastByID()
	}
	return nil
}

func (s *Store) index(e Entry) {
	s.entries[e.ID] = e
	if e.ParentID == "" {
		s.roots = append(s.roots, e.ID)
	} else {
		s.children[e.ParentID] = append(s.children[e.ParentID], e.ID)
	}
}

// lastByID falls back to "the entry with the lexicographically greatest
// id" when no leaf pointer file exists, matching newEntryID's
// timestamp-prefixed ordering for a linear (unforked) session.
func (s *Store) lastByID() string {
	var last string
	for id := range s.entries {
		if id > last {
			last = id
		}
	}
	return last
}

func (s *Store) writeLeafPointer() error {
	if s.inMemory {
		return nil
	}
	return os.WriteFile(leafPointerPath(s.path), []byte(s.leaf), 0o640)
}

// append writes e as the next JSONL line, advances the leaf, and flushes.
func (s *Store) append(e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = newEntryID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.ParentID == "" {
		e.ParentID = s.leaf
	}
	s.index(e)
	s.leaf = e.ID

	if s.inMemory {
		return e, nil
	}
	line, err := json.Marshal(e)
	if err != nil {
		return e, fmt.Errorf("session: marshal entry: %w", err)
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return e, fmt.Errorf("session: append entry: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return e, fmt.Errorf("session: sync entry: %w", err)
	}
	if err := s.writeLeafPointer(); err != nil {
		return e, fmt.Errorf("session: write leaf pointer: %w", err)
	}
	return e, nil
}

// AppendMessage appends a conversation message as a child of the current
// leaf.
func (s *Store) AppendMessage(m message.Message) (Entry, error) {
	return s.append(Entry{Type: EntryMessage, Message: &m, Timestamp: m.Timestamp})
}

// AppendModelChange records a model switch on the active branch.
func (s *Store) AppendModelChange(provider, modelID string) (Entry, error) {
	return s.append(Entry{Type: EntryModelChange, Provider: provider, ModelID: modelID})
}

// AppendThinkingLevel records a thinking-level change on the active branch.
func (s *Store) AppendThinkingLevel(level string) (Entry, error) {
	return s.append(Entry{Type: EntryThinkingLevel, ThinkingLevel: level})
}

// AppendBranchSummary names the current branch for tree-view display.
func (s *Store) AppendBranchSummary(summary string) (Entry, error) {
	return s.append(Entry{Type: EntryBranchSummary, Summary: summary})
}

// AppendCustom appends an opaque custom entry (e.g. a hook's side
// annotation) that carries no conversational content of its own.
func (s *Store) AppendCustom(customType string, data json.RawMessage) (Entry, error) {
	return s.append(Entry{Type: EntryCustom, CustomType: customType, Data: data})
}

// AppendCustomMessage appends a custom message entry (e.g. a bash-execution
// transcript). BuildContext returns it as a custom message; the transformer
// turns such a message into a wire message only when given a
// CustomConverter, and the agent loop supplies none.
func (s *Store) AppendCustomMessage(role string, payload json.RawMessage) (Entry, error) {
	return s.append(Entry{Type: EntryCustomMessage, Role: role, Payload: payload})
}

// AppendLabel attaches a display label to the active branch's leaf.
func (s *Store) AppendLabel(label string) (Entry, error) {
	return s.append(Entry{Type: EntryLabel, Label: label})
}

// AppendSessionInfo records a session display name.
func (s *Store) AppendSessionInfo(name string) (Entry, error) {
	return s.append(Entry{Type: EntrySessionInfo, Name: name})
}

// CompactResult reports what a compaction produced.
type CompactResult struct {
	Summary          string
	FirstKeptEntryID string
	TokensBefore     int
}

// Compact records a compaction entry as the new leaf. The active branch's
// history up to and including this entry collapses, on the next context
// build, to a single synthetic user message carrying summary; the new
// leaf becomes this entry, so every later append builds a fresh chain
// under it rather than under the now-summarized prefix.
func (s *Store) Compact(summary string, firstKeptEntryID string, tokensBefore int, details json.RawMessage) (CompactResult, error) {
	_, err := s.append(Entry{
		Type:             EntryCompaction,
		Summary:          summary,
		FirstKeptEntryID: firstKeptEntryID,
		TokensBefore:     tokensBefore,
		Details:          details,
	})
	if err != nil {
		return CompactResult{}, err
	}
	return CompactResult{Summary: summary, FirstKeptEntryID: firstKeptEntryID, TokensBefore: tokensBefore}, nil
}

// Fork creates a new message entry whose parent is entryID (not
// necessarily the current leaf) and advances the leaf to it. The former
// branch remains present in the file, just unreachable from the new leaf.
func (s *Store) Fork(entryID string, newUserMsg message.Message) (Entry, error) {
	if _, ok := s.entries[entryID]; !ok {
		return Entry{}, fmt.Errorf("session: fork: unknown entry %q", entryID)
	}
	return s.append(Entry{Type: EntryMessage, ParentID: entryID, Message: &newUserMsg, Timestamp: newUserMsg.Timestamp})
}

// Context is what buildSessionContext yields: the ordered messages on the
// path from root to the active leaf, and the model/thinking level in
// effect there. Callers still run the messages through
// internal/agentcore/transform before sending them to a provider.
type Context struct {
	Messages      []message.Message
	Provider      string
	Model         string
	ThinkingLevel string
}

// BuildContext walks from root to the active leaf, collecting messages in
// order and projecting the last modelChange/thinkingLevel entries seen
// along the way. A compaction entry on the path resets the accumulated
// messages to a single synthetic user message carrying its summary,
// since everything before it is considered summarized away.
func (s *Store) BuildContext() Context {
	path := s.pathToLeaf()
	var ctx Context
	for _, id := range path {
		e := s.entries[id]
		switch e.Type {
		case EntryMessage:
			if e.Message != nil {
				ctx.Messages = append(ctx.Messages, *e.Message)
			}
		case EntryModelChange:
			ctx.Provider = e.Provider
			ctx.Model = e.ModelID
		case EntryThinkingLevel:
			ctx.ThinkingLevel = e.ThinkingLevel
		case EntryCompaction:
			ctx.Messages = []message.Message{message.NewUserMessage(e.Summary, e.Timestamp)}
		case EntryCustomMessage:
			ctx.Messages = append(ctx.Messages, message.NewCustomMessage(e.Role, e.Payload, e.Timestamp))
		}
	}
	return ctx
}

// pathToLeaf walks parent pointers from the active leaf back to its root
// and returns the ids in root-to-leaf order.
func (s *Store) pathToLeaf() []string {
	if s.leaf == "" {
		return nil
	}
	var reversed []string
	for id := s.leaf; id != ""; {
		reversed = append(reversed, id)
		e, ok := s.entries[id]
		if !ok {
			break
		}
		id = e.ParentID
	}
	out := make([]string, len(reversed))
	for i, id := range reversed {
		out[i] = reversed[len(reversed)-1-i]
	}
	return out
}

// Entry looks up a single entry by id.
func (s *Store) Entry(id string) (Entry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

// Close releases the writer lock and the open file handle, if any.
func (s *Store) Close() error {
	if s.inMemory {
		return nil
	}
	var err error
	if s.file != nil {
		err = s.file.Close()
	}
	s.lock.release()
	return err
}

// Info summarizes one session for listing UIs.
type Info struct {
	Path            string
	ID              string
	Created         time.Time
	Modified        time.Time
	MessageCount    int
	FirstMessage    string
	AllMessagesText string
}

// List enumerates every session under agentDir for cwd.
func List(agentDir, cwd, dirOverride string) ([]Info, error) {
	dir := dirOverride
	if dir == "" {
		dir = sessionsDir(agentDir, cwd)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: list: %w", err)
	}

	var out []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		info, err := summarize(path)
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Modified.After(out[j].Modified) })
	return out, nil
}

func summarize(path string) (Info, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return Info{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	info := Info{
		Path:     path,
		ID:       strings.TrimSuffix(filepath.Base(path), ".jsonl"),
		Modified: stat.ModTime(),
	}

	var sb strings.Builder
	first := true
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if info.Created.IsZero() {
			info.Created = e.Timestamp
		}
		if e.Type != EntryMessage || e.Message == nil {
			continue
		}
		info.MessageCount++
		text := e.Message.Text()
		sb.WriteString(text)
		sb.WriteString("\n")
		if first && e.Message.Role == message.RoleUser {
			info.FirstMessage = text
			first = false
		}
	}
	info.AllMessagesText = sb.String()
	return info, nil
}
