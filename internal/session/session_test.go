package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/xonecas/symb/internal/agentcore/message"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	agentDir := t.TempDir()
	s, err := Create(agentDir, "/work/project", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, agentDir
}

func TestCreateThenAppendMessageAdvancesLeaf(t *testing.T) {
	s, _ := newTestStore(t)

	e, err := s.AppendMessage(message.NewUserMessage("hi", time.Now()))
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if s.Leaf() != e.ID {
		t.Fatalf("leaf = %q, want %q", s.Leaf(), e.ID)
	}

	ctx := s.BuildContext()
	if len(ctx.Messages) != 1 || ctx.Messages[0].Text() != "hi" {
		t.Fatalf("unexpected context: %+v", ctx)
	}
}

func TestOpenReconstructsTreeAndLeafPointer(t *testing.T) {
	s, agentDir := newTestStore(t)
	path := s.Path()

	if _, err := s.AppendMessage(message.NewUserMessage("first", time.Now())); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := s.AppendModelChange("anthropic", "claude-x"); err != nil {
		t.Fatalf("AppendModelChange: %v", err)
	}
	wantLeaf := s.Leaf()
	s.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	if reopened.Leaf() != wantLeaf {
		t.Fatalf("leaf after reopen = %q, want %q", reopened.Leaf(), wantLeaf)
	}
	ctx := reopened.BuildContext()
	if len(ctx.Messages) != 1 || ctx.Messages[0].Text() != "first" {
		t.Fatalf("unexpected context after reopen: %+v", ctx)
	}
	if ctx.Model != "claude-x" {
		t.Fatalf("model after reopen = %q, want claude-x", ctx.Model)
	}

	infos, err := List(agentDir, "/work/project", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 || infos[0].Path != path {
		t.Fatalf("unexpected listing: %+v", infos)
	}
}

func TestSecondOpenWhileLockedFails(t *testing.T) {
	s, _ := newTestStore(t)
	path := s.Path()

	if _, err := Open(path); err == nil {
		t.Fatal("expected second Open to fail while the first holds the lock")
	}
}

func TestModelChangeAndThinkingLevelProjectLastOnPath(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.AppendModelChange("anthropic", "claude-a"); err != nil {
		t.Fatalf("AppendModelChange: %v", err)
	}
	if _, err := s.AppendThinkingLevel("low"); err != nil {
		t.Fatalf("AppendThinkingLevel: %v", err)
	}
	if _, err := s.AppendModelChange("anthropic", "claude-b"); err != nil {
		t.Fatalf("AppendModelChange: %v", err)
	}

	ctx := s.BuildContext()
	if ctx.Model != "claude-b" {
		t.Fatalf("model = %q, want claude-b (last modelChange on path)", ctx.Model)
	}
	if ctx.ThinkingLevel != "low" {
		t.Fatalf("thinkingLevel = %q, want low", ctx.ThinkingLevel)
	}
}

func TestForkBranchesOffAnEarlierEntryWithoutMutatingIt(t *testing.T) {
	s, _ := newTestStore(t)

	first, err := s.AppendMessage(message.NewUserMessage("root question", time.Now()))
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := s.AppendMessage(message.NewUserMessage("original follow-up", time.Now())); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	forked, err := s.Fork(first.ID, message.NewUserMessage("alternate follow-up", time.Now()))
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if forked.ParentID != first.ID {
		t.Fatalf("forked parent = %q, want %q", forked.ParentID, first.ID)
	}
	if s.Leaf() != forked.ID {
		t.Fatalf("leaf after fork = %q, want the new branch's tip", s.Leaf())
	}

	ctx := s.BuildContext()
	if len(ctx.Messages) != 2 || ctx.Messages[1].Text() != "alternate follow-up" {
		t.Fatalf("unexpected context after fork: %+v", ctx)
	}

	original, ok := s.Entry(first.ID)
	if !ok || original.Message.Text() != "root question" {
		t.Fatalf("fork must not mutate the entry it branched from: %+v", original)
	}
}

func TestCompactCollapsesPriorHistoryIntoSummary(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.AppendMessage(message.NewUserMessage("long ago", time.Now())); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	before, err := s.AppendMessage(message.NewUserMessage("more history", time.Now()))
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	if _, err := s.Compact("summary of everything so far", before.ID, 12345, nil); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if _, err := s.AppendMessage(message.NewUserMessage("new question after compaction", time.Now())); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	ctx := s.BuildContext()
	if len(ctx.Messages) != 2 {
		t.Fatalf("expected summary + new question, got %d: %+v", len(ctx.Messages), ctx.Messages)
	}
	if ctx.Messages[0].Text() != "summary of everything so far" {
		t.Fatalf("unexpected summary message: %+v", ctx.Messages[0])
	}
	if ctx.Messages[1].Text() != "new question after compaction" {
		t.Fatalf("unexpected post-compaction message: %+v", ctx.Messages[1])
	}
}

func TestInMemoryStoreNeverTouchesDisk(t *testing.T) {
	s := InMemory("/work/project")
	if s.Path() != "" {
		t.Fatalf("expected empty path for in-memory store, got %q", s.Path())
	}
	if _, err := s.AppendMessage(message.NewUserMessage("scratch", time.Now())); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestListOnMissingDirectoryReturnsEmpty(t *testing.T) {
	agentDir := t.TempDir()
	infos, err := List(agentDir, filepath.Join("/nowhere", "never-opened"), "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("expected no sessions, got %+v", infos)
	}
}
