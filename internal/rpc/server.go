package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	agentsession "github.com/xonecas/symb/internal/agentcore/session"
)

// maxLineSize bounds one input line, matching the SSE scanner's token cap
// in the MCP client so a runaway or malformed line can't exhaust memory.
const maxLineSize = 2 * 1024 * 1024

// Server drives one AgentSession over line-delimited JSON on in/out,
// generalizing the MCP client's request/response envelope from an
// HTTP round trip to a standing stdin/stdout pipe: every input line is a
// command, every output line is a response or a session event.
type Server struct {
	session *agentsession.AgentSession

	in  *bufio.Scanner
	out io.Writer

	writeMu sync.Mutex
	wg      sync.WaitGroup

	bashMu     sync.Mutex
	bashCancel context.CancelFunc
}

// Wait blocks until every in-flight prompt/bash goroutine launched by
// dispatch has finished, so a caller can shut down cleanly once Run
// returns instead of racing a background command's final write.
func (s *Server) Wait() { s.wg.Wait() }

// NewServer wires a Server to drive session over in/out.
func NewServer(session *agentsession.AgentSession, in io.Reader, out io.Writer) *Server {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	s := &Server{session: session, in: scanner, out: out}
	session.Subscribe(s.onEvent)
	return s
}

func (s *Server) onEvent(e agentsession.Event) {
	s.writeLine(toWireEvent(e))
}

func (s *Server) writeLine(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Msg("rpc: failed to marshal output line")
		return
	}
	data = append(data, '\n')
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		log.Warn().Err(err).Msg("rpc: failed to write output line")
	}
}

// Run reads command lines from in until EOF, ctx is cancelled, or a read
// error occurs. It returns nil on a clean EOF.
func (s *Server) Run(ctx context.Context) error {
	for s.in.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := s.in.Bytes()
		if len(line) == 0 {
			continue
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeLine(response{Type: "response", Success: false, Error: fmt.Sprintf("rpc: malformed input line: %v", err)})
			continue
		}
		s.dispatch(ctx, req)
	}
	return s.in.Err()
}

func (s *Server) dispatch(ctx context.Context, req request) {
	switch req.Type {
	case "prompt":
		s.writeLine(ok(req.ID, req.Type, nil))
		s.wg.Add(1)
		go func() { defer s.wg.Done(); s.runPrompt(ctx, req, true) }()
	case "steer":
		s.session.Steer(req.Message)
		s.writeLine(ok(req.ID, req.Type, nil))
	case "follow_up":
		s.session.FollowUp(req.Message)
		s.writeLine(ok(req.ID, req.Type, nil))
	case "bash":
		s.writeLine(ok(req.ID, req.Type, nil))
		s.wg.Add(1)
		go func() { defer s.wg.Done(); s.runBash(ctx, req) }()
	default:
		data, err := s.handleSync(ctx, req)
		if err != nil {
			s.writeLine(fail(req.ID, req.Type, err))
			return
		}
		s.writeLine(ok(req.ID, req.Type, data))
	}
}

// runPrompt drives one prompt{message} through to completion.
// Agent.runTurns always emits agent_end even on error, so the event
// stream terminates correctly on its own whenever the turn loop actually
// started; this only needs to report a failure that happened before that,
// e.g. a context hook rejecting the prompt.
func (s *Server) runPrompt(ctx context.Context, req request, expandSlashCommands bool) {
	if err := s.session.Prompt(ctx, req.Message, expandSlashCommands); err != nil {
		s.writeLine(hookErrorEnvelope{Type: "hook_error", Event: "prompt", Error: err.Error()})
	}
}

func (s *Server) runBash(ctx context.Context, req request) {
	bashCtx, cancel := context.WithCancel(ctx)
	s.bashMu.Lock()
	s.bashCancel = cancel
	s.bashMu.Unlock()
	defer func() {
		s.bashMu.Lock()
		s.bashCancel = nil
		s.bashMu.Unlock()
		cancel()
	}()

	result, err := s.session.ExecuteBash(bashCtx, req.Command)
	if err != nil {
		s.writeLine(hookErrorEnvelope{Type: "hook_error", Event: "bash", Error: err.Error()})
		return
	}
	s.writeLine(bashResultEnvelope{Type: "bash_result", Result: result})
}

// bashResultEnvelope reports a completed bash{command} run. Not part of the
// core event-stream type list; it is the channel executeBash's result
// travels over since bash is handled asynchronously like prompt.
type bashResultEnvelope struct {
	Type   string                  `json:"type"`
	Result agentsession.BashResult `json:"result"`
}
