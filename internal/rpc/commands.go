package rpc

import (
	"context"
	"fmt"

	"github.com/xonecas/symb/internal/agentcore/agent"
)

// handleSync runs every RPC command except prompt/steer/follow_up/bash,
// which dispatch() handles directly since those either return immediately
// without blocking (steer, follow_up) or must respond before their real
// work starts (prompt, bash).
func (s *Server) handleSync(ctx context.Context, req request) (any, error) {
	switch req.Type {
	case "abort":
		s.session.Abort()
		return nil, nil

	case "abort_bash":
		s.bashMu.Lock()
		cancel := s.bashCancel
		s.bashMu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil, nil

	case "abort_retry":
		s.session.AbortRetry()
		return nil, nil

	case "new_session":
		// parentSession is accepted but unused: this façade's NewSession
		// always opens a brand-new, unrelated store; there is no notion of
		// deriving a child session from a parent's history yet.
		if err := s.session.NewSession(); err != nil {
			return nil, err
		}
		return nil, nil

	case "switch_session":
		if err := s.session.SwitchSession(req.SessionPath); err != nil {
			return nil, err
		}
		return nil, nil

	case "get_state":
		return s.session.GetState(), nil

	case "set_session_name":
		if err := s.session.SetSessionName(req.Name); err != nil {
			return nil, err
		}
		return nil, nil

	case "set_model":
		if err := s.session.SetModel(req.Provider, req.ModelID); err != nil {
			return nil, err
		}
		return nil, nil

	case "cycle_model":
		if err := s.session.CycleModel(1); err != nil {
			return nil, err
		}
		return nil, nil

	case "get_available_models":
		return s.session.GetAvailableModels(), nil

	case "set_thinking_level":
		if err := s.session.SetThinkingLevel(req.Level); err != nil {
			return nil, err
		}
		return nil, nil

	case "cycle_thinking_level":
		if err := s.session.CycleThinkingLevel(); err != nil {
			return nil, err
		}
		return nil, nil

	case "set_steering_mode":
		s.session.SetSteeringMode(req.Mode)
		return nil, nil

	case "set_follow_up_mode":
		s.session.SetFollowUpMode(agent.FollowUpMode(req.Mode))
		return nil, nil

	case "compact":
		result, err := s.session.Compact(ctx, req.CustomInstructions)
		if err != nil {
			return nil, err
		}
		return result, nil

	case "set_auto_compaction":
		if req.Enabled == nil {
			return nil, fmt.Errorf("rpc: set_auto_compaction: enabled is required")
		}
		s.session.SetAutoCompactionEnabled(*req.Enabled)
		return nil, nil

	case "set_auto_retry":
		if req.Enabled == nil {
			return nil, fmt.Errorf("rpc: set_auto_retry: enabled is required")
		}
		s.session.SetAutoRetryEnabled(*req.Enabled)
		return nil, nil

	case "get_session_stats":
		return s.session.GetSessionStats(), nil

	case "export_html":
		path, err := s.session.ExportToHtml(req.OutputPath)
		if err != nil {
			return nil, err
		}
		return map[string]string{"path": path}, nil

	case "fork":
		result, err := s.session.Fork(req.EntryID)
		if err != nil {
			return nil, err
		}
		return result, nil

	case "get_fork_messages":
		return s.session.GetUserMessagesForForking(), nil

	case "get_last_assistant_text":
		return map[string]string{"text": s.session.GetLastAssistantText()}, nil

	case "get_messages":
		return s.session.GetMessages(), nil

	case "get_commands":
		return s.session.GetCommands(), nil

	case "hook_ui_response":
		// Accepted and acknowledged: nothing in this tree's hook runner can
		// originate a hook_ui_request to correlate this with (see
		// protocol.go's hookUIRequestEnvelope doc comment), so there is
		// never a pending delegation waiting on this reply.
		return nil, nil

	default:
		return nil, fmt.Errorf("rpc: unknown command %q", req.Type)
	}
}
