package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// SlashCommand is a file-based or built-in command a prompt beginning with
// "/" may match, mirroring the teacher's modal command dispatch in
// internal/tui/update_modals.go but generalized away from bubbletea.
type SlashCommand struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Handler     func(ctx context.Context, as *AgentSession, args string) error `json:"-"`
}

// builtinSlashCommands are always available regardless of front-end.
var builtinSlashCommands = map[string]SlashCommand{
	"compact": {
		Name:        "compact",
		Description: "summarize history and collapse it to free up context",
		Handler: func(ctx context.Context, as *AgentSession, args string) error {
			_, err := as.Compact(ctx, args)
			return err
		},
	},
	"new": {
		Name:        "new",
		Description: "start a new, empty session",
		Handler: func(ctx context.Context, as *AgentSession, args string) error {
			return as.NewSession()
		},
	},
}

// GetCommands lists the built-in slash commands available to this session,
// sorted by name, for a front-end to render as a picker.
func (as *AgentSession) GetCommands() []SlashCommand {
	out := make([]SlashCommand, 0, len(builtinSlashCommands))
	for _, cmd := range builtinSlashCommands {
		out = append(out, SlashCommand{Name: cmd.Name, Description: cmd.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// expandSlashCommand matches text against the built-in commands only;
// hook-registered commands, file-based commands and prompt templates are
// not consulted, and any unmatched text is sent as a literal prompt.
// handled reports whether the command
// ran a handler directly (no prompt should be sent); otherwise expanded is
// the text to send as the prompt (possibly rewritten by a hook).
func (as *AgentSession) expandSlashCommand(ctx context.Context, text string) (expanded string, handled bool, err error) {
	if !strings.HasPrefix(text, "/") {
		return text, false, nil
	}
	name, args, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	name = strings.TrimSpace(name)
	args = strings.TrimSpace(args)

	if cmd, ok := builtinSlashCommands[name]; ok {
		if cmd.Handler == nil {
			return text, false, nil
		}
		if err := cmd.Handler(ctx, as, args); err != nil {
			return "", false, fmt.Errorf("session: slash command %q: %w", name, err)
		}
		return "", true, nil
	}

	return text, false, nil
}
