package session

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xonecas/symb/internal/agentcore/message"
)

// ExportToHtml renders the active branch's user/assistant messages as a
// minimal static HTML transcript. outputPath defaults to the session log's
// path with its extension replaced by .html.
func (as *AgentSession) ExportToHtml(outputPath string) (string, error) {
	if outputPath == "" {
		sessionPath := as.store.Path()
		if sessionPath == "" {
			return "", fmt.Errorf("session: export: no outputPath for an in-memory session")
		}
		outputPath = strings.TrimSuffix(sessionPath, filepath.Ext(sessionPath)) + ".html"
	}

	var sb strings.Builder
	sb.WriteString("<!doctype html>\n<html><head><meta charset=\"utf-8\"><title>session transcript</title>")
	sb.WriteString("<style>body{font-family:monospace;max-width:60rem;margin:2rem auto}.user{color:#225}.assistant{color:#252}pre{white-space:pre-wrap}</style>")
	sb.WriteString("</head><body>\n")

	for _, m := range as.agent.Messages() {
		cls, label := "", ""
		switch m.Role {
		case message.RoleUser:
			cls, label = "user", "user"
		case message.RoleAssistant:
			cls, label = "assistant", "assistant"
		default:
			continue
		}
		fmt.Fprintf(&sb, "<div class=%q><b>%s</b> <small>%s</small><pre>%s</pre></div>\n",
			cls, label, m.Timestamp.Format(time.RFC3339), html.EscapeString(m.Text()))
	}

	sb.WriteString("</body></html>\n")
	if err := os.WriteFile(outputPath, []byte(sb.String()), 0o640); err != nil {
		return "", fmt.Errorf("session: export to html: %w", err)
	}
	return outputPath, nil
}
