package provider

import "strings"

// overflowPhrases are the known context-window-exceeded error substrings
// across provider families, in the same style as the 429/"Try again in N
// seconds" sniffing opencode.go and zen.go do for rate limits.
var overflowPhrases = []string{
	"context_length_exceeded",
	"maximum context length",
	"prompt is too long",
	"input length and `max_tokens` exceed",
	"request too large",
	"exceeds the maximum number of tokens",
	"context window",
}

// IsContextOverflow inspects an assistant message's error text for the
// known per-provider overflow phrasing. The agent loop uses this to
// trigger forced compaction instead of a bare retry.
func IsContextOverflow(errorMessage string) bool {
	if errorMessage == "" {
		return false
	}
	lower := strings.ToLower(errorMessage)
	for _, phrase := range overflowPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
