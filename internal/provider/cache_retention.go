package provider

import "os"

// CacheRetentionEnvVar is read on every CacheRetentionEnabled call; with
// PI_CACHE_RETENTION=long, AnthropicCacheRetentionTTL and
// OpenAIResponsesCacheRetention return hint values for official
// (first-party) endpoints only. No adapter in this package calls them, so
// no request body carries these hints.
const CacheRetentionEnvVar = "PI_CACHE_RETENTION"

// CacheRetentionLong is the only recognized value of CacheRetentionEnvVar.
const CacheRetentionLong = "long"

// CacheRetentionEnabled reports whether the process-wide cache-retention
// toggle is set.
func CacheRetentionEnabled() bool {
	return os.Getenv(CacheRetentionEnvVar) == CacheRetentionLong
}

// officialBaseURLs maps an API family to the first-party endpoint whose
// requests are eligible for cache-retention hints. A custom/proxy base URL
// (anything else) must not receive these hints.
var officialBaseURLs = map[string]string{
	"openai-responses":  "https://api.openai.com",
	"anthropic-messages": "https://api.anthropic.com",
}

// IsOfficialEndpoint reports whether baseURL is the first-party endpoint
// for the given API family.
func IsOfficialEndpoint(api, baseURL string) bool {
	official, ok := officialBaseURLs[api]
	return ok && baseURL == official
}

// AnthropicCacheRetentionTTL returns the cache_control.ttl value for
// Anthropic requests when retention is enabled and the endpoint is
// official.
func AnthropicCacheRetentionTTL(baseURL string) (string, bool) {
	if !CacheRetentionEnabled() || !IsOfficialEndpoint("anthropic-messages", baseURL) {
		return "", false
	}
	return "1h", true
}

// OpenAIResponsesCacheRetention returns the prompt_cache_retention value
// for OpenAI-Responses-style requests when retention is enabled and the
// endpoint is official.
func OpenAIResponsesCacheRetention(baseURL string) (string, bool) {
	if !CacheRetentionEnabled() || !IsOfficialEndpoint("openai-responses", baseURL) {
		return "", false
	}
	return "24h", true
}

// SessionForwarding holds the session-cache-key fields an adapter should
// attach to its request when the caller supplies a session id. OpenAI-
// Responses-style providers send prompt_cache_key; the same value doubles
// as a conversation/session header where the endpoint expects one.
type SessionForwarding struct {
	PromptCacheKey string
	ConversationID string
}

// NewSessionForwarding builds the forwarding fields for a given session id,
// or the zero value if sessionID is empty (no forwarding).
func NewSessionForwarding(sessionID string) SessionForwarding {
	if sessionID == "" {
		return SessionForwarding{}
	}
	return SessionForwarding{PromptCacheKey: sessionID, ConversationID: sessionID}
}
