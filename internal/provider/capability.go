package provider

import "sync"

// MaxTokensField names which request field carries the max-output-tokens
// limit; some OpenAI-compatible endpoints reject max_tokens in favor of
// max_completion_tokens.
type MaxTokensField string

const (
	MaxTokensFieldDefault        MaxTokensField = "max_tokens"
	MaxTokensFieldMaxCompletion  MaxTokensField = "max_completion_tokens"
)

// Compat records per-model quirks that request builders must account for.
// Each field replaces an ad hoc special case previously handled with
// provider-name string comparisons (e.g. branching on provider name to
// decide tool-result shape, as opencode.go and zen.go do).
type Compat struct {
	SupportsStore             bool
	SupportsDeveloperRole     bool
	SupportsReasoningEffort   bool
	MaxTokensField            MaxTokensField
	RequiresToolResultName    bool // tool results must carry the function name (Gemini)
	RequiresAssistantAfterTool bool // provider rejects two consecutive tool/user turns
	RequiresThinkingAsText    bool // provider has no native thinking block
	RequiresMistralToolIds    bool // tool-call ids must match Mistral's 9-char alnum syntax
}

// Modality is an accepted input kind for a model.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
)

// Capability describes a single model's shape and quirks. Adapters consult
// this before building a wire request.
type Capability struct {
	API           string
	Model         string
	Reasoning     bool
	Input         []Modality
	ContextWindow int
	MaxTokens     int
	Compat        Compat
}

// AcceptsImages reports whether the model's input modalities include images.
func (c Capability) AcceptsImages() bool {
	for _, m := range c.Input {
		if m == ModalityImage {
			return true
		}
	}
	return false
}

// capabilityMu guards capabilityTable: reads are frequent (every wire
// request build) and writes are rare (startup model discovery registering
// locally-configured models), so a RWMutex fits.
var capabilityMu sync.RWMutex

// capabilityTable is the built-in set of known model capabilities. Unknown
// models fall back to DefaultCapability.
var capabilityTable = map[string]Capability{
	"claude-opus-4": {
		API: "anthropic-messages", Model: "claude-opus-4", Reasoning: true,
		Input: []Modality{ModalityText, ModalityImage}, ContextWindow: 200_000, MaxTokens: 32_000,
		Compat: Compat{RequiresThinkingAsText: false},
	},
	"claude-sonnet-4": {
		API: "anthropic-messages", Model: "claude-sonnet-4", Reasoning: true,
		Input: []Modality{ModalityText, ModalityImage}, ContextWindow: 200_000, MaxTokens: 64_000,
	},
	"gpt-5": {
		API: "openai-responses", Model: "gpt-5", Reasoning: true,
		Input: []Modality{ModalityText, ModalityImage}, ContextWindow: 400_000, MaxTokens: 128_000,
		Compat: Compat{SupportsStore: true, SupportsDeveloperRole: true, SupportsReasoningEffort: true, MaxTokensField: MaxTokensFieldMaxCompletion},
	},
	"gemini-2.5-pro": {
		API: "gemini", Model: "gemini-2.5-pro", Reasoning: true,
		Input: []Modality{ModalityText, ModalityImage}, ContextWindow: 1_000_000, MaxTokens: 65_536,
		Compat: Compat{RequiresToolResultName: true},
	},
}

// DefaultCapability is used for models absent from capabilityTable — a
// conservative, text-only, non-reasoning profile.
var DefaultCapability = Capability{
	Input:         []Modality{ModalityText},
	ContextWindow: 32_000,
	MaxTokens:     4_096,
	Compat:        Compat{MaxTokensField: MaxTokensFieldDefault},
}

// LookupCapability returns the capability profile for a model, falling
// back to DefaultCapability (with Model/API filled in) when unknown.
func LookupCapability(api, model string) Capability {
	capabilityMu.RLock()
	cap, ok := capabilityTable[model]
	capabilityMu.RUnlock()
	if ok {
		return cap
	}
	fallback := DefaultCapability
	fallback.API = api
	fallback.Model = model
	return fallback
}

// RegisterCapability adds or overrides a model's capability profile. Used
// by configuration/discovery to register models the operator has
// configured locally (e.g. Ollama/vLLM models unknown at compile time).
func RegisterCapability(model string, c Capability) {
	capabilityMu.Lock()
	defer capabilityMu.Unlock()
	capabilityTable[model] = c
}
