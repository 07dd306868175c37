package config

import (
	"fmt"
	"strings"

	"github.com/xonecas/symb/internal/agentcore/agent"
	"github.com/xonecas/symb/internal/agentcore/builtintools"
	"github.com/xonecas/symb/internal/agentcore/hook"
	"github.com/xonecas/symb/internal/agentcore/message"
	"github.com/xonecas/symb/internal/agentcore/session"
	"github.com/xonecas/symb/internal/agentcore/tool"
	"github.com/xonecas/symb/internal/provider"
	"github.com/xonecas/symb/internal/shell"
)

// SessionRequest is what a front-end entrypoint (TUI, print mode, the RPC
// server) asks for: which on-disk session to open or create, and where.
// It generalizes cmd/symb/main.go's flagSession/flagList/flagContinue flag
// trio off session-ID-only resolution to session.Mode's create/continue/
// open/inMemory forest model.
type SessionRequest struct {
	AgentDir    string
	CWD         string
	DirOverride string

	Mode     session.Mode
	OpenPath string // required when Mode == session.ModeOpen
}

// BuildSessionOptions resolves cfg and creds into the session.Options a
// session.New call needs: a provider registry wired from cfg.Providers
// (mirroring cmd/symb/main.go's buildRegistry), the scoped model list from
// cfg.Agent.Models, the built-in tool set, an empty hook runner ready for
// a front-end to register handlers on, and a shell rooted at req.CWD.
func BuildSessionOptions(cfg *Config, creds *Credentials, req SessionRequest) (session.Options, error) {
	registry := buildProviderRegistry(cfg)

	models, err := scopedModels(cfg, registry)
	if err != nil {
		return session.Options{}, err
	}

	sh := shell.New(req.CWD, shell.DefaultBlockFuncs())
	resolveProvider := resolveProviderFunc(registry, creds)
	tools := tool.NewRegistry()
	builtintools.Register(tools, sh, resolveProvider, dispatchModel(models))

	return session.Options{
		AgentDir:    req.AgentDir,
		CWD:         req.CWD,
		DirOverride: req.DirOverride,

		Mode:     req.Mode,
		OpenPath: req.OpenPath,

		ResolveProvider: resolveProvider,
		Models:          models,

		Tools:          tools,
		TargetAPI:      cfg.Agent.TargetAPI,
		Hooks:          hook.NewRunner(),
		Shell:          sh,
		ContextWindow:  cfg.Agent.ContextWindowOrDefault(),
		EstimateTokens: estimateTokens,
		Compaction: agent.CompactionSettings{
			Enabled:   cfg.Agent.AutoCompaction,
			Threshold: cfg.Agent.CompactionThresholdOrDefault(),
		},
		Retry:            agent.DefaultRetrySettings,
		AutoRetryEnabled: cfg.Agent.AutoRetry,
		FollowUpMode:     followUpMode(cfg.Agent.FollowUpMode),
	}, nil
}

// dispatchModel picks the model string a dispatched sub-agent starts on:
// the first entry of the session's own cycle list, in "provider/modelID"
// form. A session always has at least one model (scopedModels guarantees
// it), so dispatch_agent is always registered alongside the rest of the
// built-ins.
func dispatchModel(models []session.ModelOption) string {
	if len(models) == 0 {
		return ""
	}
	return models[0].Provider + "/" + models[0].ModelID
}

// buildProviderRegistry wires one provider.Factory per configured
// provider, the same shape as cmd/symb/main.go's buildRegistry.
func buildProviderRegistry(cfg *Config) *provider.Registry {
	registry := provider.NewRegistry()
	for name, providerCfg := range cfg.Providers {
		registry.RegisterFactory(name, provider.NewOllamaFactory(name, providerCfg.Endpoint))
	}
	return registry
}

// resolveProviderFunc adapts a provider.Registry into the
// agent.ProviderResolver shape: model arrives as "provider/modelID" (the
// form session.Options and agent.Agent both store the active model in),
// and registry.Create needs those split apart before a factory lookup can
// succeed. creds is accepted but unused here, mirroring
// cmd/symb/main.go's own buildRegistry(cfg, _ *config.Credentials): every
// registered factory is OllamaFactory, which has no credential to consume.
func resolveProviderFunc(registry *provider.Registry, _ *Credentials) agent.ProviderResolver {
	return func(model string) (provider.Provider, error) {
		providerName, modelID, err := splitModel(model)
		if err != nil {
			return nil, err
		}
		return registry.Create(providerName, modelID, provider.Options{})
	}
}

// splitModel splits a "provider/modelID" string, the form session.Options
// and agent.Agent store the active model in throughout this codebase.
func splitModel(model string) (providerName, modelID string, err error) {
	providerName, modelID, ok := strings.Cut(model, "/")
	if !ok || providerName == "" || modelID == "" {
		return "", "", fmt.Errorf("config: model %q must be \"provider/modelID\"", model)
	}
	return providerName, modelID, nil
}

// scopedModels builds the cycle_model/cycle_thinking_level list from
// cfg.Agent.Models, each entry "provider/model[:thinkingLevel]". When
// empty, it falls back to a single entry built from DefaultProvider (or
// the first registered provider, mirroring cmd/symb/main.go's
// resolveProvider fallback) so a session can always start somewhere.
func scopedModels(cfg *Config, registry *provider.Registry) ([]session.ModelOption, error) {
	if len(cfg.Agent.Models) == 0 {
		name, pcfg, err := defaultProvider(cfg, registry)
		if err != nil {
			return nil, err
		}
		return []session.ModelOption{{Provider: name, ModelID: pcfg.Model}}, nil
	}

	out := make([]session.ModelOption, 0, len(cfg.Agent.Models))
	for _, entry := range cfg.Agent.Models {
		spec, thinkingLevel, _ := strings.Cut(entry, ":")
		providerName, modelID, err := splitModel(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, session.ModelOption{Provider: providerName, ModelID: modelID, ThinkingLevel: thinkingLevel})
	}
	return out, nil
}

// defaultProvider resolves which configured provider a session starts on
// absent an explicit agent.models list, the same precedence
// cmd/symb/main.go's resolveProvider uses: cfg.DefaultProvider, else the
// first provider the registry lists.
func defaultProvider(cfg *Config, registry *provider.Registry) (string, ProviderConfig, error) {
	name := cfg.DefaultProvider
	if name == "" {
		providers := registry.List()
		if len(providers) == 0 {
			return "", ProviderConfig{}, fmt.Errorf("config: no providers configured")
		}
		name = providers[0]
	}
	pcfg, ok := cfg.Providers[name]
	if !ok {
		return "", ProviderConfig{}, fmt.Errorf("config: provider %q not found", name)
	}
	return name, pcfg, nil
}

// followUpMode translates the on-disk string into agent.FollowUpMode,
// defaulting to FollowUpQueue (agent.New's own default) for an unset or
// unrecognized value rather than erroring — Validate already rejects
// anything but "interrupt"/"queue"/"" at load time.
func followUpMode(mode string) agent.FollowUpMode {
	if mode == "interrupt" {
		return agent.FollowUpInterrupt
	}
	return agent.FollowUpQueue
}

// estimateTokens is a rough, dependency-free token estimate (roughly 4
// bytes per token, the same heuristic internal/llm/loop.go's auto-compact
// trigger used before this package existed) used only to decide whether
// auto-compaction's threshold has been crossed; it does not need to be
// exact, just roughly proportional to true token cost.
func estimateTokens(messages []message.Message, _ string) int {
	total := 0
	for _, m := range messages {
		total += len(m.Text()) / 4
	}
	return total
}
