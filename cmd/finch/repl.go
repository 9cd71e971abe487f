package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/rs/zerolog/log"

	"github.com/darwin-finch/finch/internal/config"
	"github.com/darwin-finch/finch/internal/llm"
	"github.com/darwin-finch/finch/internal/mcp"
	"github.com/darwin-finch/finch/internal/mcptools"
	"github.com/darwin-finch/finch/internal/orchestrator"
	"github.com/darwin-finch/finch/internal/provider"
	"github.com/darwin-finch/finch/internal/router"
	"github.com/darwin-finch/finch/internal/session"
	"github.com/darwin-finch/finch/internal/store"
	"github.com/darwin-finch/finch/internal/tools"
	"github.com/darwin-finch/finch/internal/treesitter"
	"github.com/darwin-finch/finch/internal/tui"
)

// runREPL is the default `finch` entry point: the live-area terminal UI
// (C4) driving the query orchestrator (C5) over the configured provider
// chain.
func runREPL() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	registry := buildRegistry(cfg, creds)
	chain, activeName, activeModel, err := buildChain(cfg, registry)
	if err != nil {
		return err
	}
	defer func() {
		for _, p := range chain.Providers() {
			p.Close()
		}
	}()

	svc := setupServices(cfg, creds)
	defer svc.proxy.Close()
	defer func() {
		for _, c := range svc.mcpClients {
			c.Close()
		}
	}()
	defer svc.lspManager.StopAll(context.Background())
	if svc.webCache != nil {
		defer svc.webCache.Close()
	}

	if flagList {
		listSessions(svc.webCache)
		return nil
	}

	active := chain.Providers()[0]

	// SubAgent needs a provider and the full tool list to spawn isolated
	// sub-agents, so it's registered after the initial ListTools call.
	proxyTools, err := svc.proxy.ListTools(context.Background())
	if err != nil {
		fmt.Printf("Warning: Failed to list tools: %v\n", err)
		proxyTools = []mcp.Tool{}
	}
	subAgentHandler := mcptools.NewSubAgentHandler(
		active,
		svc.lspManager,
		svc.deltaTracker,
		svc.shell,
		svc.webCache,
		svc.exaKey,
		proxyTools,
	)
	svc.proxy.RegisterTool(mcptools.NewSubAgentTool(), subAgentHandler.Handle)

	sessionID, resume := resolveSession(flagSession, flagContinue, svc.webCache)

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Printf("Warning: failed to get working directory: %v\n", err)
		cwd = "."
	}
	tsIndex := treesitter.NewIndex(cwd)
	if err := tsIndex.Build(); err != nil {
		log.Warn().Err(err).Msg("tree-sitter index build failed")
	}
	svc.readHandler.SetTSIndex(tsIndex)
	svc.editHandler.SetTSIndex(tsIndex)
	if svc.deltaTracker != nil {
		svc.deltaTracker.SetSession(sessionID)
	}

	dataDir, dataErr := config.EnsureDataDir()
	patternsPath := ""
	if dataErr == nil {
		patternsPath = filepath.Join(dataDir, "tool_patterns.json")
	}
	perms := tools.NewPermissionManager(cfg.Features.AutoApproveTools, patternsPath)

	// Every proxy tool is exposed through the C2 registry, so plan-mode
	// gating, schema validation, and permissions sit on the one path every
	// interactive tool call takes.
	toolReg := tools.NewRegistry(perms)
	registerProxyTools(toolReg, svc.proxy)

	// C9/C10 collaborators for the orchestrator.
	var rtr *router.Router
	var feedbackStore *store.FeedbackStore
	if dataErr == nil {
		routerPath := filepath.Join(dataDir, "router_state.json")
		if loaded, err := router.Load(routerPath); err == nil {
			rtr = loaded
			defer func() {
				if err := rtr.Save(routerPath); err != nil {
					log.Warn().Err(err).Msg("saving router state failed")
				}
			}()
		}
		if fs, err := store.NewFeedbackStore(filepath.Join(dataDir, "feedback.jsonl"), svc.webCache); err == nil {
			feedbackStore = fs
		} else {
			log.Warn().Err(err).Msg("feedback store unavailable")
		}
	}

	maxSessions := cfg.Server.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 100
	}
	idleTimeout := 30 * time.Minute
	if cfg.Server.IdleTimeoutMinutes > 0 {
		idleTimeout = time.Duration(cfg.Server.IdleTimeoutMinutes) * time.Minute
	}
	sessions := session.New(maxSessions, idleTimeout)
	if err := sessions.Adopt(sessionID); err != nil {
		return fmt.Errorf("session registry: %w", err)
	}

	// Local generator bootstrap: no local model ships in this build, so
	// the state stays NotAvailable and every query forwards with
	// ModelNotReady — the router still sees and learns each decision.
	genState := router.NotAvailable

	orch := orchestrator.New(orchestrator.Options{
		Stream:       chain,
		Registry:     toolReg,
		Router:       rtr,
		ModelName:    activeName + "/" + activeModel,
		WorkingDir:   cwd,
		SessionID:    sessionID,
		SystemPrompt: llm.BuildSystemPrompt(activeModel, tsIndex),
		LocalReady:   func() bool { return genState == router.Ready },
		Feedback:     feedbackStore,
		Persist:      svc.webCache,
		Sessions:     sessions,
		Resume:       resume,
	})

	model := tui.New(orch)
	model.SetPermissions(perms)
	model.SetChain(chain)
	model.SetTheme(cfg.ActiveTheme)
	if rtr != nil {
		model.SetRouter(rtr)
	}
	if feedbackStore != nil {
		model.SetFeedback(feedbackStore)
	}
	if dataErr == nil {
		if nodeID, err := store.NodeID(filepath.Join(dataDir, "node_id")); err == nil {
			if mw, err := store.NewMetricsWriter(filepath.Join(dataDir, "metrics"), nodeID); err == nil {
				model.SetMetrics(mw)
			}
		}
		historyPath := filepath.Join(dataDir, "history")
		if lines, err := store.LoadHistory(historyPath); err == nil {
			model.SetInputHistory(lines, historyPath)
		}
	}

	// Meta-tools render through the UI's bridge channel; they live in the
	// registry like every other tool so plan-mode gating sees them.
	plansDir := ""
	if dataErr == nil {
		plansDir = filepath.Join(dataDir, "plans")
	}
	toolReg.Register(tools.NewAskUserQuestionTool(tui.QuestionPrompter(model.Ctrl())))
	toolReg.Register(tools.NewPresentPlanTool(plansDir, tui.PlanPresenter(model.Ctrl()), func(clearContext bool, plan string) {
		orch.SetMode(tools.ModeExecuting)
		if clearContext {
			orch.ReplaceConversation("Execute this approved plan:\n\n" + plan)
		}
	}))
	toolReg.Register(tools.NewEnterPlanModeTool(orch.Mode, orch.SetMode))

	// Background brain: same chain, but a registry restricted to the
	// read-only tool subset.
	brainReg := tools.NewRegistry(tools.NewPermissionManager(true, ""))
	for _, name := range []string{"read", "glob", "grep"} {
		brainReg.Register(proxyToolDefinition(svc.proxy, name, name))
	}
	model.SetBrain(chain, brainReg)

	p := tea.NewProgram(model)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running finch: %w", err)
	}
	return nil
}

// buildChain creates one provider per non-local config entry, in order —
// index 0 is the active provider; the rest are fallbacks (§4.1).
func buildChain(cfg *config.Config, registry *provider.Registry) (*provider.Chain, string, string, error) {
	var providers []provider.Provider
	activeName, activeModel := "", ""
	for _, pc := range cfg.Providers {
		if pc.Type == "local" {
			continue
		}
		name := pc.DisplayName()
		prov, err := registry.Create(name, pc.Model, provider.Options{Temperature: pc.Temperature})
		if err != nil {
			log.Warn().Str("provider", name).Err(err).Msg("skipping provider")
			continue
		}
		providers = append(providers, prov)
		if activeName == "" {
			activeName, activeModel = name, pc.Model
		}
	}
	if len(providers) == 0 {
		return nil, "", "", fmt.Errorf("no usable cloud providers configured")
	}
	return provider.NewChain(providers...), activeName, activeModel, nil
}

// registerProxyTools mirrors every MCP proxy tool into the C2 registry;
// execution flows back through the proxy.
func registerProxyTools(reg *tools.Registry, proxy *mcp.Proxy) {
	proxyTools, err := proxy.ListTools(context.Background())
	if err != nil {
		fmt.Printf("Warning: failed to list tools for registry: %v\n", err)
		return
	}
	for _, t := range proxyTools {
		def := proxyToolDefinition(proxy, t.Name, t.Name)
		def.Description = t.Description
		if len(t.InputSchema) > 0 {
			var schema map[string]any
			if err := json.Unmarshal(t.InputSchema, &schema); err == nil {
				def.Schema = schema
			}
		}
		reg.Register(def)
	}
}

// proxyToolDefinition builds a registry entry that forwards to proxyName
// on the MCP proxy.
func proxyToolDefinition(proxy *mcp.Proxy, name, proxyName string) tools.Definition {
	return tools.Definition{
		Name: name,
		Executor: func(ctx context.Context, _ tools.ExecContext, input map[string]any) (string, bool) {
			args, err := json.Marshal(input)
			if err != nil {
				return err.Error(), true
			}
			result, err := proxy.CallTool(ctx, proxyName, args)
			if err != nil {
				return err.Error(), true
			}
			var text string
			for _, block := range result.Content {
				if block.Type == "text" {
					text += block.Text
				}
			}
			return text, result.IsError
		},
	}
}
