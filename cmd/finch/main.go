package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/darwin-finch/finch/internal/config"
	"github.com/darwin-finch/finch/internal/conversation"
	"github.com/darwin-finch/finch/internal/delta"
	"github.com/darwin-finch/finch/internal/lsp"
	"github.com/darwin-finch/finch/internal/mcp"
	"github.com/darwin-finch/finch/internal/mcptools"
	"github.com/darwin-finch/finch/internal/provider"
	"github.com/darwin-finch/finch/internal/shell"
	"github.com/darwin-finch/finch/internal/store"
)

var (
	flagSession  string
	flagList     bool
	flagContinue bool
)

func main() {
	if err := setupFileLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to setup logging: %v\n", err)
	}

	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the finch CLI: the interactive REPL runs by default
// (no subcommand), with `agent`, `setup`, `daemon`, and `license` as the
// other top-level entry points named in spec §6.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "finch",
		Short: "Finch: a local-first AI coding assistant",
		// No Args restriction: bare `finch` runs the REPL.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL()
		},
	}
	root.Flags().StringVarP(&flagSession, "session", "s", "", "resume a session by ID")
	root.Flags().BoolVarP(&flagList, "list", "l", false, "list sessions")
	root.Flags().BoolVarP(&flagContinue, "continue", "c", false, "continue most recent session")

	root.AddCommand(newAgentCmd())
	root.AddCommand(newSetupCmd())
	root.AddCommand(newDaemonCmd())
	root.AddCommand(newLicenseCmd())
	return root
}

// buildRegistry registers a factory per configured provider entry, keyed by
// its display name. Cloud vendors route through the zen gateway SDK, which
// normalizes their streaming formats; ollama and remote daemons get their
// dedicated transports. Local entries are not runtime providers — they go
// through the router's progressive bootstrap instead.
func buildRegistry(cfg *config.Config, creds *config.Credentials) *provider.Registry {
	registry := provider.NewRegistry()
	for _, p := range cfg.Providers {
		name := p.DisplayName()
		apiKey := p.APIKey
		if apiKey == "" && creds != nil {
			apiKey = creds.GetAPIKey(p.Type)
		}
		switch p.Type {
		case "ollama":
			registry.RegisterFactory(name, provider.NewOllamaFactory(name, p.Endpoint))
		case "remote_daemon":
			registry.RegisterFactory(name, provider.NewVLLMFactory(name, p.Endpoint, apiKey))
		case "local":
			// Routed via the threshold router once the generator is Ready.
		case "claude":
			if p.BaseURL != "" {
				registry.RegisterFactory(name, provider.NewAnthropicFactory(name, apiKey, p.BaseURL))
			} else {
				registry.RegisterFactory(name, provider.NewZenFactory(name, apiKey, ""))
			}
		case "openai":
			if p.BaseURL != "" {
				registry.RegisterFactory(name, provider.NewOpenAIFactory(name, apiKey, p.BaseURL))
			} else {
				registry.RegisterFactory(name, provider.NewZenFactory(name, apiKey, ""))
			}
		default:
			registry.RegisterFactory(name, provider.NewZenFactory(name, apiKey, p.BaseURL))
		}
	}
	return registry
}

// resolveProvider picks the active provider: the first non-local entry in
// the ordered list (§3 "Active provider = index 0").
func resolveProvider(cfg *config.Config, registry *provider.Registry) (string, config.ProviderConfig) {
	for _, p := range cfg.Providers {
		if p.Type == "local" {
			continue
		}
		return p.DisplayName(), p
	}
	fmt.Println("Error: No cloud providers configured")
	os.Exit(1)
	return "", config.ProviderConfig{}
}

type services struct {
	mcpClients   []*mcp.StdioClient
	proxy        *mcp.Proxy
	lspManager   *lsp.Manager
	webCache     *store.Cache
	readHandler  *mcptools.ReadHandler
	editHandler  *mcptools.EditHandler
	shellHandler *mcptools.ShellHandler
	fileTracker  *mcptools.FileReadTracker
	deltaTracker *delta.Tracker
	scratchpad   *mcptools.Scratchpad
	shell        *shell.Shell
	exaKey       string
}

func setupServices(cfg *config.Config, creds *config.Credentials) services {
	proxy := mcp.NewProxy(nil)
	if err := proxy.Initialize(context.Background()); err != nil {
		fmt.Printf("Warning: MCP init failed: %v\n", err)
	}

	// External MCP tool servers from [mcp_servers], spoken to over stdio;
	// their tools land in the registry as mcp_<server>_<tool>.
	var mcpClients []*mcp.StdioClient
	for name, srv := range cfg.MCPServers {
		client, err := mcp.RegisterStdioServer(context.Background(), proxy, name, srv.Command, srv.Args, srv.Env)
		if err != nil {
			fmt.Printf("Warning: MCP server %q failed: %v\n", name, err)
			continue
		}
		mcpClients = append(mcpClients, client)
	}

	lspManager := lsp.NewManager()
	fileTracker := mcptools.NewFileReadTracker()

	readHandler := mcptools.NewReadHandler(fileTracker, lspManager)
	proxy.RegisterTool(mcptools.NewReadTool(), readHandler.Handle)

	proxy.RegisterTool(mcptools.NewGrepTool(), mcptools.MakeGrepHandler())
	proxy.RegisterTool(mcptools.NewGlobTool(), mcptools.MakeGlobHandler())
	proxy.RegisterTool(mcptools.NewGitStatusTool(), mcptools.MakeGitStatusHandler())
	proxy.RegisterTool(mcptools.NewGitDiffTool(), mcptools.MakeGitDiffHandler())

	webCache := openWebCache(cfg)

	// Create delta tracker for undo support, sharing the same DB.
	var dt *delta.Tracker
	if webCache != nil {
		dt = delta.New(webCache.DB())
	}

	editHandler := mcptools.NewEditHandler(fileTracker, lspManager, dt)
	proxy.RegisterTool(mcptools.NewEditTool(), editHandler.Handle)

	multiEditHandler := mcptools.NewMultiEditHandler(editHandler)
	proxy.RegisterTool(mcptools.NewMultiEditTool(), multiEditHandler.Handle)

	writeHandler := mcptools.NewWriteHandler(fileTracker, lspManager, dt)
	proxy.RegisterTool(mcptools.NewWriteTool(), writeHandler.Handle)

	proxy.RegisterTool(mcptools.NewWebFetchTool(), mcptools.MakeWebFetchHandler(webCache))

	exaKey := creds.GetAPIKey("exa_ai")
	proxy.RegisterTool(mcptools.NewWebSearchTool(), mcptools.MakeWebSearchHandler(webCache, exaKey, ""))

	// Shell tool — in-process POSIX interpreter with command blocking.
	sh := shell.New("", shell.DefaultBlockFuncs())
	shellHandler := mcptools.NewShellHandler(sh, dt)
	proxy.RegisterTool(mcptools.NewShellTool(), shellHandler.Handle)

	// TodoWrite tool — agent scratchpad for plan/notes recitation.
	pad := &mcptools.Scratchpad{}
	proxy.RegisterTool(mcptools.NewTodoWriteTool(), mcptools.MakeTodoWriteHandler(pad))

	return services{
		mcpClients:   mcpClients,
		proxy:        proxy,
		lspManager:   lspManager,
		webCache:     webCache,
		readHandler:  readHandler,
		editHandler:  editHandler,
		shellHandler: shellHandler,
		fileTracker:  fileTracker,
		deltaTracker: dt,
		scratchpad:   pad,
		shell:        sh,
		exaKey:       exaKey,
	}
}

func openWebCache(cfg *config.Config) *store.Cache {
	cacheDir, err := config.EnsureDataDir()
	if err != nil {
		fmt.Printf("Warning: cache dir failed: %v\n", err)
		return nil
	}
	cacheTTL := time.Duration(cfg.Cache.CacheTTLOrDefault()) * time.Hour
	cache, err := store.Open(filepath.Join(cacheDir, "cache.db"), cacheTTL)
	if err != nil {
		fmt.Printf("Warning: cache open failed: %v\n", err)
		return nil
	}
	return cache
}

func newSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		log.Warn().Err(err).Msg("failed to read random bytes for session id")
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func setupFileLogging() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}

	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return err
	}

	logFile := filepath.Join(logDir, "finch.log")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	log.Logger = log.Output(file)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	return nil
}

func listSessions(db *store.Cache) {
	if db == nil {
		fmt.Println("No cache available")
		return
	}
	sessions, err := db.ListSessions()
	if err != nil {
		fmt.Printf("Error listing sessions: %v\n", err)
		return
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found")
		return
	}
	for _, s := range sessions {
		ts := s.Timestamp.Format("2006-01-02 15:04")
		preview := s.Preview
		preview = strings.ReplaceAll(preview, "\n", " ")
		if len(preview) > 50 {
			preview = preview[:50]
		}
		fmt.Printf("%s  %s  %s\n", s.ID, ts, preview)
	}
}

func resolveSession(flagSession string, flagContinue bool, db *store.Cache) (string, []conversation.Message) {
	switch {
	case flagSession != "":
		if db != nil {
			ok, err := db.SessionExists(flagSession)
			if err != nil || !ok {
				fmt.Printf("Session %q not found\n", flagSession)
				os.Exit(1)
			}
		}
		msgs := loadHistory(flagSession, db)
		return flagSession, msgs

	case flagContinue:
		if db == nil {
			fmt.Println("No cache available")
			os.Exit(1)
		}
		id, err := db.LatestSessionID()
		if err != nil {
			fmt.Printf("No sessions to continue: %v\n", err)
			os.Exit(1)
		}
		msgs := loadHistory(id, db)
		return id, msgs

	default:
		sid := newSessionID()
		if db != nil {
			if err := db.CreateSession(sid); err != nil {
				fmt.Printf("Warning: failed to create session: %v\n", err)
			}
		}
		return sid, nil
	}
}

func loadHistory(sessionID string, db *store.Cache) []conversation.Message {
	msgs, err := db.LoadConversation(sessionID)
	if err != nil {
		fmt.Printf("Warning: failed to load session history: %v\n", err)
		return nil
	}
	return msgs
}

// resolveConfigPath picks ./config.toml unless a config.toml already exists
// under the data directory, matching the original REPL's lookup order.
func resolveConfigPath() string {
	configPath := filepath.Join(".", "config.toml")
	if dataDir, err := config.DataDir(); err == nil {
		dataDirPath := filepath.Join(dataDir, "config.toml")
		if _, err := os.Stat(dataDirPath); err == nil {
			configPath = dataDirPath
		}
	}
	return configPath
}
