package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/darwin-finch/finch/internal/agent"
	"github.com/darwin-finch/finch/internal/config"
	"github.com/darwin-finch/finch/internal/mcp"
	"github.com/darwin-finch/finch/internal/persona"
	"github.com/darwin-finch/finch/internal/provider"
)

// newAgentCmd wires spec §4.8's headless autonomous agent (C8) to the CLI:
// `finch agent` drains a persisted task backlog with no TUI attached.
func newAgentCmd() *cobra.Command {
	var personaPath string
	var tasksPath string
	var reflectEvery int
	var once bool

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the headless autonomous agent against a task backlog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			creds, err := config.LoadCredentials()
			if err != nil {
				return fmt.Errorf("loading credentials: %w", err)
			}

			registry := buildRegistry(cfg, creds)
			providerName, providerCfg := resolveProvider(cfg, registry)
			prov, err := registry.Create(providerName, providerCfg.Model, provider.Options{
				Temperature: providerCfg.Temperature,
			})
			if err != nil {
				return fmt.Errorf("creating provider: %w", err)
			}
			defer prov.Close()

			svc := setupServices(cfg, creds)
			defer svc.proxy.Close()
			defer svc.lspManager.StopAll(context.Background())
			if svc.webCache != nil {
				defer svc.webCache.Close()
			}

			tools, err := svc.proxy.ListTools(context.Background())
			if err != nil {
				fmt.Printf("Warning: failed to list tools: %v\n", err)
				tools = []mcp.Tool{}
			}

			if personaPath == "" {
				dataDir, err := config.EnsureDataDir()
				if err != nil {
					return fmt.Errorf("resolving data dir: %w", err)
				}
				personaPath = dataDir + "/persona.toml"
			} else if resolved, err := resolvePersonaRef(personaPath); err != nil {
				return err
			} else {
				personaPath = resolved
			}
			if tasksPath == "" {
				dataDir, err := config.EnsureDataDir()
				if err != nil {
					return fmt.Errorf("resolving data dir: %w", err)
				}
				tasksPath = dataDir + "/tasks.toml"
			}
			if err := ensureDefaultPersona(personaPath); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return agent.Run(ctx, agent.Options{
				Provider:     prov,
				Proxy:        svc.proxy,
				Tools:        tools,
				PersonaPath:  personaPath,
				TasksPath:    tasksPath,
				ReflectEvery: reflectEvery,
				Once:         once,
			})
		},
	}

	cmd.Flags().StringVar(&personaPath, "persona", "", "path to the persona TOML file (default: <data dir>/persona.toml)")
	cmd.Flags().StringVar(&tasksPath, "tasks", "", "path to the task backlog TOML file (default: <data dir>/tasks.toml)")
	cmd.Flags().IntVar(&reflectEvery, "reflect-every", 0, "run reflection every N completed tasks (default 5)")
	cmd.Flags().BoolVar(&once, "once", false, "run at most one task then exit, instead of looping forever")
	return cmd
}

// resolvePersonaRef accepts either a file path or a builtin persona name
// (the --persona <name|path> contract). A bare name materializes under
// <data dir>/personas/<name>.toml on first use so reflection has a file to
// patch.
func resolvePersonaRef(ref string) (string, error) {
	if _, err := os.Stat(ref); err == nil {
		return ref, nil
	}
	for _, p := range persona.Builtin() {
		if p.PersonaInfo.Name == ref {
			dataDir, err := config.EnsureDataDir()
			if err != nil {
				return "", fmt.Errorf("resolving data dir: %w", err)
			}
			dir := dataDir + "/personas"
			if err := os.MkdirAll(dir, 0750); err != nil {
				return "", fmt.Errorf("personas dir: %w", err)
			}
			path := dir + "/" + ref + ".toml"
			if _, err := os.Stat(path); err != nil {
				if err := persona.Save(path, p); err != nil {
					return "", fmt.Errorf("seeding persona %q: %w", ref, err)
				}
			}
			return path, nil
		}
	}
	return ref, nil
}

// ensureDefaultPersona writes the "engineer" builtin persona to path if
// nothing exists there yet, so `finch agent` works against a freshly
// installed data directory without requiring a setup step first.
func ensureDefaultPersona(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	for _, p := range persona.Builtin() {
		if p.PersonaInfo.Name == "engineer" {
			return persona.Save(path, p)
		}
	}
	return fmt.Errorf("agent: no builtin persona available to seed %s", path)
}
