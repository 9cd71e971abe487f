package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadUnifiedProviders(t *testing.T) {
	path := writeConfig(t, `
streaming_enabled = true
active_theme = "dark"

[[providers]]
type = "claude"
api_key = "sk-ant-REDACTED"
model = "claude-sonnet-4"

[[providers]]
type = "ollama"
endpoint = "http://localhost:11434"
model = "qwen2.5-coder"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("providers = %d", len(cfg.Providers))
	}
	active, ok := cfg.Active()
	if !ok || active.Type != "claude" {
		t.Fatalf("active = %+v", active)
	}
	if !cfg.StreamingEnabled || cfg.ActiveTheme != "dark" {
		t.Fatalf("top-level options lost: %+v", cfg)
	}
}

func TestLegacyShapeIsConverted(t *testing.T) {
	path := writeConfig(t, `
[[teachers]]
name = "claude"
api_key = "sk-ant-REDACTED"
model = "claude-sonnet-4"

[[teachers]]
name = "openai"
api_key = "sk-0123456789abcdef01234567"

[backend]
enabled = true
family = "qwen"
size = "7b"
execution_target = "gpu"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Providers) != 3 {
		t.Fatalf("providers = %+v", cfg.Providers)
	}
	// Teachers first, in order, then the local entry.
	if cfg.Providers[0].Type != "claude" || cfg.Providers[1].Type != "openai" {
		t.Fatalf("teacher order lost: %+v", cfg.Providers)
	}
	last := cfg.Providers[2]
	if last.Type != "local" || last.Family != "qwen" || last.ExecutionTarget != "gpu" {
		t.Fatalf("local entry = %+v", last)
	}
	if cfg.Teachers != nil || cfg.Backend != nil {
		t.Fatalf("legacy fields must be cleared after conversion")
	}
}

func TestSaveWritesNewShape(t *testing.T) {
	path := writeConfig(t, `
[[teachers]]
name = "claude"
api_key = "sk-ant-REDACTED"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "saved.toml")
	if err := Save(out, cfg); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "teachers") || strings.Contains(string(data), "backend") {
		t.Fatalf("legacy shape leaked into save:\n%s", data)
	}
	if !strings.Contains(string(data), "[[providers]]") {
		t.Fatalf("unified shape missing:\n%s", data)
	}
}

func TestMissingFileSuggestsSetup(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err == nil || !strings.Contains(err.Error(), "finch setup") {
		t.Fatalf("err = %v", err)
	}
}

func TestMissingFileFallsBackToEnvKey(t *testing.T) {
	t.Setenv(EnvAPIKey, "sk-ant-REDACTED")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	active, ok := cfg.Active()
	if !ok || active.Type != "claude" || active.APIKey == "" {
		t.Fatalf("env fallback config = %+v", cfg)
	}
}

func TestValidationRejectsBadEntries(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			"unknown provider type",
			"[[providers]]\ntype = \"skynet\"\n",
			"not a recognized provider",
		},
		{
			"bad claude key prefix",
			"[[providers]]\ntype = \"claude\"\napi_key = \"sk-live-0123456789abcdef\"\n",
			"prefix",
		},
		{
			"short key",
			"[[providers]]\ntype = \"openai\"\napi_key = \"sk-short\"\n",
			"too short",
		},
		{
			"bind without colon",
			"[[providers]]\ntype = \"claude\"\n[server]\nbind = \"localhost\"\n",
			"colon",
		},
		{
			"max sessions out of range",
			"[[providers]]\ntype = \"claude\"\n[server]\nbind = \"127.0.0.1:8080\"\nmax_sessions = 20000\n",
			"max_sessions",
		},
		{
			"bad theme",
			"active_theme = \"neon\"\n[[providers]]\ntype = \"claude\"\n",
			"active_theme",
		},
		{
			"ollama without endpoint",
			"[[providers]]\ntype = \"ollama\"\n",
			"endpoint is required",
		},
		{
			"mcp server without command",
			"[[providers]]\ntype = \"claude\"\n[mcp_servers.fs]\nargs = [\"--stdio\"]\n",
			"command is required",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Setenv(EnvAPIKey, "")
			_, err := Load(writeConfig(t, c.body))
			if err == nil || !strings.Contains(err.Error(), c.want) {
				t.Fatalf("err = %v, want mention of %q", err, c.want)
			}
		})
	}
}

func TestNoProvidersIsRejected(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	_, err := Load(writeConfig(t, "streaming_enabled = true\n"))
	if err == nil || !strings.Contains(err.Error(), "at least one provider") {
		t.Fatalf("err = %v", err)
	}
}
