// Package config handles configuration loading from TOML files and
// environment variables (C10). The unified [[providers]] list is the source
// of truth; a legacy shape (a "teachers" array plus a local "backend"
// section) is recognized and converted at load time.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// EnvAPIKey is the primary API key fallback recognized when no config file
// exists (§6).
const EnvAPIKey = "FINCH_API_KEY"

// providerTypes is the closed set of provider tags.
var providerTypes = map[string]bool{
	"claude":        true,
	"openai":        true,
	"grok":          true,
	"gemini":        true,
	"mistral":       true,
	"groq":          true,
	"ollama":        true,
	"remote_daemon": true,
	"local":         true,
}

// themes is the closed set of UI themes.
var themes = map[string]bool{
	"dark":          true,
	"light":         true,
	"high-contrast": true,
	"solarized":     true,
}

// Config is the root configuration structure, loaded from
// <home>/.finch/config.toml.
type Config struct {
	StreamingEnabled bool   `toml:"streaming_enabled"`
	TUIEnabled       bool   `toml:"tui_enabled"`
	ActiveTheme      string `toml:"active_theme,omitempty"`
	HuggingfaceToken string `toml:"huggingface_token,omitempty"`

	Providers []ProviderConfig `toml:"providers"`

	Features   FeaturesConfig             `toml:"features"`
	Client     ClientConfig               `toml:"client"`
	Server     ServerConfig               `toml:"server"`
	License    LicenseConfig              `toml:"license"`
	MCPServers map[string]MCPServerConfig `toml:"mcp_servers,omitempty"`

	Cache CacheConfig `toml:"cache"`
	UI    UIConfig    `toml:"ui"`

	// Legacy shape, consumed by convertLegacy and never written back.
	Teachers []TeacherConfig `toml:"teachers,omitempty"`
	Backend  *BackendConfig  `toml:"backend,omitempty"`
}

// ProviderConfig is one tagged entry in the ordered providers list. Cloud
// entries carry key/model/optional base URL; ollama/remote_daemon entries
// carry an endpoint; local entries carry family/size/execution target.
type ProviderConfig struct {
	Type        string  `toml:"type"`
	Name        string  `toml:"name,omitempty"`
	APIKey      string  `toml:"api_key,omitempty"`
	Model       string  `toml:"model,omitempty"`
	BaseURL     string  `toml:"base_url,omitempty"`
	Endpoint    string  `toml:"endpoint,omitempty"`
	Temperature float64 `toml:"temperature,omitempty"`

	// Local entries only.
	Family          string `toml:"family,omitempty"`
	Size            string `toml:"size,omitempty"`
	ExecutionTarget string `toml:"execution_target,omitempty"`
}

// DisplayName returns the configured name or the type tag.
func (p ProviderConfig) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Type
}

// FeaturesConfig holds feature toggles.
type FeaturesConfig struct {
	AutoApproveTools bool `toml:"auto_approve_tools"`
	StreamingEnabled bool `toml:"streaming_enabled"`
	DebugLogging     bool `toml:"debug_logging"`
}

// ClientConfig holds daemon client options.
type ClientConfig struct {
	Endpoint       string `toml:"endpoint,omitempty"`
	TimeoutSeconds int    `toml:"timeout_seconds,omitempty"`
}

// ServerConfig holds daemon server options.
type ServerConfig struct {
	Bind               string `toml:"bind,omitempty"`
	MaxSessions        int    `toml:"max_sessions,omitempty"`
	IdleTimeoutMinutes int    `toml:"idle_timeout_minutes,omitempty"`
	TimeoutSeconds     int    `toml:"timeout_seconds,omitempty"`
}

// LicenseConfig holds the persisted commercial license key and the
// metadata last decoded from it (§6's `[license]` config section).
type LicenseConfig struct {
	Type     string `toml:"type,omitempty"`
	Key      string `toml:"key,omitempty"`
	Licensee string `toml:"licensee,omitempty"`
	Expiry   string `toml:"expiry,omitempty"`
}

// MCPServerConfig describes one external MCP tool server spoken to over
// stdio; its tools register under an mcp_<server>_ prefix.
type MCPServerConfig struct {
	Command string            `toml:"command"`
	Args    []string          `toml:"args,omitempty"`
	Env     map[string]string `toml:"env,omitempty"`
}

// TeacherConfig is one entry of the legacy "teachers" array.
type TeacherConfig struct {
	Name    string `toml:"name"`
	APIKey  string `toml:"api_key,omitempty"`
	Model   string `toml:"model,omitempty"`
	BaseURL string `toml:"base_url,omitempty"`
}

// BackendConfig is the legacy local "backend" section.
type BackendConfig struct {
	Enabled         bool   `toml:"enabled"`
	Family          string `toml:"family,omitempty"`
	Size            string `toml:"size,omitempty"`
	ExecutionTarget string `toml:"execution_target,omitempty"`
}

// UIConfig holds user-interface settings.
type UIConfig struct {
	// SyntaxTheme is the Chroma syntax highlighting theme used across the
	// TUI. Defaults to "vulcan" if unset.
	SyntaxTheme string `toml:"syntax_theme,omitempty"`
}

// SyntaxThemeOrDefault returns the configured syntax theme or "vulcan" if unset.
func (u UIConfig) SyntaxThemeOrDefault() string {
	if u.SyntaxTheme == "" {
		return "vulcan"
	}
	return u.SyntaxTheme
}

// CacheConfig holds web cache settings.
type CacheConfig struct {
	TTLHours int `toml:"ttl_hours,omitempty"`
}

// CacheTTLOrDefault returns the configured TTL or 24 hours if unset.
func (c CacheConfig) CacheTTLOrDefault() int {
	if c.TTLHours <= 0 {
		return 24
	}
	return c.TTLHours
}

// Load reads configuration from path, converts the legacy shape if present,
// applies environment overrides, and validates. A missing file falls back
// to EnvAPIKey when set; otherwise the error tells the user to run setup.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if _, err := os.Stat(path); err != nil {
		if key := os.Getenv(EnvAPIKey); key != "" {
			cfg := FromAPIKey(key)
			return cfg, nil
		}
		return nil, fmt.Errorf("no config file at %s — run `finch setup` to create one", path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.convertLegacy()
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromAPIKey synthesizes a minimal configuration around the primary API
// key environment fallback.
func FromAPIKey(key string) *Config {
	return &Config{
		StreamingEnabled: true,
		Providers: []ProviderConfig{
			{Type: "claude", APIKey: key},
		},
	}
}

// convertLegacy synthesizes the providers list deterministically from the
// legacy shape: teachers first (in order), then a local entry if
// backend.enabled. No-op when [[providers]] is already present.
func (c *Config) convertLegacy() {
	if len(c.Providers) > 0 {
		c.Teachers = nil
		c.Backend = nil
		return
	}
	for _, t := range c.Teachers {
		typ := t.Name
		if !providerTypes[typ] {
			typ = "claude"
		}
		c.Providers = append(c.Providers, ProviderConfig{
			Type:    typ,
			Name:    t.Name,
			APIKey:  t.APIKey,
			Model:   t.Model,
			BaseURL: t.BaseURL,
		})
	}
	if c.Backend != nil && c.Backend.Enabled {
		c.Providers = append(c.Providers, ProviderConfig{
			Type:            "local",
			Family:          c.Backend.Family,
			Size:            c.Backend.Size,
			ExecutionTarget: c.Backend.ExecutionTarget,
		})
	}
	c.Teachers = nil
	c.Backend = nil
}

// Save writes cfg to path as TOML. The legacy fields are always dropped
// first, so a save after loading a legacy file persists the new shape.
func Save(path string, cfg *Config) error {
	cfg.Teachers = nil
	cfg.Backend = nil
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// Active returns the active provider entry (index 0).
func (c *Config) Active() (ProviderConfig, bool) {
	if len(c.Providers) == 0 {
		return ProviderConfig{}, false
	}
	return c.Providers[0], true
}

// keyRule is a per-vendor API key format check.
type keyRule struct {
	prefix string
	minLen int
}

var keyRules = map[string]keyRule{
	"claude":  {prefix: "sk-ant-", minLen: 20},
	"openai":  {prefix: "sk-", minLen: 20},
	"grok":    {prefix: "xai-", minLen: 20},
	"gemini":  {prefix: "AIza", minLen: 20},
	"mistral": {minLen: 20},
	"groq":    {prefix: "gsk_", minLen: 20},
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("providers: at least one provider must be configured"))
	}
	for i, p := range c.Providers {
		errs = append(errs, validateProvider(i, p)...)
	}

	if c.ActiveTheme != "" && !themes[c.ActiveTheme] {
		errs = append(errs, fmt.Errorf("active_theme=%q is not one of dark, light, high-contrast, solarized", c.ActiveTheme))
	}

	if c.Server.Bind != "" && !strings.Contains(c.Server.Bind, ":") {
		errs = append(errs, fmt.Errorf("server.bind=%q must contain a colon (host:port)", c.Server.Bind))
	}
	if c.Server.MaxSessions < 0 || c.Server.MaxSessions > 10000 {
		errs = append(errs, fmt.Errorf("server.max_sessions=%d must be in (0, 10000]", c.Server.MaxSessions))
	}
	if c.Server.IdleTimeoutMinutes < 0 {
		errs = append(errs, fmt.Errorf("server.idle_timeout_minutes=%d must be > 0", c.Server.IdleTimeoutMinutes))
	}
	if c.Server.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("server.timeout_seconds=%d must be > 0", c.Server.TimeoutSeconds))
	}
	if c.Client.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("client.timeout_seconds=%d must be > 0", c.Client.TimeoutSeconds))
	}

	for name, srv := range c.MCPServers {
		if srv.Command == "" {
			errs = append(errs, fmt.Errorf("mcp_servers.%s.command is required", name))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateProvider(i int, p ProviderConfig) []error {
	var errs []error
	ref := fmt.Sprintf("providers[%d]", i)

	if !providerTypes[p.Type] {
		errs = append(errs, fmt.Errorf("%s.type=%q is not a recognized provider", ref, p.Type))
		return errs
	}

	if rule, ok := keyRules[p.Type]; ok && p.APIKey != "" {
		if rule.prefix != "" && !strings.HasPrefix(p.APIKey, rule.prefix) {
			errs = append(errs, fmt.Errorf("%s.api_key does not look like a %s key (expected %q prefix)", ref, p.Type, rule.prefix))
		}
		if len(p.APIKey) < rule.minLen {
			errs = append(errs, fmt.Errorf("%s.api_key is too short for a %s key", ref, p.Type))
		}
	}

	switch p.Type {
	case "ollama", "remote_daemon":
		if p.Endpoint == "" {
			errs = append(errs, fmt.Errorf("%s.endpoint is required for %s", ref, p.Type))
		} else if err := validateEndpoint(p.Endpoint); err != nil {
			errs = append(errs, fmt.Errorf("%s.endpoint=%q is invalid: %v", ref, p.Endpoint, err))
		}
	case "local":
		if p.Family == "" {
			errs = append(errs, fmt.Errorf("%s.family is required for local entries", ref))
		}
	}

	if p.BaseURL != "" {
		if err := validateEndpoint(p.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("%s.base_url=%q is invalid: %v", ref, p.BaseURL, err))
		}
	}

	if p.Temperature < 0.0 || p.Temperature > 2.0 {
		errs = append(errs, fmt.Errorf("%s.temperature=%v must be between 0.0 and 2.0", ref, p.Temperature))
	}

	return errs
}

func validateEndpoint(value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("missing scheme or host")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvAPIKey); v != "" {
		for i := range cfg.Providers {
			if cfg.Providers[i].APIKey == "" && keyRules[cfg.Providers[i].Type].minLen > 0 {
				cfg.Providers[i].APIKey = v
			}
		}
	}
	if v := os.Getenv("FINCH_HF_TOKEN"); v != "" {
		cfg.HuggingfaceToken = v
	}
}

// DataDir returns the path to Finch's persistent state directory (~/.finch).
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".finch"), nil
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}
	return dir, nil
}
