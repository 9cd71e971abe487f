package lsp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	powernapconfig "github.com/charmbracelet/x/powernap/pkg/config"
	powernap "github.com/charmbracelet/x/powernap/pkg/lsp"
	"github.com/charmbracelet/x/powernap/pkg/lsp/protocol"
	"github.com/rs/zerolog/log"
)

// neverAutoStart lists server commands that must not be launched blind:
// generic interpreters and runners that could trigger package downloads or
// run the wrong binary.
var neverAutoStart = map[string]bool{
	"npx": true, "node": true, "bun": true,
	"python": true, "python3": true,
	"java": true, "ruby": true, "perl": true, "dotnet": true,
}

// DiagCallback receives diagnostic updates: absPath plus a map of
// 0-indexed line to the strongest severity on that line.
type DiagCallback func(absPath string, lines map[int]int)

// Manager owns language-server lifecycles, one client per server name.
// Servers start lazily the first time a file of their language is touched;
// a server that fails to start is remembered as broken and never retried
// this session.
type Manager struct {
	cfgMgr *powernapconfig.Manager

	mu      sync.Mutex
	clients map[string]*Client
	broken  map[string]bool

	callback DiagCallback
}

// NewManager loads powernap's built-in server catalog.
func NewManager() *Manager {
	// powernap logs through slog to stderr, which the live terminal owns.
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	cm := powernapconfig.NewManager()
	_ = cm.LoadDefaults()
	return &Manager{
		cfgMgr:  cm,
		clients: make(map[string]*Client),
		broken:  make(map[string]bool),
	}
}

// SetCallback installs the diagnostics listener.
func (m *Manager) SetCallback(cb DiagCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = cb
}

// TouchFile makes sure the right servers run for absPath and sends
// didOpen/didChange. Errors are logged, never returned — diagnostics are
// best-effort decoration on tool results.
func (m *Manager) TouchFile(ctx context.Context, absPath string) {
	for _, c := range m.clientsFor(ctx, absPath) {
		if err := c.openFile(ctx, absPath); err != nil {
			log.Error().Err(err).Str("server", c.serverID).Msg("lsp touch failed")
		}
	}
}

// NotifyAndWait tells every matching server the file changed and gathers
// their diagnostics within timeout.
func (m *Manager) NotifyAndWait(ctx context.Context, absPath string, timeout time.Duration) []protocol.Diagnostic {
	clients := m.clientsFor(ctx, absPath)
	if len(clients) == 0 {
		return nil
	}

	var all []protocol.Diagnostic
	for _, c := range clients {
		diags, err := c.notifyAndWait(ctx, absPath, timeout)
		if err != nil {
			log.Error().Err(err).Str("server", c.serverID).Msg("lsp notify failed")
			continue
		}
		all = append(all, diags...)
	}

	m.mu.Lock()
	cb := m.callback
	m.mu.Unlock()
	if cb != nil {
		cb(absPath, severityByLine(all))
	}
	return all
}

// StopAll shuts every running server down.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	for _, c := range clients {
		if err := c.close(ctx); err != nil {
			log.Error().Err(err).Str("server", c.serverID).Msg("lsp shutdown failed")
		}
	}
}

// pendingServer is a server selected for startup, captured under the lock
// and started outside it (startup blocks on process spawn + initialize).
type pendingServer struct {
	name    string
	cfg     *powernapconfig.ServerConfig
	root    string
	cmdPath string
}

// clientsFor returns running clients for absPath's language, starting any
// configured servers that aren't up yet.
func (m *Manager) clientsFor(ctx context.Context, absPath string) []*Client {
	lang := string(powernap.DetectLanguage(absPath))
	if lang == "" {
		return nil
	}

	m.mu.Lock()
	var ready []*Client
	var toStart []pendingServer
	for name, cfg := range m.cfgMgr.GetServers() {
		switch {
		case !serverHandles(cfg, lang), m.broken[name]:
			continue
		}
		if c, ok := m.clients[name]; ok {
			ready = append(ready, c)
			continue
		}
		if neverAutoStart[cfg.Command] {
			m.broken[name] = true
			continue
		}
		cmdPath := resolveCommand(cfg.Command)
		if cmdPath == "" {
			m.broken[name] = true
			continue
		}
		root := projectRoot(absPath, cfg.RootMarkers)
		toStart = append(toStart, pendingServer{name: name, cfg: cfg, root: root, cmdPath: cmdPath})
	}
	m.mu.Unlock()

	for _, s := range toStart {
		c, err := m.startServer(ctx, s)
		m.mu.Lock()
		if err != nil {
			log.Error().Err(err).Str("server", s.name).Msg("lsp start failed")
			m.broken[s.name] = true
		} else {
			m.clients[s.name] = c
			ready = append(ready, c)
		}
		m.mu.Unlock()
	}
	return ready
}

// startServer spawns and initializes one language server.
func (m *Manager) startServer(ctx context.Context, s pendingServer) (*Client, error) {
	rootURI := string(protocol.URIFromPath(s.root))
	c, err := newClient(s.name, powernap.ClientConfig{
		Command:     s.cmdPath,
		Args:        s.cfg.Args,
		RootURI:     rootURI,
		Environment: s.cfg.Environment,
		Settings:    s.cfg.Settings,
		InitOptions: s.cfg.InitOptions,
		WorkspaceFolders: []protocol.WorkspaceFolder{
			{URI: rootURI, Name: filepath.Base(s.root)},
		},
	})
	if err != nil {
		return nil, err
	}

	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := c.initialize(initCtx); err != nil {
		_ = c.close(ctx)
		return nil, fmt.Errorf("initialize: %w", err)
	}

	log.Info().Str("server", s.name).Str("root", s.root).Msg("lsp server started")
	return c, nil
}

// serverHandles reports whether cfg claims the language id.
func serverHandles(cfg *powernapconfig.ServerConfig, lang string) bool {
	for _, ft := range cfg.FileTypes {
		if ft == lang {
			return true
		}
	}
	return false
}

// projectRoot walks up from absPath to the first directory containing one
// of the root markers, falling back to the working directory.
func projectRoot(absPath string, markers []string) string {
	dir := filepath.Dir(absPath)
	for {
		for _, marker := range markers {
			if matches, _ := filepath.Glob(filepath.Join(dir, marker)); len(matches) > 0 {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			cwd, _ := os.Getwd()
			return cwd
		}
		dir = parent
	}
}

// severityByLine folds diagnostics into line -> strongest severity,
// keeping only errors and warnings.
func severityByLine(diags []protocol.Diagnostic) map[int]int {
	if len(diags) == 0 {
		return nil
	}
	lines := make(map[int]int)
	for _, d := range diags {
		sev := int(d.Severity)
		if sev != SeverityError && sev != SeverityWarning {
			continue
		}
		line := int(d.Range.Start.Line)
		if prev, seen := lines[line]; !seen || sev < prev {
			lines[line] = sev
		}
	}
	return lines
}

// maxReportedDiags caps the block appended to tool results.
const maxReportedDiags = 20

// FormatDiagnostics renders errors/warnings as the block appended to read
// and edit tool results. Empty when there is nothing actionable.
func FormatDiagnostics(displayPath string, diags []protocol.Diagnostic) string {
	relevant := diags[:0:0]
	for _, d := range diags {
		if sev := int(d.Severity); sev == SeverityError || sev == SeverityWarning {
			relevant = append(relevant, d)
		}
	}
	if len(relevant) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\nLSP diagnostics:\n<diagnostics file=%q>\n", displayPath)
	for i, d := range relevant {
		if i == maxReportedDiags {
			fmt.Fprintf(&b, "... and %d more\n", len(relevant)-maxReportedDiags)
			break
		}
		label := "WARNING"
		if int(d.Severity) == SeverityError {
			label = "ERROR"
		}
		fmt.Fprintf(&b, "%s [%d:%d] %s\n", label, d.Range.Start.Line+1, d.Range.Start.Character+1, d.Message)
	}
	b.WriteString("</diagnostics>")
	return b.String()
}

// resolveCommand finds a server binary on PATH, then in the language
// toolchain bin directories that commonly aren't.
func resolveCommand(command string) string {
	if p, err := exec.LookPath(command); err == nil {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	dirs := []string{}
	if gobin := os.Getenv("GOBIN"); gobin != "" {
		dirs = append(dirs, gobin)
	}
	if gopath := os.Getenv("GOPATH"); gopath != "" {
		dirs = append(dirs, filepath.Join(gopath, "bin"))
	}
	dirs = append(dirs,
		filepath.Join(home, "go", "bin"),
		filepath.Join(home, ".cargo", "bin"),
		filepath.Join(home, ".local", "bin"),
	)
	for _, dir := range dirs {
		p := filepath.Join(dir, command)
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
	}
	return ""
}
