package tui

import (
	"fmt"
	"sort"
	"strings"

	tea "charm.land/bubbletea/v2"

	"github.com/darwin-finch/finch/internal/license"
	"github.com/darwin-finch/finch/internal/orchestrator"
	"github.com/darwin-finch/finch/internal/tools"
)

// handleSlashCommand executes a `/command` line locally instead of sending
// it to the model. Returns handled=false when input is not a slash
// command, so the caller falls through to a normal submit.
func (m *Model) handleSlashCommand(input string) (tea.Cmd, bool) {
	if !strings.HasPrefix(input, "/") {
		return nil, false
	}
	fields := strings.Fields(input)
	cmd, rest := fields[0], strings.TrimSpace(strings.TrimPrefix(input, fields[0]))

	switch cmd {
	case "/help":
		return tea.Println(m.helpText()), true
	case "/quit", "/exit":
		mdl, quitCmd := m.quit()
		_ = mdl
		return quitCmd, true
	case "/metrics":
		return tea.Println(m.styles.Dim.Render(m.metricsText())), true
	case "/training":
		return tea.Println(m.styles.Dim.Render(m.trainingText())), true
	case "/memory":
		n := len(m.orch.Conversation())
		pct := m.orch.CompactionPercentRemaining(contextTokenBudget)
		return tea.Println(m.styles.Dim.Render(
			fmt.Sprintf("conversation: %d messages · %.0f%% of the context budget remaining", n, pct*100))), true
	case "/plan":
		if rest != "" {
			return m.startPlanLoop(rest), true
		}
		m.orch.SetMode(tools.ModePlanning)
		m.notice = "plan mode on — only inspection tools are allowed (Shift-Tab toggles)"
		return nil, true
	case "/mcp":
		return m.mcpText(rest), true
	case "/good", "/medium", "/critical":
		return m.rateLast(ratingFor(cmd), rest), true
	case "/provider":
		return m.providerText(rest), true
	case "/license":
		return m.licenseText(rest), true
	case "/local":
		if rest == "" {
			m.notice = "usage: /local <query>"
			return nil, true
		}
		if m.rtr == nil || !m.rtr.RouteWithGeneratorCheck(rest, false).Local {
			m.notice = "local generator not ready — forwarding to the cloud provider"
		}
		m.input.SetValue(rest)
		mdl, submitCmd := m.handleSubmit()
		*m = mdl.(Model)
		return submitCmd, true
	default:
		m.notice = "unknown command " + cmd + " — /help lists commands"
		return nil, true
	}
}

// contextTokenBudget is the assumed context budget for the /memory gauge.
const contextTokenBudget = 200_000

func (m *Model) helpText() string {
	names := append([]string(nil), m.ghost.commands...)
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("Commands:")
	for _, name := range names {
		b.WriteString("\n  " + name + " — " + m.ghost.descriptions[name])
	}
	b.WriteString("\nShift-Tab toggles plan mode · Ctrl-G/Ctrl-B rate the last response")
	return m.styles.Dim.Render(b.String())
}

func (m *Model) metricsText() string {
	return "stats: " + firstNonEmpty(m.statsLine, "no completed queries yet")
}

func (m *Model) trainingText() string {
	if m.rtr == nil {
		return "no router state loaded"
	}
	st := m.rtr.Stats()
	return fmt.Sprintf("router: %d queries, %d local attempts, %d successes, threshold %.2f",
		st.TotalQueries, st.TotalLocalAttempts, st.TotalSuccesses, st.ConfidenceThreshold)
}

// mcpText implements /mcp {list,tools,refresh,reload}. The tool set is
// immutable after startup, so refresh just re-reads the registry.
func (m *Model) mcpText(arg string) tea.Cmd {
	switch arg {
	case "", "list", "tools", "refresh", "reload":
		defs := m.orch.Tools()
		if len(defs) == 0 {
			return tea.Println(m.styles.Dim.Render("no tools registered"))
		}
		names := make([]string, 0, len(defs))
		for _, d := range defs {
			names = append(names, d.Name)
		}
		sort.Strings(names)
		return tea.Println(m.styles.Dim.Render(fmt.Sprintf("%d tools:\n  %s", len(names), strings.Join(names, "\n  "))))
	default:
		m.notice = "usage: /mcp {list|tools|refresh|reload}"
		return nil
	}
}

func (m *Model) providerText(arg string) tea.Cmd {
	if m.chain == nil {
		m.notice = "no provider chain attached"
		return nil
	}
	if arg == "" || arg == "list" {
		names := m.chain.Names()
		if len(names) > 0 {
			names[0] = names[0] + "  (active)"
		}
		return tea.Println(m.styles.Dim.Render("provider chain:\n  " + strings.Join(names, "\n  ")))
	}
	if m.chain.Activate(arg) {
		return tea.Println(m.styles.Dim.Render("switched active provider to " + arg))
	}
	m.notice = "no provider named " + arg + " in the chain"
	return nil
}

func (m *Model) licenseText(arg string) tea.Cmd {
	fields := strings.Fields(arg)
	sub := ""
	if len(fields) > 0 {
		sub = fields[0]
	}
	switch sub {
	case "", "status":
		return tea.Println(m.styles.Dim.Render("run `finch license status` for the stored license"))
	case "activate":
		if len(fields) < 2 {
			m.notice = "usage: /license activate <key>"
			return nil
		}
		parsed, err := license.ValidateKey(fields[1])
		if err != nil {
			return tea.Println(m.styles.Error.Render("license invalid: " + err.Error()))
		}
		return tea.Println(m.styles.Dim.Render(fmt.Sprintf(
			"key is valid for %s until %s — run `finch license activate --key ...` to persist",
			parsed.Name, parsed.ExpiresAt.Format("2006-01-02"))))
	case "remove":
		return tea.Println(m.styles.Dim.Render("run `finch license remove` to clear the stored license"))
	default:
		m.notice = "usage: /license {status|activate <key>|remove}"
		return nil
	}
}

func ratingFor(cmd string) orchestrator.Rating {
	return orchestrator.Rating(strings.TrimPrefix(cmd, "/"))
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
