// Package tui is the interactive REPL surface (C4): a live area pinned to
// the bottom of the terminal — active work unit, working-directory
// separator, inline dialog or input editor, status line — while completed
// turns are committed once to the terminal's own scrollback above it.
package tui

import (
	"context"
	"os"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/darwin-finch/finch/internal/brain"
	"github.com/darwin-finch/finch/internal/constants"
	"github.com/darwin-finch/finch/internal/conversation"
	"github.com/darwin-finch/finch/internal/orchestrator"
	"github.com/darwin-finch/finch/internal/provider"
	"github.com/darwin-finch/finch/internal/router"
	"github.com/darwin-finch/finch/internal/store"
	"github.com/darwin-finch/finch/internal/tools"
	"github.com/darwin-finch/finch/internal/tui/dialog"
	"github.com/darwin-finch/finch/internal/tui/editor"
)

// activeDialog pairs an inline dialog with what happens when it resolves.
type activeDialog struct {
	dlg     dialog.Dialog
	resolve func(dialog.Result)
}

// Model is the Bubble Tea model for the REPL. Rendering is inline (no alt
// screen): bubbletea owns the bottom rows, scrollback accumulates above.
type Model struct {
	width, height int
	styles        Styles

	orch   *orchestrator.Orchestrator
	render *RenderState

	input editor.Model
	ghost *CommandRegistry

	// ctrl carries bridge messages (approval requests, plan steering,
	// tabbed questions) from background goroutines into the update loop.
	ctrl chan tea.Msg

	dialog *activeDialog

	activeQueryID string
	queryStarted  time.Time
	spinTick      int
	statsLine     string
	notice        string

	perms    *tools.PermissionManager
	rtr      *router.Router
	feedback *store.FeedbackStore
	metrics  *store.MetricsWriter
	chain    *provider.Chain

	brainStream  orchestrator.Streamer
	brainReg     *tools.Registry
	brainSession *brain.Session
	brainSlot    *brain.ContextSlot
	brainEvents  chan orchestrator.Event
	brainInput   string

	imageQueue []conversation.ImageRef

	inputHistory []string
	historyPos   int
	historyDraft string
	historyPath  string

	cwd         string
	syntaxTheme string
	quitting    bool
}

// New builds the REPL model around a running orchestrator.
func New(orch *orchestrator.Orchestrator) Model {
	sty := DefaultStyles()

	in := editor.New()
	in.Placeholder = "Type a message..."
	in.PlaceholderSty = sty.Dim
	in.CursorSty = sty.Accent.Reverse(true)
	in.Focus()

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	return Model{
		styles:      sty,
		orch:        orch,
		render:      NewRenderState(),
		input:       in,
		ghost:       DefaultCommands(),
		ctrl:        make(chan tea.Msg, 64),
		historyPos:  -1,
		cwd:         cwd,
		syntaxTheme: constants.SyntaxTheme,
	}
}

// SetTheme maps the config's active_theme onto the Chroma theme used for
// committed code blocks.
func (m *Model) SetTheme(activeTheme string) {
	m.syntaxTheme = constants.SyntaxThemeFor(activeTheme)
}

// SetPermissions wires the permission manager and routes its Ask decisions
// through the update loop as approval dialogs.
func (m *Model) SetPermissions(perms *tools.PermissionManager) {
	m.perms = perms
	if perms == nil {
		return
	}
	ch := m.ctrl
	perms.OnApprovalRequested(func(tool string, input map[string]any, resultCh chan tools.Decision) {
		ch <- approvalRequestMsg{tool: tool, input: input, resultCh: resultCh}
	})
}

// SetRouter wires the threshold router for /training and /local.
func (m *Model) SetRouter(r *router.Router) { m.rtr = r }

// SetChain wires the provider fallback chain for /provider list/switch.
func (m *Model) SetChain(c *provider.Chain) { m.chain = c }

// SetFeedback wires the store the rating commands append to.
func (m *Model) SetFeedback(fs *store.FeedbackStore) { m.feedback = fs }

// SetMetrics wires the daily metrics writer completed turns report to.
func (m *Model) SetMetrics(mw *store.MetricsWriter) { m.metrics = mw }

// SetBrain wires the background context agent: a provider stream and a
// registry restricted to the read-only tool subset.
func (m *Model) SetBrain(stream orchestrator.Streamer, reg *tools.Registry) {
	m.brainStream = stream
	m.brainReg = reg
	m.brainEvents = make(chan orchestrator.Event, 8)
	m.brainSlot = &brain.ContextSlot{}
}

// SetInputHistory seeds recall state from the persisted history file and
// remembers where to save it at shutdown.
func (m *Model) SetInputHistory(lines []string, path string) {
	m.inputHistory = lines
	m.historyPath = path
	m.historyPos = -1
}

// Ctrl exposes the bridge channel for collaborators registered outside
// this package (the PresentPlan presenter, the AskUserQuestion prompter).
func (m *Model) Ctrl() chan<- tea.Msg { return m.ctrl }

// Init starts the animation tick, the cleanup tick, and the event waiters.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{animTick(), cleanupTick(), m.waitForOrchEvent(), m.waitForCtrl()}
	if m.brainEvents != nil {
		cmds = append(cmds, m.waitForBrainEvent())
	}
	return tea.Batch(cmds...)
}

// waitForOrchEvent blocks on the orchestrator's event channel.
func (m Model) waitForOrchEvent() tea.Cmd {
	ch := m.orch.Events()
	return func() tea.Msg {
		evt, ok := <-ch
		if !ok {
			return nil
		}
		return orchEventMsg{evt}
	}
}

// waitForCtrl blocks on the bridge channel.
func (m Model) waitForCtrl() tea.Cmd {
	ch := m.ctrl
	return func() tea.Msg { return <-ch }
}

// waitForBrainEvent surfaces brain questions.
func (m Model) waitForBrainEvent() tea.Cmd {
	ch := m.brainEvents
	return func() tea.Msg {
		evt, ok := <-ch
		if !ok {
			return nil
		}
		if q, isQ := evt.(orchestrator.BrainQuestion); isQ {
			return brainQuestionMsg{q: q}
		}
		return skipBrainEventMsg{}
	}
}

// animTick drives the 100ms throb animation (§4.4 render cycle).
func animTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// cleanupTick drops terminal queries past their 30s retention (§4.5).
func cleanupTick() tea.Cmd {
	return tea.Tick(30*time.Second, func(t time.Time) tea.Msg { return cleanupMsg(t) })
}

type (
	tickMsg           time.Time
	cleanupMsg        time.Time
	orchEventMsg      struct{ evt orchestrator.Event }
	brainQuestionMsg  struct{ q orchestrator.BrainQuestion }
	skipBrainEventMsg struct{}

	approvalRequestMsg struct {
		tool     string
		input    map[string]any
		resultCh chan tools.Decision
	}

	// steeringRequestMsg blocks the plan loop on the user's choice.
	steeringRequestMsg struct {
		title string
		reply chan steeringReply
	}

	// askUserRequestMsg blocks an AskUserQuestion tool call on the
	// tabbed dialog.
	askUserRequestMsg struct {
		questions []dialog.TabbedQuestion
		reply     chan map[string]string
	}

	// presentPlanRequestMsg blocks a PresentPlan tool call on the
	// approval dialog.
	presentPlanRequestMsg struct {
		plan  string
		reply chan presentPlanReply
	}

	planDoneMsg struct {
		approved bool
		plan     string
		note     string
	}
)

// maybeStartBrain spawns a speculative session once the partial input is
// substantial, restarting when the input has drifted from what the
// previous session saw.
func (m *Model) maybeStartBrain() tea.Cmd {
	if m.brainStream == nil || m.brainReg == nil || m.activeQueryID != "" {
		return nil
	}
	partial := m.input.Value()
	if len(partial) < brainMinInput || partial == "" || partial[0] == '/' {
		return nil
	}
	if m.brainSession != nil {
		select {
		case <-m.brainSession.Done():
		default:
			return nil
		}
		if partial == m.brainInput {
			return nil
		}
	}

	session := brain.NewSession(brain.Options{
		Stream:       m.brainStream,
		Registry:     m.brainReg,
		Events:       m.brainEvents,
		Slot:         m.brainSlot,
		PartialInput: partial,
		WorkingDir:   m.cwd,
	})
	session.Start(context.Background())
	m.brainSession = session
	m.brainInput = partial
	return nil
}

// brainMinInput is how much the user must have typed before a speculative
// session is worth spawning.
const brainMinInput = 12

// cancelBrain aborts the active session; the cancelled flag wins any race
// with its write-to-slot step.
func (m *Model) cancelBrain() {
	if m.brainSession != nil {
		m.brainSession.Cancel()
		m.brainSession = nil
	}
}

// drainBrainContext hands the accumulated summary to the submitting query
// and clears the slot for the next speculative session.
func (m *Model) drainBrainContext() string {
	if m.brainSlot == nil {
		return ""
	}
	summary := m.brainSlot.Get()
	m.brainSlot.Clear()
	return summary
}
