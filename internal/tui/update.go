package tui

import (
	"context"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/rs/zerolog/log"

	"github.com/darwin-finch/finch/internal/orchestrator"
	"github.com/darwin-finch/finch/internal/store"
	"github.com/darwin-finch/finch/internal/tools"
	"github.com/darwin-finch/finch/internal/tui/dialog"
)

// Update is the event-loop entry point. An open inline dialog captures key
// input first; everything else flows to the REPL's own bindings and then
// the input editor.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyPressMsg:
		return m.handleKey(msg)

	case tea.PasteMsg:
		if !m.queueImageIfPasted(msg.Content) {
			m.input.InsertText(msg.Content)
		}
		return m, nil

	case tea.ClipboardMsg:
		if !m.queueImageIfPasted(msg.Content) {
			m.input.InsertText(msg.Content)
		}
		return m, nil

	case tickMsg:
		m.spinTick++
		cmd := m.commitFinished()
		return m, tea.Batch(animTick(), cmd)

	case cleanupMsg:
		m.orch.CleanupTick(time.Time(msg))
		return m, cleanupTick()

	case orchEventMsg:
		cmd := m.handleOrchEvent(msg.evt)
		return m, tea.Batch(m.waitForOrchEvent(), cmd)

	case brainQuestionMsg:
		m.openBrainQuestion(msg.q)
		return m, m.waitForBrainEvent()

	case skipBrainEventMsg:
		return m, m.waitForBrainEvent()

	case approvalRequestMsg:
		m.openApprovalDialog(msg)
		return m, m.waitForCtrl()

	case steeringRequestMsg:
		m.openSteeringDialog(msg)
		return m, m.waitForCtrl()

	case askUserRequestMsg:
		m.openAskUserDialog(msg)
		return m, m.waitForCtrl()

	case presentPlanRequestMsg:
		m.openPresentPlanDialog(msg)
		return m, m.waitForCtrl()

	case planDoneMsg:
		cmd := m.handlePlanDone(msg)
		return m, cmd
	}

	return m, nil
}

// handleKey routes one key press.
func (m Model) handleKey(key tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	// Dialogs capture everything while open (Esc resolves as Cancelled).
	if m.dialog != nil {
		done, result := m.dialog.dlg.HandleKey(key)
		if done {
			resolve := m.dialog.resolve
			m.dialog = nil
			if resolve != nil {
				resolve(result)
			}
		}
		return m, nil
	}

	switch key.Keystroke() {
	case "ctrl+c":
		return m.handleCtrlC()
	case "enter":
		return m.handleSubmit()
	case "shift+tab":
		return m.cycleMode()
	case "tab":
		if suffix, ok := ComputeGhostText(m.input.Value(), m.ghost); ok {
			m.input.InsertText(suffix)
			return m, nil
		}
	case "ctrl+g":
		return m, m.rateLast(orchestrator.RatingGood, "")
	case "ctrl+b":
		return m, m.rateLast(orchestrator.RatingCritical, "")
	case "up":
		if handled := m.historyUp(); handled {
			return m, nil
		}
	case "down":
		if handled := m.historyDown(); handled {
			return m, nil
		}
	case "esc":
		m.notice = ""
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(key)
	brainCmd := m.maybeStartBrain()
	return m, tea.Batch(cmd, brainCmd)
}

// handleCtrlC cancels a running query, or quits when idle (§4.5 step 7).
func (m Model) handleCtrlC() (tea.Model, tea.Cmd) {
	if m.activeQueryID != "" && m.orch.Cancel() {
		m.notice = "query cancelled"
		cmd := m.commitFinished()
		return m, cmd
	}
	return m.quit()
}

// quit persists history and stops the program.
func (m Model) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	m.cancelBrain()
	if m.historyPath != "" {
		_ = store.SaveHistory(m.historyPath, m.inputHistory)
	}
	return m, tea.Quit
}

// handleSubmit sends the input line: slash commands run locally, anything
// else becomes a query (echoed to scrollback first, per §4.5 step 1).
func (m Model) handleSubmit() (tea.Model, tea.Cmd) {
	line := m.input.Value()
	if strings.TrimSpace(line) == "" {
		return m, nil
	}
	m.input.Reset()
	m.rememberInput(line)

	if cmd, handled := m.handleSlashCommand(line); handled {
		return m, cmd
	}

	if m.activeQueryID != "" {
		m.notice = "a query is already running — Ctrl+C cancels it"
		return m, nil
	}

	// A new query supersedes any speculative brain session; cancellation
	// wins the slot-write race.
	m.cancelBrain()
	content := expandAtMentions(line)
	if summary := m.drainBrainContext(); summary != "" {
		content += "\n\n<background-context>\n" + summary + "\n</background-context>"
	}
	images := m.imageQueue
	m.imageQueue = nil

	q, err := m.orch.SubmitWith(context.Background(), content, images)
	if err != nil {
		m.notice = "submit failed: " + err.Error()
		return m, nil
	}
	m.activeQueryID = q.ID
	m.queryStarted = time.Now()
	m.notice = ""

	echo := m.styles.UserEcho.Render("> " + line)
	return m, tea.Println(echo)
}

// cycleMode steps Normal -> Planning -> Executing -> Normal (Shift-Tab).
func (m Model) cycleMode() (tea.Model, tea.Cmd) {
	switch m.orch.Mode() {
	case tools.ModeNormal:
		m.orch.SetMode(tools.ModePlanning)
		m.notice = "plan mode on — only inspection tools are allowed"
	case tools.ModePlanning:
		m.orch.SetMode(tools.ModeExecuting)
		m.notice = "executing mode"
	default:
		m.orch.SetMode(tools.ModeNormal)
		m.notice = "normal mode"
	}
	return m, nil
}

// handleOrchEvent reacts to orchestrator events.
func (m *Model) handleOrchEvent(evt orchestrator.Event) tea.Cmd {
	switch e := evt.(type) {
	case orchestrator.StatsUpdate:
		m.statsLine = formatStats(e)
		if m.metrics != nil {
			mw := m.metrics
			rec := store.MetricsEvent{
				Kind:         store.MetricQueryCompleted,
				Model:        e.Model,
				LatencyMS:    e.LatencyMS,
				InputTokens:  e.InputTokens,
				OutputTokens: e.OutputTokens,
			}
			go func() {
				if err := mw.Record(rec); err != nil {
					log.Warn().Err(err).Msg("metrics record failed")
				}
			}()
		}
	case orchestrator.QueryComplete, orchestrator.QueryFailed:
		return m.commitFinished()
	}
	return nil
}

// commitFinished runs the commit phase: every query whose work unit just
// reached a terminal status is printed once to permanent scrollback,
// followed by one blank line, and the live area lets go of it.
func (m *Model) commitFinished() tea.Cmd {
	var cmds []tea.Cmd
	for _, id := range []string{m.activeQueryID} {
		if id == "" {
			continue
		}
		q, ok := m.orch.Query(id)
		if !ok {
			m.activeQueryID = ""
			continue
		}
		if !q.State.Terminal() {
			continue
		}
		if m.render.MarkCommitted(id) {
			if unit, ok := m.orch.WorkUnit(id); ok {
				cmds = append(cmds, tea.Println(m.committedBlock(q, unit)+"\n"))
			}
		}
		m.activeQueryID = ""
	}
	if len(cmds) == 0 {
		return nil
	}
	return tea.Batch(cmds...)
}

// historyUp recalls the previous input when the cursor is on the first
// line. Returns false to let the key fall through to cursor movement.
func (m *Model) historyUp() bool {
	if m.input.CursorRow() != 0 || len(m.inputHistory) == 0 {
		return false
	}
	if m.historyPos+1 >= len(m.inputHistory) {
		return true
	}
	if m.historyPos == -1 {
		m.historyDraft = m.input.Value()
	}
	m.historyPos++
	m.input.SetValue(m.inputHistory[m.historyPos])
	return true
}

// historyDown walks back toward the in-progress draft.
func (m *Model) historyDown() bool {
	if m.historyPos <= -1 || len(m.inputHistory) == 0 {
		return false
	}
	if m.input.CursorRow() != m.input.LineCount()-1 {
		return false
	}
	m.historyPos--
	if m.historyPos == -1 {
		m.input.SetValue(m.historyDraft)
	} else {
		m.input.SetValue(m.inputHistory[m.historyPos])
	}
	return true
}

// rememberInput records a submitted line at the head of the history.
func (m *Model) rememberInput(line string) {
	m.historyPos = -1
	if line == "" || (len(m.inputHistory) > 0 && m.inputHistory[0] == line) {
		return
	}
	m.inputHistory = append([]string{line}, m.inputHistory...)
}

// queueImageIfPasted recognizes a data-URI image paste and queues it until
// the next submit instead of inserting the base64 blob into the editor.
func (m *Model) queueImageIfPasted(text string) bool {
	if !strings.HasPrefix(text, "data:image/") {
		return false
	}
	rest := strings.TrimPrefix(text, "data:")
	sep := strings.Index(rest, ";base64,")
	if sep < 0 {
		return false
	}
	m.imageQueue = append(m.imageQueue, imageRef(rest[:sep], strings.TrimSpace(rest[sep+len(";base64,"):])))
	m.notice = "image queued — it will attach to your next message"
	return true
}

// openApprovalDialog renders an Ask decision as an inline Select.
func (m *Model) openApprovalDialog(req approvalRequestMsg) {
	opts := []dialog.Option{
		{Label: "Allow once"},
		{Label: "Allow for this session"},
		{Label: "Allow this pattern for the session"},
		{Label: "Always allow"},
		{Label: "Always allow this pattern"},
		{Label: "Deny"},
	}
	scopes := map[string]tools.Decision{
		"Allow once":                         tools.AllowOnce,
		"Allow for this session":             tools.AllowExactSession,
		"Allow this pattern for the session": tools.AllowPatternSession,
		"Always allow":                       tools.AllowExactPersistent,
		"Always allow this pattern":          tools.AllowPatternPersistent,
		"Deny":                               tools.Deny,
	}
	title := "Allow " + toolRequestSummary(req.tool, req.input) + "?"
	perms := m.perms
	m.dialog = &activeDialog{
		dlg: dialog.NewSelect(title, opts, m.styles.dialogStyles()),
		resolve: func(res dialog.Result) {
			// Esc denies the pending approval (§5 cancellation).
			scope, ok := scopes[res.Option]
			if res.Canceled || !ok {
				scope = tools.Deny
			}
			if perms != nil && scope != tools.Deny && scope != tools.AllowOnce {
				perms.Grant(req.tool, req.input, scope)
			}
			verdict := tools.AllowOnce
			if scope == tools.Deny {
				verdict = tools.Deny
			}
			select {
			case req.resultCh <- verdict:
			default:
			}
		},
	}
}

// openBrainQuestion renders an ask_user_question from the brain. Dismissal
// sends nothing; the brain's 30s timeout yields "[no answer]".
func (m *Model) openBrainQuestion(q orchestrator.BrainQuestion) {
	options := q.Options
	if len(options) == 0 {
		options = []string{"yes", "no"}
	}
	opts := make([]dialog.Option, len(options))
	for i, o := range options {
		opts[i] = dialog.Option{Label: o}
	}
	reply := q.Reply
	m.dialog = &activeDialog{
		dlg: dialog.NewSelect(q.Question, opts, m.styles.dialogStyles()),
		resolve: func(res dialog.Result) {
			if res.Canceled {
				return
			}
			select {
			case reply <- res.Option:
			default:
			}
		},
	}
}

// openAskUserDialog renders the AskUserQuestion tabbed dialog.
func (m *Model) openAskUserDialog(req askUserRequestMsg) {
	reply := req.reply
	m.dialog = &activeDialog{
		dlg: dialog.NewTabbed(req.questions, m.styles.dialogStyles()),
		resolve: func(res dialog.Result) {
			if res.Canceled {
				return
			}
			select {
			case reply <- res.Answers:
			default:
			}
		},
	}
}
