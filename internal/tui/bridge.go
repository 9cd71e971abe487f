package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/rs/zerolog/log"

	"github.com/darwin-finch/finch/internal/conversation"
	"github.com/darwin-finch/finch/internal/orchestrator"
	"github.com/darwin-finch/finch/internal/planloop"
	"github.com/darwin-finch/finch/internal/tools"
	"github.com/darwin-finch/finch/internal/tui/dialog"
)

// This file holds the bridges between background goroutines (tool
// executors, the plan loop) and the update loop: each blocking question
// becomes a message on m.ctrl carrying a one-shot reply channel.

type steeringReply struct {
	choice   planloop.SteeringChoice
	feedback string
}

type presentPlanReply struct {
	decision tools.PlanDecision
	feedback string
}

// rateLast captures feedback for the latest exchange (weights good=1,
// medium=3, critical=10).
func (m *Model) rateLast(rating orchestrator.Rating, note string) tea.Cmd {
	if m.feedback == nil {
		m.notice = "feedback store unavailable"
		return nil
	}
	entry, err := m.orch.CaptureFeedback(rating, note)
	if err != nil {
		m.notice = "nothing to rate yet"
		return nil
	}
	m.notice = fmt.Sprintf("rated %s (weight %d)", rating, entry.Weight)
	return nil
}

// startPlanLoop runs IMPCPD for task on a background goroutine, blocking
// each iteration on the inline steering dialog.
func (m *Model) startPlanLoop(task string) tea.Cmd {
	m.orch.SetMode(tools.ModePlanning)
	m.notice = "plan mode on — refining a plan for: " + task

	gen := planloop.OrchestratorGenerator{Stream: m.orch.Stream()}
	steerer := ctrlSteerer{ch: m.ctrl}
	ch := m.ctrl

	go func() {
		result, err := planloop.New(gen, steerer, planloop.DefaultConfig()).Run(context.Background(), task)
		if err != nil {
			log.Warn().Err(err).Msg("plan loop failed")
			ch <- planDoneMsg{note: "plan loop failed: " + err.Error()}
			return
		}
		switch result.Outcome {
		case planloop.OutcomeUserApproved, planloop.OutcomeConverged:
			ch <- planDoneMsg{approved: true, plan: result.Final.PlanText}
		case planloop.OutcomeCancelled:
			ch <- planDoneMsg{note: "planning cancelled"}
		default:
			ch <- planDoneMsg{note: "plan loop stopped after max iterations", plan: result.Final.PlanText}
		}
	}()
	return nil
}

// ctrlSteerer satisfies planloop.Steerer by bouncing each steering prompt
// through the update loop as an inline dialog.
type ctrlSteerer struct {
	ch chan<- tea.Msg
}

func (s ctrlSteerer) AskSteering(ctx context.Context, iter planloop.Iteration, convergence planloop.ConvergenceState) (planloop.SteeringChoice, string) {
	title := fmt.Sprintf("Plan iteration %d", iter.Number)
	if convergence == planloop.ScopeRunaway {
		title += " — warning: plan scope is growing fast"
	}
	reply := make(chan steeringReply, 1)
	select {
	case s.ch <- steeringRequestMsg{title: title, reply: reply}:
	case <-ctx.Done():
		return planloop.SteeringCancel, ""
	}
	select {
	case r := <-reply:
		return r.choice, r.feedback
	case <-ctx.Done():
		return planloop.SteeringCancel, ""
	}
}

// openSteeringDialog renders the per-iteration steering choice.
func (m *Model) openSteeringDialog(req steeringRequestMsg) {
	opts := []dialog.Option{
		{Label: "Continue", Desc: "run another refinement iteration"},
		{Label: "Approve", Desc: "accept this plan and start executing"},
		{Label: "Cancel", Desc: "abandon planning"},
	}
	reply := req.reply
	m.dialog = &activeDialog{
		dlg: dialog.NewSelect(req.title, opts, m.styles.dialogStyles()),
		resolve: func(res dialog.Result) {
			r := steeringReply{choice: planloop.SteeringContinue}
			switch {
			case res.Canceled || res.Option == "Cancel":
				r.choice = planloop.SteeringCancel
			case res.Option == "Approve":
				r.choice = planloop.SteeringApprove
			case res.Option != "Continue":
				// A custom "Other" entry is steering feedback.
				r.feedback = res.Option
			}
			select {
			case reply <- r:
			default:
			}
		},
	}
}

// handlePlanDone applies the loop's terminal outcome: an approved plan
// replaces the conversation and flips the REPL to Executing (§4.7 step 6).
func (m *Model) handlePlanDone(msg planDoneMsg) tea.Cmd {
	if msg.approved {
		m.orch.SetMode(tools.ModeExecuting)
		m.orch.ReplaceConversation("Execute this approved plan:\n\n" + msg.plan)
		return tea.Println(m.styles.OK.Render("plan approved — executing") + "\n" + renderMarkdown(msg.plan, m.styles) + "\n")
	}
	m.orch.SetMode(tools.ModeNormal)
	note := msg.note
	if msg.plan != "" {
		note += " — latest draft:\n" + msg.plan
	}
	return tea.Println(m.styles.Dim.Render(note) + "\n")
}

// openPresentPlanDialog renders PresentPlan's three-outcome approval.
func (m *Model) openPresentPlanDialog(req presentPlanRequestMsg) {
	opts := []dialog.Option{
		{Label: "Approve", Desc: "start executing"},
		{Label: "Approve and clear context", Desc: "execute with a fresh conversation"},
		{Label: "Request changes", Desc: "send feedback via o (Other)"},
		{Label: "Reject"},
	}
	reply := req.reply
	m.dialog = &activeDialog{
		dlg: dialog.NewSelect("Approve this plan?\n"+lastLines(req.plan, 8), opts, m.styles.dialogStyles()),
		resolve: func(res dialog.Result) {
			r := presentPlanReply{decision: tools.PlanReject}
			switch {
			case res.Canceled:
			case res.Option == "Approve":
				r.decision = tools.PlanApprove
			case res.Option == "Approve and clear context":
				r.decision = tools.PlanApproveClearContext
			case res.Option == "Request changes":
				r.decision = tools.PlanRequestChanges
			case res.Option != "Reject":
				r.decision = tools.PlanRequestChanges
				r.feedback = res.Option
			}
			select {
			case reply <- r:
			default:
			}
		},
	}
}

// PlanPresenter returns the tools.PlanPresenter that drives the inline
// approval dialog; the REPL passes it to NewPresentPlanTool.
func PlanPresenter(ctrl chan<- tea.Msg) tools.PlanPresenter {
	return func(ctx context.Context, planText string) (tools.PlanDecision, string, error) {
		reply := make(chan presentPlanReply, 1)
		select {
		case ctrl <- presentPlanRequestMsg{plan: planText, reply: reply}:
		case <-ctx.Done():
			return tools.PlanReject, "", ctx.Err()
		}
		select {
		case r := <-reply:
			return r.decision, r.feedback, nil
		case <-ctx.Done():
			return tools.PlanReject, "", ctx.Err()
		}
	}
}

// QuestionPrompter returns the tools.QuestionPrompter that renders the
// tabbed AskUserQuestion dialog; unanswered dialogs time out to the
// caller's "[no answer]" after 30s.
func QuestionPrompter(ctrl chan<- tea.Msg) tools.QuestionPrompter {
	return func(ctx context.Context, qs []tools.Question) (map[string]string, error) {
		tabbed := make([]dialog.TabbedQuestion, len(qs))
		for i, q := range qs {
			tabbed[i] = dialog.TabbedQuestion{
				Header:      q.Header,
				Question:    q.Question,
				Options:     q.Options,
				MultiSelect: q.MultiSelect,
			}
		}
		reply := make(chan map[string]string, 1)
		select {
		case ctrl <- askUserRequestMsg{questions: tabbed, reply: reply}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		timer := time.NewTimer(30 * time.Second)
		defer timer.Stop()
		select {
		case answers := <-reply:
			return answers, nil
		case <-timer.C:
			return nil, fmt.Errorf("question dialog timed out")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// imageRef builds a conversation image attachment.
func imageRef(mediaType, data string) conversation.ImageRef {
	return conversation.ImageRef{MediaType: mediaType, Data: data}
}

// toolRequestSummary renders "tool {args...}" compactly for the approval
// dialog title.
func toolRequestSummary(tool string, input map[string]any) string {
	if len(input) == 0 {
		return tool
	}
	data, err := json.Marshal(input)
	if err != nil {
		keys := make([]string, 0, len(input))
		for k := range input {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return tool + "(" + strings.Join(keys, ",") + ")"
	}
	args := string(data)
	if len(args) > 60 {
		args = args[:57] + "…"
	}
	return tool + " " + args
}

// formatStats renders the status bar's model/token/latency segment.
func formatStats(e orchestrator.StatsUpdate) string {
	return fmt.Sprintf("%s · %d in / %d out · %dms", e.Model, e.InputTokens, e.OutputTokens, e.LatencyMS)
}
