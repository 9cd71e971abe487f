package planloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Generator is the minimal LLM surface the plan loop needs: a single
// request/response round trip with no tool use. The concrete wire protocol
// lives in internal/provider and is out of scope for this package (spec.md
// §1 marks concrete LLM wire protocols as an external collaborator
// concern); planloop only needs a text-in/text-out call.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// SteeringChoice is the user's response to the blocking steering dialog.
type SteeringChoice int

const (
	SteeringContinue SteeringChoice = iota
	SteeringApprove
	SteeringCancel
)

// Steerer presents the blocking steering dialog (§4.7 step 5) and returns
// the user's choice plus optional custom feedback when continuing.
type Steerer interface {
	AskSteering(ctx context.Context, iter Iteration, convergence ConvergenceState) (SteeringChoice, string)
}

// Loop drives IMPCPD for a single user task.
type Loop struct {
	gen     Generator
	steerer Steerer
	cfg     Config
}

// New returns a Loop.
func New(gen Generator, steerer Steerer, cfg Config) *Loop {
	return &Loop{gen: gen, steerer: steerer, cfg: cfg}
}

// Run executes the full IMPCPD loop for task and returns the terminal
// Result.
func (l *Loop) Run(ctx context.Context, task string) (Result, error) {
	var history []Iteration
	steering := ""

	for n := 1; n <= l.cfg.MaxIterations; n++ {
		planText, err := l.generate(ctx, task, history, steering)
		if err != nil {
			return Result{}, fmt.Errorf("planloop: generate iteration %d: %w", n, err)
		}

		personas := SelectPersonas(planText)
		critiques, err := l.critique(ctx, planText, personas)
		if err != nil {
			// Soft-degrade to empty critique per spec §7 (malformed critique
			// JSON is not fatal).
			critiques = nil
		}

		iter := Iteration{Number: n, PlanText: planText, Critiques: critiques, Steering: steering}
		history = append(history, iter)

		var convergence ConvergenceState = Continuing
		if n >= 2 {
			prev := history[n-2].PlanText
			convergence = CheckConvergence(prev, planText, critiques, l.cfg.ConvergenceThreshold)
			if convergence == Stable {
				return Result{Outcome: OutcomeConverged, Final: iter, History: history}, nil
			}
		}

		choice, feedback := l.steerer.AskSteering(ctx, iter, convergence)
		switch choice {
		case SteeringApprove:
			return Result{Outcome: OutcomeUserApproved, Final: iter, History: history}, nil
		case SteeringCancel:
			return Result{Outcome: OutcomeCancelled, Final: iter, History: history}, nil
		default:
			steering = feedback
		}
	}

	return Result{Outcome: OutcomeMaxIterations, Final: history[len(history)-1], History: history}, nil
}

func (l *Loop) generate(ctx context.Context, task string, history []Iteration, steering string) (string, error) {
	var b strings.Builder
	b.WriteString("Task: ")
	b.WriteString(task)
	b.WriteString("\n\n")
	if len(history) > 0 {
		b.WriteString("Prior iterations:\n")
		for _, it := range history {
			fmt.Fprintf(&b, "--- iteration %d ---\n%s\n", it.Number, it.PlanText)
			for _, c := range it.Critiques {
				fmt.Fprintf(&b, "  [%s] %s (severity=%d confidence=%d)\n", c.Persona, c.Concern, c.Severity, c.Confidence)
			}
		}
	}
	if steering != "" {
		b.WriteString("\nUser steering feedback: ")
		b.WriteString(steering)
		b.WriteString("\n")
	}
	b.WriteString("\nProduce a tightly scoped, numbered implementation plan naming explicit files.")

	return l.gen.Generate(ctx, planGenerateSystemPrompt, b.String())
}

func (l *Loop) critique(ctx context.Context, planText string, personas []string) ([]CritiqueItem, error) {
	prompt := fmt.Sprintf(
		"Plan under review:\n%s\n\nAs these critics — %s — return a JSON array of critique items, "+
			"each shaped {\"persona\":string,\"concern\":string,\"step_ref\":string,\"severity\":1-10,\"confidence\":1-10}.",
		planText, strings.Join(personas, ", "),
	)
	raw, err := l.gen.Generate(ctx, planCritiqueSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	cleaned := stripMarkdownFences(raw)
	var items []CritiqueItem
	if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
		return nil, fmt.Errorf("planloop: malformed critique JSON: %w", err)
	}
	return items, nil
}

const planGenerateSystemPrompt = "You are the planning stage of an iterative software change process. Produce a concise, numbered implementation plan."
const planCritiqueSystemPrompt = "You are an adversarial multi-persona reviewer. Output only a JSON array, no prose."

// stripMarkdownFences removes a leading/trailing ```...``` fence, if present,
// so lenient JSON parsing can proceed (spec §4.7 step 3).
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		// drop an optional language tag on the fence's first line
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
