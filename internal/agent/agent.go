package agent

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/darwin-finch/finch/internal/llm"
	"github.com/darwin-finch/finch/internal/mcp"
	"github.com/darwin-finch/finch/internal/persona"
	"github.com/darwin-finch/finch/internal/provider"
)

// MaxToolRounds is the headless per-task tool-call round limit (spec §4.8:
// "limit 25 tool turns per task" — a quarter of the interactive limit in §4.5,
// since there's no user available to intervene on a runaway task).
const MaxToolRounds = 25

// ReflectEvery is the default number of completed tasks between
// reflection passes, overridable via Options.ReflectEvery.
const ReflectEvery = 5

// Options configures one agent Run.
type Options struct {
	Provider    provider.Provider
	Proxy       *mcp.Proxy
	Tools       []mcp.Tool
	PersonaPath string
	TasksPath   string
	ReflectEvery int // 0 uses ReflectEvery
	Once        bool // run at most one task then return, instead of looping forever
}

// Run drains the task backlog at opts.TasksPath, running each Pending task
// to completion with the persona at opts.PersonaPath, until the backlog is
// empty (Once=false: sleeps and reloads) or opts.Once stops after one task.
func Run(ctx context.Context, opts Options) error {
	p, err := persona.Load(opts.PersonaPath)
	if err != nil {
		return fmt.Errorf("agent: load persona: %w", err)
	}

	reflectEvery := opts.ReflectEvery
	if reflectEvery <= 0 {
		reflectEvery = ReflectEvery
	}
	engine := NewReflectionEngine(ProviderGenerator{Provider: opts.Provider}, opts.PersonaPath)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		backlog, err := LoadBacklog(opts.TasksPath)
		if err != nil {
			return err
		}

		task, ok := backlog.NextPending()
		if !ok {
			if opts.Once {
				return nil
			}
			log.Info().Int("tasks", backlog.Len()).Msg("agent: backlog empty, sleeping")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
			continue
		}

		if err := backlog.MarkRunning(task.ID); err != nil {
			return err
		}
		log.Info().Str("task", task.ID).Str("description", task.Description).Msg("agent: starting task")

		result, runErr := runTask(ctx, opts, p, task)
		if runErr != nil {
			reason := runErr.Error()
			if err := backlog.MarkFailed(task.ID, reason); err != nil {
				return err
			}
			log.Error().Str("task", task.ID).Err(runErr).Msg("agent: task failed")
		} else {
			if err := backlog.MarkDone(task.ID, result); err != nil {
				return err
			}
			if p.Behavior.GitName != "" {
				if err := commitChanges(ctx, task, p); err != nil {
					log.Warn().Err(err).Msg("agent: git commit failed")
				}
			}
			log.Info().Str("task", task.ID).Msg("agent: task complete")

			if backlog.CompletedCount()%reflectEvery == 0 {
				recent := recentDoneDescriptions(backlog, reflectEvery)
				if err := engine.Reflect(ctx, recent); err != nil {
					log.Warn().Err(err).Msg("agent: reflection failed")
				} else if reloaded, err := persona.Load(opts.PersonaPath); err == nil {
					p = reloaded
				}
			}
		}

		if opts.Once {
			return nil
		}
	}
}

// runTask executes the tool-calling generation loop for a single task with
// no UI: every tool call is auto-approved (no permission manager, matching
// spec §4.8 "auto-approves all tools").
func runTask(ctx context.Context, opts Options, p *persona.Persona, task Task) (summary string, err error) {
	history := []provider.Message{
		{Role: "system", Content: p.Behavior.SystemPrompt, CreatedAt: time.Now()},
		{Role: "user", Content: task.Description, CreatedAt: time.Now()},
	}

	var finalText string
	procErr := llm.ProcessTurn(ctx, llm.ProcessTurnOptions{
		Provider: opts.Provider,
		Proxy:    opts.Proxy,
		Tools:    opts.Tools,
		History:  history,
		OnMessage: func(msg provider.Message) {
			if msg.Role == "assistant" && msg.Content != "" {
				finalText = msg.Content
			}
		},
		MaxToolRounds: MaxToolRounds,
	})
	if procErr != nil {
		return "", procErr
	}
	return finalText, nil
}

// recentDoneDescriptions returns up to n descriptions of the most recently
// completed tasks, most recent last, for the reflection prompt.
func recentDoneDescriptions(b *Backlog, n int) []string {
	var out []string
	for _, t := range b.tasks {
		if t.Status == StatusDone {
			out = append(out, t.Description)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// commitChanges commits the working tree under the persona's git identity
// with message "agent: {truncated description}" plus the task id and
// persona name (spec §4.8), using the same exec.Command("git", ...) shape
// as internal/mcptools/git.go's runGit.
func commitChanges(ctx context.Context, task Task, p *persona.Persona) error {
	if out, err := runGitIn(ctx, task.RepoPath, "add", "-A"); err != nil {
		return fmt.Errorf("git add: %w (%s)", err, out)
	}

	desc := task.Description
	const maxDesc = 72
	if len(desc) > maxDesc {
		desc = desc[:maxDesc] + "…"
	}
	msg := fmt.Sprintf("agent: %s\n\ntask: %s\npersona: %s", desc, task.ID, p.PersonaInfo.Name)

	args := []string{
		"-c", "user.name=" + p.Behavior.GitName,
		"-c", "user.email=" + p.Behavior.GitEmail,
		"commit", "-m", msg,
	}
	if out, err := runGitIn(ctx, task.RepoPath, args...); err != nil {
		if strings.Contains(out, "nothing to commit") {
			return nil
		}
		return fmt.Errorf("git commit: %w (%s)", err, out)
	}
	return nil
}

func runGitIn(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}
