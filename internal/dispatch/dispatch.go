// Package dispatch owns the asynchronous agent pipelines: plan, think+plan,
// prompt-dry, async ask, and adhoc. Each pipeline runs the agent CLI in a
// goroutine, appends a transcript block to its log file, and reports back to
// the owner through the notifier.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"ashley/internal/agent"
	"ashley/internal/observer"
)

// DefaultAskAgent answers /ask when no agent is named.
const DefaultAskAgent = agent.RolePlanner

// cliTimeoutSec is the --timeout passed to the agent CLI for planning and
// ask runs.
const cliTimeoutSec = 1200

// Runner executes one agent CLI invocation. *agent.Invoker implements it.
type Runner interface {
	Run(ctx context.Context, agentName, message string, cliTimeoutSec int, wallTimeout time.Duration) (agent.Result, error)
}

// Notifier delivers owner-message payloads to the owner's channel.
type Notifier interface {
	SendOwnerMessage(ctx context.Context, agentName, question, response string) error
}

// LessonSource supplies the planner prompt's lessons suffix.
type LessonSource interface {
	PlannerContextSuffix() string
}

// Config carries the dispatcher's tunables and script paths.
type Config struct {
	AskTimeout   time.Duration
	ThinkTimeout time.Duration
	AdhocTimeout time.Duration

	PlannerLog        string
	ThinkLog          string
	AddTasksScript    string
	TaskManagerScript string
}

// Dispatcher runs the pipelines. Workers spawned by Queue* methods are
// tracked so Wait can drain them on shutdown.
type Dispatcher struct {
	runner   Runner
	notifier Notifier
	lessons  LessonSource
	cfg      Config
	logger   *slog.Logger
	obs      *observer.Instruments

	mu sync.Mutex // serializes log file appends
	wg sync.WaitGroup

	// seams for tests
	runScript   func(path, stdin string) (string, string, int, error)
	startScript func(path string) error
}

func New(runner Runner, notifier Notifier, lessons LessonSource, cfg Config, logger *slog.Logger, obs *observer.Instruments) *Dispatcher {
	d := &Dispatcher{
		runner:   runner,
		notifier: notifier,
		lessons:  lessons,
		cfg:      cfg,
		logger:   logger,
		obs:      obs,
	}
	d.runScript = runShellScript
	d.startScript = startShellScript
	return d
}

// Wait blocks until all spawned workers finish.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) spawn(name string, fn func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		start := time.Now()
		ctx := context.Background()
		fn(ctx)
		d.obs.Dispatches.Add(ctx, 1, metric.WithAttributes(attribute.String("pipeline", name)))
		d.obs.DispatchDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("pipeline", name)))
	}()
}

// SpawnPlanner queues a planning run and returns the owner ack.
func (d *Dispatcher) SpawnPlanner(text string) string {
	d.spawn("plan", func(ctx context.Context) { d.plannerRun(ctx, text) })
	return "Queued for planner: " + Preview(text)
}

// SpawnThink queues an optimize-then-plan run and returns the owner ack.
func (d *Dispatcher) SpawnThink(text string) string {
	d.spawn("think", func(ctx context.Context) { d.thinkRun(ctx, text) })
	return "Queued for think+plan: " + Preview(text)
}

// QueuePromptDry queues a prompt optimization whose result is delivered via
// owner-message instead of feeding the planner.
func (d *Dispatcher) QueuePromptDry(text string) string {
	request := strings.TrimSpace(text)
	if request == "" {
		return "Usage: /prompt <request>"
	}
	d.spawn("prompt", func(ctx context.Context) {
		optimized := d.ThinkDry(ctx, request)
		if err := d.notifier.SendOwnerMessage(ctx, agent.RolePlanner, request, optimized); err != nil {
			d.logger.Error("prompt-dry owner message failed", "error", err)
		}
	})
	return "Queued prompt optimization: " + Preview(request) + ". You will receive the optimized prompt via owner-message."
}

// QueueAsk parses an optional leading agent name and queues an async answer.
// Returns the resolved agent and an error reply ("" on success).
func (d *Dispatcher) QueueAsk(question string) (string, string) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", "Usage: /ask <question> or /ask <agent> <question>"
	}

	target := DefaultAskAgent
	if first, rest, found := strings.Cut(question, " "); found {
		if agent.AllowedRoles[strings.ToLower(first)] {
			target = strings.ToLower(first)
			question = strings.TrimSpace(rest)
		}
	}
	if question == "" {
		return "", "Usage: /ask <agent> <question>"
	}

	askAgent, askQuestion := target, question
	d.spawn("ask", func(ctx context.Context) { d.askRun(ctx, askAgent, askQuestion) })
	return target, ""
}

// QueueAdhoc queues a one-off doer run and returns the owner ack.
func (d *Dispatcher) QueueAdhoc(instruction string) string {
	request := strings.TrimSpace(instruction)
	if request == "" {
		return "Usage: /adhoc <one-off instruction>"
	}
	d.spawn("adhoc", func(ctx context.Context) { d.adhocRun(ctx, request) })
	return "Queued adhoc doer request: " + Preview(request) + ". You will receive the result via owner-message."
}

// DispatchFollowUp routes an owner answer back to the asking agent: planner
// questions get a planning run, everything else an adhoc run.
func (d *Dispatcher) DispatchFollowUp(agentName, question, answer string) {
	followUp := FollowUpPrompt(question, answer)
	if agentName == agent.RolePlanner {
		d.spawn("follow-up", func(ctx context.Context) { d.plannerRun(ctx, followUp) })
		return
	}
	d.spawn("follow-up", func(ctx context.Context) { d.adhocRun(ctx, followUp) })
}

// --- Pipeline bodies ---

// plannerRun invokes the planner, extracts its JSON payload, loads it into
// the task table, and kicks the task manager.
func (d *Dispatcher) plannerRun(ctx context.Context, text string) {
	prompt := BuildPlannerPrompt(text, d.lessons.PlannerContextSuffix())
	result, err := d.runner.Run(ctx, agent.RolePlanner, prompt, cliTimeoutSec, 0)

	var block strings.Builder
	block.WriteString("\n=== Planner dispatch ===\n")
	block.WriteString("Request: " + text + "\n")
	block.WriteString("---\n")

	if err != nil {
		block.WriteString(fmt.Sprintf("Planner invocation failed: %v\n", err))
		d.appendLog(d.cfg.PlannerLog, block.String())
		d.obs.DispatchFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("pipeline", "plan")))
		return
	}

	combined := result.Combined()
	if combined != "" {
		block.WriteString(combined + "\n")
	}

	payload := ExtractJSON(combined)
	if payload == "" {
		block.WriteString("Planner output did not include JSON payload.\n")
		d.appendLog(d.cfg.PlannerLog, block.String())
		return
	}

	stdout, stderr, exitCode, err := d.runScript(d.cfg.AddTasksScript, payload)
	if stdout != "" {
		block.WriteString(stdout)
	}
	if stderr != "" {
		block.WriteString(stderr)
	}
	if err != nil || exitCode != 0 {
		block.WriteString("add-tasks-to-db.sh failed.\n")
		d.appendLog(d.cfg.PlannerLog, block.String())
		d.obs.DispatchFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("pipeline", "plan")))
		return
	}
	d.appendLog(d.cfg.PlannerLog, block.String())

	if err := d.startScript(d.cfg.TaskManagerScript); err != nil {
		d.logger.Error("task manager start failed", "error", err)
	}
}

// thinkRun optimizes the request and, when that produces text, feeds it to
// the planner pipeline.
func (d *Dispatcher) thinkRun(ctx context.Context, text string) {
	prompt := BuildThinkPrompt(text)
	result, err := d.runner.Run(ctx, agent.RolePlanner, prompt, cliTimeoutSec, d.cfg.ThinkTimeout)

	var block strings.Builder
	block.WriteString("\n=== Think dispatch ===\n")
	block.WriteString("Request: " + text + "\n")
	block.WriteString("---\n")

	if err != nil {
		block.WriteString(fmt.Sprintf("Think invocation failed: %v\n", err))
		d.appendLog(d.cfg.ThinkLog, block.String())
		d.obs.DispatchFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("pipeline", "think")))
		return
	}
	if result.TimedOut {
		block.WriteString(fmt.Sprintf("Think pass timed out after %ds\n", int(d.cfg.ThinkTimeout.Seconds())))
		d.appendLog(d.cfg.ThinkLog, block.String())
		d.obs.DispatchFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("pipeline", "think")))
		return
	}

	combined := result.Combined()
	if combined != "" {
		block.WriteString(combined + "\n")
	}

	source := result.Stdout
	if strings.TrimSpace(source) == "" {
		source = combined
	}
	optimized := NormalizeThinkOutput(source)
	if optimized == "" {
		block.WriteString("Think output was empty; skipping planner pass.\n")
		d.appendLog(d.cfg.ThinkLog, block.String())
		return
	}

	block.WriteString("--- Optimized prompt ---\n")
	block.WriteString(optimized + "\n")
	d.appendLog(d.cfg.ThinkLog, block.String())

	d.plannerRun(ctx, optimized)
}

// ThinkDry runs the optimizer and returns the brief without planning.
func (d *Dispatcher) ThinkDry(ctx context.Context, text string) string {
	prompt := BuildThinkPrompt(text)
	result, err := d.runner.Run(ctx, agent.RolePlanner, prompt, cliTimeoutSec, d.cfg.ThinkTimeout)
	if err != nil {
		return fmt.Sprintf("Prompt optimization failed: %v", err)
	}
	if result.TimedOut {
		return fmt.Sprintf("/thinkdry timed out after %ds.", int(d.cfg.ThinkTimeout.Seconds()))
	}

	source := result.Stdout
	if strings.TrimSpace(source) == "" {
		source = result.Combined()
	}
	optimized := NormalizeThinkOutput(source)
	if optimized == "" {
		return "No optimized prompt was produced."
	}
	return TruncateAnswer(optimized)
}

func (d *Dispatcher) askRun(ctx context.Context, agentName, question string) {
	prompt := BuildAskPrompt(agentName, question)
	result, err := d.runner.Run(ctx, agentName, prompt, cliTimeoutSec, d.cfg.AskTimeout)

	var answer string
	switch {
	case err != nil:
		answer = fmt.Sprintf("Agent %s failed: %v", agentName, err)
	default:
		answer = strings.TrimSpace(result.Stdout)
		if answer == "" {
			answer = result.Combined()
		}
		if answer == "" {
			answer = fmt.Sprintf("Agent %s completed without output.", agentName)
		}
	}

	if err := d.notifier.SendOwnerMessage(ctx, agentName, question, TruncateAnswer(answer)); err != nil {
		d.logger.Error("ask owner message failed", "agent", agentName, "error", err)
	}
}

func (d *Dispatcher) adhocRun(ctx context.Context, instruction string) {
	prompt := BuildAdhocPrompt(instruction)
	result, err := d.runner.Run(ctx, agent.RoleCoder, prompt, int(d.cfg.AdhocTimeout.Seconds()), d.cfg.AdhocTimeout)

	var answer string
	switch {
	case err != nil:
		answer = fmt.Sprintf("Adhoc doer run failed: %v", err)
	case result.TimedOut:
		answer = fmt.Sprintf("Adhoc doer run timed out after %ds.", int(d.cfg.AdhocTimeout.Seconds()))
	default:
		answer = strings.TrimSpace(result.Stdout)
		if answer == "" {
			answer = result.Combined()
		}
		if answer == "" {
			answer = "Doer completed adhoc request without output."
		}
	}

	if err := d.notifier.SendOwnerMessage(ctx, agent.RoleCoder, instruction, TruncateAnswer(answer)); err != nil {
		d.logger.Error("adhoc owner message failed", "error", err)
	}
}

// appendLog writes one transcript block to a dispatch log file.
func (d *Dispatcher) appendLog(path, block string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		d.logger.Error("dispatch log mkdir failed", "path", path, "error", err)
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		d.logger.Error("dispatch log open failed", "path", path, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(block); err != nil {
		d.logger.Error("dispatch log write failed", "path", path, "error", err)
	}
}

func runShellScript(path, stdin string) (string, string, int, error) {
	cmd := exec.Command(path)
	cmd.Stdin = strings.NewReader(stdin)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
		err = nil
	}
	return stdout.String(), stderr.String(), exitCode, err
}

// startShellScript launches a script without waiting for it.
func startShellScript(path string) error {
	cmd := exec.Command(path)
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}
