// Package agent invokes the external openclaw agent CLI. It owns the
// per-agent temperature lookup, the temperature to thinking-effort mapping,
// and subprocess execution with a wall-clock timeout.
package agent

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Roles a question or dispatch may target.
const (
	RolePlanner = "planner"
	RoleCoder   = "coder"
	RoleTester  = "tester"
)

// AllowedRoles is the set of agent names accepted by ask/ask-owner.
var AllowedRoles = map[string]bool{
	RolePlanner: true,
	RoleCoder:   true,
	RoleTester:  true,
}

var tempDefaults = map[string]float64{
	RolePlanner: 0.25,
	RoleCoder:   0.18,
	RoleTester:  0.10,
}

const maxCapturedOutput = 1 << 20

// Invoker builds and runs agent CLI commands. The zero value is not usable;
// use New.
type Invoker struct {
	node string
	cli  string

	// seams for tests
	getenv   func(string) string
	lookPath func(string) (string, error)
}

func New(node, cli string) *Invoker {
	return &Invoker{
		node:     node,
		cli:      cli,
		getenv:   os.Getenv,
		lookPath: exec.LookPath,
	}
}

// ThinkingFromTemp discretizes a temperature into a thinking-effort tier.
func ThinkingFromTemp(temp float64) string {
	switch {
	case temp <= 0.15:
		return "minimal"
	case temp <= 0.35:
		return "low"
	case temp <= 0.60:
		return "medium"
	default:
		return "high"
	}
}

// Temperature resolves the effective temperature for an agent:
// <AGENT>_TEMP, then OPENCLAW_<AGENT>_TEMP, then the built-in default.
// Values are clamped to [0, 1]; unparseable overrides fall back to the
// default. Unknown agents get 0.2.
func (inv *Invoker) Temperature(agent string) float64 {
	normalized := strings.ToLower(strings.TrimSpace(agent))
	def, ok := tempDefaults[normalized]
	if !ok {
		def = 0.2
	}

	upper := strings.ToUpper(normalized)
	value := inv.getenv(upper + "_TEMP")
	if value == "" {
		value = inv.getenv("OPENCLAW_" + upper + "_TEMP")
	}
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return min(max(parsed, 0.0), 1.0)
}

// Argv builds the full command line for one agent invocation. When an
// `openclaw` binary is on PATH it is used directly; otherwise the node
// interpreter runs the CLI entry point.
func (inv *Invoker) Argv(agent, message string, timeoutSec int) []string {
	normalized := strings.ToLower(strings.TrimSpace(agent))
	thinking := ThinkingFromTemp(inv.Temperature(normalized))

	args := []string{
		"agent",
		"--agent", normalized,
		"--message", message,
		"--timeout", strconv.Itoa(timeoutSec),
		"--thinking", thinking,
	}
	if _, err := inv.lookPath("openclaw"); err == nil {
		return append([]string{"openclaw"}, args...)
	}
	return append([]string{inv.node, inv.cli}, args...)
}

// Result captures one completed (or timed-out) agent run.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Combined returns stdout and stderr joined, trimmed. This is what dispatch
// logs record and what owner-facing pipelines fall back to when stdout is
// empty.
func (r Result) Combined() string {
	return strings.TrimSpace(r.Stdout + "\n" + r.Stderr)
}

// Run executes the agent CLI. cliTimeoutSec is passed to the CLI as its own
// --timeout; wallTimeout, when positive, bounds the subprocess out-of-band
// and marks the result TimedOut on expiry.
func (inv *Invoker) Run(ctx context.Context, agent, message string, cliTimeoutSec int, wallTimeout time.Duration) (Result, error) {
	if wallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wallTimeout)
		defer cancel()
	}

	argv := inv.Argv(agent, message, cliTimeoutSec)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	var stdout, stderr strings.Builder
	cmd.Stdout = &cappedWriter{w: &stdout, max: maxCapturedOutput}
	cmd.Stderr = &cappedWriter{w: &stderr, max: maxCapturedOutput}

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			res.TimedOut = true
			res.ExitCode = -1
			return res, nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("agent: run %s: %w", agent, err)
	}
	return res, nil
}

// cappedWriter limits captured output to a maximum size.
type cappedWriter struct {
	w   *strings.Builder
	max int
}

func (cw *cappedWriter) Write(p []byte) (int, error) {
	// Always report the full length consumed; a short count would make the
	// os/exec copier fail with io.ErrShortWrite.
	n := len(p)
	if cw.w.Len() < cw.max {
		remaining := cw.max - cw.w.Len()
		if len(p) > remaining {
			p = p[:remaining]
		}
		cw.w.Write(p)
	}
	return n, nil
}
