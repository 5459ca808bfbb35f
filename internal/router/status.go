package router

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"ashley/internal/tasks"
)

var statusKeywords = []string{
	"status", "tasks", "task", "queue",
	"blocked", "blockers",
	"timer", "service", "systemd",
	"gpu", "nvidia",
}

// serviceUnits are the deployment's user units surfaced by service status
// queries.
var serviceUnits = []string{
	"openclaw-task-manager-db.timer",
	"openclaw-task-manager-db.service",
	"openclaw-telegram-commands.timer",
	"openclaw-gateway.service",
	"openclaw-chat-router.service",
}

func shouldHandleStatus(lowered string) bool {
	for _, kw := range statusKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// handleStatusQuery sub-dispatches a status keyword query: blocked listing,
// service states, GPU utilization, detailed task list, or status counts.
func (r *Router) handleStatusQuery(ctx context.Context, lowered string) string {
	switch {
	case containsAny(lowered, "blocked", "blockers"):
		return r.summarizeBlocked(ctx)
	case containsAny(lowered, "timer", "service", "systemd"):
		return r.serviceStatus(ctx)
	case containsAny(lowered, "gpu", "nvidia"):
		return r.gpuStatus(ctx)
	case containsAny(lowered, "detail", "details", "list", "ids", "names"):
		return r.summarizeDetailed(ctx)
	default:
		return r.summarizeCounts(ctx)
	}
}

func (r *Router) summarizeCounts(ctx context.Context) string {
	counts, err := r.tasks.CountsByStatus(ctx)
	if err != nil {
		r.logger.Error("task counts failed", "error", err)
		return "No tasks found."
	}
	return tasks.FormatCounts(counts)
}

func (r *Router) summarizeDetailed(ctx context.Context) string {
	list, err := r.tasks.Recent(ctx, 10)
	if err != nil {
		r.logger.Error("recent tasks failed", "error", err)
		return "No tasks found."
	}
	return tasks.FormatRecent(list)
}

func (r *Router) summarizeBlocked(ctx context.Context) string {
	list, err := r.tasks.Blocked(ctx, 5)
	if err != nil {
		r.logger.Error("blocked tasks failed", "error", err)
		return "No blocked tasks."
	}
	return tasks.FormatBlocked(list, nil)
}

func (r *Router) serviceStatus(ctx context.Context) string {
	lines := []string{"Services:"}
	for _, unit := range serviceUnits {
		// is-active exits nonzero for inactive units but still prints the
		// state on stdout.
		out, _ := r.runCmd(ctx, "systemctl", "--user", "is-active", unit)
		state := strings.TrimSpace(out)
		if state == "" {
			state = "unknown"
		}
		lines = append(lines, unit+": "+state)
	}
	return strings.Join(lines, "\n")
}

func (r *Router) gpuStatus(ctx context.Context) string {
	if _, err := r.lookPath("nvidia-smi"); err != nil {
		return "GPU status unavailable (nvidia-smi not found)."
	}
	out, err := r.runCmd(ctx, "nvidia-smi",
		"--query-gpu=utilization.gpu,utilization.memory",
		"--format=csv,noheader,nounits")
	if err != nil {
		return "GPU status unavailable."
	}

	var lines []string
	for idx, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		gpu, mem, found := strings.Cut(line, ",")
		if !found {
			continue
		}
		lines = append(lines, fmt.Sprintf("GPU%d: %s%% gpu, %s%% mem",
			idx, strings.TrimSpace(gpu), strings.TrimSpace(mem)))
	}
	if len(lines) == 0 {
		return "GPU status unavailable."
	}
	return strings.Join(lines, "\n")
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	var stdout strings.Builder
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	err := cmd.Run()
	return stdout.String(), err
}

func lookPath(name string) (string, error) {
	return exec.LookPath(name)
}
