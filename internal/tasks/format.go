package tasks

import (
	"fmt"
	"strings"
)

var statusAliases = map[string]string{
	"todo":              StatusTodo,
	"ready":             StatusReadyForTesting,
	"ready_for_testing": StatusReadyForTesting,
	"ready-for-testing": StatusReadyForTesting,
	"in_progress":       StatusInProgress,
	"in-progress":       StatusInProgress,
	"inprogress":        StatusInProgress,
}

// ParseUnblockArgs interprets the trailing tokens of an unblock command. The
// first token (or the three-word phrase "ready for testing") may name the
// target status; everything after it is the solution note. With no
// recognized status the target defaults to TODO and all tokens become the
// note.
func ParseUnblockArgs(tokens []string) (targetStatus, solution string) {
	if len(tokens) == 0 {
		return StatusTodo, ""
	}

	if len(tokens) >= 3 {
		phrase := strings.ToLower(strings.Join(tokens[:3], " "))
		if phrase == "ready for testing" {
			return StatusReadyForTesting, strings.TrimSpace(strings.Join(tokens[3:], " "))
		}
	}

	if status, ok := statusAliases[strings.ToLower(tokens[0])]; ok {
		return status, strings.TrimSpace(strings.Join(tokens[1:], " "))
	}

	return StatusTodo, strings.TrimSpace(strings.Join(tokens, " "))
}

// FormatCounts renders per-status counts as a single line:
// "Tasks: BLOCKED=2, TODO=5". "No tasks found." when empty.
func FormatCounts(counts []StatusCount) string {
	if len(counts) == 0 {
		return "No tasks found."
	}
	pairs := make([]string, len(counts))
	for i, c := range counts {
		pairs[i] = fmt.Sprintf("%s=%d", c.Status, c.Count)
	}
	return "Tasks: " + strings.Join(pairs, ", ")
}

// FormatRecent renders recent tasks one per line with status.
func FormatRecent(list []Task) string {
	if len(list) == 0 {
		return "No tasks found."
	}
	lines := []string{"Recent tasks:"}
	for _, t := range list {
		lines = append(lines, fmt.Sprintf("#%d [%s] %s", t.ID, t.Status, t.Name))
	}
	return strings.Join(lines, "\n")
}

// FormatBlocked renders blocked tasks with their reasons. contexts, when
// non-nil, supplies a per-task context block keyed by id.
func FormatBlocked(list []Task, contexts map[int64]string) string {
	if len(list) == 0 {
		return "No blocked tasks."
	}
	lines := []string{"Blocked tasks:"}
	for _, t := range list {
		lines = append(lines, fmt.Sprintf("#%d %s", t.ID, t.Name))
		if ctx := contexts[t.ID]; ctx != "" {
			lines = append(lines, ctx)
		}
		if t.BlockedReason != "" {
			lines = append(lines, t.BlockedReason)
		}
		if contexts != nil {
			lines = append(lines, "")
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// FormatByStatus renders a status listing with the given human label, e.g.
// "Todo tasks:" / "#12 fix auth (Phase: impl, Agent: coder)".
func FormatByStatus(list []Task, label string) string {
	if len(list) == 0 {
		return fmt.Sprintf("No %s tasks.", label)
	}
	lines := []string{titleCase(label) + " tasks:"}
	for _, t := range list {
		var extra []string
		if t.Phase != "" {
			extra = append(extra, "Phase: "+t.Phase)
		}
		if t.Agent != "" {
			extra = append(extra, "Agent: "+t.Agent)
		}
		suffix := ""
		if len(extra) > 0 {
			suffix = " (" + strings.Join(extra, ", ") + ")"
		}
		lines = append(lines, fmt.Sprintf("#%d %s%s", t.ID, t.Name, suffix))
	}
	return strings.Join(lines, "\n")
}

// FormatDetail renders one task's status card.
func FormatDetail(t *Task) string {
	msg := fmt.Sprintf("#%d %s\nStatus: %s", t.ID, t.Name, t.Status)
	if t.Phase != "" {
		msg += "\nPhase: " + t.Phase
	}
	if t.Agent != "" {
		msg += "\nAgent: " + t.Agent
	}
	if t.BlockedReason != "" {
		msg += "\nBlocked: " + t.BlockedReason
	}
	return msg
}

// OwnerAnswerBlock is the text appended to a task's solution when the owner
// answers a linked question.
func OwnerAnswerBlock(questionID int64, question, answer string) string {
	return fmt.Sprintf("\n\n--- Owner Answer (Q#%d) ---\nQ: %s\nA: %s", questionID, question, answer)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
