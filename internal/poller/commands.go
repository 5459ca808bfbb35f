package poller

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ashley/internal/tasks"
)

const helpText = "Telegram task commands:\n" +
	"/help - show this help\n" +
	"/blockers - list blocked tasks (top 20)\n" +
	"/todo - list todo tasks (top 20)\n" +
	"/readyfortesting - list ready-for-testing tasks (top 20)\n" +
	"/inprogress - list in-progress tasks (top 20)\n" +
	"/tasks - summary counts for TODO/IN_PROGRESS/READY_FOR_TESTING\n" +
	"/task <id> - show task status, phase, agent\n" +
	"/unblock <id> [status] [solution] - requeue blocked task (default status TODO)\n" +
	"  status options: TODO, READY_FOR_TESTING, IN_PROGRESS\n" +
	"/unblock all [status] [note] - requeue all blocked tasks (default status TODO)\n" +
	"/retry <id> - alias for /unblock <id>\n" +
	"/digest now - send blocked tasks summary\n" +
	"\n" +
	"Planner/router commands:\n" +
	"/plan <request> - queue planning request\n" +
	"/think <request> - optimize request, then queue planning\n" +
	"/prompt <request> - return optimized planning prompt only\n" +
	"/ask <question> - async planner answer via owner-message\n" +
	"/adhoc <instruction> - one-off async coder run (no task DB entry)\n" +
	"/lesson <lesson learned> - save global lesson for future tasks\n" +
	"/project <project>|<note> - save project-specific context\n" +
	"\n" +
	"Scheduling commands:\n" +
	"/schedule <min> <hr> <dom> <mon> <dow> <task> - create recurring job\n" +
	"/jobs - list all scheduled jobs\n" +
	"/deletejob <id> - delete a scheduled job (or 'all')\n" +
	"\n" +
	"Agent questions:\n" +
	"/pending - list pending agent questions\n" +
	"/answer <text> - answer the oldest pending question\n" +
	"(or just reply with plain text when questions are pending)\n" +
	"\n" +
	"Gmail & Calendar:\n" +
	"/emails [search] - list inbox (optional Gmail search query)\n" +
	"/email <id> - read a specific email\n" +
	"/sendemail to | subject | body - send an email\n" +
	"/unread - count of unread emails\n" +
	"/calendar [days] - show upcoming events (default 7 days)\n" +
	"/event <time> | <title> [| desc] [| location] - create event\n" +
	"/delevent <id> - delete a calendar event\n" +
	"\n" +
	"Info & Tools:\n" +
	"/weather [city] - current weather\n" +
	"/search <query> - web search\n" +
	"/briefing - morning briefing summary\n" +
	"/weeklyreview - weekly activity summary\n" +
	"\n" +
	"Notes & Links:\n" +
	"/note <text> - save a quick note\n" +
	"/notes [search <query>] - view today's notes or search\n" +
	"/save <url> [tags] - bookmark a link\n" +
	"/links [tag] - list saved bookmarks\n" +
	"\n" +
	"Send a file/photo and it'll be saved to inbox."

var localCommands = map[string]bool{
	"/help": true, "help": true,
	"/blockers": true, "/todo": true, "/readyfortesting": true, "/inprogress": true,
	"/tasks": true, "/task": true,
	"/unblock": true, "/retry": true, "/digest": true,
	"/pending": true, "/answer": true,

	"/note": true, "/notes": true, "/save": true, "/links": true,
	"/remember": true, "/recall": true, "/memstats": true,
	"/weather": true, "/search": true, "/briefing": true, "/weeklyreview": true,
	"/emails": true, "/email": true, "/sendemail": true, "/unread": true,
	"/calendar": true, "/event": true, "/delevent": true,
}

func isLocalCommand(text string) bool {
	parts := strings.Fields(strings.TrimSpace(text))
	if len(parts) == 0 {
		return false
	}
	return localCommands[strings.ToLower(parts[0])]
}

// handleCommand answers one local command without going through the router.
func (p *Poller) handleCommand(ctx context.Context, text string) string {
	parts := strings.Fields(strings.TrimSpace(text))
	if len(parts) == 0 {
		return ""
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "/help", "help":
		return helpText

	case "/blockers":
		return p.blockedDigest(ctx)

	case "/todo":
		return p.listByStatus(ctx, tasks.StatusTodo, "todo")
	case "/readyfortesting":
		return p.listByStatus(ctx, tasks.StatusReadyForTesting, "ready-for-testing")
	case "/inprogress":
		return p.listByStatus(ctx, tasks.StatusInProgress, "in-progress")

	case "/tasks":
		return p.taskCounts(ctx)

	case "/task":
		if len(args) >= 1 {
			if id, err := strconv.ParseInt(args[0], 10, 64); err == nil {
				return p.taskDetail(ctx, id)
			}
		}

	case "/unblock", "/retry":
		if len(args) >= 1 {
			if id, err := strconv.ParseInt(args[0], 10, 64); err == nil {
				return p.unblockOne(ctx, id, args[1:])
			}
			if cmd == "/unblock" && strings.EqualFold(args[0], "all") {
				return p.unblockAll(ctx, args[1:])
			}
		}

	case "/pending":
		return p.pendingDigest(ctx)

	case "/answer":
		answer := strings.TrimSpace(strings.Join(args, " "))
		if answer == "" {
			return "Usage: /answer <your answer text>"
		}
		return p.router.HandleOwnerReply(ctx, answer)

	case "/digest":
		if len(args) >= 1 && strings.EqualFold(args[0], "now") {
			return p.blockedDigest(ctx)
		}

	default:
		if reply, handled := p.handleExtra(ctx, cmd, args); handled {
			return reply
		}
	}

	return "Unknown command. Send /help for options."
}

func (p *Poller) blockedDigest(ctx context.Context) string {
	list, err := p.tasks.Blocked(ctx, 20)
	if err != nil {
		p.logger.Error("blocked list failed", "error", err)
		return "No blocked tasks."
	}
	contexts := make(map[int64]string, len(list))
	for _, t := range list {
		taskCtx, err := p.tasks.Context(ctx, t.ID)
		if err != nil {
			p.logger.Error("task context failed", "id", t.ID, "error", err)
			continue
		}
		contexts[t.ID] = taskCtx
	}
	return tasks.FormatBlocked(list, contexts)
}

func (p *Poller) listByStatus(ctx context.Context, status, label string) string {
	list, err := p.tasks.ListByStatus(ctx, status)
	if err != nil {
		p.logger.Error("status list failed", "status", status, "error", err)
		return fmt.Sprintf("No %s tasks.", label)
	}
	return tasks.FormatByStatus(list, label)
}

func (p *Poller) taskCounts(ctx context.Context) string {
	counts, err := p.tasks.CountsByStatus(ctx)
	if err != nil || len(counts) == 0 {
		return "No tasks found."
	}
	byStatus := map[string]int{}
	for _, c := range counts {
		byStatus[c.Status] = c.Count
	}
	return fmt.Sprintf("Task counts:\nTODO: %d\nIN_PROGRESS: %d\nREADY_FOR_TESTING: %d",
		byStatus[tasks.StatusTodo], byStatus[tasks.StatusInProgress], byStatus[tasks.StatusReadyForTesting])
}

func (p *Poller) taskDetail(ctx context.Context, id int64) string {
	t, err := p.tasks.Detail(ctx, id)
	if err != nil {
		p.logger.Error("task detail failed", "id", id, "error", err)
		return fmt.Sprintf("Task %d not found.", id)
	}
	if t == nil {
		return fmt.Sprintf("Task %d not found.", id)
	}
	return tasks.FormatDetail(t)
}

func (p *Poller) unblockOne(ctx context.Context, id int64, rest []string) string {
	targetStatus, solution := tasks.ParseUnblockArgs(rest)
	updated, err := p.tasks.Unblock(ctx, id, targetStatus, solution)
	if err != nil {
		p.logger.Error("unblock failed", "id", id, "error", err)
		return fmt.Sprintf("Task %d not updated (not blocked or not found).", id)
	}
	if !updated {
		return fmt.Sprintf("Task %d not updated (not blocked or not found).", id)
	}
	if solution != "" {
		return fmt.Sprintf("Task %d set to %s with solution.", id, targetStatus)
	}
	return fmt.Sprintf("Task %d set to %s.", id, targetStatus)
}

func (p *Poller) unblockAll(ctx context.Context, rest []string) string {
	targetStatus, note := tasks.ParseUnblockArgs(rest)
	n, err := p.tasks.UnblockAll(ctx, targetStatus, note)
	if err != nil {
		p.logger.Error("unblock all failed", "error", err)
		return "No blocked tasks to requeue."
	}
	if n == 0 {
		return "No blocked tasks to requeue."
	}
	if note != "" {
		return fmt.Sprintf("Requeued %d blocked tasks to %s with note.", n, targetStatus)
	}
	return fmt.Sprintf("Requeued %d blocked tasks to %s.", n, targetStatus)
}

func (p *Poller) pendingDigest(ctx context.Context) string {
	if _, err := p.questions.ExpireStale(ctx); err != nil {
		p.logger.Error("question expiry failed", "error", err)
	}
	list, err := p.questions.ListPending(ctx)
	if err != nil {
		p.logger.Error("pending list failed", "error", err)
		return "No pending agent questions."
	}
	if len(list) == 0 {
		return "No pending agent questions."
	}

	lines := []string{fmt.Sprintf("Pending questions (%d):", len(list))}
	for _, q := range list {
		taskRef := ""
		if q.TaskID != nil {
			taskRef = fmt.Sprintf(" (task #%d)", *q.TaskID)
		}
		lines = append(lines, fmt.Sprintf("❓ #%d [%s]%s: %s", q.ID, q.Agent, taskRef, q.Question))
	}
	lines = append(lines, "\nReply with /answer <text> or just send plain text.")
	return strings.Join(lines, "\n")
}
