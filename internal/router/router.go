// Package router classifies owner text into local handlers, scheduled-job
// commands, and agent pipelines, and serves the control plane's HTTP surface.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"ashley/internal/agent"
	"ashley/internal/dispatch"
	"ashley/internal/notes"
	"ashley/internal/observer"
	"ashley/internal/questions"
	"ashley/internal/tasks"
)

// Dispatch is the slice of the dispatcher the router drives.
type Dispatch interface {
	SpawnPlanner(text string) string
	SpawnThink(text string) string
	QueuePromptDry(text string) string
	QueueAsk(question string) (string, string)
	QueueAdhoc(instruction string) string
	DispatchFollowUp(agentName, question, answer string)
}

// QuestionStore is the pending-question lifecycle the router needs.
type QuestionStore interface {
	Create(ctx context.Context, agent string, taskID *int64, question string) (int64, error)
	ExpireStale(ctx context.Context) (int, error)
	OldestPending(ctx context.Context) (*questions.Question, error)
	Answer(ctx context.Context, id int64, answer string) error
	ListPending(ctx context.Context) ([]questions.Question, error)
	CountPending(ctx context.Context) (int, error)
}

// TaskStore is the task-table slice used by status queries and owner answers.
type TaskStore interface {
	CountsByStatus(ctx context.Context) ([]tasks.StatusCount, error)
	Recent(ctx context.Context, limit int) ([]tasks.Task, error)
	Blocked(ctx context.Context, limit int) ([]tasks.Task, error)
	LatestProject(ctx context.Context) (string, error)
	AppendSolution(ctx context.Context, id int64, block string) error
}

// JobCompiler schedules, lists, and deletes recurring jobs.
type JobCompiler interface {
	Schedule(ctx context.Context, cronExpr, description string) (string, error)
	List(ctx context.Context) (string, error)
	Delete(ctx context.Context, jobID string) (string, error)
}

// ContextWorkspace is the lessons/project-notes surface.
type ContextWorkspace interface {
	AddLesson(lesson string) (string, error)
	AddProjectNote(raw, inferredProject string) (string, error)
}

// MemoryStore enriches the planner fallthrough, records fallthrough turns,
// and mirrors lessons and project notes into vector memory. Optional; may be
// nil.
type MemoryStore interface {
	Recall(ctx context.Context, query string, limit int) (string, error)
	StoreConversation(ctx context.Context, userText, botResponse, source string) (int64, error)
	StoreLesson(ctx context.Context, lesson string) (int64, error)
	StoreProjectContext(ctx context.Context, project, context string) (int64, error)
}

// Conversation records fallthrough turns and supplies the recent-exchange
// tail for the planner prompt. Optional; may be nil.
type Conversation interface {
	Append(role, text string) error
	FormatRecent(n int) string
}

// WeatherSource answers the bare "weather" keyword. Optional; may be nil.
type WeatherSource interface {
	Configured() bool
	Current(ctx context.Context, location string) (string, error)
}

// Notifier pushes owner-facing messages to the owner's channel.
type Notifier interface {
	NotifyOwner(ctx context.Context, text string) error
	SendOwnerMessage(ctx context.Context, agentName, question, response string) error
}

// Router owns text classification and the question rendezvous flows.
type Router struct {
	dispatch  Dispatch
	questions QuestionStore
	tasks     TaskStore
	jobs      JobCompiler
	workspace ContextWorkspace
	memory    MemoryStore
	convo     Conversation
	weather   WeatherSource
	notifier  Notifier
	logger    *slog.Logger
	obs       *observer.Instruments

	routes []route

	// seams for tests
	runCmd   func(ctx context.Context, name string, args ...string) (string, error)
	lookPath func(name string) (string, error)
}

type route struct {
	prefix  string
	handler func(ctx context.Context, arg string) string
}

func New(d Dispatch, q QuestionStore, t TaskStore, j JobCompiler, w ContextWorkspace,
	mem MemoryStore, conv Conversation, weather WeatherSource, n Notifier,
	logger *slog.Logger, obs *observer.Instruments) *Router {

	r := &Router{
		dispatch:  d,
		questions: q,
		tasks:     t,
		jobs:      j,
		workspace: w,
		memory:    mem,
		convo:     conv,
		weather:   weather,
		notifier:  n,
		logger:    logger,
		obs:       obs,
		runCmd:    runCommand,
		lookPath:  lookPath,
	}
	// Order matters: /prompt and /thinkdry must precede /think, and the
	// slash ladder precedes keyword routing.
	r.routes = []route{
		{"/plan", r.routePlan},
		{"/prompt", r.routePrompt},
		{"/thinkdry", r.routeThinkDry},
		{"/think", r.routeThink},
		{"/lesson", r.routeLesson},
		{"/project", r.routeProject},
		{"/adhoc", r.routeAdhoc},
		{"/ask", r.routeAsk},
		{"/schedule", r.routeSchedule},
		{"/jobs", r.routeJobs},
		{"/deletejob", r.routeDeleteJob},
		{"/pending", r.routePending},
		{"/answer", r.routeAnswer},
	}
	return r
}

// RouteText classifies one owner message and returns the immediate reply.
// Empty reply means nothing should be sent back.
func (r *Router) RouteText(ctx context.Context, text string) string {
	stripped := strings.TrimSpace(text)
	if stripped == "" {
		return ""
	}
	lowered := strings.ToLower(stripped)

	for _, rt := range r.routes {
		if strings.HasPrefix(lowered, rt.prefix) {
			arg := strings.TrimSpace(stripped[len(rt.prefix):])
			r.logger.Info("routed", "kind", strings.TrimPrefix(rt.prefix, "/"))
			return rt.handler(ctx, arg)
		}
	}

	if strings.Contains(lowered, "weather") {
		r.logger.Info("routed", "kind", "weather")
		return r.weatherReply(ctx)
	}
	if shouldHandleStatus(lowered) {
		r.logger.Info("routed", "kind", "status")
		return r.handleStatusQuery(ctx, lowered)
	}

	r.logger.Info("routed", "kind", "planner")
	enriched := r.enrichForPlanner(ctx, stripped)
	r.recordFallthrough(ctx, stripped)
	r.dispatch.SpawnPlanner(enriched)
	return "Queued for planner: " + dispatch.Preview(stripped)
}

func (r *Router) routePlan(ctx context.Context, arg string) string {
	if arg == "" {
		return "Usage: /plan <request>"
	}
	return r.dispatch.SpawnPlanner(arg)
}

func (r *Router) routePrompt(ctx context.Context, arg string) string {
	if arg == "" {
		return "Usage: /prompt <request>"
	}
	return r.dispatch.QueuePromptDry(arg)
}

func (r *Router) routeThinkDry(ctx context.Context, arg string) string {
	if arg == "" {
		return "Usage: /prompt <request>"
	}
	return r.dispatch.QueuePromptDry(arg)
}

func (r *Router) routeThink(ctx context.Context, arg string) string {
	if arg == "" {
		return "Usage: /think <request>"
	}
	return r.dispatch.SpawnThink(arg)
}

func (r *Router) routeLesson(ctx context.Context, arg string) string {
	reply, err := r.workspace.AddLesson(arg)
	if err != nil {
		r.logger.Error("lesson append failed", "error", err)
		return "Failed to save lesson."
	}
	if arg != "" && r.memory != nil {
		if _, err := r.memory.StoreLesson(ctx, arg); err != nil {
			r.logger.Error("lesson memory store failed", "error", err)
		}
	}
	return reply
}

func (r *Router) routeProject(ctx context.Context, arg string) string {
	inferred, err := r.tasks.LatestProject(ctx)
	if err != nil {
		r.logger.Error("latest project lookup failed", "error", err)
	}
	reply, err := r.workspace.AddProjectNote(arg, inferred)
	if err != nil {
		r.logger.Error("project note append failed", "error", err)
		return "Failed to save project context."
	}
	if r.memory != nil {
		if project, note, ok := notes.ParseProjectNote(arg, inferred); ok {
			if _, err := r.memory.StoreProjectContext(ctx, project, note); err != nil {
				r.logger.Error("project memory store failed", "error", err)
			}
		}
	}
	return reply
}

func (r *Router) routeAdhoc(ctx context.Context, arg string) string {
	return r.dispatch.QueueAdhoc(arg)
}

func (r *Router) routeAsk(ctx context.Context, arg string) string {
	if arg == "" {
		return "Usage: /ask <question> or /ask <agent> <question>"
	}
	_, errReply := r.dispatch.QueueAsk(arg)
	if errReply != "" {
		return errReply
	}
	return ""
}

func (r *Router) routeSchedule(ctx context.Context, arg string) string {
	if arg == "" {
		return "Usage: /schedule <cron> <task description>\n" +
			"Examples:\n" +
			"  /schedule 0 7 * * * Send me a morning briefing\n" +
			"  /schedule */30 * * * * Check server health\n" +
			"  /schedule 0 9 * * 1 Weekly project status report"
	}
	parts := strings.Fields(arg)
	if len(parts) < 6 {
		return "Need 5 cron fields + a task description.\n" +
			"Format: /schedule <min> <hour> <dom> <month> <dow> <task>"
	}
	cronExpr := strings.Join(parts[:5], " ")
	description := strings.Join(parts[5:], " ")
	reply, err := r.jobs.Schedule(ctx, cronExpr, description)
	if err != nil {
		r.logger.Error("schedule failed", "cron", cronExpr, "error", err)
		return "Failed to create scheduled job."
	}
	return reply
}

func (r *Router) routeJobs(ctx context.Context, arg string) string {
	reply, err := r.jobs.List(ctx)
	if err != nil {
		r.logger.Error("job list failed", "error", err)
		return "Failed to list scheduled jobs."
	}
	return reply
}

func (r *Router) routeDeleteJob(ctx context.Context, arg string) string {
	if arg == "" {
		return "Usage: /deletejob <job_id>  or  /deletejob all"
	}
	reply, err := r.jobs.Delete(ctx, arg)
	if err != nil {
		r.logger.Error("job delete failed", "id", arg, "error", err)
		return "Failed to delete scheduled job."
	}
	return reply
}

func (r *Router) routePending(ctx context.Context, arg string) string {
	list, err := r.pendingQuestions(ctx)
	if err != nil {
		r.logger.Error("pending list failed", "error", err)
		return "Failed to list pending questions."
	}
	return FormatPending(list)
}

func (r *Router) routeAnswer(ctx context.Context, arg string) string {
	if arg == "" {
		return "Usage: /answer <your response to the agent's question>"
	}
	return r.HandleOwnerReply(ctx, arg)
}

func (r *Router) weatherReply(ctx context.Context) string {
	if r.weather == nil || !r.weather.Configured() {
		return "Weather lookup is not configured on this host."
	}
	reply, err := r.weather.Current(ctx, "")
	if err != nil {
		r.logger.Error("weather lookup failed", "error", err)
		return "Weather lookup is not configured on this host."
	}
	return reply
}

// enrichForPlanner prepends memory recall and the recent conversation tail
// to a free-text request before the planner sees it.
func (r *Router) enrichForPlanner(ctx context.Context, text string) string {
	var extras []string
	if r.memory != nil {
		if recall, err := r.memory.Recall(ctx, text, 5); err == nil && recall != "" {
			extras = append(extras, recall)
		}
	}
	if r.convo != nil {
		if recent := r.convo.FormatRecent(10); recent != "" {
			extras = append(extras, recent)
		}
	}
	if len(extras) == 0 {
		return text
	}
	return strings.Join(extras, "\n\n") + "\n\n" + text
}

// recordFallthrough stores the owner turn in the conversation ring and
// vector memory so later fallthroughs can recall it. Runs after enrichment;
// the current turn must not appear in its own context.
func (r *Router) recordFallthrough(ctx context.Context, text string) {
	if r.convo != nil {
		if err := r.convo.Append("user", text); err != nil {
			r.logger.Error("conversation append failed", "error", err)
		}
	}
	if r.memory != nil {
		if _, err := r.memory.StoreConversation(ctx, text, "", "router"); err != nil {
			r.logger.Error("conversation memory store failed", "error", err)
		}
	}
}

// pendingQuestions expires stale rows, then lists what is still pending.
func (r *Router) pendingQuestions(ctx context.Context) ([]questions.Question, error) {
	if _, err := r.questions.ExpireStale(ctx); err != nil {
		r.logger.Error("question expiry failed", "error", err)
	}
	return r.questions.ListPending(ctx)
}

// FormatPending renders the owner-facing pending-question listing.
func FormatPending(list []questions.Question) string {
	if len(list) == 0 {
		return "No pending questions."
	}
	lines := []string{"Pending questions:\n"}
	for _, q := range list {
		taskRef := ""
		if q.TaskID != nil {
			taskRef = fmt.Sprintf(" (task #%d)", *q.TaskID)
		}
		lines = append(lines, fmt.Sprintf("#%d [%s%s] %s", q.ID, q.Agent, taskRef,
			q.CreatedAt.Format("2006-01-02 15:04")))
		lines = append(lines, "  "+truncate(q.Question, 150))
		lines = append(lines, "")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// AskOwner stores an agent's clarifying question and pushes it to the owner.
// The reply goes back to the asking agent over the ask-owner endpoint.
func (r *Router) AskOwner(ctx context.Context, agentName string, taskID *int64, question string) (bool, string) {
	agentName = strings.ToLower(strings.TrimSpace(agentName))
	if !agent.AllowedRoles[agentName] {
		return false, fmt.Sprintf("Unknown agent '%s'. Allowed: %s", agentName, strings.Join(allowedRoleNames(), ", "))
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return false, "Question text is required."
	}

	if _, err := r.questions.ExpireStale(ctx); err != nil {
		r.logger.Error("question expiry failed", "error", err)
	}
	qid, err := r.questions.Create(ctx, agentName, taskID, question)
	if err != nil {
		r.logger.Error("question create failed", "agent", agentName, "error", err)
		return false, "Failed to store question in database."
	}

	taskRef := ""
	if taskID != nil {
		taskRef = fmt.Sprintf(" (task #%d)", *taskID)
	}
	message := fmt.Sprintf("❓ *Agent Question*\n\n"+
		"From: `%s`%s\n"+
		"Question ID: `%d`\n\n"+
		"%s\n\n"+
		"_Reply with /answer <your response> or just type your answer._",
		agentName, taskRef, qid, question)
	if err := r.notifier.NotifyOwner(ctx, message); err != nil {
		r.logger.Error("question notify failed", "id", qid, "error", err)
	}

	r.logger.Info("question created", "id", qid, "agent", agentName)
	return true, fmt.Sprintf("Question #%d sent to owner. Waiting for reply.", qid)
}

// HandleOwnerReply answers the oldest pending question, records the answer
// on its task when linked, and dispatches a follow-up to the asking agent.
func (r *Router) HandleOwnerReply(ctx context.Context, answer string) string {
	if _, err := r.questions.ExpireStale(ctx); err != nil {
		r.logger.Error("question expiry failed", "error", err)
	}
	q, err := r.questions.OldestPending(ctx)
	if err != nil {
		if err == questions.ErrNoPending {
			return "No pending questions to answer."
		}
		r.logger.Error("oldest pending lookup failed", "error", err)
		return "Failed to look up pending questions."
	}

	if err := r.questions.Answer(ctx, q.ID, answer); err != nil {
		r.logger.Error("question answer failed", "id", q.ID, "error", err)
		return "Failed to record the answer."
	}

	if q.TaskID != nil {
		block := tasks.OwnerAnswerBlock(q.ID, q.Question, answer)
		if err := r.tasks.AppendSolution(ctx, *q.TaskID, block); err != nil {
			r.logger.Error("task solution append failed", "task", *q.TaskID, "error", err)
		}
	}

	r.dispatch.DispatchFollowUp(q.Agent, q.Question, answer)

	r.logger.Info("question answered", "id", q.ID, "agent", q.Agent)
	return fmt.Sprintf("Answer recorded for question #%d.\n"+
		"Agent: %s\n"+
		"Q: %s\n"+
		"A: %s\n"+
		"Follow-up dispatched to %s.",
		q.ID, q.Agent, truncate(q.Question, 100), truncate(answer, 100), q.Agent)
}

func allowedRoleNames() []string {
	names := make([]string, 0, len(agent.AllowedRoles))
	for name := range agent.AllowedRoles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
