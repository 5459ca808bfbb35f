package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"ashley/internal/dispatch"
	"ashley/internal/observer"
	"ashley/internal/questions"
	"ashley/internal/tasks"
)

type fakeDispatch struct {
	planned   []string
	thought   []string
	prompted  []string
	adhoc     []string
	asked     []string
	followUps []followUp
}

type followUp struct {
	agent    string
	question string
	answer   string
}

func (f *fakeDispatch) SpawnPlanner(text string) string {
	f.planned = append(f.planned, text)
	return "Queued for planner: " + dispatch.Preview(text)
}

func (f *fakeDispatch) SpawnThink(text string) string {
	f.thought = append(f.thought, text)
	return "Queued for think+plan: " + dispatch.Preview(text)
}

func (f *fakeDispatch) QueuePromptDry(text string) string {
	f.prompted = append(f.prompted, text)
	return "Queued prompt optimization: " + dispatch.Preview(text) + ". You will receive the optimized prompt via owner-message."
}

func (f *fakeDispatch) QueueAsk(question string) (string, string) {
	f.asked = append(f.asked, question)
	return "planner", ""
}

func (f *fakeDispatch) QueueAdhoc(instruction string) string {
	if strings.TrimSpace(instruction) == "" {
		return "Usage: /adhoc <one-off instruction>"
	}
	f.adhoc = append(f.adhoc, instruction)
	return "Queued adhoc doer request: " + dispatch.Preview(instruction) + ". You will receive the result via owner-message."
}

func (f *fakeDispatch) DispatchFollowUp(agentName, question, answer string) {
	f.followUps = append(f.followUps, followUp{agentName, question, answer})
}

type fakeQuestions struct {
	pending []questions.Question
	created []questions.Question
	nextID  int64
}

func (f *fakeQuestions) Create(ctx context.Context, agent string, taskID *int64, question string) (int64, error) {
	f.nextID++
	q := questions.Question{ID: f.nextID, Agent: agent, TaskID: taskID, Question: question,
		Status: "pending", CreatedAt: time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)}
	f.created = append(f.created, q)
	f.pending = append(f.pending, q)
	return f.nextID, nil
}

func (f *fakeQuestions) ExpireStale(ctx context.Context) (int, error) { return 0, nil }

func (f *fakeQuestions) OldestPending(ctx context.Context) (*questions.Question, error) {
	if len(f.pending) == 0 {
		return nil, questions.ErrNoPending
	}
	q := f.pending[0]
	return &q, nil
}

func (f *fakeQuestions) Answer(ctx context.Context, id int64, answer string) error {
	for i, q := range f.pending {
		if q.ID == id {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			return nil
		}
	}
	return questions.ErrNoPending
}

func (f *fakeQuestions) ListPending(ctx context.Context) ([]questions.Question, error) {
	return f.pending, nil
}

func (f *fakeQuestions) CountPending(ctx context.Context) (int, error) {
	return len(f.pending), nil
}

type fakeTasks struct {
	counts    []tasks.StatusCount
	recent    []tasks.Task
	blocked   []tasks.Task
	project   string
	solutions map[int64]string
}

func (f *fakeTasks) CountsByStatus(ctx context.Context) ([]tasks.StatusCount, error) {
	return f.counts, nil
}
func (f *fakeTasks) Recent(ctx context.Context, limit int) ([]tasks.Task, error) {
	return f.recent, nil
}
func (f *fakeTasks) Blocked(ctx context.Context, limit int) ([]tasks.Task, error) {
	return f.blocked, nil
}
func (f *fakeTasks) LatestProject(ctx context.Context) (string, error) { return f.project, nil }
func (f *fakeTasks) AppendSolution(ctx context.Context, id int64, block string) error {
	if f.solutions == nil {
		f.solutions = map[int64]string{}
	}
	f.solutions[id] += block
	return nil
}

type fakeJobs struct {
	scheduled [][2]string
	deleted   []string
	listReply string
}

func (f *fakeJobs) Schedule(ctx context.Context, cronExpr, description string) (string, error) {
	f.scheduled = append(f.scheduled, [2]string{cronExpr, description})
	return "Scheduled job created.", nil
}
func (f *fakeJobs) List(ctx context.Context) (string, error) {
	if f.listReply == "" {
		return "No scheduled jobs found.", nil
	}
	return f.listReply, nil
}
func (f *fakeJobs) Delete(ctx context.Context, jobID string) (string, error) {
	f.deleted = append(f.deleted, jobID)
	return "Deleted job: " + jobID, nil
}

type fakeWorkspace struct {
	lessons  []string
	projects [][2]string
}

func (f *fakeWorkspace) AddLesson(lesson string) (string, error) {
	if strings.TrimSpace(lesson) == "" {
		return "Usage: /lesson <lesson learned>", nil
	}
	f.lessons = append(f.lessons, lesson)
	return "Lesson saved for future tasks.", nil
}

func (f *fakeWorkspace) AddProjectNote(raw, inferredProject string) (string, error) {
	f.projects = append(f.projects, [2]string{raw, inferredProject})
	return "Saved project context for " + inferredProject + ".", nil
}

type stubNotifier struct {
	notified  []string
	ownerMsgs []followUp
	fail      bool
}

func (s *stubNotifier) NotifyOwner(ctx context.Context, text string) error {
	if s.fail {
		return errors.New("send failed")
	}
	s.notified = append(s.notified, text)
	return nil
}

func (s *stubNotifier) SendOwnerMessage(ctx context.Context, agentName, question, response string) error {
	if s.fail {
		return errors.New("send failed")
	}
	s.ownerMsgs = append(s.ownerMsgs, followUp{agentName, question, response})
	return nil
}

type testRig struct {
	router    *Router
	dispatch  *fakeDispatch
	questions *fakeQuestions
	tasks     *fakeTasks
	jobs      *fakeJobs
	workspace *fakeWorkspace
	notifier  *stubNotifier
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		dispatch:  &fakeDispatch{},
		questions: &fakeQuestions{},
		tasks:     &fakeTasks{},
		jobs:      &fakeJobs{},
		workspace: &fakeWorkspace{},
		notifier:  &stubNotifier{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rig.router = New(rig.dispatch, rig.questions, rig.tasks, rig.jobs, rig.workspace,
		nil, nil, nil, rig.notifier, logger, observer.Noop())
	return rig
}

func TestRouteEmptyText(t *testing.T) {
	rig := newTestRig(t)
	if got := rig.router.RouteText(context.Background(), "  \n "); got != "" {
		t.Errorf("RouteText = %q, want empty", got)
	}
}

func TestRoutePlan(t *testing.T) {
	rig := newTestRig(t)

	if got := rig.router.RouteText(context.Background(), "/plan"); got != "Usage: /plan <request>" {
		t.Errorf("bare /plan = %q", got)
	}
	got := rig.router.RouteText(context.Background(), "/plan fix the deploy script")
	if got != "Queued for planner: fix the deploy script" {
		t.Errorf("reply = %q", got)
	}
	if len(rig.dispatch.planned) != 1 || rig.dispatch.planned[0] != "fix the deploy script" {
		t.Errorf("planned = %v", rig.dispatch.planned)
	}
}

func TestRoutePromptAndAliases(t *testing.T) {
	rig := newTestRig(t)

	if got := rig.router.RouteText(context.Background(), "/prompt"); got != "Usage: /prompt <request>" {
		t.Errorf("bare /prompt = %q", got)
	}
	// /thinkdry shares /prompt's usage string.
	if got := rig.router.RouteText(context.Background(), "/thinkdry"); got != "Usage: /prompt <request>" {
		t.Errorf("bare /thinkdry = %q", got)
	}

	rig.router.RouteText(context.Background(), "/prompt optimize this")
	rig.router.RouteText(context.Background(), "/thinkdry and this")
	if len(rig.dispatch.prompted) != 2 {
		t.Errorf("prompted = %v", rig.dispatch.prompted)
	}
	if len(rig.dispatch.thought) != 0 {
		t.Errorf("/thinkdry leaked into think pipeline: %v", rig.dispatch.thought)
	}
}

func TestRouteThink(t *testing.T) {
	rig := newTestRig(t)

	if got := rig.router.RouteText(context.Background(), "/think"); got != "Usage: /think <request>" {
		t.Errorf("bare /think = %q", got)
	}
	got := rig.router.RouteText(context.Background(), "/think plan my week")
	if got != "Queued for think+plan: plan my week" {
		t.Errorf("reply = %q", got)
	}
}

func TestRouteAsk(t *testing.T) {
	rig := newTestRig(t)

	if got := rig.router.RouteText(context.Background(), "/ask"); got != "Usage: /ask <question> or /ask <agent> <question>" {
		t.Errorf("bare /ask = %q", got)
	}
	// Successful queue replies with nothing; the answer arrives async.
	if got := rig.router.RouteText(context.Background(), "/ask what is pending?"); got != "" {
		t.Errorf("reply = %q, want empty", got)
	}
	if len(rig.dispatch.asked) != 1 || rig.dispatch.asked[0] != "what is pending?" {
		t.Errorf("asked = %v", rig.dispatch.asked)
	}
}

func TestRouteSchedule(t *testing.T) {
	rig := newTestRig(t)

	got := rig.router.RouteText(context.Background(), "/schedule")
	if !strings.HasPrefix(got, "Usage: /schedule <cron> <task description>") {
		t.Errorf("usage = %q", got)
	}
	if !strings.Contains(got, "/schedule 0 7 * * * Send me a morning briefing") {
		t.Errorf("usage examples missing: %q", got)
	}

	got = rig.router.RouteText(context.Background(), "/schedule 0 7 * * *")
	if !strings.HasPrefix(got, "Need 5 cron fields + a task description.") {
		t.Errorf("short schedule = %q", got)
	}

	rig.router.RouteText(context.Background(), "/schedule 0 7 * * * morning briefing")
	if len(rig.jobs.scheduled) != 1 {
		t.Fatalf("scheduled = %v", rig.jobs.scheduled)
	}
	if rig.jobs.scheduled[0] != [2]string{"0 7 * * *", "morning briefing"} {
		t.Errorf("scheduled = %v", rig.jobs.scheduled[0])
	}
}

func TestRouteJobsAndDelete(t *testing.T) {
	rig := newTestRig(t)

	if got := rig.router.RouteText(context.Background(), "/jobs"); got != "No scheduled jobs found." {
		t.Errorf("/jobs = %q", got)
	}
	if got := rig.router.RouteText(context.Background(), "/deletejob"); got != "Usage: /deletejob <job_id>  or  /deletejob all" {
		t.Errorf("bare /deletejob = %q", got)
	}
	rig.router.RouteText(context.Background(), "/deletejob all")
	if len(rig.jobs.deleted) != 1 || rig.jobs.deleted[0] != "all" {
		t.Errorf("deleted = %v", rig.jobs.deleted)
	}
}

func TestRouteLesson(t *testing.T) {
	rig := newTestRig(t)
	if got := rig.router.RouteText(context.Background(), "/lesson always pin versions"); got != "Lesson saved for future tasks." {
		t.Errorf("reply = %q", got)
	}
	if len(rig.workspace.lessons) != 1 {
		t.Errorf("lessons = %v", rig.workspace.lessons)
	}
}

func TestRouteProjectUsesInferred(t *testing.T) {
	rig := newTestRig(t)
	rig.tasks.project = "website"
	got := rig.router.RouteText(context.Background(), "/project uses tailwind v4")
	if got != "Saved project context for website." {
		t.Errorf("reply = %q", got)
	}
	if rig.workspace.projects[0][1] != "website" {
		t.Errorf("inferred project = %q", rig.workspace.projects[0][1])
	}
}

func TestWeatherKeyword(t *testing.T) {
	rig := newTestRig(t)
	got := rig.router.RouteText(context.Background(), "what's the weather like")
	if got != "Weather lookup is not configured on this host." {
		t.Errorf("reply = %q", got)
	}
	if len(rig.dispatch.planned) != 0 {
		t.Errorf("weather text reached the planner: %v", rig.dispatch.planned)
	}
}

func TestStatusCounts(t *testing.T) {
	rig := newTestRig(t)
	rig.tasks.counts = []tasks.StatusCount{{Status: "BLOCKED", Count: 2}, {Status: "TODO", Count: 5}}

	got := rig.router.RouteText(context.Background(), "how is the queue")
	if got != "Tasks: BLOCKED=2, TODO=5" {
		t.Errorf("reply = %q", got)
	}
}

func TestStatusDetailed(t *testing.T) {
	rig := newTestRig(t)
	rig.tasks.recent = []tasks.Task{{ID: 12, Name: "fix auth", Status: "TODO"}}

	got := rig.router.RouteText(context.Background(), "task list please")
	if got != "Recent tasks:\n#12 [TODO] fix auth" {
		t.Errorf("reply = %q", got)
	}
}

func TestStatusBlocked(t *testing.T) {
	rig := newTestRig(t)
	rig.tasks.blocked = []tasks.Task{{ID: 3, Name: "migrate db", Status: "BLOCKED", BlockedReason: "missing creds"}}

	got := rig.router.RouteText(context.Background(), "any blockers?")
	if got != "Blocked tasks:\n#3 migrate db\nmissing creds" {
		t.Errorf("reply = %q", got)
	}
}

func TestStatusServices(t *testing.T) {
	rig := newTestRig(t)
	rig.router.runCmd = func(ctx context.Context, name string, args ...string) (string, error) {
		if name != "systemctl" {
			t.Errorf("cmd = %s %v", name, args)
		}
		return "active\n", nil
	}

	got := rig.router.RouteText(context.Background(), "systemd health?")
	if !strings.HasPrefix(got, "Services:") {
		t.Errorf("reply = %q", got)
	}
	if !strings.Contains(got, "openclaw-chat-router.service: active") {
		t.Errorf("missing unit state: %q", got)
	}
}

func TestStatusGPU(t *testing.T) {
	rig := newTestRig(t)
	rig.router.lookPath = func(name string) (string, error) { return "", errors.New("not found") }
	got := rig.router.RouteText(context.Background(), "gpu load")
	if got != "GPU status unavailable (nvidia-smi not found)." {
		t.Errorf("reply = %q", got)
	}

	rig.router.lookPath = func(name string) (string, error) { return "/usr/bin/nvidia-smi", nil }
	rig.router.runCmd = func(ctx context.Context, name string, args ...string) (string, error) {
		return "45, 30\n", nil
	}
	got = rig.router.RouteText(context.Background(), "gpu load")
	if got != "GPU0: 45% gpu, 30% mem" {
		t.Errorf("reply = %q", got)
	}
}

func TestPlannerFallthrough(t *testing.T) {
	rig := newTestRig(t)
	got := rig.router.RouteText(context.Background(), "book a dentist appointment")
	if got != "Queued for planner: book a dentist appointment" {
		t.Errorf("reply = %q", got)
	}
	if len(rig.dispatch.planned) != 1 {
		t.Fatalf("planned = %v", rig.dispatch.planned)
	}
}

type fakeMemory struct {
	recall string
	convos []string
}

func (f *fakeMemory) Recall(ctx context.Context, query string, limit int) (string, error) {
	return f.recall, nil
}
func (f *fakeMemory) StoreConversation(ctx context.Context, userText, botResponse, source string) (int64, error) {
	f.convos = append(f.convos, userText)
	return 1, nil
}
func (f *fakeMemory) StoreLesson(ctx context.Context, lesson string) (int64, error) { return 1, nil }
func (f *fakeMemory) StoreProjectContext(ctx context.Context, project, context string) (int64, error) {
	return 1, nil
}

type fakeConvo struct {
	recent  string
	entries []string
}

func (f *fakeConvo) Append(role, text string) error {
	f.entries = append(f.entries, role+": "+text)
	return nil
}
func (f *fakeConvo) FormatRecent(n int) string { return f.recent }

func TestPlannerFallthroughEnrichment(t *testing.T) {
	rig := newTestRig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := &fakeMemory{recall: "Relevant memories:\n  [fact] (92% match) dentist is Dr. Lee"}
	conv := &fakeConvo{recent: "Recent conversation:\n  User: hi"}
	r := New(rig.dispatch, rig.questions, rig.tasks, rig.jobs, rig.workspace,
		mem, conv, nil, rig.notifier, logger, observer.Noop())

	got := r.RouteText(context.Background(), "book a dentist appointment")
	if got != "Queued for planner: book a dentist appointment" {
		t.Errorf("reply should preview the raw request: %q", got)
	}
	dispatched := rig.dispatch.planned[0]
	if !strings.HasPrefix(dispatched, "Relevant memories:") {
		t.Errorf("context must lead the enriched text: %q", dispatched)
	}
	if !strings.Contains(dispatched, "Recent conversation:") {
		t.Errorf("dispatched text missing conversation tail: %q", dispatched)
	}
	if !strings.HasSuffix(dispatched, "\n\nbook a dentist appointment") {
		t.Errorf("request must follow the context: %q", dispatched)
	}
}

func TestPlannerFallthroughRecords(t *testing.T) {
	rig := newTestRig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := &fakeMemory{}
	conv := &fakeConvo{}
	r := New(rig.dispatch, rig.questions, rig.tasks, rig.jobs, rig.workspace,
		mem, conv, nil, rig.notifier, logger, observer.Noop())

	got := r.RouteText(context.Background(), "hello there")
	if !strings.HasPrefix(got, "Queued for planner:") {
		t.Fatalf("reply = %q", got)
	}
	if len(conv.entries) != 1 || conv.entries[0] != "user: hello there" {
		t.Errorf("conversation entries = %v", conv.entries)
	}
	if len(mem.convos) != 1 || mem.convos[0] != "hello there" {
		t.Errorf("memory conversation rows = %v", mem.convos)
	}
	// The recorded turn lands after enrichment so it cannot feed its own
	// context; the dispatched text is the bare request.
	if rig.dispatch.planned[0] != "hello there" {
		t.Errorf("dispatched = %q", rig.dispatch.planned[0])
	}
}

func TestCommandRouteDoesNotRecord(t *testing.T) {
	rig := newTestRig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := &fakeMemory{}
	conv := &fakeConvo{}
	r := New(rig.dispatch, rig.questions, rig.tasks, rig.jobs, rig.workspace,
		mem, conv, nil, rig.notifier, logger, observer.Noop())

	r.RouteText(context.Background(), "/jobs")
	if len(conv.entries) != 0 || len(mem.convos) != 0 {
		t.Errorf("command text recorded: entries=%v convos=%v", conv.entries, mem.convos)
	}
}

func TestFormatPending(t *testing.T) {
	tid := int64(42)
	list := []questions.Question{
		{ID: 1, Agent: "coder", TaskID: &tid, Question: "Which branch?",
			CreatedAt: time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)},
		{ID: 2, Agent: "planner", Question: strings.Repeat("q", 200),
			CreatedAt: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)},
	}

	got := FormatPending(list)
	if !strings.HasPrefix(got, "Pending questions:\n") {
		t.Errorf("header: %q", got)
	}
	if !strings.Contains(got, "#1 [coder (task #42)] 2026-08-24 09:30\n  Which branch?") {
		t.Errorf("first entry: %q", got)
	}
	if !strings.HasSuffix(got, "#2 [planner] 2026-08-24 10:00\n  "+strings.Repeat("q", 150)) {
		t.Errorf("truncated entry: %q", got)
	}
	if strings.Contains(got, strings.Repeat("q", 151)) {
		t.Errorf("question not truncated to 150: %q", got)
	}

	if got := FormatPending(nil); got != "No pending questions." {
		t.Errorf("empty = %q", got)
	}
}

func TestAskOwner(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	ok, msg := rig.router.AskOwner(ctx, "reviewer", nil, "hm?")
	if ok || msg != "Unknown agent 'reviewer'. Allowed: coder, planner, tester" {
		t.Errorf("unknown agent = (%v, %q)", ok, msg)
	}

	ok, msg = rig.router.AskOwner(ctx, "coder", nil, "  ")
	if ok || msg != "Question text is required." {
		t.Errorf("empty question = (%v, %q)", ok, msg)
	}

	tid := int64(7)
	ok, msg = rig.router.AskOwner(ctx, "Coder", &tid, "Which API key should I use?")
	if !ok || msg != "Question #1 sent to owner. Waiting for reply." {
		t.Errorf("ask = (%v, %q)", ok, msg)
	}
	if len(rig.notifier.notified) != 1 {
		t.Fatalf("notified = %v", rig.notifier.notified)
	}
	sent := rig.notifier.notified[0]
	if !strings.Contains(sent, "❓ *Agent Question*") ||
		!strings.Contains(sent, "From: `coder` (task #7)") ||
		!strings.Contains(sent, "Question ID: `1`") ||
		!strings.Contains(sent, "Which API key should I use?") {
		t.Errorf("owner notification = %q", sent)
	}
}

func TestHandleOwnerReply(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	if got := rig.router.HandleOwnerReply(ctx, "yes"); got != "No pending questions to answer." {
		t.Errorf("no pending = %q", got)
	}

	tid := int64(9)
	rig.questions.Create(ctx, "coder", &tid, "Deploy to staging first?")

	got := rig.router.HandleOwnerReply(ctx, "Yes, staging first.")
	want := "Answer recorded for question #1.\n" +
		"Agent: coder\n" +
		"Q: Deploy to staging first?\n" +
		"A: Yes, staging first.\n" +
		"Follow-up dispatched to coder."
	if got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}

	if len(rig.dispatch.followUps) != 1 {
		t.Fatalf("followUps = %v", rig.dispatch.followUps)
	}
	fu := rig.dispatch.followUps[0]
	if fu.agent != "coder" || fu.question != "Deploy to staging first?" || fu.answer != "Yes, staging first." {
		t.Errorf("follow-up = %+v", fu)
	}

	sol := rig.tasks.solutions[9]
	if !strings.Contains(sol, "--- Owner Answer (Q#1) ---") || !strings.Contains(sol, "A: Yes, staging first.") {
		t.Errorf("solution append = %q", sol)
	}
}
