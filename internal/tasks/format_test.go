package tasks

import (
	"strings"
	"testing"
)

func TestParseUnblockArgs(t *testing.T) {
	cases := []struct {
		tokens       []string
		wantStatus   string
		wantSolution string
	}{
		{nil, "TODO", ""},
		{[]string{"todo"}, "TODO", ""},
		{[]string{"ready"}, "READY_FOR_TESTING", ""},
		{[]string{"ready_for_testing", "fixed", "the", "port"}, "READY_FOR_TESTING", "fixed the port"},
		{[]string{"ready-for-testing"}, "READY_FOR_TESTING", ""},
		{[]string{"in_progress", "note"}, "IN_PROGRESS", "note"},
		{[]string{"in-progress"}, "IN_PROGRESS", ""},
		{[]string{"inprogress"}, "IN_PROGRESS", ""},
		{[]string{"Ready", "For", "Testing", "use", "port", "8080"}, "READY_FOR_TESTING", "use port 8080"},
		{[]string{"ready", "for", "testing"}, "READY_FOR_TESTING", ""},
		{[]string{"use", "the", "staging", "db"}, "TODO", "use the staging db"},
		{[]string{"fixed"}, "TODO", "fixed"},
	}
	for _, c := range cases {
		status, solution := ParseUnblockArgs(c.tokens)
		if status != c.wantStatus || solution != c.wantSolution {
			t.Errorf("ParseUnblockArgs(%v) = (%q, %q), want (%q, %q)",
				c.tokens, status, solution, c.wantStatus, c.wantSolution)
		}
	}
}

func TestTerminalStatus(t *testing.T) {
	// The task manager writes COMPLETE with completed_at when it finishes a
	// task; summaries must query the same value.
	if StatusComplete != "COMPLETE" {
		t.Errorf("StatusComplete = %q", StatusComplete)
	}
}

func TestFormatCounts(t *testing.T) {
	if got := FormatCounts(nil); got != "No tasks found." {
		t.Errorf("empty: %q", got)
	}
	got := FormatCounts([]StatusCount{{"BLOCKED", 2}, {"TODO", 5}})
	if got != "Tasks: BLOCKED=2, TODO=5" {
		t.Errorf("FormatCounts = %q", got)
	}
}

func TestFormatRecent(t *testing.T) {
	got := FormatRecent([]Task{{ID: 12, Name: "fix auth", Status: "TODO"}})
	want := "Recent tasks:\n#12 [TODO] fix auth"
	if got != want {
		t.Errorf("FormatRecent = %q, want %q", got, want)
	}
}

func TestFormatBlocked(t *testing.T) {
	if got := FormatBlocked(nil, nil); got != "No blocked tasks." {
		t.Errorf("empty: %q", got)
	}

	list := []Task{
		{ID: 3, Name: "deploy", BlockedReason: "missing creds"},
		{ID: 7, Name: "migrate"},
	}
	got := FormatBlocked(list, nil)
	want := "Blocked tasks:\n#3 deploy\nmissing creds\n#7 migrate"
	if got != want {
		t.Errorf("FormatBlocked = %q, want %q", got, want)
	}

	got = FormatBlocked(list[:1], map[int64]string{3: "Project: api"})
	if !strings.Contains(got, "#3 deploy\nProject: api\nmissing creds") {
		t.Errorf("with context = %q", got)
	}
}

func TestFormatByStatus(t *testing.T) {
	if got := FormatByStatus(nil, "todo"); got != "No todo tasks." {
		t.Errorf("empty: %q", got)
	}

	list := []Task{
		{ID: 1, Name: "a", Phase: "impl", Agent: "coder"},
		{ID: 2, Name: "b"},
	}
	got := FormatByStatus(list, "todo")
	want := "Todo tasks:\n#1 a (Phase: impl, Agent: coder)\n#2 b"
	if got != want {
		t.Errorf("FormatByStatus = %q, want %q", got, want)
	}
}

func TestFormatDetail(t *testing.T) {
	t1 := &Task{ID: 9, Name: "ship it", Status: "IN_PROGRESS", Agent: "coder"}
	got := FormatDetail(t1)
	want := "#9 ship it\nStatus: IN_PROGRESS\nAgent: coder"
	if got != want {
		t.Errorf("FormatDetail = %q, want %q", got, want)
	}

	t2 := &Task{ID: 4, Name: "x", Status: "BLOCKED", Phase: "test", BlockedReason: "flaky env"}
	got = FormatDetail(t2)
	if !strings.Contains(got, "Phase: test") || !strings.Contains(got, "Blocked: flaky env") {
		t.Errorf("FormatDetail = %q", got)
	}
}

func TestOwnerAnswerBlock(t *testing.T) {
	got := OwnerAnswerBlock(5, "which db?", "postgres")
	want := "\n\n--- Owner Answer (Q#5) ---\nQ: which db?\nA: postgres"
	if got != want {
		t.Errorf("OwnerAnswerBlock = %q, want %q", got, want)
	}
}
