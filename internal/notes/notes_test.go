package notes

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testWorkspace(t *testing.T) *Workspace {
	t.Helper()
	dir := t.TempDir()
	w := NewWorkspace(
		filepath.Join(dir, "lessons-learned.md"),
		filepath.Join(dir, "projects"),
		filepath.Join(dir, "notes"),
		filepath.Join(dir, "bookmarks.json"),
	)
	w.now = func() time.Time { return time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC) }
	w.titleFor = func(string) string { return "" }
	return w
}

func TestAddLesson(t *testing.T) {
	w := testWorkspace(t)

	reply, err := w.AddLesson("  ")
	if err != nil || !strings.HasPrefix(reply, "Usage:") {
		t.Errorf("empty lesson: (%q, %v)", reply, err)
	}

	reply, err = w.AddLesson("always run migrations first")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "Lesson saved for future tasks." {
		t.Errorf("reply = %q", reply)
	}

	lessons := w.RecentLessons(10)
	if len(lessons) != 1 {
		t.Fatalf("lessons = %v", lessons)
	}
	if lessons[0] != "[2026-08-24 09:30:00 UTC] always run migrations first" {
		t.Errorf("lesson line = %q", lessons[0])
	}
}

func TestRecentLessonsWindow(t *testing.T) {
	w := testWorkspace(t)
	for i := 0; i < 15; i++ {
		if _, err := w.AddLesson(strings.Repeat("x", i+1)); err != nil {
			t.Fatal(err)
		}
	}
	got := w.RecentLessons(10)
	if len(got) != 10 {
		t.Fatalf("got %d lessons", len(got))
	}
	if !strings.HasSuffix(got[9], strings.Repeat("x", 15)) {
		t.Errorf("newest lesson missing: %q", got[9])
	}
}

func TestPlannerContextSuffix(t *testing.T) {
	w := testWorkspace(t)
	if got := w.PlannerContextSuffix(); got != "" {
		t.Errorf("no lessons: %q", got)
	}

	w.AddLesson("check the env file")
	got := w.PlannerContextSuffix()
	if !strings.Contains(got, "Global lessons learned (apply unless repo state contradicts):") {
		t.Errorf("suffix = %q", got)
	}
	if !strings.Contains(got, "- [2026-08-24 09:30:00 UTC] check the env file") {
		t.Errorf("suffix missing lesson: %q", got)
	}
	if !strings.HasSuffix(got, "\n") {
		t.Error("suffix should end with newline")
	}
}

func TestParseProjectNote(t *testing.T) {
	cases := []struct {
		raw, inferred           string
		wantProject, wantNote   string
		wantOK                  bool
	}{
		{"site|use dark theme", "", "site", "use dark theme", true},
		{" site | use dark theme ", "", "site", "use dark theme", true},
		{"site: prefers postgres", "", "site", "prefers postgres", true},
		{"multi word: note", "", "", "", false},
		{"bare note text", "inferred-proj", "inferred-proj", "bare note text", true},
		{"bare note text", "", "", "", false},
		{"", "x", "", "", false},
		{"|note", "", "", "", false},
	}
	for _, c := range cases {
		project, note, ok := ParseProjectNote(c.raw, c.inferred)
		if project != c.wantProject || note != c.wantNote || ok != c.wantOK {
			t.Errorf("ParseProjectNote(%q, %q) = (%q, %q, %v), want (%q, %q, %v)",
				c.raw, c.inferred, project, note, ok, c.wantProject, c.wantNote, c.wantOK)
		}
	}
}

func TestSanitizeProjectName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"my-site", "my-site"},
		{"My Site!", "My_Site"},
		{"../etc/passwd", "etc_passwd"},
		{"___", "project"},
		{"", "project"},
	}
	for _, c := range cases {
		if got := SanitizeProjectName(c.in); got != c.want {
			t.Errorf("SanitizeProjectName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestAddProjectNote(t *testing.T) {
	w := testWorkspace(t)

	reply, err := w.AddProjectNote("site|needs SSL", "")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "Saved project context for site." {
		t.Errorf("reply = %q", reply)
	}

	data, err := os.ReadFile(filepath.Join(filepath.Dir(w.lessonsFile), "projects", "site.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "needs SSL") {
		t.Errorf("project log = %q", data)
	}

	reply, _ = w.AddProjectNote("orphan note", "")
	if !strings.HasPrefix(reply, "Usage:") {
		t.Errorf("no inferrable project: %q", reply)
	}
}

func TestDailyNotes(t *testing.T) {
	w := testWorkspace(t)

	if got := w.TodayNotes(); got != "No notes for today." {
		t.Errorf("empty: %q", got)
	}

	if _, err := w.AddNote("buy milk"); err != nil {
		t.Fatal(err)
	}
	got := w.TodayNotes()
	if !strings.Contains(got, "Notes for 2026-08-24:") || !strings.Contains(got, "- [09:30] buy milk") {
		t.Errorf("TodayNotes = %q", got)
	}

	if got := w.SearchNotes("milk"); !strings.Contains(got, "2026-08-24 - [09:30] buy milk") {
		t.Errorf("SearchNotes = %q", got)
	}
	if got := w.SearchNotes("absent"); !strings.Contains(got, "No notes matching") {
		t.Errorf("SearchNotes miss = %q", got)
	}
}

func TestBookmarks(t *testing.T) {
	w := testWorkspace(t)
	w.titleFor = func(url string) string {
		if url == "https://a.dev" {
			return "A Site"
		}
		return ""
	}

	reply, err := w.SaveBookmark("https://a.dev", "go infra")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "Saved: A Site\nhttps://a.dev" {
		t.Errorf("reply = %q", reply)
	}

	if _, err := w.SaveBookmark("https://b.dev", ""); err != nil {
		t.Fatal(err)
	}

	listing, err := w.ListBookmarks("")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(listing, "\n")
	if lines[0] != "Saved links:" {
		t.Errorf("header = %q", lines[0])
	}
	// newest first
	if !strings.Contains(lines[1], "https://b.dev") {
		t.Errorf("order: %q", listing)
	}
	if !strings.Contains(listing, "A Site — https://a.dev [go infra]") {
		t.Errorf("listing = %q", listing)
	}

	byTag, _ := w.ListBookmarks("infra")
	if strings.Contains(byTag, "b.dev") || !strings.Contains(byTag, "a.dev") {
		t.Errorf("tag filter: %q", byTag)
	}

	missing, _ := w.ListBookmarks("nope")
	if !strings.Contains(missing, "No saved links tagged") {
		t.Errorf("missing tag: %q", missing)
	}
}
