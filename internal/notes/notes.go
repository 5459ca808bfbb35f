// Package notes manages the flat-file knowledge kept under the workspace:
// global lessons, per-project context logs, daily notes, and saved links.
// These files feed planner prompts and the owner's quick-capture commands.
package notes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// Workspace owns the context files. Safe for concurrent use.
type Workspace struct {
	lessonsFile   string
	projectsDir   string
	notesDir      string
	bookmarksFile string

	mu       sync.Mutex
	now      func() time.Time
	titleFor func(url string) string
}

func NewWorkspace(lessonsFile, projectsDir, notesDir, bookmarksFile string) *Workspace {
	return &Workspace{
		lessonsFile:   lessonsFile,
		projectsDir:   projectsDir,
		notesDir:      notesDir,
		bookmarksFile: bookmarksFile,
		now:           time.Now,
		titleFor:      fetchTitle,
	}
}

// fetchTitle extracts a page title for bookmarks. Empty string on any
// failure; the bookmark is still saved with its URL.
func fetchTitle(url string) string {
	article, err := readability.FromURL(url, 15*time.Second)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(article.Title)
}

// --- Lessons ---

// AddLesson appends a timestamped lesson to the global lessons file.
func (w *Workspace) AddLesson(lesson string) (string, error) {
	text := strings.TrimSpace(lesson)
	if text == "" {
		return "Usage: /lesson <lesson learned>", nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	stamp := w.now().UTC().Format("2006-01-02 15:04:05 UTC")
	if err := appendLine(w.lessonsFile, fmt.Sprintf("[%s] %s", stamp, text)); err != nil {
		return "", fmt.Errorf("notes: add lesson: %w", err)
	}
	return "Lesson saved for future tasks.", nil
}

// RecentLessons returns the last limit non-empty lessons file lines.
func (w *Workspace) RecentLessons(limit int) []string {
	return recentLines(w.lessonsFile, limit)
}

// PlannerContextSuffix renders recent lessons as a planner prompt suffix, or
// empty string when no lessons exist.
func (w *Workspace) PlannerContextSuffix() string {
	lessons := w.RecentLessons(10)
	if len(lessons) == 0 {
		return ""
	}
	lines := []string{"", "Global lessons learned (apply unless repo state contradicts):"}
	for _, entry := range lessons {
		lines = append(lines, "- "+entry)
	}
	return strings.Join(lines, "\n") + "\n"
}

// --- Project context ---

// ParseProjectNote splits a /project argument into project name and note.
// Accepted forms: "project|note", "project: note" (single-word project), or
// a bare note attributed to inferredProject when non-empty.
func ParseProjectNote(raw, inferredProject string) (project, note string, ok bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", "", false
	}

	if name, rest, found := strings.Cut(value, "|"); found {
		name, rest = strings.TrimSpace(name), strings.TrimSpace(rest)
		if name != "" && rest != "" {
			return name, rest, true
		}
	}

	if name, rest, found := strings.Cut(value, ":"); found {
		name, rest = strings.TrimSpace(name), strings.TrimSpace(rest)
		if name != "" && rest != "" && !strings.Contains(name, " ") {
			return name, rest, true
		}
	}

	if inferredProject != "" {
		return inferredProject, value, true
	}
	return "", "", false
}

// SanitizeProjectName maps a project name to a safe filename stem.
func SanitizeProjectName(name string) string {
	var b strings.Builder
	for _, ch := range strings.TrimSpace(name) {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9',
			ch == '.', ch == '_', ch == '-':
			b.WriteRune(ch)
		default:
			b.WriteRune('_')
		}
	}
	cleaned := strings.Trim(b.String(), "._-")
	if cleaned == "" {
		return "project"
	}
	return cleaned
}

// AddProjectNote appends a timestamped note to a project's context log.
// inferredProject backs the bare-note form.
func (w *Workspace) AddProjectNote(raw, inferredProject string) (string, error) {
	project, note, ok := ParseProjectNote(raw, inferredProject)
	if !ok {
		return "Usage: /project <project>|<note> (or /project <note> when a recent project exists)", nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	stamp := w.now().UTC().Format("2006-01-02 15:04:05 UTC")
	path := filepath.Join(w.projectsDir, SanitizeProjectName(project)+".log")
	if err := appendLine(path, fmt.Sprintf("[%s] %s", stamp, note)); err != nil {
		return "", fmt.Errorf("notes: add project note: %w", err)
	}
	return "Saved project context for " + project + ".", nil
}

// --- Daily notes ---

// AddNote appends a timestamped entry to today's note file.
func (w *Workspace) AddNote(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "Usage: /note <text>", nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now().UTC()
	path := filepath.Join(w.notesDir, now.Format("2006-01-02")+".md")
	if err := appendLine(path, fmt.Sprintf("- [%s] %s", now.Format("15:04"), text)); err != nil {
		return "", fmt.Errorf("notes: add note: %w", err)
	}
	return "Note saved.", nil
}

// TodayNotes returns today's note entries.
func (w *Workspace) TodayNotes() string {
	day := w.now().UTC().Format("2006-01-02")
	lines := recentLines(filepath.Join(w.notesDir, day+".md"), 50)
	if len(lines) == 0 {
		return "No notes for today."
	}
	return "Notes for " + day + ":\n" + strings.Join(lines, "\n")
}

// SearchNotes scans all note files for lines containing the query,
// case-insensitive, newest file first.
func (w *Workspace) SearchNotes(query string) string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return w.TodayNotes()
	}

	matches, _ := filepath.Glob(filepath.Join(w.notesDir, "*.md"))
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))

	var lines []string
	for _, path := range matches {
		day := strings.TrimSuffix(filepath.Base(path), ".md")
		for _, line := range recentLines(path, 0) {
			if strings.Contains(strings.ToLower(line), query) {
				lines = append(lines, day+" "+line)
			}
		}
		if len(lines) >= 20 {
			lines = lines[:20]
			break
		}
	}
	if len(lines) == 0 {
		return fmt.Sprintf("No notes matching %q.", query)
	}
	return "Matching notes:\n" + strings.Join(lines, "\n")
}

// --- Bookmarks ---

// Bookmark is one saved link.
type Bookmark struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Tags    string `json:"tags"`
	SavedAt string `json:"saved_at"`
}

// SaveBookmark fetches the page title and records the link with optional
// space-separated tags.
func (w *Workspace) SaveBookmark(url, tags string) (string, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return "Usage: /save <url> [tags]", nil
	}

	title := w.titleFor(url)

	w.mu.Lock()
	defer w.mu.Unlock()

	marks, err := w.loadBookmarks()
	if err != nil {
		return "", err
	}
	marks = append(marks, Bookmark{
		URL:     url,
		Title:   title,
		Tags:    strings.TrimSpace(tags),
		SavedAt: w.now().UTC().Format(time.RFC3339),
	})
	if err := w.saveBookmarks(marks); err != nil {
		return "", err
	}

	if title != "" {
		return "Saved: " + title + "\n" + url, nil
	}
	return "Saved: " + url, nil
}

// ListBookmarks renders saved links, newest first, optionally filtered by
// tag substring.
func (w *Workspace) ListBookmarks(tag string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	marks, err := w.loadBookmarks()
	if err != nil {
		return "", err
	}

	tag = strings.ToLower(strings.TrimSpace(tag))
	var lines []string
	for i := len(marks) - 1; i >= 0; i-- {
		m := marks[i]
		if tag != "" && !strings.Contains(strings.ToLower(m.Tags), tag) {
			continue
		}
		label := m.Title
		if label == "" {
			label = m.URL
		} else {
			label += " — " + m.URL
		}
		if m.Tags != "" {
			label += " [" + m.Tags + "]"
		}
		lines = append(lines, "• "+label)
		if len(lines) >= 20 {
			break
		}
	}
	if len(lines) == 0 {
		if tag != "" {
			return fmt.Sprintf("No saved links tagged %q.", tag), nil
		}
		return "No saved links.", nil
	}
	return "Saved links:\n" + strings.Join(lines, "\n"), nil
}

func (w *Workspace) loadBookmarks() ([]Bookmark, error) {
	data, err := os.ReadFile(w.bookmarksFile)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("notes: read bookmarks: %w", err)
	}
	var marks []Bookmark
	if err := json.Unmarshal(data, &marks); err != nil {
		return nil, fmt.Errorf("notes: decode bookmarks: %w", err)
	}
	return marks, nil
}

func (w *Workspace) saveBookmarks(marks []Bookmark) error {
	data, err := json.MarshalIndent(marks, "", "  ")
	if err != nil {
		return fmt.Errorf("notes: encode bookmarks: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(w.bookmarksFile), 0o755); err != nil {
		return fmt.Errorf("notes: mkdir: %w", err)
	}
	if err := os.WriteFile(w.bookmarksFile, data, 0o644); err != nil {
		return fmt.Errorf("notes: write bookmarks: %w", err)
	}
	return nil
}

// --- File helpers ---

func appendLine(path, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

// recentLines returns the trailing non-empty lines of a file; limit 0 means
// all lines. Missing files yield nil.
func recentLines(path string, limit int) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines
}
