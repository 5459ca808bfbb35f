// Package convo keeps a short rolling window of recent owner/assistant
// exchanges, persisted as a JSON file so it survives restarts. This is the
// prompt-context buffer; durable memory lives in the vector store.
package convo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	maxEntries   = 20
	maxEntryText = 500
)

// Entry is one message in the buffer.
type Entry struct {
	Role string `json:"role"` // "user" or "ashley"
	Text string `json:"text"`
	TS   string `json:"ts"`
}

// Buffer is a file-backed ring of recent messages. Safe for concurrent use.
type Buffer struct {
	path string

	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

// NewBuffer loads the buffer from path, tolerating a missing or corrupt file
// (either starts empty).
func NewBuffer(path string) *Buffer {
	b := &Buffer{path: path, now: time.Now}
	data, err := os.ReadFile(path)
	if err == nil {
		var entries []Entry
		if json.Unmarshal(data, &entries) == nil {
			if len(entries) > maxEntries {
				entries = entries[len(entries)-maxEntries:]
			}
			b.entries = entries
		}
	}
	return b
}

// Append records one message, truncating long text and dropping the oldest
// entries beyond the window. The file is rewritten on every append.
func (b *Buffer) Append(role, text string) error {
	if len(text) > maxEntryText {
		text = text[:maxEntryText]
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, Entry{
		Role: role,
		Text: text,
		TS:   b.now().UTC().Format(time.RFC3339),
	})
	if len(b.entries) > maxEntries {
		b.entries = b.entries[len(b.entries)-maxEntries:]
	}
	return b.save()
}

// LastN returns up to n most recent entries, oldest first.
func (b *Buffer) LastN(n int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > len(b.entries) {
		n = len(b.entries)
	}
	out := make([]Entry, n)
	copy(out, b.entries[len(b.entries)-n:])
	return out
}

// FormatRecent renders the last n entries as a prompt-context block, or an
// empty string when the buffer is empty.
func (b *Buffer) FormatRecent(n int) string {
	entries := b.LastN(n)
	if len(entries) == 0 {
		return ""
	}
	lines := []string{"Recent conversation:"}
	for _, e := range entries {
		label := "User"
		if e.Role == "ashley" {
			label = "Ashley"
		}
		lines = append(lines, fmt.Sprintf("  %s: %s", label, e.Text))
	}
	return strings.Join(lines, "\n")
}

func (b *Buffer) save() error {
	data, err := json.Marshal(b.entries)
	if err != nil {
		return fmt.Errorf("convo: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("convo: mkdir: %w", err)
	}
	if err := os.WriteFile(b.path, data, 0o644); err != nil {
		return fmt.Errorf("convo: write: %w", err)
	}
	return nil
}
