// Package google talks to the local Google-services facade, a small JSON
// HTTP daemon that owns the Gmail/Calendar OAuth credentials. This package
// only shapes requests and renders owner-facing summaries; authentication
// and API quotas live behind the facade.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Email is one inbox message summary.
type Email struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Date    string `json:"date"`
	Snippet string `json:"snippet"`
	Body    string `json:"body,omitempty"`
	Unread  bool   `json:"unread"`
}

// Event is one calendar entry.
type Event struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Client calls the facade daemon.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ListEmails returns inbox messages, optionally filtered by a Gmail search
// query.
func (c *Client) ListEmails(ctx context.Context, query string, max int) ([]Email, error) {
	q := url.Values{}
	if query != "" {
		q.Set("q", query)
	}
	if max > 0 {
		q.Set("max", strconv.Itoa(max))
	}
	var emails []Email
	if err := c.get(ctx, "/emails", q, &emails); err != nil {
		return nil, err
	}
	return emails, nil
}

// ReadEmail fetches one message with its body; the facade marks it read.
func (c *Client) ReadEmail(ctx context.Context, id string) (*Email, error) {
	var email Email
	if err := c.get(ctx, "/emails/"+url.PathEscape(id), nil, &email); err != nil {
		return nil, err
	}
	return &email, nil
}

// SendEmail sends a plain-text message.
func (c *Client) SendEmail(ctx context.Context, to, subject, body string) error {
	payload := map[string]string{"to": to, "subject": subject, "body": body}
	return c.post(ctx, "/emails/send", payload, nil)
}

// CountUnread returns the unread inbox count.
func (c *Client) CountUnread(ctx context.Context) (int, error) {
	var result struct {
		Count int `json:"count"`
	}
	if err := c.get(ctx, "/emails/unread", nil, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

// ListEvents returns upcoming events within the next N days.
func (c *Client) ListEvents(ctx context.Context, days int) ([]Event, error) {
	q := url.Values{}
	if days > 0 {
		q.Set("days", strconv.Itoa(days))
	}
	var events []Event
	if err := c.get(ctx, "/events", q, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// CreateEvent creates an event. start is ISO datetime or YYYY-MM-DD.
func (c *Client) CreateEvent(ctx context.Context, summary, start, description, location string) (*Event, error) {
	payload := map[string]string{
		"summary":     summary,
		"start":       start,
		"description": description,
		"location":    location,
	}
	var event Event
	if err := c.post(ctx, "/events", payload, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// DeleteEvent removes an event by id.
func (c *Client) DeleteEvent(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/events/"+url.PathEscape(id), nil)
	if err != nil {
		return fmt.Errorf("google: create request: %w", err)
	}
	return c.do(req, nil)
}

// TodaySchedule renders today's events as a short block.
func (c *Client) TodaySchedule(ctx context.Context) (string, error) {
	events, err := c.ListEvents(ctx, 1)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return "No events scheduled for today.", nil
	}
	lines := []string{"Today's schedule:"}
	for _, ev := range events {
		loc := ""
		if ev.Location != "" {
			loc = " @ " + ev.Location
		}
		lines = append(lines, fmt.Sprintf("  %s — %s%s", eventTime(ev.Start), ev.Summary, loc))
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("google: create request: %w", err)
	}
	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("google: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("google: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("google: HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("google: HTTP %d from %s", resp.StatusCode, req.URL.Path)
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("google: decode response: %w", err)
	}
	return nil
}

// --- Owner-facing formatting ---

// FormatEmailList renders an inbox listing with unread markers and ids.
func FormatEmailList(emails []Email) string {
	if len(emails) == 0 {
		return "No emails found."
	}
	var lines []string
	for _, e := range emails {
		marker := " "
		if e.Unread {
			marker = "●"
		}
		subject := e.Subject
		if subject == "" {
			subject = "(no subject)"
		}
		if len(subject) > 60 {
			subject = subject[:60]
		}
		lines = append(lines,
			fmt.Sprintf("  %s %s — %s", marker, shortSender(e.From), subject),
			"    ID: "+e.ID)
	}
	return strings.Join(lines, "\n")
}

// FormatEmail renders one full message.
func FormatEmail(e *Email) string {
	return fmt.Sprintf("From: %s\nDate: %s\nSubject: %s\n\n%s", e.From, e.Date, e.Subject, e.Body)
}

// FormatEventList renders upcoming events grouped by day.
func FormatEventList(events []Event) string {
	if len(events) == 0 {
		return "No upcoming events."
	}
	var lines []string
	currentDate := ""
	for _, ev := range events {
		dateStr, timeStr := eventDate(ev.Start), eventTime(ev.Start)
		if dateStr != currentDate {
			lines = append(lines, "\n📅 "+dateStr)
			currentDate = dateStr
		}
		loc := ""
		if ev.Location != "" {
			loc = " @ " + ev.Location
		}
		lines = append(lines, fmt.Sprintf("  %s — %s%s", timeStr, ev.Summary, loc))
		if ev.ID != "" {
			lines = append(lines, "    ID: "+ev.ID)
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func shortSender(from string) string {
	if idx := strings.Index(from, "<"); idx >= 0 {
		from = strings.Trim(strings.TrimSpace(from[:idx]), `"`)
	}
	if len(from) > 25 {
		from = from[:22] + "..."
	}
	return from
}

// eventTime renders the time-of-day of an ISO start value; date-only starts
// are all-day events.
func eventTime(start string) string {
	if !strings.Contains(start, "T") {
		return "All day"
	}
	t, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return start
	}
	out := t.Format("3:04 PM")
	return out
}

func eventDate(start string) string {
	if !strings.Contains(start, "T") {
		return start
	}
	t, err := time.Parse(time.RFC3339, start)
	if err != nil {
		if len(start) >= 10 {
			return start[:10]
		}
		return start
	}
	return t.Format("Mon Jan 2")
}
