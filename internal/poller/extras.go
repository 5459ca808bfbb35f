package poller

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ashley/internal/google"
	"ashley/internal/tasks"
)

// handleExtra covers the assistant-life commands: notes, bookmarks, memory,
// weather, search, email, calendar, and the aggregate summaries. Returns
// handled=false for commands this surface does not own.
func (p *Poller) handleExtra(ctx context.Context, cmd string, args []string) (string, bool) {
	arg := strings.TrimSpace(strings.Join(args, " "))

	switch cmd {
	case "/note":
		return p.cmdNote(ctx, arg), true
	case "/notes":
		return p.cmdNotes(args), true
	case "/save":
		return p.cmdSave(ctx, args), true
	case "/links":
		return p.cmdLinks(arg), true

	case "/remember":
		return p.cmdRemember(ctx, arg), true
	case "/recall":
		return p.cmdRecall(ctx, arg), true
	case "/memstats":
		return p.cmdMemStats(ctx), true

	case "/weather":
		return p.cmdWeather(ctx, arg), true
	case "/search":
		return p.cmdSearch(ctx, arg), true
	case "/briefing":
		return p.cmdBriefing(ctx), true
	case "/weeklyreview":
		return p.cmdWeeklyReview(ctx), true

	case "/emails":
		return p.cmdEmails(ctx, arg), true
	case "/email":
		return p.cmdEmail(ctx, arg), true
	case "/sendemail":
		return p.cmdSendEmail(ctx, arg), true
	case "/unread":
		return p.cmdUnread(ctx), true
	case "/calendar":
		return p.cmdCalendar(ctx, arg), true
	case "/event":
		return p.cmdEvent(ctx, arg), true
	case "/delevent":
		return p.cmdDelEvent(ctx, arg), true
	}
	return "", false
}

// --- Notes & links ---

func (p *Poller) cmdNote(ctx context.Context, arg string) string {
	reply, err := p.notes.AddNote(arg)
	if err != nil {
		p.logger.Error("note save failed", "error", err)
		return "Failed to save note."
	}
	if arg != "" && p.mem != nil {
		date := p.now().UTC().Format("2006-01-02")
		if _, err := p.mem.StoreNote(ctx, arg, date); err != nil {
			p.logger.Error("note memory store failed", "error", err)
		}
	}
	return reply
}

func (p *Poller) cmdNotes(args []string) string {
	if len(args) >= 2 && strings.EqualFold(args[0], "search") {
		return p.notes.SearchNotes(strings.Join(args[1:], " "))
	}
	return p.notes.TodayNotes()
}

func (p *Poller) cmdSave(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "Usage: /save <url> [tags]"
	}
	url := args[0]
	tags := strings.Join(args[1:], " ")

	reply, err := p.notes.SaveBookmark(url, tags)
	if err != nil {
		p.logger.Error("bookmark save failed", "url", url, "error", err)
		return "Failed to save bookmark."
	}
	if p.mem != nil {
		title := ""
		if _, rest, found := strings.Cut(reply, "Saved: "); found {
			title, _, _ = strings.Cut(rest, "\n")
		}
		if _, err := p.mem.StoreBookmark(ctx, url, title, tags); err != nil {
			p.logger.Error("bookmark memory store failed", "url", url, "error", err)
		}
	}
	return reply
}

func (p *Poller) cmdLinks(tag string) string {
	reply, err := p.notes.ListBookmarks(tag)
	if err != nil {
		p.logger.Error("bookmark list failed", "error", err)
		return "Failed to list bookmarks."
	}
	return reply
}

// --- Memory ---

func (p *Poller) cmdRemember(ctx context.Context, arg string) string {
	if p.mem == nil {
		return "Memory is not configured."
	}
	if arg == "" {
		return "Usage: /remember <fact>"
	}
	if _, err := p.mem.StoreFact(ctx, arg, "owner"); err != nil {
		p.logger.Error("fact store failed", "error", err)
		return "Failed to store the fact."
	}
	return "Remembered."
}

func (p *Poller) cmdRecall(ctx context.Context, arg string) string {
	if p.mem == nil {
		return "Memory is not configured."
	}
	if arg == "" {
		return "Usage: /recall <query>"
	}
	recall, err := p.mem.Recall(ctx, arg, 5)
	if err != nil {
		p.logger.Error("recall failed", "error", err)
		return "Failed to search memories."
	}
	if recall == "" {
		return "No matching memories."
	}
	return recall
}

func (p *Poller) cmdMemStats(ctx context.Context) string {
	if p.mem == nil {
		return "Memory is not configured."
	}
	total, err := p.mem.Count(ctx, "")
	if err != nil {
		p.logger.Error("memory count failed", "error", err)
		return "Failed to read memory stats."
	}
	cats, err := p.mem.Categories(ctx)
	if err != nil {
		p.logger.Error("memory categories failed", "error", err)
		return "Failed to read memory stats."
	}

	lines := []string{fmt.Sprintf("Memories: %d", total)}
	for _, c := range cats {
		lines = append(lines, fmt.Sprintf("  %s: %d", c.Category, c.Count))
	}
	return strings.Join(lines, "\n")
}

// --- Info tools ---

func (p *Poller) cmdWeather(ctx context.Context, arg string) string {
	if p.weather == nil {
		return "Weather lookup is not configured on this host."
	}
	reply, err := p.weather.Current(ctx, arg)
	if err != nil {
		p.logger.Error("weather lookup failed", "error", err)
		return "Weather lookup failed."
	}
	return reply
}

func (p *Poller) cmdSearch(ctx context.Context, arg string) string {
	if arg == "" {
		return "Usage: /search <query>"
	}
	if p.search == nil {
		return "Web search is not configured on this host."
	}
	reply, err := p.search.Query(ctx, arg)
	if err != nil {
		p.logger.Error("web search failed", "error", err)
		return "Web search failed."
	}
	return reply
}

// cmdBriefing aggregates the morning snapshot: mail, calendar, weather,
// tasks, and pending questions. Unconfigured sections are skipped.
func (p *Poller) cmdBriefing(ctx context.Context) string {
	sections := []string{"Morning briefing:"}

	if p.google != nil {
		if n, err := p.google.CountUnread(ctx); err == nil {
			sections = append(sections, fmt.Sprintf("📧 Unread emails: %d", n))
		}
		if schedule, err := p.google.TodaySchedule(ctx); err == nil {
			sections = append(sections, "📅 "+schedule)
		}
	}
	if p.weather != nil && p.weather.Configured() {
		if w, err := p.weather.Current(ctx, ""); err == nil {
			sections = append(sections, "🌤 "+w)
		}
	}
	if counts, err := p.tasks.CountsByStatus(ctx); err == nil {
		sections = append(sections, "📋 "+tasks.FormatCounts(counts))
	}
	if n := p.pendingCount(ctx); n > 0 {
		sections = append(sections, fmt.Sprintf("❓ Pending questions: %d", n))
	}

	if len(sections) == 1 {
		return "Nothing to report."
	}
	return strings.Join(sections, "\n")
}

// cmdWeeklyReview summarizes finished work and what the assistant has
// accumulated.
func (p *Poller) cmdWeeklyReview(ctx context.Context) string {
	sections := []string{"Weekly review:"}

	if done, err := p.tasks.RecentCompleted(ctx, 10); err == nil && len(done) > 0 {
		lines := []string{"Completed tasks:"}
		for _, t := range done {
			lines = append(lines, fmt.Sprintf("#%d %s", t.ID, t.Name))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}
	if today := p.notes.TodayNotes(); today != "" && today != "No notes for today." {
		sections = append(sections, today)
	}
	if p.mem != nil {
		if total, err := p.mem.Count(ctx, ""); err == nil {
			sections = append(sections, fmt.Sprintf("Memories stored: %d", total))
		}
	}

	if len(sections) == 1 {
		return "Nothing to review this week."
	}
	return strings.Join(sections, "\n\n")
}

// --- Gmail & Calendar ---

const googleUnavailable = "Google services are not configured."

func (p *Poller) cmdEmails(ctx context.Context, arg string) string {
	if p.google == nil {
		return googleUnavailable
	}
	emails, err := p.google.ListEmails(ctx, arg, 10)
	if err != nil {
		p.logger.Error("email list failed", "error", err)
		return "Failed to list emails."
	}
	return google.FormatEmailList(emails)
}

func (p *Poller) cmdEmail(ctx context.Context, arg string) string {
	if p.google == nil {
		return googleUnavailable
	}
	if arg == "" {
		return "Usage: /email <id>"
	}
	email, err := p.google.ReadEmail(ctx, arg)
	if err != nil {
		p.logger.Error("email read failed", "id", arg, "error", err)
		return "Failed to read email."
	}
	return google.FormatEmail(email)
}

func (p *Poller) cmdSendEmail(ctx context.Context, arg string) string {
	if p.google == nil {
		return googleUnavailable
	}
	parts := strings.SplitN(arg, "|", 3)
	if len(parts) < 3 {
		return "Usage: /sendemail to | subject | body"
	}
	to := strings.TrimSpace(parts[0])
	subject := strings.TrimSpace(parts[1])
	body := strings.TrimSpace(parts[2])
	if to == "" || subject == "" {
		return "Usage: /sendemail to | subject | body"
	}
	if err := p.google.SendEmail(ctx, to, subject, body); err != nil {
		p.logger.Error("email send failed", "to", to, "error", err)
		return "Failed to send email."
	}
	return "Email sent to " + to + "."
}

func (p *Poller) cmdUnread(ctx context.Context) string {
	if p.google == nil {
		return googleUnavailable
	}
	n, err := p.google.CountUnread(ctx)
	if err != nil {
		p.logger.Error("unread count failed", "error", err)
		return "Failed to count unread emails."
	}
	return fmt.Sprintf("Unread emails: %d", n)
}

func (p *Poller) cmdCalendar(ctx context.Context, arg string) string {
	if p.google == nil {
		return googleUnavailable
	}
	days := 7
	if arg != "" {
		if n, err := strconv.Atoi(arg); err == nil && n > 0 {
			days = n
		}
	}
	events, err := p.google.ListEvents(ctx, days)
	if err != nil {
		p.logger.Error("event list failed", "error", err)
		return "Failed to list events."
	}
	return google.FormatEventList(events)
}

func (p *Poller) cmdEvent(ctx context.Context, arg string) string {
	if p.google == nil {
		return googleUnavailable
	}
	parts := strings.Split(arg, "|")
	if len(parts) < 2 {
		return "Usage: /event <time> | <title> [| desc] [| location]"
	}
	start := strings.TrimSpace(parts[0])
	summary := strings.TrimSpace(parts[1])
	description, location := "", ""
	if len(parts) >= 3 {
		description = strings.TrimSpace(parts[2])
	}
	if len(parts) >= 4 {
		location = strings.TrimSpace(parts[3])
	}
	if start == "" || summary == "" {
		return "Usage: /event <time> | <title> [| desc] [| location]"
	}

	event, err := p.google.CreateEvent(ctx, summary, start, description, location)
	if err != nil {
		p.logger.Error("event create failed", "summary", summary, "error", err)
		return "Failed to create event."
	}
	return fmt.Sprintf("Event created: %s\nID: %s", event.Summary, event.ID)
}

func (p *Poller) cmdDelEvent(ctx context.Context, arg string) string {
	if p.google == nil {
		return googleUnavailable
	}
	if arg == "" {
		return "Usage: /delevent <id>"
	}
	if err := p.google.DeleteEvent(ctx, arg); err != nil {
		p.logger.Error("event delete failed", "id", arg, "error", err)
		return "Failed to delete event."
	}
	return "Event deleted."
}
