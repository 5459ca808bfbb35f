// Package poller drives the owner's Telegram channel: it polls for updates,
// answers local commands inline, forwards everything else to the request
// router, and files attachments into the workspace inbox.
package poller

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"ashley/internal/google"
	"ashley/internal/infotools"
	"ashley/internal/memory"
	"ashley/internal/observer"
	"ashley/internal/questions"
	"ashley/internal/tasks"
	"ashley/internal/telegram"
)

const pollInterval = 2 * time.Second

// Channel is the Telegram transport. *telegram.Client implements it.
type Channel interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
	SendMessage(ctx context.Context, chatID, text string) error
	SetReaction(ctx context.Context, chatID string, messageID int64, emoji string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, string, error)
}

// Router classifies free text and answers pending questions.
type Router interface {
	RouteText(ctx context.Context, text string) string
	HandleOwnerReply(ctx context.Context, answer string) string
}

// TaskStore is the task-table slice the local commands need.
type TaskStore interface {
	CountsByStatus(ctx context.Context) ([]tasks.StatusCount, error)
	Blocked(ctx context.Context, limit int) ([]tasks.Task, error)
	ListByStatus(ctx context.Context, status string) ([]tasks.Task, error)
	Detail(ctx context.Context, id int64) (*tasks.Task, error)
	Context(ctx context.Context, id int64) (string, error)
	Unblock(ctx context.Context, id int64, targetStatus, solution string) (bool, error)
	UnblockAll(ctx context.Context, targetStatus, note string) (int, error)
	RecentCompleted(ctx context.Context, limit int) ([]tasks.Task, error)
}

// QuestionStore lists pending questions for the implicit-reply check.
type QuestionStore interface {
	ExpireStale(ctx context.Context) (int, error)
	ListPending(ctx context.Context) ([]questions.Question, error)
	CountPending(ctx context.Context) (int, error)
}

// MemoryStore persists facts, notes, and conversation turns. Optional.
type MemoryStore interface {
	Recall(ctx context.Context, query string, limit int) (string, error)
	Store(ctx context.Context, content, category, source string, metadata map[string]any) (int64, error)
	StoreFact(ctx context.Context, fact, source string) (int64, error)
	StoreNote(ctx context.Context, note, date string) (int64, error)
	StoreBookmark(ctx context.Context, url, title, tags string) (int64, error)
	StoreConversation(ctx context.Context, userText, botResponse, source string) (int64, error)
	Count(ctx context.Context, category string) (int, error)
	Categories(ctx context.Context) ([]memory.CategoryCount, error)
}

// Notes is the flat-file notes and bookmarks surface.
type Notes interface {
	AddNote(text string) (string, error)
	TodayNotes() string
	SearchNotes(query string) string
	SaveBookmark(url, tags string) (string, error)
	ListBookmarks(tag string) (string, error)
}

// Conversation records the rolling exchange window. Optional.
type Conversation interface {
	Append(role, text string) error
}

// Config carries the poller's channel settings and workspace paths.
type Config struct {
	ChatID      string
	AllowFrom   []string
	AckReaction string

	OffsetPath string
	InboxDir   string
}

// Poller owns the update loop. One instance per bot token.
type Poller struct {
	channel   Channel
	router    Router
	tasks     TaskStore
	questions QuestionStore
	mem       MemoryStore
	notes     Notes
	convo     Conversation
	google    *google.Client
	weather   *infotools.Weather
	search    *infotools.Search

	cfg    Config
	logger *slog.Logger
	obs    *observer.Instruments

	offset int64

	// seams for tests
	now     func() time.Time
	pdfText func(data []byte) (string, error)
}

func New(channel Channel, router Router, taskStore TaskStore, questionStore QuestionStore,
	mem MemoryStore, noteStore Notes, conv Conversation, g *google.Client,
	weather *infotools.Weather, search *infotools.Search,
	cfg Config, logger *slog.Logger, obs *observer.Instruments) *Poller {

	p := &Poller{
		channel:   channel,
		router:    router,
		tasks:     taskStore,
		questions: questionStore,
		mem:       mem,
		notes:     noteStore,
		convo:     conv,
		google:    g,
		weather:   weather,
		search:    search,
		cfg:       cfg,
		logger:    logger,
		obs:       obs,
		now:       time.Now,
		pdfText:   extractPDFText,
	}
	p.offset = p.loadOffset()
	return p
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.RunOnce(ctx); err != nil {
				p.logger.Error("poll pass failed", "error", err)
			}
		}
	}
}

// RunOnce performs one getUpdates pass, handling every returned update and
// advancing the offset after each one.
func (p *Poller) RunOnce(ctx context.Context) error {
	updates, err := p.channel.GetUpdates(ctx, p.offset, 0)
	if err != nil {
		return fmt.Errorf("poller: get updates: %w", err)
	}
	if len(updates) > 0 {
		p.logger.Info("telegram updates", "count", len(updates))
	}

	for _, update := range updates {
		p.handleUpdate(ctx, update)
		p.advance(update.UpdateID)
	}
	return nil
}

func (p *Poller) handleUpdate(ctx context.Context, update telegram.Update) {
	msg := update.Message
	if msg == nil {
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	senderID := ""
	if msg.From != nil {
		senderID = strconv.FormatInt(msg.From.ID, 10)
	}

	if !p.allowed(chatID, senderID) {
		p.logger.Info("telegram skip", "sender", senderID, "chat", chatID)
		return
	}

	switch {
	case msg.Text != "":
		p.handleText(ctx, chatID, msg)
	case msg.Document != nil:
		p.handleDocument(ctx, msg)
	case len(msg.Photo) > 0:
		p.handlePhoto(ctx, msg)
	case msg.Voice != nil || msg.Audio != nil:
		p.handleAudio(ctx, msg)
	case msg.Video != nil:
		p.handleVideo(ctx, msg)
	}
}

// allowed applies the sender allowlist when configured, else matches the
// owner chat.
func (p *Poller) allowed(chatID, senderID string) bool {
	if len(p.cfg.AllowFrom) > 0 {
		for _, id := range p.cfg.AllowFrom {
			if senderID == id {
				return true
			}
		}
		return false
	}
	return p.cfg.ChatID == "" || chatID == p.cfg.ChatID
}

func (p *Poller) handleText(ctx context.Context, chatID string, msg *telegram.Message) {
	stripped := strings.TrimSpace(msg.Text)

	var reply string
	routed := false
	switch {
	case isLocalCommand(stripped):
		p.logger.Info("telegram command", "chat", chatID)
		reply = p.handleCommand(ctx, stripped)
	case !strings.HasPrefix(stripped, "/") && p.pendingCount(ctx) > 0:
		p.logger.Info("telegram auto-answer", "chat", chatID)
		reply = p.router.HandleOwnerReply(ctx, stripped)
	default:
		p.logger.Info("telegram routed", "chat", chatID)
		reply = p.router.RouteText(ctx, msg.Text)
		routed = true
	}

	p.ack(ctx, chatID, msg.MessageID)
	if reply != "" {
		p.send(ctx, reply)
	}
	// The router records its own fallthrough turns; recording here too
	// would double them.
	if !routed {
		p.recordExchange(ctx, stripped, reply)
	}
}

// ack reacts to the incoming message, falling back to a text receipt when
// reactions are rejected.
func (p *Poller) ack(ctx context.Context, chatID string, messageID int64) {
	if p.cfg.AckReaction == "" || messageID == 0 {
		return
	}
	if err := p.channel.SetReaction(ctx, chatID, messageID, p.cfg.AckReaction); err != nil {
		p.send(ctx, "✅ received")
	}
}

func (p *Poller) send(ctx context.Context, text string) {
	if err := p.channel.SendMessage(ctx, p.cfg.ChatID, text); err != nil {
		p.logger.Error("telegram send failed", "error", err)
		return
	}
	p.obs.TelegramSends.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "poller")))
}

func (p *Poller) recordExchange(ctx context.Context, userText, reply string) {
	if p.convo != nil {
		if err := p.convo.Append("user", userText); err != nil {
			p.logger.Error("conversation append failed", "error", err)
		}
		if reply != "" {
			if err := p.convo.Append("ashley", reply); err != nil {
				p.logger.Error("conversation append failed", "error", err)
			}
		}
	}
	if p.mem != nil && reply != "" {
		if _, err := p.mem.StoreConversation(ctx, userText, reply, "telegram"); err != nil {
			p.logger.Error("conversation memory store failed", "error", err)
		}
	}
}

func (p *Poller) pendingCount(ctx context.Context) int {
	if _, err := p.questions.ExpireStale(ctx); err != nil {
		p.logger.Error("question expiry failed", "error", err)
	}
	n, err := p.questions.CountPending(ctx)
	if err != nil {
		p.logger.Error("pending count failed", "error", err)
		return 0
	}
	return n
}

// --- Attachments ---

func (p *Poller) handleDocument(ctx context.Context, msg *telegram.Message) {
	doc := msg.Document
	name := doc.FileName
	if name == "" {
		name = "unknown_file"
	}
	p.logger.Info("telegram document", "name", name)

	saved, err := p.saveAttachment(ctx, doc.FileID, name)
	if err != nil {
		p.logger.Error("document download failed", "name", name, "error", err)
		p.send(ctx, "⚠️ Failed to download: "+name)
		return
	}
	p.send(ctx, fmt.Sprintf("📁 Saved: %s (%d bytes)%s\n📂 Location: inbox/",
		name, doc.FileSize, captionNote(msg.Caption)))

	if strings.EqualFold(filepath.Ext(name), ".pdf") {
		p.ingestPDF(ctx, saved, name)
	}
}

func (p *Poller) handlePhoto(ctx context.Context, msg *telegram.Message) {
	best := msg.Photo[len(msg.Photo)-1]
	name := "photo_" + p.now().UTC().Format("20060102_150405") + ".jpg"
	p.logger.Info("telegram photo", "name", name)

	if _, err := p.saveAttachment(ctx, best.FileID, name); err != nil {
		p.logger.Error("photo download failed", "error", err)
		p.send(ctx, "⚠️ Failed to download photo")
		return
	}
	p.send(ctx, fmt.Sprintf("📸 Photo saved: %s%s\n📂 Location: inbox/", name, captionNote(msg.Caption)))
}

func (p *Poller) handleAudio(ctx context.Context, msg *telegram.Message) {
	audio := msg.Voice
	if audio == nil {
		audio = msg.Audio
	}
	ext := "ogg"
	if _, sub, found := strings.Cut(audio.MimeType, "/"); found && sub != "" {
		ext = sub
	}
	name := "audio_" + p.now().UTC().Format("20060102_150405") + "." + ext
	p.logger.Info("telegram audio", "name", name)

	if _, err := p.saveAttachment(ctx, audio.FileID, name); err != nil {
		p.logger.Error("audio download failed", "error", err)
		p.send(ctx, "⚠️ Failed to download audio")
		return
	}
	p.send(ctx, fmt.Sprintf("🎵 Audio saved: %s\n📂 Location: inbox/", name))
}

func (p *Poller) handleVideo(ctx context.Context, msg *telegram.Message) {
	name := msg.Video.FileName
	if name == "" {
		name = "video_" + p.now().UTC().Format("20060102_150405") + ".mp4"
	}
	p.logger.Info("telegram video", "name", name)

	if _, err := p.saveAttachment(ctx, msg.Video.FileID, name); err != nil {
		p.logger.Error("video download failed", "name", name, "error", err)
		p.send(ctx, "⚠️ Failed to download: "+name)
		return
	}
	p.send(ctx, fmt.Sprintf("🎬 Video saved: %s\n📂 Location: inbox/", name))
}

// saveAttachment downloads a file and writes it under the inbox with a
// timestamp prefix to avoid collisions.
func (p *Poller) saveAttachment(ctx context.Context, fileID, name string) (string, error) {
	data, _, err := p.channel.DownloadFile(ctx, fileID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(p.cfg.InboxDir, 0o755); err != nil {
		return "", err
	}

	safe := strings.NewReplacer("/", "_", "\\", "_").Replace(name)
	dest := filepath.Join(p.cfg.InboxDir, p.now().UTC().Format("20060102-150405")+"_"+safe)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", err
	}
	return dest, nil
}

// ingestPDF extracts a saved PDF's text into memory so it becomes
// recallable.
func (p *Poller) ingestPDF(ctx context.Context, path, name string) {
	if p.mem == nil {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		p.logger.Error("pdf read failed", "path", path, "error", err)
		return
	}
	text, err := p.pdfText(data)
	if err != nil {
		p.logger.Error("pdf extract failed", "name", name, "error", err)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if len(text) > 2000 {
		text = text[:2000]
	}
	if _, err := p.mem.Store(ctx, text, memory.CategoryNote, "inbox", map[string]any{"file": name}); err != nil {
		p.logger.Error("pdf memory store failed", "name", name, "error", err)
	}
}

func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if _, err := io.Copy(&sb, plain); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func captionNote(caption string) string {
	if caption == "" {
		return ""
	}
	return " — '" + caption + "'"
}

// --- Offset persistence ---

func (p *Poller) loadOffset() int64 {
	data, err := os.ReadFile(p.cfg.OffsetPath)
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (p *Poller) advance(updateID int64) {
	p.offset = updateID + 1
	if err := os.WriteFile(p.cfg.OffsetPath, []byte(strconv.FormatInt(p.offset, 10)), 0o644); err != nil {
		p.logger.Error("offset save failed", "error", err)
	}
}
