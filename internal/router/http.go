package router

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"ashley/internal/google"
)

// Server is the control plane's HTTP surface. It binds on loopback; the
// router trusts every caller that can reach it.
type Server struct {
	router *Router
	google *google.Client
	engine *gin.Engine
}

// NewServer wires the HTTP endpoints. google may be nil, which disables the
// gmail/calendar facades.
func NewServer(r *Router, g *google.Client) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{router: r, google: g}
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLog)

	engine.POST("/route", s.handleRoute)
	engine.POST("/owner-message", s.handleOwnerMessage)
	engine.POST("/ask-owner", s.handleAskOwner)
	engine.POST("/reply", s.handleReply)
	engine.GET("/pending", s.handlePending)

	if g != nil {
		engine.GET("/gmail/unread", s.handleUnread)
		engine.GET("/gmail/inbox", s.handleInbox)
		engine.POST("/gmail/send", s.handleSendEmail)
		engine.POST("/gmail/read", s.handleReadEmail)
		engine.POST("/gmail/search", s.handleSearchEmail)
		engine.GET("/calendar/today", s.handleToday)
		engine.GET("/calendar/week", s.handleWeek)
		engine.POST("/calendar/create", s.handleCreateEvent)
		engine.POST("/calendar/delete", s.handleDeleteEvent)
	}

	s.engine = engine
	return s
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) requestLog(c *gin.Context) {
	start := time.Now()
	requestID := uuid.NewString()
	c.Set("request_id", requestID)
	c.Next()

	elapsed := time.Since(start)
	attrs := metric.WithAttributes(
		attribute.String("path", c.FullPath()),
		attribute.Int("status", c.Writer.Status()),
	)
	s.router.obs.RouteRequests.Add(c.Request.Context(), 1, attrs)
	s.router.obs.RouteDuration.Record(c.Request.Context(), float64(elapsed.Milliseconds()), attrs)

	s.router.logger.Info("http request",
		"request_id", requestID,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"duration_ms", elapsed.Milliseconds())
}

func (s *Server) handleRoute(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	reply := s.router.RouteText(c.Request.Context(), req.Text)
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

func (s *Server) handleOwnerMessage(c *gin.Context) {
	var req struct {
		Agent    string `json:"agent"`
		Question string `json:"question"`
		Response string `json:"response"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	agentName := trimmed(req.Agent)
	question := trimmed(req.Question)
	response := trimmed(req.Response)
	if agentName == "" || question == "" || response == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"ok":    false,
			"reply": "Missing required fields: agent, question, response",
		})
		return
	}

	if err := s.router.notifier.SendOwnerMessage(c.Request.Context(), agentName, question, response); err != nil {
		s.router.logger.Error("owner message send failed", "agent", agentName, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "reply": "Failed to send owner message"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "reply": "Owner message sent"})
}

func (s *Server) handleAskOwner(c *gin.Context) {
	var req struct {
		Agent    string `json:"agent"`
		TaskID   *int64 `json:"task_id"`
		Question string `json:"question"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if trimmed(req.Agent) == "" || trimmed(req.Question) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "agent and question required"})
		return
	}

	ok, result := s.router.AskOwner(c.Request.Context(), req.Agent, req.TaskID, req.Question)
	c.JSON(http.StatusOK, gin.H{"ok": ok, "result": result})
}

func (s *Server) handleReply(c *gin.Context) {
	var req struct {
		Answer string `json:"answer"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	answer := trimmed(req.Answer)
	if answer == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "answer required"})
		return
	}

	result := s.router.HandleOwnerReply(c.Request.Context(), answer)
	c.JSON(http.StatusOK, gin.H{"ok": true, "result": result})
}

type pendingQuestion struct {
	ID        int64  `json:"id"`
	Agent     string `json:"agent"`
	TaskID    *int64 `json:"task_id"`
	Question  string `json:"question"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handlePending(c *gin.Context) {
	list, err := s.router.pendingQuestions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "failed to list questions"})
		return
	}

	out := make([]pendingQuestion, 0, len(list))
	for _, q := range list {
		out = append(out, pendingQuestion{
			ID:        q.ID,
			Agent:     q.Agent,
			TaskID:    q.TaskID,
			Question:  q.Question,
			CreatedAt: q.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		})
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": len(out), "questions": out})
}

func (s *Server) handleUnread(c *gin.Context) {
	count, err := s.google.CountUnread(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": "gmail facade unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": count})
}

func (s *Server) handleInbox(c *gin.Context) {
	emails, err := s.google.ListEmails(c.Request.Context(), "", 10)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": "gmail facade unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": len(emails), "emails": emails})
}

func (s *Server) handleSendEmail(c *gin.Context) {
	var req struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if trimmed(req.To) == "" || trimmed(req.Subject) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "to and subject required"})
		return
	}
	if err := s.google.SendEmail(c.Request.Context(), req.To, req.Subject, req.Body); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": "gmail facade unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleReadEmail(c *gin.Context) {
	var req struct {
		ID string `json:"id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if trimmed(req.ID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "id required"})
		return
	}
	email, err := s.google.ReadEmail(c.Request.Context(), req.ID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": "gmail facade unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "email": email})
}

func (s *Server) handleSearchEmail(c *gin.Context) {
	var req struct {
		Query string `json:"query"`
		Max   int    `json:"max"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if trimmed(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "query required"})
		return
	}
	max := req.Max
	if max <= 0 {
		max = 10
	}
	emails, err := s.google.ListEmails(c.Request.Context(), req.Query, max)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": "gmail facade unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": len(emails), "emails": emails})
}

func (s *Server) handleToday(c *gin.Context) {
	schedule, err := s.google.TodaySchedule(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": "calendar facade unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "schedule": schedule})
}

func (s *Server) handleWeek(c *gin.Context) {
	events, err := s.google.ListEvents(c.Request.Context(), 7)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": "calendar facade unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": len(events), "events": events})
}

func (s *Server) handleCreateEvent(c *gin.Context) {
	var req struct {
		Summary     string `json:"summary"`
		Start       string `json:"start"`
		Description string `json:"description"`
		Location    string `json:"location"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if trimmed(req.Summary) == "" || trimmed(req.Start) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "summary and start required"})
		return
	}
	event, err := s.google.CreateEvent(c.Request.Context(), req.Summary, req.Start, req.Description, req.Location)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": "calendar facade unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "event": event})
}

func (s *Server) handleDeleteEvent(c *gin.Context) {
	var req struct {
		ID string `json:"id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if trimmed(req.ID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "id required"})
		return
	}
	if err := s.google.DeleteEvent(c.Request.Context(), req.ID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": "calendar facade unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func trimmed(s string) string { return strings.TrimSpace(s) }
