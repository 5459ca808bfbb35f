// Command ashleyd is the assistant daemon: it serves the request-router HTTP
// API, polls the owner's Telegram channel, and dispatches agent pipelines.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"ashley/internal/agent"
	"ashley/internal/config"
	"ashley/internal/convo"
	"ashley/internal/dispatch"
	"ashley/internal/embed"
	"ashley/internal/google"
	"ashley/internal/infotools"
	"ashley/internal/jobs"
	"ashley/internal/memory"
	"ashley/internal/notes"
	"ashley/internal/observer"
	"ashley/internal/poller"
	"ashley/internal/questions"
	"ashley/internal/router"
	"ashley/internal/tasks"
	"ashley/internal/telegram"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ashleyd:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Config and logging
	cfg := config.Load(os.Getenv("ASHLEY_CONFIG"))
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// 2. Telemetry
	obs := observer.Noop()
	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(ctx)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		obs = inst
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error("telemetry shutdown failed", "error", err)
			}
		}()
	}

	// 3. Database-backed stores
	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	embedder := embed.NewClient(cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.Dimensions, obs)
	memStore := memory.New(pool, embedder)
	if err := memStore.Init(ctx); err != nil {
		return fmt.Errorf("init memory schema: %w", err)
	}
	questionStore := questions.New(pool)
	if err := questionStore.Init(ctx); err != nil {
		return fmt.Errorf("init questions schema: %w", err)
	}
	taskStore := tasks.New(pool)

	// 4. Workspace surfaces
	workspace := notes.NewWorkspace(cfg.Paths.LessonsFile(), cfg.Paths.ProjectsDir(),
		cfg.Paths.NotesDir(), cfg.Paths.BookmarksFile())
	convoBuf := convo.NewBuffer(cfg.Paths.ConvoFile())

	// 5. Outbound clients
	tg := telegram.NewClient(cfg.Telegram.Token)
	notifier := router.NewTelegramNotifier(tg, cfg.Telegram.ChatID, logger)
	weather := infotools.NewWeather(cfg.Info.OpenWeatherKey, cfg.Info.WeatherLocation)
	search := infotools.NewSearch(cfg.Info.SearxngURL)
	var g *google.Client
	if cfg.Google.BaseURL != "" {
		g = google.NewClient(cfg.Google.BaseURL)
	}

	// 6. Agent dispatch pipelines
	invoker := agent.New(cfg.Agent.Node, cfg.Agent.CLI)
	dispatcher := dispatch.New(invoker, notifier, workspace, dispatch.Config{
		AskTimeout:        time.Duration(cfg.Router.AskTimeoutSec) * time.Second,
		ThinkTimeout:      time.Duration(cfg.Router.ThinkTimeoutSec) * time.Second,
		AdhocTimeout:      time.Duration(cfg.Router.AdhocTimeoutSec) * time.Second,
		PlannerLog:        cfg.Paths.PlannerLog(),
		ThinkLog:          cfg.Paths.ThinkLog(),
		AddTasksScript:    cfg.Paths.AddTasksScript(),
		TaskManagerScript: cfg.Paths.TaskManagerScript(),
	}, logger, obs)
	defer dispatcher.Wait()

	// 7. Router + HTTP server
	compiler := jobs.NewCompiler(cfg.Paths.JobsDir, cfg.Router.Port, jobs.ExecRunner{})
	rtr := router.New(dispatcher, questionStore, taskStore, compiler, workspace,
		memStore, convoBuf, weather, notifier, logger, obs)
	server := router.NewServer(rtr, g)

	// 8. Telegram poller
	var channelPoller *poller.Poller
	if cfg.Telegram.Token != "" {
		channelPoller = poller.New(tg, rtr, taskStore, questionStore, memStore, workspace,
			convoBuf, g, weather, search, poller.Config{
				ChatID:      cfg.Telegram.ChatID,
				AllowFrom:   cfg.Telegram.AllowFrom,
				AckReaction: cfg.Telegram.AckReaction,
				OffsetPath:  cfg.Paths.OffsetFile(),
				InboxDir:    cfg.Paths.InboxDir(),
			}, logger, obs)
	} else {
		logger.Warn("telegram token missing, channel poller disabled")
	}

	// 9. Run until signalled
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Router.Port)
	logger.Info("ashleyd starting", "addr", addr, "poller", channelPoller != nil)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return server.Run(groupCtx, addr) })
	if channelPoller != nil {
		group.Go(func() error {
			if err := channelPoller.Run(groupCtx); err != nil && groupCtx.Err() == nil {
				return err
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("ashleyd stopped")
	return nil
}
