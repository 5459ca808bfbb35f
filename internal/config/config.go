// Package config loads the daemon configuration: built-in defaults, an
// optional TOML file, ~/.env, and finally environment variables (env wins).
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	Router    RouterConfig    `toml:"router"`
	Agent     AgentConfig     `toml:"agent"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Telegram  TelegramConfig  `toml:"telegram"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Google    GoogleConfig    `toml:"google"`
	Info      InfoConfig      `toml:"info"`
	Paths     PathsConfig     `toml:"paths"`
	Observer  ObserverConfig  `toml:"observer"`
}

type RouterConfig struct {
	Port            int `toml:"port"`
	AskTimeoutSec   int `toml:"ask_timeout_sec"`
	ThinkTimeoutSec int `toml:"think_timeout_sec"`
	AdhocTimeoutSec int `toml:"adhoc_timeout_sec"`
}

type AgentConfig struct {
	Node string `toml:"node"`
	CLI  string `toml:"cli"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	Database string `toml:"database"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// DSN returns a pgx-compatible connection string.
func (p PostgresConfig) DSN() string {
	return "postgres://" + p.User + ":" + p.Password + "@" + p.Host + ":" + p.Port + "/" + p.Database
}

type TelegramConfig struct {
	Token       string   `toml:"token"`
	ChatID      string   `toml:"chat_id"`
	AllowFrom   []string `toml:"allow_from"`
	AckReaction string   `toml:"ack_reaction"`
}

type EmbeddingConfig struct {
	BaseURL    string `toml:"base_url"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
}

type GoogleConfig struct {
	BaseURL string `toml:"base_url"`
}

type InfoConfig struct {
	OpenWeatherKey  string `toml:"openweather_api_key"`
	WeatherLocation string `toml:"weather_location"`
	SearxngURL      string `toml:"searxng_url"`
}

type PathsConfig struct {
	Workspace string `toml:"workspace"`
	JobsDir   string `toml:"jobs_dir"`
}

// Workspace-relative locations. The layout is fixed; only the roots move.
func (p PathsConfig) AgentContextDir() string { return filepath.Join(p.Workspace, "agent-context") }
func (p PathsConfig) LessonsFile() string     { return filepath.Join(p.AgentContextDir(), "lessons.log") }
func (p PathsConfig) ProjectsDir() string     { return filepath.Join(p.AgentContextDir(), "projects") }
func (p PathsConfig) BookmarksFile() string {
	return filepath.Join(p.AgentContextDir(), "bookmarks.json")
}
func (p PathsConfig) NotesDir() string   { return filepath.Join(p.Workspace, "notes") }
func (p PathsConfig) InboxDir() string   { return filepath.Join(p.Workspace, "inbox") }
func (p PathsConfig) OffsetFile() string { return filepath.Join(p.Workspace, ".telegram-offset") }
func (p PathsConfig) ConvoFile() string {
	return filepath.Join(p.Workspace, ".conversation-buffer.json")
}
func (p PathsConfig) PlannerLog() string { return filepath.Join(p.Workspace, "chat-router-planner.log") }
func (p PathsConfig) ThinkLog() string   { return filepath.Join(p.Workspace, "chat-router-think.log") }
func (p PathsConfig) AddTasksScript() string {
	return filepath.Join(p.Workspace, "add-tasks-to-db.sh")
}
func (p PathsConfig) TaskManagerScript() string {
	return filepath.Join(p.Workspace, "autonomous-task-manager-db.sh")
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	return Config{
		Router: RouterConfig{
			Port:            18801,
			AskTimeoutSec:   180,
			ThinkTimeoutSec: 240,
			AdhocTimeoutSec: 1200,
		},
		Agent: AgentConfig{
			Node: "/usr/bin/node",
			CLI:  filepath.Join(home, ".local", "openclaw", "node_modules", "openclaw", "dist", "index.js"),
		},
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     "5433",
			Database: "openclaw",
			User:     "openclaw",
			Password: "openclaw_dev_pass",
		},
		Telegram: TelegramConfig{AckReaction: "✅"},
		Embedding: EmbeddingConfig{
			BaseURL:    "http://127.0.0.1:18811",
			Model:      "BAAI/bge-small-en-v1.5",
			Dimensions: 384,
		},
		Google: GoogleConfig{BaseURL: "http://127.0.0.1:18808"},
		Paths: PathsConfig{
			Workspace: filepath.Join(home, ".openclaw", "workspace"),
			JobsDir:   filepath.Join(home, ".config", "systemd", "user"),
		},
	}
}

// Load reads config: defaults -> TOML file -> ~/.env -> env vars (env wins).
// path may be empty, in which case ~/.config/ashley.toml is tried.
func Load(path string) Config {
	cfg := Default()

	home, _ := os.UserHomeDir()
	if home != "" {
		// godotenv never overrides variables already exported, so the
		// process environment keeps precedence over ~/.env.
		_ = godotenv.Load(filepath.Join(home, ".env"))
	}

	if path == "" && home != "" {
		path = filepath.Join(home, ".config", "ashley.toml")
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	applyEnv(&cfg)
	loadTelegramChannelFile(&cfg, home)
	return cfg
}

func applyEnv(cfg *Config) {
	if n, ok := envInt("CHAT_ROUTER_PORT"); ok {
		cfg.Router.Port = n
	}
	if n, ok := envInt("CHAT_ROUTER_ASK_TIMEOUT_SEC"); ok {
		cfg.Router.AskTimeoutSec = n
	}
	if n, ok := envInt("CHAT_ROUTER_THINK_TIMEOUT_SEC"); ok {
		cfg.Router.ThinkTimeoutSec = n
	}
	if n, ok := envInt("CHAT_ROUTER_ADHOC_TIMEOUT_SEC"); ok {
		cfg.Router.AdhocTimeoutSec = n
	}

	if v := os.Getenv("OPENCLAW_NODE"); v != "" {
		cfg.Agent.Node = v
	}
	if v := os.Getenv("OPENCLAW_CLI"); v != "" {
		cfg.Agent.CLI = v
	}

	if v := os.Getenv("OPENCLAW_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("OPENCLAW_POSTGRES_PORT"); v != "" {
		cfg.Postgres.Port = v
	}
	if v := os.Getenv("OPENCLAW_POSTGRES_DB"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("OPENCLAW_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("OPENCLAW_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}

	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("TELEGRAM_ALLOW_FROM"); v != "" {
		cfg.Telegram.AllowFrom = splitCSV(v)
	}
	if v := os.Getenv("TELEGRAM_ACK_REACTION"); v != "" {
		cfg.Telegram.AckReaction = v
	}

	if v := os.Getenv("ASHLEY_EMBEDDING_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("ASHLEY_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("GOOGLE_SERVICES_URL"); v != "" {
		cfg.Google.BaseURL = v
	}

	if v := os.Getenv("OPENWEATHER_API_KEY"); v != "" {
		cfg.Info.OpenWeatherKey = v
	}
	if v := os.Getenv("WEATHER_LOCATION"); v != "" {
		cfg.Info.WeatherLocation = v
	}
	if v := os.Getenv("SEARXNG_URL"); v != "" {
		cfg.Info.SearxngURL = v
	}

	if v := os.Getenv("ASHLEY_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// loadTelegramChannelFile fills missing Telegram settings from the gateway's
// channel config when the env left placeholders or blanks behind.
func loadTelegramChannelFile(cfg *Config, home string) {
	if home == "" {
		return
	}
	data, err := os.ReadFile(filepath.Join(home, ".openclaw", ".openclaw", "openclaw.json"))
	if err != nil {
		return
	}
	var doc struct {
		Channels struct {
			Telegram struct {
				BotToken  string `json:"botToken"`
				AllowFrom []any  `json:"allowFrom"`
			} `json:"telegram"`
		} `json:"channels"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return
	}
	tg := doc.Channels.Telegram
	if isPlaceholder(cfg.Telegram.Token) && tg.BotToken != "" {
		cfg.Telegram.Token = tg.BotToken
	}
	if len(tg.AllowFrom) > 0 {
		var ids []string
		for _, v := range tg.AllowFrom {
			switch id := v.(type) {
			case string:
				ids = append(ids, id)
			case float64:
				ids = append(ids, strconv.FormatInt(int64(id), 10))
			}
		}
		if len(cfg.Telegram.AllowFrom) == 0 {
			cfg.Telegram.AllowFrom = ids
		}
		if isPlaceholder(cfg.Telegram.ChatID) && len(ids) > 0 {
			cfg.Telegram.ChatID = ids[0]
		}
	}
}

func isPlaceholder(value string) bool {
	lowered := strings.ToLower(strings.TrimSpace(value))
	if lowered == "" {
		return true
	}
	return strings.Contains(lowered, "your-telegram-bot-token-here") ||
		strings.Contains(lowered, "your-chat-id-here")
}
