// Command memoryctl exercises the memory substrate from the shell: store,
// search, recall, stats, and a one-shot migration of the flat-file workspace
// history into pgvector.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"ashley/internal/config"
	"ashley/internal/convo"
	"ashley/internal/embed"
	"ashley/internal/memory"
	"ashley/internal/notes"
	"ashley/internal/observer"
)

const usage = `Usage: memoryctl <command> [args]
Commands:
  store <text>        store a memory
  search <query>      top-5 similarity search
  recall <query>      formatted recall block
  get <id>            show one memory
  delete <id>         delete one memory
  count [category]    row count
  categories          per-category counts
  migrate             import lessons, bookmarks, projects, notes, conversations`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load(os.Getenv("ASHLEY_CONFIG"))
	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN())
	if err != nil {
		fatal("connect postgres: %v", err)
	}
	defer pool.Close()

	embedder := embed.NewClient(cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.Dimensions, observer.Noop())
	store := memory.New(pool, embedder)
	if err := store.Init(ctx); err != nil {
		fatal("init schema: %v", err)
	}

	cmd := strings.ToLower(os.Args[1])
	args := os.Args[2:]
	arg := strings.TrimSpace(strings.Join(args, " "))

	switch cmd {
	case "store":
		if arg == "" {
			fmt.Println(usage)
			os.Exit(2)
		}
		id, err := store.Store(ctx, arg, memory.CategoryGeneral, "cli", nil)
		if err != nil {
			fatal("store: %v", err)
		}
		fmt.Printf("Stored memory #%d\n", id)

	case "search":
		if arg == "" {
			fmt.Println(usage)
			os.Exit(2)
		}
		results, err := store.Search(ctx, arg, 5, "", memory.DefaultMinSimilarity)
		if err != nil {
			fatal("search: %v", err)
		}
		if len(results) == 0 {
			fmt.Println("No matching memories.")
			return
		}
		for _, m := range results {
			content := m.Content
			if len(content) > 120 {
				content = content[:120]
			}
			fmt.Printf("#%d [%s] (%d%%) %s\n", m.ID, m.Category, int(m.Similarity*100), content)
		}

	case "recall":
		if arg == "" {
			fmt.Println(usage)
			os.Exit(2)
		}
		block, err := store.Recall(ctx, arg, 5)
		if err != nil {
			fatal("recall: %v", err)
		}
		if block == "" {
			fmt.Println("No matching memories.")
			return
		}
		fmt.Println(block)

	case "get":
		id := parseID(arg)
		m, err := store.Get(ctx, id)
		if err != nil {
			fatal("get: %v", err)
		}
		if m == nil {
			fmt.Printf("Memory #%d not found\n", id)
			os.Exit(1)
		}
		fmt.Printf("#%d [%s] source=%s created=%s\n%s\n",
			m.ID, m.Category, m.Source, m.CreatedAt.Format("2006-01-02 15:04"), m.Content)

	case "delete":
		id := parseID(arg)
		deleted, err := store.Delete(ctx, id)
		if err != nil {
			fatal("delete: %v", err)
		}
		if !deleted {
			fmt.Printf("Memory #%d not found\n", id)
			os.Exit(1)
		}
		fmt.Printf("Deleted memory #%d\n", id)

	case "count":
		n, err := store.Count(ctx, arg)
		if err != nil {
			fatal("count: %v", err)
		}
		fmt.Printf("Total memories: %d\n", n)

	case "categories":
		cats, err := store.Categories(ctx)
		if err != nil {
			fatal("categories: %v", err)
		}
		for _, c := range cats {
			fmt.Printf("  %s: %d\n", c.Category, c.Count)
		}

	case "migrate":
		migrate(ctx, store, cfg.Paths)

	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		os.Exit(2)
	}
}

func parseID(arg string) int64 {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		fmt.Println(usage)
		os.Exit(2)
	}
	return id
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "memoryctl: "+format+"\n", args...)
	os.Exit(1)
}

// migrate imports the pre-vector workspace files. Idempotency is the
// caller's problem: running it twice duplicates rows.
func migrate(ctx context.Context, store *memory.Store, paths config.PathsConfig) {
	migrated := 0

	if data, err := os.ReadFile(paths.LessonsFile()); err == nil {
		n := 0
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if _, err := store.StoreLesson(ctx, line); err == nil {
				n++
			}
		}
		fmt.Printf("Migrated %d lessons\n", n)
		migrated += n
	}

	if data, err := os.ReadFile(paths.BookmarksFile()); err == nil {
		var marks []notes.Bookmark
		if err := json.Unmarshal(data, &marks); err != nil {
			fmt.Printf("Error migrating bookmarks: %v\n", err)
		} else {
			n := 0
			for _, bm := range marks {
				if _, err := store.StoreBookmark(ctx, bm.URL, bm.Title, bm.Tags); err == nil {
					n++
				}
			}
			fmt.Printf("Migrated %d bookmarks\n", n)
			migrated += n
		}
	}

	if entries, err := os.ReadDir(paths.ProjectsDir()); err == nil {
		n := 0
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			data, err := os.ReadFile(filepath.Join(paths.ProjectsDir(), entry.Name()))
			if err != nil {
				continue
			}
			content := strings.TrimSpace(string(data))
			if content == "" {
				continue
			}
			project := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
			if _, err := store.StoreProjectContext(ctx, project, content); err == nil {
				n++
			}
		}
		fmt.Printf("Migrated %d project contexts\n", n)
		migrated += n
	}

	if entries, err := os.ReadDir(paths.NotesDir()); err == nil {
		n := 0
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
				continue
			}
			data, err := os.ReadFile(filepath.Join(paths.NotesDir(), entry.Name()))
			if err != nil {
				continue
			}
			content := strings.TrimSpace(string(data))
			if content == "" {
				continue
			}
			// Daily note files are named YYYY-MM-DD.md.
			date := strings.TrimSuffix(entry.Name(), ".md")
			if len(date) != 10 {
				date = ""
			}
			if _, err := store.StoreNote(ctx, content, date); err == nil {
				n++
			}
		}
		fmt.Printf("Migrated %d notes\n", n)
		migrated += n
	}

	migrated += migrateConversations(ctx, store, paths.ConvoFile())

	fmt.Printf("\nTotal migrated: %d\n", migrated)
	if total, err := store.Count(ctx, ""); err == nil {
		fmt.Printf("Total memories in DB: %d\n", total)
	}
	if cats, err := store.Categories(ctx); err == nil {
		for _, c := range cats {
			fmt.Printf("  %s: %d\n", c.Category, c.Count)
		}
	}
}

// migrateConversations pairs user turns with the following assistant turn;
// solo assistant turns (scheduled reports) are stored on their own.
func migrateConversations(ctx context.Context, store *memory.Store, path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	var entries []convo.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		fmt.Printf("Error migrating conversations: %v\n", err)
		return 0
	}

	n := 0
	for i := 0; i < len(entries); i++ {
		entry := entries[i]
		switch entry.Role {
		case "user":
			if entry.Text == "" {
				continue
			}
			botText := ""
			if i+1 < len(entries) && entries[i+1].Role == "ashley" {
				botText = entries[i+1].Text
				i++
			}
			if _, err := store.StoreConversation(ctx, entry.Text, botText, "migrate"); err == nil {
				n++
			}
		case "ashley":
			content := entry.Text
			if len(content) > 500 {
				content = content[:500]
			}
			meta := map[string]any{"role": "ashley", "timestamp": entry.TS}
			if _, err := store.Store(ctx, content, memory.CategoryConversation, "scheduled", meta); err == nil {
				n++
			}
		}
	}
	fmt.Printf("Migrated %d conversations\n", n)
	return n
}
