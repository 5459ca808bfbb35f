// Package memory implements long-term semantic memory over PostgreSQL with
// pgvector. Rows are category-tagged text with a fixed-dimension embedding;
// similarity is cosine, served by an HNSW index.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ashley/internal/embed"
)

// Categories in use. Free-form strings are accepted; these are the ones the
// command surface writes.
const (
	CategoryConversation = "conversation"
	CategoryLesson       = "lesson"
	CategoryNote         = "note"
	CategoryBookmark     = "bookmark"
	CategoryFact         = "fact"
	CategoryPreference   = "preference"
	CategoryProject      = "project"
	CategoryGeneral      = "general"
)

const (
	// DefaultMinSimilarity thresholds Search results.
	DefaultMinSimilarity = 0.3
	// recallMinSimilarity is looser: recall feeds prompts, not listings.
	recallMinSimilarity = 0.25
)

// Memory is one stored row.
type Memory struct {
	ID         int64
	Content    string
	Category   string
	Source     string
	Metadata   map[string]any
	Similarity float32
	CreatedAt  time.Time
}

// CategoryCount pairs a category with its row count.
type CategoryCount struct {
	Category string
	Count    int
}

// Item is one entry for StoreBatch.
type Item struct {
	Content  string
	Category string
	Source   string
	Metadata map[string]any
}

// Store is the vector memory client.
type Store struct {
	pool     *pgxpool.Pool
	embedder embed.Provider
	now      func() time.Time
}

func New(pool *pgxpool.Pool, embedder embed.Provider) *Store {
	return &Store{pool: pool, embedder: embedder, now: time.Now}
}

// Init creates the pgvector extension, the memories table, and its HNSW
// index. Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memories (
			id BIGSERIAL PRIMARY KEY,
			content TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'general',
			source TEXT NOT NULL DEFAULT '',
			metadata JSONB,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, s.embedder.Dimensions()),

		`CREATE INDEX IF NOT EXISTS memories_category_idx ON memories(category)`,
		`CREATE INDEX IF NOT EXISTS memories_embedding_idx ON memories USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("memory: init: %w", err)
		}
	}
	return nil
}

// Store embeds content and inserts a row, returning its id.
func (s *Store) Store(ctx context.Context, content, category, source string, metadata map[string]any) (int64, error) {
	if strings.TrimSpace(content) == "" {
		return 0, fmt.Errorf("memory: store: empty content")
	}
	if category == "" {
		category = CategoryGeneral
	}

	vecs, err := s.embedder.Embed(ctx, []string{content})
	if err != nil {
		return 0, fmt.Errorf("memory: store: %w", err)
	}

	metaJSON, err := json.Marshal(orEmptyMeta(metadata))
	if err != nil {
		return 0, fmt.Errorf("memory: store: marshal metadata: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO memories (content, category, source, metadata, embedding)
		 VALUES ($1, $2, $3, $4::jsonb, $5::vector)
		 RETURNING id`,
		content, category, source, string(metaJSON), serializeEmbedding(vecs[0]),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("memory: store: %w", err)
	}
	return id, nil
}

// StoreBatch embeds and inserts multiple items with one embedding call.
// Returns the ids of the rows inserted; items with empty content are skipped.
func (s *Store) StoreBatch(ctx context.Context, items []Item) ([]int64, error) {
	var kept []Item
	for _, it := range items {
		if strings.TrimSpace(it.Content) != "" {
			kept = append(kept, it)
		}
	}
	if len(kept) == 0 {
		return nil, nil
	}

	texts := make([]string, len(kept))
	for i, it := range kept {
		texts[i] = it.Content
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("memory: store batch: %w", err)
	}

	ids := make([]int64, 0, len(kept))
	for i, it := range kept {
		category := it.Category
		if category == "" {
			category = CategoryGeneral
		}
		metaJSON, err := json.Marshal(orEmptyMeta(it.Metadata))
		if err != nil {
			return ids, fmt.Errorf("memory: store batch: marshal metadata: %w", err)
		}
		var id int64
		err = s.pool.QueryRow(ctx,
			`INSERT INTO memories (content, category, source, metadata, embedding)
			 VALUES ($1, $2, $3, $4::jsonb, $5::vector)
			 RETURNING id`,
			it.Content, category, it.Source, string(metaJSON), serializeEmbedding(vecs[i]),
		).Scan(&id)
		if err != nil {
			return ids, fmt.Errorf("memory: store batch: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Search returns rows by descending cosine similarity, thresholded at
// minSimilarity. category, when non-empty, restricts the search.
func (s *Store) Search(ctx context.Context, query string, limit int, category string, minSimilarity float32) ([]Memory, error) {
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}
	embStr := serializeEmbedding(vecs[0])

	q := `SELECT id, content, category, source, metadata,
	             1 - (embedding <=> $1::vector) AS similarity,
	             created_at
	      FROM memories
	      WHERE 1 - (embedding <=> $1::vector) >= $2`
	args := []any{embStr, minSimilarity}
	if category != "" {
		q += ` AND category = $3`
		args = append(args, category)
	}
	q += ` ORDER BY embedding <=> $1::vector LIMIT ` + strconv.Itoa(limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}
	defer rows.Close()

	var results []Memory
	for rows.Next() {
		var m Memory
		var metaJSON []byte
		if err := rows.Scan(&m.ID, &m.Content, &m.Category, &m.Source, &metaJSON, &m.Similarity, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("memory: scan: %w", err)
		}
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &m.Metadata)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// Recall searches with the looser recall threshold and formats the matches
// as prompt context. Empty string when nothing matched.
func (s *Store) Recall(ctx context.Context, query string, limit int) (string, error) {
	results, err := s.Search(ctx, query, limit, "", recallMinSimilarity)
	if err != nil {
		return "", err
	}
	return FormatRecall(results), nil
}

// Get returns a single memory by id, or nil when absent.
func (s *Store) Get(ctx context.Context, id int64) (*Memory, error) {
	var m Memory
	var metaJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, content, category, source, metadata, created_at
		 FROM memories WHERE id = $1`, id,
	).Scan(&m.ID, &m.Content, &m.Category, &m.Source, &metaJSON, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: get: %w", err)
	}
	if metaJSON != nil {
		_ = json.Unmarshal(metaJSON, &m.Metadata)
	}
	return &m, nil
}

// Delete removes a memory by id. Reports whether a row was deleted.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("memory: delete: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Count returns the number of memories, optionally restricted to a category.
func (s *Store) Count(ctx context.Context, category string) (int, error) {
	var n int
	var err error
	if category != "" {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memories WHERE category = $1`, category).Scan(&n)
	} else {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("memory: count: %w", err)
	}
	return n, nil
}

// Categories returns per-category counts, largest first.
func (s *Store) Categories(ctx context.Context) ([]CategoryCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT category, COUNT(*) FROM memories GROUP BY category ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, fmt.Errorf("memory: categories: %w", err)
	}
	defer rows.Close()

	var out []CategoryCount
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, fmt.Errorf("memory: scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Category wrappers ---

// StoreConversation records one user/assistant exchange.
func (s *Store) StoreConversation(ctx context.Context, userText, botResponse, source string) (int64, error) {
	if source == "" {
		source = "telegram"
	}
	meta := map[string]any{
		"user_text": truncate(userText, 200),
		"timestamp": s.now().UTC().Format(time.RFC3339),
	}
	return s.Store(ctx, conversationContent(userText, botResponse), CategoryConversation, source, meta)
}

func (s *Store) StoreLesson(ctx context.Context, lesson string) (int64, error) {
	return s.Store(ctx, lesson, CategoryLesson, "user", nil)
}

func (s *Store) StoreNote(ctx context.Context, note, date string) (int64, error) {
	if date == "" {
		date = s.now().UTC().Format("2006-01-02")
	}
	return s.Store(ctx, note, CategoryNote, "user", map[string]any{"date": date})
}

func (s *Store) StoreBookmark(ctx context.Context, url, title, tags string) (int64, error) {
	meta := map[string]any{"url": url, "title": title, "tags": tags}
	return s.Store(ctx, bookmarkContent(url, title, tags), CategoryBookmark, "user", meta)
}

func (s *Store) StoreFact(ctx context.Context, fact, source string) (int64, error) {
	if source == "" {
		source = "observed"
	}
	return s.Store(ctx, fact, CategoryFact, source, nil)
}

func (s *Store) StoreProjectContext(ctx context.Context, project, context string) (int64, error) {
	content := "Project " + project + ": " + context
	return s.Store(ctx, content, CategoryProject, "user", map[string]any{"project": project})
}

// --- Helpers ---

// FormatRecall renders search results as prompt context:
// "Relevant memories:" followed by one indented line per match.
func FormatRecall(results []Memory) string {
	if len(results) == 0 {
		return ""
	}
	lines := []string{"Relevant memories:"}
	for _, m := range results {
		content := m.Content
		if len(content) > 300 {
			content = content[:300] + "..."
		}
		lines = append(lines, fmt.Sprintf("  [%s] (%d%% match) %s", m.Category, int(m.Similarity*100), content))
	}
	return strings.Join(lines, "\n")
}

func conversationContent(userText, botResponse string) string {
	return "User: " + userText + "\nAshley: " + truncate(botResponse, 500)
}

func bookmarkContent(url, title, tags string) string {
	content := url
	if title != "" {
		content = title + ": " + url
	}
	if tags != "" {
		content += " (tags: " + tags + ")"
	}
	return content
}

func orEmptyMeta(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// serializeEmbedding converts []float32 to pgvector's text input format,
// "[0.1,0.2,0.3]".
func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
