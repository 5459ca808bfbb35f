// Package questions stores agent clarifying questions awaiting an owner
// reply. A question is created by the ask-owner pipeline, answered by the
// oldest-first reply flow, and expired after a TTL if the owner never
// responds.
package questions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TTL after which an unanswered question is marked expired.
const TTL = 60 * time.Minute

// listLimit caps how many pending questions a listing returns.
const listLimit = 10

// Question states.
const (
	StatusPending  = "pending"
	StatusAnswered = "answered"
	StatusExpired  = "expired"
)

// ErrNoPending is returned when a reply arrives with nothing to answer.
var ErrNoPending = errors.New("questions: no pending question")

// Question is one agent question and, once answered, its reply. TaskID is
// nil for questions not linked to a task.
type Question struct {
	ID         int64
	Agent      string
	TaskID     *int64
	Question   string
	Status     string
	Answer     string
	CreatedAt  time.Time
	AnsweredAt *time.Time
}

// Store persists questions in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the pending_questions table. Idempotent.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pending_questions (
			id BIGSERIAL PRIMARY KEY,
			agent TEXT NOT NULL,
			task_id BIGINT,
			question TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			answer TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			answered_at TIMESTAMPTZ
		)`)
	if err != nil {
		return fmt.Errorf("questions: init: %w", err)
	}
	return nil
}

// Create inserts a pending question and returns its id. taskID may be nil.
func (s *Store) Create(ctx context.Context, agent string, taskID *int64, question string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO pending_questions (agent, task_id, question)
		 VALUES ($1, $2, $3) RETURNING id`,
		agent, taskID, question,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("questions: create: %w", err)
	}
	return id, nil
}

// ExpireStale marks pending questions older than the TTL as expired and
// returns how many were expired. Called opportunistically before reads.
func (s *Store) ExpireStale(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pending_questions
		 SET status = $1
		 WHERE status = $2 AND created_at < CURRENT_TIMESTAMP - $3::interval`,
		StatusExpired, StatusPending, TTL.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("questions: expire: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// OldestPending returns the oldest pending question, or ErrNoPending.
// Stale questions are expired first.
func (s *Store) OldestPending(ctx context.Context) (*Question, error) {
	if _, err := s.ExpireStale(ctx); err != nil {
		return nil, err
	}

	var q Question
	err := s.pool.QueryRow(ctx,
		`SELECT id, agent, task_id, question, status, answer, created_at
		 FROM pending_questions
		 WHERE status = $1
		 ORDER BY created_at ASC
		 LIMIT 1`, StatusPending,
	).Scan(&q.ID, &q.Agent, &q.TaskID, &q.Question, &q.Status, &q.Answer, &q.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoPending
	}
	if err != nil {
		return nil, fmt.Errorf("questions: oldest pending: %w", err)
	}
	return &q, nil
}

// Answer records the owner's reply on a pending question and marks it
// answered. Answering an already-answered or expired question returns
// ErrNoPending.
func (s *Store) Answer(ctx context.Context, id int64, answer string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pending_questions
		 SET status = $1, answer = $2, answered_at = CURRENT_TIMESTAMP
		 WHERE id = $3 AND status = $4`,
		StatusAnswered, answer, id, StatusPending,
	)
	if err != nil {
		return fmt.Errorf("questions: answer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoPending
	}
	return nil
}

// ListPending returns up to 10 pending questions, oldest first. Stale
// questions are expired first.
func (s *Store) ListPending(ctx context.Context) ([]Question, error) {
	if _, err := s.ExpireStale(ctx); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, agent, task_id, question, status, answer, created_at
		 FROM pending_questions
		 WHERE status = $1
		 ORDER BY created_at ASC
		 LIMIT $2`, StatusPending, listLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("questions: list pending: %w", err)
	}
	defer rows.Close()

	var out []Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.Agent, &q.TaskID, &q.Question, &q.Status, &q.Answer, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("questions: scan: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// CountPending returns the number of pending questions after expiring stale
// ones.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	if _, err := s.ExpireStale(ctx); err != nil {
		return 0, err
	}
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM pending_questions WHERE status = $1`, StatusPending,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("questions: count pending: %w", err)
	}
	return n, nil
}
