// Package tasks reads and requeues rows in the autonomous_tasks table. The
// table is owned by the task manager; this package only summarizes it for
// status queries and mutates it for the unblock/requeue and owner-answer
// flows.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Task statuses used by the command surface.
const (
	StatusTodo            = "TODO"
	StatusInProgress      = "IN_PROGRESS"
	StatusReadyForTesting = "READY_FOR_TESTING"
	StatusBlocked         = "BLOCKED"
	StatusComplete        = "COMPLETE"
)

const listLimit = 20

// Task is one row, with nullable columns collapsed to empty strings.
type Task struct {
	ID            int64
	Name          string
	Status        string
	Phase         string
	Agent         string
	BlockedReason string
}

// StatusCount pairs a status with its row count.
type StatusCount struct {
	Status string
	Count  int
}

// Store queries and updates the task table.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CountsByStatus returns per-status counts in status order.
func (s *Store) CountsByStatus(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM autonomous_tasks GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("tasks: counts: %w", err)
	}
	defer rows.Close()

	var out []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("tasks: scan count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Recent returns the newest tasks, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, status FROM autonomous_tasks ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("tasks: recent: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Name, &t.Status); err != nil {
			return nil, fmt.Errorf("tasks: scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Blocked returns blocked tasks by priority.
func (s *Store) Blocked(ctx context.Context, limit int) ([]Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, COALESCE(blocked_reason,'')
		 FROM autonomous_tasks
		 WHERE status = $1
		 ORDER BY priority DESC, id ASC
		 LIMIT $2`, StatusBlocked, limit)
	if err != nil {
		return nil, fmt.Errorf("tasks: blocked: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t := Task{Status: StatusBlocked}
		if err := rows.Scan(&t.ID, &t.Name, &t.BlockedReason); err != nil {
			return nil, fmt.Errorf("tasks: scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListByStatus returns up to 20 tasks with a given status by priority.
func (s *Store) ListByStatus(ctx context.Context, status string) ([]Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, COALESCE(phase,''), COALESCE(assigned_agent,'')
		 FROM autonomous_tasks
		 WHERE status = $1
		 ORDER BY priority DESC, id ASC
		 LIMIT $2`, status, listLimit)
	if err != nil {
		return nil, fmt.Errorf("tasks: list by status: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t := Task{Status: status}
		if err := rows.Scan(&t.ID, &t.Name, &t.Phase, &t.Agent); err != nil {
			return nil, fmt.Errorf("tasks: scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Detail returns one task by id, or nil when absent.
func (s *Store) Detail(ctx context.Context, id int64) (*Task, error) {
	var t Task
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, status, COALESCE(phase,''), COALESCE(assigned_agent,''),
		        COALESCE(blocked_reason,'')
		 FROM autonomous_tasks WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Status, &t.Phase, &t.Agent, &t.BlockedReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tasks: detail: %w", err)
	}
	return &t, nil
}

// Context renders a task's project, plan, notes, and solution fields as a
// multi-line block. Empty string when the task is absent or all fields are
// empty.
func (s *Store) Context(ctx context.Context, id int64) (string, error) {
	var project, plan, notes, solution string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(project,''), COALESCE(implementation_plan,''),
		        COALESCE(notes,''), COALESCE(solution,'')
		 FROM autonomous_tasks WHERE id = $1`, id,
	).Scan(&project, &plan, &notes, &solution)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("tasks: context: %w", err)
	}

	var lines []string
	if project != "" {
		lines = append(lines, "Project: "+project)
	}
	if plan != "" {
		lines = append(lines, "Plan: "+plan)
	}
	if notes != "" {
		lines = append(lines, "Notes: "+notes)
	}
	if solution != "" {
		lines = append(lines, "Solution: "+solution)
	}
	return strings.Join(lines, "\n"), nil
}

// Unblock requeues one blocked task to targetStatus, clearing its failure
// state and any accumulated blocked_reasons rows. A non-empty solution
// replaces the stored solution. Reports whether a row was updated.
func (s *Store) Unblock(ctx context.Context, id int64, targetStatus, solution string) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`WITH updated AS (
			UPDATE autonomous_tasks
			SET status = $1, blocked_reason = NULL, error_log = NULL,
			    assigned_agent = NULL, pid = NULL, started_at = NULL, attempt_count = 0,
			    solution = CASE WHEN $2 = '' THEN solution ELSE $2 END
			WHERE id = $3 AND status = $4
			RETURNING id
		), deleted AS (
			DELETE FROM blocked_reasons WHERE task_id IN (SELECT id FROM updated) RETURNING task_id
		)
		SELECT COUNT(*) FROM updated`,
		targetStatus, solution, id, StatusBlocked,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("tasks: unblock %d: %w", id, err)
	}
	return n == 1, nil
}

// UnblockAll requeues every blocked task, returning how many were requeued.
func (s *Store) UnblockAll(ctx context.Context, targetStatus, note string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`WITH updated AS (
			UPDATE autonomous_tasks
			SET status = $1, blocked_reason = NULL, error_log = NULL,
			    assigned_agent = NULL, pid = NULL, started_at = NULL, attempt_count = 0,
			    solution = CASE WHEN $2 = '' THEN solution ELSE $2 END
			WHERE status = $3
			RETURNING id
		), deleted AS (
			DELETE FROM blocked_reasons WHERE task_id IN (SELECT id FROM updated) RETURNING task_id
		)
		SELECT COUNT(*) FROM updated`,
		targetStatus, note, StatusBlocked,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("tasks: unblock all: %w", err)
	}
	return n, nil
}

// LatestProject returns the project name of the newest task that has one,
// or empty string.
func (s *Store) LatestProject(ctx context.Context) (string, error) {
	var project string
	err := s.pool.QueryRow(ctx,
		`SELECT project FROM autonomous_tasks
		 WHERE COALESCE(project,'') <> ''
		 ORDER BY id DESC LIMIT 1`,
	).Scan(&project)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("tasks: latest project: %w", err)
	}
	return strings.TrimSpace(project), nil
}

// AppendSolution appends a block to a task's solution field.
func (s *Store) AppendSolution(ctx context.Context, id int64, block string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE autonomous_tasks SET solution = COALESCE(solution, '') || $1 WHERE id = $2`,
		block, id)
	if err != nil {
		return fmt.Errorf("tasks: append solution %d: %w", id, err)
	}
	return nil
}

// RecentCompleted returns tasks completed within the last 7 days, newest
// first.
func (s *Store) RecentCompleted(ctx context.Context, limit int) ([]Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name FROM autonomous_tasks
		 WHERE status = $1 AND completed_at >= now() - interval '7 days'
		 ORDER BY completed_at DESC LIMIT $2`, StatusComplete, limit)
	if err != nil {
		return nil, fmt.Errorf("tasks: recent completed: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t := Task{Status: StatusComplete}
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("tasks: scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
