package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"todo-api/domain"
)

const driverName = "sqlite"

// Storage provides access to the todos table.
type Storage struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database file at path. The schema is
// not touched; call Init for that.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	return db, nil
}

// New wraps an open database handle.
func New(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// Ping checks that the datastore is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying database handle.
func (s *Storage) Close() error {
	return s.db.Close()
}

// ListTodos returns todos in insertion order. When completed is non-nil only
// todos with that completion state are returned.
func (s *Storage) ListTodos(ctx context.Context, completed *bool) ([]domain.Todo, error) {
	query := `SELECT id, task, completed, priority FROM todos`
	args := make([]any, 0, 1)
	if completed != nil {
		query += ` WHERE completed = ?`
		args = append(args, boolToInt(*completed))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	defer rows.Close()

	todos := []domain.Todo{}
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("list todos: %w", err)
		}
		todos = append(todos, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	return todos, nil
}

// CreateTodo inserts t as an open todo and returns the assigned id.
func (s *Storage) CreateTodo(ctx context.Context, t domain.Todo) (int64, error) {
	const q = `INSERT INTO todos (task, completed, priority) VALUES (?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q, t.Task, boolToInt(false), t.Priority)
	if err != nil {
		return 0, fmt.Errorf("insert todo: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert todo: %w", err)
	}
	return id, nil
}

// UpdateTodo merges patch into the stored todo and writes the result back.
// It returns domain.ErrNotFound when no todo has the given id.
func (s *Storage) UpdateTodo(ctx context.Context, id int64, patch domain.TodoPatch) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update todo %d: %w", id, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const sel = `SELECT id, task, completed, priority FROM todos WHERE id = ?`
	current, err := scanTodo(tx.QueryRowContext(ctx, sel, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update todo %d: %w", id, err)
	}

	merged := patch.Apply(current)
	const upd = `UPDATE todos SET task = ?, completed = ? WHERE id = ?`
	res, err := tx.ExecContext(ctx, upd, merged.Task, boolToInt(merged.Completed), id)
	if err != nil {
		return fmt.Errorf("update todo %d: %w", id, err)
	}
	if err = requireAffected(res); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("update todo %d: %w", id, err)
	}
	return nil
}

// CompleteAll marks every todo as completed and returns the number of rows
// the statement touched.
func (s *Storage) CompleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE todos SET completed = ?`, boolToInt(true))
	if err != nil {
		return 0, fmt.Errorf("complete all todos: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("complete all todos: %w", err)
	}
	return n, nil
}

// DeleteTodo removes the todo with the given id. It returns
// domain.ErrNotFound when nothing was deleted.
func (s *Storage) DeleteTodo(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM todos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete todo %d: %w", id, err)
	}
	return requireAffected(res)
}

type scanner interface {
	Scan(dest ...any) error
}

// scanTodo tolerates NULL completed/priority columns left by databases
// created before the NOT NULL constraints existed.
func scanTodo(row scanner) (domain.Todo, error) {
	var (
		t         domain.Todo
		completed sql.NullInt64
		priority  sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Task, &completed, &priority); err != nil {
		return domain.Todo{}, err
	}
	t.Completed = completed.Valid && completed.Int64 != 0
	t.Priority = domain.DefaultPriority
	if priority.Valid {
		t.Priority = priority.String
	}
	return t, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
