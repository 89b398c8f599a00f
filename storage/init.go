package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const createTodosTable = `
CREATE TABLE IF NOT EXISTS todos (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	task      TEXT    NOT NULL,
	completed BOOLEAN NOT NULL DEFAULT 0,
	priority  TEXT    NOT NULL DEFAULT 'medium'
)`

// Init creates the todos table when it does not exist yet. Running it
// against an initialized database is a no-op.
func Init(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createTodosTable); err != nil {
		return fmt.Errorf("create todos table: %w", err)
	}
	return nil
}
