package modules

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/weft-labs/weft/internal/ir"
	"github.com/weft-labs/weft/internal/module"
)

const threadSchema = `
CREATE TABLE IF NOT EXISTS threads (
    id     TEXT PRIMARY KEY,
    paper  TEXT NOT NULL,
    author TEXT NOT NULL,
    body   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_threads_paper ON threads(paper);

CREATE TABLE IF NOT EXISTS thread_replies (
    id     TEXT PRIMARY KEY,
    thread TEXT NOT NULL,
    author TEXT NOT NULL,
    body   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_replies_thread ON thread_replies(thread);
`

// Thread is the registry of discussion threads and their replies.
// Removing a thread cascades to its replies inside the module; the
// paper-to-thread cascade is a rule, not module code.
type Thread struct {
	db *sql.DB
}

// NewThread creates the discussion registry over the shared database.
func NewThread(db *sql.DB) (*Thread, error) {
	if _, err := db.Exec(threadSchema); err != nil {
		return nil, fmt.Errorf("thread schema: %w", err)
	}
	return &Thread{db: db}, nil
}

// Name implements module.Module.
func (t *Thread) Name() string { return "thread" }

// Mutators implements module.Module.
func (t *Thread) Mutators() map[string]module.MutatorFunc {
	return map[string]module.MutatorFunc{
		"open":   t.open,
		"reply":  t.reply,
		"remove": t.remove,
	}
}

// Queries implements module.Module.
func (t *Thread) Queries() map[string]module.QueryFunc {
	return map[string]module.QueryFunc{
		"forPaper": t.forPaper,
		"replies":  t.replies,
	}
}

func (t *Thread) open(ctx context.Context, input ir.Object) (ir.Object, error) {
	id, ok := stringField(input, "id")
	if !ok {
		return module.ErrorOutput("thread.open: id is required"), nil
	}
	paper, ok := stringField(input, "paper")
	if !ok {
		return module.ErrorOutput("thread.open: paper is required"), nil
	}
	author, ok := stringField(input, "author")
	if !ok {
		return module.ErrorOutput("thread.open: author is required"), nil
	}
	body, ok := stringField(input, "body")
	if !ok {
		return module.ErrorOutput("thread.open: body is required"), nil
	}

	result, err := t.db.ExecContext(ctx, `
		INSERT INTO threads (id, paper, author, body) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, paper, author, body)
	if err != nil {
		return nil, fmt.Errorf("thread.open: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("thread.open: rows affected: %w", err)
	}
	if affected == 0 {
		return module.ErrorOutput(fmt.Sprintf("thread %q already exists", id)), nil
	}

	return ir.Object{
		"value": ir.Object{
			"id":     ir.String(id),
			"paper":  ir.String(paper),
			"author": ir.String(author),
			"body":   ir.String(body),
		},
	}, nil
}

func (t *Thread) reply(ctx context.Context, input ir.Object) (ir.Object, error) {
	id, ok := stringField(input, "id")
	if !ok {
		return module.ErrorOutput("thread.reply: id is required"), nil
	}
	thread, ok := stringField(input, "thread")
	if !ok {
		return module.ErrorOutput("thread.reply: thread is required"), nil
	}
	author, ok := stringField(input, "author")
	if !ok {
		return module.ErrorOutput("thread.reply: author is required"), nil
	}
	body, ok := stringField(input, "body")
	if !ok {
		return module.ErrorOutput("thread.reply: body is required"), nil
	}

	var exists int
	if err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM threads WHERE id = ?`, thread).Scan(&exists); err != nil {
		return nil, fmt.Errorf("thread.reply: %w", err)
	}
	if exists == 0 {
		return module.ErrorOutput(fmt.Sprintf("unknown thread %q", thread)), nil
	}

	result, err := t.db.ExecContext(ctx, `
		INSERT INTO thread_replies (id, thread, author, body) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, thread, author, body)
	if err != nil {
		return nil, fmt.Errorf("thread.reply: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("thread.reply: rows affected: %w", err)
	}
	if affected == 0 {
		return module.ErrorOutput(fmt.Sprintf("reply %q already exists", id)), nil
	}

	return ir.Object{
		"value": ir.Object{
			"id":     ir.String(id),
			"thread": ir.String(thread),
			"author": ir.String(author),
			"body":   ir.String(body),
		},
	}, nil
}

// remove deletes a thread and, transactionally, every reply under it.
func (t *Thread) remove(ctx context.Context, input ir.Object) (ir.Object, error) {
	id, ok := stringField(input, "id")
	if !ok {
		return module.ErrorOutput("thread.remove: id is required"), nil
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("thread.remove: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("thread.remove: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("thread.remove: rows affected: %w", err)
	}
	if affected == 0 {
		return module.ErrorOutput(fmt.Sprintf("unknown thread %q", id)), nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM thread_replies WHERE thread = ?`, id); err != nil {
		return nil, fmt.Errorf("thread.remove: cascade replies: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("thread.remove: commit: %w", err)
	}

	return ir.Object{"removed": ir.String(id)}, nil
}

func (t *Thread) forPaper(ctx context.Context, input ir.Object) ([]ir.Object, error) {
	paper, ok := stringField(input, "paper")
	if !ok {
		return nil, nil
	}

	rows, err := t.db.QueryContext(ctx, `
		SELECT id, author, body FROM threads
		WHERE paper = ?
		ORDER BY id ASC
	`, paper)
	if err != nil {
		return nil, fmt.Errorf("thread.forPaper: %w", err)
	}
	defer rows.Close()

	return scanThreadRows(rows)
}

func (t *Thread) replies(ctx context.Context, input ir.Object) ([]ir.Object, error) {
	thread, ok := stringField(input, "thread")
	if !ok {
		return nil, nil
	}

	rows, err := t.db.QueryContext(ctx, `
		SELECT id, author, body FROM thread_replies
		WHERE thread = ?
		ORDER BY id ASC
	`, thread)
	if err != nil {
		return nil, fmt.Errorf("thread.replies: %w", err)
	}
	defer rows.Close()

	return scanThreadRows(rows)
}

func scanThreadRows(rows *sql.Rows) ([]ir.Object, error) {
	var out []ir.Object
	for rows.Next() {
		var id, author, body string
		if err := rows.Scan(&id, &author, &body); err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		out = append(out, ir.Object{
			"id":     ir.String(id),
			"author": ir.String(author),
			"body":   ir.String(body),
		})
	}
	return out, rows.Err()
}
