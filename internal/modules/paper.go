package modules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/weft-labs/weft/internal/ir"
	"github.com/weft-labs/weft/internal/module"
)

const paperSchema = `
CREATE TABLE IF NOT EXISTS papers (
    id    TEXT PRIMARY KEY,
    title TEXT NOT NULL
);
`

// Paper is the registry of papers. Creation is an idempotent upsert:
// the first writer wins and later ensures observe the stored record.
type Paper struct {
	db *sql.DB
}

// NewPaper creates the paper registry over the shared database.
func NewPaper(db *sql.DB) (*Paper, error) {
	if _, err := db.Exec(paperSchema); err != nil {
		return nil, fmt.Errorf("paper schema: %w", err)
	}
	return &Paper{db: db}, nil
}

// Name implements module.Module.
func (p *Paper) Name() string { return "paper" }

// Mutators implements module.Module.
func (p *Paper) Mutators() map[string]module.MutatorFunc {
	return map[string]module.MutatorFunc{
		"ensure": p.ensure,
		"remove": p.remove,
	}
}

// Queries implements module.Module.
func (p *Paper) Queries() map[string]module.QueryFunc {
	return map[string]module.QueryFunc{
		"lookup": p.lookup,
	}
}

// ensure registers a paper if absent and returns the stored record either
// way. A second ensure with a different title observes the first title -
// insert-if-absent semantics enforced by the store, not the engine.
func (p *Paper) ensure(ctx context.Context, input ir.Object) (ir.Object, error) {
	id, ok := stringField(input, "id")
	if !ok {
		return module.ErrorOutput("paper.ensure: id is required"), nil
	}
	title, ok := stringField(input, "title")
	if !ok {
		return module.ErrorOutput("paper.ensure: title is required"), nil
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO papers (id, title) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, title)
	if err != nil {
		return nil, fmt.Errorf("paper.ensure: %w", err)
	}

	var storedTitle string
	err = p.db.QueryRowContext(ctx, `SELECT title FROM papers WHERE id = ?`, id).Scan(&storedTitle)
	if err != nil {
		return nil, fmt.Errorf("paper.ensure: read back: %w", err)
	}

	return ir.Object{
		"value": ir.Object{
			"id":    ir.String(id),
			"title": ir.String(storedTitle),
		},
	}, nil
}

// remove deletes a paper. Removing an unknown paper is the error branch.
// Dependent highlights and threads are cleaned up by rules, not here.
func (p *Paper) remove(ctx context.Context, input ir.Object) (ir.Object, error) {
	id, ok := stringField(input, "id")
	if !ok {
		return module.ErrorOutput("paper.remove: id is required"), nil
	}

	result, err := p.db.ExecContext(ctx, `DELETE FROM papers WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("paper.remove: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("paper.remove: rows affected: %w", err)
	}
	if affected == 0 {
		return module.ErrorOutput(fmt.Sprintf("unknown paper %q", id)), nil
	}

	return ir.Object{"removed": ir.String(id)}, nil
}

// lookup returns the paper with the given id, or no rows.
func (p *Paper) lookup(ctx context.Context, input ir.Object) ([]ir.Object, error) {
	id, ok := stringField(input, "id")
	if !ok {
		return nil, nil
	}

	var title string
	err := p.db.QueryRowContext(ctx, `SELECT title FROM papers WHERE id = ?`, id).Scan(&title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("paper.lookup: %w", err)
	}

	return []ir.Object{{
		"id":    ir.String(id),
		"title": ir.String(title),
	}}, nil
}

// stringField extracts a string-typed field from an operation input.
func stringField(input ir.Object, name string) (string, bool) {
	v, ok := input[name]
	if !ok {
		return "", false
	}
	s, ok := v.(ir.String)
	if !ok {
		return "", false
	}
	return string(s), true
}
