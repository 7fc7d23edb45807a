package modules

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/weft-labs/weft/internal/ir"
	"github.com/weft-labs/weft/internal/module"
)

const highlightSchema = `
CREATE TABLE IF NOT EXISTS highlights (
    id        TEXT PRIMARY KEY,
    paper     TEXT NOT NULL,
    owner     TEXT NOT NULL,
    quote     TEXT NOT NULL,
    anchor_id TEXT                        -- NULL when the highlight is unanchored
);

CREATE INDEX IF NOT EXISTS idx_highlights_paper ON highlights(paper);
`

// Highlight is the registry of highlights. The anchorId parameter is
// optional at the API surface, which is why the highlight rules come in
// presence/absence variants.
type Highlight struct {
	db *sql.DB
}

// NewHighlight creates the highlight registry over the shared database.
func NewHighlight(db *sql.DB) (*Highlight, error) {
	if _, err := db.Exec(highlightSchema); err != nil {
		return nil, fmt.Errorf("highlight schema: %w", err)
	}
	return &Highlight{db: db}, nil
}

// Name implements module.Module.
func (h *Highlight) Name() string { return "highlight" }

// Mutators implements module.Module.
func (h *Highlight) Mutators() map[string]module.MutatorFunc {
	return map[string]module.MutatorFunc{
		"add":    h.add,
		"remove": h.remove,
	}
}

// Queries implements module.Module.
func (h *Highlight) Queries() map[string]module.QueryFunc {
	return map[string]module.QueryFunc{
		"forPaper": h.forPaper,
		"lookup":   h.lookup,
	}
}

// add stores a highlight. anchorId is optional; when present it is
// stored, when absent the highlight is unanchored. The output echoes the
// same shape back: the anchorId field exists on the output exactly when
// it existed on the input.
func (h *Highlight) add(ctx context.Context, input ir.Object) (ir.Object, error) {
	id, ok := stringField(input, "id")
	if !ok {
		return module.ErrorOutput("highlight.add: id is required"), nil
	}
	paper, ok := stringField(input, "paper")
	if !ok {
		return module.ErrorOutput("highlight.add: paper is required"), nil
	}
	owner, ok := stringField(input, "owner")
	if !ok {
		return module.ErrorOutput("highlight.add: owner is required"), nil
	}
	quote, ok := stringField(input, "quote")
	if !ok {
		return module.ErrorOutput("highlight.add: quote is required"), nil
	}

	anchorID, hasAnchor := stringField(input, "anchorId")

	var anchor sql.NullString
	if hasAnchor {
		anchor = sql.NullString{String: anchorID, Valid: true}
	}

	result, err := h.db.ExecContext(ctx, `
		INSERT INTO highlights (id, paper, owner, quote, anchor_id) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, paper, owner, quote, anchor)
	if err != nil {
		return nil, fmt.Errorf("highlight.add: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("highlight.add: rows affected: %w", err)
	}
	if affected == 0 {
		return module.ErrorOutput(fmt.Sprintf("highlight %q already exists", id)), nil
	}

	value := ir.Object{
		"id":    ir.String(id),
		"paper": ir.String(paper),
		"owner": ir.String(owner),
		"quote": ir.String(quote),
	}
	if hasAnchor {
		value["anchorId"] = ir.String(anchorID)
	}

	return ir.Object{"value": value}, nil
}

func (h *Highlight) remove(ctx context.Context, input ir.Object) (ir.Object, error) {
	id, ok := stringField(input, "id")
	if !ok {
		return module.ErrorOutput("highlight.remove: id is required"), nil
	}

	result, err := h.db.ExecContext(ctx, `DELETE FROM highlights WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("highlight.remove: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("highlight.remove: rows affected: %w", err)
	}
	if affected == 0 {
		return module.ErrorOutput(fmt.Sprintf("unknown highlight %q", id)), nil
	}

	return ir.Object{"removed": ir.String(id)}, nil
}

// forPaper returns one row per highlight on the paper, ordered by id.
// Unanchored highlights omit the anchorId field entirely rather than
// carrying a null.
func (h *Highlight) forPaper(ctx context.Context, input ir.Object) ([]ir.Object, error) {
	paper, ok := stringField(input, "paper")
	if !ok {
		return nil, nil
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT id, owner, quote, anchor_id FROM highlights
		WHERE paper = ?
		ORDER BY id ASC
	`, paper)
	if err != nil {
		return nil, fmt.Errorf("highlight.forPaper: %w", err)
	}
	defer rows.Close()

	return scanHighlightRows(rows)
}

func (h *Highlight) lookup(ctx context.Context, input ir.Object) ([]ir.Object, error) {
	id, ok := stringField(input, "id")
	if !ok {
		return nil, nil
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT id, owner, quote, anchor_id FROM highlights
		WHERE id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("highlight.lookup: %w", err)
	}
	defer rows.Close()

	return scanHighlightRows(rows)
}

func scanHighlightRows(rows *sql.Rows) ([]ir.Object, error) {
	var out []ir.Object
	for rows.Next() {
		var id, owner, quote string
		var anchor sql.NullString
		if err := rows.Scan(&id, &owner, &quote, &anchor); err != nil {
			return nil, fmt.Errorf("scan highlight row: %w", err)
		}
		row := ir.Object{
			"id":    ir.String(id),
			"owner": ir.String(owner),
			"quote": ir.String(quote),
		}
		if anchor.Valid {
			row["anchorId"] = ir.String(anchor.String)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
