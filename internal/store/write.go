package store

import (
	"context"
	"fmt"

	"github.com/weft-labs/weft/internal/ir"
)

// WriteEvent appends an event record to the journal.
// ON CONFLICT(id) DO NOTHING makes duplicate appends idempotent -
// content-addressed ids mean a duplicate is byte-identical.
func (s *Store) WriteEvent(ctx context.Context, ev ir.EventRecord) error {
	inputJSON, err := ir.MarshalCanonical(ev.Input)
	if err != nil {
		return fmt.Errorf("write event: marshal input: %w", err)
	}
	outputJSON, err := ir.MarshalCanonical(ev.Output)
	if err != nil {
		return fmt.Errorf("write event: marshal output: %w", err)
	}

	module, operation := ev.Op.Split()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, flow_token, module, operation, input, output, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		ev.ID,
		ev.FlowToken,
		module,
		operation,
		string(inputJSON),
		string(outputJSON),
		ev.Seq,
	)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	return nil
}

// Firing records one rule firing against one triggering event with one
// concrete binding.
type Firing struct {
	ID          int64
	EventID     string
	RuleID      string
	BindingHash string
	Seq         int64
}

// WriteFiring inserts a firing record, claiming the
// (event, rule, binding) slot atomically via the unique constraint.
// Returns the row id and whether a new row was inserted; inserted=false
// means the firing already happened (replay or crash recovery) and the
// caller must not dispatch its then-clause again.
func (s *Store) WriteFiring(ctx context.Context, firing Firing) (id int64, inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("write firing: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO rule_firings (event_id, rule_id, binding_hash, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(event_id, rule_id, binding_hash) DO NOTHING
	`,
		firing.EventID,
		firing.RuleID,
		firing.BindingHash,
		firing.Seq,
	)
	if err != nil {
		return 0, false, fmt.Errorf("write firing: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("write firing: rows affected: %w", err)
	}

	if rowsAffected > 0 {
		id, err = result.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("write firing: last insert id: %w", err)
		}
		inserted = true
	} else {
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM rule_firings
			WHERE event_id = ? AND rule_id = ? AND binding_hash = ?
		`, firing.EventID, firing.RuleID, firing.BindingHash).Scan(&id)
		if err != nil {
			return 0, false, fmt.Errorf("write firing: select existing: %w", err)
		}
		inserted = false
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("write firing: commit: %w", err)
	}

	return id, inserted, nil
}

// WriteProvenanceEdge links a firing to an event record it produced.
// A firing with multiple then-invocations produces multiple edges.
func (s *Store) WriteProvenanceEdge(ctx context.Context, firingID int64, eventID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provenance_edges (firing_id, event_id)
		VALUES (?, ?)
		ON CONFLICT(firing_id, event_id) DO NOTHING
	`,
		firingID,
		eventID,
	)
	if err != nil {
		return fmt.Errorf("write provenance edge: %w", err)
	}
	return nil
}
