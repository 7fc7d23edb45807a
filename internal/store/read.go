package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/weft-labs/weft/internal/ir"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ReadFlow returns all event records for a flow token in deterministic
// order: ORDER BY seq ASC, id COLLATE BINARY ASC.
// Returns an empty slice (not nil) when the flow has no records.
func (s *Store) ReadFlow(ctx context.Context, flowToken string) ([]ir.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, flow_token, module, operation, input, output, seq
		FROM events
		WHERE flow_token = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, flowToken)
	if err != nil {
		return nil, fmt.Errorf("query flow events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ReadAllEvents returns every event record in the journal in
// deterministic order. Used by replay and the trace command.
func (s *Store) ReadAllEvents(ctx context.Context) ([]ir.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, flow_token, module, operation, input, output, seq
		FROM events
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query all events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ReadEvent returns a single event record by content-addressed id.
func (s *Store) ReadEvent(ctx context.Context, id string) (ir.EventRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, flow_token, module, operation, input, output, seq
		FROM events
		WHERE id = ?
	`, id)

	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.EventRecord{}, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.EventRecord{}, fmt.Errorf("read event %s: %w", id, err)
	}
	return ev, nil
}

// ReadFlowFirings returns the rule firings recorded for a flow, in
// firing order. Wired into the trace command's provenance view.
func (s *Store) ReadFlowFirings(ctx context.Context, flowToken string) ([]Firing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.event_id, f.rule_id, f.binding_hash, f.seq
		FROM rule_firings f
		JOIN events e ON e.id = f.event_id
		WHERE e.flow_token = ?
		ORDER BY f.seq ASC, f.id ASC
	`, flowToken)
	if err != nil {
		return nil, fmt.Errorf("query flow firings: %w", err)
	}
	defer rows.Close()

	firings := make([]Firing, 0)
	for rows.Next() {
		var f Firing
		if err := rows.Scan(&f.ID, &f.EventID, &f.RuleID, &f.BindingHash, &f.Seq); err != nil {
			return nil, fmt.Errorf("scan firing: %w", err)
		}
		firings = append(firings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate firings: %w", err)
	}
	return firings, nil
}

// ListFlows returns every distinct flow token ordered by first seq.
func (s *Store) ListFlows(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT flow_token FROM events
		GROUP BY flow_token
		ORDER BY MIN(seq) ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	flows := make([]string, 0)
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scan flow token: %w", err)
		}
		flows = append(flows, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flows: %w", err)
	}
	return flows, nil
}

// MaxSeq returns the highest sequence number in the journal, or zero for
// an empty journal. Replay resumes the logical clock from here.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvents(rows *sql.Rows) ([]ir.EventRecord, error) {
	events := make([]ir.EventRecord, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func scanEvent(row rowScanner) (ir.EventRecord, error) {
	var ev ir.EventRecord
	var module, operation string
	var inputJS, outputJS string
	if err := row.Scan(&ev.ID, &ev.FlowToken, &module, &operation, &inputJS, &outputJS, &ev.Seq); err != nil {
		return ir.EventRecord{}, err
	}
	ev.Op = ir.OpRef(module + "." + operation)

	if err := unmarshalObject(inputJS, &ev.Input); err != nil {
		return ir.EventRecord{}, fmt.Errorf("event %s: input: %w", ev.ID, err)
	}
	if err := unmarshalObject(outputJS, &ev.Output); err != nil {
		return ir.EventRecord{}, fmt.Errorf("event %s: output: %w", ev.ID, err)
	}

	return ev, nil
}

func unmarshalObject(data string, obj *ir.Object) error {
	if data == "" {
		*obj = ir.Object{}
		return nil
	}
	return obj.UnmarshalJSON([]byte(data))
}
