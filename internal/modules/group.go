package modules

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/weft-labs/weft/internal/ir"
	"github.com/weft-labs/weft/internal/module"
)

const groupSchema = `
CREATE TABLE IF NOT EXISTS groups (
    id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS group_members (
    group_id TEXT NOT NULL,
    user_id  TEXT NOT NULL,
    PRIMARY KEY (group_id, user_id)
);
`

// Group is the registry of access groups and their memberships.
type Group struct {
	db *sql.DB
}

// NewGroup creates the access-group registry over the shared database.
func NewGroup(db *sql.DB) (*Group, error) {
	if _, err := db.Exec(groupSchema); err != nil {
		return nil, fmt.Errorf("group schema: %w", err)
	}
	return &Group{db: db}, nil
}

// Name implements module.Module.
func (g *Group) Name() string { return "group" }

// Mutators implements module.Module.
func (g *Group) Mutators() map[string]module.MutatorFunc {
	return map[string]module.MutatorFunc{
		"create": g.create,
		"grant":  g.grant,
		"revoke": g.revoke,
	}
}

// Queries implements module.Module.
func (g *Group) Queries() map[string]module.QueryFunc {
	return map[string]module.QueryFunc{
		"members":    g.members,
		"membership": g.membership,
	}
}

// create registers a new group. Duplicate ids are the error branch -
// unlike paper.ensure, creation here is not idempotent.
func (g *Group) create(ctx context.Context, input ir.Object) (ir.Object, error) {
	id, ok := stringField(input, "id")
	if !ok {
		return module.ErrorOutput("group.create: id is required"), nil
	}

	result, err := g.db.ExecContext(ctx, `
		INSERT INTO groups (id) VALUES (?)
		ON CONFLICT(id) DO NOTHING
	`, id)
	if err != nil {
		return nil, fmt.Errorf("group.create: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("group.create: rows affected: %w", err)
	}
	if affected == 0 {
		return module.ErrorOutput(fmt.Sprintf("group %q already exists", id)), nil
	}

	return ir.Object{"value": ir.Object{"id": ir.String(id)}}, nil
}

// grant adds a user to a group. Granting twice is an idempotent upsert.
func (g *Group) grant(ctx context.Context, input ir.Object) (ir.Object, error) {
	groupID, ok := stringField(input, "group")
	if !ok {
		return module.ErrorOutput("group.grant: group is required"), nil
	}
	userID, ok := stringField(input, "user")
	if !ok {
		return module.ErrorOutput("group.grant: user is required"), nil
	}

	var exists int
	err := g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM groups WHERE id = ?`, groupID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("group.grant: %w", err)
	}
	if exists == 0 {
		return module.ErrorOutput(fmt.Sprintf("unknown group %q", groupID)), nil
	}

	_, err = g.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id) VALUES (?, ?)
		ON CONFLICT(group_id, user_id) DO NOTHING
	`, groupID, userID)
	if err != nil {
		return nil, fmt.Errorf("group.grant: %w", err)
	}

	return ir.Object{
		"granted": ir.Object{"group": ir.String(groupID), "user": ir.String(userID)},
	}, nil
}

// revoke removes a user from a group. Revoking a non-member is the
// error branch.
func (g *Group) revoke(ctx context.Context, input ir.Object) (ir.Object, error) {
	groupID, ok := stringField(input, "group")
	if !ok {
		return module.ErrorOutput("group.revoke: group is required"), nil
	}
	userID, ok := stringField(input, "user")
	if !ok {
		return module.ErrorOutput("group.revoke: user is required"), nil
	}

	result, err := g.db.ExecContext(ctx, `
		DELETE FROM group_members WHERE group_id = ? AND user_id = ?
	`, groupID, userID)
	if err != nil {
		return nil, fmt.Errorf("group.revoke: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("group.revoke: rows affected: %w", err)
	}
	if affected == 0 {
		return module.ErrorOutput(fmt.Sprintf("%q is not a member of %q", userID, groupID)), nil
	}

	return ir.Object{
		"revoked": ir.Object{"group": ir.String(groupID), "user": ir.String(userID)},
	}, nil
}

// members returns one row per member of the group.
func (g *Group) members(ctx context.Context, input ir.Object) ([]ir.Object, error) {
	groupID, ok := stringField(input, "group")
	if !ok {
		return nil, nil
	}

	rows, err := g.db.QueryContext(ctx, `
		SELECT user_id FROM group_members
		WHERE group_id = ?
		ORDER BY user_id ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("group.members: %w", err)
	}
	defer rows.Close()

	var out []ir.Object
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("group.members: scan: %w", err)
		}
		out = append(out, ir.Object{"user": ir.String(userID)})
	}
	return out, rows.Err()
}

// membership returns one row if the user is in the group, none otherwise.
// The empty result is the "not a member" signal the authorization rules
// branch on.
func (g *Group) membership(ctx context.Context, input ir.Object) ([]ir.Object, error) {
	groupID, ok := stringField(input, "group")
	if !ok {
		return nil, nil
	}
	userID, ok := stringField(input, "user")
	if !ok {
		return nil, nil
	}

	var count int
	err := g.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM group_members WHERE group_id = ? AND user_id = ?
	`, groupID, userID).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("group.membership: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	return []ir.Object{{
		"group": ir.String(groupID),
		"user":  ir.String(userID),
	}}, nil
}
