package modules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/weft-labs/weft/internal/ir"
	"github.com/weft-labs/weft/internal/module"
)

const identitySchema = `
CREATE TABLE IF NOT EXISTS identities (
    user_id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS identity_tokens (
    token   TEXT PRIMARY KEY,
    user_id TEXT NOT NULL
);
`

// Identity is the registry of identity signals: registered users and the
// opaque tokens that resolve to them. Token generation and verification
// cryptography are external concerns; this registry only maps opaque
// strings to users.
type Identity struct {
	db *sql.DB
}

// NewIdentity creates the identity registry over the shared database.
func NewIdentity(db *sql.DB) (*Identity, error) {
	if _, err := db.Exec(identitySchema); err != nil {
		return nil, fmt.Errorf("identity schema: %w", err)
	}
	return &Identity{db: db}, nil
}

// Name implements module.Module.
func (i *Identity) Name() string { return "identity" }

// Mutators implements module.Module.
func (i *Identity) Mutators() map[string]module.MutatorFunc {
	return map[string]module.MutatorFunc{
		"register":   i.register,
		"grantToken": i.grantToken,
	}
}

// Queries implements module.Module.
func (i *Identity) Queries() map[string]module.QueryFunc {
	return map[string]module.QueryFunc{
		"holder":     i.holder,
		"lookupUser": i.lookupUser,
	}
}

func (i *Identity) register(ctx context.Context, input ir.Object) (ir.Object, error) {
	user, ok := stringField(input, "user")
	if !ok {
		return module.ErrorOutput("identity.register: user is required"), nil
	}

	result, err := i.db.ExecContext(ctx, `
		INSERT INTO identities (user_id) VALUES (?)
		ON CONFLICT(user_id) DO NOTHING
	`, user)
	if err != nil {
		return nil, fmt.Errorf("identity.register: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("identity.register: rows affected: %w", err)
	}
	if affected == 0 {
		return module.ErrorOutput(fmt.Sprintf("user %q already registered", user)), nil
	}

	return ir.Object{"value": ir.Object{"user": ir.String(user)}}, nil
}

// grantToken binds an opaque token to a registered user. Re-granting the
// same token to the same user is an idempotent upsert; granting it to a
// different user is the error branch.
func (i *Identity) grantToken(ctx context.Context, input ir.Object) (ir.Object, error) {
	user, ok := stringField(input, "user")
	if !ok {
		return module.ErrorOutput("identity.grantToken: user is required"), nil
	}
	token, ok := stringField(input, "token")
	if !ok {
		return module.ErrorOutput("identity.grantToken: token is required"), nil
	}

	var registered int
	if err := i.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities WHERE user_id = ?`, user).Scan(&registered); err != nil {
		return nil, fmt.Errorf("identity.grantToken: %w", err)
	}
	if registered == 0 {
		return module.ErrorOutput(fmt.Sprintf("unknown user %q", user)), nil
	}

	_, err := i.db.ExecContext(ctx, `
		INSERT INTO identity_tokens (token, user_id) VALUES (?, ?)
		ON CONFLICT(token) DO NOTHING
	`, token, user)
	if err != nil {
		return nil, fmt.Errorf("identity.grantToken: %w", err)
	}

	var holder string
	if err := i.db.QueryRowContext(ctx, `SELECT user_id FROM identity_tokens WHERE token = ?`, token).Scan(&holder); err != nil {
		return nil, fmt.Errorf("identity.grantToken: read back: %w", err)
	}
	if holder != user {
		return module.ErrorOutput("token already granted to another user"), nil
	}

	return ir.Object{"granted": ir.Object{"user": ir.String(user)}}, nil
}

// holder resolves a token to its user. The empty result is the
// "invalid token" signal the authorization rules branch on.
func (i *Identity) holder(ctx context.Context, input ir.Object) ([]ir.Object, error) {
	token, ok := stringField(input, "token")
	if !ok {
		return nil, nil
	}

	var user string
	err := i.db.QueryRowContext(ctx, `SELECT user_id FROM identity_tokens WHERE token = ?`, token).Scan(&user)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity.holder: %w", err)
	}

	return []ir.Object{{"user": ir.String(user)}}, nil
}

func (i *Identity) lookupUser(ctx context.Context, input ir.Object) ([]ir.Object, error) {
	user, ok := stringField(input, "user")
	if !ok {
		return nil, nil
	}

	var count int
	if err := i.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities WHERE user_id = ?`, user).Scan(&count); err != nil {
		return nil, fmt.Errorf("identity.lookupUser: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	return []ir.Object{{"user": ir.String(user)}}, nil
}
