// Package modules holds the application's data registries: papers, access
// groups, discussion threads, highlights, and identity signals.
//
// Each registry is a thin SQLite-backed store with simple invariants -
// uniqueness constraints, idempotent upserts, cascade deletes - exposed
// through the module contracts. Uniqueness and atomicity live entirely at
// the store level (INSERT ... ON CONFLICT), never in the engine: two
// concurrent calls racing on the same record rely on SQLite to reject or
// serialize the second writer.
//
// None of the cross-module behavior lives here. Authorization checks,
// response assembly, and cross-module cascades are rules over the
// dispatcher; a registry only knows its own tables.
package modules
