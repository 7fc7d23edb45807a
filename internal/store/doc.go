// Package store provides the durable event journal backing the weft
// dispatcher.
//
// The journal is append-only: event records, rule firings, and the
// provenance edges linking a firing to the records it produced. SQLite in
// WAL mode is the storage engine; the single-writer discipline lives in
// the dispatcher, not here.
//
// Every read that feeds rule evaluation or replay uses deterministic
// ordering: ORDER BY seq ASC, id COLLATE BINARY ASC. Wall-clock time
// never appears in the schema.
package store
