// Package harness executes declarative YAML scenarios against a fully
// wired in-memory world: journal, data modules, gateway, and a compiled
// rule set. A scenario lists external calls to make through the gateway
// and assertions over the journal the cascade leaves behind.
//
// Scenarios run on the real engine with fixed flow tokens, so the
// journal is deterministic and traces can be compared against golden
// files with goldie.
package harness
