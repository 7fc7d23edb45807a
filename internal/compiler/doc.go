// Package compiler turns CUE rule definitions into the rule IR.
//
// Rules are authored as fields of a top-level rule struct:
//
//	rule: "respond-paper-ensure": {
//		when: [{
//			op: "gateway.request"
//			output: {path: "/paper/ensure", request: "?req", id: "?id", title: "?title"}
//		}]
//		then: [{
//			op: "paper.ensure"
//			args: {id: "?id", title: "?title", request: "?req"}
//		}]
//	}
//
// Strings beginning with "?" are variables; every other CUE value is a
// literal, restricted to the journal's value domain (string, int64,
// bool, list, struct - floats and null are rejected, the same regime
// the canonical hash enforces).
//
// A when pattern constrains input and output fields and may list
// absentInput / absentOutput fields that must NOT appear on the event;
// optional-field rule variants are built entirely from those lists.
//
// Where steps are structs discriminated by their single field:
//
//	{query: {op: "group.membership", args: {...}, bind: {member: "?m"}, fallback: {"?m": false}}}
//	{filter: {eq: ["?m", true]}}
//	{collect: {from: "?row", into: "?rows"}}
//
// Predicates compose from eq, ne, and, not.
//
// The compiler only builds IR; registry-aware checking (operation
// resolution, cycle rejection, variant analysis) lives in the rules
// package.
package compiler
