package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix enables future algorithm migration.
const (
	DomainEvent   = "weft/event/v1"
	DomainBinding = "weft/binding/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventID computes the content-addressed id for an event record.
// Stable across restarts and replays given the same inputs.
func EventID(flowToken string, op OpRef, input, output Object, seq int64) (string, error) {
	obj := Object{
		"flow_token": String(flowToken),
		"op":         String(op),
		"input":      input,
		"output":     output,
		"seq":        Int(seq),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EventID: marshal: %w", err)
	}

	return hashWithDomain(DomainEvent, canonical), nil
}

// BindingHash computes the hash of one frame's bindings for firing-level
// idempotency: UNIQUE(event_id, rule_id, binding_hash) in the journal.
func BindingHash(bindings Object) (string, error) {
	canonical, err := MarshalCanonical(bindings)
	if err != nil {
		return "", fmt.Errorf("BindingHash: marshal: %w", err)
	}

	return hashWithDomain(DomainBinding, canonical), nil
}

// MustEventID is like EventID but panics on error.
// Use only in tests with known-valid inputs.
func MustEventID(flowToken string, op OpRef, input, output Object, seq int64) string {
	id, err := EventID(flowToken, op, input, output, seq)
	if err != nil {
		panic(err)
	}
	return id
}

// MustBindingHash is like BindingHash but panics on error.
// Use only in tests with known-valid inputs.
func MustBindingHash(bindings Object) string {
	hash, err := BindingHash(bindings)
	if err != nil {
		panic(err)
	}
	return hash
}
