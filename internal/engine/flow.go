package engine

import (
	"sync"

	"github.com/google/uuid"
)

// FlowTokenGenerator produces flow tokens for external calls. The flow
// token doubles as the correlation id the gateway threads through rules,
// so every token must be unique across the journal's lifetime.
//
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type FlowTokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 flow tokens.
//
// UUIDv7 embeds a timestamp in the most significant bits, so tokens sort
// by creation time - convenient when scanning a journal by flow.
//
// Thread-safety: stateless, safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails, which does not happen in practice.
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined flow tokens in order.
//
// Deterministic tokens keep golden traces stable: a test hands the
// generator a known sequence and the journal comes out identical on
// every run.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedGenerator creates a generator that returns tokens in order.
func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

// Generate returns the next predetermined token.
//
// Panics when all tokens are consumed - fail fast on a test that opens
// more flows than it declared.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.tokens) {
		panic("FixedGenerator: all tokens exhausted")
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}
