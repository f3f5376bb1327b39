package batch

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces ids for run and parent-job records; waves are
// identified by index. Anchor ids are derived deterministically from (u, v)
// and never go through this seam.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator produces time-ordered UUIDs for production use.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7 string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns tokens from a fixed list in order, for deterministic
// tests and golden snapshots. Generate panics once exhausted to fail fast on
// test misconfiguration rather than silently reusing an id.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedGenerator builds a FixedGenerator over the given tokens.
func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

// Generate returns the next token in sequence.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.tokens) {
		panic(fmt.Sprintf("batch: FixedGenerator exhausted after %d tokens", len(g.tokens)))
	}
	tok := g.tokens[g.idx]
	g.idx++
	return tok
}
