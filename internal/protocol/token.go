package protocol

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var tokenSeq atomic.Uint64

// Token is the private key of one declared method or value.
//
// Tokens are allocated from a process-wide counter, so two declarations never
// share one even when their names collide. The zero Token is never allocated.
type Token struct {
	id uint64
}

func newToken() Token {
	return Token{id: tokenSeq.Add(1)}
}

// IsZero reports whether t was never allocated.
func (t Token) IsZero() bool { return t.id == 0 }

func (t Token) String() string { return fmt.Sprintf("token#%d", t.id) }

// IDGenerator produces call identifiers for dispatch traces.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 call identifiers.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
// Panics if UUID generation fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined identifiers, for golden traces.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next identifier.
// Panics when all identifiers have been consumed.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
