package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator produces predictable transaction ids for tests:
//
//	gen := NewSequenceGenerator("tx")
//	gen.Generate() // "tx-0001"
//	gen.Generate() // "tx-0002"
//
// Unlike txlog.FixedGenerator it never runs out, so a scenario does not
// have to declare how many transactions it opens.
//
// Thread-safety: SequenceGenerator is safe for concurrent use.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator. An empty prefix defaults to "tx".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "tx"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id. Implements txlog.IDGenerator.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// Reset restarts the sequence at 1.
func (g *SequenceGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
