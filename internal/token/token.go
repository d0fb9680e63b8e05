// Package token implements the monotonic-counter-plus-collision-callback
// token allocator shared by solicitation tokens and transfer tokens.
package token

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrExhausted is returned when every candidate token within the bounded
// number of attempts collides.
var ErrExhausted = errors.New("token: exhausted")

// CollisionFunc reports whether candidate is already in use.
type CollisionFunc func(candidate uint32) bool

// Generator allocates uint32 tokens from a monotonically increasing
// counter, skipping any candidate a caller-supplied CollisionFunc
// reports as already in use.
type Generator struct {
	mu          sync.Mutex
	next        uint32
	maxAttempts int
}

// Option configures a Generator at construction time.
type Option func(*Generator)

// MaxAttempts bounds how many candidates Next will try before failing
// with ErrExhausted. The default is 1000.
func MaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// Seed sets the counter's starting value explicitly, primarily for
// deterministic tests.
func Seed(v uint32) Option {
	return func(g *Generator) { g.next = v }
}

// New creates a Generator. Its counter is seeded from a random UUID by
// default so that multiple Generators in the same process (or across
// process restarts) do not start from the same value and collide on a
// shared wire namespace.
func New(opts ...Option) *Generator {
	g := &Generator{
		next:        randomSeed(),
		maxAttempts: 1000,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func randomSeed() uint32 {
	id := uuid.New()
	return binary.LittleEndian.Uint32(id[:4])
}

// Next returns the next token not reported as colliding by collides. A
// nil collides accepts every candidate. Next fails ErrExhausted if every
// candidate within the configured attempt bound collides.
func (g *Generator) Next(collides CollisionFunc) (uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := 0; i < g.maxAttempts; i++ {
		candidate := g.next
		g.next++

		if collides == nil || !collides(candidate) {
			return candidate, nil
		}
	}

	return 0, ErrExhausted
}
