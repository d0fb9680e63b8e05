package peer

import "sync"

// pendingTable tracks solicitation tokens awaiting an inbound
// PierceFirewall handshake, keyed by token. A token present in the table
// is unique across the process for the lifetime of its entry.
type pendingTable struct {
	mu      sync.Mutex
	tokens  map[uint32]string
}

func newPendingTable() *pendingTable {
	return &pendingTable{tokens: make(map[uint32]string)}
}

// Add registers token as awaiting a callback from username.
func (p *pendingTable) Add(token uint32, username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[token] = username
}

// Remove clears token's entry, if any.
func (p *pendingTable) Remove(token uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tokens, token)
}

// Has reports whether token is currently pending, satisfying
// token.CollisionFunc.
func (p *pendingTable) Has(token uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tokens[token]
	return ok
}

// Lookup returns the username awaiting token, if any.
func (p *pendingTable) Lookup(token uint32) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.tokens[token]
	return u, ok
}
