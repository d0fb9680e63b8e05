package distributed

import "sync"

// pendingTable tracks solicitation tokens awaiting an inbound
// PierceFirewall handshake on behalf of a distributed candidate dial,
// mirroring internal/peer's table for the peer-connection case.
type pendingTable struct {
	mu     sync.Mutex
	tokens map[uint32]string
}

func newPendingTable() *pendingTable {
	return &pendingTable{tokens: make(map[uint32]string)}
}

func (p *pendingTable) Add(token uint32, username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[token] = username
}

func (p *pendingTable) Remove(token uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tokens, token)
}

func (p *pendingTable) Has(token uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tokens[token]
	return ok
}
