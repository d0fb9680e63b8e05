// Package distributed implements the DistributedConnectionManager: parent
// election from a candidate pool, child acceptance under a capacity cap,
// periodic status broadcast, and a parent watchdog that re-elects with
// backoff while there is no parent.
package distributed

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/xmidt-org/retry"

	"github.com/jpdillingham/soulseek-go/internal/diag"
	"github.com/jpdillingham/soulseek-go/internal/msgconn"
	"github.com/jpdillingham/soulseek-go/internal/protocol"
	"github.com/jpdillingham/soulseek-go/internal/token"
	"github.com/jpdillingham/soulseek-go/internal/waiter"
)

// Candidate is one entry in a parent-election candidate pool.
type Candidate struct {
	Username string
	IP       [4]byte
	Port     uint16
}

// AddressResolver looks up the IP and port a username is currently
// listening on.
type AddressResolver func(ctx context.Context, username string) (ip [4]byte, port uint16, err error)

// ServerSender sends a framed message on the server connection.
type ServerSender interface {
	Send(ctx context.Context, code uint32, payload []byte) error
}

// Manager is the DistributedConnectionManager.
type Manager struct {
	localUsername     string
	connectTimeout     time.Duration
	readTimeout        time.Duration
	statusInterval     time.Duration
	inactivityTimeout  time.Duration
	childCap           int
	resolver           AddressResolver
	server             ServerSender
	logger             diag.Sink
	nowFunc            func() time.Time
	retryFactory       retry.PolicyFactory
	candidateSource    func(ctx context.Context) []Candidate

	waiter  *waiter.Waiter
	tokens  *token.Generator
	pending *pendingTable

	mu             sync.Mutex
	parent         *msgconn.MessageConnection
	parentUsername string
	haveNoParents  bool
	parentIP       [4]byte
	branchLevel    uint32
	branchRoot     string
	childDepth     uint32
	acceptChildren bool
	children       map[string]*msgconn.MessageConnection
	lastSent       *protocol.StatusPayload

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a Manager. server and resolver are required collaborators.
func New(localUsername string, server ServerSender, resolver AddressResolver, opts ...Option) (*Manager, error) {
	m := &Manager{
		localUsername:     localUsername,
		connectTimeout:    10 * time.Second,
		readTimeout:       30 * time.Second,
		statusInterval:    5 * time.Second,
		inactivityTimeout: 60 * time.Second,
		childCap:          50,
		resolver:          resolver,
		server:            server,
		logger:            diag.NewNop(),
		nowFunc:           time.Now,
		retryFactory: retry.Config{
			Interval:    500 * time.Millisecond,
			Multiplier:  2.0,
			Jitter:      1.0 / 3.0,
			MaxInterval: 30 * time.Second,
		},
		waiter:        waiter.New(),
		tokens:        token.New(),
		pending:       newPendingTable(),
		haveNoParents: true,
		children:      make(map[string]*msgconn.MessageConnection),
		stopCh:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt.apply(m)
	}

	if m.server == nil {
		return nil, errNilServer
	}
	if m.resolver == nil {
		return nil, errNilResolver
	}

	return m, nil
}

// Close stops the manager's background status/watchdog loops. It does
// not disconnect the parent or any child connections.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Manager) statusPayload() protocol.StatusPayload {
	m.mu.Lock()
	defer m.mu.Unlock()

	return protocol.StatusPayload{
		HaveNoParents:  m.haveNoParents,
		ParentsIP:      m.parentIP,
		BranchLevel:    m.branchLevel,
		BranchRoot:     m.branchRoot,
		ChildDepth:     m.childDepth,
		AcceptChildren: m.acceptChildren,
	}
}

// Parent reports the current parent connection, or nil if there is none.
func (m *Manager) Parent() *msgconn.MessageConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.parent
}

// ChildCount reports the number of currently accepted children.
func (m *Manager) ChildCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.children)
}

// CompleteSolicitedDistributedConnection is called by the inbound
// listener when an accepted socket's PierceFirewall token matches a
// pending distributed solicitation.
func (m *Manager) CompleteSolicitedDistributedConnection(token uint32, nc net.Conn) {
	m.waiter.Complete(waiter.NewKey("SolicitedDistributedConnection", token), nc)
}

// HasPendingSolicitation reports whether token is currently awaiting an
// inbound PierceFirewall on behalf of this manager.
func (m *Manager) HasPendingSolicitation(token uint32) bool {
	return m.pending.Has(token)
}
