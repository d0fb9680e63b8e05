// Package peer implements the PeerConnectionManager: per-user serialized
// acquisition of peer message and transfer connections, a global
// concurrency bound on distinct connections, and the direct/indirect
// acquisition race described in spec §4.5.
package peer

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jpdillingham/soulseek-go/internal/conn"
	connevent "github.com/jpdillingham/soulseek-go/internal/conn/event"
	"github.com/jpdillingham/soulseek-go/internal/diag"
	"github.com/jpdillingham/soulseek-go/internal/frame"
	"github.com/jpdillingham/soulseek-go/internal/msgconn"
	"github.com/jpdillingham/soulseek-go/internal/protocol"
	"github.com/jpdillingham/soulseek-go/internal/token"
	"github.com/jpdillingham/soulseek-go/internal/waiter"
)

// Method records which acquisition sub-task produced a connection.
type Method int

const (
	// MethodDirect means we dialed the peer (or the peer dialed us
	// directly, for accept-side connections).
	MethodDirect Method = iota
	// MethodIndirect means the connection arrived via a server-relayed
	// ConnectToPeer + PierceFirewall handshake.
	MethodIndirect
)

func (m Method) String() string {
	if m == MethodIndirect {
		return "Indirect"
	}
	return "Direct"
}

// Acquired is a peer message connection together with the method that
// established it.
type Acquired struct {
	Conn   *msgconn.MessageConnection
	Method Method
}

// TransferConn is a transfer-type connection that has completed the
// 4-byte local/remote token exchange.
type TransferConn struct {
	Conn        *conn.Connection
	RemoteToken uint32
	Method      Method
}

// AddressResolver looks up the IP and port a username is currently
// listening on, typically by asking the server connection.
type AddressResolver func(ctx context.Context, username string) (ip [4]byte, port uint16, err error)

// ServerSender sends a framed message on the server connection, used to
// request indirect connections via ConnectToPeer.
type ServerSender interface {
	Send(ctx context.Context, code uint32, payload []byte) error
}

type record struct {
	mu     sync.Mutex
	conn   *msgconn.MessageConnection
	method Method
}

// Manager is the PeerConnectionManager.
type Manager struct {
	localUsername  string
	connectTimeout time.Duration
	readTimeout    time.Duration
	resolver       AddressResolver
	server         ServerSender
	logger         diag.Sink
	nowFunc        func() time.Time

	sem     *semaphore.Weighted
	waiter  *waiter.Waiter
	tokens  *token.Generator
	pending *pendingTable

	mu      sync.Mutex
	records map[string]*record
}

// New creates a Manager. server and resolver are required collaborators;
// New returns an error if either is nil.
func New(localUsername string, server ServerSender, resolver AddressResolver, opts ...Option) (*Manager, error) {
	m := &Manager{
		localUsername:  localUsername,
		connectTimeout: 10 * time.Second,
		readTimeout:    30 * time.Second,
		resolver:       resolver,
		server:         server,
		logger:         diag.NewNop(),
		nowFunc:        time.Now,
		sem:            semaphore.NewWeighted(500),
		waiter:         waiter.New(),
		tokens:         token.New(),
		pending:        newPendingTable(),
		records:        make(map[string]*record),
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

func (m *Manager) getOrCreateRecord(username string) *record {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[username]
	if !ok {
		rec = &record{}
		m.records[username] = rec
	}
	return rec
}

// removeRecordIfEmpty deletes username's record iff it is still the same
// record instance the caller observed and rec holds no connection. The
// caller must already know rec's emptiness (typically because it holds
// rec.mu itself) and pass it in rather than have this method re-acquire
// rec.mu, which callers holding that lock across their error paths
// cannot allow.
func (m *Manager) removeRecordIfEmpty(username string, rec *record, empty bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if empty && m.records[username] == rec {
		delete(m.records, username)
	}
}

func (m *Manager) acquireSemaphore(ctx context.Context) error {
	return m.sem.Acquire(ctx, 1)
}

func (m *Manager) releaseSemaphore() {
	m.sem.Release(1)
}

// watchForDisconnect clears rec's connection and releases the semaphore
// exactly once, the first time mc disconnects.
func (m *Manager) watchForDisconnect(username string, rec *record, mc *msgconn.MessageConnection) {
	var once sync.Once
	mc.AddDisconnectedListener(connevent.DisconnectedListenerFunc(func(connevent.Disconnected) {
		once.Do(func() {
			rec.mu.Lock()
			rec.conn = nil
			rec.mu.Unlock()

			m.removeRecordIfEmpty(username, rec, true)
			m.releaseSemaphore()
		})
	}))
}

// GetMessageConnection returns a live peer message connection for
// username, reusing an existing one when present.
func (m *Manager) GetMessageConnection(ctx context.Context, username string) (Acquired, error) {
	rec := m.getOrCreateRecord(username)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.conn != nil {
		return Acquired{Conn: rec.conn, Method: rec.method}, nil
	}

	if err := m.acquireSemaphore(ctx); err != nil {
		m.removeRecordIfEmpty(username, rec, true)
		return Acquired{}, err
	}

	acquired, err := m.race(ctx, username, protocol.ConnectionTypePeer)
	if err != nil {
		m.releaseSemaphore()
		m.removeRecordIfEmpty(username, rec, true)
		return Acquired{}, err
	}

	rec.conn = acquired.Conn
	rec.method = acquired.Method
	m.watchForDisconnect(username, rec, acquired.Conn)

	return acquired, nil
}

// race runs the direct and indirect acquisition sub-tasks concurrently.
// The first to succeed wins and the other is cancelled; individual
// sub-task failures do not cancel the other in-flight sub-task. Both
// sub-tasks are always started.
func (m *Manager) race(ctx context.Context, username string, typ protocol.ConnectionType) (Acquired, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		winMu   sync.Mutex
		winner  *Acquired
		lastErr error
	)

	win := func(a Acquired) bool {
		winMu.Lock()
		defer winMu.Unlock()
		if winner != nil {
			return false
		}
		winner = &a
		cancel()
		return true
	}

	fail := func(err error) {
		winMu.Lock()
		defer winMu.Unlock()
		if winner == nil {
			lastErr = err
		}
	}

	var g errgroup.Group

	g.Go(func() error {
		mc, err := m.dialDirect(raceCtx, username, typ)
		if err != nil {
			fail(err)
			return nil
		}
		if !win(Acquired{Conn: mc, Method: MethodDirect}) {
			_ = mc.Underlying().Disconnect("lost connection race")
		}
		return nil
	})

	g.Go(func() error {
		mc, err := m.dialIndirect(raceCtx, username, typ)
		if err != nil {
			fail(err)
			return nil
		}
		if !win(Acquired{Conn: mc, Method: MethodIndirect}) {
			_ = mc.Underlying().Disconnect("lost connection race")
		}
		return nil
	})

	_ = g.Wait()

	winMu.Lock()
	defer winMu.Unlock()

	if winner != nil {
		return *winner, nil
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return Acquired{}, &ConnectFailedError{Cause: lastErr}
}

func (m *Manager) dialDirect(ctx context.Context, username string, typ protocol.ConnectionType) (*msgconn.MessageConnection, error) {
	ip, port, err := m.resolver(ctx, username)
	if err != nil {
		return nil, err
	}

	localToken, err := m.tokens.Next(nil)
	if err != nil {
		return nil, err
	}

	c, err := conn.New(addressOf(ip, port), conn.ConnectTimeout(m.connectTimeout), conn.ReadTimeout(m.readTimeout))
	if err != nil {
		return nil, err
	}

	width := widthFor(typ)
	mc := msgconn.New(c, width)

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	if err := mc.Send(ctx, uint32(protocol.PeerInit), protocol.EncodePeerInit(protocol.PeerInitPayload{
		Username: m.localUsername,
		Type:     typ,
		Token:    localToken,
	})); err != nil {
		_ = c.Disconnect("init send failed")
		return nil, err
	}

	return mc, nil
}

func (m *Manager) dialIndirect(ctx context.Context, username string, typ protocol.ConnectionType) (*msgconn.MessageConnection, error) {
	solicitationToken, err := m.tokens.Next(m.pending.Has)
	if err != nil {
		return nil, err
	}

	m.pending.Add(solicitationToken, username)
	defer m.pending.Remove(solicitationToken)

	if err := m.server.Send(ctx, protocol.ServerConnectToPeer, protocol.EncodeConnectToPeer(solicitationToken, username, typ)); err != nil {
		return nil, err
	}

	nc, err := waiter.WaitIndefinitely[net.Conn](ctx, m.waiter, waiter.NewKey("SolicitedPeerConnection", solicitationToken))
	if err != nil {
		return nil, err
	}

	c, err := conn.Adopt(nc, conn.ReadTimeout(m.readTimeout))
	if err != nil {
		return nil, err
	}

	mc := msgconn.New(c, widthFor(typ), msgconn.Manual())
	mc.Start(context.Background())

	return mc, nil
}

// CompleteSolicitedPeerConnection is called by the inbound listener when
// an accepted socket's PierceFirewall token matches a pending
// solicitation, handing the raw connection to the blocked dialIndirect
// call above.
func (m *Manager) CompleteSolicitedPeerConnection(token uint32, nc net.Conn) {
	m.waiter.Complete(waiter.NewKey("SolicitedPeerConnection", token), nc)
}

// HasPendingSolicitation reports whether token is currently awaiting an
// inbound PierceFirewall on behalf of this manager, letting the listener
// (§4.7) decide whether an unmatched PierceFirewall token belongs here
// or to the distributed manager's own table.
func (m *Manager) HasPendingSolicitation(token uint32) bool {
	return m.pending.Has(token)
}

func widthFor(typ protocol.ConnectionType) frame.CodeWidth {
	if typ == protocol.ConnectionTypeDistributed {
		return frame.ServerCodeWidth
	}
	return frame.PeerCodeWidth
}

// Logger exposes the manager's diagnostic sink for collaborating
// components that are constructed alongside it.
func (m *Manager) Logger() diag.Sink { return m.logger }
