package distributed

import (
	"context"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jpdillingham/soulseek-go/internal/conn"
	connevent "github.com/jpdillingham/soulseek-go/internal/conn/event"
	"github.com/jpdillingham/soulseek-go/internal/frame"
	"github.com/jpdillingham/soulseek-go/internal/msgconn"
	msgevent "github.com/jpdillingham/soulseek-go/internal/msgconn/event"
	"github.com/jpdillingham/soulseek-go/internal/protocol"
	"github.com/jpdillingham/soulseek-go/internal/waiter"
)

type electResult struct {
	candidate Candidate
	conn      *msgconn.MessageConnection
}

// ElectParent attempts to connect to every candidate concurrently (each
// via its own direct/indirect race) and adopts the first one to deliver
// both BranchLevel and BranchRoot and at least one search request. Every
// other candidate connection, qualified or not, is closed.
func (m *Manager) ElectParent(ctx context.Context, candidates []Candidate) error {
	if len(candidates) == 0 {
		return ErrNoCandidates
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		winMu   sync.Mutex
		winner  *electResult
		lastErr error
	)

	win := func(r electResult) bool {
		winMu.Lock()
		defer winMu.Unlock()
		if winner != nil {
			return false
		}
		winner = &r
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

	for _, cand := range candidates {
		cand := cand
		g.Go(func() error {
			mc, err := m.establishCandidate(raceCtx, cand)
			if err != nil {
				fail(err)
				return nil
			}
			if !win(electResult{candidate: cand, conn: mc}) {
				_ = mc.Underlying().Disconnect("lost parent election")
			}
			return nil
		})
	}

	_ = g.Wait()

	winMu.Lock()
	defer winMu.Unlock()

	if winner == nil {
		if lastErr == nil {
			lastErr = ctx.Err()
		}
		return &ElectionFailedError{Cause: lastErr}
	}

	m.adoptParent(*winner)
	return nil
}

// establishCandidate races a direct dial against an indirect
// server-solicited dial for cand, then blocks until the resulting
// connection qualifies (BranchLevel + BranchRoot + >=1 search request)
// or ctx is cancelled by a winning sibling candidate.
func (m *Manager) establishCandidate(ctx context.Context, cand Candidate) (*msgconn.MessageConnection, error) {
	mc, err := m.raceCandidate(ctx, cand)
	if err != nil {
		return nil, err
	}

	if err := awaitQualification(ctx, mc); err != nil {
		_ = mc.Underlying().Disconnect("did not qualify")
		return nil, err
	}

	return mc, nil
}

func (m *Manager) raceCandidate(ctx context.Context, cand Candidate) (*msgconn.MessageConnection, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		winMu   sync.Mutex
		winner  *msgconn.MessageConnection
		lastErr error
	)

	win := func(mc *msgconn.MessageConnection) bool {
		winMu.Lock()
		defer winMu.Unlock()
		if winner != nil {
			return false
		}
		winner = mc
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
		mc, err := m.dialDirectCandidate(raceCtx, cand)
		if err != nil {
			fail(err)
			return nil
		}
		if !win(mc) {
			_ = mc.Underlying().Disconnect("lost connection race")
		}
		return nil
	})

	g.Go(func() error {
		mc, err := m.dialIndirectCandidate(raceCtx, cand)
		if err != nil {
			fail(err)
			return nil
		}
		if !win(mc) {
			_ = mc.Underlying().Disconnect("lost connection race")
		}
		return nil
	})

	_ = g.Wait()

	winMu.Lock()
	defer winMu.Unlock()

	if winner != nil {
		return winner, nil
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return nil, lastErr
}

// handshakeFramer encodes/decodes the single PeerInit/PierceFirewall
// frame exchanged at the start of every peer-initiated socket,
// regardless of the connection type it negotiates. The listener (§4.7)
// has to be able to decode this first frame before it knows whether the
// connection is a peer, transfer, or distributed one, so its code width
// is fixed at PeerCodeWidth; only once the type is known does a
// distributed connection switch to ServerCodeWidth for everything after.
var handshakeFramer = frame.New(frame.PeerCodeWidth)

func (m *Manager) dialDirectCandidate(ctx context.Context, cand Candidate) (*msgconn.MessageConnection, error) {
	localToken, err := m.tokens.Next(nil)
	if err != nil {
		return nil, err
	}

	c, err := conn.New(addressOf(cand.IP, cand.Port), conn.ConnectTimeout(m.connectTimeout), conn.ReadTimeout(m.readTimeout))
	if err != nil {
		return nil, err
	}

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	initFrame := handshakeFramer.Encode(uint32(protocol.PeerInit), protocol.EncodePeerInit(protocol.PeerInitPayload{
		Username: m.localUsername,
		Type:     protocol.ConnectionTypeDistributed,
		Token:    localToken,
	}))
	if err := c.Write(ctx, initFrame, nil); err != nil {
		_ = c.Disconnect("init send failed")
		return nil, err
	}

	mc := msgconn.New(c, frame.ServerCodeWidth, msgconn.Manual())
	mc.Start(ctx)

	return mc, nil
}

func (m *Manager) dialIndirectCandidate(ctx context.Context, cand Candidate) (*msgconn.MessageConnection, error) {
	solicitationToken, err := m.tokens.Next(m.pending.Has)
	if err != nil {
		return nil, err
	}

	m.pending.Add(solicitationToken, cand.Username)
	defer m.pending.Remove(solicitationToken)

	if err := m.server.Send(ctx, protocol.ServerConnectToPeer, protocol.EncodeConnectToPeer(solicitationToken, cand.Username, protocol.ConnectionTypeDistributed)); err != nil {
		return nil, err
	}

	nc, err := waiter.WaitIndefinitely[net.Conn](ctx, m.waiter, waiter.NewKey("SolicitedDistributedConnection", solicitationToken))
	if err != nil {
		return nil, err
	}

	c, err := conn.Adopt(nc, conn.ReadTimeout(m.readTimeout))
	if err != nil {
		return nil, err
	}

	mc := msgconn.New(c, frame.ServerCodeWidth, msgconn.Manual())

	return mc, nil
}

// awaitQualification blocks until mc has delivered BranchLevel,
// BranchRoot, and at least one search request, or ctx is done first.
// If mc's read loop is not already running, it is started only after the
// listener is attached, so no frame is read before it can be counted.
func awaitQualification(ctx context.Context, mc *msgconn.MessageConnection) error {
	var (
		mu                             sync.Mutex
		sawBranchLevel, sawBranchRoot  bool
		sawSearchRequest               bool
		once                           sync.Once
	)
	qualified := make(chan struct{})

	cancelListener := mc.AddMessageReadListener(msgevent.MessageReadListenerFunc(func(e msgevent.MessageRead) {
		mu.Lock()
		switch uint8(e.Code) {
		case protocol.DistributedBranchLevel:
			sawBranchLevel = true
		case protocol.DistributedBranchRoot:
			sawBranchRoot = true
		case protocol.DistributedSearchRequest:
			sawSearchRequest = true
		}
		done := sawBranchLevel && sawBranchRoot && sawSearchRequest
		mu.Unlock()

		if done {
			once.Do(func() { close(qualified) })
		}
	}))
	defer cancelListener()

	mc.Start(context.Background())

	select {
	case <-qualified:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) adoptParent(r electResult) {
	m.mu.Lock()
	m.parent = r.conn
	m.parentUsername = r.candidate.Username
	m.parentIP = r.candidate.IP
	m.haveNoParents = false
	m.mu.Unlock()

	var once sync.Once
	r.conn.AddDisconnectedListener(connevent.DisconnectedListenerFunc(func(connevent.Disconnected) {
		once.Do(func() {
			m.mu.Lock()
			if m.parent == r.conn {
				m.parent = nil
				m.parentUsername = ""
				m.haveNoParents = true
			}
			m.mu.Unlock()
		})
	}))
}
