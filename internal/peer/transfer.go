package peer

import (
	"context"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jpdillingham/soulseek-go/internal/conn"
	"github.com/jpdillingham/soulseek-go/internal/frame"
	"github.com/jpdillingham/soulseek-go/internal/protocol"
	"github.com/jpdillingham/soulseek-go/internal/waiter"
)

var transferFramer = frame.New(frame.PeerCodeWidth)

// AwaitTransferConnection blocks until a transfer socket tagged with
// remoteToken has been accepted for username, as delivered by
// AcceptTransfer. The transfer engine races this against
// GetTransferConnection to cover both "the peer calls us" and "we call
// the peer" outcomes for the same transfer.
func (m *Manager) AwaitTransferConnection(ctx context.Context, username string, remoteToken uint32) (*conn.Connection, error) {
	return waiter.WaitIndefinitely[*conn.Connection](ctx, m.waiter, waiter.NewKey("DirectTransfer", username, remoteToken))
}

// GetTransferConnection actively establishes a transfer-type socket for
// username via the same direct/indirect race used for message
// connections, operating on a raw connection rather than a framed one
// (transfer sockets carry a token handshake followed by a raw byte
// stream, not Soulseek message frames). Once connected it reads the
// peer's 4-byte remote token and writes localToken, per spec §4.5.
// Transfer connections are never reused or stored in the records map.
func (m *Manager) GetTransferConnection(ctx context.Context, username string, localToken uint32) (*TransferConn, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		winMu   sync.Mutex
		winner  *TransferConn
		lastErr error
	)

	win := func(tc *TransferConn) bool {
		winMu.Lock()
		defer winMu.Unlock()
		if winner != nil {
			return false
		}
		winner = tc
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
		tc, err := m.dialDirectTransfer(raceCtx, username, localToken)
		if err != nil {
			fail(err)
			return nil
		}
		if !win(tc) {
			_ = tc.Conn.Disconnect("lost connection race")
		}
		return nil
	})

	g.Go(func() error {
		tc, err := m.dialIndirectTransfer(raceCtx, username, localToken)
		if err != nil {
			fail(err)
			return nil
		}
		if !win(tc) {
			_ = tc.Conn.Disconnect("lost connection race")
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
	return nil, &ConnectFailedError{Cause: lastErr}
}

func (m *Manager) dialDirectTransfer(ctx context.Context, username string, localToken uint32) (*TransferConn, error) {
	ip, port, err := m.resolver(ctx, username)
	if err != nil {
		return nil, err
	}

	c, err := conn.New(addressOf(ip, port), conn.ConnectTimeout(m.connectTimeout), conn.ReadTimeout(m.readTimeout))
	if err != nil {
		return nil, err
	}

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	initToken, err := m.tokens.Next(nil)
	if err != nil {
		_ = c.Disconnect("token allocation failed")
		return nil, err
	}

	payload, err := encodePeerInitThenExchange(ctx, c, m.localUsername, initToken, localToken)
	if err != nil {
		return nil, err
	}

	return &TransferConn{Conn: c, RemoteToken: payload, Method: MethodDirect}, nil
}

func (m *Manager) dialIndirectTransfer(ctx context.Context, username string, localToken uint32) (*TransferConn, error) {
	solicitationToken, err := m.tokens.Next(m.pending.Has)
	if err != nil {
		return nil, err
	}

	m.pending.Add(solicitationToken, username)
	defer m.pending.Remove(solicitationToken)

	if err := m.server.Send(ctx, protocol.ServerConnectToPeer, protocol.EncodeConnectToPeer(solicitationToken, username, protocol.ConnectionTypeTransfer)); err != nil {
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

	remoteToken, err := exchangeTokens(ctx, c, localToken)
	if err != nil {
		return nil, err
	}

	return &TransferConn{Conn: c, RemoteToken: remoteToken, Method: MethodIndirect}, nil
}

// encodePeerInitThenExchange sends the PeerInit handshake raw (transfer
// sockets are not message-framed) before doing the token exchange.
func encodePeerInitThenExchange(ctx context.Context, c *conn.Connection, username string, initToken, localToken uint32) (uint32, error) {
	payload := protocol.EncodePeerInit(protocol.PeerInitPayload{
		Username: username,
		Type:     protocol.ConnectionTypeTransfer,
		Token:    initToken,
	})

	if err := c.Write(ctx, transferFramer.Encode(uint32(protocol.PeerInit), payload), nil); err != nil {
		_ = c.Disconnect("init send failed")
		return 0, err
	}

	return exchangeTokens(ctx, c, localToken)
}

func exchangeTokens(ctx context.Context, c *conn.Connection, localToken uint32) (uint32, error) {
	buf, err := c.Read(ctx, 4, nil)
	if err != nil {
		_ = c.Disconnect("remote token read failed")
		return 0, err
	}
	remoteToken := decodeToken(buf)

	if err := c.Write(ctx, encodeToken(localToken), nil); err != nil {
		_ = c.Disconnect("local token write failed")
		return 0, err
	}

	return remoteToken, nil
}
