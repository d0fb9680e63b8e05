package peer

import (
	"context"
	"net"

	"github.com/jpdillingham/soulseek-go/internal/conn"
	"github.com/jpdillingham/soulseek-go/internal/frame"
	"github.com/jpdillingham/soulseek-go/internal/msgconn"
	"github.com/jpdillingham/soulseek-go/internal/waiter"
)

// AcceptMessage handles an inbound socket the listener identified as a
// peer message connection (PeerInit with type "P") from username. The
// socket is already connected; rejecting it when the global bound is
// exhausted is preferable to blocking the listener's accept loop.
func (m *Manager) AcceptMessage(username string, nc net.Conn) error {
	if !m.sem.TryAcquire(1) {
		return nc.Close()
	}

	c, err := conn.Adopt(nc, conn.ReadTimeout(m.readTimeout))
	if err != nil {
		m.releaseSemaphore()
		return err
	}

	mc := msgconn.New(c, frame.PeerCodeWidth, msgconn.Manual())

	rec := m.getOrCreateRecord(username)
	rec.mu.Lock()
	if rec.conn != nil {
		rec.mu.Unlock()
		m.releaseSemaphore()
		return c.Disconnect("duplicate connection")
	}
	rec.conn = mc
	rec.method = MethodDirect
	rec.mu.Unlock()

	m.watchForDisconnect(username, rec, mc)
	mc.Start(context.Background())

	return nil
}

// AcceptTransfer handles an inbound socket the listener identified as a
// transfer connection (PeerInit with type "F") from username. It reads
// the 4-byte remote token the peer announces itself with, then satisfies
// the AwaitTransferConnection wait keyed by (username, remoteToken).
// Transfer connections are never stored in the manager's records map.
func (m *Manager) AcceptTransfer(username string, nc net.Conn) error {
	c, err := conn.Adopt(nc, conn.ReadTimeout(m.readTimeout))
	if err != nil {
		return err
	}

	buf, err := c.Read(context.Background(), 4, nil)
	if err != nil {
		_ = c.Disconnect("remote token read failed")
		return err
	}

	remoteToken := decodeToken(buf)
	m.waiter.Complete(waiter.NewKey("DirectTransfer", username, remoteToken), c)

	return nil
}
