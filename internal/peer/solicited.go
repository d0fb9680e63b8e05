package peer

import (
	"context"

	"github.com/jpdillingham/soulseek-go/internal/conn"
	"github.com/jpdillingham/soulseek-go/internal/frame"
	"github.com/jpdillingham/soulseek-go/internal/msgconn"
	"github.com/jpdillingham/soulseek-go/internal/protocol"
)

// AcceptSolicited handles the server telling us a peer wants us to call
// it back: the server relayed a ConnectToPeer naming username's address
// and a pierceToken. If a connection already exists for username it is
// returned unchanged; otherwise a new one is dialed and a PierceFirewall
// frame is sent to complete the handshake.
func (m *Manager) AcceptSolicited(ctx context.Context, username string, ip [4]byte, port uint16, pierceToken uint32) (Acquired, error) {
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

	c, err := conn.New(addressOf(ip, port), conn.ConnectTimeout(m.connectTimeout), conn.ReadTimeout(m.readTimeout))
	if err != nil {
		m.releaseSemaphore()
		m.removeRecordIfEmpty(username, rec, true)
		return Acquired{}, err
	}

	mc := msgconn.New(c, frame.PeerCodeWidth)

	if err := c.Connect(ctx); err != nil {
		m.releaseSemaphore()
		m.removeRecordIfEmpty(username, rec, true)
		return Acquired{}, err
	}

	if err := mc.Send(ctx, uint32(protocol.PeerPierceFirewall), protocol.EncodePierceFirewall(pierceToken)); err != nil {
		_ = c.Disconnect("pierce firewall send failed")
		m.releaseSemaphore()
		m.removeRecordIfEmpty(username, rec, true)
		return Acquired{}, err
	}

	rec.conn = mc
	rec.method = MethodIndirect
	m.watchForDisconnect(username, rec, mc)

	return Acquired{Conn: mc, Method: MethodIndirect}, nil
}
