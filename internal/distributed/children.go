package distributed

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/jpdillingham/soulseek-go/internal/conn"
	connevent "github.com/jpdillingham/soulseek-go/internal/conn/event"
	"github.com/jpdillingham/soulseek-go/internal/frame"
	"github.com/jpdillingham/soulseek-go/internal/msgconn"
	"github.com/jpdillingham/soulseek-go/internal/protocol"
)

// AcceptChild handles an inbound distributed connection from the
// listener. If the child capacity cap is already reached, the socket is
// closed and diagnosed; otherwise it is adopted and immediately told the
// current branch level and root.
func (m *Manager) AcceptChild(username string, nc net.Conn) error {
	m.mu.Lock()
	full := len(m.children) >= m.childCap
	m.mu.Unlock()

	if full {
		m.logger.Warning("rejecting child connection: capacity exhausted", zap.String("username", username))
		_ = nc.Close()
		return ErrChildCapacityExhausted
	}

	c, err := conn.Adopt(nc, conn.ReadTimeout(m.readTimeout))
	if err != nil {
		return err
	}

	mc := msgconn.New(c, frame.ServerCodeWidth, msgconn.Manual())

	m.mu.Lock()
	if len(m.children) >= m.childCap {
		m.mu.Unlock()
		_ = c.Disconnect("capacity exhausted")
		return ErrChildCapacityExhausted
	}
	m.children[username] = mc
	level, root := m.branchLevel, m.branchRoot
	m.mu.Unlock()

	m.watchChildDisconnect(username, mc)
	mc.Start(context.Background())

	ctx := context.Background()
	_ = mc.Send(ctx, uint32(protocol.DistributedBranchLevel), protocol.NewWriter().Uint32(level).Bytes())
	_ = mc.Send(ctx, uint32(protocol.DistributedBranchRoot), protocol.NewWriter().String(root).Bytes())

	return nil
}

func (m *Manager) watchChildDisconnect(username string, mc *msgconn.MessageConnection) {
	var once sync.Once
	mc.AddDisconnectedListener(connevent.DisconnectedListenerFunc(func(connevent.Disconnected) {
		once.Do(func() {
			m.mu.Lock()
			if m.children[username] == mc {
				delete(m.children, username)
			}
			m.mu.Unlock()
		})
	}))
}

// broadcastToChildren sends the current BranchLevel and BranchRoot to
// every accepted child.
func (m *Manager) broadcastToChildren(ctx context.Context, level uint32, root string) {
	m.mu.Lock()
	children := make([]*msgconn.MessageConnection, 0, len(m.children))
	for _, c := range m.children {
		children = append(children, c)
	}
	m.mu.Unlock()

	levelPayload := protocol.NewWriter().Uint32(level).Bytes()
	rootPayload := protocol.NewWriter().String(root).Bytes()

	for _, c := range children {
		_ = c.Send(ctx, uint32(protocol.DistributedBranchLevel), levelPayload)
		_ = c.Send(ctx, uint32(protocol.DistributedBranchRoot), rootPayload)
	}
}
