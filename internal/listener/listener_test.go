package listener

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpdillingham/soulseek-go/internal/frame"
	"github.com/jpdillingham/soulseek-go/internal/protocol"
)

var handshakeTestFramer = frame.New(frame.PeerCodeWidth)

type fakePeerAcceptor struct {
	mu sync.Mutex

	acceptedMessage  chan string
	acceptedTransfer chan string
	completedToken   chan uint32
	pending          map[uint32]bool
}

func newFakePeerAcceptor() *fakePeerAcceptor {
	return &fakePeerAcceptor{
		acceptedMessage:  make(chan string, 1),
		acceptedTransfer: make(chan string, 1),
		completedToken:   make(chan uint32, 1),
		pending:          map[uint32]bool{},
	}
}

func (f *fakePeerAcceptor) AcceptMessage(username string, nc net.Conn) error {
	f.acceptedMessage <- username
	return nil
}

func (f *fakePeerAcceptor) AcceptTransfer(username string, nc net.Conn) error {
	f.acceptedTransfer <- username
	return nil
}

func (f *fakePeerAcceptor) CompleteSolicitedPeerConnection(token uint32, nc net.Conn) {
	f.completedToken <- token
}

func (f *fakePeerAcceptor) HasPendingSolicitation(token uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[token]
}

type fakeDistributedAcceptor struct {
	mu sync.Mutex

	acceptedChild  chan string
	completedToken chan uint32
	pending        map[uint32]bool
}

func newFakeDistributedAcceptor() *fakeDistributedAcceptor {
	return &fakeDistributedAcceptor{
		acceptedChild:  make(chan string, 1),
		completedToken: make(chan uint32, 1),
		pending:        map[uint32]bool{},
	}
}

func (f *fakeDistributedAcceptor) AcceptChild(username string, nc net.Conn) error {
	f.acceptedChild <- username
	return nil
}

func (f *fakeDistributedAcceptor) CompleteSolicitedDistributedConnection(token uint32, nc net.Conn) {
	f.completedToken <- token
}

func (f *fakeDistributedAcceptor) HasPendingSolicitation(token uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[token]
}

func startRouter(t *testing.T, peers *fakePeerAcceptor, dist *fakeDistributedAcceptor) (net.Addr, context.CancelFunc) {
	t.Helper()

	r, err := New(peers, dist)
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = r.Serve(ctx, l) }()

	t.Cleanup(func() { _ = l.Close() })

	return l.Addr(), cancel
}

func TestRouter_PeerInitRoutesByType(t *testing.T) {
	peers := newFakePeerAcceptor()
	dist := newFakeDistributedAcceptor()
	addr, cancel := startRouter(t, peers, dist)
	defer cancel()

	conn1, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn1.Close()

	_, err = conn1.Write(handshakeTestFramer.Encode(uint32(protocol.PeerInit), protocol.EncodePeerInit(protocol.PeerInitPayload{
		Username: "alice",
		Type:     protocol.ConnectionTypePeer,
		Token:    1,
	})))
	require.NoError(t, err)

	select {
	case username := <-peers.acceptedMessage:
		assert.Equal(t, "alice", username)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for AcceptMessage")
	}
}

func TestRouter_PeerInitDistributedType(t *testing.T) {
	peers := newFakePeerAcceptor()
	dist := newFakeDistributedAcceptor()
	addr, cancel := startRouter(t, peers, dist)
	defer cancel()

	conn1, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn1.Close()

	_, err = conn1.Write(handshakeTestFramer.Encode(uint32(protocol.PeerInit), protocol.EncodePeerInit(protocol.PeerInitPayload{
		Username: "bob",
		Type:     protocol.ConnectionTypeDistributed,
		Token:    2,
	})))
	require.NoError(t, err)

	select {
	case username := <-dist.acceptedChild:
		assert.Equal(t, "bob", username)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for AcceptChild")
	}
}

func TestRouter_PierceFirewallRoutesToOwningManager(t *testing.T) {
	peers := newFakePeerAcceptor()
	dist := newFakeDistributedAcceptor()
	dist.mu.Lock()
	dist.pending[42] = true
	dist.mu.Unlock()

	addr, cancel := startRouter(t, peers, dist)
	defer cancel()

	conn1, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn1.Close()

	_, err = conn1.Write(handshakeTestFramer.Encode(uint32(protocol.PeerPierceFirewall), protocol.EncodePierceFirewall(42)))
	require.NoError(t, err)

	select {
	case token := <-dist.completedToken:
		assert.Equal(t, uint32(42), token)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for CompleteSolicitedDistributedConnection")
	}
}

func TestRouter_UnknownTokenClosesConnection(t *testing.T) {
	peers := newFakePeerAcceptor()
	dist := newFakeDistributedAcceptor()
	addr, cancel := startRouter(t, peers, dist)
	defer cancel()

	conn1, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn1.Close()

	_, err = conn1.Write(handshakeTestFramer.Encode(uint32(protocol.PeerPierceFirewall), protocol.EncodePierceFirewall(999)))
	require.NoError(t, err)

	buf := make([]byte, 1)
	_ = conn1.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn1.Read(buf)
	assert.Error(t, err)
}
