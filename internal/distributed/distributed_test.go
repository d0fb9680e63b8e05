package distributed

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpdillingham/soulseek-go/internal/frame"
	"github.com/jpdillingham/soulseek-go/internal/protocol"
)

type fakeServer struct {
	manager *Manager
	send    func(ctx context.Context, code uint32, payload []byte) error
	sent    []uint32
}

func (f *fakeServer) Send(ctx context.Context, code uint32, payload []byte) error {
	f.sent = append(f.sent, code)
	if f.send == nil {
		return nil
	}
	return f.send(ctx, code, payload)
}

var qualifyingFramer = frame.New(frame.ServerCodeWidth)

func writeQualifyingFrames(t *testing.T, w net.Conn) {
	t.Helper()
	frames := [][]byte{
		qualifyingFramer.Encode(uint32(protocol.DistributedBranchLevel), protocol.NewWriter().Uint32(3).Bytes()),
		qualifyingFramer.Encode(uint32(protocol.DistributedBranchRoot), protocol.NewWriter().String("root").Bytes()),
		qualifyingFramer.Encode(uint32(protocol.DistributedSearchRequest), protocol.NewWriter().String("query").Bytes()),
	}
	for _, f := range frames {
		_, err := w.Write(f)
		require.NoError(t, err)
	}
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return l
}

func drain(c net.Conn) {
	buf := make([]byte, 1024)
	for {
		if _, err := c.Read(buf); err != nil {
			return
		}
	}
}

func addrOf(t *testing.T, hostport string) ([4]byte, uint16, error) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(hostport)
	require.NoError(t, err)
	ip := net.ParseIP(host).To4()
	require.NotNil(t, ip)
	p, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return [4]byte{ip[0], ip[1], ip[2], ip[3]}, uint16(p), nil
}

func TestElectParent_DirectWin(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	l := listen(t)
	defer l.Close()

	go func() {
		nc, err := l.Accept()
		if err != nil {
			return
		}
		writeQualifyingFrames(t, nc)
	}()

	ip, port, err := addrOf(t, l.Addr().String())
	require.NoError(err)

	resolver := func(ctx context.Context, username string) ([4]byte, uint16, error) {
		return ip, port, nil
	}

	m, err := New("me", &fakeServer{}, resolver)
	require.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = m.ElectParent(ctx, []Candidate{{Username: "alice", IP: ip, Port: port}})
	require.NoError(err)

	assert.NotNil(m.Parent())
}

func TestElectParent_IndirectWin(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	dead := listen(t)
	deadAddr := dead.Addr().String()
	require.NoError(dead.Close())

	deadIP, deadPort, err := addrOf(t, deadAddr)
	require.NoError(err)

	resolver := func(ctx context.Context, username string) ([4]byte, uint16, error) {
		return deadIP, deadPort, nil
	}

	server := &fakeServer{}
	server.send = func(ctx context.Context, code uint32, payload []byte) error {
		if code != protocol.ServerConnectToPeer {
			return nil
		}
		r := protocol.NewReader(payload)
		token, err := r.Uint32()
		require.NoError(err)

		local, remote := net.Pipe()
		go func() {
			time.Sleep(50 * time.Millisecond)
			server.manager.CompleteSolicitedDistributedConnection(token, local)
			writeQualifyingFrames(t, remote)
		}()
		return nil
	}

	m, err := New("me", server, resolver, ConnectTimeout(200*time.Millisecond))
	require.NoError(err)
	server.manager = m

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = m.ElectParent(ctx, []Candidate{{Username: "alice", IP: deadIP, Port: deadPort}})
	require.NoError(err)
	assert.NotNil(m.Parent())
}

func TestElectParent_NoQualifyingCandidateFails(t *testing.T) {
	require := require.New(t)

	l := listen(t)
	defer l.Close()

	go func() {
		nc, err := l.Accept()
		if err != nil {
			return
		}
		// Never sends BranchLevel/BranchRoot/SearchRequest, so the
		// candidate never qualifies before the context expires.
		_ = nc
	}()

	ip, port, err := addrOf(t, l.Addr().String())
	require.NoError(err)

	resolver := func(ctx context.Context, username string) ([4]byte, uint16, error) {
		return ip, port, nil
	}

	m, err := New("me", &fakeServer{}, resolver)
	require.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err = m.ElectParent(ctx, []Candidate{{Username: "alice", IP: ip, Port: port}})
	require.Error(err)
}

func TestAcceptChild_CapacityExhausted(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	resolver := func(ctx context.Context, username string) ([4]byte, uint16, error) {
		return [4]byte{}, 0, nil
	}

	m, err := New("me", &fakeServer{}, resolver, ChildCapacity(1))
	require.NoError(err)

	first, firstRemote := net.Pipe()
	go drain(firstRemote)
	err = m.AcceptChild("alice", first)
	require.NoError(err)
	assert.Equal(1, m.ChildCount())

	second, secondRemote := net.Pipe()
	go drain(secondRemote)
	err = m.AcceptChild("bob", second)
	assert.ErrorIs(err, ErrChildCapacityExhausted)
	assert.Equal(1, m.ChildCount())
}

func TestStatusLoop_OnlyBroadcastsOnChange(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	resolver := func(ctx context.Context, username string) ([4]byte, uint16, error) {
		return [4]byte{}, 0, nil
	}

	server := &fakeServer{}
	m, err := New("me", server, resolver)
	require.NoError(err)

	ctx := context.Background()
	m.maybeBroadcastStatus(ctx)
	firstCount := len(server.sent)
	assert.Equal(6, firstCount, "first broadcast sends all six status fields")

	m.maybeBroadcastStatus(ctx)
	assert.Equal(firstCount, len(server.sent), "unchanged status must not be re-sent")

	m.mu.Lock()
	m.branchLevel = 4
	m.mu.Unlock()

	m.maybeBroadcastStatus(ctx)
	assert.Equal(firstCount*2, len(server.sent), "a changed field triggers a fresh broadcast of all six")
}
