package transfer

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpdillingham/soulseek-go/internal/conn"
	"github.com/jpdillingham/soulseek-go/internal/frame"
	"github.com/jpdillingham/soulseek-go/internal/msgconn"
	"github.com/jpdillingham/soulseek-go/internal/peer"
	"github.com/jpdillingham/soulseek-go/internal/protocol"
	"github.com/jpdillingham/soulseek-go/internal/token"
)

var peerFramer = frame.New(frame.PeerCodeWidth)

// fakePeerManager implements PeerManager entirely over net.Pipe, giving
// the test full control of both sides of the peer message connection
// and the transfer connection.
type fakePeerManager struct {
	mc          *msgconn.MessageConnection
	transferErr error
	xfer        *conn.Connection
}

func (f *fakePeerManager) GetMessageConnection(ctx context.Context, username string) (peer.Acquired, error) {
	return peer.Acquired{Conn: f.mc, Method: peer.MethodDirect}, nil
}

func (f *fakePeerManager) GetTransferConnection(ctx context.Context, username string, localToken uint32) (*peer.TransferConn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakePeerManager) AwaitTransferConnection(ctx context.Context, username string, remoteToken uint32) (*conn.Connection, error) {
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	return f.xfer, nil
}

func newPeerConnPair(t *testing.T) (*msgconn.MessageConnection, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	c, err := conn.Adopt(local)
	require.NoError(t, err)
	mc := msgconn.New(c, frame.PeerCodeWidth, msgconn.Manual())
	mc.Start(context.Background())
	return mc, remote
}

func TestDownload_HappyPath(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	mc, remote := newPeerConnPair(t)
	defer remote.Close()

	xferLocal, xferRemote := net.Pipe()
	xferConn, err := conn.Adopt(xferLocal)
	require.NoError(err)

	peers := &fakePeerManager{mc: mc, xfer: xferConn}

	e, err := NewEngine(peers, MessageTimeout(2*time.Second), Tokens(token.New(token.Seed(0))))
	require.NoError(err)

	var sink bytes.Buffer
	payload := bytes.Repeat([]byte{0xAB}, 1024)

	go func() {
		// Read the PeerTransferRequest.
		_, _, err := peerFramer.Decode(&pipeReader{remote})
		if err != nil {
			return
		}

		// Peer queues the download.
		_, werr := remote.Write(peerFramer.Encode(uint32(protocol.PeerTransferResponse), protocol.EncodePeerTransferResponse(protocol.PeerTransferResponsePayload{
			Token:   0,
			Allowed: false,
			Message: "Queued",
		})))
		if werr != nil {
			return
		}

		// Peer later calls back with remote token + size.
		callback := append(protocol.EncodePeerTransferRequest(1, 99, "x"), protocol.NewWriter().Uint64(uint64(len(payload))).Bytes()...)
		_, werr = remote.Write(peerFramer.Encode(uint32(protocol.PeerTransferRequest), callback))
		if werr != nil {
			return
		}

		// Consume our PeerTransferResponse(allowed=true).
		_, _, _ = peerFramer.Decode(&pipeReader{remote})

		// Drive the transfer connection: marker, then payload.
		var marker [8]byte
		buf := marker[:]
		_, _ = readFull(xferRemote, buf)
		_, _ = xferRemote.Write(payload)
	}()

	d, err := e.Download(context.Background(), "alice", "x", &sink)
	require.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(d.Wait(ctx))

	assert.True(d.State().Has(Succeeded))
	assert.True(d.State().Has(Completed))
	assert.Equal(payload, sink.Bytes())
}

func TestDownload_AllowedTrueIsUnreachable(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	mc, remote := newPeerConnPair(t)
	defer remote.Close()

	peers := &fakePeerManager{mc: mc}
	e, err := NewEngine(peers, MessageTimeout(2*time.Second), Tokens(token.New(token.Seed(0))))
	require.NoError(err)

	go func() {
		_, _, err := peerFramer.Decode(&pipeReader{remote})
		if err != nil {
			return
		}
		_, _ = remote.Write(peerFramer.Encode(uint32(protocol.PeerTransferResponse), protocol.EncodePeerTransferResponse(protocol.PeerTransferResponsePayload{
			Token:   0,
			Allowed: true,
			Size:    1024,
		})))
	}()

	var sink bytes.Buffer
	d, err := e.Download(context.Background(), "alice", "x", &sink)
	require.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = d.Wait(ctx)
	require.Error(err)
	assert.ErrorIs(err, ErrTransferAllowedUnreachable)
	assert.True(d.State().Has(Errored))
	assert.True(d.State().Has(Completed))
}

// pipeReader adapts a net.Conn to io.Reader for the Framer's Decode.
type pipeReader struct{ c net.Conn }

func (p *pipeReader) Read(b []byte) (int, error) { return p.c.Read(b) }

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
