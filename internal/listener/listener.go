// Package listener implements the inbound connection router described
// in spec.md §4.7: every accepted socket is read just far enough to
// decode its first handshake frame (PeerInit or PierceFirewall), then
// handed off to whichever manager owns that connection type or pending
// solicitation token. Unrecognized frames and unknown tokens are closed.
package listener

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/jpdillingham/soulseek-go/internal/diag"
	"github.com/jpdillingham/soulseek-go/internal/frame"
	"github.com/jpdillingham/soulseek-go/internal/protocol"
)

// handshakeFramer decodes the single frame every inbound socket opens
// with, before the connection's eventual type is known.
var handshakeFramer = frame.New(frame.PeerCodeWidth)

// PeerAcceptor is the subset of peer.Manager the router dispatches to.
type PeerAcceptor interface {
	AcceptMessage(username string, nc net.Conn) error
	AcceptTransfer(username string, nc net.Conn) error
	CompleteSolicitedPeerConnection(token uint32, nc net.Conn)
	HasPendingSolicitation(token uint32) bool
}

// DistributedAcceptor is the subset of distributed.Manager the router
// dispatches to.
type DistributedAcceptor interface {
	AcceptChild(username string, nc net.Conn) error
	CompleteSolicitedDistributedConnection(token uint32, nc net.Conn)
	HasPendingSolicitation(token uint32) bool
}

// Router accepts raw sockets off a net.Listener and routes each to the
// peer or distributed manager that owns it.
type Router struct {
	peers         PeerAcceptor
	distributed   DistributedAcceptor
	logger        diag.Sink
	handshakeWait time.Duration
}

// Option configures a Router at construction time.
type Option interface {
	apply(*Router)
}

type optionFunc func(*Router)

func (f optionFunc) apply(r *Router) { f(r) }

// Logger sets the diagnostic sink used for rejected/unrecognized
// connections.
func Logger(l diag.Sink) Option {
	return optionFunc(func(r *Router) {
		if l != nil {
			r.logger = l
		}
	})
}

// HandshakeWait bounds how long the router waits for a newly accepted
// socket to deliver its first frame before closing it. Default 10s.
func HandshakeWait(d time.Duration) Option {
	return optionFunc(func(r *Router) {
		if d > 0 {
			r.handshakeWait = d
		}
	})
}

// New creates a Router. peers and distributed are required collaborators.
func New(peers PeerAcceptor, distributed DistributedAcceptor, opts ...Option) (*Router, error) {
	r := &Router{
		peers:         peers,
		distributed:   distributed,
		logger:        diag.NewNop(),
		handshakeWait: 10 * time.Second,
	}

	for _, opt := range opts {
		opt.apply(r)
	}

	if r.peers == nil {
		return nil, errNilPeerAcceptor
	}
	if r.distributed == nil {
		return nil, errNilDistributedAcceptor
	}

	return r, nil
}

// Serve accepts connections off l, dispatching each to its own
// goroutine, until Accept returns an error. Cancelling ctx does not
// interrupt a blocked Accept; Serve returns once l is closed or fails.
// It returns ctx.Err() if ctx is done by then, or the Accept error
// otherwise.
func (r *Router) Serve(ctx context.Context, l net.Listener) error {
	for {
		nc, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}

		go r.handle(nc)
	}
}

func (r *Router) handle(nc net.Conn) {
	if r.handshakeWait > 0 {
		_ = nc.SetReadDeadline(time.Now().Add(r.handshakeWait))
	}

	code, payload, err := handshakeFramer.Decode(nc)
	if err != nil {
		r.logger.Debug("closing connection: handshake frame read failed", zap.Error(err))
		_ = nc.Close()
		return
	}

	_ = nc.SetReadDeadline(time.Time{})

	switch uint8(code) {
	case protocol.PeerInit:
		r.dispatchPeerInit(payload, nc)
	case protocol.PeerPierceFirewall:
		r.dispatchPierceFirewall(payload, nc)
	default:
		r.logger.Warning("closing connection: unrecognized handshake frame", zap.Uint32("code", code))
		_ = nc.Close()
	}
}

func (r *Router) dispatchPeerInit(payload []byte, nc net.Conn) {
	p, err := protocol.DecodePeerInit(payload)
	if err != nil {
		r.logger.Debug("closing connection: malformed PeerInit", zap.Error(err))
		_ = nc.Close()
		return
	}

	switch p.Type {
	case protocol.ConnectionTypePeer:
		err = r.peers.AcceptMessage(p.Username, nc)
	case protocol.ConnectionTypeTransfer:
		err = r.peers.AcceptTransfer(p.Username, nc)
	case protocol.ConnectionTypeDistributed:
		err = r.distributed.AcceptChild(p.Username, nc)
	default:
		r.logger.Warning("closing connection: unknown PeerInit type", zap.String("type", string(p.Type)))
		_ = nc.Close()
		return
	}

	if err != nil {
		r.logger.Warning("rejected inbound connection", zap.String("username", p.Username), zap.Error(err))
	}
}

func (r *Router) dispatchPierceFirewall(payload []byte, nc net.Conn) {
	token, err := protocol.DecodePierceFirewall(payload)
	if err != nil {
		r.logger.Debug("closing connection: malformed PierceFirewall", zap.Error(err))
		_ = nc.Close()
		return
	}

	switch {
	case r.peers.HasPendingSolicitation(token):
		r.peers.CompleteSolicitedPeerConnection(token, nc)
	case r.distributed.HasPendingSolicitation(token):
		r.distributed.CompleteSolicitedDistributedConnection(token, nc)
	default:
		r.logger.Warning("closing connection: unknown solicitation token", zap.Uint32("token", token))
		_ = nc.Close()
	}
}
