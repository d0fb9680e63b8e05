// Package transfer implements the download state machine described in
// spec.md §4.8: the multi-stage PeerTransferRequest/PeerTransferResponse
// handshake, the remote/local token exchange, and the byte-streaming
// pull once a transfer connection is established.
package transfer

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/xmidt-org/eventor"
	"golang.org/x/sync/errgroup"

	"github.com/jpdillingham/soulseek-go/internal/conn"
	"github.com/jpdillingham/soulseek-go/internal/diag"
	"github.com/jpdillingham/soulseek-go/internal/peer"
	"github.com/jpdillingham/soulseek-go/internal/protocol"
	"github.com/jpdillingham/soulseek-go/internal/token"
	"github.com/jpdillingham/soulseek-go/internal/transfer/event"
)

// PeerManager is the subset of peer.Manager the engine depends on.
type PeerManager interface {
	GetMessageConnection(ctx context.Context, username string) (peer.Acquired, error)
	GetTransferConnection(ctx context.Context, username string, localToken uint32) (*peer.TransferConn, error)
	AwaitTransferConnection(ctx context.Context, username string, remoteToken uint32) (*conn.Connection, error)
}

// Engine creates and drives downloads.
type Engine struct {
	peers          PeerManager
	tokens         *token.Generator
	logger         diag.Sink
	messageTimeout time.Duration
	governor       conn.Governor
}

// Option configures an Engine at construction time.
type Option interface {
	apply(*Engine)
}

type optionFunc func(*Engine)

func (f optionFunc) apply(e *Engine) { f(e) }

// MessageTimeout bounds the wait for the peer's PeerTransferResponse to
// the initial request. The waits for the peer's callback request and for
// the transfer connection are not bounded by it. Default 30s.
func MessageTimeout(d time.Duration) Option {
	return optionFunc(func(e *Engine) {
		if d > 0 {
			e.messageTimeout = d
		}
	})
}

// Logger sets the diagnostic sink used for engine-level events.
func Logger(l diag.Sink) Option {
	return optionFunc(func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	})
}

// Governor paces every download's byte stream through the given
// conn.Governor; nil (the default) applies no pacing.
func Governor(g conn.Governor) Option {
	return optionFunc(func(e *Engine) { e.governor = g })
}

// Tokens overrides the local-transfer-token generator, primarily so
// tests can seed deterministic tokens.
func Tokens(g *token.Generator) Option {
	return optionFunc(func(e *Engine) {
		if g != nil {
			e.tokens = g
		}
	})
}

// NewEngine creates an Engine. peers is a required collaborator.
func NewEngine(peers PeerManager, opts ...Option) (*Engine, error) {
	e := &Engine{
		peers:          peers,
		tokens:         token.New(),
		logger:         diag.NewNop(),
		messageTimeout: 30 * time.Second,
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	if e.peers == nil {
		return nil, errNilPeerManager
	}

	return e, nil
}

// Download is one in-flight or completed download.
type Download struct {
	username string
	filename string
	sink     io.Writer

	localToken uint32

	mu          sync.Mutex
	state       State
	remoteToken uint32
	size        uint64

	stateChangedListeners    eventor.Eventor[event.StateChangedListener]
	progressUpdatedListeners eventor.Eventor[event.ProgressUpdatedListener]

	done chan struct{}
	err  error
}

// Username reports the download's peer.
func (d *Download) Username() string { return d.username }

// Filename reports the path requested from the peer.
func (d *Download) Filename() string { return d.filename }

// State reports the download's current state bitmask.
func (d *Download) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Size reports the transfer size once known (after Initializing), or 0
// before then.
func (d *Download) Size() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

// Wait blocks until the download reaches a terminal state (always with
// Completed set) or ctx is done first.
func (d *Download) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return d.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddStateChangedListener registers l for every state transition.
func (d *Download) AddStateChangedListener(l event.StateChangedListener) event.CancelFunc {
	return event.CancelFunc(d.stateChangedListeners.Add(l))
}

// AddProgressUpdatedListener registers l for every chunk written to the
// data sink.
func (d *Download) AddProgressUpdatedListener(l event.ProgressUpdatedListener) event.CancelFunc {
	return event.CancelFunc(d.progressUpdatedListeners.Add(l))
}

func (d *Download) setState(s State) {
	d.mu.Lock()
	from := d.state
	d.state = s
	d.mu.Unlock()

	d.stateChangedListeners.Visit(func(l event.StateChangedListener) {
		l.OnStateChanged(event.StateChanged{At: time.Now(), From: from.String(), To: s.String()})
	})
}

// Download begins a new download of filename from username, writing its
// payload to sink as it arrives. The returned Download is running in the
// background; use Wait, or the state/progress listeners, to observe
// completion.
func (e *Engine) Download(ctx context.Context, username, filename string, sink io.Writer) (*Download, error) {
	if sink == nil {
		return nil, errNilDataSink
	}

	localToken, err := e.tokens.Next(nil)
	if err != nil {
		return nil, err
	}

	d := &Download{
		username:   username,
		filename:   filename,
		sink:       sink,
		localToken: localToken,
		done:       make(chan struct{}),
	}

	go e.run(ctx, d)

	return d, nil
}

func (e *Engine) run(ctx context.Context, d *Download) {
	err := e.drive(ctx, d)

	final := Completed
	switch {
	case err == nil:
		final |= Succeeded
	case errors.Is(err, conn.ErrReadTimeout):
		final |= TimedOut
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		final |= Cancelled
	case errors.Is(err, context.DeadlineExceeded):
		final |= TimedOut
	default:
		final |= Errored
	}

	d.setState(final)

	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
	close(d.done)
}

func (e *Engine) drive(ctx context.Context, d *Download) error {
	acquired, err := e.peers.GetMessageConnection(ctx, d.username)
	if err != nil {
		return err
	}
	mc := acquired.Conn

	respCh := make(chan protocol.PeerTransferResponsePayload, 1)
	callbackCh := make(chan transferCallback, 1)

	cancelListener := mc.AddMessageReadListener(peerMessageListener(d, respCh, callbackCh))
	defer cancelListener()

	if err := mc.Send(ctx, uint32(protocol.PeerTransferRequest), protocol.EncodePeerTransferRequest(directionDownload, d.localToken, d.filename)); err != nil {
		return err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, e.messageTimeout)
	resp, err := waitForResponse(timeoutCtx, respCh)
	cancel()
	if err != nil {
		return err
	}

	if resp.Allowed {
		return ErrTransferAllowedUnreachable
	}

	d.setState(Queued)

	cb, err := waitForCallback(ctx, callbackCh)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.remoteToken = cb.remoteToken
	d.size = cb.size
	d.mu.Unlock()

	d.setState(Initializing)

	if err := mc.Send(ctx, uint32(protocol.PeerTransferResponse), protocol.EncodePeerTransferResponse(protocol.PeerTransferResponsePayload{
		Token:   cb.remoteToken,
		Allowed: true,
		Size:    cb.size,
	})); err != nil {
		return err
	}

	xferConn, err := e.awaitTransferConnection(ctx, d)
	if err != nil {
		return err
	}
	defer xferConn.Disconnect("transfer finished")

	d.setState(InProgress)

	if err := xferConn.Write(ctx, protocol.TransferMarker[:], nil); err != nil {
		return err
	}

	return e.streamPayload(ctx, d, xferConn)
}

func (e *Engine) awaitTransferConnection(ctx context.Context, d *Download) (*conn.Connection, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu      sync.Mutex
		winner  *conn.Connection
		lastErr error
	)

	win := func(c *conn.Connection) bool {
		mu.Lock()
		defer mu.Unlock()
		if winner != nil {
			return false
		}
		winner = c
		cancel()
		return true
	}
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if winner == nil {
			lastErr = err
		}
	}

	var g errgroup.Group

	g.Go(func() error {
		c, err := e.peers.AwaitTransferConnection(raceCtx, d.username, d.remoteTokenSnapshot())
		if err != nil {
			fail(err)
			return nil
		}
		if !win(c) {
			_ = c.Disconnect("lost transfer connection race")
		}
		return nil
	})

	g.Go(func() error {
		tc, err := e.peers.GetTransferConnection(raceCtx, d.username, d.localToken)
		if err != nil {
			fail(err)
			return nil
		}
		if !win(tc.Conn) {
			_ = tc.Conn.Disconnect("lost transfer connection race")
		}
		return nil
	})

	_ = g.Wait()

	mu.Lock()
	defer mu.Unlock()

	if winner != nil {
		return winner, nil
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return nil, lastErr
}

func (d *Download) remoteTokenSnapshot() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remoteToken
}

const readStreamChunk = 16 * 1024

func (e *Engine) streamPayload(ctx context.Context, d *Download, c *conn.Connection) error {
	remaining := d.Size()
	var read uint64

	for remaining > 0 {
		n := remaining
		if n > readStreamChunk {
			n = readStreamChunk
		}

		chunk, err := c.Read(ctx, int(n), e.governor)
		if err != nil {
			return err
		}

		if _, err := d.sink.Write(chunk); err != nil {
			return err
		}

		read += uint64(len(chunk))
		remaining -= uint64(len(chunk))

		d.progressUpdatedListeners.Visit(func(l event.ProgressUpdatedListener) {
			l.OnProgressUpdated(event.ProgressUpdated{At: time.Now(), Current: read, Total: d.Size()})
		})
	}

	return nil
}
