// Package conn manages a single TCP socket: connect with timeout,
// bounded reads and writes under an inactivity watchdog, idempotent
// disconnect, and hand-off of the underlying socket to a new owner.
package conn

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/xmidt-org/eventor"
	"go.uber.org/zap"

	"github.com/jpdillingham/soulseek-go/internal/conn/event"
)

// State is one of the connection's lifecycle states.
type State int32

const (
	StatePending State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// readChunkSize bounds how many bytes are requested from the socket per
// Read syscall, so the inactivity watchdog and governor get a chance to
// run between chunks of a large transfer.
const readChunkSize = 16 * 1024

// Governor is consulted before each read/write chunk to pace throughput.
// A nil Governor imposes no pacing.
type Governor func(ctx context.Context) error

// DialFunc dials the given address, honoring ctx's deadline/cancellation.
type DialFunc func(ctx context.Context, address string) (net.Conn, error)

// Connection manages one TCP socket for the lifetime of a peer or server
// session.
type Connection struct {
	address string

	connectTimeout time.Duration
	readTimeout    time.Duration
	dial           DialFunc
	nowFunc        func() time.Time
	logger         *zap.Logger

	mu       sync.Mutex
	state    State
	netConn  net.Conn
	detached bool

	connectedListeners    eventor.Eventor[event.ConnectedListener]
	disconnectedListeners eventor.Eventor[event.DisconnectedListener]
	dataReadListeners     eventor.Eventor[event.DataReadListener]
	dataWrittenListeners  eventor.Eventor[event.DataWrittenListener]
	stateChangedListeners eventor.Eventor[event.StateChangedListener]
}

// Option configures a Connection at construction time.
type Option interface {
	apply(*Connection) error
}

type optionFunc func(*Connection) error

func (f optionFunc) apply(c *Connection) error { return f(c) }

// New creates a Connection targeting address ("host:port"). The
// connection does not dial until Connect is called.
func New(address string, opts ...Option) (*Connection, error) {
	c := &Connection{
		address:        address,
		connectTimeout: 10 * time.Second,
		readTimeout:    30 * time.Second,
		nowFunc:        time.Now,
		logger:         zap.NewNop(),
	}
	c.dial = func(ctx context.Context, address string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", address)
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// State reports the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) transition(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()

	if from == to {
		return
	}

	c.stateChangedListeners.Visit(func(l event.StateChangedListener) {
		l.OnStateChanged(event.StateChanged{At: c.nowFunc(), From: from.String(), To: to.String()})
	})
}

// Connect opens the TCP socket. It fails ErrConnectTimeout if the
// configured connect deadline elapses, ErrCancelled if ctx is done
// first, or a *ConnectFailedError otherwise.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StatePending {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.mu.Unlock()
	c.transition(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	nc, err := c.dial(dialCtx, c.address)
	if err != nil {
		c.transition(StatePending)
		if ctx.Err() != nil {
			return ErrCancelled
		}
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return ErrConnectTimeout
		}
		return &ConnectFailedError{Cause: err}
	}

	c.mu.Lock()
	c.netConn = nc
	c.mu.Unlock()
	c.transition(StateConnected)

	c.connectedListeners.Visit(func(l event.ConnectedListener) {
		l.OnConnected(event.Connected{At: c.nowFunc()})
	})

	return nil
}

// Read returns exactly n bytes from the socket, or fails. A request for
// zero bytes succeeds immediately with an empty slice. Reads are subject
// to a per-chunk inactivity watchdog: if no byte arrives within
// read_timeout, the connection is forcibly disconnected and the call
// fails ErrReadTimeout. governor, if non-nil, is awaited before every
// chunk to pace throughput.
func (c *Connection) Read(ctx context.Context, n int, governor Governor) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}

	nc, err := c.connectedSocket()
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = nc.SetReadDeadline(time.Unix(0, 0))
		case <-done:
		}
	}()

	buf := make([]byte, n)
	read := 0
	for read < n {
		if governor != nil {
			if gerr := governor(ctx); gerr != nil {
				return nil, gerr
			}
		}

		chunk := n - read
		if chunk > readChunkSize {
			chunk = readChunkSize
		}

		_ = nc.SetReadDeadline(time.Now().Add(c.readTimeout))
		m, rerr := nc.Read(buf[read : read+chunk])
		if m > 0 {
			read += m
			c.dataReadListeners.Visit(func(l event.DataReadListener) {
				l.OnDataRead(event.DataRead{At: c.nowFunc(), Bytes: m})
			})
		}

		if rerr != nil {
			return nil, c.classifyIOError(ctx, rerr, "read")
		}
	}

	return buf, nil
}

// Write sends bytes over the socket, failing if the full payload cannot
// be written. governor, if non-nil, is awaited before every chunk.
func (c *Connection) Write(ctx context.Context, b []byte, governor Governor) error {
	if len(b) == 0 {
		return nil
	}

	nc, err := c.connectedSocket()
	if err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = nc.SetWriteDeadline(time.Unix(0, 0))
		case <-done:
		}
	}()

	written := 0
	for written < len(b) {
		if governor != nil {
			if gerr := governor(ctx); gerr != nil {
				return gerr
			}
		}

		chunk := len(b) - written
		if chunk > readChunkSize {
			chunk = readChunkSize
		}

		m, werr := nc.Write(b[written : written+chunk])
		if m > 0 {
			written += m
			c.dataWrittenListeners.Visit(func(l event.DataWrittenListener) {
				l.OnDataWritten(event.DataWritten{At: c.nowFunc(), Bytes: m})
			})
		}

		if werr != nil {
			return c.classifyIOError(ctx, werr, "write")
		}
	}

	return nil
}

func (c *Connection) connectedSocket() (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.detached {
		return nil, ErrDetached
	}
	if c.state != StateConnected {
		return nil, ErrNotConnected
	}
	return c.netConn, nil
}

func (c *Connection) classifyIOError(ctx context.Context, err error, op string) error {
	if ctx.Err() != nil {
		_ = c.Disconnect("cancelled")
		return ErrCancelled
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() && op == "read" {
		_ = c.Disconnect("read timeout")
		return ErrReadTimeout
	}

	_ = c.Disconnect(op + " failed")
	if op == "write" {
		return &WriteFailedError{Cause: err}
	}
	return &ReadFailedError{Cause: err}
}

// Disconnect transitions the connection to Disconnected, closing the
// underlying socket if still owned. It is idempotent and emits the
// Disconnected event exactly once.
func (c *Connection) Disconnect(reason string) error {
	c.mu.Lock()
	if c.state == StateDisconnected || c.state == StateDisconnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateDisconnecting
	nc := c.netConn
	c.mu.Unlock()

	var closeErr error
	if nc != nil {
		closeErr = nc.Close()
	}

	c.transition(StateDisconnected)

	c.disconnectedListeners.Visit(func(l event.DisconnectedListener) {
		l.OnDisconnected(event.Disconnected{At: c.nowFunc(), Reason: reason, Err: closeErr})
	})

	return closeErr
}

// HandOff relinquishes ownership of the underlying socket to the
// caller. Subsequent operations on this Connection fail ErrDetached.
func (c *Connection) HandOff() (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.detached {
		return nil, ErrDetached
	}
	if c.netConn == nil {
		return nil, ErrNotConnected
	}

	nc := c.netConn
	c.netConn = nil
	c.detached = true
	return nc, nil
}

// AddConnectedListener registers l to be notified on every successful
// connect, returning a CancelFunc to remove it.
func (c *Connection) AddConnectedListener(l event.ConnectedListener) event.CancelFunc {
	return event.CancelFunc(c.connectedListeners.Add(l))
}

// AddDisconnectedListener registers l to be notified on disconnect.
func (c *Connection) AddDisconnectedListener(l event.DisconnectedListener) event.CancelFunc {
	return event.CancelFunc(c.disconnectedListeners.Add(l))
}

// AddDataReadListener registers l to be notified after each chunk read.
func (c *Connection) AddDataReadListener(l event.DataReadListener) event.CancelFunc {
	return event.CancelFunc(c.dataReadListeners.Add(l))
}

// AddDataWrittenListener registers l to be notified after each chunk write.
func (c *Connection) AddDataWrittenListener(l event.DataWrittenListener) event.CancelFunc {
	return event.CancelFunc(c.dataWrittenListeners.Add(l))
}

// AddStateChangedListener registers l to be notified on every state
// transition.
func (c *Connection) AddStateChangedListener(l event.StateChangedListener) event.CancelFunc {
	return event.CancelFunc(c.stateChangedListeners.Add(l))
}

// Adopt wraps an already-connected socket (e.g. one accepted by a
// listener) in a Connection in the Connected state, without dialing.
func Adopt(nc net.Conn, opts ...Option) (*Connection, error) {
	c, err := New(nc.RemoteAddr().String(), opts...)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.netConn = nc
	c.mu.Unlock()
	c.transition(StateConnected)

	return c, nil
}
