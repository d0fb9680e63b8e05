// Package msgconn extends conn.Connection with a continuous read loop
// that decodes whole Soulseek frames and emits them as events.
package msgconn

import (
	"context"
	"sync"
	"time"

	"github.com/xmidt-org/eventor"
	"go.uber.org/zap"

	"github.com/jpdillingham/soulseek-go/internal/conn"
	connevent "github.com/jpdillingham/soulseek-go/internal/conn/event"
	"github.com/jpdillingham/soulseek-go/internal/frame"
	"github.com/jpdillingham/soulseek-go/internal/msgconn/event"
)

// MessageConnection runs a continuous read loop over an underlying
// conn.Connection, decoding whole frames and emitting MessageRead
// events. For outbound connections the loop starts automatically on the
// first Connected transition. For handed-off (accepted, then upgraded)
// connections, the caller must attach listeners and then call Start
// explicitly -- starting automatically would risk losing the first
// message to a handler that has not been attached yet.
type MessageConnection struct {
	conn    *conn.Connection
	framer  *frame.Framer
	logger  *zap.Logger
	auto    bool
	nowFunc func() time.Time

	mu      sync.Mutex
	started bool

	messageReadListeners eventor.Eventor[event.MessageReadListener]
}

// Option configures a MessageConnection at construction time.
type Option interface {
	apply(*MessageConnection)
}

type optionFunc func(*MessageConnection)

func (f optionFunc) apply(m *MessageConnection) { f(m) }

// Manual disables automatic loop start on Connected, for connections
// handed off from a listener.
func Manual() Option {
	return optionFunc(func(m *MessageConnection) { m.auto = false })
}

// Logger sets the structured logger used for diagnostic output.
func Logger(l *zap.Logger) Option {
	return optionFunc(func(m *MessageConnection) {
		if l != nil {
			m.logger = l
		}
	})
}

// New wraps c with message framing of the given code width.
func New(c *conn.Connection, width frame.CodeWidth, opts ...Option) *MessageConnection {
	m := &MessageConnection{
		conn:    c,
		framer:  frame.New(width),
		logger:  zap.NewNop(),
		auto:    true,
		nowFunc: time.Now,
	}

	for _, opt := range opts {
		opt.apply(m)
	}

	if m.auto {
		c.AddConnectedListener(connevent.ConnectedListenerFunc(func(connevent.Connected) {
			m.Start(context.Background())
		}))
	}

	return m
}

// Underlying returns the wrapped conn.Connection.
func (m *MessageConnection) Underlying() *conn.Connection {
	return m.conn
}

// Start begins the read loop if it has not already been started. It is
// idempotent.
func (m *MessageConnection) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.readLoop(ctx)
}

// Send encodes and writes one frame.
func (m *MessageConnection) Send(ctx context.Context, code uint32, payload []byte) error {
	return m.conn.Write(ctx, m.framer.Encode(code, payload), nil)
}

// AddMessageReadListener registers l to be notified for every decoded
// message.
func (m *MessageConnection) AddMessageReadListener(l event.MessageReadListener) event.CancelFunc {
	return event.CancelFunc(m.messageReadListeners.Add(l))
}

// AddDisconnectedListener forwards to the underlying connection's
// Disconnected event; the read loop's exit always routes through it.
func (m *MessageConnection) AddDisconnectedListener(l connevent.DisconnectedListener) connevent.CancelFunc {
	return m.conn.AddDisconnectedListener(l)
}

func (m *MessageConnection) readLoop(ctx context.Context) {
	r := &connReader{ctx: ctx, conn: m.conn}

	for {
		code, payload, err := m.framer.Decode(r)
		if err != nil {
			m.logger.Debug("message read loop exiting", zap.Error(err))
			_ = m.conn.Disconnect(err.Error())
			return
		}

		m.messageReadListeners.Visit(func(l event.MessageReadListener) {
			l.OnMessageRead(event.MessageRead{At: m.nowFunc(), Code: code, Payload: payload})
		})
	}
}

// connReader adapts conn.Connection's exact-N read to io.Reader so the
// Framer can decode directly from a live socket.
type connReader struct {
	ctx  context.Context
	conn *conn.Connection
}

func (r *connReader) Read(p []byte) (int, error) {
	b, err := r.conn.Read(r.ctx, len(p), nil)
	if err != nil {
		return 0, err
	}
	copy(p, b)
	return len(b), nil
}
