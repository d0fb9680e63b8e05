// Package soulseek implements a client for the Soulseek peer-to-peer
// file sharing network: server login, peer and distributed connection
// management, parent election, and file download.
package soulseek

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/jpdillingham/soulseek-go/internal/conn"
	"github.com/jpdillingham/soulseek-go/internal/diag"
	"github.com/jpdillingham/soulseek-go/internal/distributed"
	"github.com/jpdillingham/soulseek-go/internal/frame"
	"github.com/jpdillingham/soulseek-go/internal/listener"
	"github.com/jpdillingham/soulseek-go/internal/msgconn"
	"github.com/jpdillingham/soulseek-go/internal/msgconn/event"
	"github.com/jpdillingham/soulseek-go/internal/peer"
	"github.com/jpdillingham/soulseek-go/internal/protocol"
	"github.com/jpdillingham/soulseek-go/internal/transfer"
	"github.com/jpdillingham/soulseek-go/internal/waiter"
)

const protocolVersion uint32 = 160

var loginKey = waiter.NewKey("Login")

func addressKey(username string) waiter.Key {
	return waiter.NewKey("GetPeerAddress", username)
}

// Client is a connected Soulseek peer: it owns the server connection,
// the peer and distributed connection managers, the transfer engine,
// and the inbound connection router.
type Client struct {
	username string
	password string
	server   string

	listenAddress                  string
	messageTimeout                 time.Duration
	connectTimeout                 time.Duration
	readTimeout                    time.Duration
	distributedInactivityTimeout   time.Duration
	peerCapacity                   int64
	childCapacity                  int
	autoAcknowledgePrivateMessages bool
	diagLevel                      diag.Level
	diagFile                       *lumberjack.Logger
	governor                       *rate.Limiter
	logger                         diag.Sink

	waiter *waiter.Waiter

	mu         sync.Mutex
	connected  bool
	cancel     context.CancelFunc
	serverConn *msgconn.MessageConnection
	ln         net.Listener
	peers      *peer.Manager
	distrib    *distributed.Manager
	transfer   *transfer.Engine
	router     *listener.Router
}

// New creates a Client for username/password against serverAddress.
// The client does not connect until Connect is called.
func New(username, password, serverAddress string, opts ...Option) (*Client, error) {
	if username == "" {
		return nil, errEmptyUsername
	}
	if serverAddress == "" {
		return nil, errEmptyServerAddress
	}

	c := &Client{
		username:                     username,
		password:                     password,
		server:                       serverAddress,
		listenAddress:                ":2234",
		messageTimeout:               30 * time.Second,
		connectTimeout:               10 * time.Second,
		readTimeout:                  30 * time.Second,
		distributedInactivityTimeout: 60 * time.Second,
		peerCapacity:                 500,
		childCapacity:                50,
		diagLevel:                    diag.LevelInfo,
		waiter:                       waiter.New(),
	}

	for _, opt := range opts {
		opt.apply(c)
	}

	if c.logger == nil {
		logger, err := diag.New(diag.Config{MinimumLevel: c.diagLevel, File: c.diagFile})
		if err != nil {
			return nil, fmt.Errorf("soulseek: building diagnostic sink: %w", err)
		}
		c.logger = logger
	}

	return c, nil
}

// Connect dials the server, logs in, and brings up the peer, distributed,
// and transfer subsystems and the inbound connection router.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	sc, err := conn.New(c.server, conn.ConnectTimeout(c.connectTimeout), conn.ReadTimeout(c.readTimeout))
	if err != nil {
		return fmt.Errorf("soulseek: building server connection: %w", err)
	}

	serverConn := msgconn.New(sc, frame.ServerCodeWidth)

	// Register the dispatch listener before Connect so no message read
	// between the socket coming up and the listener being attached is
	// lost to a waiter nobody has registered against yet.
	serverConn.AddMessageReadListener(event.MessageReadListenerFunc(c.handleServerMessage))

	if err := sc.Connect(ctx); err != nil {
		return fmt.Errorf("soulseek: connecting to server: %w", err)
	}

	loginCtx, cancel := context.WithTimeout(ctx, c.messageTimeout)
	defer cancel()

	payload := protocol.EncodeLogin(protocol.LoginPayload{
		Username: c.username,
		Password: c.password,
		Version:  protocolVersion,
	})
	if err := serverConn.Send(loginCtx, protocol.ServerLogin, payload); err != nil {
		_ = sc.Disconnect("login send failed")
		return fmt.Errorf("soulseek: sending login: %w", err)
	}

	resp, err := waiter.Wait[protocol.LoginResponse](loginCtx, c.waiter, loginKey, c.messageTimeout)
	if err != nil {
		_ = sc.Disconnect("login wait failed")
		return fmt.Errorf("soulseek: awaiting login response: %w", err)
	}
	if !resp.Success {
		_ = sc.Disconnect("login rejected")
		return fmt.Errorf("%w: %s", ErrLoginFailed, resp.Message)
	}

	peers, err := peer.New(c.username, serverConn, c.resolveAddress,
		peer.ConnectTimeout(c.connectTimeout),
		peer.ReadTimeout(c.readTimeout),
		peer.Capacity(c.peerCapacity),
		peer.Logger(c.logger),
	)
	if err != nil {
		_ = sc.Disconnect("peer manager construction failed")
		return fmt.Errorf("soulseek: building peer manager: %w", err)
	}

	distrib, err := distributed.New(c.username, serverConn, c.resolveAddress,
		distributed.ConnectTimeout(c.connectTimeout),
		distributed.ReadTimeout(c.readTimeout),
		distributed.InactivityTimeout(c.distributedInactivityTimeout),
		distributed.ChildCapacity(c.childCapacity),
		distributed.Logger(c.logger),
	)
	if err != nil {
		_ = sc.Disconnect("distributed manager construction failed")
		return fmt.Errorf("soulseek: building distributed manager: %w", err)
	}

	var transferOpts []transfer.Option
	transferOpts = append(transferOpts, transfer.MessageTimeout(c.messageTimeout), transfer.Logger(c.logger))
	if c.governor != nil {
		transferOpts = append(transferOpts, transfer.Governor(transfer.NewGovernor(c.governor)))
	}

	xfer, err := transfer.NewEngine(peers, transferOpts...)
	if err != nil {
		_ = sc.Disconnect("transfer engine construction failed")
		return fmt.Errorf("soulseek: building transfer engine: %w", err)
	}

	router, err := listener.New(peers, distrib, listener.Logger(c.logger))
	if err != nil {
		_ = sc.Disconnect("router construction failed")
		return fmt.Errorf("soulseek: building connection router: %w", err)
	}

	ln, err := net.Listen("tcp", c.listenAddress)
	if err != nil {
		_ = sc.Disconnect("listen failed")
		return fmt.Errorf("soulseek: listening on %s: %w", c.listenAddress, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.connected = true
	c.cancel = cancel
	c.serverConn = serverConn
	c.ln = ln
	c.peers = peers
	c.distrib = distrib
	c.transfer = xfer
	c.router = router
	c.mu.Unlock()

	go distrib.Run(runCtx)
	go func() {
		if err := router.Serve(runCtx, ln); err != nil {
			c.logger.Debug("connection router exited", zapErrorField(err))
		}
	}()

	return nil
}

// Disconnect stops the connection router, closes the listen socket,
// stops the distributed manager's background loops, and disconnects the
// server connection, passing reason to its Disconnected event. Existing
// peer connections, the distributed parent and children, in-flight
// downloads and pending waits are not closed or cancelled.
func (c *Client) Disconnect(reason string) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	cancel := c.cancel
	ln := c.ln
	sc := c.serverConn
	distrib := c.distrib
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ln != nil {
		_ = ln.Close()
	}
	if distrib != nil {
		distrib.Close()
	}
	if sc != nil {
		return sc.Underlying().Disconnect(reason)
	}
	return nil
}

// Download requests filename from username and streams its contents
// into sink, returning a handle for tracking progress and completion.
func (c *Client) Download(ctx context.Context, username, filename string, sink io.Writer) (*transfer.Download, error) {
	c.mu.Lock()
	xfer := c.transfer
	connected := c.connected
	c.mu.Unlock()

	if !connected || xfer == nil {
		return nil, ErrNotConnected
	}

	return xfer.Download(ctx, username, filename, sink)
}

// resolveAddress looks up username's current address via the server,
// satisfying both peer.AddressResolver and distributed.AddressResolver.
func (c *Client) resolveAddress(ctx context.Context, username string) (ip [4]byte, port uint16, err error) {
	c.mu.Lock()
	sc := c.serverConn
	c.mu.Unlock()

	if sc == nil {
		return ip, 0, ErrNotConnected
	}

	if err := sc.Send(ctx, protocol.ServerGetPeerAddress, protocol.EncodeGetPeerAddress(username)); err != nil {
		return ip, 0, fmt.Errorf("soulseek: sending GetPeerAddress: %w", err)
	}

	resp, err := waiter.Wait[protocol.GetPeerAddressResponse](ctx, c.waiter, addressKey(username), c.messageTimeout)
	if err != nil {
		return ip, 0, fmt.Errorf("soulseek: awaiting GetPeerAddress response for %s: %w", username, err)
	}

	return resp.IP, resp.Port, nil
}

// handleServerMessage dispatches a decoded server-connection frame to
// the waiter or subsystem that owns its code.
func (c *Client) handleServerMessage(m event.MessageRead) {
	switch m.Code {
	case protocol.ServerLogin:
		resp, err := protocol.DecodeLoginResponse(m.Payload)
		if err != nil {
			c.logger.Warning("malformed login response", zapErrorField(err))
			return
		}
		c.waiter.Complete(loginKey, resp)

	case protocol.ServerGetPeerAddress:
		resp, err := protocol.DecodeGetPeerAddressResponse(m.Payload)
		if err != nil {
			c.logger.Warning("malformed GetPeerAddress response", zapErrorField(err))
			return
		}
		c.waiter.Complete(addressKey(resp.Username), resp)

	case protocol.ServerConnectToPeer:
		p, err := protocol.DecodeConnectToPeer(m.Payload)
		if err != nil {
			c.logger.Warning("malformed ConnectToPeer", zapErrorField(err))
			return
		}
		// Only the peer-typed path is handled here: distributed parent
		// candidates are discovered solely through the CandidateSource
		// injected into the distributed manager, never via an inbound
		// server-relayed request.
		if p.Type != protocol.ConnectionTypePeer {
			return
		}
		c.mu.Lock()
		peers := c.peers
		c.mu.Unlock()
		if peers == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.connectTimeout)
		defer cancel()
		if _, err := peers.AcceptSolicited(ctx, p.Username, p.IP, p.Port, p.Token); err != nil {
			c.logger.Debug("solicited peer connection failed", zapErrorField(err))
		}
	}
}
