package soulseek

import (
	"time"

	"golang.org/x/time/rate"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/jpdillingham/soulseek-go/internal/diag"
)

// Option configures a Client at construction time, surfacing every
// recognized configuration key from spec.md §6.
type Option interface {
	apply(*Client)
}

type optionFunc func(*Client)

func (f optionFunc) apply(c *Client) { f(c) }

// ListenAddress sets the local address the inbound connection router
// binds to. Default ":2234", the conventional Soulseek peer port.
func ListenAddress(addr string) Option {
	return optionFunc(func(c *Client) {
		if addr != "" {
			c.listenAddress = addr
		}
	})
}

// MessageTimeout bounds the server login/address-lookup round trip and
// the transfer engine's wait for a peer's first PeerTransferResponse.
// Default 30s.
func MessageTimeout(d time.Duration) Option {
	return optionFunc(func(c *Client) {
		if d > 0 {
			c.messageTimeout = d
		}
	})
}

// ConnectTimeout bounds every outbound TCP dial: the server connection,
// peer direct dials, and distributed candidate dials. Default 10s.
func ConnectTimeout(d time.Duration) Option {
	return optionFunc(func(c *Client) {
		if d > 0 {
			c.connectTimeout = d
		}
	})
}

// ReadInactivityTimeout sets the inactivity watchdog applied to every
// connection the peer and distributed managers establish or adopt.
// Default 30s.
func ReadInactivityTimeout(d time.Duration) Option {
	return optionFunc(func(c *Client) {
		if d > 0 {
			c.readTimeout = d
		}
	})
}

// DistributedInactivityTimeout sets how often the distributed parent
// watchdog checks for a missing parent and, when there is none, starts
// re-election. A connected parent is not disconnected for lack of
// traffic. Default 60s.
func DistributedInactivityTimeout(d time.Duration) Option {
	return optionFunc(func(c *Client) {
		if d > 0 {
			c.distributedInactivityTimeout = d
		}
	})
}

// ConcurrentPeerMessageConnections bounds the number of distinct peer
// message connections held open at once. Default 500.
func ConcurrentPeerMessageConnections(n int64) Option {
	return optionFunc(func(c *Client) {
		if n > 0 {
			c.peerCapacity = n
		}
	})
}

// ConcurrentDistributedChildren bounds the number of accepted
// distributed child connections. Default 50.
func ConcurrentDistributedChildren(n int) Option {
	return optionFunc(func(c *Client) {
		if n > 0 {
			c.childCapacity = n
		}
	})
}

// AutoAcknowledgePrivateMessages, when set, causes the client to
// auto-acknowledge private messages rather than leaving that to the
// caller. The engine built here does not yet implement private
// messaging (no Non-goal covers it, but no component needs it to
// exercise the core download path either); the flag is recorded for a
// future message-handling layer to read.
func AutoAcknowledgePrivateMessages(v bool) Option {
	return optionFunc(func(c *Client) { c.autoAcknowledgePrivateMessages = v })
}

// MinimumDiagnosticLevel filters the client's structured logging.
// Default diag.LevelInfo.
func MinimumDiagnosticLevel(l diag.Level) Option {
	return optionFunc(func(c *Client) { c.diagLevel = l })
}

// DiagnosticFile adds a rotating file sink alongside stderr output.
func DiagnosticFile(f *lumberjack.Logger) Option {
	return optionFunc(func(c *Client) { c.diagFile = f })
}

// Logger overrides the client's diagnostic sink entirely, bypassing
// MinimumDiagnosticLevel/DiagnosticFile construction. Intended for
// tests and callers that already manage their own zap-backed sink.
func Logger(l diag.Sink) Option {
	return optionFunc(func(c *Client) {
		if l != nil {
			c.logger = l
		}
	})
}

// DownloadGovernor paces every download's byte stream through the given
// rate limiter. nil (the default) applies no pacing.
func DownloadGovernor(limiter *rate.Limiter) Option {
	return optionFunc(func(c *Client) { c.governor = limiter })
}
