package conn

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ConnectTimeout sets the deadline for Connect to complete the TCP
// handshake. The default is 10s.
func ConnectTimeout(d time.Duration) Option {
	return optionFunc(func(c *Connection) error {
		if d <= 0 {
			return fmt.Errorf("conn: non-positive ConnectTimeout")
		}
		c.connectTimeout = d
		return nil
	})
}

// ReadTimeout sets the per-chunk inactivity watchdog for Read. The
// default is 30s.
func ReadTimeout(d time.Duration) Option {
	return optionFunc(func(c *Connection) error {
		if d <= 0 {
			return fmt.Errorf("conn: non-positive ReadTimeout")
		}
		c.readTimeout = d
		return nil
	})
}

// WithDialFunc overrides how Connect opens the socket, primarily for
// tests that substitute net.Pipe or an in-process listener.
func WithDialFunc(d DialFunc) Option {
	return optionFunc(func(c *Connection) error {
		if d == nil {
			return fmt.Errorf("conn: nil DialFunc")
		}
		c.dial = d
		return nil
	})
}

// NowFunc overrides the connection's clock, primarily for tests.
func NowFunc(f func() time.Time) Option {
	return optionFunc(func(c *Connection) error {
		if f == nil {
			return fmt.Errorf("conn: nil NowFunc")
		}
		c.nowFunc = f
		return nil
	})
}

// Logger sets the structured logger used for diagnostic output.
func Logger(l *zap.Logger) Option {
	return optionFunc(func(c *Connection) error {
		if l == nil {
			return fmt.Errorf("conn: nil Logger")
		}
		c.logger = l
		return nil
	})
}
