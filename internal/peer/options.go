package peer

import (
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jpdillingham/soulseek-go/internal/diag"
)

// Option configures a Manager at construction time.
type Option interface {
	apply(*Manager)
}

type optionFunc func(*Manager)

func (f optionFunc) apply(m *Manager) { f(m) }

// ConnectTimeout bounds how long a direct dial sub-task waits for the TCP
// handshake. The default is 10s.
func ConnectTimeout(d time.Duration) Option {
	return optionFunc(func(m *Manager) {
		if d > 0 {
			m.connectTimeout = d
		}
	})
}

// ReadTimeout sets the inactivity watchdog for every connection the
// manager establishes or adopts. The default is 30s.
func ReadTimeout(d time.Duration) Option {
	return optionFunc(func(m *Manager) {
		if d > 0 {
			m.readTimeout = d
		}
	})
}

// Capacity bounds the number of distinct peer message connections the
// manager will hold open concurrently. The default is 500.
func Capacity(n int64) Option {
	return optionFunc(func(m *Manager) {
		if n > 0 {
			m.sem = semaphore.NewWeighted(n)
		}
	})
}

// Logger sets the diagnostic sink used for manager-level events.
func Logger(l diag.Sink) Option {
	return optionFunc(func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	})
}

// NowFunc overrides the manager's clock, primarily for tests.
func NowFunc(f func() time.Time) Option {
	return optionFunc(func(m *Manager) {
		if f != nil {
			m.nowFunc = f
		}
	})
}
