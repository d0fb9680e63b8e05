package distributed

import (
	"context"
	"time"

	"github.com/xmidt-org/retry"

	"github.com/jpdillingham/soulseek-go/internal/diag"
)

// Option configures a Manager at construction time.
type Option interface {
	apply(*Manager)
}

type optionFunc func(*Manager)

func (f optionFunc) apply(m *Manager) { f(m) }

// ConnectTimeout bounds a candidate dial's TCP handshake. Default 10s.
func ConnectTimeout(d time.Duration) Option {
	return optionFunc(func(m *Manager) {
		if d > 0 {
			m.connectTimeout = d
		}
	})
}

// ReadTimeout sets the inactivity watchdog for parent/child sockets.
// Default 30s.
func ReadTimeout(d time.Duration) Option {
	return optionFunc(func(m *Manager) {
		if d > 0 {
			m.readTimeout = d
		}
	})
}

// StatusInterval sets how often status is recomputed and, if changed,
// broadcast. Default 5s, per spec §4.6.
func StatusInterval(d time.Duration) Option {
	return optionFunc(func(m *Manager) {
		if d > 0 {
			m.statusInterval = d
		}
	})
}

// InactivityTimeout sets how often the parent watchdog checks for a
// missing parent and, when there is none, starts re-election. A
// connected parent is not disconnected for lack of traffic. Default 60s.
func InactivityTimeout(d time.Duration) Option {
	return optionFunc(func(m *Manager) {
		if d > 0 {
			m.inactivityTimeout = d
		}
	})
}

// ChildCapacity bounds the number of accepted child connections.
// Default 50.
func ChildCapacity(n int) Option {
	return optionFunc(func(m *Manager) {
		if n > 0 {
			m.childCap = n
		}
	})
}

// RetryPolicy overrides the backoff used between re-election attempts
// when a candidate pool is exhausted without a qualifying parent.
func RetryPolicy(pf retry.PolicyFactory) Option {
	return optionFunc(func(m *Manager) {
		if pf != nil {
			m.retryFactory = pf
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

// CandidateSource supplies the watchdog with a fresh candidate pool to
// try when the parent connection is lost and needs re-electing.
func CandidateSource(f func(ctx context.Context) []Candidate) Option {
	return optionFunc(func(m *Manager) {
		if f != nil {
			m.candidateSource = f
		}
	})
}
