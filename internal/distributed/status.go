package distributed

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jpdillingham/soulseek-go/internal/protocol"
)

// Run starts the background status-broadcast loop and parent watchdog
// in their own goroutines and returns immediately. Both loops stop when
// ctx is done or Close is called.
func (m *Manager) Run(ctx context.Context) {
	m.wg.Add(2)
	go m.statusLoop(ctx)
	go m.watchdogLoop(ctx)
}

// statusLoop recomputes the current status every statusInterval and, if
// it differs from the last broadcast one, sends all six status fields to
// the server as individual messages.
func (m *Manager) statusLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.maybeBroadcastStatus(ctx)
		}
	}
}

func (m *Manager) maybeBroadcastStatus(ctx context.Context) {
	current := m.statusPayload()

	m.mu.Lock()
	unchanged := m.lastSent != nil && *m.lastSent == current
	m.mu.Unlock()

	if unchanged {
		return
	}

	if err := m.sendStatus(ctx, current); err != nil {
		m.logger.Warning("status broadcast failed", zap.Error(err))
		return
	}

	m.mu.Lock()
	m.lastSent = &current
	m.mu.Unlock()
}

// sendStatus sends the six individual status fields to the server as
// distinct messages, matching how the real client reports distributed
// network position.
func (m *Manager) sendStatus(ctx context.Context, s protocol.StatusPayload) error {
	if err := m.server.Send(ctx, protocol.ServerHaveNoParents, protocol.NewWriter().Bool(s.HaveNoParents).Bytes()); err != nil {
		return err
	}
	if err := m.server.Send(ctx, protocol.ServerParentsIP, protocol.NewWriter().IP(s.ParentsIP).Bytes()); err != nil {
		return err
	}
	if err := m.server.Send(ctx, protocol.ServerBranchLevel, protocol.NewWriter().Uint32(s.BranchLevel).Bytes()); err != nil {
		return err
	}
	if err := m.server.Send(ctx, protocol.ServerBranchRoot, protocol.NewWriter().String(s.BranchRoot).Bytes()); err != nil {
		return err
	}
	if err := m.server.Send(ctx, protocol.ServerChildDepth, protocol.NewWriter().Uint32(s.ChildDepth).Bytes()); err != nil {
		return err
	}
	if err := m.server.Send(ctx, protocol.ServerAcceptChildren, protocol.NewWriter().Bool(s.AcceptChildren).Bytes()); err != nil {
		return err
	}
	return nil
}

// watchdogLoop checks every inactivityTimeout whether there is a parent
// and, while there is none, triggers re-election with a backoff policy
// between attempts. A connected parent is left alone. Election
// candidates are supplied by the CandidateSource option; without one the
// watchdog only logs.
func (m *Manager) watchdogLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.inactivityTimeout)
	defer ticker.Stop()

	var policy interface {
		Next() (time.Duration, bool)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if m.Parent() != nil {
				policy = nil
				continue
			}

			if policy == nil {
				policy = m.retryFactory.NewPolicy(ctx)
			}

			wait, ok := policy.Next()
			if !ok {
				m.logger.Error("parent re-election backoff exhausted")
				policy = nil
				continue
			}

			m.logger.Warning("no parent connection; re-election pending", zap.Duration("backoff", wait))

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			}

			candidates := m.nextCandidates(ctx)
			if len(candidates) == 0 {
				continue
			}

			if err := m.ElectParent(ctx, candidates); err != nil {
				m.logger.Warning("parent re-election failed", zap.Error(err))
				continue
			}

			policy = nil
		}
	}
}

// nextCandidates is a seam for the caller-supplied candidate source;
// discovering peers to try for re-election is the server/search layer's
// responsibility, not this manager's, so without one set the watchdog
// only logs and waits for the next backoff tick.
func (m *Manager) nextCandidates(ctx context.Context) []Candidate {
	if m.candidateSource == nil {
		return nil
	}
	return m.candidateSource(ctx)
}
