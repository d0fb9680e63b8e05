// Package event defines the notifications emitted by a Download.
package event

import "time"

// StateChanged is emitted on every state transition.
type StateChanged struct {
	At   time.Time
	From string
	To   string
}

// StateChangedListener receives StateChanged notifications.
type StateChangedListener interface {
	OnStateChanged(StateChanged)
}

// StateChangedListenerFunc adapts a function to a StateChangedListener.
type StateChangedListenerFunc func(StateChanged)

func (f StateChangedListenerFunc) OnStateChanged(s StateChanged) { f(s) }

// ProgressUpdated is emitted after each chunk of transfer payload is
// written to the data sink.
type ProgressUpdated struct {
	At      time.Time
	Current uint64
	Total   uint64
}

// ProgressUpdatedListener receives ProgressUpdated notifications.
type ProgressUpdatedListener interface {
	OnProgressUpdated(ProgressUpdated)
}

// ProgressUpdatedListenerFunc adapts a function to a
// ProgressUpdatedListener.
type ProgressUpdatedListenerFunc func(ProgressUpdated)

func (f ProgressUpdatedListenerFunc) OnProgressUpdated(p ProgressUpdated) { f(p) }

// CancelFunc removes a previously added listener. It is idempotent.
type CancelFunc func()
