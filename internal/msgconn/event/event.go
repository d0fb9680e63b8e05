// Package event defines the notifications emitted by a MessageConnection.
package event

import "time"

// MessageRead is emitted for every whole message decoded off the wire.
type MessageRead struct {
	At      time.Time
	Code    uint32
	Payload []byte
}

// MessageReadListener receives MessageRead notifications.
type MessageReadListener interface {
	OnMessageRead(MessageRead)
}

// MessageReadListenerFunc adapts a function to a MessageReadListener.
type MessageReadListenerFunc func(MessageRead)

func (f MessageReadListenerFunc) OnMessageRead(m MessageRead) { f(m) }

// CancelFunc removes a previously added listener. It is idempotent.
type CancelFunc func()
