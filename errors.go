package soulseek

import "errors"

var (
	// ErrLoginFailed is returned when the server rejects a login
	// attempt, wrapping the message the server sent back.
	ErrLoginFailed = errors.New("soulseek: login failed")

	// ErrNotConnected is returned by operations that require an active
	// server connection when none exists.
	ErrNotConnected = errors.New("soulseek: not connected")

	// ErrAlreadyConnected is returned by Connect when called on a
	// client that is already connected.
	ErrAlreadyConnected = errors.New("soulseek: already connected")

	errEmptyUsername      = errors.New("soulseek: empty username")
	errEmptyServerAddress = errors.New("soulseek: empty server address")
)
