package socket

import "errors"

// Sentinel errors returned by the public socket API.
var (
	// ErrInvalidState is returned when an operation is attempted against a
	// socket in a context that does not permit it (e.g. Connect on a
	// listening socket).
	ErrInvalidState = errors.New("socket: invalid state")
	// ErrAddressInUse is returned when a (local,remote) pair or a listening
	// endpoint collides with an existing one.
	ErrAddressInUse = errors.New("socket: address in use")
	// ErrClosed is returned by an operation on a closed or shut-down
	// socket, or by a blocking call woken by mailbox shutdown.
	ErrClosed = errors.New("socket: closed")
	// ErrHandshakeTimeout is returned when a secure Connect's handshake is
	// not acknowledged before its deadline.
	ErrHandshakeTimeout = errors.New("socket: handshake timeout")
	// ErrNotHandshaked is returned by Send on a secure socket before its
	// handshake has completed.
	ErrNotHandshaked = errors.New("socket: not handshaked")
	// ErrInvalidDump is returned by Restore when the dump is the wrong
	// shape or corrupted.
	ErrInvalidDump = errors.New("socket: invalid dump")
)
