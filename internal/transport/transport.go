// Package transport defines the mailbox's external interfaces to the
// email system (outbound SMTP delivery, inbound IMAP retrieval) and
// provides concrete adapters over real SMTP/IMAP clients.
package transport

import (
	"context"
	"time"
)

// OutboundSink delivers a raw RFC 5322 message. Implementations may block
// briefly; a failed Send is not retried here — the socket's own retransmit
// timer is the recovery mechanism.
type OutboundSink interface {
	SendMail(ctx context.Context, fromAddr, toAddr string, raw []byte) error
}

// WakeReason describes why InboundSource.IdleWait returned.
type WakeReason int

const (
	// WakeNew indicates the mail store announced new messages.
	WakeNew WakeReason = iota
	// WakeTimeout indicates the idle period elapsed with no new mail.
	WakeTimeout
	// WakeCancelled indicates the wait was interrupted by cancellation.
	WakeCancelled
)

// InboundSource retrieves new messages from the mail store.
type InboundSource interface {
	// IdleWait blocks until new mail is announced, the given timeout
	// elapses, or ctx is cancelled.
	IdleWait(ctx context.Context, timeout time.Duration) (WakeReason, error)
	// SearchUnseen returns the UIDs of all unseen messages.
	SearchUnseen(ctx context.Context) ([]uint32, error)
	// FetchBodies retrieves the raw RFC 5322 bytes of the given UIDs.
	FetchBodies(ctx context.Context, uids []uint32) (map[uint32][]byte, error)
	// MarkSeen flags the given UIDs as seen.
	MarkSeen(ctx context.Context, uids []uint32) error
}
