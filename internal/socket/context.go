package socket

import (
	"sync"

	"github.com/mailim/tom/internal/endpoint"
	"github.com/mailim/tom/internal/ratchet"
	"github.com/mailim/tom/internal/wire"
)

// SocketID uniquely identifies a socket within one Mailbox, monotonically
// allocated and dense within it.
type SocketID int64

// pendingSend is one not-yet-acknowledged outbound unit, keyed by seq in
// a connectedContext's pendingLocal map. For a plain socket it carries the
// raw payload, rebuilt into a fresh wire.PlainPacket on every retransmit
// attempt. For a secure socket the ratchet ciphertext is frozen at first
// encryption and resent verbatim; only the acks header and its signature
// are rebuilt per attempt.
type pendingSend struct {
	payload []byte
	isSyn   bool
	sealed  *ratchet.SealedMessage
}

// secureState is the secure-channel extension of a connectedContext, per
// spec.md §3 SecureConnected.
type secureState struct {
	channel    *ratchet.Channel
	handshaked bool
	// connectDone is closed exactly once, when the handshake completes (or
	// right away for a restored socket); Connect blocks on it, racing its
	// own timeout.
	connectDone chan struct{}
	handshakeOK bool
}

// connectedContext is the per-socket state for an active (or
// shutting-down) connection: both plain and secure sockets share it,
// distinguished by a nil/non-nil secure field, per SPEC_FULL.md's
// tagged-variant guidance.
type connectedContext struct {
	mu sync.Mutex
	cv *sync.Cond

	closed bool

	rWaiters map[int64]*waiterGroup
	xWaiters map[int64]*waiterGroup

	local, remote endpoint.Endpoint

	nextSeq       int64
	recvSeq       int64
	recvOffset    int
	pendingLocal  map[int64]*pendingSend
	pendingRemote map[int64][]byte
	sentAcks      map[int64]map[wire.PacketID]struct{}
	attempts      map[int64]uint32
	toAck         map[wire.PacketID]struct{}
	hasSynSeq     bool
	synSeq        int64
	ackScheduled  bool

	secure *secureState

	// pendingSecure records whether the SYN packet that created this
	// context (via a listening socket) arrived as a SecurePacket, for
	// Accept's should_accept predicate. Unused once secure is non-nil.
	pendingSecure bool
	// pendingFirstSecure holds that SYN packet's wire form until Accept
	// provisions a responder channel able to open it.
	pendingFirstSecure *wire.SecurePacket
}

func newConnectedContext(local, remote endpoint.Endpoint) *connectedContext {
	c := &connectedContext{
		rWaiters:      make(map[int64]*waiterGroup),
		xWaiters:      make(map[int64]*waiterGroup),
		local:         local,
		remote:        remote,
		pendingLocal:  make(map[int64]*pendingSend),
		pendingRemote: make(map[int64][]byte),
		sentAcks:      make(map[int64]map[wire.PacketID]struct{}),
		attempts:      make(map[int64]uint32),
		toAck:         make(map[wire.PacketID]struct{}),
		hasSynSeq:     true,
		synSeq:        0,
	}
	c.cv = sync.NewCond(&c.mu)
	return c
}

func (c *connectedContext) toAckSnapshot() map[wire.PacketID]struct{} {
	snap := make(map[wire.PacketID]struct{}, len(c.toAck))
	for id := range c.toAck {
		snap[id] = struct{}{}
	}
	return snap
}

// notifyAll wakes local condvar waiters (Recv). Waiter groups are not
// touched here; updateReady reports readiness to them. Callers must hold
// c.mu.
func (c *connectedContext) notifyAll() {
	c.cv.Broadcast()
}

// updateReady marks sid read- and/or error-ready across every waiter group
// registered on this context. Callers must hold c.mu.
func (c *connectedContext) updateReady(sid SocketID, read, errReady bool) {
	for _, wg := range c.rWaiters {
		wg.markReady(sid, read, false)
	}
	if errReady {
		for _, wg := range c.xWaiters {
			wg.markReady(sid, false, true)
		}
	}
	if !read {
		for _, wg := range c.rWaiters {
			wg.clearRead(sid)
		}
	}
}

// listeningContext is the per-socket state for a listening socket: pending
// child connections queued for Accept, per spec.md §3 Listening.
type listeningContext struct {
	mu sync.Mutex
	cv *sync.Cond

	closed bool

	rWaiters map[int64]*waiterGroup
	xWaiters map[int64]*waiterGroup

	local endpoint.Endpoint

	queue            []SocketID
	connectedSockets map[endpoint.Pair]SocketID
	sockets          map[SocketID]*connectedContext
}

func newListeningContext(local endpoint.Endpoint) *listeningContext {
	l := &listeningContext{
		rWaiters:         make(map[int64]*waiterGroup),
		xWaiters:         make(map[int64]*waiterGroup),
		local:            local,
		connectedSockets: make(map[endpoint.Pair]SocketID),
		sockets:          make(map[SocketID]*connectedContext),
	}
	l.cv = sync.NewCond(&l.mu)
	return l
}

func (l *listeningContext) updateReady(sid SocketID, read bool) {
	for _, wg := range l.rWaiters {
		wg.markReady(sid, read, false)
	}
}

// createdContext is the initial state of a freshly allocated socket id,
// before Connect or Listen.
type createdContext struct {
	mu     sync.Mutex
	closed bool
}

// AcceptDecision selects what Accept does with a pending child connection,
// per spec.md §4.5 ("should_accept predicate").
type AcceptDecision int

const (
	// AcceptDecline drops the pending child without acknowledging it.
	AcceptDecline AcceptDecision = iota
	// AcceptPlain accepts the child as an ordinary plain socket.
	AcceptPlain
	// AcceptSecure accepts the child and synthesizes the listener's side
	// of a Double Ratchet handshake.
	AcceptSecure
	// AcceptRestore discards the freshly queued child and instead
	// restores a previously dumped socket for this (local,remote) pair.
	AcceptRestore
)

// AcceptFunc decides how Accept should dispose of a pending child
// connection. secure reports whether the inbound packet that created the
// pending child was a SecurePacket.
type AcceptFunc func(local, remote endpoint.Endpoint, secure bool) AcceptDecision

// AcceptPlainAlways is the default AcceptFunc: it accepts a plain child as
// plain and a secure child as secure.
func AcceptPlainAlways(local, remote endpoint.Endpoint, secure bool) AcceptDecision {
	if secure {
		return AcceptSecure
	}
	return AcceptPlain
}
