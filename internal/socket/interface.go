package socket

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/mailim/tom/internal/endpoint"
	"github.com/mailim/tom/internal/ratchet"
)

// SecureParams carries the key material needed to start a Double Ratchet
// channel on Connect or Accept. SharedSecret is the out-of-band-agreed
// root secret; PeerDHPub is set for the initiator side (Connect),
// OwnDHPriv for the responder side (Accept).
type SecureParams struct {
	SharedSecret []byte
	PeerDHPub    []byte
	OwnDHPriv    []byte
	OwnSign      ratchet.SignKeyPair
	PeerSign     ed25519.PublicKey
}

// Create allocates a new socket id in the Created state.
func (mb *Mailbox) Create() SocketID {
	sid := mb.allocateID()
	mb.mu.Lock()
	mb.sockets[sid] = &createdContext{}
	mb.mu.Unlock()
	return sid
}

// Connect transitions sid from Created to Connected, dialing (local,
// remote). If secure is non-nil the connection negotiates a Double
// Ratchet channel and blocks (up to timeout) for the handshake ACK.
func (mb *Mailbox) Connect(sid SocketID, local, remote endpoint.Endpoint, secure *SecureParams, timeout time.Duration) error {
	mb.mu.Lock()
	raw, ok := mb.sockets[sid]
	if !ok {
		mb.mu.Unlock()
		return fmt.Errorf("socket %d: %w", sid, ErrInvalidState)
	}
	if _, isCreated := raw.(*createdContext); !isCreated {
		mb.mu.Unlock()
		return fmt.Errorf("socket %d: %w", sid, ErrInvalidState)
	}
	pair := endpoint.Pair{Local: local, Remote: remote}
	if _, exists := mb.connectedIndex[pair]; exists {
		mb.mu.Unlock()
		return fmt.Errorf("socket %d: %w", sid, ErrAddressInUse)
	}
	c := newConnectedContext(local, remote)
	mb.connectedIndex[pair] = sid
	mb.sockets[sid] = c
	mb.mu.Unlock()

	mb.coll.SocketConnected(secure != nil)

	if secure == nil {
		return nil
	}

	channel, err := ratchet.NewInitiator(secure.SharedSecret, secure.PeerDHPub, mb.cfg.MaxMsgKeys, secure.OwnSign, secure.PeerSign)
	if err != nil {
		mb.CloseSocket(sid)
		return fmt.Errorf("socket %d: ratchet init: %w", sid, err)
	}
	c.secure = &secureState{channel: channel, connectDone: make(chan struct{})}

	c.mu.Lock()
	seq := c.nextSeq
	c.nextSeq++
	c.pendingLocal[seq] = &pendingSend{isSyn: true}
	c.mu.Unlock()
	mb.sched.schedule(0, func() { mb.taskTransmit(sid, c, seq) })

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timeoutCh = mb.sched.after(timeout)
	}
	select {
	case <-c.secure.connectDone:
	case <-timeoutCh:
	}
	if !c.secure.handshakeOK {
		mb.coll.HandshakeTimedOut()
		mb.Shutdown(sid)
		return fmt.Errorf("socket %d: %w", sid, ErrHandshakeTimeout)
	}
	mb.coll.HandshakeCompleted()
	return nil
}

// Listen transitions sid from Created to Listening on local, which may be
// an incomplete (wildcard) endpoint.
func (mb *Mailbox) Listen(sid SocketID, local endpoint.Endpoint) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	raw, ok := mb.sockets[sid]
	if !ok {
		return fmt.Errorf("socket %d: %w", sid, ErrInvalidState)
	}
	if _, isCreated := raw.(*createdContext); !isCreated {
		return fmt.Errorf("socket %d: %w", sid, ErrInvalidState)
	}
	for _, existing := range mb.listeningIndex {
		if local.Intersects(existing) {
			return fmt.Errorf("socket %d: %w", sid, ErrAddressInUse)
		}
	}
	mb.listeningIndex[sid] = local
	mb.sockets[sid] = newListeningContext(local)
	return nil
}

// AcceptResolver supplies the extra material Accept needs when the
// decision function chooses AcceptSecure or AcceptRestore.
type AcceptResolver interface {
	SecureParams(local, remote endpoint.Endpoint) (*SecureParams, error)
	Dump(local, remote endpoint.Endpoint) ([]byte, bool)
}

// Accept blocks (up to timeout) until a pending child connection is
// queued, then disposes of it per decide's verdict.
func (mb *Mailbox) Accept(sid SocketID, timeout time.Duration, decide AcceptFunc, resolve AcceptResolver) (SocketID, error) {
	raw := mb.lookupContext(sid)
	l, ok := raw.(*listeningContext)
	if !ok {
		return 0, fmt.Errorf("socket %d: %w", sid, ErrInvalidState)
	}
	if decide == nil {
		decide = AcceptPlainAlways
	}

	l.mu.Lock()
	dl := newDeadline(timeout)
	for len(l.queue) == 0 && !l.closed {
		if !dl.waitOn(l.cv) {
			break
		}
	}
	if l.closed {
		l.mu.Unlock()
		return 0, ErrClosed
	}
	if len(l.queue) == 0 {
		l.mu.Unlock()
		return 0, nil // timeout, per spec.md §4.5 (no error, empty result)
	}
	childSid := l.queue[0]
	l.queue = l.queue[1:]
	child := l.sockets[childSid]
	delete(l.sockets, childSid)
	delete(l.connectedSockets, endpoint.Pair{Local: child.local, Remote: child.remote})
	l.mu.Unlock()

	decision := decide(child.local, child.remote, child.pendingSecure)

	switch decision {
	case AcceptDecline:
		return 0, nil
	case AcceptRestore:
		if resolve == nil {
			return 0, fmt.Errorf("socket %d: %w", sid, ErrInvalidDump)
		}
		dump, ok := resolve.Dump(child.local, child.remote)
		if !ok {
			return 0, fmt.Errorf("socket %d: %w", sid, ErrInvalidDump)
		}
		var own ratchet.SignKeyPair
		var peerSign ed25519.PublicKey
		if params, err := resolve.SecureParams(child.local, child.remote); err == nil && params != nil {
			own, peerSign = params.OwnSign, params.PeerSign
		}
		return mb.Restore(dump, own, peerSign)
	case AcceptSecure:
		if resolve == nil {
			return 0, fmt.Errorf("socket %d: %w", sid, ErrInvalidState)
		}
		params, err := resolve.SecureParams(child.local, child.remote)
		if err != nil {
			return 0, err
		}
		channel, err := ratchet.NewResponder(params.SharedSecret, params.OwnDHPriv, mb.cfg.MaxMsgKeys, params.OwnSign, params.PeerSign)
		if err != nil {
			return 0, fmt.Errorf("socket %d: ratchet responder: %w", sid, err)
		}
		child.mu.Lock()
		child.secure = &secureState{channel: channel, connectDone: make(chan struct{})}
		if first := child.pendingFirstSecure; first != nil {
			child.pendingFirstSecure = nil
			if !mb.applySecureToConnected(childSid, child, *first) {
				child.mu.Unlock()
				return 0, ratchet.ErrSignatureInvalid
			}
		}
		seq := child.nextSeq
		child.nextSeq++
		child.pendingLocal[seq] = &pendingSend{isSyn: true}
		child.mu.Unlock()
		childSid2 := mb.installAccepted(childSid, child)
		mb.sched.schedule(0, func() { mb.taskTransmit(childSid2, child, seq) })
		mb.coll.ListenerAccepted(true)
		return childSid2, nil
	default: // AcceptPlain
		childSid2 := mb.installAccepted(childSid, child)
		mb.coll.ListenerAccepted(false)
		return childSid2, nil
	}
}

// installAccepted moves an accepted child context into the mailbox's
// top-level registry and arms its first delayed ACK, if one is owed.
func (mb *Mailbox) installAccepted(sid SocketID, child *connectedContext) SocketID {
	mb.mu.Lock()
	mb.sockets[sid] = child
	mb.connectedIndex[endpoint.Pair{Local: child.local, Remote: child.remote}] = sid
	mb.mu.Unlock()

	child.mu.Lock()
	owesAck := len(child.toAck) > 0
	nextSeq := child.nextSeq
	child.mu.Unlock()
	if owesAck {
		mb.sched.schedule(mb.atoDuration(), func() { mb.taskSendAck(sid, child, nextSeq) })
	}
	return sid
}

// Send queues buf as the payload of the next seq and kicks its first
// transmit attempt.
func (mb *Mailbox) Send(sid SocketID, buf []byte) (int, error) {
	raw := mb.lookupContext(sid)
	c, ok := raw.(*connectedContext)
	if !ok {
		return 0, fmt.Errorf("socket %d: %w", sid, ErrInvalidState)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, fmt.Errorf("socket %d: %w", sid, ErrClosed)
	}
	if c.secure != nil && !c.secure.handshaked {
		c.mu.Unlock()
		return 0, fmt.Errorf("socket %d: %w", sid, ErrNotHandshaked)
	}
	seq := c.nextSeq
	c.nextSeq++
	isSyn := c.hasSynSeq && c.synSeq == seq
	c.pendingLocal[seq] = &pendingSend{payload: buf, isSyn: isSyn}
	c.mu.Unlock()

	mb.sched.schedule(0, func() { mb.taskTransmit(sid, c, seq) })
	return len(buf), nil
}

// Recv blocks (up to timeout) until bytes are available or the socket is
// closed, then copies up to size bytes starting at the receive cursor.
func (mb *Mailbox) Recv(sid SocketID, size int, timeout time.Duration) ([]byte, error) {
	raw := mb.lookupContext(sid)
	c, ok := raw.(*connectedContext)
	if !ok {
		return nil, fmt.Errorf("socket %d: %w", sid, ErrInvalidState)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	dl := newDeadline(timeout)
	var out []byte
	for size > 0 {
		payload, has := c.pendingRemote[c.recvSeq]
		if !has {
			if c.closed || len(out) > 0 {
				break
			}
			if !dl.waitOn(c.cv) {
				break
			}
			continue
		}
		avail := payload[c.recvOffset:]
		n := len(avail)
		if n > size {
			n = size
		}
		out = append(out, avail[:n]...)
		size -= n
		if c.recvOffset+n >= len(payload) {
			delete(c.pendingRemote, c.recvSeq)
			c.recvSeq++
			c.recvOffset = 0
		} else {
			c.recvOffset += n
		}
	}
	if c.closed && len(out) == 0 {
		if _, has := c.pendingRemote[c.recvSeq]; !has {
			return nil, fmt.Errorf("socket %d: %w", sid, ErrClosed)
		}
	}
	if _, has := c.pendingRemote[c.recvSeq]; !has {
		c.updateReady(sid, false, false)
	}
	return out, nil
}

// Shutdown marks sid closed, removes it from the demultiplex indices, and
// wakes every waiter, but leaves the context reachable for Dump.
func (mb *Mailbox) Shutdown(sid SocketID) error {
	raw := mb.lookupContext(sid)
	switch c := raw.(type) {
	case *connectedContext:
		mb.mu.Lock()
		delete(mb.connectedIndex, endpoint.Pair{Local: c.local, Remote: c.remote})
		mb.mu.Unlock()
		c.mu.Lock()
		c.closed = true
		c.updateReady(sid, false, true)
		c.notifyAll()
		c.mu.Unlock()
		mb.coll.SocketClosed()
		return nil
	case *listeningContext:
		mb.mu.Lock()
		delete(mb.listeningIndex, sid)
		mb.mu.Unlock()
		c.mu.Lock()
		c.closed = true
		c.cv.Broadcast()
		c.mu.Unlock()
		return nil
	case *createdContext:
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("socket %d: %w", sid, ErrInvalidState)
	}
}

// CloseSocket shuts sid down (if needed) and deletes it entirely.
func (mb *Mailbox) CloseSocket(sid SocketID) error {
	if mb.lookupContext(sid) == nil {
		return fmt.Errorf("socket %d: %w", sid, ErrInvalidState)
	}
	_ = mb.Shutdown(sid)
	mb.mu.Lock()
	delete(mb.sockets, sid)
	mb.mu.Unlock()
	return nil
}
