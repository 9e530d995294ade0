package socket

import (
	"context"
	"time"

	"github.com/ericlagergren/dr"

	"github.com/mailim/tom/internal/endpoint"
	"github.com/mailim/tom/internal/ratchet"
	"github.com/mailim/tom/internal/transport"
	"github.com/mailim/tom/internal/wire"
)

// sealedFromWire reassembles the ratchet-layer view of a SecurePacket from
// its wire encoding.
func sealedFromWire(p wire.SecurePacket) ratchet.SealedMessage {
	return ratchet.SealedMessage{
		Header:     dr.Header{PublicKey: p.DHPub, N: int(p.N), PN: int(p.PN)},
		Ciphertext: p.Ciphertext,
		Signature:  p.Signature,
	}
}

// idleTimeout bounds how long a single IMAP IDLE command is held open
// before it is renewed, well under the ~29 minute server-side limit most
// IMAP servers enforce.
const idleTimeout = 20 * time.Minute

// listen is the inbound dispatch loop, per spec.md §4.4. It runs for the
// lifetime of the Mailbox, started from New when an InboundSource is
// configured.
func (mb *Mailbox) listen(ctx context.Context) {
	defer close(mb.listenerDone)
	mb.checkNewPackets(ctx)
	for {
		reason, err := mb.inbound.IdleWait(ctx, idleTimeout)
		if err != nil || reason == transport.WakeCancelled {
			return
		}
		mb.checkNewPackets(ctx)
	}
}

// checkNewPackets fetches every unseen message, routes each to a socket,
// and marks only the successfully-routed ones seen, leaving the rest for
// a later retry or for operator inspection.
func (mb *Mailbox) checkNewPackets(ctx context.Context) {
	uids, err := mb.inbound.SearchUnseen(ctx)
	if err != nil {
		mb.logger.Warn("search unseen failed", "err", err)
		return
	}
	if len(uids) == 0 {
		return
	}
	bodies, err := mb.inbound.FetchBodies(ctx, uids)
	if err != nil {
		mb.logger.Warn("fetch bodies failed", "err", err)
		return
	}

	var seen []uint32
	for _, uid := range uids {
		raw, ok := bodies[uid]
		if !ok {
			continue
		}
		if mb.processIncomingPacket(raw) {
			seen = append(seen, uid)
		}
	}
	if len(seen) > 0 {
		if err := mb.inbound.MarkSeen(ctx, seen); err != nil {
			mb.logger.Warn("mark seen failed", "err", err)
		}
	}
}

// processIncomingPacket decodes raw as a plain or secure packet (the
// Content-Type header disambiguates) and routes it. It returns whether the
// message was consumed by some socket and may be marked seen.
func (mb *Mailbox) processIncomingPacket(raw []byte) bool {
	if plain, err := wire.DecodePlain(raw); err == nil {
		mb.coll.PacketReceived()
		return mb.routePlain(plain)
	}
	if secure, err := wire.DecodeSecure(raw); err == nil {
		mb.coll.PacketReceived()
		return mb.routeSecure(secure)
	}
	mb.coll.PacketDropped("decode")
	return false
}

// findRoute resolves (to,from) to an existing Connected socket, or failing
// that, a Listening socket whose local endpoint matches to, per spec.md
// §4.1's exact-match-then-wildcard rule.
func (mb *Mailbox) findRoute(to, from endpoint.Endpoint) (sid SocketID, connected *connectedContext, listening *listeningContext) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	pair := endpoint.Pair{Local: to, Remote: from}
	if sid, ok := mb.connectedIndex[pair]; ok {
		if c, ok := mb.sockets[sid].(*connectedContext); ok {
			return sid, c, nil
		}
	}
	for lsid, local := range mb.listeningIndex {
		if local.Matches(to) {
			if l, ok := mb.sockets[lsid].(*listeningContext); ok {
				return lsid, nil, l
			}
		}
	}
	return 0, nil, nil
}

// routePlain applies one decoded PlainPacket to whatever socket owns
// (p.To, p.From), per spec.md §4.1 and §4.5.
func (mb *Mailbox) routePlain(p wire.PlainPacket) bool {
	sid, c, l := mb.findRoute(p.To, p.From)
	switch {
	case c != nil:
		if c.secure != nil {
			mb.coll.PacketDropped("plain on secure socket")
			return false
		}
		c.mu.Lock()
		mb.applyPlainToConnected(sid, c, p)
		c.mu.Unlock()
		return true

	case l != nil:
		l.mu.Lock()
		childSid, child := mb.lookupOrCreateChild(sid, l, p.To, p.From)
		if child.secure != nil || child.pendingSecure {
			l.mu.Unlock()
			mb.coll.PacketDropped("plain on pending-secure child")
			return false
		}
		l.mu.Unlock()

		child.mu.Lock()
		mb.applyPlainToConnected(childSid, child, p)
		child.mu.Unlock()
		return true

	default:
		mb.coll.PacketDropped("no route")
		return false
	}
}

// routeSecure applies one decoded SecurePacket. When the owning context
// already has a ratchet channel it is opened immediately; otherwise (the
// first packet on a fresh listening child) it is stashed for Accept to
// open once it provisions the responder's channel.
func (mb *Mailbox) routeSecure(p wire.SecurePacket) bool {
	sid, c, l := mb.findRoute(p.To, p.From)
	switch {
	case c != nil:
		if c.secure == nil {
			mb.coll.PacketDropped("secure on plain socket")
			return false
		}
		c.mu.Lock()
		ok := mb.applySecureToConnected(sid, c, p)
		c.mu.Unlock()
		return ok

	case l != nil:
		l.mu.Lock()
		childSid, child := mb.lookupOrCreateChild(sid, l, p.To, p.From)
		l.mu.Unlock()

		child.mu.Lock()
		defer child.mu.Unlock()
		if child.secure != nil {
			return mb.applySecureToConnected(childSid, child, p)
		}
		child.pendingSecure = true
		child.pendingFirstSecure = &p
		return true

	default:
		mb.coll.PacketDropped("no route")
		return false
	}
}

// lookupOrCreateChild returns the pending child context for (to,from)
// under listening context l (owned by listenSid), allocating and queuing
// a fresh one if this is the first packet seen for that pair. Callers
// must hold l.mu.
func (mb *Mailbox) lookupOrCreateChild(listenSid SocketID, l *listeningContext, to, from endpoint.Endpoint) (SocketID, *connectedContext) {
	pair := endpoint.Pair{Local: to, Remote: from}
	if sid, ok := l.connectedSockets[pair]; ok {
		return sid, l.sockets[sid]
	}
	sid := mb.allocateID()
	child := newConnectedContext(to, from)
	l.sockets[sid] = child
	l.connectedSockets[pair] = sid
	l.queue = append(l.queue, sid)
	l.updateReady(listenSid, true)
	l.cv.Broadcast()
	return sid, child
}

// scheduleAck arms a delayed-ACK task for c, per spec.md §4.5: if one is
// already pending (ackScheduled), a new inbound data packet piggybacks on
// it instead of arming a second timer. Callers must hold c.mu.
func (mb *Mailbox) scheduleAck(sid SocketID, c *connectedContext) {
	if c.ackScheduled {
		return
	}
	c.ackScheduled = true
	nextSeq := c.nextSeq
	mb.sched.schedule(mb.atoDuration(), func() { mb.taskSendAck(sid, c, nextSeq) })
}

// applyPlainToConnected records p's acks and, if it carries a sequenced
// payload, schedules its delayed ACK and marks the socket read-ready when
// it advances the receive cursor. Callers must hold c.mu.
func (mb *Mailbox) applyPlainToConnected(sid SocketID, c *connectedContext, p wire.PlainPacket) {
	for _, ack := range p.Acks {
		processAck(c, ack)
	}
	if p.ID.IsAck() {
		c.notifyAll()
		return
	}
	c.pendingRemote[p.ID.Seq] = p.Payload
	c.toAck[p.ID] = struct{}{}
	mb.scheduleAck(sid, c)
	if p.ID.Seq == c.recvSeq && len(p.Payload) > 0 {
		c.updateReady(sid, true, false)
	}
	c.notifyAll()
}

// applySecureToConnected opens a SecurePacket against c's ratchet channel,
// verifying its signature and freshness, and applies it exactly as
// applyPlainToConnected does. It marks the handshake complete on the
// first successful Open. Callers must hold c.mu.
func (mb *Mailbox) applySecureToConnected(sid SocketID, c *connectedContext, p wire.SecurePacket) bool {
	ad := wire.SecureAdditionalData(p.IsSyn, p.Acks)
	sealed := sealedFromWire(p)
	payload, err := c.secure.channel.Open(sealed, ad)
	if err != nil {
		mb.coll.PacketDropped("signature or ratchet")
		return false
	}

	if !c.secure.handshaked {
		c.secure.handshaked = true
		c.secure.handshakeOK = true
		close(c.secure.connectDone)
	}

	for _, ack := range p.Acks {
		processAck(c, ack)
	}
	if sealed.IsAck() {
		c.notifyAll()
		return true
	}

	id, inner, err := wire.DecodeSecurePayload(payload)
	if err != nil {
		mb.coll.PacketDropped("secure payload decode")
		return false
	}
	c.pendingRemote[id.Seq] = inner
	c.toAck[wire.PacketID{Seq: id.Seq}] = struct{}{}
	mb.scheduleAck(sid, c)
	if id.Seq == c.recvSeq && len(inner) > 0 {
		c.updateReady(sid, true, false)
	}
	c.notifyAll()
	return true
}
