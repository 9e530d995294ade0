package socket

import (
	"context"

	"github.com/mailim/tom/internal/ratchet"
	"github.com/mailim/tom/internal/wire"
)

func bgContext() context.Context { return context.Background() }

func ackSlice(acks map[wire.PacketID]struct{}) []wire.PacketID {
	out := make([]wire.PacketID, 0, len(acks))
	for id := range acks {
		out = append(out, id)
	}
	return out
}

// buildOutboundRaw serializes one outbound packet. pend is nil for a pure
// ACK (seq == -1); otherwise it carries the payload (plain) or the frozen
// ratchet ciphertext (secure, after its first transmit attempt).
func buildOutboundRaw(c *connectedContext, id wire.PacketID, pend *pendingSend, acks map[wire.PacketID]struct{}) ([]byte, error) {
	acksList := ackSlice(acks)
	isSyn := pend != nil && pend.isSyn

	if c.secure == nil {
		var payload []byte
		if pend != nil {
			payload = pend.payload
		}
		return wire.EncodePlain(wire.PlainPacket{
			From: c.local, To: c.remote, ID: id,
			Acks: acksList, Payload: payload, IsSyn: isSyn,
		})
	}

	ad := wire.SecureAdditionalData(isSyn, acksList)
	var sealed *ratchet.SealedMessage
	switch {
	case pend == nil:
		sm := c.secure.channel.SealAck(ad)
		sealed = &sm
	case pend.sealed == nil:
		plaintext := wire.EncodeSecurePayload(id, pend.payload)
		sm, err := c.secure.channel.Seal(plaintext, ad)
		if err != nil {
			return nil, err
		}
		pend.sealed = &sm
		sealed = pend.sealed
	default:
		pend.sealed.Signature = c.secure.channel.Resign(*pend.sealed, ad)
		sealed = pend.sealed
	}

	return wire.EncodeSecure(wire.SecurePacket{
		From: c.local, To: c.remote, Acks: acksList,
		DHPub: sealed.Header.PublicKey, N: uint32(sealed.Header.N), PN: int64(sealed.Header.PN),
		Signature: sealed.Signature, Ciphertext: sealed.Ciphertext, IsSyn: isSyn,
	})
}

// taskTransmit is the transmit task body for (sid, seq), per spec.md §4.5.
// seq == -1 means "send a pure ACK if one is owed"; it is never
// rescheduled. A real seq is rebuilt from pendingLocal on every attempt;
// MaxAttempts escalates to an immediate close-socket task.
func (mb *Mailbox) taskTransmit(sid SocketID, c *connectedContext, seq int64) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	var id wire.PacketID
	var pend *pendingSend
	var attemptForMetrics int

	if seq == -1 {
		if len(c.toAck) == 0 {
			c.mu.Unlock()
			return
		}
		id = wire.PacketID{Seq: -1}
	} else {
		p, ok := c.pendingLocal[seq]
		if !ok {
			c.mu.Unlock()
			return // already acknowledged
		}
		attempt := c.attempts[seq]
		if int(attempt) >= mb.cfg.MaxAttempts {
			c.mu.Unlock()
			mb.coll.ConnectionKilledMaxAttempts()
			mb.sched.scheduleASAP(func() { mb.taskCloseSocket(sid) })
			return
		}
		c.attempts[seq] = attempt + 1
		id = wire.PacketID{Seq: seq, Attempt: attempt}
		pend = p
		attemptForMetrics = int(attempt)
	}

	acks := c.toAckSnapshot()
	if pend != nil {
		if c.sentAcks[seq] == nil {
			c.sentAcks[seq] = make(map[wire.PacketID]struct{})
		}
		for a := range acks {
			c.sentAcks[seq][a] = struct{}{}
		}
	}
	c.ackScheduled = false
	c.mu.Unlock()

	raw, err := buildOutboundRaw(c, id, pend, acks)
	if err != nil {
		mb.logger.Error("encode outbound packet failed", "sid", sid, "err", err)
		return
	}

	sendErr := mb.outbound.SendMail(bgContext(), c.local.Address, c.remote.Address, raw)
	if sendErr != nil {
		mb.logger.Warn("send failed, relying on retransmit", "sid", sid, "err", sendErr)
	}

	if seq == -1 {
		mb.coll.AckSent()
		return
	}
	mb.coll.PacketSent(attemptForMetrics)
	mb.coll.RetransmitScheduled()
	mb.sched.schedule(mb.rtoDuration(), func() { mb.taskTransmit(sid, c, seq) })
}

// taskSendAck is the delayed-ACK task body, per spec.md §4.5. It fires
// ATO after a data packet arrived; if the socket has since sent a new
// packet (nextSeq changed), the ACK was piggybacked and this is a no-op.
func (mb *Mailbox) taskSendAck(sid SocketID, c *connectedContext, nextSeqAtSchedule int64) {
	c.mu.Lock()
	if c.closed || c.nextSeq != nextSeqAtSchedule {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	mb.taskTransmit(sid, c, -1)
}

// taskCloseSocket removes sid entirely, per spec.md §4.5 MaxAttempts
// escalation.
func (mb *Mailbox) taskCloseSocket(sid SocketID) {
	_ = mb.CloseSocket(sid)
}

// processAck applies one acknowledgement to a connected context. Callers
// must hold c.mu.
func processAck(c *connectedContext, id wire.PacketID) {
	if _, ok := c.attempts[id.Seq]; !ok {
		return // duplicate ack
	}
	if acked, ok := c.sentAcks[id.Seq]; ok {
		for k := range acked {
			delete(c.toAck, k)
		}
	}
	delete(c.pendingLocal, id.Seq)
	delete(c.sentAcks, id.Seq)
	delete(c.attempts, id.Seq)
	if c.hasSynSeq && c.synSeq == id.Seq {
		c.hasSynSeq = false
	}
}
