package socket

import (
	"bytes"
	"crypto/ed25519"
	"encoding/gob"
	"fmt"

	"github.com/mailim/tom/internal/endpoint"
	"github.com/mailim/tom/internal/ratchet"
	"github.com/mailim/tom/internal/wire"
)

// socketDump is the gob-serializable snapshot of one Connected socket,
// per spec.md §4.7. It captures exactly the state taskTransmit/taskSendAck
// and Send/Recv need to resume after a restart; waiter groups and the
// mutex/condvar are rebuilt fresh on restore.
type socketDump struct {
	Local, Remote endpoint.Endpoint

	NextSeq       int64
	RecvSeq       int64
	RecvOffset    int
	PendingLocal  map[int64]pendingSendDump
	PendingRemote map[int64][]byte
	SentAcks      map[int64][]wire.PacketID
	Attempts      map[int64]uint32
	ToAck         []wire.PacketID
	HasSynSeq     bool
	SynSeq        int64

	Secure       bool
	RatchetState []byte
}

type pendingSendDump struct {
	Payload []byte
	IsSyn   bool
	Sealed  *sealedDump
}

type sealedDump struct {
	DHPub      []byte
	N          uint32
	PN         int64
	Signature  []byte
	Ciphertext []byte
}

// Dump serializes sid's socket state, including a secure channel's ratchet
// state, per spec.md §4.7. Signing key material is not part of the dump;
// Restore takes it as parameters. It does not close or otherwise disturb
// the socket.
func (mb *Mailbox) Dump(sid SocketID) ([]byte, error) {
	raw := mb.lookupContext(sid)
	c, ok := raw.(*connectedContext)
	if !ok {
		return nil, fmt.Errorf("socket %d: %w", sid, ErrInvalidState)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	d := socketDump{
		Local: c.local, Remote: c.remote,
		NextSeq: c.nextSeq, RecvSeq: c.recvSeq, RecvOffset: c.recvOffset,
		PendingLocal:  make(map[int64]pendingSendDump, len(c.pendingLocal)),
		PendingRemote: c.pendingRemote,
		SentAcks:      make(map[int64][]wire.PacketID, len(c.sentAcks)),
		Attempts:      c.attempts,
		ToAck:         ackSlice(c.toAck),
		HasSynSeq:     c.hasSynSeq,
		SynSeq:        c.synSeq,
	}
	for seq, p := range c.pendingLocal {
		pd := pendingSendDump{Payload: p.payload, IsSyn: p.isSyn}
		if p.sealed != nil {
			pd.Sealed = &sealedDump{
				DHPub: p.sealed.Header.PublicKey, N: uint32(p.sealed.Header.N), PN: int64(p.sealed.Header.PN),
				Signature: p.sealed.Signature, Ciphertext: p.sealed.Ciphertext,
			}
		}
		d.PendingLocal[seq] = pd
	}
	for seq, acks := range c.sentAcks {
		d.SentAcks[seq] = ackSlice(acks)
	}

	if c.secure != nil {
		state, err := c.secure.channel.DumpState()
		if err != nil {
			return nil, fmt.Errorf("socket %d: dump ratchet state: %w", sid, err)
		}
		d.Secure = true
		d.RatchetState = state
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(d); err != nil {
		return nil, fmt.Errorf("socket %d: dump: %w", sid, err)
	}
	return buf.Bytes(), nil
}

// Restore reconstructs a Connected socket from a Dump snapshot and
// installs it in the mailbox under a fresh SocketID. own/peerSign
// re-provision a secure dump's ratchet channel; the dump never embeds
// signing key material itself (that lives in the keystore, keyed by
// endpoint pair, same as a fresh Accept's AcceptResolver.SecureParams) and
// is ignored for a plain dump. Fails ErrAddressInUse if a Connected socket
// already occupies the dump's (local,remote) pair, the same uniqueness
// Connect enforces.
func (mb *Mailbox) Restore(dump []byte, own ratchet.SignKeyPair, peerSign ed25519.PublicKey) (SocketID, error) {
	var d socketDump
	if err := gob.NewDecoder(bytes.NewReader(dump)).Decode(&d); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDump, err)
	}

	c := newConnectedContext(d.Local, d.Remote)
	c.nextSeq, c.recvSeq, c.recvOffset = d.NextSeq, d.RecvSeq, d.RecvOffset
	c.pendingRemote = d.PendingRemote
	if c.pendingRemote == nil {
		c.pendingRemote = make(map[int64][]byte)
	}
	c.attempts = d.Attempts
	if c.attempts == nil {
		c.attempts = make(map[int64]uint32)
	}
	c.hasSynSeq, c.synSeq = d.HasSynSeq, d.SynSeq
	for _, id := range d.ToAck {
		c.toAck[id] = struct{}{}
	}
	for seq, acks := range d.SentAcks {
		set := make(map[wire.PacketID]struct{}, len(acks))
		for _, id := range acks {
			set[id] = struct{}{}
		}
		c.sentAcks[seq] = set
	}
	for seq, pd := range d.PendingLocal {
		p := &pendingSend{payload: pd.Payload, isSyn: pd.IsSyn}
		if pd.Sealed != nil {
			p.sealed = sealedMessageFromDump(*pd.Sealed)
		}
		c.pendingLocal[seq] = p
	}

	pair := endpoint.Pair{Local: c.local, Remote: c.remote}
	mb.mu.Lock()
	if _, exists := mb.connectedIndex[pair]; exists {
		mb.mu.Unlock()
		return 0, ErrAddressInUse
	}
	mb.mu.Unlock()

	sid := mb.allocateID()
	mb.mu.Lock()
	mb.sockets[sid] = c
	mb.connectedIndex[pair] = sid
	mb.mu.Unlock()

	if d.Secure {
		channel, err := ratchet.RestoreChannel(d.RatchetState, mb.cfg.MaxMsgKeys, own, peerSign)
		if err != nil {
			return 0, fmt.Errorf("%w: restore ratchet: %v", ErrInvalidDump, err)
		}
		c.secure = &secureState{channel: channel, handshaked: true, handshakeOK: true, connectDone: make(chan struct{})}
		close(c.secure.connectDone)
	}

	for seq := range c.pendingLocal {
		mb.sched.schedule(0, func(seq int64) func() { return func() { mb.taskTransmit(sid, c, seq) } }(seq))
	}
	if len(c.toAck) > 0 {
		mb.sched.schedule(mb.atoDuration(), func() { mb.taskSendAck(sid, c, c.nextSeq) })
	}

	return sid, nil
}

func sealedMessageFromDump(sd sealedDump) *ratchet.SealedMessage {
	sm := sealedFromWire(wire.SecurePacket{
		DHPub: sd.DHPub, N: sd.N, PN: sd.PN, Signature: sd.Signature, Ciphertext: sd.Ciphertext,
	})
	return &sm
}
