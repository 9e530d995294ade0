package ratchet

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/ericlagergren/dr"
)

// ErrSignatureInvalid is returned by Channel.Open when the packet's
// signature does not verify under the peer's signing key.
var ErrSignatureInvalid = errors.New("ratchet: signature invalid")

// SealedMessage is the ratchet-encrypted, signed form of one packet body.
type SealedMessage struct {
	Header     dr.Header
	Ciphertext []byte
	Signature  []byte
}

// Channel is one side of a secure mailim socket: a Double Ratchet session
// plus the XEdDSA-style signing keys used to authenticate each packet.
type Channel struct {
	session  *dr.Session
	store    *boundedStore
	signKeys SignKeyPair
	peerSign ed25519.PublicKey
}

// NewInitiator starts a Channel as the side that opens the connection. sk is
// the shared secret negotiated out of band (e.g. via the endpoint's stored
// credentials); peerDHPub is the responder's ratchet public key.
func NewInitiator(sk []byte, peerDHPub []byte, maxMsgKeys int, own SignKeyPair, peerSign ed25519.PublicKey) (*Channel, error) {
	store := newBoundedStore(maxMsgKeys)
	sess, err := dr.NewSend(curve25519Ratchet{}, sk, dr.PublicKey(peerDHPub), dr.WithStore(store))
	if err != nil {
		return nil, fmt.Errorf("ratchet: new initiator: %w", err)
	}
	return &Channel{session: sess, store: store, signKeys: own, peerSign: peerSign}, nil
}

// NewResponder starts a Channel as the side that accepted the connection.
// priv is this side's freshly generated ratchet private key.
func NewResponder(sk []byte, priv []byte, maxMsgKeys int, own SignKeyPair, peerSign ed25519.PublicKey) (*Channel, error) {
	store := newBoundedStore(maxMsgKeys)
	sess, err := dr.NewRecv(curve25519Ratchet{}, sk, dr.PrivateKey(priv), dr.WithStore(store))
	if err != nil {
		return nil, fmt.Errorf("ratchet: new responder: %w", err)
	}
	return &Channel{session: sess, store: store, signKeys: own, peerSign: peerSign}, nil
}

// Seal pads plaintext to the next 4 KiB boundary, ratchet-encrypts it, and
// signs the result. additionalData is authenticated but not encrypted (the
// caller typically passes a canonical serialization of acks + is_syn).
func (c *Channel) Seal(plaintext, additionalData []byte) (SealedMessage, error) {
	msg, err := c.session.Seal(pad(plaintext), additionalData)
	if err != nil {
		return SealedMessage{}, fmt.Errorf("ratchet: seal: %w", err)
	}
	sig := c.signKeys.Sign(signingInput(msg.Header, msg.Ciphertext, additionalData))
	return SealedMessage{Header: msg.Header, Ciphertext: msg.Ciphertext, Signature: sig}, nil
}

// SealAck produces the pure-acknowledgement form of a sealed message: a
// zero header and empty ciphertext, signed directly over additionalData.
// It never touches the ratchet session, so a run of pure ACKs never
// consumes a send-chain message number that some real payload would
// otherwise need for pending_local/ack matching.
func (c *Channel) SealAck(additionalData []byte) SealedMessage {
	sig := c.signKeys.Sign(signingInput(dr.Header{}, nil, additionalData))
	return SealedMessage{Signature: sig}
}

// IsAck reports whether sealed is the pure-acknowledgement form produced by
// SealAck: no ratchet header, no ciphertext.
func (sealed SealedMessage) IsAck() bool {
	return len(sealed.Header.PublicKey) == 0 && len(sealed.Ciphertext) == 0
}

// Open verifies sealed's signature against the peer's signing key, then
// ratchet-decrypts and unpads it. A pure-ACK (see SealAck) is verified
// without touching the ratchet session and returns a nil payload.
func (c *Channel) Open(sealed SealedMessage, additionalData []byte) ([]byte, error) {
	if sealed.IsAck() {
		input := signingInput(dr.Header{}, nil, additionalData)
		if !Verify(c.peerSign, input, sealed.Signature) {
			return nil, ErrSignatureInvalid
		}
		return nil, nil
	}
	input := signingInput(sealed.Header, sealed.Ciphertext, additionalData)
	if !Verify(c.peerSign, input, sealed.Signature) {
		return nil, ErrSignatureInvalid
	}
	padded, err := c.session.Open(dr.Message{Header: sealed.Header, Ciphertext: sealed.Ciphertext}, additionalData)
	if err != nil {
		return nil, fmt.Errorf("ratchet: open: %w", err)
	}
	return unpad(padded)
}

// Resign recomputes sealed's signature over a new additionalData without
// touching the ratchet session, used when a retransmit carries an updated
// acks header over an otherwise frozen ciphertext.
func (c *Channel) Resign(sealed SealedMessage, additionalData []byte) []byte {
	return c.signKeys.Sign(signingInput(sealed.Header, sealed.Ciphertext, additionalData))
}

func signingInput(h dr.Header, ciphertext, additionalData []byte) []byte {
	var buf bytes.Buffer
	buf.Write(additionalData)
	buf.Write(h.Append(nil))
	buf.Write(ciphertext)
	return buf.Bytes()
}
