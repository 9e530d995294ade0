package ratchet

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// SignKeyPair is the Ed25519 keypair used to sign outgoing secure packets.
// A full XEdDSA derives its signing key from the X25519 DH key via a
// Montgomery-to-Edwards birational map; here the signing key is instead a
// genuine, independently generated Ed25519 keypair kept alongside the DH
// key. Neither side's signing public key travels on the wire: both are
// supplied out of band when a Channel is created.
type SignKeyPair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// GenerateSignKeyPair creates a new signing keypair.
func GenerateSignKeyPair() (SignKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SignKeyPair{}, fmt.Errorf("ratchet: generate sign key: %w", err)
	}
	return SignKeyPair{Private: priv, Public: pub}, nil
}

// Sign signs msg (the canonical serialization of a packet's header+body).
func (kp SignKeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(kp.Private, msg)
}

// Verify checks sig against msg using peer's public signing key.
func Verify(peerPublic ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(peerPublic, msg, sig)
}
