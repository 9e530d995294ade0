// Package ratchet adapts the ericlagergren/dr Double Ratchet implementation
// to mailim's transport: X25519 for the DH ratchet, HKDF-SHA256 for the KDF
// chains, AES-256-GCM for message sealing, and a parallel Ed25519 keypair
// for XEdDSA-style signing of the packet header+body.
package ratchet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/ericlagergren/dr"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const keySize = 32

// GenerateDHKeyPair creates a fresh X25519 keypair for a responder's side
// of a handshake: priv is NewResponder's priv argument, and pub is the
// peerDHPub the initiator passes to NewInitiator.
func GenerateDHKeyPair() (priv, pub []byte, err error) {
	var r curve25519Ratchet
	dhPriv, err := r.Generate(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return []byte(dhPriv), []byte(r.Public(dhPriv)), nil
}

// curve25519Ratchet implements dr.Ratchet over X25519 + HKDF-SHA256 +
// AES-256-GCM, the primitive set named for the secure channel.
type curve25519Ratchet struct{}

var _ dr.Ratchet = curve25519Ratchet{}

func (curve25519Ratchet) Generate(rnd io.Reader) (dr.PrivateKey, error) {
	var priv [keySize]byte
	if _, err := io.ReadFull(rnd, priv[:]); err != nil {
		return nil, fmt.Errorf("ratchet: generate: %w", err)
	}
	return dr.PrivateKey(priv[:]), nil
}

func (curve25519Ratchet) Public(priv dr.PrivateKey) dr.PublicKey {
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		panic(fmt.Sprintf("ratchet: derive public key: %v", err))
	}
	return dr.PublicKey(pub)
}

func (curve25519Ratchet) DH(priv dr.PrivateKey, pub dr.PublicKey) ([]byte, error) {
	shared, err := curve25519.X25519(priv, pub)
	if err != nil {
		return nil, fmt.Errorf("ratchet: dh: %w", err)
	}
	return shared, nil
}

func hkdfExpand(secret, salt []byte, info string, n int) []byte {
	r := hkdf.New(sha256.New, secret, salt, []byte(info))
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		panic(fmt.Sprintf("ratchet: hkdf expand: %v", err))
	}
	return out
}

func (curve25519Ratchet) KDFrk(rk dr.RootKey, dh []byte) (dr.RootKey, dr.ChainKey) {
	out := hkdfExpand(dh, rk, "mailim-tom root-kdf", keySize*2)
	return dr.RootKey(out[:keySize]), dr.ChainKey(out[keySize:])
}

func (curve25519Ratchet) KDFck(ck dr.ChainKey) (dr.ChainKey, dr.MessageKey) {
	nextCK := hkdfExpand(ck, nil, "mailim-tom chain-kdf", keySize)
	mk := hkdfExpand(ck, nil, "mailim-tom message-kdf", keySize)
	return dr.ChainKey(nextCK), dr.MessageKey(mk)
}

func aeadFor(key dr.MessageKey) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ratchet: aes cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func (curve25519Ratchet) Seal(key dr.MessageKey, plaintext, additionalData []byte) []byte {
	aead, err := aeadFor(key)
	if err != nil {
		panic(fmt.Sprintf("ratchet: seal: %v", err))
	}
	nonce := make([]byte, aead.NonceSize())
	return aead.Seal(nonce, nonce, plaintext, additionalData)
}

func (curve25519Ratchet) Open(key dr.MessageKey, ciphertext, additionalData []byte) ([]byte, error) {
	aead, err := aeadFor(key)
	if err != nil {
		return nil, fmt.Errorf("ratchet: open: %w", err)
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("ratchet: open: ciphertext too short")
	}
	nonce, body := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, body, additionalData)
	if err != nil {
		return nil, fmt.Errorf("ratchet: open: %w", err)
	}
	return plaintext, nil
}

func (curve25519Ratchet) Header(priv dr.PrivateKey, prevChainLength, messageNum int) dr.Header {
	return dr.Header{
		PublicKey: curve25519Ratchet{}.Public(priv),
		PN:        prevChainLength,
		N:         messageNum,
	}
}

func (curve25519Ratchet) Concat(additionalData []byte, h dr.Header) []byte {
	return dr.Concat(additionalData, h)
}
