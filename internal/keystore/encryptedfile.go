// Package keystore implements the at-rest credential and key store: an
// Argon2id-derived, AES-256-GCM-sealed file holding email credentials,
// local/remote ratchet keys, and socket dumps.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	argon2Time        = 16
	argon2MemoryKiB   = 102400
	argon2Parallelism = 8
	argon2HashLen     = 32

	saltLen  = 16
	nonceLen = 16
	tagLen   = 16
)

func deriveKey(masterKey, salt []byte) []byte {
	return argon2.IDKey(masterKey, salt, argon2Time, argon2MemoryKiB, argon2Parallelism, argon2HashLen)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keystore: aes cipher: %w", err)
	}
	return cipher.NewGCMWithNonceSize(block, nonceLen)
}

// sealFile encrypts plaintext under masterKey and returns the file layout:
// 16-byte Argon2id salt ‖ 16-byte GCM nonce ‖ 16-byte GCM tag ‖ ciphertext.
func sealFile(masterKey, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("keystore: salt: %w", err)
	}
	key := deriveKey(masterKey, salt)
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("keystore: nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	if len(sealed) < tagLen {
		return nil, fmt.Errorf("keystore: sealed output shorter than tag")
	}
	ciphertext, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]

	out := make([]byte, 0, saltLen+nonceLen+tagLen+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ciphertext...)
	return out, nil
}

// openFile reverses sealFile, verifying the GCM tag.
func openFile(masterKey, data []byte) ([]byte, error) {
	if len(data) < saltLen+nonceLen+tagLen {
		return nil, fmt.Errorf("keystore: file too short")
	}
	salt := data[:saltLen]
	nonce := data[saltLen : saltLen+nonceLen]
	tag := data[saltLen+nonceLen : saltLen+nonceLen+tagLen]
	ciphertext := data[saltLen+nonceLen+tagLen:]

	key := deriveKey(masterKey, salt)
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	sealed := append(append([]byte(nil), ciphertext...), tag...)
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("keystore: decrypt: %w", err)
	}
	return plaintext, nil
}
