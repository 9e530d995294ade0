package wire

import "github.com/mailim/tom/internal/endpoint"

// SecureContentType is the Content-Type header value for ratchet-encrypted
// mailim packets.
const SecureContentType = "application/x-mailim-packet-secure"

// SecurePacket is a Double-Ratchet-encrypted transport packet. Signature
// covers a canonical serialization of header+body; the body (Ciphertext)
// is the ratchet-encrypted, 4 KiB-padded plaintext.
type SecurePacket struct {
	From       endpoint.Endpoint
	To         endpoint.Endpoint
	Acks       []PacketID
	DHPub      []byte
	N          uint32
	PN         int64 // -1 means absent
	Signature  []byte
	Ciphertext []byte
	IsSyn      bool
}

// HasPN reports whether PN carries a real previous-chain-length value.
func (p SecurePacket) HasPN() bool {
	return p.PN >= 0
}
