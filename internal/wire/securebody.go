package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers for the plaintext sealed inside a SecurePacket's ratchet
// ciphertext. The stream's real (seq, attempt) travels here rather than on
// the wire envelope itself, so a secure socket's seq/ack bookkeeping is
// identical to a plain socket's: the ratchet's own message number is never
// used as the stream sequence.
const (
	fieldSecurePayloadID      protowire.Number = 1
	fieldSecurePayloadPayload protowire.Number = 2
)

// EncodeSecurePayload serializes the plaintext that gets ratchet-sealed for
// one secure data packet.
func EncodeSecurePayload(id PacketID, payload []byte) []byte {
	var b []byte
	b = appendPacketID(b, fieldSecurePayloadID, id)
	b = protowire.AppendTag(b, fieldSecurePayloadPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	return b
}

// DecodeSecurePayload reverses EncodeSecurePayload.
func DecodeSecurePayload(b []byte) (PacketID, []byte, error) {
	var id PacketID
	var payload []byte
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return id, nil, fmt.Errorf("%w: tag: %v", ErrInvalidPacket, protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldSecurePayloadID:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return id, nil, fmt.Errorf("%w: id: %v", ErrInvalidPacket, protowire.ParseError(n))
			}
			parsed, _, err := consumePacketID(sub)
			if err != nil {
				return id, nil, fmt.Errorf("%w: id: %v", ErrInvalidPacket, err)
			}
			id = parsed
			b = b[n:]
		case fieldSecurePayloadPayload:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return id, nil, fmt.Errorf("%w: payload: %v", ErrInvalidPacket, protowire.ParseError(n))
			}
			payload = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return id, nil, fmt.Errorf("%w: unknown field: %v", ErrInvalidPacket, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return id, payload, nil
}
