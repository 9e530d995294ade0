package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers for the packet-id submessage shared by both wire formats.
const (
	fieldAckSeq     protowire.Number = 1
	fieldAckAttempt protowire.Number = 2
)

// Field numbers for PlainPacket's body.
const (
	fieldPlainIsSyn  protowire.Number = 1
	fieldPlainAck    protowire.Number = 2
	fieldPlainID     protowire.Number = 3
	fieldPlainPaylod protowire.Number = 4
)

// Field numbers for SecurePacket's body.
const (
	fieldSecureIsSyn     protowire.Number = 1
	fieldSecureAck       protowire.Number = 2
	fieldSecureDHPub     protowire.Number = 3
	fieldSecureN         protowire.Number = 4
	fieldSecurePN        protowire.Number = 5
	fieldSecureSignature protowire.Number = 6
	fieldSecureCipher    protowire.Number = 7
)

func appendPacketID(b []byte, num protowire.Number, id PacketID) []byte {
	var sub []byte
	sub = protowire.AppendTag(sub, fieldAckSeq, protowire.VarintType)
	sub = protowire.AppendVarint(sub, protowire.EncodeZigZag(id.Seq))
	sub = protowire.AppendTag(sub, fieldAckAttempt, protowire.VarintType)
	sub = protowire.AppendVarint(sub, uint64(id.Attempt))
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendBytes(b, sub)
	return b
}

func consumePacketID(b []byte) (PacketID, int, error) {
	var id PacketID
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return id, 0, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldAckSeq:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return id, 0, protowire.ParseError(n)
			}
			id.Seq = protowire.DecodeZigZag(v)
			b = b[n:]
		case fieldAckAttempt:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return id, 0, protowire.ParseError(n)
			}
			id.Attempt = uint32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return id, 0, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return id, 0, nil
}

// SecureAdditionalData canonically serializes the parts of a SecurePacket
// that sit outside the ratchet ciphertext (is_syn, acks) so the socket
// layer can authenticate them as the ratchet's additional data, rebuilding
// and re-signing this header on every retransmit attempt without
// re-encrypting the frozen ciphertext.
func SecureAdditionalData(isSyn bool, acks []PacketID) []byte {
	var b []byte
	b = appendBool(b, fieldSecureIsSyn, isSyn)
	for _, ack := range acks {
		b = appendPacketID(b, fieldSecureAck, ack)
	}
	return b
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	var u uint64
	if v {
		u = 1
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, u)
}

// encodePlainBody serializes a PlainPacket's header+body into the wire
// form described for Content-Type application/x-mailim-packet.
func encodePlainBody(p PlainPacket) []byte {
	var b []byte
	b = appendBool(b, fieldPlainIsSyn, p.IsSyn)
	for _, ack := range p.Acks {
		b = appendPacketID(b, fieldPlainAck, ack)
	}
	b = appendPacketID(b, fieldPlainID, p.ID)
	b = protowire.AppendTag(b, fieldPlainPaylod, protowire.BytesType)
	b = protowire.AppendBytes(b, p.Payload)
	return b
}

// decodePlainBody parses the bytes produced by encodePlainBody back into a
// PlainPacket, leaving From/To (carried in the envelope) to the caller.
func decodePlainBody(b []byte) (PlainPacket, error) {
	var p PlainPacket
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return p, fmt.Errorf("%w: tag: %v", ErrInvalidPacket, protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldPlainIsSyn:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return p, fmt.Errorf("%w: is_syn: %v", ErrInvalidPacket, protowire.ParseError(n))
			}
			p.IsSyn = v != 0
			b = b[n:]
		case fieldPlainAck:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return p, fmt.Errorf("%w: ack: %v", ErrInvalidPacket, protowire.ParseError(n))
			}
			id, _, err := consumePacketID(sub)
			if err != nil {
				return p, fmt.Errorf("%w: ack: %v", ErrInvalidPacket, err)
			}
			p.Acks = append(p.Acks, id)
			b = b[n:]
		case fieldPlainID:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return p, fmt.Errorf("%w: id: %v", ErrInvalidPacket, protowire.ParseError(n))
			}
			id, _, err := consumePacketID(sub)
			if err != nil {
				return p, fmt.Errorf("%w: id: %v", ErrInvalidPacket, err)
			}
			p.ID = id
			b = b[n:]
		case fieldPlainPaylod:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return p, fmt.Errorf("%w: payload: %v", ErrInvalidPacket, protowire.ParseError(n))
			}
			p.Payload = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return p, fmt.Errorf("%w: unknown field: %v", ErrInvalidPacket, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return p, nil
}

// encodeSecureBody serializes a SecurePacket's header+ciphertext body.
// PN of -1 encodes "absent" per the wire contract.
func encodeSecureBody(p SecurePacket) []byte {
	var b []byte
	b = appendBool(b, fieldSecureIsSyn, p.IsSyn)
	for _, ack := range p.Acks {
		b = appendPacketID(b, fieldSecureAck, ack)
	}
	b = protowire.AppendTag(b, fieldSecureDHPub, protowire.BytesType)
	b = protowire.AppendBytes(b, p.DHPub)
	b = protowire.AppendTag(b, fieldSecureN, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.N))
	b = protowire.AppendTag(b, fieldSecurePN, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(p.PN))
	b = protowire.AppendTag(b, fieldSecureSignature, protowire.BytesType)
	b = protowire.AppendBytes(b, p.Signature)
	b = protowire.AppendTag(b, fieldSecureCipher, protowire.BytesType)
	b = protowire.AppendBytes(b, p.Ciphertext)
	return b
}

func decodeSecureBody(b []byte) (SecurePacket, error) {
	p := SecurePacket{PN: -1}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return p, fmt.Errorf("%w: tag: %v", ErrInvalidPacket, protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldSecureIsSyn:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return p, fmt.Errorf("%w: is_syn: %v", ErrInvalidPacket, protowire.ParseError(n))
			}
			p.IsSyn = v != 0
			b = b[n:]
		case fieldSecureAck:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return p, fmt.Errorf("%w: ack: %v", ErrInvalidPacket, protowire.ParseError(n))
			}
			id, _, err := consumePacketID(sub)
			if err != nil {
				return p, fmt.Errorf("%w: ack: %v", ErrInvalidPacket, err)
			}
			p.Acks = append(p.Acks, id)
			b = b[n:]
		case fieldSecureDHPub:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return p, fmt.Errorf("%w: dh_pub: %v", ErrInvalidPacket, protowire.ParseError(n))
			}
			p.DHPub = append([]byte(nil), v...)
			b = b[n:]
		case fieldSecureN:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return p, fmt.Errorf("%w: n: %v", ErrInvalidPacket, protowire.ParseError(n))
			}
			p.N = uint32(v)
			b = b[n:]
		case fieldSecurePN:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return p, fmt.Errorf("%w: pn: %v", ErrInvalidPacket, protowire.ParseError(n))
			}
			p.PN = protowire.DecodeZigZag(v)
			b = b[n:]
		case fieldSecureSignature:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return p, fmt.Errorf("%w: signature: %v", ErrInvalidPacket, protowire.ParseError(n))
			}
			p.Signature = append([]byte(nil), v...)
			b = b[n:]
		case fieldSecureCipher:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return p, fmt.Errorf("%w: ciphertext: %v", ErrInvalidPacket, protowire.ParseError(n))
			}
			p.Ciphertext = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return p, fmt.Errorf("%w: unknown field: %v", ErrInvalidPacket, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return p, nil
}
