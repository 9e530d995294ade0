package wire

import "github.com/mailim/tom/internal/endpoint"

// PlainContentType is the Content-Type header value for unencrypted
// mailim packets.
const PlainContentType = "application/x-mailim-packet"

// PlainPacket is an unencrypted transport packet.
type PlainPacket struct {
	From    endpoint.Endpoint
	To      endpoint.Endpoint
	ID      PacketID
	Acks    []PacketID
	Payload []byte
	IsSyn   bool
}
