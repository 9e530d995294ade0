package wire

import (
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestPacketIDRoundTrip(t *testing.T) {
	ids := []PacketID{
		{Seq: -1, Attempt: 0},
		{Seq: 0, Attempt: 0},
		{Seq: 12345, Attempt: 7},
	}
	for _, id := range ids {
		b := appendPacketID(nil, fieldPlainID, id)
		_, _, n := protowire.ConsumeTag(b)
		if n < 0 {
			t.Fatalf("bad tag for %+v", id)
		}
		sub, n2 := protowire.ConsumeBytes(b[n:])
		if n2 < 0 {
			t.Fatalf("bad length-delimited bytes for %+v", id)
		}
		got, _, err := consumePacketID(sub)
		if err != nil {
			t.Fatalf("consumePacketID(%+v): %v", id, err)
		}
		if got != id {
			t.Errorf("got %+v, want %+v", got, id)
		}
	}
}

func TestPlainBodyRoundTrip(t *testing.T) {
	p := PlainPacket{
		ID:      PacketID{Seq: 2, Attempt: 1},
		Acks:    []PacketID{{Seq: -1}},
		Payload: []byte("payload bytes"),
		IsSyn:   false,
	}
	b := encodePlainBody(p)
	got, err := decodePlainBody(b)
	if err != nil {
		t.Fatalf("decodePlainBody: %v", err)
	}
	if got.ID != p.ID || got.IsSyn != p.IsSyn || string(got.Payload) != string(p.Payload) {
		t.Errorf("got %+v, want %+v", got, p)
	}
}
