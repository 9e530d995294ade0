package wire

import "testing"

func TestSecurePayloadRoundTrip(t *testing.T) {
	cases := []struct {
		id      PacketID
		payload []byte
	}{
		{PacketID{Seq: 0, Attempt: 0}, nil},
		{PacketID{Seq: 3, Attempt: 0}, []byte("hello over the ratchet")},
		{PacketID{Seq: 9001, Attempt: 2}, []byte{}},
	}
	for _, c := range cases {
		b := EncodeSecurePayload(c.id, c.payload)
		gotID, gotPayload, err := DecodeSecurePayload(b)
		if err != nil {
			t.Fatalf("DecodeSecurePayload(%+v): %v", c.id, err)
		}
		if gotID != c.id {
			t.Errorf("id: got %+v, want %+v", gotID, c.id)
		}
		if string(gotPayload) != string(c.payload) {
			t.Errorf("payload: got %q, want %q", gotPayload, c.payload)
		}
	}
}
