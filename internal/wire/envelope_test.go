package wire

import (
	"bytes"
	"testing"

	"github.com/mailim/tom/internal/endpoint"
)

func TestPlainRoundTrip(t *testing.T) {
	p := PlainPacket{
		From:    endpoint.New("alice@example.com", "mailim"),
		To:      endpoint.New("bob@example.com", "mailim"),
		ID:      PacketID{Seq: 0, Attempt: 0},
		Acks:    []PacketID{{Seq: -1}, {Seq: 4, Attempt: 1}},
		Payload: []byte("hello, world"),
		IsSyn:   true,
	}

	raw, err := EncodePlain(p)
	if err != nil {
		t.Fatalf("EncodePlain: %v", err)
	}

	got, err := DecodePlain(raw)
	if err != nil {
		t.Fatalf("DecodePlain: %v", err)
	}

	if got.From != p.From || got.To != p.To {
		t.Errorf("endpoints mismatch: got %+v/%+v, want %+v/%+v", got.From, got.To, p.From, p.To)
	}
	if got.ID != p.ID {
		t.Errorf("id mismatch: got %+v, want %+v", got.ID, p.ID)
	}
	if got.IsSyn != p.IsSyn {
		t.Errorf("is_syn mismatch: got %v, want %v", got.IsSyn, p.IsSyn)
	}
	if !bytes.Equal(got.Payload, p.Payload) {
		t.Errorf("payload mismatch: got %q, want %q", got.Payload, p.Payload)
	}
	if len(got.Acks) != len(p.Acks) {
		t.Fatalf("acks length mismatch: got %d, want %d", len(got.Acks), len(p.Acks))
	}
	for i := range p.Acks {
		if got.Acks[i] != p.Acks[i] {
			t.Errorf("ack[%d] mismatch: got %+v, want %+v", i, got.Acks[i], p.Acks[i])
		}
	}
}

func TestSecureRoundTrip(t *testing.T) {
	p := SecurePacket{
		From:       endpoint.New("alice@example.com", "mailim"),
		To:         endpoint.New("bob@example.com", "mailim"),
		Acks:       []PacketID{{Seq: 1, Attempt: 0}},
		DHPub:      bytes.Repeat([]byte{0x11}, 32),
		N:          3,
		PN:         -1,
		Signature:  bytes.Repeat([]byte{0x22}, 64),
		Ciphertext: bytes.Repeat([]byte{0x33}, 4096),
		IsSyn:      false,
	}

	raw, err := EncodeSecure(p)
	if err != nil {
		t.Fatalf("EncodeSecure: %v", err)
	}

	got, err := DecodeSecure(raw)
	if err != nil {
		t.Fatalf("DecodeSecure: %v", err)
	}

	if got.HasPN() {
		t.Errorf("expected PN absent, got %d", got.PN)
	}
	if !bytes.Equal(got.DHPub, p.DHPub) {
		t.Errorf("dh_pub mismatch")
	}
	if !bytes.Equal(got.Signature, p.Signature) {
		t.Errorf("signature mismatch")
	}
	if !bytes.Equal(got.Ciphertext, p.Ciphertext) {
		t.Errorf("ciphertext mismatch: got %d bytes, want %d", len(got.Ciphertext), len(p.Ciphertext))
	}
	if got.N != p.N {
		t.Errorf("n mismatch: got %d, want %d", got.N, p.N)
	}
}

func TestSecurePNPresent(t *testing.T) {
	p := SecurePacket{
		From: endpoint.New("alice@example.com", "mailim"),
		To:   endpoint.New("bob@example.com", "mailim"),
		PN:   7,
	}
	raw, err := EncodeSecure(p)
	if err != nil {
		t.Fatalf("EncodeSecure: %v", err)
	}
	got, err := DecodeSecure(raw)
	if err != nil {
		t.Fatalf("DecodeSecure: %v", err)
	}
	if !got.HasPN() || got.PN != 7 {
		t.Errorf("expected pn=7, got %d (has=%v)", got.PN, got.HasPN())
	}
}

func TestDecodePlainWrongContentType(t *testing.T) {
	p := SecurePacket{From: endpoint.New("a@x.com", "p"), To: endpoint.New("b@x.com", "p")}
	raw, err := EncodeSecure(p)
	if err != nil {
		t.Fatalf("EncodeSecure: %v", err)
	}
	if _, err := DecodePlain(raw); err == nil {
		t.Error("expected error decoding a secure envelope as plain")
	}
}

func TestDecodeRejectsWrongMailer(t *testing.T) {
	raw := []byte("From: p <a@x.com>\r\nTo: p <b@x.com>\r\nX-Mailer: not-mailim\r\nContent-Type: application/x-mailim-packet\r\n\r\n")
	if _, err := DecodePlain(raw); err == nil {
		t.Error("expected error for wrong X-Mailer")
	}
}
