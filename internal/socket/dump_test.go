package socket

import (
	"crypto/ed25519"
	"errors"
	"testing"
	"time"

	"github.com/mailim/tom/internal/endpoint"
	"github.com/mailim/tom/internal/ratchet"
)

func TestDumpRestorePlainSocket(t *testing.T) {
	bus := newFakeBus()
	alice := newTestMailbox(bus, "alice@example.com")
	bob := newTestMailbox(bus, "bob@example.com")
	defer alice.Close()
	defer bob.Close()

	bobLocal := endpoint.New("bob@example.com", "mailim")
	bobSid := bob.Create()
	if err := bob.Listen(bobSid, bobLocal); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	aliceLocal := endpoint.New("alice@example.com", "mailim")
	aliceSid := alice.Create()
	if err := alice.Connect(aliceSid, aliceLocal, bobLocal, nil, 0); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := alice.Send(aliceSid, []byte("persisted")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var childSid SocketID
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sid, err := bob.Accept(bobSid, 200*time.Millisecond, nil, nil)
		if err != nil {
			t.Fatalf("Accept: %v", err)
		}
		if sid != 0 {
			childSid = sid
			break
		}
	}
	if childSid == 0 {
		t.Fatal("Accept: no connection arrived in time")
	}

	dump, err := bob.Dump(childSid)
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if err := bob.CloseSocket(childSid); err != nil {
		t.Fatalf("CloseSocket: %v", err)
	}

	restoredSid, err := bob.Restore(dump, ratchet.SignKeyPair{}, ed25519.PublicKey(nil))
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got, err := bob.Recv(restoredSid, 64, 2*time.Second)
	if err != nil {
		t.Fatalf("Recv after restore: %v", err)
	}
	if string(got) != "persisted" {
		t.Fatalf("Recv = %q, want %q", got, "persisted")
	}
}

func TestRestoreRejectsAddressInUse(t *testing.T) {
	bus := newFakeBus()
	alice := newTestMailbox(bus, "alice@example.com")
	bob := newTestMailbox(bus, "bob@example.com")
	defer alice.Close()
	defer bob.Close()

	bobLocal := endpoint.New("bob@example.com", "mailim")
	bobSid := bob.Create()
	if err := bob.Listen(bobSid, bobLocal); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	aliceLocal := endpoint.New("alice@example.com", "mailim")
	aliceSid := alice.Create()
	if err := alice.Connect(aliceSid, aliceLocal, bobLocal, nil, 0); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := alice.Send(aliceSid, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var childSid SocketID
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sid, err := bob.Accept(bobSid, 200*time.Millisecond, nil, nil)
		if err != nil {
			t.Fatalf("Accept: %v", err)
		}
		if sid != 0 {
			childSid = sid
			break
		}
	}
	if childSid == 0 {
		t.Fatal("Accept: no connection arrived in time")
	}

	dump, err := bob.Dump(childSid)
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}

	// childSid is still live and connected on (bobLocal, aliceLocal); a
	// restore targeting the same pair must not silently take it over.
	if _, err := bob.Restore(dump, ratchet.SignKeyPair{}, ed25519.PublicKey(nil)); !errors.Is(err, ErrAddressInUse) {
		t.Fatalf("Restore over live socket: err = %v, want %v", err, ErrAddressInUse)
	}
}
