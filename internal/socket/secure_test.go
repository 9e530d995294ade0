package socket

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/mailim/tom/internal/endpoint"
	"github.com/mailim/tom/internal/ratchet"
)

// secureFixture holds the out-of-band negotiated material both sides need
// to start a Double Ratchet channel, standing in for what a real deployment
// would source from internal/keystore.
type secureFixture struct {
	sharedSecret []byte
	responderDHPriv, responderDHPub []byte
	initiatorSign, responderSign    ratchet.SignKeyPair
}

func newSecureFixture(t *testing.T) secureFixture {
	t.Helper()
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		t.Fatalf("rand secret: %v", err)
	}
	priv, pub, err := ratchet.GenerateDHKeyPair()
	if err != nil {
		t.Fatalf("GenerateDHKeyPair: %v", err)
	}
	initSign, err := ratchet.GenerateSignKeyPair()
	if err != nil {
		t.Fatalf("GenerateSignKeyPair: %v", err)
	}
	respSign, err := ratchet.GenerateSignKeyPair()
	if err != nil {
		t.Fatalf("GenerateSignKeyPair: %v", err)
	}
	return secureFixture{
		sharedSecret:    secret,
		responderDHPriv: priv,
		responderDHPub:  pub,
		initiatorSign:   initSign,
		responderSign:   respSign,
	}
}

func TestSecureConnectAcceptHandshake(t *testing.T) {
	fx := newSecureFixture(t)
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

	resolver := staticResolver{params: &SecureParams{
		SharedSecret: fx.sharedSecret,
		OwnDHPriv:    fx.responderDHPriv,
		OwnSign:      fx.responderSign,
		PeerSign:     fx.initiatorSign.Public,
	}}

	aliceLocal := endpoint.New("alice@example.com", "mailim")
	aliceSid := alice.Create()

	connectErrCh := make(chan error, 1)
	go func() {
		connectErrCh <- alice.Connect(aliceSid, aliceLocal, bobLocal, &SecureParams{
			SharedSecret: fx.sharedSecret,
			PeerDHPub:    fx.responderDHPub,
			OwnSign:      fx.initiatorSign,
			PeerSign:     fx.responderSign.Public,
		}, 2*time.Second)
	}()

	var childSid SocketID
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sid, err := bob.Accept(bobSid, 200*time.Millisecond, AcceptAlwaysSecure, resolver)
		if err != nil {
			t.Fatalf("Accept: %v", err)
		}
		if sid != 0 {
			childSid = sid
			break
		}
	}
	if childSid == 0 {
		t.Fatal("Accept: no secure connection arrived in time")
	}

	if err := <-connectErrCh; err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if _, err := alice.Send(aliceSid, []byte("secure hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := bob.Recv(childSid, 64, 2*time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(got) != "secure hello" {
		t.Fatalf("Recv = %q, want %q", got, "secure hello")
	}

	// Bob's delayed ACK for alice's packet above fires as a pure-ACK
	// alongside this reply; a pure-ACK must not consume a ratchet message
	// number or this reply (and the exchange after it) stalls.
	if _, err := bob.Send(childSid, []byte("secure reply")); err != nil {
		t.Fatalf("reply Send: %v", err)
	}
	gotReply, err := alice.Recv(aliceSid, 64, 2*time.Second)
	if err != nil {
		t.Fatalf("reply Recv: %v", err)
	}
	if string(gotReply) != "secure reply" {
		t.Fatalf("reply Recv = %q, want %q", gotReply, "secure reply")
	}

	if _, err := alice.Send(aliceSid, []byte("second hello")); err != nil {
		t.Fatalf("second Send: %v", err)
	}
	gotSecond, err := bob.Recv(childSid, 64, 2*time.Second)
	if err != nil {
		t.Fatalf("second Recv: %v", err)
	}
	if string(gotSecond) != "second hello" {
		t.Fatalf("second Recv = %q, want %q", gotSecond, "second hello")
	}
}

// AcceptAlwaysSecure always decides AcceptSecure, for tests that never
// exercise plain or restore acceptance.
func AcceptAlwaysSecure(local, remote endpoint.Endpoint, secure bool) AcceptDecision {
	return AcceptSecure
}

type staticResolver struct {
	params *SecureParams
}

func (r staticResolver) SecureParams(local, remote endpoint.Endpoint) (*SecureParams, error) {
	return r.params, nil
}

func (r staticResolver) Dump(local, remote endpoint.Endpoint) ([]byte, bool) {
	return nil, false
}
