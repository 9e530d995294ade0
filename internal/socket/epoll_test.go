package socket

import (
	"testing"
	"time"

	"github.com/mailim/tom/internal/endpoint"
)

func TestEpollWaitReportsReadReady(t *testing.T) {
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
	if _, err := alice.Send(aliceSid, []byte("epoll hello")); err != nil {
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

	ep := bob.EpollCreate()
	defer ep.Close()
	ep.Add([]SocketID{childSid}, nil)

	readReady, _ := ep.Wait(2 * time.Second)
	found := false
	for _, sid := range readReady {
		if sid == childSid {
			found = true
		}
	}
	if !found {
		t.Fatalf("Wait readReady = %v, want to contain %d", readReady, childSid)
	}

	ep.Remove([]SocketID{childSid}, nil)
}
