package socket

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mailim/tom/internal/config"
	"github.com/mailim/tom/internal/endpoint"
)

func testConfig() config.Config {
	return config.Config{RTOMillis: 50, ATOMillis: 20, MaxAttempts: 5, MaxMsgKeys: 100, XMailer: "mailim-tom/1.0"}
}

func newTestMailbox(bus *fakeBus, addr string) *Mailbox {
	return New(Options{
		Config:   testConfig(),
		Outbound: bus.sink(),
		Inbound:  bus.endpointSource(addr),
	})
}

func TestPlainConnectSendRecvAck(t *testing.T) {
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

	if _, err := alice.Send(aliceSid, []byte("hello bob")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var childSid SocketID
	var acceptErr error
	for time.Now().Before(deadline) {
		childSid, acceptErr = bob.Accept(bobSid, 200*time.Millisecond, nil, nil)
		if acceptErr == nil && childSid != 0 {
			break
		}
		if acceptErr != nil {
			t.Fatalf("Accept: %v", acceptErr)
		}
	}
	if childSid == 0 {
		t.Fatal("Accept: no connection arrived in time")
	}

	got, err := bob.Recv(childSid, 64, 2*time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(got) != "hello bob" {
		t.Fatalf("Recv = %q, want %q", got, "hello bob")
	}
}

func TestSchedulerOrdersByDeadline(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newScheduler(clock)
	defer s.close()

	var order []int
	done := make(chan struct{}, 3)
	record := func(n int) func() {
		return func() {
			order = append(order, n)
			done <- struct{}{}
		}
	}

	s.schedule(30*time.Millisecond, record(3))
	s.schedule(10*time.Millisecond, record(1))
	s.schedule(20*time.Millisecond, record(2))

	clock.BlockUntil(1)
	clock.Advance(10 * time.Millisecond)
	<-done
	clock.BlockUntil(1)
	clock.Advance(10 * time.Millisecond)
	<-done
	clock.BlockUntil(1)
	clock.Advance(10 * time.Millisecond)
	<-done

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order = %v, want [1 2 3]", order)
	}
}
