package socket

import (
	"context"
	"sync"
	"time"

	"github.com/mailim/tom/internal/transport"
)

// fakeBus is an in-process stand-in for the SMTP/IMAP transports: two
// Mailboxes sharing one bus exchange raw RFC 5322 messages directly,
// without a real mail server, so the retransmit/ACK/listener machinery can
// be exercised in-process (on the real clock, with short RTO/ATO).
type fakeBus struct {
	mu      sync.Mutex
	inboxes map[string][][]byte // keyed by recipient address
	notify  map[string]chan struct{}
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		inboxes: make(map[string][][]byte),
		notify:  make(map[string]chan struct{}),
	}
}

func (b *fakeBus) notifyChan(addr string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.notify[addr]
	if !ok {
		ch = make(chan struct{}, 1)
		b.notify[addr] = ch
	}
	return ch
}

// endpointSource returns an InboundSource bound to one mailbox address.
func (b *fakeBus) endpointSource(addr string) *fakeSource {
	return &fakeSource{bus: b, addr: addr}
}

// sink returns an OutboundSink that deposits into this bus's inboxes.
func (b *fakeBus) sink() *fakeSink { return &fakeSink{bus: b} }

type fakeSink struct{ bus *fakeBus }

func (s *fakeSink) SendMail(ctx context.Context, fromAddr, toAddr string, raw []byte) error {
	b := s.bus
	b.mu.Lock()
	b.inboxes[toAddr] = append(b.inboxes[toAddr], raw)
	b.mu.Unlock()
	select {
	case b.notifyChan(toAddr) <- struct{}{}:
	default:
	}
	return nil
}

type fakeSource struct {
	bus  *fakeBus
	addr string
}

func (s *fakeSource) IdleWait(ctx context.Context, timeout time.Duration) (transport.WakeReason, error) {
	select {
	case <-s.bus.notifyChan(s.addr):
		return transport.WakeNew, nil
	case <-time.After(timeout):
		return transport.WakeTimeout, nil
	case <-ctx.Done():
		return transport.WakeCancelled, ctx.Err()
	}
}

func (s *fakeSource) SearchUnseen(ctx context.Context) ([]uint32, error) {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	msgs := s.bus.inboxes[s.addr]
	uids := make([]uint32, len(msgs))
	for i := range msgs {
		uids[i] = uint32(i)
	}
	return uids, nil
}

func (s *fakeSource) FetchBodies(ctx context.Context, uids []uint32) (map[uint32][]byte, error) {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	msgs := s.bus.inboxes[s.addr]
	out := make(map[uint32][]byte, len(uids))
	for _, uid := range uids {
		if int(uid) < len(msgs) {
			out[uid] = msgs[uid]
		}
	}
	return out, nil
}

func (s *fakeSource) MarkSeen(ctx context.Context, uids []uint32) error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	msgs := s.bus.inboxes[s.addr]
	kept := msgs[:0]
	seen := make(map[uint32]struct{}, len(uids))
	for _, uid := range uids {
		seen[uid] = struct{}{}
	}
	for i, m := range msgs {
		if _, ok := seen[uint32(i)]; !ok {
			kept = append(kept, m)
		}
	}
	s.bus.inboxes[s.addr] = kept
	return nil
}
