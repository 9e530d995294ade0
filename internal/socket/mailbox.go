// Package socket implements the Mailbox core: the protocol state machine,
// sequencing, retransmission/ACK engine, connection demultiplexing,
// optional Double-Ratchet secure channel, and an epoll-style readiness
// multiplexer, layered over the transport-over-email wire format.
package socket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mailim/tom/internal/config"
	"github.com/mailim/tom/internal/endpoint"
	"github.com/mailim/tom/internal/metrics"
	"github.com/mailim/tom/internal/transport"
)

// Mailbox owns the socket registry, the scheduler, the inbound listener
// loop, and the transports, per spec.md §2 row I.
type Mailbox struct {
	cfg    config.Config
	logger *slog.Logger
	coll   metrics.Collector

	outbound transport.OutboundSink
	inbound  transport.InboundSource

	sched *scheduler

	mu               sync.Mutex
	nextSocketID     SocketID
	sockets          map[SocketID]any // *createdContext | *listeningContext | *connectedContext
	connectedIndex   map[endpoint.Pair]SocketID
	listeningIndex   map[SocketID]endpoint.Endpoint

	nextEpollID int64
	epolls      map[int64]*epollRegistration

	listenerCancel context.CancelFunc
	listenerDone   chan struct{}
}

type epollRegistration struct {
	id int64
	wg *waiterGroup
	// rset and xset track which sockets this registration covers for read
	// and error readiness, so closing the Epoll can un-register it from
	// each of them.
	rset map[SocketID]struct{}
	xset map[SocketID]struct{}
}

// Options bundles the dependencies a Mailbox needs beyond the tunables in
// config.Config.
type Options struct {
	Config    config.Config
	Logger    *slog.Logger
	Collector metrics.Collector
	Outbound  transport.OutboundSink
	Inbound   transport.InboundSource
	Clock     clockwork.Clock // nil means real time
}

// New constructs a Mailbox and starts its scheduler and inbound listener
// loop. Callers must call Close when done.
func New(opts Options) *Mailbox {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Collector == nil {
		opts.Collector = &metrics.NoopCollector{}
	}
	mb := &Mailbox{
		cfg:            opts.Config,
		logger:         opts.Logger,
		coll:           opts.Collector,
		outbound:       opts.Outbound,
		inbound:        opts.Inbound,
		sched:          newScheduler(opts.Clock),
		sockets:        make(map[SocketID]any),
		connectedIndex: make(map[endpoint.Pair]SocketID),
		listeningIndex: make(map[SocketID]endpoint.Endpoint),
		epolls:         make(map[int64]*epollRegistration),
	}
	if mb.inbound != nil {
		ctx, cancel := context.WithCancel(context.Background())
		mb.listenerCancel = cancel
		mb.listenerDone = make(chan struct{})
		go mb.listen(ctx)
	}
	return mb
}

// Close stops the listener loop and the scheduler, and broadcasts closure
// to every socket and waiter so blocked calls return ErrClosed.
func (mb *Mailbox) Close() {
	if mb.listenerCancel != nil {
		mb.listenerCancel()
		<-mb.listenerDone
	}
	mb.mu.Lock()
	sockets := make([]any, 0, len(mb.sockets))
	for _, ctx := range mb.sockets {
		sockets = append(sockets, ctx)
	}
	mb.mu.Unlock()
	for _, s := range sockets {
		closeContextForShutdown(s)
	}
	mb.closeAllEpolls()
	mb.sched.close()
}

func closeContextForShutdown(s any) {
	switch c := s.(type) {
	case *connectedContext:
		c.mu.Lock()
		c.closed = true
		c.notifyAll()
		c.mu.Unlock()
	case *listeningContext:
		c.mu.Lock()
		c.closed = true
		c.cv.Broadcast()
		c.mu.Unlock()
	case *createdContext:
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
	}
}

func (mb *Mailbox) allocateID() SocketID {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	sid := mb.nextSocketID
	mb.nextSocketID++
	return sid
}

func (mb *Mailbox) rtoDuration() time.Duration {
	return time.Duration(mb.cfg.RTOMillis) * time.Millisecond
}

func (mb *Mailbox) atoDuration() time.Duration {
	return time.Duration(mb.cfg.ATOMillis) * time.Millisecond
}
