package metrics

// NoopCollector is a no-op implementation of the Collector interface.
// All methods are empty stubs that do nothing.
type NoopCollector struct{}

// SocketConnected is a no-op.
func (n *NoopCollector) SocketConnected(secure bool) {}

// SocketClosed is a no-op.
func (n *NoopCollector) SocketClosed() {}

// ListenerAccepted is a no-op.
func (n *NoopCollector) ListenerAccepted(secure bool) {}

// HandshakeCompleted is a no-op.
func (n *NoopCollector) HandshakeCompleted() {}

// HandshakeTimedOut is a no-op.
func (n *NoopCollector) HandshakeTimedOut() {}

// PacketSent is a no-op.
func (n *NoopCollector) PacketSent(attempt int) {}

// PacketReceived is a no-op.
func (n *NoopCollector) PacketReceived() {}

// PacketDropped is a no-op.
func (n *NoopCollector) PacketDropped(reason string) {}

// AckSent is a no-op.
func (n *NoopCollector) AckSent() {}

// RetransmitScheduled is a no-op.
func (n *NoopCollector) RetransmitScheduled() {}

// ConnectionKilledMaxAttempts is a no-op.
func (n *NoopCollector) ConnectionKilledMaxAttempts() {}
