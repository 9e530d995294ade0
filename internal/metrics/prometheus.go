package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector implements the Collector interface using Prometheus metrics.
type PrometheusCollector struct {
	socketsTotal        *prometheus.CounterVec
	socketsActive       prometheus.Gauge
	listenerAcceptTotal *prometheus.CounterVec

	handshakeCompletedTotal prometheus.Counter
	handshakeTimeoutTotal   prometheus.Counter

	packetsSentTotal     *prometheus.CounterVec
	packetsReceivedTotal prometheus.Counter
	packetsDroppedTotal  *prometheus.CounterVec
	acksSentTotal        prometheus.Counter

	retransmitsTotal  prometheus.Counter
	connectionsKilled prometheus.Counter
}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		socketsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tom_sockets_connected_total",
			Help: "Total number of sockets that reached the connected state.",
		}, []string{"secure"}),
		socketsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tom_sockets_active",
			Help: "Number of currently connected sockets.",
		}),
		listenerAcceptTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tom_listener_accepted_total",
			Help: "Total number of sockets accepted from a listening socket.",
		}, []string{"secure"}),

		handshakeCompletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tom_handshakes_completed_total",
			Help: "Total number of secure handshakes that completed successfully.",
		}),
		handshakeTimeoutTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tom_handshakes_timed_out_total",
			Help: "Total number of secure handshakes that timed out.",
		}),

		packetsSentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tom_packets_sent_total",
			Help: "Total number of packets (and retransmissions) sent.",
		}, []string{"retransmit"}),
		packetsReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tom_packets_received_total",
			Help: "Total number of packets successfully decoded and routed.",
		}),
		packetsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tom_packets_dropped_total",
			Help: "Total number of inbound packets dropped, by reason.",
		}, []string{"reason"}),
		acksSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tom_acks_sent_total",
			Help: "Total number of pure-ACK packets sent.",
		}),

		retransmitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tom_retransmits_scheduled_total",
			Help: "Total number of retransmit tasks scheduled.",
		}),
		connectionsKilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tom_connections_killed_total",
			Help: "Total number of connections killed after exceeding max attempts.",
		}),
	}

	reg.MustRegister(
		c.socketsTotal,
		c.socketsActive,
		c.listenerAcceptTotal,
		c.handshakeCompletedTotal,
		c.handshakeTimeoutTotal,
		c.packetsSentTotal,
		c.packetsReceivedTotal,
		c.packetsDroppedTotal,
		c.acksSentTotal,
		c.retransmitsTotal,
		c.connectionsKilled,
	)

	return c
}

func secureLabel(secure bool) string {
	if secure {
		return "true"
	}
	return "false"
}

// SocketConnected increments the connected-socket counter and active gauge.
func (c *PrometheusCollector) SocketConnected(secure bool) {
	c.socketsTotal.WithLabelValues(secureLabel(secure)).Inc()
	c.socketsActive.Inc()
}

// SocketClosed decrements the active sockets gauge.
func (c *PrometheusCollector) SocketClosed() {
	c.socketsActive.Dec()
}

// ListenerAccepted increments the listener accept counter.
func (c *PrometheusCollector) ListenerAccepted(secure bool) {
	c.listenerAcceptTotal.WithLabelValues(secureLabel(secure)).Inc()
}

// HandshakeCompleted increments the handshake-completed counter.
func (c *PrometheusCollector) HandshakeCompleted() {
	c.handshakeCompletedTotal.Inc()
}

// HandshakeTimedOut increments the handshake-timeout counter.
func (c *PrometheusCollector) HandshakeTimedOut() {
	c.handshakeTimeoutTotal.Inc()
}

// PacketSent increments the packets-sent counter, labeled by whether this was
// the first attempt or a retransmission.
func (c *PrometheusCollector) PacketSent(attempt int) {
	label := "false"
	if attempt > 0 {
		label = "true"
	}
	c.packetsSentTotal.WithLabelValues(label).Inc()
}

// PacketReceived increments the packets-received counter.
func (c *PrometheusCollector) PacketReceived() {
	c.packetsReceivedTotal.Inc()
}

// PacketDropped increments the packets-dropped counter for the given reason.
func (c *PrometheusCollector) PacketDropped(reason string) {
	c.packetsDroppedTotal.WithLabelValues(reason).Inc()
}

// AckSent increments the pure-ACK counter.
func (c *PrometheusCollector) AckSent() {
	c.acksSentTotal.Inc()
}

// RetransmitScheduled increments the retransmit-scheduled counter.
func (c *PrometheusCollector) RetransmitScheduled() {
	c.retransmitsTotal.Inc()
}

// ConnectionKilledMaxAttempts increments the connections-killed counter.
func (c *PrometheusCollector) ConnectionKilledMaxAttempts() {
	c.connectionsKilled.Inc()
}

// PrometheusServer serves the default Prometheus registry over HTTP.
type PrometheusServer struct {
	addr string
	path string
	srv  *http.Server
}

// NewPrometheusServer creates a metrics HTTP server bound to addr, serving
// the default registry's metrics at path.
func NewPrometheusServer(addr, path string) *PrometheusServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	return &PrometheusServer{addr: addr, path: path, srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start begins serving metrics. It blocks until the context is canceled or
// an error occurs.
func (s *PrometheusServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Shutdown gracefully stops the metrics server.
func (s *PrometheusServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
