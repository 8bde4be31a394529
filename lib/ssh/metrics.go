package ssh

import "github.com/prometheus/client_golang/prometheus"

// connMetrics holds one connection's Prometheus instruments. A nil
// *connMetrics is valid and every method becomes a no-op, so metrics are
// always safe to skip (as the tests' packetConns do) without nil-checking
// at every call site.
type connMetrics struct {
	packets       *prometheus.CounterVec
	bytes         *prometheus.CounterVec
	windowAdjusts *prometheus.CounterVec
	handshake     prometheus.Histogram
}

func newConnMetrics(reg prometheus.Registerer) *connMetrics {
	if reg == nil {
		return nil
	}
	return &connMetrics{
		packets: registerOrReuseCounterVec(reg, prometheus.CounterOpts{
			Name: "ssh_client_packets_total",
			Help: "Binary packets processed by the SSH client packet layer.",
		}, []string{"direction"}),
		bytes: registerOrReuseCounterVec(reg, prometheus.CounterOpts{
			Name: "ssh_client_bytes_total",
			Help: "Payload bytes processed by the SSH client packet layer, before padding/MAC.",
		}, []string{"direction"}),
		windowAdjusts: registerOrReuseCounterVec(reg, prometheus.CounterOpts{
			Name: "ssh_client_channel_window_adjust_total",
			Help: "ChannelWindowAdjust messages sent or received.",
		}, []string{"direction"}),
		handshake: registerOrReuseHistogram(reg, prometheus.HistogramOpts{
			Name:    "ssh_client_handshake_duration_seconds",
			Help:    "Wall time from the start of Dial, TCP connect included, to the end of user authentication.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *connMetrics) packet(direction string, payloadLen int) {
	if m == nil {
		return
	}
	m.packets.WithLabelValues(direction).Inc()
	m.bytes.WithLabelValues(direction).Add(float64(payloadLen))
}

func (m *connMetrics) windowAdjust(direction string) {
	if m == nil {
		return
	}
	m.windowAdjusts.WithLabelValues(direction).Inc()
}

func (m *connMetrics) observeHandshake(seconds float64) {
	if m == nil {
		return
	}
	m.handshake.Observe(seconds)
}

// registerOrReuseCounterVec registers cv's namesake metric, or, if a
// long-lived process calls Dial repeatedly against the same Registerer,
// reuses the already-registered collector rather than failing.
func registerOrReuseCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(cv); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return cv
}

func registerOrReuseHistogram(reg prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	h := prometheus.NewHistogram(opts)
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing
			}
		}
	}
	return h
}
