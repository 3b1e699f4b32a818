package capture

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/labwire/go-astm/e1381"
)

// Metrics holds the Prometheus metrics for a capture server.
//
// The link-layer counters are exported as CounterFuncs reading straight from
// the shared [e1381.SessionMetrics], so the protocol engine stays free of any
// Prometheus dependency.
type Metrics struct {
	SessionsTotal  prometheus.Counter
	SessionsActive prometheus.Gauge
	MessagesTotal  *prometheus.CounterVec
	CapturedBytes  prometheus.Counter
}

// NewMetrics creates and registers all capture metrics with reg, wiring the
// frame-level counters to sm.
func NewMetrics(reg prometheus.Registerer, sm *e1381.SessionMetrics) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "astm_capture_sessions_total",
			Help: "Total number of analyzer connections handled",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "astm_capture_sessions_active",
			Help: "Number of analyzer connections currently open",
		}),
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "astm_capture_messages_total",
			Help: "Total number of captured messages",
		}, []string{"outcome"}), // outcome: complete, partial
		CapturedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "astm_capture_bytes_total",
			Help: "Total number of captured message bytes",
		}),
	}

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "astm_frames_received_total",
		Help: "Total number of checksum-valid frames received",
	}, func() float64 { return float64(sm.FrameRecvCount.Load()) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "astm_frames_sent_total",
		Help: "Total number of acknowledged frames sent",
	}, func() float64 { return float64(sm.FrameSendCount.Load()) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "astm_naks_sent_total",
		Help: "Total number of NAKs sent for bad checksums",
	}, func() float64 { return float64(sm.NakSendCount.Load()) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "astm_naks_received_total",
		Help: "Total number of NAKs received from peers",
	}, func() float64 { return float64(sm.NakRecvCount.Load()) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "astm_frame_retries_total",
		Help: "Total number of frame retransmissions",
	}, func() float64 { return float64(sm.FrameRetryCount.Load()) })

	return m
}

func (m *Metrics) incSession() {
	if m == nil {
		return
	}

	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

func (m *Metrics) decSession() {
	if m != nil {
		m.SessionsActive.Dec()
	}
}

func (m *Metrics) observeMessage(msg *e1381.AssembledMessage) {
	if m == nil {
		return
	}

	outcome := "partial"
	if msg.Complete {
		outcome = "complete"
	}

	m.MessagesTotal.WithLabelValues(outcome).Inc()
	m.CapturedBytes.Add(float64(len(msg.Data)))
}
