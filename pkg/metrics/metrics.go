package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "lingclassroom"

var (
	FramesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "router",
		Name:      "frames_received_total",
		Help:      "Inbound frames by envelope type. Unparseable frames are counted as type \"invalid\".",
	}, []string{"type"})

	FramesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "websocket",
		Name:      "frames_sent_total",
		Help:      "Outbound frames by result (sent, dropped, queued).",
	}, []string{"result"})

	ConnectionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "websocket",
		Name:      "connection_state",
		Help:      "1 for the current state of each connection, 0 otherwise.",
	}, []string{"state"})

	ReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "websocket",
		Name:      "reconnects_scheduled_total",
		Help:      "Reconnect attempts scheduled after abnormal closures.",
	})

	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "notification",
		Name:      "added_total",
		Help:      "Notifications added by severity.",
	}, []string{"type"})

	RefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "projector",
		Name:      "refresh_total",
		Help:      "Dashboard refreshes by result.",
	}, []string{"result"})

	MessageLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "messagelog",
		Name:      "entries",
		Help:      "Envelopes currently held by the message log.",
	})
)

func init() {
	prometheus.MustRegister(
		FramesReceived,
		FramesSent,
		ConnectionState,
		ReconnectsTotal,
		NotificationsTotal,
		RefreshTotal,
		MessageLogSize,
	)
}

// SetConnectionState marks state as the only active one.
func SetConnectionState(state string, all []string) {
	for _, s := range all {
		if s == state {
			ConnectionState.WithLabelValues(s).Set(1)
		} else {
			ConnectionState.WithLabelValues(s).Set(0)
		}
	}
}
