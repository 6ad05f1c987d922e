// Package metrics exposes call telemetry. A nil *Metrics is valid and
// records nothing, so components can be built without it in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	calls          *prometheus.CounterVec
	signalSends    *prometheus.CounterVec
	signalReceived *prometheus.CounterVec
	mediaJoins     *prometheus.CounterVec
	peerConnects   *prometheus.CounterVec
	tokenRenewals  *prometheus.CounterVec
	trackReleases  prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicecall_calls_total",
				Help: "Calls by role and how they finished",
			},
			[]string{"role", "outcome"},
		),
		signalSends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicecall_signal_sends_total",
				Help: "Outbound signals per channel and result",
			},
			[]string{"channel", "type", "result"},
		),
		signalReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicecall_signals_received_total",
				Help: "Inbound signals and whether they advanced the state machine",
			},
			[]string{"type", "result"},
		),
		mediaJoins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicecall_media_joins_total",
				Help: "Media joins by outcome (ok, receive_only, no_media, permission_denied, failed)",
			},
			[]string{"outcome"},
		),
		peerConnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicecall_peer_connects_total",
				Help: "Peer channel login attempts by result",
			},
			[]string{"result"},
		),
		tokenRenewals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicecall_token_renewals_total",
				Help: "Peer channel token renewals by trigger",
			},
			[]string{"trigger", "result"},
		),
		trackReleases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voicecall_track_releases_total",
			Help: "Local track handles stopped and closed",
		}),
	}
	reg.MustRegister(
		m.calls,
		m.signalSends,
		m.signalReceived,
		m.mediaJoins,
		m.peerConnects,
		m.tokenRenewals,
		m.trackReleases,
	)
	return m
}

func (m *Metrics) CallFinished(role, outcome string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(role, outcome).Inc()
}

func (m *Metrics) SignalSent(channel, typ string, err error) {
	if m == nil {
		return
	}
	m.signalSends.WithLabelValues(channel, typ, result(err)).Inc()
}

func (m *Metrics) SignalReceived(typ string, applied bool) {
	if m == nil {
		return
	}
	r := "ignored"
	if applied {
		r = "applied"
	}
	m.signalReceived.WithLabelValues(typ, r).Inc()
}

func (m *Metrics) MediaJoin(outcome string) {
	if m == nil {
		return
	}
	m.mediaJoins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PeerConnect(err error) {
	if m == nil {
		return
	}
	m.peerConnects.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) TokenRenewal(trigger string, err error) {
	if m == nil {
		return
	}
	m.tokenRenewals.WithLabelValues(trigger, result(err)).Inc()
}

func (m *Metrics) TrackReleased() {
	if m == nil {
		return
	}
	m.trackReleases.Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
