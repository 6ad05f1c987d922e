package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersByLabel(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SignalSent("peer", "call-invite", errors.New("offline"))
	m.SignalSent("broadcast", "call-invite", nil)
	m.MediaJoin("receive_only")
	m.TrackReleased()
	m.TrackReleased()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.signalSends.WithLabelValues("peer", "call-invite", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.signalSends.WithLabelValues("broadcast", "call-invite", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mediaJoins.WithLabelValues("receive_only")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.trackReleases))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CallFinished("caller", "ended")
		m.PeerConnect(nil)
		m.TokenRenewal("proactive", nil)
		m.SignalReceived("call-accept", true)
	})
}
