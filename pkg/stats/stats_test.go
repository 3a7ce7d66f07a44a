package stats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestDisabledHelpersAreNoOps(t *testing.T) {
	Disable()

	before := testutil.ToFloat64(Transports)
	TransportOpened()
	require.Equal(t, before, testutil.ToFloat64(Transports))

	AddRtpBytesSent(1200)
	require.Equal(t, float64(0), testutil.ToFloat64(RtpBytesSent))
}

func TestEnableIsIdempotentAndHelpersIncrementCollectors(t *testing.T) {
	Enable()
	t.Cleanup(Disable)

	before := testutil.ToFloat64(Transports)
	TransportOpened()
	require.Equal(t, before+1, testutil.ToFloat64(Transports))
	TransportClosed()
	require.Equal(t, before, testutil.ToFloat64(Transports))

	// A second Enable must not panic on duplicate registration.
	require.NotPanics(t, Enable)
	require.True(t, Enabled())
}

func TestAddRtpBytesSentAccumulates(t *testing.T) {
	Enable()
	t.Cleanup(Disable)

	before := testutil.ToFloat64(RtpBytesSent)
	AddRtpBytesSent(100)
	AddRtpBytesSent(50)
	AddRtpBytesSent(0)
	require.Equal(t, before+150, testutil.ToFloat64(RtpBytesSent))
}

func TestHandlerServesPrometheusFormat(t *testing.T) {
	h := Handler()
	require.NotNil(t, h)
}
