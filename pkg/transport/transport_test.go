package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBaseAccumulatesCumulativeByteCounts(t *testing.T) {
	b := NewBase("t1")
	b.RecordSent(100)
	b.RecordSent(50)
	b.RecordReceived(30)

	require.EqualValues(t, 150, b.BytesSent())
	require.EqualValues(t, 30, b.BytesReceived())
}

func TestBaseProducerConsumerMembership(t *testing.T) {
	b := NewBase("t1")
	b.AddProducer("p1")
	b.AddProducer("p2")
	b.AddConsumer("c1")

	require.ElementsMatch(t, []string{"p1", "p2"}, b.ProducerIDs())
	require.ElementsMatch(t, []string{"c1"}, b.ConsumerIDs())

	b.RemoveProducer("p1")
	require.ElementsMatch(t, []string{"p2"}, b.ProducerIDs())
}

func TestBaseMarkClosedIsIdempotent(t *testing.T) {
	b := NewBase("t1")
	require.True(t, b.MarkClosed())
	require.False(t, b.MarkClosed())
}

func TestBaseBitrateReflectsRecentSamplesOnly(t *testing.T) {
	b := NewBase("t1")
	b.RecordSent(1000)
	require.EqualValues(t, 1000, b.SendBitrate())
}
