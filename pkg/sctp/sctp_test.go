package sctp

import (
	"testing"
	"time"

	"github.com/pion/datachannel"
	"github.com/stretchr/testify/require"
)

func TestPumpedConnRoundTrips(t *testing.T) {
	var sent [][]byte
	c := newPumpedConn(func(b []byte) {
		sent = append(sent, append([]byte(nil), b...))
	})

	n, err := c.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, [][]byte{[]byte("hello")}, sent)

	c.feed([]byte("world"))
	buf := make([]byte, 16)
	n, err = c.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "world", string(buf[:n]))
}

func TestPumpedConnReadBlocksUntilFedOrClosed(t *testing.T) {
	c := newPumpedConn(func([]byte) {})

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 8)
		_, err := c.Read(buf)
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("Read returned before Feed or Close")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, c.Close())
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Read never unblocked after Close")
	}
}

func TestPumpedConnWriteAfterCloseFails(t *testing.T) {
	c := newPumpedConn(func([]byte) {})
	require.NoError(t, c.Close())
	_, err := c.Write([]byte("x"))
	require.Error(t, err)
}

func TestChannelTypeForReliabilityCombinations(t *testing.T) {
	require.Equal(t, datachannel.ChannelTypeReliable, channelTypeFor(true, nil, nil))
	require.Equal(t, datachannel.ChannelTypeReliableUnordered, channelTypeFor(false, nil, nil))

	retransmits := uint16(3)
	require.Equal(t, datachannel.ChannelTypePartialReliableRexmit, channelTypeFor(true, nil, &retransmits))
	require.Equal(t, datachannel.ChannelTypePartialReliableRexmitUnordered, channelTypeFor(false, nil, &retransmits))

	lifetime := uint16(500)
	require.Equal(t, datachannel.ChannelTypePartialReliableTimed, channelTypeFor(true, &lifetime, nil))
	require.Equal(t, datachannel.ChannelTypePartialReliableTimedUnordered, channelTypeFor(false, &lifetime, nil))
}

func TestReliabilityFromConfigRoundTripsChannelType(t *testing.T) {
	for _, tc := range []struct {
		ordered                           bool
		maxPacketLifeTime, maxRetransmits *uint16
	}{
		{ordered: true},
		{ordered: false},
	} {
		ct := channelTypeFor(tc.ordered, tc.maxPacketLifeTime, tc.maxRetransmits)
		gotOrdered, gotLifetime, gotRetransmits := reliabilityFromConfig(datachannel.Config{ChannelType: ct})
		require.Equal(t, tc.ordered, gotOrdered)
		require.Nil(t, gotLifetime)
		require.Nil(t, gotRetransmits)
	}
}
