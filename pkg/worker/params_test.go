package worker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ionworker/worker/pkg/consumer"
	"github.com/ionworker/worker/pkg/producer"
	"github.com/ionworker/worker/pkg/rtpstream"
)

func TestParamsWriterReaderRoundTripsScalars(t *testing.T) {
	w := &paramsWriter{}
	w.u8(7)
	w.u16(1234)
	w.u32(987654)
	w.boolean(true)
	w.str("router-1")

	p := newParamsReader(w.bytes())
	u8, err := p.u8()
	require.NoError(t, err)
	require.EqualValues(t, 7, u8)

	u16, err := p.u16()
	require.NoError(t, err)
	require.EqualValues(t, 1234, u16)

	u32, err := p.u32()
	require.NoError(t, err)
	require.EqualValues(t, 987654, u32)

	b, err := p.boolean()
	require.NoError(t, err)
	require.True(t, b)

	s, err := p.str()
	require.NoError(t, err)
	require.Equal(t, "router-1", s)
}

func TestParamsWriterReaderRoundTripsStrList(t *testing.T) {
	w := &paramsWriter{}
	w.strList([]string{"r1", "r2", "r3"})

	p := newParamsReader(w.bytes())
	ids, err := p.strList()
	require.NoError(t, err)
	require.Equal(t, []string{"r1", "r2", "r3"}, ids)
}

func TestParamsWriterReaderRoundTripsEmptyStrList(t *testing.T) {
	w := &paramsWriter{}
	w.strList(nil)

	p := newParamsReader(w.bytes())
	ids, err := p.strList()
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestParamsWriterReaderRoundTripsSignedLayerIndex(t *testing.T) {
	w := &paramsWriter{}
	w.i16(-1)
	w.i16(2)

	p := newParamsReader(w.bytes())
	noPreference, err := p.i16()
	require.NoError(t, err)
	require.Equal(t, -1, noPreference)

	spatial, err := p.i16()
	require.NoError(t, err)
	require.Equal(t, 2, spatial)
}

func TestParamsReaderReportsShortBody(t *testing.T) {
	p := newParamsReader([]byte{0x01})
	_, err := p.u32()
	require.ErrorIs(t, err, errShortParams)
}

func TestParamsReaderEncodingsRoundTrip(t *testing.T) {
	w := &paramsWriter{}
	w.u16(2)
	w.u32(1000)
	w.u32(1001)
	w.str("r0")
	w.u32(2000)
	w.u32(0)
	w.str("")

	p := newParamsReader(w.bytes())
	encodings, err := p.encodings()
	require.NoError(t, err)
	require.Equal(t, []producer.Encoding{
		{Ssrc: 1000, RtxSsrc: 1001, Rid: "r0"},
		{Ssrc: 2000, RtxSsrc: 0, Rid: ""},
	}, encodings)
}

func TestParamsReaderExtensionMapRoundTrip(t *testing.T) {
	w := &paramsWriter{}
	w.u8(1)
	w.u8(2)
	w.u8(3)
	w.u8(4)
	w.u8(5)
	w.u8(6)
	w.u8(7)

	p := newParamsReader(w.bytes())
	ext, err := p.extensionMap()
	require.NoError(t, err)
	require.Equal(t, rtpstream.ExtensionMap{
		Mid: 1, Rid: 2, RRid: 3, AbsSendTime: 4, TransportWideCC: 5, AudioLevel: 6, VideoOrientation: 7,
	}, ext)
}

func TestProducerKindFromWire(t *testing.T) {
	require.Equal(t, producer.KindAudio, producerKindFromWire(0))
	require.Equal(t, producer.KindVideo, producerKindFromWire(1))
}

func TestConsumerTypeFromWire(t *testing.T) {
	require.Equal(t, consumer.TypeSimple, consumerTypeFromWire(0))
	require.Equal(t, consumer.TypeSimulcast, consumerTypeFromWire(1))
	require.Equal(t, consumer.TypeSVC, consumerTypeFromWire(2))
	require.Equal(t, consumer.TypePipe, consumerTypeFromWire(3))
}
