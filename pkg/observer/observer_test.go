package observer

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/ionworker/worker/pkg/rtpstream"
)

var testExtMap = rtpstream.ExtensionMap{AudioLevel: 1}

func audioLevelPacket(level uint8) *rtp.Header {
	h := &rtp.Header{Version: 2, SSRC: 1, Extension: true, ExtensionProfile: 0xBEDE}
	voiceBit := byte(0)
	_ = h.SetExtension(1, []byte{voiceBit<<7 | (level & 0x7f)})
	return h
}

type fakeAudioLevelListener struct {
	volumes []VolumeEntry
	silence int
}

func (f *fakeAudioLevelListener) OnAudioLevelVolumes(o *AudioLevelObserver, volumes []VolumeEntry) {
	f.volumes = volumes
}
func (f *fakeAudioLevelListener) OnAudioLevelSilence(o *AudioLevelObserver) { f.silence++ }

func TestAudioLevelObserverRejectsInvalidConfig(t *testing.T) {
	_, err := NewAudioLevelObserver("o1", 0, -20, time.Second, &fakeAudioLevelListener{})
	require.ErrorIs(t, err, ErrMaxEntriesTooSmall)

	_, err = NewAudioLevelObserver("o1", 1, 10, time.Second, &fakeAudioLevelListener{})
	require.ErrorIs(t, err, ErrThresholdOutOfRange)
}

func TestAudioLevelObserverEmitsLoudestProducersAboveThreshold(t *testing.T) {
	listener := &fakeAudioLevelListener{}
	o, err := NewAudioLevelObserver("o1", 2, -50, time.Second, listener)
	require.NoError(t, err)

	o.AddProducer("loud")
	o.AddProducer("quiet")
	o.AddProducer("silent")

	for i := 0; i < 12; i++ {
		o.ReceiveRtpPacket("loud", audioLevelPacket(10), testExtMap)
		o.ReceiveRtpPacket("quiet", audioLevelPacket(40), testExtMap)
		o.ReceiveRtpPacket("silent", audioLevelPacket(120), testExtMap)
	}

	o.Update()

	require.Len(t, listener.volumes, 2)
	require.Equal(t, "loud", listener.volumes[0].ProducerID)
	require.Equal(t, "quiet", listener.volumes[1].ProducerID)
	require.Zero(t, listener.silence)
}

func TestAudioLevelObserverEmitsSilenceWhenNoneQualify(t *testing.T) {
	listener := &fakeAudioLevelListener{}
	o, err := NewAudioLevelObserver("o1", 1, -5, time.Second, listener)
	require.NoError(t, err)
	o.AddProducer("p1")

	for i := 0; i < 12; i++ {
		o.ReceiveRtpPacket("p1", audioLevelPacket(100), testExtMap)
	}
	o.Update()

	require.Empty(t, listener.volumes)
	require.Equal(t, 1, listener.silence)
}

func TestAudioLevelObserverPauseResetsAccumulatorsAndEmitsSilenceOnce(t *testing.T) {
	listener := &fakeAudioLevelListener{}
	o, err := NewAudioLevelObserver("o1", 1, -50, time.Second, listener)
	require.NoError(t, err)
	o.AddProducer("p1")

	for i := 0; i < 12; i++ {
		o.ReceiveRtpPacket("p1", audioLevelPacket(10), testExtMap)
	}

	o.Pause()
	require.Equal(t, 1, listener.silence)
	o.Pause() // idempotent: already paused, no second silence emission
	require.Equal(t, 1, listener.silence)

	o.ReceiveRtpPacket("p1", audioLevelPacket(10), testExtMap)
	o.Resume()
	o.Update()
	require.Empty(t, listener.volumes) // accumulator was reset by Pause, nothing accrued since
}

type fakeActiveSpeakerListener struct {
	dominants []string
}

func (f *fakeActiveSpeakerListener) OnActiveSpeakerDominantSpeaker(o *ActiveSpeakerObserver, producerID string) {
	f.dominants = append(f.dominants, producerID)
}

func TestActiveSpeakerObserverPicksSoleProducerAsDominant(t *testing.T) {
	listener := &fakeActiveSpeakerListener{}
	o := NewActiveSpeakerObserver("o1", 100*time.Millisecond, listener)

	now := time.Unix(0, 0)
	o.AddProducer("p1", now)

	o.Update(now)

	require.Equal(t, []string{"p1"}, listener.dominants)
}

func TestActiveSpeakerObserverWithTwoProducersStaysOnAValidDominant(t *testing.T) {
	listener := &fakeActiveSpeakerListener{}
	o := NewActiveSpeakerObserver("o1", 100*time.Millisecond, listener)

	now := time.Unix(0, 0)
	o.AddProducer("a", now)
	o.AddProducer("b", now)

	o.Update(now)
	require.Len(t, listener.dominants, 1)
	require.Contains(t, []string{"a", "b"}, listener.dominants[0])

	// Drive one producer's window with consistently loud (low raw) samples;
	// the dominant should never collapse to "" and should stay one of the
	// two known producer ids however the comparison resolves.
	for i := 0; i < asoImmediateBuffLen*2; i++ {
		now = now.Add(20 * time.Millisecond)
		o.mu.Lock()
		o.speakers["b"].levelChanged(5, now)
		o.mu.Unlock()
		o.Update(now)
	}

	require.Contains(t, []string{"a", "b"}, o.dominant)
}

func TestActiveSpeakerObserverRemoveProducerReevaluatesDominant(t *testing.T) {
	listener := &fakeActiveSpeakerListener{}
	o := NewActiveSpeakerObserver("o1", 100*time.Millisecond, listener)

	now := time.Unix(0, 0)
	o.AddProducer("p1", now)
	o.Update(now)
	require.Equal(t, []string{"p1"}, listener.dominants)

	o.AddProducer("p2", now)
	o.RemoveProducer("p1", now)

	require.Equal(t, []string{"p1", "p2"}, listener.dominants)
}
