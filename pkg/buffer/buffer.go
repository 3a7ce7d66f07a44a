package buffer

import (
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/ionworker/worker/pkg/util"
)

const maxSN = 1 << 16

// Stats is a snapshot of receiver-side RTP statistics, shaped to drop straight into an
// RTCP ReceptionReport or a GetStats() notification.
type Stats struct {
	LastExpected   uint32
	LastReceived   uint32
	LostRate       float32
	PacketCount    uint32
	PacketLost     uint32
	Jitter         float64
	TotalByte      uint64
}

// Buffer is the receive-side state for one RTP stream: it stores recent packets in a
// Bucket for retransmission, tracks loss in a nackQueue, derives RFC 3550 jitter, and
// remembers the last sender report so callers can build ReceptionReports. It is created
// and indexed by the same Factory as RTCPReader.
type Buffer struct {
	mu sync.Mutex

	ssrc   uint32
	closed atomicBool

	bucket     *Bucket
	bucketPool *sync.Pool
	nacker     *nackQueue

	videoPool *sync.Pool
	audioPool *sync.Pool
	logger    logr.Logger

	mediaSR     bool
	clockRate   uint32
	maxTemporal int32

	lastSRNTPTime  uint64
	lastSRRTPTime  uint32
	lastSRRecv     time.Time

	baseSN      uint16
	cycles      uint32
	maxSeqNo    uint16
	lastPacketTime int64
	lastTimestamp  uint32

	packetCount uint32
	totalByte   uint64
	jitter      util.JitterBuffered

	onClose        func()
	onFeedback     func([]rtcp.Packet)
	onAudioLevel   func(level uint8)
	remb           func(bitrate uint64)
}

// NewBuffer creates a Buffer for ssrc. The ring buffer is taken from the video or audio
// pool lazily: from the audio pool if SetAudio(true) is called before the first packet,
// otherwise from the video pool when the first packet arrives.
func NewBuffer(ssrc uint32, videoPool, audioPool *sync.Pool, logger logr.Logger) *Buffer {
	if logger == (logr.Logger{}) {
		logger = Logger
	}
	return &Buffer{
		ssrc:      ssrc,
		videoPool: videoPool,
		audioPool: audioPool,
		nacker:    newNACKQueue(),
		logger:    logger,
	}
}

// bindBucket lazily allocates the ring buffer from the right pool once the caller tells
// us whether this SSRC is audio (via SetAudio) or we see our first packet (default video).
func (b *Buffer) bindBucket(audio bool) {
	if b.bucket != nil {
		return
	}
	pool := b.videoPool
	if audio {
		pool = b.audioPool
	}
	b.bucketPool = pool
	buf := pool.Get().(*[]byte)
	b.bucket = NewBucket(buf)
}

// SetAudio marks the stream as audio before the first packet arrives, so the smaller
// audio pool is used instead of the default video pool.
func (b *Buffer) SetAudio(audio bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindBucket(audio)
}

// SetClockRate records the RTP clock rate needed to convert timestamps into jitter.
func (b *Buffer) SetClockRate(clockRate uint32) {
	b.mu.Lock()
	b.clockRate = clockRate
	b.mu.Unlock()
}

// Write ingests one already-decrypted RTP packet, updating loss, jitter and byte
// counters and caching it for retransmission. The returned NACK pairs, if any, are
// ready to be wrapped in an rtcp.TransportLayerNack and sent upstream.
func (b *Buffer) Write(pkt []byte) (*rtp.Header, []rtcp.NackPair, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.get() {
		return nil, nil, false, errBufferTooSmall
	}

	var hdr rtp.Header
	n, err := hdr.Unmarshal(pkt)
	if err != nil {
		return nil, nil, false, err
	}

	b.bindBucket(false)

	now := time.Now()
	if b.packetCount == 0 {
		b.baseSN = hdr.SequenceNumber
		b.maxSeqNo = hdr.SequenceNumber
	} else if util.IsSeqNewer(hdr.SequenceNumber, b.maxSeqNo) {
		prevExt := b.cycles + uint32(b.maxSeqNo)
		if hdr.SequenceNumber < b.maxSeqNo {
			b.cycles += maxSN
		}
		b.maxSeqNo = hdr.SequenceNumber
		// Every sequence number skipped over is a hole to NACK.
		newExt := b.cycles + uint32(hdr.SequenceNumber)
		if newExt-prevExt > maxNackCache {
			prevExt = newExt - maxNackCache
		}
		for missing := prevExt + 1; missing < newExt; missing++ {
			b.nacker.push(missing)
		}
	} else {
		// A late packet fills a hole recorded earlier.
		lateExt := b.cycles + uint32(hdr.SequenceNumber)
		if hdr.SequenceNumber > b.maxSeqNo && b.cycles >= maxSN {
			lateExt -= maxSN
		}
		b.nacker.remove(lateExt)
	}

	latest := hdr.SequenceNumber == b.maxSeqNo
	if _, err := b.bucket.AddPacket(pkt, hdr.SequenceNumber, latest); err != nil && err != errRTXPacket {
		b.logger.V(1).Info("dropping packet", "ssrc", b.ssrc, "sn", hdr.SequenceNumber, "reason", err.Error())
	}

	if b.lastPacketTime != 0 && b.clockRate != 0 {
		arrival := now.UnixNano()
		transit := float64(arrival-b.lastPacketTime)/float64(time.Second)*float64(b.clockRate) - float64(int32(hdr.Timestamp-b.lastTimestamp))
		if transit < 0 {
			transit = -transit
		}
		b.jitter.Update(transit)
	}
	b.lastPacketTime = now.UnixNano()
	b.lastTimestamp = hdr.Timestamp

	b.packetCount++
	b.totalByte += uint64(n)

	extMax := b.cycles + uint32(b.maxSeqNo)
	pairs, askKF := b.nacker.pairs(extMax)

	return &hdr, pairs, askKF, nil
}

// GetPacket copies the cached packet for sn into buf for retransmission.
func (b *Buffer) GetPacket(buf []byte, sn uint16) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bucket == nil {
		return 0, errPacketNotFound
	}
	return b.bucket.GetPacket(buf, sn)
}

// SetSenderReportData records the most recent sender report's NTP/RTP time pair, used
// to compute the "last SR" and "delay since last SR" fields of a ReceptionReport.
func (b *Buffer) SetSenderReportData(rtpTime uint32, ntpTime uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mediaSR = true
	b.lastSRRTPTime = rtpTime
	b.lastSRNTPTime = ntpTime
	b.lastSRRecv = time.Now()
}

// BuildReceptionReport produces an RFC 3550 ReceptionReport for the sender identified
// by senderSSRC, reflecting loss and jitter observed up to now.
func (b *Buffer) BuildReceptionReport(senderSSRC uint32) rtcp.ReceptionReport {
	b.mu.Lock()
	defer b.mu.Unlock()

	extMax := uint32(b.cycles) + uint32(b.maxSeqNo)
	expected := extMax - uint32(b.baseSN) + 1
	lost := uint32(0)
	if expected > b.packetCount {
		lost = expected - b.packetCount
	}
	var fractionLost uint8
	if expected > 0 {
		fractionLost = uint8((lost * 256) / expected)
	}

	var lsr, dlsr uint32
	if b.mediaSR {
		lsr = uint32(b.lastSRNTPTime >> 16)
		delay := time.Since(b.lastSRRecv)
		dlsr = uint32(delay.Seconds() * 65536)
	}

	return rtcp.ReceptionReport{
		SSRC:               senderSSRC,
		FractionLost:       fractionLost,
		TotalLost:          lost,
		LastSequenceNumber: extMax,
		Jitter:             b.jitter.Get(),
		LastSenderReport:   lsr,
		Delay:              dlsr,
	}
}

// Stats snapshots the counters above for a GetStats() notification.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	extMax := uint32(b.cycles) + uint32(b.maxSeqNo)
	expected := extMax - uint32(b.baseSN) + 1
	var lost uint32
	if expected > b.packetCount {
		lost = expected - b.packetCount
	}
	var lostRate float32
	if expected > 0 {
		lostRate = float32(lost) / float32(expected)
	}
	return Stats{
		LastExpected: expected,
		LastReceived: b.packetCount,
		LostRate:     lostRate,
		PacketCount:  b.packetCount,
		PacketLost:   lost,
		Jitter:       float64(b.jitter.Get()),
		TotalByte:    b.totalByte,
	}
}

// OnClose registers fn to run once, when Close releases this Buffer's pooled memory.
func (b *Buffer) OnClose(fn func()) {
	b.onClose = fn
}

// Close returns the bucket's backing array to its pool and runs the OnClose callback.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.get() {
		return nil
	}
	b.closed.set(true)
	if b.bucket != nil && b.bucketPool != nil {
		b.bucketPool.Put(b.bucket.src)
	}
	if b.onClose != nil {
		b.onClose()
	}
	return nil
}
