package observer

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/pion/rtp"

	"github.com/ionworker/worker/pkg/rtpstream"
)

// ErrMaxEntriesTooSmall/ErrThresholdOutOfRange mirror the
// MS_THROW_TYPE_ERROR validation AudioLevelObserver's constructor performs.
var (
	ErrMaxEntriesTooSmall  = errors.New("observer: maxEntries must be >= 1")
	ErrThresholdOutOfRange = errors.New("observer: threshold must be in [-127, 0]")
)

// minAudioLevelInterval/maxAudioLevelInterval clamp the controller-supplied
// interval, exactly like the original's 250-5000 ms clamp.
const (
	minAudioLevelInterval = 250 * time.Millisecond
	maxAudioLevelInterval = 5000 * time.Millisecond
)

// VolumeEntry is one producer's averaged audio level, emitted in descending
// volume order by a volumes notification.
type VolumeEntry struct {
	ProducerID string
	Volume     int8 // dBov, negative; 0 is loudest
}

// AudioLevelListener receives this observer's periodic notifications.
type AudioLevelListener interface {
	OnAudioLevelVolumes(o *AudioLevelObserver, volumes []VolumeEntry)
	OnAudioLevelSilence(o *AudioLevelObserver)
}

type dBovAccumulator struct {
	totalSum uint64
	count    uint32
}

// AudioLevelObserver computes, every interval, the average dBov of every bound
// audio Producer since the last tick, filters by threshold, and emits the
// loudest maxEntries as a volumes notification (or silence if none qualify).
type AudioLevelObserver struct {
	base

	maxEntries uint16
	threshold  int8
	interval   time.Duration

	listener AudioLevelListener

	dBovs      map[string]*dBovAccumulator
	silence    bool
	lastUpdate time.Time
}

// NewAudioLevelObserver validates and constructs an AudioLevelObserver, id
// mirroring the controller-assigned RtpObserver id.
func NewAudioLevelObserver(id string, maxEntries uint16, threshold int8, interval time.Duration, listener AudioLevelListener) (*AudioLevelObserver, error) {
	if maxEntries < 1 {
		return nil, ErrMaxEntriesTooSmall
	}
	if threshold < -127 || threshold > 0 {
		return nil, ErrThresholdOutOfRange
	}
	if interval < minAudioLevelInterval {
		interval = minAudioLevelInterval
	} else if interval > maxAudioLevelInterval {
		interval = maxAudioLevelInterval
	}
	return &AudioLevelObserver{
		base:       base{id: id},
		maxEntries: maxEntries,
		threshold:  threshold,
		interval:   interval,
		listener:   listener,
		dBovs:      make(map[string]*dBovAccumulator),
	}, nil
}

// AddProducer registers producerID as a candidate for the next Update.
func (o *AudioLevelObserver) AddProducer(producerID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dBovs[producerID] = &dBovAccumulator{}
}

// RemoveProducer forgets producerID.
func (o *AudioLevelObserver) RemoveProducer(producerID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.dBovs, producerID)
}

// OnProducerPaused drops producerID's accumulator, matching the original's
// "erase on pause" so a paused Producer never contributes stale levels.
func (o *AudioLevelObserver) OnProducerPaused(producerID string) {
	o.RemoveProducer(producerID)
}

// OnProducerResumed re-registers producerID.
func (o *AudioLevelObserver) OnProducerResumed(producerID string) {
	o.AddProducer(producerID)
}

// ReceiveRtpPacket accumulates one packet's ssrc-audio-level extension value
// into producerID's running sum, if this observer isn't paused and the
// extension is present.
func (o *AudioLevelObserver) ReceiveRtpPacket(producerID string, header *rtp.Header, ext rtpstream.ExtensionMap) {
	if o.isPaused() {
		return
	}
	level, _, ok := rtpstream.AudioLevel(header, ext)
	if !ok {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	acc, ok := o.dBovs[producerID]
	if !ok {
		return
	}
	acc.totalSum += uint64(level)
	acc.count++
}

// Pause stops accumulating and resets every accumulator, emitting silence if
// not already silent (RTC::AudioLevelObserver::Paused).
func (o *AudioLevelObserver) Pause() {
	if !o.setPaused(true) {
		return
	}
	o.mu.Lock()
	for _, acc := range o.dBovs {
		acc.totalSum = 0
		acc.count = 0
	}
	wasSilent := o.silence
	o.silence = true
	o.mu.Unlock()
	if !wasSilent {
		o.listener.OnAudioLevelSilence(o)
	}
}

// Resume re-enables accumulation.
func (o *AudioLevelObserver) Resume() {
	o.setPaused(false)
}

// Tick drives this observer's periodic Update once at least interval has
// elapsed since the last call that fired one.
func (o *AudioLevelObserver) Tick(now time.Time) {
	if o.isPaused() {
		return
	}
	o.mu.Lock()
	if !o.lastUpdate.IsZero() && now.Sub(o.lastUpdate) < o.interval {
		o.mu.Unlock()
		return
	}
	o.lastUpdate = now
	o.mu.Unlock()
	o.Update()
}

// Update computes the per-producer average dBov since the last Update, resets
// every accumulator, and emits the top maxEntries above threshold in
// descending volume order (loudest first), or silence if none qualify.
func (o *AudioLevelObserver) Update() {
	o.mu.Lock()
	type candidate struct {
		producerID string
		volume     int8
	}
	var candidates []candidate
	for id, acc := range o.dBovs {
		sum, count := acc.totalSum, acc.count
		acc.totalSum = 0
		acc.count = 0
		if count < 10 {
			continue
		}
		avg := int8(math.Round(-1 * float64(sum) / float64(count)))
		if avg >= o.threshold {
			candidates = append(candidates, candidate{producerID: id, volume: avg})
		}
	}
	o.mu.Unlock()

	if len(candidates) == 0 {
		o.mu.Lock()
		wasSilent := o.silence
		o.silence = true
		o.mu.Unlock()
		if !wasSilent {
			o.listener.OnAudioLevelSilence(o)
		}
		return
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].volume > candidates[j].volume })
	if len(candidates) > int(o.maxEntries) {
		candidates = candidates[:o.maxEntries]
	}

	volumes := make([]VolumeEntry, len(candidates))
	for i, c := range candidates {
		volumes[i] = VolumeEntry{ProducerID: c.producerID, Volume: c.volume}
	}

	o.mu.Lock()
	o.silence = false
	o.mu.Unlock()
	o.listener.OnAudioLevelVolumes(o, volumes)
}
