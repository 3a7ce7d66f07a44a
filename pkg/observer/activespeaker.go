package observer

import (
	"math"
	"time"

	"github.com/pion/rtp"

	"github.com/ionworker/worker/pkg/rtpstream"
)

// Volfin-Cohen dominant-speaker constants, carried over verbatim from the
// original implementation's tuning (RTC::ActiveSpeakerObserver).
const (
	asoC1 = 3.0
	asoC2 = 2.0
	asoC3 = 0.0

	asoN1 = 13
	asoN2 = 5
	asoN3 = 10

	asoLongCount          = 1
	asoLevelIdleTimeout   = 40 * time.Millisecond
	asoSpeakerIdleTimeout = 60 * time.Minute
	asoLongThreshold      = 4
	asoMediumThreshold    = 7

	asoMaxLevel           = 127
	asoMinLevel           = 0
	asoMinLevelWindowLen  = 15 * 1000 / 20 // 750, in 20ms level-sample units
	asoSubunitLengthN1    = (asoMaxLevel - asoMinLevel + asoN1 - 1) / asoN1
	asoImmediateBuffLen   = asoLongCount * asoN3 * asoN2
	asoMediumsBuffLen     = asoLongCount * asoN3
	asoLongsBuffLen       = asoLongCount
	asoLevelsBuffLen      = asoLongCount * asoN3 * asoN2
	asoMinActivityScore   = 0.0000000001
)

// minActiveSpeakerInterval/maxActiveSpeakerInterval clamp the interval passed to
// NewActiveSpeakerObserver, mirroring the 100-5000 ms clamp in the original
// constructor. The clamped interval is stored but not consulted: Tick recomputes
// the dominant speaker on every call, at the caller's own tick cadence.
const (
	minActiveSpeakerInterval = 100 * time.Millisecond
	maxActiveSpeakerInterval = 5000 * time.Millisecond
)

// ActiveSpeakerListener receives dominant-speaker change notifications.
type ActiveSpeakerListener interface {
	OnActiveSpeakerDominantSpeaker(o *ActiveSpeakerObserver, producerID string)
}

// ActiveSpeakerObserver implements the Volfin-Cohen dominant-speaker algorithm:
// per-producer sliding windows of immediate/medium/long speech activity scored
// against a binomial-likelihood model, comparing every non-dominant speaker to
// the current dominant speaker on each tick.
type ActiveSpeakerObserver struct {
	base

	interval time.Duration
	listener ActiveSpeakerListener

	speakers map[string]*speaker
	dominant string

	lastIdleSweep time.Time
}

// NewActiveSpeakerObserver constructs an ActiveSpeakerObserver, clamping
// interval to [100ms, 5000ms].
func NewActiveSpeakerObserver(id string, interval time.Duration, listener ActiveSpeakerListener) *ActiveSpeakerObserver {
	if interval < minActiveSpeakerInterval {
		interval = minActiveSpeakerInterval
	} else if interval > maxActiveSpeakerInterval {
		interval = maxActiveSpeakerInterval
	}
	return &ActiveSpeakerObserver{
		base:     base{id: id},
		interval: interval,
		listener: listener,
		speakers: make(map[string]*speaker),
	}
}

// AddProducer registers a fresh Speaker scorer for producerID.
func (o *ActiveSpeakerObserver) AddProducer(producerID string, now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.speakers[producerID] = newSpeaker(now)
}

// RemoveProducer forgets producerID, re-evaluating the dominant speaker
// immediately if it was the one removed.
func (o *ActiveSpeakerObserver) RemoveProducer(producerID string, now time.Time) {
	o.mu.Lock()
	delete(o.speakers, producerID)
	wasDominant := producerID == o.dominant
	o.mu.Unlock()
	if wasDominant {
		o.Update(now)
	}
}

// OnProducerPaused/OnProducerResumed soft-pause a speaker without dropping its
// accumulated state, matching RTC::ActiveSpeakerObserver::ProducerPaused/Resumed.
func (o *ActiveSpeakerObserver) OnProducerPaused(producerID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.speakers[producerID]; ok {
		s.paused = true
	}
}

func (o *ActiveSpeakerObserver) OnProducerResumed(producerID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.speakers[producerID]; ok {
		s.paused = false
	}
}

// ReceiveRtpPacket feeds one packet's ssrc-audio-level value into producerID's
// Speaker window.
func (o *ActiveSpeakerObserver) ReceiveRtpPacket(producerID string, header *rtp.Header, ext rtpstream.ExtensionMap, now time.Time) {
	if o.isPaused() {
		return
	}
	level, _, ok := rtpstream.AudioLevel(header, ext)
	if !ok {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.speakers[producerID]; ok {
		s.levelChanged(level, now)
	}
}

// Pause/Resume toggle this observer without touching per-speaker state.
func (o *ActiveSpeakerObserver) Pause() { o.setPaused(true) }

func (o *ActiveSpeakerObserver) Resume() { o.setPaused(false) }

// Tick drives the periodic dominant-speaker recomputation.
func (o *ActiveSpeakerObserver) Tick(now time.Time) {
	if o.isPaused() {
		return
	}
	o.Update(now)
}

// Update sweeps idle speakers and recomputes the dominant speaker, emitting a
// dominantSpeaker notification when it changes.
func (o *ActiveSpeakerObserver) Update(now time.Time) {
	o.mu.Lock()
	if o.lastIdleSweep.IsZero() || now.Sub(o.lastIdleSweep) >= asoLevelIdleTimeout {
		o.timeoutIdleLevels(now)
		o.lastIdleSweep = now
	}
	changed, newDominant := o.calculateActiveSpeaker()
	o.mu.Unlock()

	if changed {
		o.listener.OnActiveSpeakerDominantSpeaker(o, newDominant)
	}
}

// timeoutIdleLevels soft-pauses speakers idle past asoSpeakerIdleTimeout and
// injects a synthetic silence sample for speakers idle past asoLevelIdleTimeout,
// exactly like RTC::ActiveSpeakerObserver::TimeoutIdleLevels. Caller holds o.mu.
func (o *ActiveSpeakerObserver) timeoutIdleLevels(now time.Time) {
	for id, s := range o.speakers {
		idle := now.Sub(s.lastLevelChangeTime)
		if idle > asoSpeakerIdleTimeout && id != o.dominant {
			s.paused = true
		} else if idle > asoLevelIdleTimeout {
			s.levelTimedOut()
		}
	}
}

// calculateActiveSpeaker re-evaluates the dominant speaker against every other
// non-paused speaker, returning whether the dominant changed. Caller holds o.mu.
func (o *ActiveSpeakerObserver) calculateActiveSpeaker() (bool, string) {
	var newDominant string

	switch len(o.speakers) {
	case 0:
		newDominant = ""
	case 1:
		for id := range o.speakers {
			newDominant = id
		}
	default:
		dominantSpeaker := o.speakers[o.dominant]
		if dominantSpeaker == nil {
			for id, s := range o.speakers {
				newDominant = id
				dominantSpeaker = s
				break
			}
		}

		dominantSpeaker.evalActivityScores()
		bestC2 := asoC2

		for id, s := range o.speakers {
			if id == o.dominant || s.paused {
				continue
			}
			s.evalActivityScores()

			c1 := math.Log(dominantSpeaker.immediateActivityScore / s.immediateActivityScore)
			c2 := math.Log(dominantSpeaker.mediumActivityScore / s.mediumActivityScore)
			c3 := math.Log(dominantSpeaker.longActivityScore / s.longActivityScore)

			if c1 > asoC1 && c2 > asoC2 && c3 > asoC3 && c2 > bestC2 {
				bestC2 = c2
				newDominant = id
			}
		}
	}

	if newDominant != "" && newDominant != o.dominant {
		o.dominant = newDominant
		return true, newDominant
	}
	return false, o.dominant
}

// speaker is the per-producer Volfin-Cohen sliding-window scorer (RTC::
// ActiveSpeakerObserver::Speaker).
type speaker struct {
	paused bool

	minLevel              uint8
	nextMinLevel          uint8
	nextMinLevelWindowLen int

	immediateActivityScore float64
	mediumActivityScore    float64
	longActivityScore      float64

	immediates []uint8
	mediums    []uint8
	longs      []uint8
	levels     []uint8

	lastLevelChangeTime time.Time
}

func newSpeaker(now time.Time) *speaker {
	return &speaker{
		immediateActivityScore: asoMinActivityScore,
		mediumActivityScore:    asoMinActivityScore,
		longActivityScore:      asoMinActivityScore,
		immediates:             make([]uint8, asoImmediateBuffLen),
		mediums:                make([]uint8, asoMediumsBuffLen),
		longs:                  make([]uint8, asoLongsBuffLen),
		levels:                 make([]uint8, asoLevelsBuffLen),
		lastLevelChangeTime:    now,
	}
}

// levelChanged pushes a new dBov sample into the sliding level window, most
// recent first, and refreshes the rolling noise floor.
func (s *speaker) levelChanged(level uint8, now time.Time) {
	if now.Before(s.lastLevelChangeTime) {
		return
	}
	s.lastLevelChangeTime = now

	b := level
	if b > asoMaxLevel {
		b = asoMaxLevel
	}

	copy(s.levels[1:], s.levels[:len(s.levels)-1])
	s.levels[0] = b
	s.updateMinLevel(b)
	s.paused = false
}

// levelTimedOut injects a silent sample without advancing lastLevelChangeTime,
// used when no packet has arrived for a while.
func (s *speaker) levelTimedOut() {
	last := s.lastLevelChangeTime
	s.levelChanged(asoMinLevel, last)
	s.lastLevelChangeTime = last
}

// evalActivityScores recomputes the immediate/medium/long scores bottom-up,
// short-circuiting at the first unchanged level (ComputeImmediates/Mediums/Longs
// all report whether their output actually moved).
func (s *speaker) evalActivityScores() {
	if s.computeImmediates() {
		s.immediateActivityScore = computeActivityScore(s.immediates[0], asoN1, 0.5, 0.78)
		if s.computeMediums() {
			s.mediumActivityScore = computeActivityScore(s.mediums[0], asoN2, 0.5, 24)
			if s.computeLongs() {
				s.longActivityScore = computeActivityScore(s.longs[0], asoN3, 0.5, 47)
			}
		}
	}
}

func (s *speaker) computeImmediates() bool {
	minLevel := s.minLevel + asoSubunitLengthN1
	changed := false
	for i := 0; i < asoImmediateBuffLen; i++ {
		level := s.levels[i]
		if level < minLevel {
			level = asoMinLevel
		}
		immediate := level / asoSubunitLengthN1
		if s.immediates[i] != immediate {
			s.immediates[i] = immediate
			changed = true
		}
	}
	return changed
}

func (s *speaker) computeMediums() bool {
	return computeBigs(s.immediates, s.mediums, asoMediumThreshold)
}

func (s *speaker) computeLongs() bool {
	return computeBigs(s.mediums, s.longs, asoLongThreshold)
}

// updateMinLevel tracks a slowly-adapting noise floor: once a window of
// asoMinLevelWindowLen samples (750, about 15 s of 20 ms packets) agrees on a
// lower floor, the floor is geometrically averaged toward it.
func (s *speaker) updateMinLevel(level uint8) {
	if level == asoMinLevel {
		return
	}
	if s.minLevel == asoMinLevel || s.minLevel > level {
		s.minLevel = level
		s.nextMinLevel = asoMinLevel
		s.nextMinLevelWindowLen = 0
		return
	}
	if s.nextMinLevel == asoMinLevel {
		s.nextMinLevel = level
		s.nextMinLevelWindowLen = 1
		return
	}
	if s.nextMinLevel > level {
		s.nextMinLevel = level
	}
	s.nextMinLevelWindowLen++
	if s.nextMinLevelWindowLen >= asoMinLevelWindowLen {
		newMin := math.Sqrt(float64(s.minLevel) * float64(s.nextMinLevel))
		if newMin < asoMinLevel {
			newMin = asoMinLevel
		} else if newMin > asoMaxLevel {
			newMin = asoMaxLevel
		}
		s.minLevel = uint8(newMin)
		s.nextMinLevel = asoMinLevel
		s.nextMinLevelWindowLen = 0
	}
}

// computeBigs folds littles into bigs by counting, per bucket, how many
// entries exceed threshold, reporting whether any bucket's count moved.
func computeBigs(littles, bigs []uint8, threshold uint8) bool {
	littleLenPerBig := len(littles) / len(bigs)
	changed := false
	l := 0
	for b := 0; b < len(bigs); b++ {
		var sum uint8
		for end := l + littleLenPerBig; l < end; l++ {
			if littles[l] > threshold {
				sum++
			}
		}
		if bigs[b] != sum {
			bigs[b] = sum
			changed = true
		}
	}
	return changed
}

// binomialCoefficient computes C(n, r) using the standard multiplicative
// formula, mirroring the original's integer overflow-avoiding loop.
func binomialCoefficient(n, r int) int64 {
	m := n - r
	if r < m {
		r = m
	}
	t := int64(1)
	j := int64(1)
	for i := int64(n); i > int64(r); i-- {
		t = t * i / j
		j++
	}
	return t
}

// computeActivityScore is the Volfin-Cohen log-likelihood activity score for a
// window with vL "active" sub-intervals out of nR total, under a Bernoulli(p)
// null model and a Poisson(lambda) prior on vL.
func computeActivityScore(vL uint8, nR int, p, lambda float64) float64 {
	score := math.Log(float64(binomialCoefficient(nR, int(vL)))) +
		float64(vL)*math.Log(p) +
		float64(nR-int(vL))*math.Log(1-p) -
		math.Log(lambda) + lambda*float64(vL)
	if score < asoMinActivityScore {
		score = asoMinActivityScore
	}
	return score
}
