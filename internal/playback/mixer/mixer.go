/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package mixer produces the final stereo stream. It reads pre-faded
// samples from chain ring buffers, sums them during crossfades, applies
// master volume, and feeds the device-facing output ring buffer while
// firing position markers.
package mixer

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/friendsincode/bragi_player/internal/playback/chain"
	"github.com/friendsincode/bragi_player/internal/playback/ringbuf"
	"github.com/rs/zerolog"
)

// Mode is the mixer's run state.
type Mode int

const (
	ModePlaying Mode = iota
	ModePauseDecaying
	ModePaused
)

// Config carries mixer tuning.
type Config struct {
	WorkingRate      int
	OutputRingSize   int
	MinStartLevel    int
	BatchSizeLow     int
	BatchSizeOptimal int
	CheckInterval    time.Duration
	PauseDecayFactor float64
	PauseDecayFloor  float64
	ResumeFadeFrames int64
}

// Source is one passage feeding the mixer: the chain's ring buffer plus
// the identity and timing the mixer needs for markers and completion.
type Source struct {
	EntryID   string
	PassageID string
	Chain     *chain.Chain
	StartTick int64 // working-rate tick of the passage's first frame

	started    bool
	framesRead int64
}

// FramesRead returns the frames consumed from this source so far.
func (s *Source) FramesRead() int64 { return s.framesRead }

// Emitted is one mixer-produced event for the engine.
type Emitted struct {
	EntryID    string
	PassageID  string
	Tick       int64 // mixer tick at emission
	FramesRead int64
	Event      MarkerEvent
}

// Underrun is reported via the engine callback when a mid-stream read
// finds the buffer empty.
type Underrun struct {
	EntryID     string
	FillPercent float64
}

// Mixer turns buffered chains into a gap-free output stream. Control
// methods and Mix are serialized by an internal mutex; the audio callback
// only ever touches the lock-free output ring buffer.
type Mixer struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	mode    Mode
	current *Source
	next    *Source
	pending *Source // staged crossfade partner, activated by its marker

	currentTick int64
	markers     markerHeap

	lastL, lastR float32
	decayGain    float64
	resumeFade   int64 // frames of resume fade remaining

	framesWrittenTotal atomic.Uint64
	volumeBits         atomic.Uint32

	out      *ringbuf.RingBuffer
	events   chan Emitted
	underrun func(Underrun)

	scratch []float32
}

// New creates a mixer and its output ring buffer.
func New(cfg Config, logger zerolog.Logger) *Mixer {
	if cfg.PauseDecayFactor <= 0 || cfg.PauseDecayFactor >= 1 {
		cfg.PauseDecayFactor = 31.0 / 32.0
	}
	if cfg.PauseDecayFloor <= 0 {
		cfg.PauseDecayFloor = 1.78e-4
	}
	m := &Mixer{
		cfg:    cfg,
		logger: logger.With().Str("component", "mixer").Logger(),
		mode:   ModePaused,
		out:    ringbuf.New(cfg.OutputRingSize),
		events: make(chan Emitted, 256),
	}
	m.SetVolume(1)
	return m
}

// OutputBuffer exposes the consumer endpoint for the audio callback.
func (m *Mixer) OutputBuffer() *ringbuf.RingBuffer { return m.out }

// Events delivers marker firings and completions to the engine.
func (m *Mixer) Events() <-chan Emitted { return m.events }

// SetUnderrunFunc registers the engine's underrun policy hook.
func (m *Mixer) SetUnderrunFunc(fn func(Underrun)) { m.underrun = fn }

// SetVolume stores the master volume, clamped to [0,1].
func (m *Mixer) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	m.volumeBits.Store(math.Float32bits(float32(v)))
}

// Volume returns the master volume.
func (m *Mixer) Volume() float64 {
	return float64(math.Float32frombits(m.volumeBits.Load()))
}

// FramesWrittenTotal returns frames produced since startup.
func (m *Mixer) FramesWrittenTotal() uint64 { return m.framesWrittenTotal.Load() }

// Mode returns the current run mode.
func (m *Mixer) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// CurrentTick returns the mixer position within the current passage.
func (m *Mixer) CurrentTick() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTick
}

// Play switches to playing mode, ramping in over the resume fade.
func (m *Mixer) Play() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode == ModePlaying {
		return
	}
	if m.mode == ModePaused || m.mode == ModePauseDecaying {
		m.resumeFade = m.cfg.ResumeFadeFrames
	}
	m.mode = ModePlaying
}

// Pause switches to the exponential-decay tail. Queue and position are
// untouched; Play resumes within one frame of the pause position.
func (m *Mixer) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode != ModePlaying {
		return
	}
	m.mode = ModePauseDecaying
	m.decayGain = 1
}

// SetCurrent installs the now-playing source and resets the tick to the
// passage start. All existing markers are dropped.
func (m *Mixer) SetCurrent(src *Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = src
	m.next = nil
	m.pending = nil
	m.markers.clear()
	if src != nil {
		m.currentTick = src.StartTick
	} else {
		m.currentTick = 0
	}
}

// StagePending registers the crossfade partner ahead of time. When the
// StartCrossfade marker fires, summation begins on that exact frame with
// no round trip through the orchestrator.
func (m *Mixer) StagePending(src *Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = src
}

// BeginCrossfade installs the next source; summation starts on the next
// frame. Used when no source was staged for the marker (e.g. the partner
// was enqueued after the marker fired). A partner that is already summing
// is left untouched.
func (m *Mixer) BeginCrossfade(src *Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if src == nil {
		return
	}
	if m.next != nil && m.next.EntryID == src.EntryID {
		return
	}
	src.started = true
	m.next = src
}

// CurrentEntryID returns the queue entry feeding the mixer, or "".
func (m *Mixer) CurrentEntryID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.EntryID
}

// DropCurrent abandons the current source (skip): the next source, if any,
// is promoted without emitting completion for it. Markers for the dropped
// passage are cleared. Returns the dropped source's identity and progress
// for the caller's completion bookkeeping.
func (m *Mixer) DropCurrent() (entryID string, framesRead int64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return "", 0, false
	}
	entryID = m.current.EntryID
	framesRead = m.current.framesRead
	m.markers.clearPassage(m.current.PassageID)
	m.pending = nil
	m.promoteLocked()
	return entryID, framesRead, true
}

// AddMarker arms a marker at an absolute working-rate tick.
func (m *Mixer) AddMarker(tick int64, passageID string, ev MarkerEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers.add(Marker{Tick: tick, PassageID: passageID, Event: ev})
}

// ClearMarkers removes every marker for the passage.
func (m *Mixer) ClearMarkers(passageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers.clearPassage(passageID)
}

// Run wakes on the check interval and tops up the output ring buffer:
// below 50% fill it writes the low batch, between 50% and 75% the optimal
// batch, above 75% nothing.
func (m *Mixer) Run(ctx context.Context) error {
	m.logger.Info().Msg("mixer started")
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("mixer stopped")
			return ctx.Err()
		case <-ticker.C:
			fill := float64(m.out.Len()) / float64(m.out.Capacity())
			var batch int
			switch {
			case fill < 0.5:
				batch = m.cfg.BatchSizeLow
			case fill < 0.75:
				batch = m.cfg.BatchSizeOptimal
			default:
				continue
			}
			if free := m.out.Free(); batch > free {
				batch = free
			}
			m.Mix(batch)
		}
	}
}

// Mix produces up to frames output frames. Exported for deterministic
// tests; Run is the production driver.
func (m *Mixer) Mix(frames int) {
	if frames <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if cap(m.scratch) < frames*2 {
		m.scratch = make([]float32, frames*2)
	}
	buf := m.scratch[:0]

	var underrunSeen *Underrun

	for i := 0; i < frames; i++ {
		volume := float32(m.Volume())

		switch m.mode {
		case ModePaused:
			buf = append(buf, 0, 0)
			continue
		case ModePauseDecaying:
			m.decayGain *= m.cfg.PauseDecayFactor
			if m.decayGain < m.cfg.PauseDecayFloor {
				m.decayGain = 0
				m.mode = ModePaused
				buf = append(buf, 0, 0)
				continue
			}
			gain := float32(m.decayGain) * volume
			buf = append(buf, m.lastL*gain, m.lastR*gain)
			continue
		}

		left, right, produced := m.mixOneFrameLocked(&underrunSeen)
		if !produced {
			buf = append(buf, 0, 0)
			continue
		}

		left *= volume
		right *= volume
		if m.resumeFade > 0 {
			total := m.cfg.ResumeFadeFrames
			gain := float32(total-m.resumeFade) / float32(total)
			left *= gain
			right *= gain
			m.resumeFade--
		}
		buf = append(buf, left, right)
	}

	wrote := m.out.Write(buf)
	m.framesWrittenTotal.Add(uint64(wrote))

	if underrunSeen != nil && m.underrun != nil {
		m.underrun(*underrunSeen)
	}
}

// mixOneFrameLocked advances playback by one frame: read current, sum
// next during crossfade, handle completion promotion and markers.
func (m *Mixer) mixOneFrameLocked(underrunSeen **Underrun) (float32, float32, bool) {
	// Promotion can cascade once when the current passage ends exactly at
	// this frame boundary.
	for attempt := 0; attempt < 2; attempt++ {
		cur := m.current
		if cur == nil {
			return 0, 0, false
		}

		buf := cur.Chain.Buffer()
		if !cur.started {
			if buf.Len() < m.cfg.MinStartLevel && !buf.WriteClosed() {
				return 0, 0, false
			}
			cur.started = true
		}

		left, right, ok := buf.ReadFrame()
		if !ok {
			if buf.Exhausted() {
				m.completeCurrentLocked(true)
				continue
			}
			// Mid-stream underrun: hold the last frame and report once.
			if *underrunSeen == nil {
				fill := float64(buf.Len()) / float64(buf.Capacity())
				*underrunSeen = &Underrun{EntryID: cur.EntryID, FillPercent: fill * 100}
			}
			return m.lastL, m.lastR, true
		}

		cur.framesRead++
		m.currentTick++

		// Crossfade summation: both streams are pre-faded, so addition is
		// the whole mix.
		if m.next != nil {
			nl, nr, nok := m.next.Chain.Buffer().ReadFrame()
			if nok {
				m.next.framesRead++
				left += nl
				right += nr
			} else if m.next.Chain.Buffer().Exhausted() {
				// Next ended during the overlap (tiny passage); complete it
				// without promoting.
				m.emitLocked(m.next, PassageComplete{})
				m.next = nil
			}
		}

		m.lastL, m.lastR = left, right
		m.fireMarkersLocked()

		// End of the current passage: the exact frame for its final tick
		// has now been read.
		if buf.Exhausted() {
			m.completeCurrentLocked(false)
		}
		return left, right, true
	}
	return 0, 0, false
}

// completeCurrentLocked emits PassageComplete for the current source and
// promotes the crossfade partner, if any. earlyEOF marks completion
// detected on an empty buffer rather than after the final frame.
func (m *Mixer) completeCurrentLocked(earlyEOF bool) {
	old := m.current
	if old == nil {
		return
	}
	m.markers.clearPassage(old.PassageID)
	m.emitLocked(old, PassageComplete{})
	if earlyEOF {
		m.logger.Debug().Str("passage", old.PassageID).Msg("early EOF completion")
	}
	m.promoteLocked()
}

func (m *Mixer) promoteLocked() {
	m.current = m.next
	m.next = nil
	if m.current != nil {
		m.currentTick = m.current.StartTick + m.current.framesRead
	} else {
		m.currentTick = 0
	}
}

func (m *Mixer) fireMarkersLocked() {
	cur := m.current
	if cur == nil {
		return
	}
	for {
		top, ok := m.markers.peek()
		if !ok || top.Tick > m.currentTick {
			return
		}
		m.markers.pop()
		if top.PassageID != cur.PassageID {
			// Stale marker for a passage that was skipped; command wins.
			continue
		}
		if _, ok := top.Event.(StartCrossfade); ok && m.pending != nil {
			// Sample-accurate entry: the staged partner starts summing on
			// this very frame.
			m.pending.started = true
			m.next = m.pending
			m.pending = nil
		}
		m.emitLocked(cur, top.Event)
	}
}

func (m *Mixer) emitLocked(src *Source, ev MarkerEvent) {
	emitted := Emitted{
		EntryID:    src.EntryID,
		PassageID:  src.PassageID,
		Tick:       m.currentTick,
		FramesRead: src.framesRead,
		Event:      ev,
	}
	select {
	case m.events <- emitted:
	default:
		m.logger.Warn().Str("passage", src.PassageID).Msg("mixer event channel full, event dropped")
	}
}
