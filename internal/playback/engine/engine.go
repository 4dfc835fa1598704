/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine orchestrates playback: it owns the queue, the decoder
// worker, the mixer and the event bus, consumes commands, and turns mixer
// markers into state transitions and published events.
package engine

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/friendsincode/bragi_player/internal/config"
	"github.com/friendsincode/bragi_player/internal/db"
	"github.com/friendsincode/bragi_player/internal/events"
	"github.com/friendsincode/bragi_player/internal/models"
	"github.com/friendsincode/bragi_player/internal/playback/chain"
	"github.com/friendsincode/bragi_player/internal/playback/mixer"
	"github.com/friendsincode/bragi_player/internal/playback/queue"
	"github.com/friendsincode/bragi_player/internal/playback/worker"
	"github.com/friendsincode/bragi_player/internal/telemetry"
	"github.com/rs/zerolog"
)

// dedupWindow bounds duplicate PassageComplete suppression. It is far
// longer than any realistic passage transition.
const dedupWindow = 5 * time.Second

// refillTimeout bounds the priority-refill wait after a buffer underrun.
const refillTimeout = 500 * time.Millisecond

// Engine is the playback orchestrator. All mutable state is owned by the
// goroutine executing run; other threads communicate through channels.
type Engine struct {
	cfg      *config.Config
	logger   zerolog.Logger
	bus      *events.Bus
	metrics  *telemetry.Metrics
	settings *db.SettingsStore

	workingRate int
	chains      []*chain.Chain
	queue       *queue.Manager
	worker      *worker.Worker
	mixer       *mixer.Mixer

	commands   chan Command
	underruns  chan mixer.Underrun
	deviceLost chan struct{}
	deviceBack chan reconnectResult
	bindFails  chan queue.BindFailure

	// Run-goroutine state.
	state          events.PlaybackState
	armedEntryID   string
	completedSeen  map[string]time.Time
	pendingRefill  *refillState
	underrunTimes  []time.Time
	crossfadesOffT  time.Time // crossfades disabled until this instant
	windowRestoreAt time.Time // chain window restored after this instant
	reconnecting    bool

	qstore *db.QueueStore

	dev deviceControl

	wg sync.WaitGroup
}

type refillState struct {
	entryID  string
	deadline time.Time
}

// deviceControl is the slice of the audio device the engine drives.
// A nil device runs the engine headless (tests, offline rendering).
type deviceControl interface {
	Start() error
	Stop() error
	Close() error
	SampleRate() int
}

// Options bundles the engine's collaborators.
type Options struct {
	Config      *config.Config
	Logger      zerolog.Logger
	Bus         *events.Bus
	Metrics     *telemetry.Metrics
	Settings    *db.SettingsStore
	QueueStore  *db.QueueStore
	Lookup      models.PassageLookup
	WorkingRate int
	Device      deviceControl // may be nil
}

// New wires the engine: chains, queue manager, worker and mixer.
func New(opts Options) *Engine {
	cfg := opts.Config
	logger := opts.Logger.With().Str("component", "engine").Logger()

	chains := make([]*chain.Chain, cfg.MaxDecodeStreams)
	for i := range chains {
		chains[i] = chain.New(i, chain.Config{
			WorkingRate:             opts.WorkingRate,
			ChunkFrames:             cfg.DecodeChunkFrames,
			RingCapacity:            cfg.PlayoutRingCapacity,
			PartialDecodeMinPercent: cfg.PartialDecodeMinPercent,
		}, opts.Logger)
	}

	e := &Engine{
		cfg:           cfg,
		logger:        logger,
		bus:           opts.Bus,
		metrics:       opts.Metrics,
		settings:      opts.Settings,
		qstore:        opts.QueueStore,
		workingRate:   opts.WorkingRate,
		chains:        chains,
		commands:      make(chan Command, 32),
		underruns:     make(chan mixer.Underrun, 8),
		deviceLost:    make(chan struct{}, 1),
		deviceBack:    make(chan reconnectResult, 1),
		bindFails:     make(chan queue.BindFailure, 16),
		state:         events.StateReady,
		completedSeen: make(map[string]time.Time),
		dev:           opts.Device,
	}

	rootFolder := ""
	if opts.Settings != nil {
		rootFolder = opts.Settings.Get(db.SettingRootFolder, cfg.MediaRoot)
	}
	e.queue = queue.NewManager(chains, opts.QueueStore, opts.Lookup, opts.Bus, rootFolder, opts.Logger)
	e.queue.OnBindFailure = func(f queue.BindFailure) {
		select {
		case e.bindFails <- f:
		default:
			logger.Warn().Str("entry", f.Entry.ID).Msg("bind failure channel full")
		}
	}

	e.worker = worker.New(worker.Config{
		Headroom:         cfg.PlayoutRingHeadroom,
		ResumeHysteresis: cfg.DecoderResumeHysteresis,
		WorkPeriod:       cfg.DecodeWorkPeriod,
	}, chains, e.queue, opts.Logger)

	e.mixer = mixer.New(mixer.Config{
		WorkingRate:      opts.WorkingRate,
		OutputRingSize:   cfg.OutputRingSize,
		MinStartLevel:    cfg.MixerMinStartLevel,
		BatchSizeLow:     cfg.MixerBatchSizeLow,
		BatchSizeOptimal: cfg.MixerBatchSizeOptimal,
		CheckInterval:    cfg.MixerCheckInterval,
		PauseDecayFactor: cfg.PauseDecayFactor,
		PauseDecayFloor:  cfg.PauseDecayFloor,
		ResumeFadeFrames: int64(cfg.ResumeFadeMs) * int64(opts.WorkingRate) / 1000,
	}, opts.Logger)
	e.mixer.SetUnderrunFunc(func(u mixer.Underrun) {
		select {
		case e.underruns <- u:
		default:
		}
	})

	return e
}

// Mixer exposes the mixer (output buffer wiring, tests).
func (e *Engine) Mixer() *mixer.Mixer { return e.mixer }

// Queue exposes the queue manager (read paths, tests).
func (e *Engine) Queue() *queue.Manager { return e.queue }

// AttachDevice wires the audio device once it has been opened against the
// mixer's output buffer. Must be called before Start.
func (e *Engine) AttachDevice(dev deviceControl) { e.dev = dev }

// NotifyDeviceLost is wired to the audio device's stop callback.
func (e *Engine) NotifyDeviceLost() {
	select {
	case e.deviceLost <- struct{}{}:
	default:
	}
}

// Start restores persisted state and launches the worker, mixer and
// orchestrator goroutines.
func (e *Engine) Start(ctx context.Context) {
	e.restoreState()

	e.wg.Add(3)
	go func() { defer e.wg.Done(); _ = e.worker.Run(ctx) }()
	go func() { defer e.wg.Done(); _ = e.mixer.Run(ctx) }()
	go func() { defer e.wg.Done(); e.run(ctx) }()
}

// Wait blocks until all engine goroutines have exited.
func (e *Engine) Wait() { e.wg.Wait() }

// restoreState reloads the queue, master volume and play state.
func (e *Engine) restoreState() {
	e.queue.RestoreFromDatabase()
	e.worker.Kick()

	if e.settings != nil {
		e.mixer.SetVolume(e.settings.GetFloat(db.SettingMasterVolume, 1))
	}
	if current := e.queue.Current(); current != nil {
		e.armCurrent(current, false)
	}
	if e.settings != nil && e.settings.Get(db.SettingPlaybackState, "paused") == string(events.StatePlaying) {
		e.setState(events.StatePlaying)
		e.mixer.Play()
	}
}

// run is the orchestrator event loop. Commands are processed in receipt
// order; the effect of each is observable before the next starts.
func (e *Engine) run(ctx context.Context) {
	e.logger.Info().Msg("playback engine started")
	housekeeping := time.NewTicker(100 * time.Millisecond)
	defer housekeeping.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("playback engine stopped")
			return
		case cmd := <-e.commands:
			e.handleCommand(cmd)
		case ev := <-e.mixer.Events():
			e.handleMixerEvent(ev)
		case wev := <-e.worker.Events():
			e.handleWorkerEvent(wev)
		case u := <-e.underruns:
			e.handleUnderrun(u)
		case f := <-e.bindFails:
			e.handleBindFailure(f)
		case <-e.deviceLost:
			e.handleDeviceLost(ctx)
		case res := <-e.deviceBack:
			e.handleDeviceBack(res)
		case <-housekeeping.C:
			e.tick()
		}
	}
}

// tick runs periodic maintenance: dedup-cache eviction, refill deadlines,
// metrics refresh, and arming a current passage that had no chain before.
func (e *Engine) tick() {
	now := time.Now()

	for id, seen := range e.completedSeen {
		if now.Sub(seen) > dedupWindow {
			delete(e.completedSeen, id)
		}
	}

	if e.pendingRefill != nil {
		e.checkRefill(now)
	}

	if !e.windowRestoreAt.IsZero() && now.After(e.windowRestoreAt) {
		e.windowRestoreAt = time.Time{}
		e.queue.SetWindow(e.cfg.MaxDecodeStreams)
		e.logger.Info().Msg("chain window restored")
	}

	if current := e.queue.Current(); current != nil && e.armedEntryID != current.ID {
		e.armCurrent(current, true)
	}

	if e.metrics != nil {
		e.metrics.QueueLength.Set(float64(e.queue.Len()))
		for _, c := range e.chains {
			e.metrics.ChainFill.WithLabelValues(chainLabel(c.Index)).Set(float64(c.Buffer().Len()))
		}
	}
}

func (e *Engine) setState(next events.PlaybackState) {
	if e.state == next {
		return
	}
	old := e.state
	e.state = next
	e.bus.Publish(events.PlaybackStateChanged{Old: old, New: next, Timestamp: time.Now().UTC()})
	if e.settings != nil {
		_ = e.settings.Set(db.SettingPlaybackState, string(next))
	}
}

func (e *Engine) framesToMs(frames int64) int64 {
	return frames * 1000 / int64(e.workingRate)
}

func (e *Engine) msToNativeTicks(ms int64, nativeRate int) int64 {
	return ms * int64(nativeRate) / 1000
}

func chainLabel(index int) string {
	return strconv.Itoa(index)
}
