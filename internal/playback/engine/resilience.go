/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"context"
	"strings"
	"time"

	"github.com/friendsincode/bragi_player/internal/events"
	"github.com/friendsincode/bragi_player/internal/playback/mixer"
)

// Degradation thresholds: after three underruns inside a minute the engine
// disables crossfades for ten minutes (single-passage mode).
const (
	underrunBurstCount  = 3
	underrunBurstWindow = time.Minute
	crossfadeCooldown   = 10 * time.Minute
)

// handleUnderrun applies the buffer-underrun policy: pause the mixer,
// request a priority refill of the affected chain, and give it a bounded
// window before skipping.
func (e *Engine) handleUnderrun(u mixer.Underrun) {
	e.bus.Publish(events.BufferUnderrun{
		QueueEntryID:      u.EntryID,
		BufferFillPercent: u.FillPercent,
		Timestamp:         time.Now().UTC(),
	})
	if e.metrics != nil {
		e.metrics.BufferUnderruns.Inc()
	}

	now := time.Now()
	e.underrunTimes = append(e.underrunTimes, now)
	e.pruneUnderruns(now)
	if len(e.underrunTimes) >= underrunBurstCount && e.crossfadesEnabled() {
		e.crossfadesOffT = now.Add(crossfadeCooldown)
		e.logger.Warn().Int("underruns", len(e.underrunTimes)).
			Msg("repeated underruns, crossfades disabled")
	}

	if e.pendingRefill != nil {
		return
	}
	if e.state == events.StatePlaying {
		e.mixer.Pause()
	}
	e.pendingRefill = &refillState{
		entryID:  u.EntryID,
		deadline: now.Add(refillTimeout),
	}
	// The now-playing chain is already the worker's top priority; a kick
	// gets it scheduled immediately.
	e.worker.Kick()
}

func (e *Engine) pruneUnderruns(now time.Time) {
	kept := e.underrunTimes[:0]
	for _, t := range e.underrunTimes {
		if now.Sub(t) <= underrunBurstWindow {
			kept = append(kept, t)
		}
	}
	e.underrunTimes = kept
}

// checkRefill resumes playback once the starved chain recovered, or skips
// the passage when the refill window expires.
func (e *Engine) checkRefill(now time.Time) {
	refill := e.pendingRefill
	entry := e.queue.EntryByID(refill.entryID)
	if entry == nil {
		// The passage went away (skip, completion); nothing to wait for.
		e.pendingRefill = nil
		e.resumeAfterRefill()
		return
	}

	c := e.queue.ChainFor(entry)
	if c != nil {
		buf := c.Buffer()
		if buf.Len() >= e.cfg.MixerMinStartLevel || buf.WriteClosed() {
			e.pendingRefill = nil
			e.resumeAfterRefill()
			e.bus.Publish(events.BufferUnderrunRecovered{
				QueueEntryID: refill.entryID,
				Timestamp:    now.UTC(),
			})
			return
		}
	}

	if now.After(refill.deadline) {
		e.logger.Warn().Str("entry", refill.entryID).Msg("refill timed out, skipping passage")
		e.pendingRefill = nil
		e.cmdSkip()
		e.resumeAfterRefill()
	}
}

func (e *Engine) resumeAfterRefill() {
	if e.state == events.StatePlaying {
		e.mixer.Play()
	}
}

// handleResourcePressure halves the chain allocation window when decoder
// opens start failing on file-handle exhaustion. The window restores after
// five clean minutes (see tick). At window 1 with pressure still present,
// the engine asks to be shut down rather than thrash.
func (e *Engine) handleResourcePressure() {
	window := e.queue.Window()
	if window <= 1 {
		e.bus.Publish(events.ShutdownRequired{
			Reason:    "file handle exhaustion persists at minimum chain count",
			Timestamp: time.Now().UTC(),
		})
		return
	}
	e.queue.SetWindow(window / 2)
	e.windowRestoreAt = time.Now().Add(5 * time.Minute)
	e.logger.Warn().Int("window", window/2).Msg("file handle pressure, chain window halved")
}

// isResourceExhaustion detects fd-pressure open failures.
func isResourceExhaustion(err error) bool {
	return err != nil && strings.Contains(err.Error(), "too many open files")
}

// reconnectResult reports the outcome of a background device-retry loop.
type reconnectResult struct {
	ok         bool
	wasPlaying bool
}

// handleDeviceLost pauses playback, retains queue and position, and kicks
// off the retry loop in the background so the command channel stays
// responsive throughout.
func (e *Engine) handleDeviceLost(ctx context.Context) {
	e.bus.Publish(events.AudioDeviceLost{Timestamp: time.Now().UTC()})
	wasPlaying := e.state == events.StatePlaying
	e.mixer.Pause()
	if wasPlaying {
		e.setState(events.StatePaused)
	}

	if e.dev == nil || e.reconnecting {
		return
	}
	e.reconnecting = true
	go e.reconnectLoop(ctx, wasPlaying)
}

// reconnectLoop retries the device every 2 seconds for up to 30 seconds.
// Each retry restarts the already opened device with its current
// configuration; the fallback configuration chain is walked only by
// audio.Open and is not tried here.
func (e *Engine) reconnectLoop(ctx context.Context, wasPlaying bool) {
	deadline := time.Now().Add(30 * time.Second)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.dev.Start(); err == nil {
				e.deviceBack <- reconnectResult{ok: true, wasPlaying: wasPlaying}
				return
			} else if time.Now().After(deadline) {
				e.logger.Warn().Err(err).Msg("device unrecoverable")
				e.deviceBack <- reconnectResult{ok: false}
				return
			} else {
				e.logger.Warn().Err(err).Msg("device restart failed, retrying")
			}
		}
	}
}

// handleDeviceBack applies the reconnect outcome on the engine goroutine.
func (e *Engine) handleDeviceBack(res reconnectResult) {
	e.reconnecting = false
	if !res.ok {
		e.bus.Publish(events.AudioDeviceUnavailable{Timestamp: time.Now().UTC()})
		return
	}
	e.bus.Publish(events.AudioDeviceRestored{Timestamp: time.Now().UTC()})
	if e.metrics != nil {
		e.metrics.DeviceRestarts.Inc()
	}
	if res.wasPlaying {
		e.mixer.Play()
		e.setState(events.StatePlaying)
	}
}
