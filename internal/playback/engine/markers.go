/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"time"

	"github.com/friendsincode/bragi_player/internal/events"
	"github.com/friendsincode/bragi_player/internal/playback/chain"
	"github.com/friendsincode/bragi_player/internal/playback/decode"
	"github.com/friendsincode/bragi_player/internal/playback/mixer"
	"github.com/friendsincode/bragi_player/internal/playback/queue"
	"github.com/friendsincode/bragi_player/internal/playback/worker"
)

// armCurrent makes the entry the mixer's current passage and computes its
// transition markers. With setSource true an already armed entry is left
// alone, and the mixer source is installed only when the mixer does not
// already hold the entry (after a crossfade promotion it does, and only
// markers are armed). With setSource false the source is always reinstalled
// and the markers rearmed, as after a seek or a restore.
func (e *Engine) armCurrent(entry *queue.Entry, setSource bool) {
	if setSource && e.armedEntryID == entry.ID {
		return
	}
	c := e.queue.ChainFor(entry)
	if c == nil {
		// No chain yet (bind backlog); the housekeeping tick retries.
		return
	}

	if !setSource || e.mixer.CurrentEntryID() != entry.ID {
		e.mixer.SetCurrent(&mixer.Source{
			EntryID:   entry.ID,
			PassageID: entry.PassageID,
			Chain:     c,
			StartTick: c.ScaleTicks(entry.Times.StartTick),
		})
	}

	e.armedEntryID = entry.ID
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now().UTC()
	}

	e.rearmTransitionMarkers(entry)
	e.armProgressMarker(entry, e.mixer.CurrentTick())

	e.bus.Publish(events.PassageStarted{
		QueueEntryID: entry.ID,
		PassageID:    entry.PassageID,
		Timestamp:    time.Now().UTC(),
	})
	e.bus.Publish(events.BufferStateChanged{
		QueueEntryID: entry.ID,
		Old:          events.BufferReady,
		New:          events.BufferPlaying,
		Timestamp:    time.Now().UTC(),
	})
}

// rearmTransitionMarkers computes the crossfade and completion markers for
// the current passage against its queue successor.
func (e *Engine) rearmTransitionMarkers(entry *queue.Entry) {
	c := e.queue.ChainFor(entry)
	if c == nil {
		return
	}

	e.mixer.ClearMarkers(entry.PassageID)

	startTick := c.ScaleTicks(entry.Times.StartTick)
	endTick := startTick + c.TotalExpectedFrames()

	// Crossfade overlap = min(current lead-out, next lead-in), in frames.
	// Each duration scales through its own chain: the files may have
	// different native rates.
	if next := e.queue.Next(); next != nil && e.crossfadesEnabled() {
		if nextChain := e.queue.ChainFor(next); nextChain != nil {
			leadOut := c.ScaleTicks(entry.Times.LeadOutDuration())
			leadIn := nextChain.ScaleTicks(next.Times.LeadInDuration())
			overlap := leadOut
			if leadIn < overlap {
				overlap = leadIn
			}
			if overlap > 0 {
				e.mixer.AddMarker(endTick-overlap, entry.PassageID, mixer.StartCrossfade{NextQueueEntryID: next.ID})
				// Stage the partner so summation starts on the marker's
				// exact frame instead of waiting for this loop's reaction.
				e.mixer.StagePending(&mixer.Source{
					EntryID:   next.ID,
					PassageID: next.PassageID,
					Chain:     nextChain,
					StartTick: nextChain.ScaleTicks(next.Times.StartTick),
				})
			}
		}
	}

	e.mixer.AddMarker(endTick, entry.PassageID, mixer.PassageComplete{})
}

// armProgressMarker schedules the next PlaybackProgress emission.
func (e *Engine) armProgressMarker(entry *queue.Entry, fromTick int64) {
	interval := int64(e.cfg.PlaybackProgressInterval/time.Millisecond) * int64(e.workingRate) / 1000
	if interval <= 0 {
		return
	}
	e.mixer.AddMarker(fromTick+interval, entry.PassageID, mixer.PositionUpdate{})
}

func (e *Engine) crossfadesEnabled() bool {
	return time.Now().After(e.crossfadesOffT)
}

// handleMixerEvent reacts to marker firings and completions.
func (e *Engine) handleMixerEvent(ev mixer.Emitted) {
	switch marker := ev.Event.(type) {
	case mixer.PositionUpdate:
		entry := e.queue.EntryByID(ev.EntryID)
		if entry == nil {
			return
		}
		c := e.queue.ChainFor(entry)
		durationMs := int64(0)
		if c != nil {
			durationMs = e.framesToMs(c.TotalExpectedFrames())
		}
		e.bus.Publish(events.PlaybackProgress{
			QueueEntryID: ev.EntryID,
			PositionMs:   e.framesToMs(ev.FramesRead),
			DurationMs:   durationMs,
			Timestamp:    time.Now().UTC(),
		})
		e.armProgressMarker(entry, ev.Tick)

	case mixer.StartCrossfade:
		e.startCrossfade(marker.NextQueueEntryID)

	case mixer.SongBoundary:
		e.bus.Publish(events.CurrentSongChanged{
			QueueEntryID: ev.EntryID,
			SongID:       marker.NewSongID,
			PositionMs:   e.framesToMs(ev.FramesRead),
			Timestamp:    time.Now().UTC(),
		})

	case mixer.PassageComplete:
		e.handlePassageComplete(ev.EntryID, ev.FramesRead)
	}
}

// startCrossfade transitions the mixer into the overlap once the next
// chain is ready. The next buffer normally holds its start level already;
// if decoding fell behind, the overlap shortens rather than stalling.
func (e *Engine) startCrossfade(nextEntryID string) {
	next := e.queue.EntryByID(nextEntryID)
	if next == nil {
		return
	}
	c := e.queue.ChainFor(next)
	if c == nil {
		e.logger.Warn().Str("entry", nextEntryID).Msg("crossfade partner has no chain")
		return
	}
	buf := c.Buffer()
	if buf.Len() < e.cfg.MixerMinStartLevel && !buf.WriteClosed() {
		e.logger.Warn().Str("entry", nextEntryID).Int("buffered", buf.Len()).
			Msg("crossfade partner below start level, overlap shortened")
	}

	e.mixer.BeginCrossfade(&mixer.Source{
		EntryID:   next.ID,
		PassageID: next.PassageID,
		Chain:     c,
		StartTick: c.ScaleTicks(next.Times.StartTick),
	})
	if e.metrics != nil {
		e.metrics.Crossfades.Inc()
	}
}

// handlePassageComplete runs the canonical cleanup for a finished passage.
// Completion may be reported by the end marker, the buffer-exhaustion
// path, or both; the dedup cache collapses them to one event.
func (e *Engine) handlePassageComplete(entryID string, framesRead int64) {
	if seen, ok := e.completedSeen[entryID]; ok && time.Since(seen) < dedupWindow {
		e.logger.Debug().Str("entry", entryID).Msg("duplicate passage completion suppressed")
		return
	}

	entry := e.queue.EntryByID(entryID)
	if entry == nil {
		// Already removed (skip raced the marker); record the suppression
		// window so any third source stays quiet too.
		e.completedSeen[entryID] = time.Now()
		return
	}

	e.queue.Remove(entryID, events.TriggerPassageCompletion)
	e.finishEntry(entry, framesRead, true)

	if current := e.queue.Current(); current != nil {
		// After a crossfade the mixer already promoted the successor;
		// otherwise this installs it.
		e.armCurrent(current, true)
	} else {
		e.setState(events.StateReady)
	}
	e.worker.Kick()
}

// handleWorkerEvent reacts to decode completions and failures.
func (e *Engine) handleWorkerEvent(ev worker.Event) {
	switch ev.Result.Kind {
	case chain.ResultFinished:
		entry := e.queue.EntryByID(ev.EntryID)
		if entry == nil {
			return
		}
		if ev.Result.Partial {
			requestedMs := int64(0)
			if c := e.queue.ChainFor(entry); c != nil {
				requestedMs = e.framesToMs(c.ScaleTicks(entry.Times.DurationTicks()))
			}
			e.bus.Publish(events.PassagePartialDecode{
				PassageID:   ev.PassageID,
				DecodedMs:   e.framesToMs(ev.Result.TotalFrames),
				RequestedMs: requestedMs,
				Timestamp:   time.Now().UTC(),
			})
			// The effective end moved; completion markers must match it.
			if entry.ID == e.armedEntryID {
				e.rearmTransitionMarkers(entry)
			}
		}
		e.bus.Publish(events.BufferStateChanged{
			QueueEntryID:          ev.EntryID,
			Old:                   events.BufferDecoding,
			New:                   events.BufferReady,
			DecodeProgressPercent: 100,
			Timestamp:             time.Now().UTC(),
		})

	case chain.ResultError:
		e.handleDecodeFailure(ev)
	}
}

// handleDecodeFailure skips the failed passage: emit PassageDecodeFailed,
// release the chain, remove the entry, continue with the next.
func (e *Engine) handleDecodeFailure(ev worker.Event) {
	errType := "unknown"
	filePath := ""
	if ev.Result.Err != nil {
		errType = string(ev.Result.Err.Kind)
		filePath = ev.Result.Err.Path
		if isResourceExhaustion(ev.Result.Err.Err) {
			e.handleResourcePressure()
		}
	}
	e.bus.Publish(events.PassageDecodeFailed{
		PassageID: ev.PassageID,
		ErrorType: errType,
		FilePath:  filePath,
		Timestamp: time.Now().UTC(),
	})
	if e.metrics != nil {
		e.metrics.DecodeErrors.WithLabelValues(errType).Inc()
	}

	entry := e.queue.EntryByID(ev.EntryID)
	if entry == nil {
		return
	}
	wasCurrent := e.mixer.CurrentEntryID() == entry.ID

	e.queue.Remove(entry.ID, events.TriggerPassageCompletion)
	if wasCurrent {
		e.mixer.DropCurrent()
	}
	e.finishEntry(entry, 0, false)

	if current := e.queue.Current(); current != nil {
		e.armCurrent(current, true)
	} else {
		e.setState(events.StateReady)
	}
	e.worker.Kick()
}

// handleBindFailure mirrors decode failure for entries that never got a
// working decoder.
func (e *Engine) handleBindFailure(f queue.BindFailure) {
	derr := decode.AsDecodeError(f.Err, f.Entry.Passage.FilePath)
	errType := string(derr.Kind)
	if isResourceExhaustion(derr.Err) {
		e.handleResourcePressure()
	}
	e.bus.Publish(events.PassageDecodeFailed{
		PassageID: f.Entry.PassageID,
		ErrorType: errType,
		FilePath:  derr.Path,
		Timestamp: time.Now().UTC(),
	})
	if e.metrics != nil {
		e.metrics.DecodeErrors.WithLabelValues(errType).Inc()
	}
	e.finishEntry(f.Entry, 0, false)
}
