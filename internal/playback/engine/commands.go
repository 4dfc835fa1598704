/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"fmt"
	"strconv"
	"time"

	"github.com/friendsincode/bragi_player/internal/db"
	"github.com/friendsincode/bragi_player/internal/events"
	"github.com/friendsincode/bragi_player/internal/models"
	"github.com/friendsincode/bragi_player/internal/playback/queue"
)

// Command is one control-channel message. Reply receives the result once
// the command's effect is observable; senders may pass a nil Reply for
// fire-and-forget.
type Command struct {
	Op Op

	PassageID  string  // Enqueue
	PositionMs int64   // Seek
	Level      float64 // SetVolume
	DeviceID   string  // SetOutputDevice

	Reply chan CommandResult
}

// Op enumerates the control operations.
type Op int

const (
	OpPlay Op = iota
	OpPause
	OpSkip
	OpClear
	OpEnqueue
	OpSeek
	OpSetVolume
	OpSetOutputDevice
)

// CommandResult carries a command's outcome through the reply channel.
type CommandResult struct {
	Err          error
	QueueEntryID string // Enqueue, Skip
}

// Do submits a command and waits for its result.
func (e *Engine) Do(cmd Command) CommandResult {
	reply := make(chan CommandResult, 1)
	cmd.Reply = reply
	e.commands <- cmd
	return <-reply
}

// Enqueue is shorthand for an Enqueue command.
func (e *Engine) Enqueue(passageID string) (string, error) {
	res := e.Do(Command{Op: OpEnqueue, PassageID: passageID})
	return res.QueueEntryID, res.Err
}

func (e *Engine) handleCommand(cmd Command) {
	var res CommandResult
	switch cmd.Op {
	case OpPlay:
		res = e.cmdPlay()
	case OpPause:
		res = e.cmdPause()
	case OpSkip:
		res = e.cmdSkip()
	case OpClear:
		res = e.cmdClear()
	case OpEnqueue:
		res = e.cmdEnqueue(cmd.PassageID)
	case OpSeek:
		res = e.cmdSeek(cmd.PositionMs)
	case OpSetVolume:
		res = e.cmdSetVolume(cmd.Level)
	case OpSetOutputDevice:
		res = e.cmdSetOutputDevice(cmd.DeviceID)
	default:
		res = CommandResult{Err: fmt.Errorf("unknown command %d", cmd.Op)}
	}
	if cmd.Reply != nil {
		cmd.Reply <- res
	}
}

func (e *Engine) cmdPlay() CommandResult {
	if e.queue.Len() == 0 {
		// Silent ready state; playback starts when something is enqueued.
		e.setState(events.StateReady)
		e.mixer.Play()
		return CommandResult{}
	}
	e.mixer.Play()
	e.setState(events.StatePlaying)
	return CommandResult{}
}

func (e *Engine) cmdPause() CommandResult {
	e.mixer.Pause()
	e.setState(events.StatePaused)
	return CommandResult{}
}

func (e *Engine) cmdSkip() CommandResult {
	entry := e.queue.Skip()
	if entry == nil {
		return CommandResult{}
	}

	// The command wins over any in-flight markers for this passage.
	droppedID, framesRead, _ := e.mixer.DropCurrent()
	if droppedID != entry.ID {
		// Mixer had not reached this entry yet; nothing to drop.
		framesRead = 0
	}
	e.finishEntry(entry, framesRead, false)

	if current := e.queue.Current(); current != nil {
		e.armCurrent(current, true)
	} else {
		e.setState(events.StateReady)
	}
	e.worker.Kick()
	return CommandResult{QueueEntryID: entry.ID}
}

func (e *Engine) cmdClear() CommandResult {
	for _, entry := range e.queue.Entries() {
		e.mixer.ClearMarkers(entry.PassageID)
	}
	e.queue.Clear()
	e.mixer.SetCurrent(nil)
	e.armedEntryID = ""
	e.setState(events.StateReady)
	e.worker.Kick()
	return CommandResult{}
}

func (e *Engine) cmdEnqueue(passageID string) CommandResult {
	entryID, err := e.queue.Enqueue(passageID)
	if err != nil {
		return CommandResult{Err: err}
	}
	e.worker.Kick()

	// An enqueue near the head may need markers: either this entry became
	// current, or it became the crossfade partner of the current one.
	if current := e.queue.Current(); current != nil {
		if e.armedEntryID != current.ID {
			e.armCurrent(current, true)
		} else if next := e.queue.Next(); next != nil && next.ID == entryID {
			e.rearmTransitionMarkers(current)
		}
	}
	return CommandResult{QueueEntryID: entryID}
}

func (e *Engine) cmdSeek(positionMs int64) CommandResult {
	entry := e.queue.Current()
	if entry == nil {
		return CommandResult{Err: fmt.Errorf("seek: queue is empty")}
	}
	c := e.queue.ChainFor(entry)
	if c == nil {
		return CommandResult{Err: fmt.Errorf("seek: current entry has no chain")}
	}

	nativeRate := c.NativeRate()
	seekTick := entry.Times.StartTick + e.msToNativeTicks(positionMs, nativeRate)
	if seekTick >= entry.Times.EndTick {
		return CommandResult{Err: fmt.Errorf("seek: position %dms beyond passage end", positionMs)}
	}

	// Decode-and-skip from file start at the new offset; regions already
	// passed collapse away.
	times := entry.Times
	times.StartTick = seekTick
	times.FadeInEndTick = clampTick(times.FadeInEndTick, seekTick, times.EndTick)
	times.LeadInEndTick = clampTick(times.LeadInEndTick, seekTick, times.EndTick)
	times.LeadOutStartTick = clampTick(times.LeadOutStartTick, seekTick, times.EndTick)
	times.FadeOutStartTick = clampTick(times.FadeOutStartTick, seekTick, times.EndTick)

	if err := e.queue.SeekCurrent(times); err != nil {
		return CommandResult{Err: err}
	}
	e.worker.Kick()

	// Re-point the mixer at the rebound chain and recompute markers.
	e.armedEntryID = ""
	e.armCurrent(entry, false)
	return CommandResult{}
}

func clampTick(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (e *Engine) cmdSetVolume(level float64) CommandResult {
	if level < 0 || level > 1 {
		return CommandResult{Err: fmt.Errorf("volume %v out of range [0,1]", level)}
	}
	e.mixer.SetVolume(level)
	if e.settings != nil {
		_ = e.settings.Set(db.SettingMasterVolume, strconv.FormatFloat(level, 'f', -1, 64))
	}
	return CommandResult{}
}

func (e *Engine) cmdSetOutputDevice(deviceID string) CommandResult {
	if e.dev == nil {
		return CommandResult{Err: fmt.Errorf("no audio device attached")}
	}
	// Device selection funnels through a stop/start cycle; the concrete
	// device implementation resolves the id.
	e.logger.Info().Str("device", deviceID).Msg("output device change requested")
	if err := e.dev.Stop(); err != nil {
		return CommandResult{Err: err}
	}
	if err := e.dev.Start(); err != nil {
		e.NotifyDeviceLost()
		return CommandResult{Err: err}
	}
	return CommandResult{}
}

// finishEntry runs the tail of the canonical cleanup sequence shared by
// completion, skip and decode failure: history, completion event, state.
// Queue removal and chain release have already happened.
func (e *Engine) finishEntry(entry *queue.Entry, framesRead int64, completed bool) {
	now := time.Now().UTC()
	durationMs := e.framesToMs(framesRead)

	e.mixer.ClearMarkers(entry.PassageID)
	if e.armedEntryID == entry.ID {
		e.armedEntryID = ""
	}

	e.bus.Publish(events.PassageCompleted{
		QueueEntryID:     entry.ID,
		PassageID:        entry.PassageID,
		DurationPlayedMs: durationMs,
		Completed:        completed,
		Timestamp:        now,
	})
	e.completedSeen[entry.ID] = now

	if e.qstore != nil {
		startedAt := entry.StartedAt
		if startedAt.IsZero() {
			startedAt = now
		}
		_ = e.qstore.RecordHistory(&models.PlayHistory{
			ID:           entry.ID,
			PassageID:    entry.PassageID,
			QueueEntryID: entry.ID,
			StartedAt:    startedAt,
			Completed:    completed,

			DurationPlayedMs: durationMs,
		})
	}

	if e.metrics != nil {
		outcome := "skipped"
		if completed {
			outcome = "completed"
		}
		e.metrics.PassagesFinished.WithLabelValues(outcome).Inc()
	}
}
