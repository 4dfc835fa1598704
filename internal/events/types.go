/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "time"

// Type enumerates event categories.
type Type string

const (
	TypePassageStarted          Type = "passage.started"
	TypePassageCompleted        Type = "passage.completed"
	TypePassageDecodeFailed     Type = "passage.decode_failed"
	TypePassagePartialDecode    Type = "passage.partial_decode"
	TypePlaybackStateChanged    Type = "playback.state_changed"
	TypePlaybackProgress        Type = "playback.progress"
	TypeCurrentSongChanged      Type = "playback.song_changed"
	TypeQueueChanged            Type = "queue.changed"
	TypeBufferStateChanged      Type = "buffer.state_changed"
	TypeBufferUnderrun          Type = "buffer.underrun"
	TypeBufferUnderrunRecovered Type = "buffer.underrun_recovered"
	TypeAudioDeviceLost         Type = "device.lost"
	TypeAudioDeviceRestored     Type = "device.restored"
	TypeAudioDeviceUnavailable  Type = "device.unavailable"
	TypeShutdownRequired        Type = "engine.shutdown_required"
)

// QueueChangeTrigger identifies what caused a queue mutation.
type QueueChangeTrigger string

const (
	TriggerUserEnqueue        QueueChangeTrigger = "user_enqueue"
	TriggerUserDequeue        QueueChangeTrigger = "user_dequeue"
	TriggerPassageCompletion  QueueChangeTrigger = "passage_completion"
	TriggerSkip               QueueChangeTrigger = "skip"
	TriggerStartupRestore     QueueChangeTrigger = "startup_restore"
	TriggerCorruptionRecovery QueueChangeTrigger = "corruption_recovery"
)

// PlaybackState is the externally visible engine state.
type PlaybackState string

const (
	StatePlaying PlaybackState = "playing"
	StatePaused  PlaybackState = "paused"
	StateReady   PlaybackState = "ready"
)

// BufferState describes a chain buffer's lifecycle stage.
type BufferState string

const (
	BufferDecoding  BufferState = "decoding"
	BufferReady     BufferState = "ready"
	BufferPlaying   BufferState = "playing"
	BufferExhausted BufferState = "exhausted"
)

// Event is implemented by every payload published on the bus.
type Event interface {
	EventType() Type
}

type PassageStarted struct {
	QueueEntryID string
	PassageID    string
	Timestamp    time.Time
}

func (PassageStarted) EventType() Type { return TypePassageStarted }

type PassageCompleted struct {
	QueueEntryID     string
	PassageID        string
	DurationPlayedMs int64
	Completed        bool
	Timestamp        time.Time
}

func (PassageCompleted) EventType() Type { return TypePassageCompleted }

type PassageDecodeFailed struct {
	PassageID string
	ErrorType string
	FilePath  string
	Timestamp time.Time
}

func (PassageDecodeFailed) EventType() Type { return TypePassageDecodeFailed }

type PassagePartialDecode struct {
	PassageID   string
	DecodedMs   int64
	RequestedMs int64
	Timestamp   time.Time
}

func (PassagePartialDecode) EventType() Type { return TypePassagePartialDecode }

type PlaybackStateChanged struct {
	Old       PlaybackState
	New       PlaybackState
	Timestamp time.Time
}

func (PlaybackStateChanged) EventType() Type { return TypePlaybackStateChanged }

type PlaybackProgress struct {
	QueueEntryID string
	PositionMs   int64
	DurationMs   int64
	Timestamp    time.Time
}

func (PlaybackProgress) EventType() Type { return TypePlaybackProgress }

type CurrentSongChanged struct {
	QueueEntryID string
	SongID       string
	PositionMs   int64
	Timestamp    time.Time
}

func (CurrentSongChanged) EventType() Type { return TypeCurrentSongChanged }

type QueueChanged struct {
	Trigger   QueueChangeTrigger
	Timestamp time.Time
}

func (QueueChanged) EventType() Type { return TypeQueueChanged }

type BufferStateChanged struct {
	QueueEntryID          string
	Old                   BufferState
	New                   BufferState
	DecodeProgressPercent int
	Timestamp             time.Time
}

func (BufferStateChanged) EventType() Type { return TypeBufferStateChanged }

type BufferUnderrun struct {
	QueueEntryID      string
	BufferFillPercent float64
	Timestamp         time.Time
}

func (BufferUnderrun) EventType() Type { return TypeBufferUnderrun }

type BufferUnderrunRecovered struct {
	QueueEntryID string
	Timestamp    time.Time
}

func (BufferUnderrunRecovered) EventType() Type { return TypeBufferUnderrunRecovered }

type AudioDeviceLost struct {
	Timestamp time.Time
}

func (AudioDeviceLost) EventType() Type { return TypeAudioDeviceLost }

type AudioDeviceRestored struct {
	Timestamp time.Time
}

func (AudioDeviceRestored) EventType() Type { return TypeAudioDeviceRestored }

type AudioDeviceUnavailable struct {
	Timestamp time.Time
}

func (AudioDeviceUnavailable) EventType() Type { return TypeAudioDeviceUnavailable }

type ShutdownRequired struct {
	Reason    string
	Timestamp time.Time
}

func (ShutdownRequired) EventType() Type { return TypeShutdownRequired }
