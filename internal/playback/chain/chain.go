/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package chain couples a streaming decoder, resampler, fader and ring
// buffer into one decode pipeline per passage. Chains are pre-allocated
// at startup and rebound as the queue advances.
package chain

import (
	"fmt"
	"io"

	"github.com/friendsincode/bragi_player/internal/models"
	"github.com/friendsincode/bragi_player/internal/playback/decode"
	"github.com/friendsincode/bragi_player/internal/playback/fade"
	"github.com/friendsincode/bragi_player/internal/playback/resample"
	"github.com/friendsincode/bragi_player/internal/playback/ringbuf"
	"github.com/rs/zerolog"
)

// State tracks a chain through its decode lifecycle.
type State int

const (
	Idle State = iota
	Active
	Yielded
	Finished
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Yielded:
		return "yielded"
	case Finished:
		return "finished"
	case Errored:
		return "error"
	}
	return "unknown"
}

// ResultKind classifies the outcome of one ProcessOneChunk call.
type ResultKind int

const (
	ResultProcessed ResultKind = iota
	ResultBufferFull
	ResultFinished
	ResultError
)

// Result reports one decode step.
type Result struct {
	Kind          ResultKind
	FramesWritten int
	TotalFrames   int64
	Err           *decode.DecodeError
	Partial       bool // total was truncated by early EOF but accepted
}

// Config carries the chain tuning knobs.
type Config struct {
	WorkingRate             int
	ChunkFrames             int
	RingCapacity            int
	PartialDecodeMinPercent int
}

// Chain is a decode pipeline bound to at most one passage at a time. The
// decoder worker owns the chain exclusively; the mixer borrows the ring
// buffer's consumer endpoint via Buffer().
type Chain struct {
	Index  int
	cfg    Config
	logger zerolog.Logger

	buf *ringbuf.RingBuffer

	// Binding, valid while state != Idle.
	entryID    string
	passageID  string
	state      State
	streamer   *decode.Streamer
	resampler  *resample.Resampler
	fader      *fade.Fader
	nativeRate int
	times      models.PassageTimes

	pending       []float32 // faded frames that did not fit in the buffer
	framesWritten int64
	totalExpected int64 // working-rate frames promised by the passage bounds
	flushed       bool
}

// New pre-allocates a chain and its ring buffer.
func New(index int, cfg Config, logger zerolog.Logger) *Chain {
	return &Chain{
		Index:  index,
		cfg:    cfg,
		logger: logger.With().Str("component", "chain").Int("chain", index).Logger(),
		buf:    ringbuf.New(cfg.RingCapacity),
	}
}

// Buffer exposes the consumer endpoint for the mixer.
func (c *Chain) Buffer() *ringbuf.RingBuffer { return c.buf }

// State returns the current lifecycle state.
func (c *Chain) State() State { return c.state }

// SetState is used by the decoder worker's scheduler.
func (c *Chain) SetState(s State) { c.state = s }

// EntryID returns the bound queue entry, or "" when idle.
func (c *Chain) EntryID() string { return c.entryID }

// PassageID returns the bound passage, or "" when idle.
func (c *Chain) PassageID() string { return c.passageID }

// NativeRate returns the bound file's sample rate.
func (c *Chain) NativeRate() int { return c.nativeRate }

// TotalExpectedFrames returns the passage length in working-rate frames.
func (c *Chain) TotalExpectedFrames() int64 { return c.totalExpected }

// FramesWritten returns working-rate frames pushed into the ring buffer.
func (c *Chain) FramesWritten() int64 { return c.framesWritten }

// ScaleTicks converts a file-native tick count to working-rate frames.
func (c *Chain) ScaleTicks(ticks int64) int64 {
	if c.nativeRate == 0 || c.nativeRate == c.cfg.WorkingRate {
		return ticks
	}
	return ticks * int64(c.cfg.WorkingRate) / int64(c.nativeRate)
}

// Bind attaches the chain to a passage and opens its decoder. The ring
// buffer is reset; any previous binding must have been released.
func (c *Chain) Bind(entryID string, passage *models.Passage, times models.PassageTimes) error {
	if c.state != Idle {
		return fmt.Errorf("chain %d: bind while %s", c.Index, c.state)
	}

	streamer, err := decode.Open(passage.FilePath, times.StartTick, times.EndTick)
	if err != nil {
		return err
	}

	c.nativeRate = streamer.SampleRate()
	resampler, err := resample.New(c.nativeRate, c.cfg.WorkingRate)
	if err != nil {
		_ = streamer.Close()
		return err
	}

	c.entryID = entryID
	c.passageID = passage.ID
	c.streamer = streamer
	c.resampler = resampler
	c.times = times
	c.totalExpected = c.ScaleTicks(times.DurationTicks())
	c.fader = fade.NewFader(
		c.ScaleTicks(times.FadeInEndTick-times.StartTick),
		c.ScaleTicks(times.FadeOutStartTick-times.StartTick),
		c.totalExpected,
		passage.FadeInCurve,
		passage.FadeOutCurve,
	)
	c.pending = nil
	c.framesWritten = 0
	c.flushed = false
	c.buf.Reset()
	c.state = Active

	c.logger.Debug().Str("passage", passage.ID).Str("file", passage.FilePath).
		Int("native_rate", c.nativeRate).Int64("frames", c.totalExpected).
		Msg("chain bound")
	return nil
}

// ProcessOneChunk advances the pipeline by one decode step. The worker
// calls this serially; between calls the chain is fully suspendable.
func (c *Chain) ProcessOneChunk() Result {
	if c.state != Active {
		return Result{Kind: ResultError, Err: &decode.DecodeError{Kind: decode.KindIO, Err: fmt.Errorf("chain %d: process while %s", c.Index, c.state)}}
	}

	// Place leftovers first. No data loss across BufferFull results.
	if len(c.pending) > 0 {
		wrote := c.pushPending()
		if len(c.pending) > 0 {
			return Result{Kind: ResultBufferFull, FramesWritten: wrote}
		}
		if c.flushed {
			return c.finish(wrote)
		}
		return Result{Kind: ResultProcessed, FramesWritten: wrote}
	}

	if c.flushed {
		return c.finish(0)
	}

	raw, err := c.streamer.DecodeChunk(c.cfg.ChunkFrames)
	if err == io.EOF {
		tail, flushErr := c.resampler.Flush()
		if flushErr != nil {
			c.state = Errored
			return Result{Kind: ResultError, Err: decode.AsDecodeError(flushErr, c.passageID)}
		}
		c.flushed = true
		if truncated, derr := c.checkPartial(); derr != nil {
			c.state = Errored
			return Result{Kind: ResultError, Err: derr}
		} else if truncated {
			// Accept the truncation; the effective end moves in.
			c.totalExpected = c.framesWritten + int64(len(c.pending)/2) + int64(len(tail)/2)
			c.fader.SetTotalFrames(c.totalExpected)
		}
		if len(tail) > 0 {
			c.fader.Process(tail)
			c.pending = tail
			wrote := c.pushPending()
			if len(c.pending) > 0 {
				return Result{Kind: ResultBufferFull, FramesWritten: wrote}
			}
			return c.finish(wrote)
		}
		return c.finish(0)
	}
	if err != nil {
		c.state = Errored
		return Result{Kind: ResultError, Err: decode.AsDecodeError(err, c.passageID)}
	}

	work, err := c.resampler.Process(raw)
	if err != nil {
		c.state = Errored
		return Result{Kind: ResultError, Err: decode.AsDecodeError(err, c.passageID)}
	}
	if len(work) == 0 {
		return Result{Kind: ResultProcessed}
	}

	// The fader owns the samples from here; copy out of the resampler's
	// (or decoder's, on pass-through) scratch space.
	faded := make([]float32, len(work))
	copy(faded, work)
	c.fader.Process(faded)
	c.pending = faded

	wrote := c.pushPending()
	if len(c.pending) > 0 {
		return Result{Kind: ResultBufferFull, FramesWritten: wrote}
	}
	return Result{Kind: ResultProcessed, FramesWritten: wrote}
}

func (c *Chain) pushPending() int {
	wrote := c.buf.Write(c.pending)
	c.framesWritten += int64(wrote)
	if wrote*2 == len(c.pending) {
		c.pending = nil
	} else {
		c.pending = c.pending[wrote*2:]
	}
	return wrote
}

// checkPartial applies the acceptance threshold for early EOF. Returns
// truncated=true when the decode is short but acceptable, or an error when
// the shortfall exceeds the configured minimum.
func (c *Chain) checkPartial() (bool, *decode.DecodeError) {
	produced := c.streamer.Produced()
	requested := c.streamer.Requested()
	if produced >= requested {
		return false, nil
	}
	minPercent := c.cfg.PartialDecodeMinPercent
	if minPercent <= 0 {
		minPercent = 50
	}
	if requested > 0 && produced*100 >= requested*int64(minPercent) {
		return true, nil
	}
	return false, &decode.DecodeError{
		Kind: decode.KindCorrupted,
		Path: c.passageID,
		Err:  fmt.Errorf("decoded %d of %d frames, below %d%% threshold", produced, requested, minPercent),
	}
}

func (c *Chain) finish(wrote int) Result {
	c.totalExpected = c.framesWritten
	c.buf.CloseWrite()
	c.state = Finished
	partial := c.streamer.Produced() < c.streamer.Requested()
	c.logger.Debug().Int64("frames", c.framesWritten).Bool("partial", partial).Msg("chain finished")
	return Result{Kind: ResultFinished, FramesWritten: wrote, TotalFrames: c.framesWritten, Partial: partial}
}

// Release unbinds the chain, discarding buffered samples and decoder
// state. Safe to call in any state; idempotent.
func (c *Chain) Release() {
	if c.streamer != nil {
		_ = c.streamer.Close()
		c.streamer = nil
	}
	c.resampler = nil
	c.fader = nil
	c.pending = nil
	c.entryID = ""
	c.passageID = ""
	c.nativeRate = 0
	c.framesWritten = 0
	c.totalExpected = 0
	c.flushed = false
	c.buf.Reset()
	c.state = Idle
}
