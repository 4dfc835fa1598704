/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package fade

import "github.com/friendsincode/bragi_player/internal/models"

// Fader multiplies samples by the passage's fade envelope. It is stateful
// only in frame position, so splitting a stream across any chunk
// boundaries produces output identical to a single-chunk application.
//
// All positions are frames at the working rate, relative to the passage
// start (frame 0 plays the passage's start tick).
type Fader struct {
	pos int64

	fadeInFrames  int64 // fade-in region is [0, fadeInFrames)
	fadeOutStart  int64 // fade-out region is [fadeOutStart, totalFrames)
	totalFrames   int64
	fadeOutFrames int64

	curveIn  models.FadeCurve
	curveOut models.FadeCurve
}

// NewFader builds a fader for a passage whose bounds have already been
// converted to working-rate frames.
func NewFader(fadeInFrames, fadeOutStart, totalFrames int64, curveIn, curveOut models.FadeCurve) *Fader {
	f := &Fader{
		fadeInFrames: fadeInFrames,
		fadeOutStart: fadeOutStart,
		totalFrames:  totalFrames,
		curveIn:      curveIn,
		curveOut:     curveOut,
	}
	f.fadeOutFrames = totalFrames - fadeOutStart
	return f
}

// SetTotalFrames shortens the effective passage length after a partial
// decode. The fade-out region keeps its duration and slides to end at the
// new boundary.
func (f *Fader) SetTotalFrames(total int64) {
	f.totalFrames = total
	f.fadeOutStart = total - f.fadeOutFrames
	if f.fadeOutStart < f.fadeInFrames {
		f.fadeOutStart = f.fadeInFrames
		f.fadeOutFrames = total - f.fadeOutStart
	}
}

// Position returns the number of frames processed so far.
func (f *Fader) Position() int64 { return f.pos }

// Process applies the envelope in place to interleaved stereo samples and
// advances the frame position.
func (f *Fader) Process(samples []float32) {
	frames := int64(len(samples) / 2)
	for i := int64(0); i < frames; i++ {
		gain := f.gainAt(f.pos + i)
		if gain != 1 {
			samples[i*2] *= gain
			samples[i*2+1] *= gain
		}
	}
	f.pos += frames
}

func (f *Fader) gainAt(pos int64) float32 {
	if pos < f.fadeInFrames {
		return GainIn(f.curveIn, float64(pos)/float64(f.fadeInFrames))
	}
	if f.fadeOutFrames > 0 && pos >= f.fadeOutStart {
		return GainOut(f.curveOut, float64(pos-f.fadeOutStart)/float64(f.fadeOutFrames))
	}
	return 1
}
