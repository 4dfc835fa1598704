/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package fade

import (
	"math"
	"testing"

	"github.com/friendsincode/bragi_player/internal/models"
	"pgregory.net/rapid"
)

func TestCurveEndpoints(t *testing.T) {
	curves := []models.FadeCurve{
		models.FadeLinear, models.FadeExponential, models.FadeLogarithmic,
		models.FadeCosine, models.FadeEqualPower,
	}
	for _, curve := range curves {
		if g := GainIn(curve, 0); g != 0 {
			t.Fatalf("%s: GainIn(0) = %v, want 0", curve, g)
		}
		if g := GainIn(curve, 1); math.Abs(float64(g)-1) > 1e-6 {
			t.Fatalf("%s: GainIn(1) = %v, want 1", curve, g)
		}
		if g := GainOut(curve, 0); math.Abs(float64(g)-1) > 1e-6 {
			t.Fatalf("%s: GainOut(0) = %v, want 1", curve, g)
		}
		if g := GainOut(curve, 1); math.Abs(float64(g)) > 1e-6 {
			t.Fatalf("%s: GainOut(1) = %v, want 0", curve, g)
		}
	}
}

func TestEqualPowerCrossfadeSumsToUnityPower(t *testing.T) {
	for _, p := range []float64{0, 0.25, 0.5, 0.75, 1} {
		in := float64(GainIn(models.FadeEqualPower, p))
		out := float64(GainOut(models.FadeEqualPower, p))
		if math.Abs(in*in+out*out-1) > 1e-6 {
			t.Fatalf("equal power violated at t=%v: in=%v out=%v", p, in, out)
		}
	}
}

func TestFaderRegions(t *testing.T) {
	// 10-frame passage, fade in over first 4, fade out over last 4.
	f := NewFader(4, 6, 10, models.FadeLinear, models.FadeLinear)

	samples := make([]float32, 20)
	for i := range samples {
		samples[i] = 1
	}
	f.Process(samples)

	wantGain := func(frame int) float32 {
		switch {
		case frame < 4:
			return float32(frame) / 4
		case frame >= 6:
			return 1 - float32(frame-6)/4
		default:
			return 1
		}
	}
	for frame := 0; frame < 10; frame++ {
		want := wantGain(frame)
		if got := samples[frame*2]; got != want {
			t.Fatalf("frame %d: got %v want %v", frame, got, want)
		}
		if samples[frame*2] != samples[frame*2+1] {
			t.Fatalf("frame %d: channels diverge", frame)
		}
	}
}

// Splitting a stream across arbitrary chunk boundaries must be bit-identical
// to one-shot processing.
func TestFaderChunkIndependence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.IntRange(8, 300).Draw(t, "frames")
		fadeIn := rapid.IntRange(0, total/2).Draw(t, "fadeIn")
		fadeOutStart := rapid.IntRange(total/2, total).Draw(t, "fadeOutStart")
		curve := rapid.SampledFrom([]models.FadeCurve{
			models.FadeLinear, models.FadeExponential, models.FadeLogarithmic,
			models.FadeCosine, models.FadeEqualPower,
		}).Draw(t, "curve")

		raw := make([]float32, total*2)
		for i := range raw {
			raw[i] = float32(i%17) - 8
		}

		whole := append([]float32(nil), raw...)
		NewFader(int64(fadeIn), int64(fadeOutStart), int64(total), curve, curve).Process(whole)

		chunked := append([]float32(nil), raw...)
		f := NewFader(int64(fadeIn), int64(fadeOutStart), int64(total), curve, curve)
		rest := chunked
		for len(rest) > 0 {
			frames := rapid.IntRange(1, len(rest)/2).Draw(t, "chunk")
			f.Process(rest[:frames*2])
			rest = rest[frames*2:]
		}

		for i := range whole {
			if whole[i] != chunked[i] {
				t.Fatalf("sample %d: %v != %v", i, whole[i], chunked[i])
			}
		}
	})
}

func TestFaderPartialDecodeAdjustment(t *testing.T) {
	// 100 frames, fade-out over the last 20. Truncation to 60 frames slides
	// the fade-out region to [40, 60).
	f := NewFader(0, 80, 100, models.FadeLinear, models.FadeLinear)
	f.SetTotalFrames(60)

	samples := make([]float32, 120)
	for i := range samples {
		samples[i] = 1
	}
	f.Process(samples[:120])

	if samples[39*2] != 1 {
		t.Fatalf("frame 39 should be unfaded, got %v", samples[39*2])
	}
	if got := samples[50*2]; got != 0.5 {
		t.Fatalf("frame 50 should be mid-fade, got %v", got)
	}
}
