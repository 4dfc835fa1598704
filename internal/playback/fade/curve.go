/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package fade applies volume envelopes to decoded samples before they are
// buffered. The mixer never multiplies by a fade curve; it only sums
// pre-faded samples.
package fade

import (
	"math"

	"github.com/friendsincode/bragi_player/internal/models"
)

var logDenominator = math.Log(101)

// GainIn returns the fade-in gain for progress t in [0,1].
func GainIn(curve models.FadeCurve, t float64) float32 {
	t = clamp01(t)
	switch curve {
	case models.FadeExponential:
		return float32(t * t)
	case models.FadeLogarithmic:
		return float32(math.Log(100*t+1) / logDenominator)
	case models.FadeCosine:
		return float32((1 - math.Cos(math.Pi*t)) / 2)
	case models.FadeEqualPower:
		return float32(math.Sin(math.Pi * t / 2))
	default: // linear
		return float32(t)
	}
}

// GainOut returns the fade-out gain for progress t in [0,1], where t=0 is
// the start of the fade-out region (full volume) and t=1 is silence. The
// curves reflect their fade-in shape through t -> 1-t, except equal-power
// which uses its complementary cosine form.
func GainOut(curve models.FadeCurve, t float64) float32 {
	t = clamp01(t)
	switch curve {
	case models.FadeExponential:
		return float32((1 - t) * (1 - t))
	case models.FadeLogarithmic:
		return float32(math.Log(100*(1-t)+1) / logDenominator)
	case models.FadeCosine:
		return float32((1 + math.Cos(math.Pi*t)) / 2)
	case models.FadeEqualPower:
		return float32(math.Cos(math.Pi * t / 2))
	default: // linear
		return float32(1 - t)
	}
}

func clamp01(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}
