/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package resample

import (
	"math"
	"testing"
)

func sine(frames, rate int, freq float64) []float32 {
	out := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		v := float32(math.Sin(2 * math.Pi * freq * float64(i) / float64(rate)))
		out[i*2] = v
		out[i*2+1] = v
	}
	return out
}

func TestPassthroughIsZeroCopy(t *testing.T) {
	r, err := New(44100, 44100)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !r.Passthrough() {
		t.Fatal("equal rates should be pass-through")
	}

	in := sine(512, 44100, 440)
	out, err := r.Process(in)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if &out[0] != &in[0] {
		t.Fatal("pass-through should return the input slice")
	}
}

func TestConversionRatio(t *testing.T) {
	r, err := New(48000, 44100)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	in := sine(48000, 48000, 440) // 1 second
	var total int
	out, err := r.Process(in)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	total += len(out) / 2
	tail, err := r.Flush()
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	total += len(tail) / 2

	// One second in, one second out, within filter-delay slack.
	if total < 44000 || total > 44200 {
		t.Fatalf("expected ~44100 output frames, got %d", total)
	}
}

// The concatenated output of chunked processing must match single-chunk
// processing: SoXR streams, so state carries across chunk boundaries.
func TestChunkIndependence(t *testing.T) {
	in := sine(9600, 48000, 1000) // 200 ms

	process := func(chunks [][]float32) []float32 {
		r, err := New(48000, 44100)
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		var all []float32
		for _, chunk := range chunks {
			out, err := r.Process(chunk)
			if err != nil {
				t.Fatalf("process: %v", err)
			}
			all = append(all, out...)
		}
		tail, err := r.Flush()
		if err != nil {
			t.Fatalf("flush: %v", err)
		}
		return append(all, tail...)
	}

	whole := process([][]float32{in})
	split := process([][]float32{in[:2000], in[2000:5000], in[5000:5002], in[5002:]})

	if len(whole) != len(split) {
		t.Fatalf("length mismatch: %d vs %d", len(whole), len(split))
	}
	for i := range whole {
		if math.Abs(float64(whole[i]-split[i])) > 1e-6 {
			t.Fatalf("sample %d diverges: %v vs %v", i, whole[i], split[i])
		}
	}
}

func TestResetAllowsReuse(t *testing.T) {
	r, err := New(48000, 44100)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := r.Process(sine(1024, 48000, 440)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, err := r.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := r.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := r.Process(sine(1024, 48000, 440)); err != nil {
		t.Fatalf("process after reset: %v", err)
	}
}
