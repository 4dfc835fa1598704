/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package resample converts decoded audio to the working sample rate using
// the SoXR streaming resampler. Filter state is preserved across chunks so
// chunk boundaries introduce no phase discontinuities.
package resample

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	soxr "github.com/zaf/resample"
)

const channels = 2

// Resampler converts interleaved stereo float32 chunks from a source rate
// to the working rate. When the rates match, Process is a zero-copy
// pass-through.
type Resampler struct {
	srcRate int
	dstRate int

	res *soxr.Resampler
	out bytes.Buffer
}

// New creates a resampler. srcRate == dstRate yields a pass-through.
func New(srcRate, dstRate int) (*Resampler, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", srcRate, dstRate)
	}
	r := &Resampler{srcRate: srcRate, dstRate: dstRate}
	if srcRate == dstRate {
		return r, nil
	}
	res, err := soxr.New(&r.out, float64(srcRate), float64(dstRate), channels, soxr.F32, soxr.HighQ)
	if err != nil {
		return nil, fmt.Errorf("create soxr resampler: %w", err)
	}
	r.res = res
	return r, nil
}

// Passthrough reports whether no rate conversion happens.
func (r *Resampler) Passthrough() bool { return r.res == nil }

// Process converts one chunk. The returned slice is only valid until the
// next call. In pass-through mode the input slice is returned unchanged.
func (r *Resampler) Process(in []float32) ([]float32, error) {
	if r.res == nil {
		return in, nil
	}
	if len(in) == 0 {
		return nil, nil
	}

	raw := floatsToBytes(in)
	if _, err := r.res.Write(raw); err != nil {
		return nil, fmt.Errorf("resample write: %w", err)
	}
	return r.drain(), nil
}

// Flush closes the underlying resampler and returns the tail samples held
// in its filter state. The resampler is unusable afterwards; call Reset to
// reuse it for another stream.
func (r *Resampler) Flush() ([]float32, error) {
	if r.res == nil {
		return nil, nil
	}
	if err := r.res.Close(); err != nil {
		return nil, fmt.Errorf("resample flush: %w", err)
	}
	out := r.drain()
	r.res = nil
	return out, nil
}

// Reset discards all filter state for a new stream at the same rates.
func (r *Resampler) Reset() error {
	if r.srcRate == r.dstRate {
		return nil
	}
	if r.res != nil {
		_ = r.res.Close()
	}
	r.out.Reset()
	res, err := soxr.New(&r.out, float64(r.srcRate), float64(r.dstRate), channels, soxr.F32, soxr.HighQ)
	if err != nil {
		return fmt.Errorf("reset soxr resampler: %w", err)
	}
	r.res = res
	return nil
}

// Ratio returns dstRate / srcRate.
func (r *Resampler) Ratio() float64 {
	return float64(r.dstRate) / float64(r.srcRate)
}

func (r *Resampler) drain() []float32 {
	raw := r.out.Bytes()
	n := len(raw) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	r.out.Reset()
	return out
}

func floatsToBytes(in []float32) []byte {
	raw := make([]byte, len(in)*4)
	for i, sample := range in {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(sample))
	}
	return raw
}
