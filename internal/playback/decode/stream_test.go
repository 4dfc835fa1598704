/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package decode

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	wav "github.com/youpy/go-wav"
)

// writeRampWAV writes a stereo 16-bit WAV whose frame i holds the value
// i/32768 on the left channel and -i/32768 on the right.
func writeRampWAV(t *testing.T, path string, frames int, rate uint32) {
	t.Helper()
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer file.Close()

	writer := wav.NewWriter(file, uint32(frames), 2, rate, 16)
	samples := make([]wav.Sample, frames)
	for i := range samples {
		samples[i].Values[0] = i
		samples[i].Values[1] = -i
	}
	if err := writer.WriteSamples(samples); err != nil {
		t.Fatalf("write samples: %v", err)
	}
}

func TestDecodeAndSkipIsSampleAccurate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ramp.wav")
	writeRampWAV(t, path, 100, 44100)

	s, err := Open(path, 10, 50)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if s.SampleRate() != 44100 {
		t.Fatalf("sample rate %d", s.SampleRate())
	}

	chunk, err := s.DecodeChunk(1000)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(chunk) != 40*2 {
		t.Fatalf("expected 40 frames, got %d", len(chunk)/2)
	}
	// First emitted frame must be exactly tick 10.
	if want := float64(10) / 32768; math.Abs(float64(chunk[0])-want) > 1e-6 {
		t.Fatalf("first sample %v, want %v", chunk[0], want)
	}
	if s.Produced() != 40 {
		t.Fatalf("produced %d", s.Produced())
	}

	if _, err := s.DecodeChunk(1000); err != io.EOF {
		t.Fatalf("expected EOF after range, got %v", err)
	}
}

func TestChunkedDecodeMatchesWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ramp.wav")
	writeRampWAV(t, path, 500, 44100)

	whole, err := Open(path, 0, 500)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer whole.Close()
	all, err := whole.DecodeChunk(500)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	chunked, err := Open(path, 0, 500)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer chunked.Close()
	var got []float32
	for {
		chunk, err := chunked.DecodeChunk(77)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		got = append(got, chunk...)
	}

	if len(got) != len(all) {
		t.Fatalf("length mismatch %d vs %d", len(got), len(all))
	}
	for i := range got {
		if got[i] != all[i] {
			t.Fatalf("sample %d differs", i)
		}
	}
}

func TestEarlyEOFReportsPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.wav")
	writeRampWAV(t, path, 100, 44100)

	// Request 400 frames from a 100-frame file.
	s, err := Open(path, 0, 400)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	total := int64(0)
	for {
		chunk, err := s.DecodeChunk(64)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		total += int64(len(chunk) / 2)
	}
	if total != 100 || s.Produced() != 100 {
		t.Fatalf("expected 100 produced frames, got %d", total)
	}
	if !s.AtEOF() {
		t.Fatal("expected EOF flag")
	}
	if s.Produced() >= s.Requested() {
		t.Fatal("partial decode not detectable")
	}
}

func TestOpenErrorKinds(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.wav"), 0, 100)
	var de *DecodeError
	if !errors.As(err, &de) || de.Kind != KindFileNotFound {
		t.Fatalf("expected file_not_found, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("not audio"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err = Open(path, 0, 100)
	if !errors.As(err, &de) || de.Kind != KindUnsupportedCodec {
		t.Fatalf("expected unsupported_codec, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ramp.wav")
	writeRampWAV(t, path, 10, 44100)

	s, err := Open(path, 0, 10)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
