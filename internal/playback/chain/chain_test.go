/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package chain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/friendsincode/bragi_player/internal/models"
	"github.com/rs/zerolog"
	wav "github.com/youpy/go-wav"
)

func writeToneWAV(t *testing.T, path string, frames int) {
	t.Helper()
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer file.Close()

	writer := wav.NewWriter(file, uint32(frames), 2, 44100, 16)
	samples := make([]wav.Sample, frames)
	for i := range samples {
		samples[i].Values[0] = 16000
		samples[i].Values[1] = 16000
	}
	if err := writer.WriteSamples(samples); err != nil {
		t.Fatalf("write samples: %v", err)
	}
}

func testPassage(t *testing.T, path string, start, end int64) (*models.Passage, models.PassageTimes) {
	t.Helper()
	p := &models.Passage{
		ID:           "p1",
		FilePath:     path,
		StartTick:    start,
		EndTick:      end,
		FadeInCurve:  models.FadeLinear,
		FadeOutCurve: models.FadeLinear,
	}
	times, err := p.EffectiveTimes()
	if err != nil {
		t.Fatalf("times: %v", err)
	}
	return p, times
}

func testConfig() Config {
	return Config{WorkingRate: 44100, ChunkFrames: 1000, RingCapacity: 1 << 16, PartialDecodeMinPercent: 50}
}

func driveToCompletion(t *testing.T, c *Chain) Result {
	t.Helper()
	for i := 0; i < 10000; i++ {
		res := c.ProcessOneChunk()
		switch res.Kind {
		case ResultFinished, ResultError:
			return res
		case ResultBufferFull:
			t.Fatal("buffer filled unexpectedly")
		}
	}
	t.Fatal("chain never finished")
	return Result{}
}

func TestChainDecodesExactRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeToneWAV(t, path, 5000)

	c := New(0, testConfig(), zerolog.Nop())
	p, times := testPassage(t, path, 100, 4100)
	if err := c.Bind("e1", p, times); err != nil {
		t.Fatalf("bind: %v", err)
	}

	res := driveToCompletion(t, c)
	if res.Kind != ResultFinished {
		t.Fatalf("expected finish, got %+v", res)
	}
	if res.TotalFrames != 4000 {
		t.Fatalf("expected 4000 frames, got %d", res.TotalFrames)
	}
	if c.Buffer().Len() != 4000 || !c.Buffer().WriteClosed() {
		t.Fatalf("buffer state: len=%d closed=%v", c.Buffer().Len(), c.Buffer().WriteClosed())
	}
	if c.State() != Finished {
		t.Fatalf("state %s", c.State())
	}
}

func TestChainAppliesFadeBeforeBuffering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeToneWAV(t, path, 3000)

	fadeInEnd := int64(1000)
	p, _ := testPassage(t, path, 0, 2000)
	p.FadeInEndTick = &fadeInEnd
	times, err := p.EffectiveTimes()
	if err != nil {
		t.Fatalf("times: %v", err)
	}

	c := New(0, testConfig(), zerolog.Nop())
	if err := c.Bind("e1", p, times); err != nil {
		t.Fatalf("bind: %v", err)
	}
	driveToCompletion(t, c)

	out := make([]float32, 4000)
	c.Buffer().Read(out)
	// Frame 0 is fully attenuated, frame 500 is half, frame 1500 is unfaded.
	if out[0] != 0 {
		t.Fatalf("frame 0 should be silent, got %v", out[0])
	}
	mid := out[500*2]
	full := out[1500*2]
	if full == 0 || mid <= 0.49*full || mid >= 0.51*full {
		t.Fatalf("fade midpoint wrong: mid=%v full=%v", mid, full)
	}
}

func TestChainBufferFullKeepsRemainder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeToneWAV(t, path, 5000)

	cfg := testConfig()
	cfg.RingCapacity = 1024
	c := New(0, cfg, zerolog.Nop())
	p, times := testPassage(t, path, 0, 5000)
	if err := c.Bind("e1", p, times); err != nil {
		t.Fatalf("bind: %v", err)
	}

	res := c.ProcessOneChunk()
	if res.Kind != ResultProcessed || res.FramesWritten != 1000 {
		t.Fatalf("first chunk should fit, got %+v", res)
	}
	first := res
	res = c.ProcessOneChunk()
	if res.Kind != ResultBufferFull {
		t.Fatalf("expected buffer full, got %+v", res)
	}
	if first.FramesWritten+res.FramesWritten != 1024 {
		t.Fatalf("expected ring to be full, wrote %d then %d", first.FramesWritten, res.FramesWritten)
	}

	// Drain and continue: no frames lost.
	total := int64(first.FramesWritten + res.FramesWritten)
	scratch := make([]float32, 2048)
	for i := 0; i < 100000; i++ {
		c.Buffer().Read(scratch)
		res = c.ProcessOneChunk()
		total += int64(res.FramesWritten)
		if res.Kind == ResultFinished {
			break
		}
		if res.Kind == ResultError {
			t.Fatalf("error: %v", res.Err)
		}
	}
	if total != 5000 {
		t.Fatalf("expected 5000 frames total, got %d", total)
	}
}

func TestChainAcceptsPartialDecodeAboveThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeToneWAV(t, path, 3000) // 3000 of 4000 requested = 75%

	c := New(0, testConfig(), zerolog.Nop())
	p, times := testPassage(t, path, 0, 4000)
	if err := c.Bind("e1", p, times); err != nil {
		t.Fatalf("bind: %v", err)
	}

	res := driveToCompletion(t, c)
	if res.Kind != ResultFinished || !res.Partial {
		t.Fatalf("expected accepted partial, got %+v", res)
	}
	if res.TotalFrames != 3000 {
		t.Fatalf("effective end not adjusted: %d", res.TotalFrames)
	}
	if c.TotalExpectedFrames() != 3000 {
		t.Fatalf("total expected %d", c.TotalExpectedFrames())
	}
}

func TestChainRejectsPartialDecodeBelowThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeToneWAV(t, path, 1000) // 1000 of 4000 = 25%

	c := New(0, testConfig(), zerolog.Nop())
	p, times := testPassage(t, path, 0, 4000)
	if err := c.Bind("e1", p, times); err != nil {
		t.Fatalf("bind: %v", err)
	}

	res := driveToCompletion(t, c)
	if res.Kind != ResultError || res.Err == nil {
		t.Fatalf("expected error, got %+v", res)
	}
	if c.State() != Errored {
		t.Fatalf("state %s", c.State())
	}
}

func TestChainReleaseReturnsToIdle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeToneWAV(t, path, 1000)

	c := New(3, testConfig(), zerolog.Nop())
	p, times := testPassage(t, path, 0, 1000)
	if err := c.Bind("e1", p, times); err != nil {
		t.Fatalf("bind: %v", err)
	}
	c.ProcessOneChunk()
	c.Release()

	if c.State() != Idle || c.EntryID() != "" || c.Buffer().Len() != 0 {
		t.Fatal("release did not clear binding")
	}
	// Rebind works.
	if err := c.Bind("e2", p, times); err != nil {
		t.Fatalf("rebind: %v", err)
	}
}
