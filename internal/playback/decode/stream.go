/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package decode

import (
	"fmt"
	"io"
)

// Streamer is a suspendable chunked decoder for one passage. It decodes
// from byte 0, discards everything before the passage's start tick, and
// stops once the end tick has been produced. Output is always interleaved
// stereo at the file's native rate; mono input is up-mixed.
type Streamer struct {
	path   string
	reader pcmReader

	startTick int64 // file-native frames
	endTick   int64

	skipped  int64 // frames discarded before startTick
	produced int64 // frames emitted after startTick
	eof      bool

	scratch []float32
}

// Open creates a streamer for path covering [startTick, endTick).
func Open(path string, startTick, endTick int64) (*Streamer, error) {
	if startTick < 0 || endTick < startTick {
		return nil, &DecodeError{Kind: KindIO, Path: path, Err: fmt.Errorf("invalid tick range [%d,%d)", startTick, endTick)}
	}
	reader, err := openReader(path)
	if err != nil {
		return nil, err
	}
	return &Streamer{
		path:      path,
		reader:    reader,
		startTick: startTick,
		endTick:   endTick,
	}, nil
}

// SampleRate returns the file's native sample rate.
func (s *Streamer) SampleRate() int { return s.reader.SampleRate() }

// Produced returns the number of stereo frames emitted so far.
func (s *Streamer) Produced() int64 { return s.produced }

// Requested returns the passage length in file-native frames.
func (s *Streamer) Requested() int64 { return s.endTick - s.startTick }

// AtEOF reports whether the underlying file ended.
func (s *Streamer) AtEOF() bool { return s.eof }

// DecodeChunk produces up to targetFrames stereo frames. It returns
// (nil, io.EOF) when the passage range is complete or the file ended; the
// caller distinguishes the two via Produced versus Requested. Panics in
// the underlying codec are contained and surface as corrupted-file errors.
func (s *Streamer) DecodeChunk(targetFrames int) (out []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &DecodeError{Kind: KindCorrupted, Path: s.path, Err: fmt.Errorf("decoder panic: %v", r)}
		}
	}()

	if s.eof || s.produced >= s.Requested() {
		return nil, io.EOF
	}
	if targetFrames <= 0 {
		return nil, nil
	}
	if remaining := s.Requested() - s.produced; int64(targetFrames) > remaining {
		targetFrames = int(remaining)
	}

	chans := s.reader.Channels()

	// Decode-and-skip: burn frames up to startTick without emitting them.
	for s.skipped < s.startTick {
		skipFrames := s.startTick - s.skipped
		if skipFrames > int64(targetFrames) {
			skipFrames = int64(targetFrames)
		}
		buf := s.buffer(int(skipFrames) * chans)
		n, err := readFull(s.reader, buf)
		s.skipped += int64(n / chans)
		if err == io.EOF {
			s.eof = true
			return nil, io.EOF
		}
		if err != nil {
			return nil, AsDecodeError(err, s.path)
		}
	}

	buf := s.buffer(targetFrames * chans)
	n, readErr := readFull(s.reader, buf)
	frames := n / chans
	if frames > 0 {
		out = interleaveStereo(buf[:frames*chans], chans)
		s.produced += int64(frames)
	}
	if readErr == io.EOF {
		s.eof = true
		if frames == 0 {
			return nil, io.EOF
		}
		return out, nil
	}
	if readErr != nil {
		return nil, AsDecodeError(readErr, s.path)
	}
	return out, nil
}

// Close releases the underlying file. Idempotent.
func (s *Streamer) Close() error {
	if s.reader == nil {
		return nil
	}
	err := s.reader.Close()
	s.reader = nil
	return err
}

func (s *Streamer) buffer(n int) []float32 {
	if cap(s.scratch) < n {
		s.scratch = make([]float32, n)
	}
	return s.scratch[:n]
}

// interleaveStereo converts native-channel samples to stereo. Mono is
// duplicated to both channels; additional channels beyond two are dropped.
func interleaveStereo(in []float32, chans int) []float32 {
	if chans == 2 {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}
	frames := len(in) / chans
	out := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		left := in[i*chans]
		right := left
		if chans > 1 {
			right = in[i*chans+1]
		}
		out[i*2] = left
		out[i*2+1] = right
	}
	return out
}
