/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package decode

import (
	"io"
	"os"

	"github.com/mewkiz/flac"
)

// flacReader decodes FLAC frames via mewkiz/flac.
type flacReader struct {
	file    *os.File
	stream  *flac.Stream
	rate    int
	chans   int
	scale   float32
	pending []float32
}

func newFLACReader(file *os.File) (*flacReader, error) {
	stream, err := flac.New(file)
	if err != nil {
		return nil, &DecodeError{Kind: KindCorrupted, Path: file.Name(), Err: err}
	}
	info := stream.Info
	return &flacReader{
		file:   file,
		stream: stream,
		rate:   int(info.SampleRate),
		chans:  int(info.NChannels),
		scale:  float32(int64(1) << (info.BitsPerSample - 1)),
	}, nil
}

func (r *flacReader) SampleRate() int { return r.rate }
func (r *flacReader) Channels() int   { return r.chans }

func (r *flacReader) Read(dst []float32) (int, error) {
	n := 0
	for n < len(dst) {
		if len(r.pending) > 0 {
			copied := copy(dst[n:], r.pending)
			r.pending = r.pending[copied:]
			n += copied
			continue
		}

		frame, err := r.stream.ParseNext()
		if err != nil {
			if err == io.EOF {
				if n > 0 {
					return n, nil
				}
				return 0, io.EOF
			}
			return n, &DecodeError{Kind: KindCorrupted, Path: r.file.Name(), Err: err}
		}

		blockSize := len(frame.Subframes[0].Samples)
		interleaved := make([]float32, blockSize*r.chans)
		for ch := 0; ch < r.chans; ch++ {
			samples := frame.Subframes[ch].Samples
			for i := 0; i < blockSize; i++ {
				interleaved[i*r.chans+ch] = float32(samples[i]) / r.scale
			}
		}
		r.pending = interleaved
	}
	return n, nil
}

func (r *flacReader) Close() error { return r.file.Close() }
