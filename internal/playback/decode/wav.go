/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package decode

import (
	"io"
	"os"

	wav "github.com/youpy/go-wav"
)

// wavReader decodes RIFF/WAVE PCM via youpy/go-wav.
type wavReader struct {
	file    *os.File
	reader  *wav.Reader
	rate    int
	chans   int
	pending []wav.Sample
}

func newWAVReader(file *os.File) (*wavReader, error) {
	reader := wav.NewReader(file)
	format, err := reader.Format()
	if err != nil {
		return nil, &DecodeError{Kind: KindCorrupted, Path: file.Name(), Err: err}
	}
	return &wavReader{
		file:   file,
		reader: reader,
		rate:   int(format.SampleRate),
		chans:  int(format.NumChannels),
	}, nil
}

func (r *wavReader) SampleRate() int { return r.rate }
func (r *wavReader) Channels() int   { return r.chans }

func (r *wavReader) Read(dst []float32) (int, error) {
	wantFrames := len(dst) / r.chans
	if wantFrames == 0 {
		return 0, nil
	}

	samples := r.pending
	r.pending = nil
	if samples == nil {
		var err error
		samples, err = r.reader.ReadSamples(uint32(wantFrames))
		if err != nil {
			if err == io.EOF {
				return 0, io.EOF
			}
			return 0, &DecodeError{Kind: KindCorrupted, Path: r.file.Name(), Err: err}
		}
	}
	if len(samples) > wantFrames {
		r.pending = samples[wantFrames:]
		samples = samples[:wantFrames]
	}

	n := 0
	for _, sample := range samples {
		for ch := 0; ch < r.chans; ch++ {
			dst[n] = float32(r.reader.FloatValue(sample, uint(ch)))
			n++
		}
	}
	return n, nil
}

func (r *wavReader) Close() error { return r.file.Close() }
