/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package decode

import (
	"io"
	"os"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// mp3Reader decodes MPEG layer 3 via hajimehoshi/go-mp3, which always
// emits 16-bit little-endian stereo.
type mp3Reader struct {
	file    *os.File
	decoder *mp3.Decoder
	scratch []byte
}

func newMP3Reader(file *os.File) (*mp3Reader, error) {
	decoder, err := mp3.NewDecoder(file)
	if err != nil {
		return nil, &DecodeError{Kind: KindCorrupted, Path: file.Name(), Err: err}
	}
	return &mp3Reader{file: file, decoder: decoder}, nil
}

func (r *mp3Reader) SampleRate() int { return r.decoder.SampleRate() }
func (r *mp3Reader) Channels() int   { return 2 }

func (r *mp3Reader) Read(dst []float32) (int, error) {
	want := len(dst) * 2 // bytes: 2 per 16-bit sample
	if cap(r.scratch) < want {
		r.scratch = make([]byte, want)
	}
	raw := r.scratch[:want]

	read, err := io.ReadFull(r.decoder, raw)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, &DecodeError{Kind: KindCorrupted, Path: r.file.Name(), Err: err}
	}
	read -= read % 2

	for i := 0; i < read/2; i++ {
		sample := int16(uint16(raw[i*2]) | uint16(raw[i*2+1])<<8)
		dst[i] = float32(sample) / 32768
	}
	if read == 0 || err == io.EOF || err == io.ErrUnexpectedEOF {
		if read == 0 {
			return 0, io.EOF
		}
		return read / 2, io.EOF
	}
	return read / 2, nil
}

func (r *mp3Reader) Close() error { return r.file.Close() }
