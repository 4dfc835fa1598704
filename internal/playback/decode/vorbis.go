/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package decode

import (
	"io"
	"os"

	"github.com/jfreymuth/oggvorbis"
)

// vorbisReader decodes Ogg Vorbis via jfreymuth/oggvorbis, which already
// produces interleaved float32.
type vorbisReader struct {
	file   *os.File
	reader *oggvorbis.Reader
}

func newVorbisReader(file *os.File) (*vorbisReader, error) {
	reader, err := oggvorbis.NewReader(file)
	if err != nil {
		return nil, &DecodeError{Kind: KindCorrupted, Path: file.Name(), Err: err}
	}
	return &vorbisReader{file: file, reader: reader}, nil
}

func (r *vorbisReader) SampleRate() int { return r.reader.SampleRate() }
func (r *vorbisReader) Channels() int   { return r.reader.Channels() }

func (r *vorbisReader) Read(dst []float32) (int, error) {
	n, err := r.reader.Read(dst)
	if err != nil && err != io.EOF {
		return n, &DecodeError{Kind: KindCorrupted, Path: r.file.Name(), Err: err}
	}
	if err == io.EOF && n == 0 {
		return 0, io.EOF
	}
	if err == io.EOF {
		return n, io.EOF
	}
	return n, nil
}

func (r *vorbisReader) Close() error { return r.file.Close() }
