/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package decode

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// openReader opens the appropriate format decoder based on file extension.
// Supports .wav, .mp3, .flac/.fla, and .ogg/.oga.
func openReader(path string) (pcmReader, error) {
	file, err := os.Open(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, &DecodeError{Kind: KindFileNotFound, Path: path, Err: err}
		case errors.Is(err, fs.ErrPermission):
			return nil, &DecodeError{Kind: KindPermissionDenied, Path: path, Err: err}
		default:
			return nil, &DecodeError{Kind: KindIO, Path: path, Err: err}
		}
	}

	ext := strings.ToLower(filepath.Ext(path))
	var reader pcmReader
	switch ext {
	case ".wav":
		reader, err = newWAVReader(file)
	case ".mp3":
		reader, err = newMP3Reader(file)
	case ".flac", ".fla":
		reader, err = newFLACReader(file)
	case ".ogg", ".oga":
		reader, err = newVorbisReader(file)
	default:
		_ = file.Close()
		return nil, &DecodeError{
			Kind: KindUnsupportedCodec,
			Path: path,
			Err:  fmt.Errorf("unsupported file format %q (supported: .wav, .mp3, .flac, .ogg)", ext),
		}
	}
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return reader, nil
}
