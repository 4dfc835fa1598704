/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package decode

import "io"

// ProbeFrames decodes the whole file to count its frames. Compressed
// headers lie about VBR lengths, so counting decoded frames is the only
// reliable duration source. Intended for ingest-side tooling and the CLI;
// the engine itself never needs it.
func ProbeFrames(path string) (frames int64, sampleRate int, err error) {
	reader, err := openReader(path)
	if err != nil {
		return 0, 0, err
	}
	defer reader.Close()

	chans := reader.Channels()
	buf := make([]float32, 8192*chans)
	for {
		n, rerr := reader.Read(buf)
		frames += int64(n / chans)
		if rerr == io.EOF {
			return frames, reader.SampleRate(), nil
		}
		if rerr != nil {
			return frames, reader.SampleRate(), rerr
		}
		if n == 0 {
			return frames, reader.SampleRate(), nil
		}
	}
}
