/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"path/filepath"
	"sync"

	"github.com/friendsincode/bragi_player/internal/models"
	"github.com/friendsincode/bragi_player/internal/playback/decode"
)

// fileLookup resolves passage ids as media-root-relative file paths and
// probes durations on first use. In a full deployment the library service
// implements models.PassageLookup instead; this keeps the standalone
// binary useful without one.
type fileLookup struct {
	mediaRoot string

	mu    sync.Mutex
	cache map[string]*models.Passage
}

func newLibraryLookup(mediaRoot string) *fileLookup {
	return &fileLookup{mediaRoot: mediaRoot, cache: make(map[string]*models.Passage)}
}

func (l *fileLookup) Lookup(passageID string) (*models.Passage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.cache[passageID]; ok {
		return p, nil
	}

	path := passageID
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.mediaRoot, passageID)
	}
	frames, _, err := decode.ProbeFrames(path)
	if err != nil {
		return nil, err
	}

	p := &models.Passage{
		ID:           passageID,
		FilePath:     path,
		StartTick:    0,
		EndTick:      frames,
		FadeInCurve:  models.FadeLinear,
		FadeOutCurve: models.FadeLinear,
	}
	l.cache[passageID] = p
	return p, nil
}
