/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"fmt"
	"time"
)

// FadeCurve enumerates the supported fade curve shapes.
type FadeCurve string

const (
	FadeLinear      FadeCurve = "linear"
	FadeExponential FadeCurve = "exponential"
	FadeLogarithmic FadeCurve = "logarithmic"
	FadeCosine      FadeCurve = "cosine"
	FadeEqualPower  FadeCurve = "equal_power"
)

// Valid reports whether the curve name is one of the known shapes.
func (c FadeCurve) Valid() bool {
	switch c {
	case FadeLinear, FadeExponential, FadeLogarithmic, FadeCosine, FadeEqualPower:
		return true
	}
	return false
}

// Passage describes a playable, time-bounded segment of an audio file.
// Tick positions are absolute sample indices in the file at its native
// sample rate. Passages are immutable; the engine reads them through a
// PassageLookup and never writes them back.
type Passage struct {
	ID       string
	FilePath string

	StartTick int64
	EndTick   int64

	// Optional fade envelope bounds. Nil collapses to the nearest of
	// StartTick / EndTick.
	FadeInEndTick    *int64
	FadeOutStartTick *int64

	// Optional crossfade overlap bounds, orthogonal to the fade curves.
	LeadInEndTick    *int64
	LeadOutStartTick *int64

	FadeInCurve  FadeCurve
	FadeOutCurve FadeCurve
}

// PassageTimes holds the effective tick points of a passage with all
// optional values collapsed to their nearest bound.
type PassageTimes struct {
	StartTick        int64
	EndTick          int64
	FadeInEndTick    int64
	FadeOutStartTick int64
	LeadInEndTick    int64
	LeadOutStartTick int64
}

// DurationTicks returns the passage length in file-native samples.
func (t PassageTimes) DurationTicks() int64 {
	return t.EndTick - t.StartTick
}

// LeadInDuration returns the crossfade-in overlap length in ticks.
func (t PassageTimes) LeadInDuration() int64 {
	return t.LeadInEndTick - t.StartTick
}

// LeadOutDuration returns the crossfade-out overlap length in ticks.
func (t PassageTimes) LeadOutDuration() int64 {
	return t.EndTick - t.LeadOutStartTick
}

// EffectiveTimes resolves the optional tick points and validates the
// ordering invariant
//
//	start <= fade_in_end <= lead_in_end <= lead_out_start <= fade_out_start <= end
//
// Unset points collapse to the nearest bound: fade points to start/end,
// lead points to the adjacent fade point.
func (p *Passage) EffectiveTimes() (PassageTimes, error) {
	t := PassageTimes{StartTick: p.StartTick, EndTick: p.EndTick}

	if p.StartTick < 0 || p.EndTick < p.StartTick {
		return t, fmt.Errorf("passage %s: invalid bounds start=%d end=%d", p.ID, p.StartTick, p.EndTick)
	}

	t.FadeInEndTick = p.StartTick
	if p.FadeInEndTick != nil {
		t.FadeInEndTick = *p.FadeInEndTick
	}
	t.FadeOutStartTick = p.EndTick
	if p.FadeOutStartTick != nil {
		t.FadeOutStartTick = *p.FadeOutStartTick
	}
	t.LeadInEndTick = t.FadeInEndTick
	if p.LeadInEndTick != nil {
		t.LeadInEndTick = *p.LeadInEndTick
	}
	t.LeadOutStartTick = t.FadeOutStartTick
	if p.LeadOutStartTick != nil {
		t.LeadOutStartTick = *p.LeadOutStartTick
	}

	ordered := p.StartTick <= t.FadeInEndTick &&
		t.FadeInEndTick <= t.LeadInEndTick &&
		t.LeadInEndTick <= t.LeadOutStartTick &&
		t.LeadOutStartTick <= t.FadeOutStartTick &&
		t.FadeOutStartTick <= p.EndTick
	if !ordered {
		return t, fmt.Errorf("passage %s: tick points out of order", p.ID)
	}
	return t, nil
}

// PassageLookup resolves passage definitions owned by the library service.
type PassageLookup interface {
	Lookup(passageID string) (*Passage, error)
}

// QueueEntry is a persisted position in the playback queue.
type QueueEntry struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	PassageID  string `gorm:"type:uuid;index"`
	PlayOrder  int    `gorm:"index"`
	EnqueuedAt time.Time
}

// Setting is a single key/value tuning knob.
type Setting struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	UpdatedAt time.Time
}

// PlayHistory records one finished (completed or skipped) queue entry.
type PlayHistory struct {
	ID               string `gorm:"type:uuid;primaryKey"`
	PassageID        string `gorm:"type:uuid;index"`
	QueueEntryID     string `gorm:"type:uuid"`
	StartedAt        time.Time
	DurationPlayedMs int64
	Completed        bool
	CreatedAt        time.Time
}
