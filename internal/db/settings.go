/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"strconv"
	"time"

	"github.com/friendsincode/bragi_player/internal/config"
	"github.com/friendsincode/bragi_player/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Well-known setting keys.
const (
	SettingMasterVolume     = "master_volume"
	SettingPlaybackState    = "playback_state"
	SettingRootFolder       = "root_folder"
	SettingWorkingRate      = "working_sample_rate"
	SettingMaxDecodeStreams = "max_decode_streams"
)

// SettingsStore reads and writes the settings table.
type SettingsStore struct {
	database *gorm.DB
	logger   zerolog.Logger
}

// NewSettingsStore creates a settings store.
func NewSettingsStore(database *gorm.DB, logger zerolog.Logger) *SettingsStore {
	return &SettingsStore{database: database, logger: logger.With().Str("component", "settings").Logger()}
}

// Get returns the value for key, or def when the key is absent.
func (s *SettingsStore) Get(key, def string) string {
	var row models.Setting
	err := s.database.First(&row, "key = ?", key).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn().Err(err).Str("key", key).Msg("settings read failed")
		}
		return def
	}
	return row.Value
}

// GetInt returns the integer value for key, or def on absence or parse failure.
func (s *SettingsStore) GetInt(key string, def int) int {
	raw := s.Get(key, "")
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		s.logger.Warn().Str("key", key).Str("value", raw).Msg("settings value is not an integer")
		return def
	}
	return parsed
}

// GetFloat returns the float value for key, or def on absence or parse failure.
func (s *SettingsStore) GetFloat(key string, def float64) float64 {
	raw := s.Get(key, "")
	if raw == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		s.logger.Warn().Str("key", key).Str("value", raw).Msg("settings value is not a float")
		return def
	}
	return parsed
}

// Set upserts a key/value pair.
func (s *SettingsStore) Set(key, value string) error {
	row := models.Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return s.database.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

// ApplyOverrides overlays the persisted decode-stream count and working
// sample rate onto the process config. A row in the settings table wins;
// without one the env/default value is kept. Nothing is written back.
func (s *SettingsStore) ApplyOverrides(cfg *config.Config) {
	cfg.MaxDecodeStreams = s.GetInt(SettingMaxDecodeStreams, cfg.MaxDecodeStreams)
	cfg.PreferredSampleRate = s.GetInt(SettingWorkingRate, cfg.PreferredSampleRate)
}
