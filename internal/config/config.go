/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection. Only sqlite is wired for the player; the enum
// mirrors the server products so DSNs stay portable.
type DatabaseBackend string

const (
	DatabaseSQLite DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
// MaxDecodeStreams and PreferredSampleRate may be overridden by rows in the
// settings table (db.SettingsStore.ApplyOverrides); env values stand when no
// row is present. The other fields come from env and defaults only.
type Config struct {
	Environment string
	DBBackend   DatabaseBackend
	DBDSN       string
	MediaRoot   string
	MetricsBind string

	// Decoder / chain tuning
	MaxDecodeStreams        int           // pre-allocated decoder chains (N)
	PlayoutRingCapacity     int           // per-chain ring buffer, frames
	PlayoutRingHeadroom     int           // decoder pauses when free <= headroom
	DecoderResumeHysteresis int           // decoder resumes when free >= headroom+hysteresis
	DecodeChunkFrames       int           // target frames per decode chunk (~1 s)
	DecodeWorkPeriod        time.Duration // fairness re-evaluation period
	PartialDecodeMinPercent int           // accept truncated decode at or above this

	// Mixer tuning
	MixerMinStartLevel    int // frames buffered before a chain becomes readable
	OutputRingSize        int // device-facing ring buffer, frames
	MixerCheckInterval    time.Duration
	MixerBatchSizeLow     int
	MixerBatchSizeOptimal int
	PauseDecayFactor      float64
	PauseDecayFloor       float64
	ResumeFadeMs          int

	// Event / progress cadence
	PlaybackProgressInterval time.Duration
	EventBusCapacity         int

	// Audio device
	PreferredSampleRate int // 0 means use device native rate
	DeviceBufferFrames  int

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"BRAGI_ENV", "RLM_ENV"}, "development"),
		DBBackend:   DatabaseBackend(getEnv("BRAGI_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:       getEnv("BRAGI_DB_DSN", "bragi.db"),
		MediaRoot:   getEnv("BRAGI_MEDIA_ROOT", "./media"),
		MetricsBind: getEnv("BRAGI_METRICS_BIND", "127.0.0.1:9000"),

		MaxDecodeStreams:        getEnvInt("BRAGI_MAX_DECODE_STREAMS", 12),
		PlayoutRingCapacity:     getEnvInt("BRAGI_PLAYOUT_RINGBUFFER_CAPACITY", 661941),
		PlayoutRingHeadroom:     getEnvInt("BRAGI_PLAYOUT_RINGBUFFER_HEADROOM", 32768),
		DecoderResumeHysteresis: getEnvInt("BRAGI_DECODER_RESUME_HYSTERESIS", 44100),
		DecodeChunkFrames:       getEnvInt("BRAGI_DECODE_CHUNK_FRAMES", 44100),
		DecodeWorkPeriod:        time.Duration(getEnvInt("BRAGI_DECODE_WORK_PERIOD_MS", 5000)) * time.Millisecond,
		PartialDecodeMinPercent: getEnvInt("BRAGI_PARTIAL_DECODE_MIN_PERCENT", 50),

		MixerMinStartLevel:    getEnvInt("BRAGI_MIXER_MIN_START_LEVEL", 22050),
		OutputRingSize:        getEnvInt("BRAGI_OUTPUT_RINGBUFFER_SIZE", 8192),
		MixerCheckInterval:    time.Duration(getEnvInt("BRAGI_MIXER_CHECK_INTERVAL_MS", 10)) * time.Millisecond,
		MixerBatchSizeLow:     getEnvInt("BRAGI_MIXER_BATCH_SIZE_LOW", 512),
		MixerBatchSizeOptimal: getEnvInt("BRAGI_MIXER_BATCH_SIZE_OPTIMAL", 256),
		PauseDecayFactor:      getEnvFloat("BRAGI_PAUSE_DECAY_FACTOR", 31.0/32.0),
		PauseDecayFloor:       getEnvFloat("BRAGI_PAUSE_DECAY_FLOOR", 1.78e-4),
		ResumeFadeMs:          getEnvInt("BRAGI_RESUME_FADE_MS", 250),

		PlaybackProgressInterval: time.Duration(getEnvInt("BRAGI_PLAYBACK_PROGRESS_INTERVAL_MS", 5000)) * time.Millisecond,
		EventBusCapacity:         getEnvInt("BRAGI_EVENT_BUS_CAPACITY", 1000),

		PreferredSampleRate: getEnvInt("BRAGI_PREFERRED_SAMPLE_RATE", 0),
		DeviceBufferFrames:  getEnvInt("BRAGI_DEVICE_BUFFER_FRAMES", 1024),
	}

	if cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}
	if cfg.MaxDecodeStreams < 1 {
		return nil, fmt.Errorf("BRAGI_MAX_DECODE_STREAMS must be at least 1")
	}
	if cfg.PlayoutRingHeadroom >= cfg.PlayoutRingCapacity {
		return nil, fmt.Errorf("ring headroom %d must be below capacity %d", cfg.PlayoutRingHeadroom, cfg.PlayoutRingCapacity)
	}
	if cfg.MixerMinStartLevel > cfg.PlayoutRingCapacity {
		return nil, fmt.Errorf("mixer start level %d exceeds ring capacity %d", cfg.MixerMinStartLevel, cfg.PlayoutRingCapacity)
	}
	if cfg.PauseDecayFactor <= 0 || cfg.PauseDecayFactor >= 1 {
		return nil, fmt.Errorf("pause decay factor must be in (0,1), got %v", cfg.PauseDecayFactor)
	}
	if cfg.PartialDecodeMinPercent < 0 || cfg.PartialDecodeMinPercent > 100 {
		return nil, fmt.Errorf("partial decode threshold must be a percentage, got %d", cfg.PartialDecodeMinPercent)
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT": "use BRAGI_ENV",
		"DB_DSN":      "use BRAGI_DB_DSN",
		"MEDIA_ROOT":  "use BRAGI_MEDIA_ROOT",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}
