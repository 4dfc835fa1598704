/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/friendsincode/bragi_player/internal/audio"
	"github.com/friendsincode/bragi_player/internal/config"
	"github.com/friendsincode/bragi_player/internal/db"
	"github.com/friendsincode/bragi_player/internal/events"
	"github.com/friendsincode/bragi_player/internal/logbuffer"
	"github.com/friendsincode/bragi_player/internal/logging"
	"github.com/friendsincode/bragi_player/internal/playback/engine"
	"github.com/friendsincode/bragi_player/internal/telemetry"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the playback engine service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logBuf := logbuffer.New(2000)
	logger := logging.SetupWithWriter(cfg.Environment, logBuf)
	logger.Info().Msg("Bragi Player starting")
	for _, warning := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warning)
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer func() { _ = db.Close(database) }()
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	settings := db.NewSettingsStore(database, logger)
	settings.ApplyOverrides(cfg)
	qstore := db.NewQueueStore(database, logger)
	bus := events.NewBus(cfg.EventBusCapacity)
	metrics := telemetry.New()

	// The working rate is the database preference, the env preference, or
	// 44.1 kHz; miniaudio converts to the hardware rate when they differ.
	workingRate := settings.GetInt(db.SettingWorkingRate, cfg.PreferredSampleRate)
	if workingRate <= 0 {
		workingRate = 44100
	}

	eng := engine.New(engine.Options{
		Config:      cfg,
		Logger:      logger,
		Bus:         bus,
		Metrics:     metrics,
		Settings:    settings,
		QueueStore:  qstore,
		Lookup:      newLibraryLookup(cfg.MediaRoot),
		WorkingRate: workingRate,
	})

	dev, err := audio.Open(workingRate, cfg.DeviceBufferFrames, eng.Mixer().OutputBuffer(), logger)
	if err != nil {
		return fmt.Errorf("audio device: %w", err)
	}
	defer func() { _ = dev.Close() }()
	dev.OnStop = eng.NotifyDeviceLost
	eng.AttachDevice(dev)
	if dev.SampleRate() != workingRate {
		logger.Warn().Int("device_rate", dev.SampleRate()).Int("working_rate", workingRate).
			Msg("device negotiated a different rate")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng.Start(ctx)
	if err := dev.Start(); err != nil {
		return fmt.Errorf("start device: %w", err)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/debug/logs", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(logBuf.Recent(200))
		})
		logger.Info().Str("addr", cfg.MetricsBind).Msg("metrics listening")
		if err := http.ListenAndServe(cfg.MetricsBind, mux); err != nil {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	cancel()
	_ = dev.Stop()
	eng.Wait()
	logger.Info().Msg("Bragi Player stopped")
	return nil
}
