/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/friendsincode/bragi_player/internal/audio"
	"github.com/friendsincode/bragi_player/internal/config"
	"github.com/friendsincode/bragi_player/internal/db"
	"github.com/friendsincode/bragi_player/internal/events"
	"github.com/friendsincode/bragi_player/internal/logging"
	"github.com/friendsincode/bragi_player/internal/playback/engine"
	"github.com/friendsincode/bragi_player/internal/telemetry"
	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play <file>...",
	Short: "Queue audio files and play them with crossfades",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	cfg.DBDSN = "file::memory:?cache=private" // one-shot session, nothing to persist

	logger := logging.Setup(cfg.Environment)

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer func() { _ = db.Close(database) }()
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	bus := events.NewBus(cfg.EventBusCapacity)
	settings := db.NewSettingsStore(database, logger)
	qstore := db.NewQueueStore(database, logger)

	workingRate := cfg.PreferredSampleRate
	if workingRate <= 0 {
		workingRate = 44100
	}

	eng := engine.New(engine.Options{
		Config:      cfg,
		Logger:      logger,
		Bus:         bus,
		Metrics:     telemetry.New(),
		Settings:    settings,
		QueueStore:  qstore,
		Lookup:      newLibraryLookup(""),
		WorkingRate: workingRate,
	})

	dev, err := audio.Open(workingRate, cfg.DeviceBufferFrames, eng.Mixer().OutputBuffer(), logger)
	if err != nil {
		return fmt.Errorf("audio device: %w", err)
	}
	defer func() { _ = dev.Close() }()
	dev.OnStop = eng.NotifyDeviceLost
	eng.AttachDevice(dev)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)
	if err := dev.Start(); err != nil {
		return fmt.Errorf("start device: %w", err)
	}

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	remaining := 0
	for _, file := range args {
		if _, err := eng.Enqueue(file); err != nil {
			logger.Warn().Err(err).Str("file", file).Msg("skipping unplayable file")
			continue
		}
		remaining++
	}
	if remaining == 0 {
		return fmt.Errorf("nothing playable queued")
	}
	if res := eng.Do(engine.Command{Op: engine.OpPlay}); res.Err != nil {
		return res.Err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for remaining > 0 {
		select {
		case <-quit:
			logger.Info().Msg("interrupted")
			cancel()
			_ = dev.Stop()
			eng.Wait()
			return nil
		case msg, ok := <-sub.C:
			if !ok {
				return nil
			}
			switch ev := msg.Event.(type) {
			case events.PassageStarted:
				logger.Info().Str("passage", ev.PassageID).Msg("now playing")
			case events.PassageCompleted:
				remaining--
			case events.PassageDecodeFailed:
				logger.Warn().Str("passage", ev.PassageID).Str("error", ev.ErrorType).Msg("decode failed")
			}
		}
	}

	cancel()
	_ = dev.Stop()
	eng.Wait()
	return nil
}
