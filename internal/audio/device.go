/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audio abstracts the OS playback device behind miniaudio. The
// device callback is restricted to lock-free, allocation-free operations:
// it drains the mixer's output ring buffer and nothing else.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/friendsincode/bragi_player/internal/playback/ringbuf"
	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

const channels = 2

// DeviceConfig is one playback configuration attempt.
type DeviceConfig struct {
	SampleRate   int // 0 = device native
	Channels     int
	BufferFrames int
}

// FallbackConfigs returns the configuration chain tried in order when the
// preferred configuration is rejected: preferred, device default,
// 44.1 kHz stereo, 48 kHz stereo, mono.
func FallbackConfigs(preferredRate, bufferFrames int) []DeviceConfig {
	configs := []DeviceConfig{}
	if preferredRate > 0 {
		configs = append(configs, DeviceConfig{SampleRate: preferredRate, Channels: 2, BufferFrames: bufferFrames})
	}
	configs = append(configs,
		DeviceConfig{SampleRate: 0, Channels: 2, BufferFrames: bufferFrames},
		DeviceConfig{SampleRate: 44100, Channels: 2, BufferFrames: bufferFrames},
		DeviceConfig{SampleRate: 48000, Channels: 2, BufferFrames: bufferFrames},
		DeviceConfig{SampleRate: 44100, Channels: 1, BufferFrames: bufferFrames},
	)
	return configs
}

// Device is an open playback device fed from a ring buffer.
type Device struct {
	logger zerolog.Logger

	ctx *malgo.AllocatedContext
	dev *malgo.Device

	ring    *ringbuf.RingBuffer
	rate    int
	chans   int
	scratch []float32

	underruns atomic.Uint64
	stopped   atomic.Bool

	// OnStop fires when the backend stops the device outside Stop/Close
	// (device lost). Set before Start.
	OnStop func()
}

// Open initializes the playback device, walking the fallback chain until a
// configuration is accepted. SampleRate reports the negotiated rate, which
// can differ from preferredRate when a fallback configuration is accepted.
func Open(preferredRate, bufferFrames int, ring *ringbuf.RingBuffer, logger zerolog.Logger) (*Device, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	d := &Device{
		logger: logger.With().Str("component", "audio-device").Logger(),
		ctx:    ctx,
		ring:   ring,
	}

	var lastErr error
	for _, cfg := range FallbackConfigs(preferredRate, bufferFrames) {
		if err := d.initDevice(cfg); err != nil {
			lastErr = err
			d.logger.Warn().Err(err).Int("rate", cfg.SampleRate).Int("channels", cfg.Channels).
				Msg("device configuration rejected")
			continue
		}
		d.logger.Info().Int("rate", d.rate).Int("channels", d.chans).Msg("audio device opened")
		return d, nil
	}

	_ = ctx.Uninit()
	ctx.Free()
	return nil, fmt.Errorf("no usable device configuration: %w", lastErr)
}

func (d *Device) initDevice(cfg DeviceConfig) error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.BufferFrames)

	callbacks := malgo.DeviceCallbacks{
		Data: d.onData,
		Stop: d.onDeviceStop,
	}

	dev, err := malgo.InitDevice(d.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return err
	}

	d.dev = dev
	d.rate = int(dev.SampleRate())
	d.chans = cfg.Channels
	d.scratch = make([]float32, cfg.BufferFrames*channels*4)
	return nil
}

// SampleRate returns the negotiated rate.
func (d *Device) SampleRate() int { return d.rate }

// Underruns returns the callback's underflow counter.
func (d *Device) Underruns() uint64 { return d.underruns.Load() }

// Start begins playback.
func (d *Device) Start() error {
	d.stopped.Store(false)
	return d.dev.Start()
}

// Stop halts playback without releasing the device.
func (d *Device) Stop() error {
	d.stopped.Store(true)
	return d.dev.Stop()
}

// Close releases the device and its context.
func (d *Device) Close() error {
	d.stopped.Store(true)
	if d.dev != nil {
		d.dev.Uninit()
		d.dev = nil
	}
	if d.ctx != nil {
		err := d.ctx.Uninit()
		d.ctx.Free()
		d.ctx = nil
		return err
	}
	return nil
}

// onData runs on the real-time audio thread. No locks, no allocation, no
// blocking: drain the ring buffer, zero-fill on underflow, bump a counter.
func (d *Device) onData(output, _ []byte, frameCount uint32) {
	want := int(frameCount)
	if want*channels > len(d.scratch) {
		want = len(d.scratch) / channels
	}

	got := d.ring.Read(d.scratch[:want*channels])
	writeF32LE(output, d.scratch[:got*channels], d.chans)

	if got < int(frameCount) {
		d.underruns.Add(1)
		zeroFill(output, got, int(frameCount), d.chans)
	}
}

func (d *Device) onDeviceStop() {
	if d.stopped.Load() {
		return
	}
	// Backend-initiated stop: the device disappeared.
	if d.OnStop != nil {
		d.OnStop()
	}
}

// writeF32LE converts stereo samples to the device layout. A mono device
// receives the averaged channels.
func writeF32LE(out []byte, samples []float32, devChans int) {
	if devChans == 1 {
		frames := len(samples) / channels
		for i := 0; i < frames; i++ {
			mono := (samples[i*2] + samples[i*2+1]) / 2
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(mono))
		}
		return
	}
	for i, sample := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(sample))
	}
}

func zeroFill(out []byte, fromFrame, toFrame, devChans int) {
	start := fromFrame * devChans * 4
	end := toFrame * devChans * 4
	if end > len(out) {
		end = len(out)
	}
	for i := start; i < end; i++ {
		out[i] = 0
	}
}
