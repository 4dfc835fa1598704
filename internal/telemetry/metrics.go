/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes engine health as prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	FramesMixed      prometheus.Counter
	Crossfades       prometheus.Counter
	BufferUnderruns  prometheus.Counter
	OutputUnderruns  prometheus.Counter
	DecodeErrors     *prometheus.CounterVec
	PassagesFinished *prometheus.CounterVec
	DeviceRestarts   prometheus.Counter
	ChainFill        *prometheus.GaugeVec
	QueueLength      prometheus.Gauge
}

// New builds and registers the collector set on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		FramesMixed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bragi_frames_mixed_total",
			Help: "Stereo frames written by the mixer.",
		}),
		Crossfades: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bragi_crossfades_total",
			Help: "Crossfade transitions started.",
		}),
		BufferUnderruns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bragi_buffer_underruns_total",
			Help: "Mixer reads from an empty chain buffer mid-passage.",
		}),
		OutputUnderruns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bragi_output_underruns_total",
			Help: "Audio callback reads from an empty output ring buffer.",
		}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bragi_decode_errors_total",
			Help: "Decoder failures by error kind.",
		}, []string{"kind"}),
		PassagesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bragi_passages_finished_total",
			Help: "Passages removed from the queue by outcome.",
		}, []string{"outcome"}),
		DeviceRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bragi_device_restarts_total",
			Help: "Audio device reconnect attempts that succeeded.",
		}),
		ChainFill: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bragi_chain_fill_frames",
			Help: "Buffered frames per decoder chain.",
		}, []string{"chain"}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bragi_queue_length",
			Help: "Entries in the playback queue.",
		}),
	}

	registry.MustRegister(
		m.FramesMixed, m.Crossfades, m.BufferUnderruns, m.OutputUnderruns,
		m.DecodeErrors, m.PassagesFinished, m.DeviceRestarts, m.ChainFill,
		m.QueueLength,
	)
	return m
}

// Handler exposes the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
