/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package worker schedules decode work across all chains on a single
// goroutine. Serial decoding preserves cache locality and caps CPU load;
// fairness comes from buffer-fill-aware priority rather than threads.
package worker

import (
	"context"
	"time"

	"github.com/friendsincode/bragi_player/internal/playback/chain"
	"github.com/rs/zerolog"
)

// Config carries the scheduler thresholds, all in frames except the
// period.
type Config struct {
	Headroom         int           // stop filling when free space drops to this
	ResumeHysteresis int           // resume once free space recovers past headroom+this
	WorkPeriod       time.Duration // periodic fairness re-evaluation
}

// QueueView is the read-only queue surface the scheduler needs.
type QueueView interface {
	PlayOrderOf(chainIndex int) int
}

// Event reports a decode step the engine must react to.
type Event struct {
	ChainIndex int
	EntryID    string
	PassageID  string
	Result     chain.Result
}

// Worker owns every chain exclusively. All chain mutation happens on its
// goroutine; the engine communicates through Kick and the event channel.
type Worker struct {
	cfg    Config
	chains []*chain.Chain
	queue  QueueView
	logger zerolog.Logger

	wake   chan struct{}
	events chan Event
}

// New creates a worker over the pre-allocated chains.
func New(cfg Config, chains []*chain.Chain, queue QueueView, logger zerolog.Logger) *Worker {
	if cfg.WorkPeriod <= 0 {
		cfg.WorkPeriod = 5 * time.Second
	}
	return &Worker{
		cfg:    cfg,
		chains: chains,
		queue:  queue,
		logger: logger.With().Str("component", "decoder-worker").Logger(),
		wake:   make(chan struct{}, 1),
		events: make(chan Event, 64),
	}
}

// Events delivers chain completions and failures to the engine.
func (w *Worker) Events() <-chan Event { return w.events }

// Kick wakes the scheduler after a chain-assignment change.
func (w *Worker) Kick() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run executes the scheduler loop until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Msg("decoder worker started")
	ticker := time.NewTicker(w.cfg.WorkPeriod)
	defer ticker.Stop()

	for {
		worked := w.Step()
		if worked {
			// More work may be pending; only yield to the context.
			select {
			case <-ctx.Done():
				w.logger.Info().Msg("decoder worker stopped")
				return ctx.Err()
			default:
			}
			continue
		}

		select {
		case <-ctx.Done():
			w.logger.Info().Msg("decoder worker stopped")
			return ctx.Err()
		case <-w.wake:
		case <-ticker.C:
		}
	}
}

// Step selects the neediest chain and processes one chunk. It returns
// false when no chain is runnable. Exported so tests can drive the
// scheduler deterministically.
func (w *Worker) Step() bool {
	c := w.selectChain()
	if c == nil {
		return false
	}

	result := c.ProcessOneChunk()
	switch result.Kind {
	case chain.ResultBufferFull:
		// Immediate yield; resume handled by the hysteresis check.
		c.SetState(chain.Yielded)
	case chain.ResultFinished:
		w.emit(c, result)
	case chain.ResultError:
		w.logger.Warn().Err(result.Err).Int("chain", c.Index).Msg("chain failed")
		w.emit(c, result)
	}
	return true
}

// selectChain applies buffer-fill-aware priority: among chains that need
// filling, the one with the lowest play order wins.
func (w *Worker) selectChain() *chain.Chain {
	var best *chain.Chain
	bestOrder := 0

	for _, c := range w.chains {
		switch c.State() {
		case chain.Yielded:
			if c.Buffer().Free() < w.cfg.Headroom+w.cfg.ResumeHysteresis {
				continue
			}
			// Fallthrough to candidacy; state flips on selection.
		case chain.Active:
			if c.Buffer().Free() <= w.cfg.Headroom {
				c.SetState(chain.Yielded)
				continue
			}
		default:
			continue
		}

		order := w.queue.PlayOrderOf(c.Index)
		if order < 0 {
			continue
		}
		if best == nil || order < bestOrder {
			best = c
			bestOrder = order
		}
	}

	if best != nil && best.State() == chain.Yielded {
		best.SetState(chain.Active)
	}
	return best
}

func (w *Worker) emit(c *chain.Chain, result chain.Result) {
	w.events <- Event{
		ChainIndex: c.Index,
		EntryID:    c.EntryID(),
		PassageID:  c.PassageID(),
		Result:     result,
	}
}
