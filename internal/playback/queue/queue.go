/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue maintains the ordered passage queue, mirrored synchronously
// to the database, and owns decoder chain allocation. Every enqueue path
// (API, restore) funnels through the same internal operation so no entry
// can exist without passing chain-allocation logic.
package queue

import (
	"container/heap"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/friendsincode/bragi_player/internal/db"
	"github.com/friendsincode/bragi_player/internal/events"
	"github.com/friendsincode/bragi_player/internal/models"
	"github.com/friendsincode/bragi_player/internal/playback/chain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Entry is an in-memory queue position. PlayOrder is implicit: the entry's
// index in the manager's slice.
type Entry struct {
	ID         string
	PassageID  string
	Passage    *models.Passage
	Times      models.PassageTimes
	ChainIndex int // -1 when no chain is held
	EnqueuedAt time.Time
	StartedAt  time.Time // set by the engine when the entry reaches position 0
}

// intHeap is a min-heap of free chain indexes; the lowest index is always
// allocated first for stable diagnostics ordering.
type intHeap []int

func (h intHeap) Len() int            { return len(h) }
func (h intHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h intHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *intHeap) Push(x any)         { *h = append(*h, x.(int)) }
func (h *intHeap) Pop() any           { old := *h; n := len(old); x := old[n-1]; *h = old[:n-1]; return x }

// BindFailure reports an entry whose chain could not be bound.
type BindFailure struct {
	Entry *Entry
	Err   error
}

// Manager owns the queue and the chain free set. Reads are frequent
// (worker, mixer marker computation); writes happen on commands and
// passage completion.
type Manager struct {
	mu     sync.RWMutex
	logger zerolog.Logger

	entries []*Entry
	chains  []*chain.Chain
	free    intHeap

	store  *db.QueueStore
	lookup models.PassageLookup
	bus    *events.Bus

	rootFolder string
	window     int // entries eligible for a chain; shrinks under fd pressure

	// OnBindFailure is invoked (outside the lock) for entries dropped
	// because their decoder could not be opened. Set by the engine.
	OnBindFailure func(BindFailure)

	enqueued atomic.Uint64
	removed  atomic.Uint64
}

// NewManager creates a queue manager over pre-allocated chains.
func NewManager(chains []*chain.Chain, store *db.QueueStore, lookup models.PassageLookup, bus *events.Bus, rootFolder string, logger zerolog.Logger) *Manager {
	m := &Manager{
		logger:     logger.With().Str("component", "queue").Logger(),
		chains:     chains,
		store:      store,
		lookup:     lookup,
		bus:        bus,
		rootFolder: rootFolder,
	}
	for _, c := range chains {
		m.free = append(m.free, c.Index)
	}
	heap.Init(&m.free)
	m.window = len(chains)
	return m
}

// SetWindow limits how many head-of-queue entries may hold chains. Used by
// the engine's degradation policy under file-handle pressure; passing a
// value >= len(chains) restores full allocation.
func (m *Manager) SetWindow(n int) {
	m.mu.Lock()
	if n < 1 {
		n = 1
	}
	if n > len(m.chains) {
		n = len(m.chains)
	}
	m.window = n
	failures := m.allocateChainsLocked()
	m.mu.Unlock()
	m.reportFailures(failures)
}

// Window returns the current allocation window.
func (m *Manager) Window() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.window
}

// Len returns the number of queued entries.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Current returns the entry at position 0, or nil.
func (m *Manager) Current() *Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return nil
	}
	return m.entries[0]
}

// Next returns the entry at position 1, or nil.
func (m *Manager) Next() *Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) < 2 {
		return nil
	}
	return m.entries[1]
}

// EntryByID returns the entry with the given id, or nil.
func (m *Manager) EntryByID(entryID string) *Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLocked(entryID)
}

// PlayOrderOf returns the position of the entry bound to chainIndex, or -1.
func (m *Manager) PlayOrderOf(chainIndex int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for order, e := range m.entries {
		if e.ChainIndex == chainIndex {
			return order
		}
	}
	return -1
}

// ChainFor returns the chain bound to the entry, or nil.
func (m *Manager) ChainFor(e *Entry) *chain.Chain {
	if e == nil || e.ChainIndex < 0 {
		return nil
	}
	return m.chains[e.ChainIndex]
}

// Entries returns a snapshot of the queue in play order.
func (m *Manager) Entries() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Entry(nil), m.entries...)
}

// Enqueue appends a passage, persists the entry, and allocates a chain
// when the entry lands within the chain window.
func (m *Manager) Enqueue(passageID string) (string, error) {
	passage, err := m.lookup.Lookup(passageID)
	if err != nil {
		return "", fmt.Errorf("lookup passage %s: %w", passageID, err)
	}
	times, err := passage.EffectiveTimes()
	if err != nil {
		return "", err
	}

	entry := &Entry{
		ID:         uuid.NewString(),
		PassageID:  passageID,
		Passage:    passage,
		Times:      times,
		ChainIndex: -1,
		EnqueuedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	if err := m.store.Append(entry.ID, passageID, len(m.entries)); err != nil {
		m.mu.Unlock()
		return "", fmt.Errorf("persist enqueue: %w", err)
	}
	m.entries = append(m.entries, entry)
	failures := m.allocateChainsLocked()
	m.mu.Unlock()

	m.enqueued.Add(1)
	m.reportFailures(failures)
	m.bus.Publish(events.QueueChanged{Trigger: events.TriggerUserEnqueue, Timestamp: time.Now().UTC()})
	return entry.ID, nil
}

// Remove deletes the entry if present and releases its chain. Returns true
// iff this call caused the removal; removing an absent id is not an error.
func (m *Manager) Remove(entryID string, trigger events.QueueChangeTrigger) bool {
	m.mu.Lock()
	entry := m.findLocked(entryID)
	if entry == nil {
		// Keep the persistent delete idempotent too.
		_, _ = m.store.Remove(entryID)
		m.mu.Unlock()
		return false
	}
	m.removeLocked(entry)
	failures := m.allocateChainsLocked()
	m.mu.Unlock()

	m.removed.Add(1)
	m.reportFailures(failures)
	m.bus.Publish(events.QueueChanged{Trigger: trigger, Timestamp: time.Now().UTC()})
	return true
}

// Skip removes the entry at position 0 and returns it, or nil on an empty
// queue. The caller runs the cleanup sequence and restarts playback.
func (m *Manager) Skip() *Entry {
	m.mu.Lock()
	if len(m.entries) == 0 {
		m.mu.Unlock()
		return nil
	}
	entry := m.entries[0]
	m.removeLocked(entry)
	failures := m.allocateChainsLocked()
	m.mu.Unlock()

	m.removed.Add(1)
	m.reportFailures(failures)
	m.bus.Publish(events.QueueChanged{Trigger: events.TriggerSkip, Timestamp: time.Now().UTC()})
	return entry
}

// Clear removes every entry and releases all chains.
func (m *Manager) Clear() {
	m.mu.Lock()
	for _, entry := range m.entries {
		m.releaseChainLocked(entry)
	}
	m.entries = nil
	if err := m.store.Clear(); err != nil {
		m.logger.Error().Err(err).Msg("queue clear persist failed")
	}
	m.mu.Unlock()

	m.bus.Publish(events.QueueChanged{Trigger: events.TriggerUserDequeue, Timestamp: time.Now().UTC()})
}

// RestoreFromDatabase loads persisted entries at startup. Invalid entries
// (unknown passage, missing file) are dropped with a warning. A read
// failure is treated as table corruption: the queue is cleared and a
// corruption_recovery change is emitted.
func (m *Manager) RestoreFromDatabase() {
	rows, err := m.store.LoadAll()
	if err != nil {
		m.logger.Error().Err(err).Msg("queue table unreadable, clearing")
		m.mu.Lock()
		m.entries = nil
		_ = m.store.Clear()
		m.mu.Unlock()
		m.bus.Publish(events.QueueChanged{Trigger: events.TriggerCorruptionRecovery, Timestamp: time.Now().UTC()})
		return
	}

	m.mu.Lock()
	for _, row := range rows {
		entry, err := m.validateRow(row)
		if err != nil {
			m.logger.Warn().Err(err).Str("entry", row.ID).Str("passage", row.PassageID).Msg("dropping invalid queue entry")
			_, _ = m.store.Remove(row.ID)
			continue
		}
		m.entries = append(m.entries, entry)
	}
	m.persistOrderLocked()
	failures := m.allocateChainsLocked()
	m.mu.Unlock()

	m.reportFailures(failures)
	m.bus.Publish(events.QueueChanged{Trigger: events.TriggerStartupRestore, Timestamp: time.Now().UTC()})
}

// SeekCurrent rebinds the current entry's chain with new effective times
// (intra-passage seek). The chain keeps its index so diagnostics ordering
// is stable.
func (m *Manager) SeekCurrent(times models.PassageTimes) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return ErrQueueEmpty
	}
	entry := m.entries[0]
	if entry.ChainIndex < 0 {
		return fmt.Errorf("current entry %s holds no chain", entry.ID)
	}
	c := m.chains[entry.ChainIndex]
	c.Release()
	if err := c.Bind(entry.ID, entry.Passage, times); err != nil {
		// The chain goes back to the free set; the entry loses it.
		heap.Push(&m.free, entry.ChainIndex)
		entry.ChainIndex = -1
		return err
	}
	entry.Times = times
	return nil
}

// Stats returns lifetime enqueue/remove counters.
func (m *Manager) Stats() (enqueued, removed uint64) {
	return m.enqueued.Load(), m.removed.Load()
}

func (m *Manager) validateRow(row models.QueueEntry) (*Entry, error) {
	passage, err := m.lookup.Lookup(row.PassageID)
	if err != nil {
		return nil, fmt.Errorf("passage missing: %w", err)
	}
	times, err := passage.EffectiveTimes()
	if err != nil {
		return nil, err
	}
	path := passage.FilePath
	if !filepath.IsAbs(path) && m.rootFolder != "" {
		path = filepath.Join(m.rootFolder, path)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("file unavailable: %w", err)
	}
	return &Entry{
		ID:         row.ID,
		PassageID:  row.PassageID,
		Passage:    passage,
		Times:      times,
		ChainIndex: -1,
		EnqueuedAt: row.EnqueuedAt,
	}, nil
}

func (m *Manager) findLocked(entryID string) *Entry {
	for _, e := range m.entries {
		if e.ID == entryID {
			return e
		}
	}
	return nil
}

func (m *Manager) removeLocked(entry *Entry) {
	m.releaseChainLocked(entry)
	for i, e := range m.entries {
		if e == entry {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			break
		}
	}
	if _, err := m.store.Remove(entry.ID); err != nil {
		m.logger.Error().Err(err).Str("entry", entry.ID).Msg("queue remove persist failed")
	}
	m.persistOrderLocked()
}

func (m *Manager) releaseChainLocked(entry *Entry) {
	if entry.ChainIndex < 0 {
		return
	}
	m.chains[entry.ChainIndex].Release()
	heap.Push(&m.free, entry.ChainIndex)
	entry.ChainIndex = -1
}

// allocateChainsLocked binds free chains to the lowest-order entries that
// lack one. Entries whose decoder cannot open are dropped and reported to
// the caller for cleanup events.
func (m *Manager) allocateChainsLocked() []BindFailure {
	var failures []BindFailure
	window := m.window

	for i := 0; i < len(m.entries) && i < window && m.free.Len() > 0; i++ {
		entry := m.entries[i]
		if entry.ChainIndex >= 0 {
			continue
		}
		index := heap.Pop(&m.free).(int)
		if err := m.chains[index].Bind(entry.ID, entry.Passage, entry.Times); err != nil {
			heap.Push(&m.free, index)
			failures = append(failures, BindFailure{Entry: entry, Err: err})
			// Drop the entry in place and retry the same position.
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			if _, derr := m.store.Remove(entry.ID); derr != nil {
				m.logger.Error().Err(derr).Str("entry", entry.ID).Msg("queue remove persist failed")
			}
			i--
			continue
		}
		entry.ChainIndex = index
	}
	if len(failures) > 0 {
		m.persistOrderLocked()
	}
	return failures
}

func (m *Manager) persistOrderLocked() {
	orders := make(map[string]int, len(m.entries))
	for i, e := range m.entries {
		orders[e.ID] = i
	}
	if err := m.store.Reorder(orders); err != nil {
		m.logger.Error().Err(err).Msg("queue reorder persist failed")
	}
}

func (m *Manager) reportFailures(failures []BindFailure) {
	for _, failure := range failures {
		m.logger.Warn().Err(failure.Err).Str("entry", failure.Entry.ID).Str("passage", failure.Entry.PassageID).Msg("decoder bind failed, entry dropped")
		if m.OnBindFailure != nil {
			m.OnBindFailure(failure)
		}
	}
}

// ErrQueueEmpty is returned by operations that need a current entry.
var ErrQueueEmpty = errors.New("queue is empty")
