/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/friendsincode/bragi_player/internal/config"
	"github.com/friendsincode/bragi_player/internal/db"
	"github.com/friendsincode/bragi_player/internal/events"
	"github.com/friendsincode/bragi_player/internal/models"
	"github.com/rs/zerolog"
	wav "github.com/youpy/go-wav"
)

type mapLookup map[string]*models.Passage

func (m mapLookup) Lookup(id string) (*models.Passage, error) {
	p, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("passage %s not found", id)
	}
	return p, nil
}

type testEnv struct {
	engine   *Engine
	bus      *events.Bus
	sub      *events.Subscription
	lookup   mapLookup
	cfg      *config.Config
	dbPath   string
	database *db.QueueStore
	settings *db.SettingsStore
}

func testConfig(dbPath string) *config.Config {
	return &config.Config{
		Environment:              "test",
		DBBackend:                config.DatabaseSQLite,
		DBDSN:                    dbPath,
		MaxDecodeStreams:         3,
		PlayoutRingCapacity:      1 << 15,
		PlayoutRingHeadroom:      512,
		DecoderResumeHysteresis:  1024,
		DecodeChunkFrames:        1000,
		DecodeWorkPeriod:         time.Second,
		PartialDecodeMinPercent:  50,
		MixerMinStartLevel:       4096,
		OutputRingSize:           1 << 13,
		MixerCheckInterval:       time.Millisecond,
		MixerBatchSizeLow:        512,
		MixerBatchSizeOptimal:    256,
		PauseDecayFactor:         31.0 / 32.0,
		PauseDecayFloor:          1.78e-4,
		ResumeFadeMs:             0,
		PlaybackProgressInterval: 5 * time.Second,
		EventBusCapacity:         256,
	}
}

func newTestEnv(t *testing.T, dbPath string) *testEnv {
	t.Helper()
	cfg := testConfig(dbPath)
	database, err := db.Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(database) })
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	bus := events.NewBus(cfg.EventBusCapacity)
	lookup := mapLookup{}
	settings := db.NewSettingsStore(database, zerolog.Nop())
	qstore := db.NewQueueStore(database, zerolog.Nop())

	eng := New(Options{
		Config:      cfg,
		Logger:      zerolog.Nop(),
		Bus:         bus,
		Settings:    settings,
		QueueStore:  qstore,
		Lookup:      lookup,
		WorkingRate: 44100,
	})
	return &testEnv{
		engine: eng, bus: bus, sub: bus.Subscribe(), lookup: lookup,
		cfg: cfg, dbPath: dbPath, database: qstore, settings: settings,
	}
}

func (e *testEnv) addPassage(t *testing.T, id string, frames int, mutate func(*models.Passage)) {
	t.Helper()
	path := filepath.Join(t.TempDir(), id+".wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer file.Close()
	writer := wav.NewWriter(file, uint32(frames), 2, 44100, 16)
	samples := make([]wav.Sample, frames)
	for i := range samples {
		samples[i].Values[0] = 16384 // 0.5 in float
		samples[i].Values[1] = 16384
	}
	if err := writer.WriteSamples(samples); err != nil {
		t.Fatalf("write: %v", err)
	}
	p := &models.Passage{
		ID: id, FilePath: path, StartTick: 0, EndTick: int64(frames),
		FadeInCurve: models.FadeLinear, FadeOutCurve: models.FadeLinear,
	}
	if mutate != nil {
		mutate(p)
	}
	e.lookup[id] = p
}

// waitEvent blocks until an event of the wanted type arrives or times out.
func (e *testEnv) waitEvent(t *testing.T, want events.Type, timeout time.Duration) events.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-e.sub.C:
			if msg.Event.EventType() == want {
				return msg.Event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func (e *testEnv) countEvents(want events.Type) int {
	count := 0
	for {
		select {
		case msg := <-e.sub.C:
			if msg.Event.EventType() == want {
				count++
			}
		default:
			return count
		}
	}
}

// drainOutput consumes the output ring buffer like an audio callback
// would, accumulating samples.
func (e *testEnv) drainOutput(ctx context.Context, into chan<- []float32) {
	buf := make([]float32, 1024)
	for {
		select {
		case <-ctx.Done():
			close(into)
			return
		default:
		}
		n := e.engine.Mixer().OutputBuffer().Read(buf)
		if n == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		chunk := make([]float32, n*2)
		copy(chunk, buf[:n*2])
		into <- chunk
	}
}

// Scenario: single passage, natural completion.
func TestSinglePassageNaturalCompletion(t *testing.T) {
	env := newTestEnv(t, filepath.Join(t.TempDir(), "a.db"))
	env.addPassage(t, "p1", 5000, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.engine.Start(ctx)
	sink := make(chan []float32, 1024)
	go env.drainOutput(ctx, sink)
	go func() {
		for range sink {
		}
	}()

	entryID, err := env.engine.Enqueue("p1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if res := env.engine.Do(Command{Op: OpPlay}); res.Err != nil {
		t.Fatalf("play: %v", res.Err)
	}

	started := env.waitEvent(t, events.TypePassageStarted, 2*time.Second).(events.PassageStarted)
	if started.QueueEntryID != entryID {
		t.Fatalf("wrong entry started: %s", started.QueueEntryID)
	}

	completed := env.waitEvent(t, events.TypePassageCompleted, 5*time.Second).(events.PassageCompleted)
	if !completed.Completed {
		t.Fatal("natural completion must report completed=true")
	}
	wantMs := int64(5000) * 1000 / 44100
	if completed.DurationPlayedMs < wantMs-5 || completed.DurationPlayedMs > wantMs+5 {
		t.Fatalf("duration %dms, want ~%dms", completed.DurationPlayedMs, wantMs)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.engine.Queue().Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("queue not empty after completion")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Scenario: crossfade overlap between two passages.
func TestCrossfadeOverlap(t *testing.T) {
	env := newTestEnv(t, filepath.Join(t.TempDir(), "b.db"))
	leadOut := int64(4000)
	env.addPassage(t, "a", 5000, func(p *models.Passage) {
		p.LeadOutStartTick = &leadOut // 1000-frame lead-out
	})
	leadIn := int64(2000)
	env.addPassage(t, "b", 5000, func(p *models.Passage) {
		p.LeadInEndTick = &leadIn // 2000-frame lead-in
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.engine.Start(ctx)

	var all []float32
	sink := make(chan []float32, 4096)
	go env.drainOutput(ctx, sink)
	done := make(chan struct{})
	go func() {
		for chunk := range sink {
			all = append(all, chunk...)
		}
		close(done)
	}()

	env.engine.Enqueue("a")
	env.engine.Enqueue("b")
	env.engine.Do(Command{Op: OpPlay})

	// Two completions: a then b.
	env.waitEvent(t, events.TypePassageCompleted, 5*time.Second)
	env.waitEvent(t, events.TypePassageCompleted, 10*time.Second)
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	// Overlap = min(1000, 2000) = 1000 frames, so audible output is
	// 5000 + 5000 - 1000 = 9000 frames; the overlap region sums to 1.0.
	audible := 0
	summed := 0
	for i := 0; i+1 < len(all); i += 2 {
		switch {
		case all[i] > 0.9:
			summed++
			audible++
		case all[i] > 0:
			audible++
		}
	}
	if audible != 9000 {
		t.Fatalf("audible frames %d, want 9000", audible)
	}
	if summed != 1000 {
		t.Fatalf("summed overlap frames %d, want 1000", summed)
	}
}

// Scenario: decode error mid-queue; playback continues with the survivor.
func TestDecodeErrorMidQueue(t *testing.T) {
	env := newTestEnv(t, filepath.Join(t.TempDir(), "d.db"))
	env.addPassage(t, "a", 3000, nil)
	env.lookup["broken"] = &models.Passage{
		ID: "broken", FilePath: "/nonexistent/broken.wav", StartTick: 0, EndTick: 1000,
	}
	env.addPassage(t, "c", 3000, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.engine.Start(ctx)
	sink := make(chan []float32, 4096)
	go env.drainOutput(ctx, sink)
	go func() {
		for range sink {
		}
	}()

	env.engine.Enqueue("a")
	env.engine.Enqueue("broken")
	env.engine.Enqueue("c")
	env.engine.Do(Command{Op: OpPlay})

	failed := env.waitEvent(t, events.TypePassageDecodeFailed, 5*time.Second).(events.PassageDecodeFailed)
	if failed.PassageID != "broken" {
		t.Fatalf("wrong passage failed: %s", failed.PassageID)
	}

	// Both valid passages complete and the queue empties.
	env.waitEvent(t, events.TypePassageCompleted, 5*time.Second)
	env.waitEvent(t, events.TypePassageCompleted, 10*time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for env.engine.Queue().Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("queue should be empty, has %d", env.engine.Queue().Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Scenario: duplicate PassageComplete triggers collapse to one event.
func TestDuplicateCompletionSuppressed(t *testing.T) {
	env := newTestEnv(t, filepath.Join(t.TempDir(), "e.db"))
	env.addPassage(t, "p1", 1000, nil)

	entryID, err := env.engine.Queue().Enqueue("p1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	env.countEvents(events.TypePassageCompleted) // drain

	// Marker and decoder EOF both report completion.
	env.engine.handlePassageComplete(entryID, 1000)
	env.engine.handlePassageComplete(entryID, 1000)

	if got := env.countEvents(events.TypePassageCompleted); got != 1 {
		t.Fatalf("expected exactly 1 PassageCompleted, got %d", got)
	}
}

// Scenario: restart recovery restores the queue in order.
func TestRestartRecovery(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "f.db")
	env := newTestEnv(t, dbPath)
	env.addPassage(t, "p1", 1000, nil)
	env.addPassage(t, "p2", 1000, nil)
	env.addPassage(t, "p3", 1000, nil)

	for _, id := range []string{"p1", "p2", "p3"} {
		if _, err := env.engine.Queue().Enqueue(id); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	// Second engine over the same database.
	env2 := newTestEnv(t, dbPath)
	for id, p := range env.lookup {
		env2.lookup[id] = p
	}
	env2.engine.restoreState()

	restore := env2.waitEvent(t, events.TypeQueueChanged, time.Second).(events.QueueChanged)
	if restore.Trigger != events.TriggerStartupRestore {
		t.Fatalf("trigger %s", restore.Trigger)
	}

	entries := env2.engine.Queue().Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 restored entries, got %d", len(entries))
	}
	for i, want := range []string{"p1", "p2", "p3"} {
		if entries[i].PassageID != want {
			t.Fatalf("position %d: got %s want %s", i, entries[i].PassageID, want)
		}
		if entries[i].ChainIndex != i {
			t.Fatalf("position %d: chain %d", i, entries[i].ChainIndex)
		}
	}
}

func TestSkipEmitsIncompleteCompletion(t *testing.T) {
	env := newTestEnv(t, filepath.Join(t.TempDir(), "s.db"))
	env.addPassage(t, "a", 50000, nil)
	env.addPassage(t, "b", 50000, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.engine.Start(ctx)
	sink := make(chan []float32, 4096)
	go env.drainOutput(ctx, sink)
	go func() {
		for range sink {
		}
	}()

	env.engine.Enqueue("a")
	env.engine.Enqueue("b")
	env.engine.Do(Command{Op: OpPlay})
	env.waitEvent(t, events.TypePassageStarted, 2*time.Second)

	res := env.engine.Do(Command{Op: OpSkip})
	if res.Err != nil {
		t.Fatalf("skip: %v", res.Err)
	}

	completed := env.waitEvent(t, events.TypePassageCompleted, 2*time.Second).(events.PassageCompleted)
	if completed.Completed {
		t.Fatal("skip must report completed=false")
	}
	if completed.QueueEntryID != res.QueueEntryID {
		t.Fatalf("wrong entry completed: %s", completed.QueueEntryID)
	}

	if cur := env.engine.Queue().Current(); cur == nil || cur.PassageID != "b" {
		t.Fatal("b should be current after skip")
	}
}

// Round-trip law: SetVolume(v) then read(volume) == v.
func TestVolumeRoundTrip(t *testing.T) {
	env := newTestEnv(t, filepath.Join(t.TempDir(), "v.db"))
	for _, v := range []float64{0, 0.25, 0.5, 1} {
		if res := env.engine.cmdSetVolume(v); res.Err != nil {
			t.Fatalf("set volume: %v", res.Err)
		}
		if got := env.engine.Mixer().Volume(); got != v {
			t.Fatalf("volume %v, got %v", v, got)
		}
	}
	if res := env.engine.cmdSetVolume(1.5); res.Err == nil {
		t.Fatal("out-of-range volume must fail")
	}
	// Persisted for the next startup.
	if got := env.settings.GetFloat(db.SettingMasterVolume, -1); got != 1 {
		t.Fatalf("volume not persisted, got %v", got)
	}
}

func TestPausePreservesState(t *testing.T) {
	env := newTestEnv(t, filepath.Join(t.TempDir(), "pp.db"))
	env.addPassage(t, "a", 100000, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.engine.Start(ctx)
	sink := make(chan []float32, 4096)
	go env.drainOutput(ctx, sink)
	go func() {
		for range sink {
		}
	}()

	env.engine.Enqueue("a")
	env.engine.Do(Command{Op: OpPlay})
	env.waitEvent(t, events.TypePassageStarted, 2*time.Second)
	// The first Play reports ready -> playing; consume it before pausing.
	stateChange := env.waitEvent(t, events.TypePlaybackStateChanged, time.Second).(events.PlaybackStateChanged)
	if stateChange.New != events.StatePlaying {
		t.Fatalf("expected playing before pause, got %s", stateChange.New)
	}

	env.engine.Do(Command{Op: OpPause})
	stateChange = env.waitEvent(t, events.TypePlaybackStateChanged, time.Second).(events.PlaybackStateChanged)
	if stateChange.New != events.StatePaused {
		t.Fatalf("expected paused, got %s", stateChange.New)
	}
	if env.engine.Queue().Len() != 1 {
		t.Fatal("pause must not touch the queue")
	}

	env.engine.Do(Command{Op: OpPlay})
	stateChange = env.waitEvent(t, events.TypePlaybackStateChanged, time.Second).(events.PlaybackStateChanged)
	if stateChange.New != events.StatePlaying {
		t.Fatalf("expected playing, got %s", stateChange.New)
	}
}
