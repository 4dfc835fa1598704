/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logbuffer

import "testing"

func TestWriteAndRecent(t *testing.T) {
	b := New(3)
	b.Write([]byte(`{"level":"info","component":"mixer","message":"one"}`))
	b.Write([]byte(`{"level":"warn","message":"two"}`))

	entries := b.Recent(10)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "one" || entries[0].Component != "mixer" {
		t.Fatalf("first entry wrong: %+v", entries[0])
	}
	if entries[1].Level != "warn" {
		t.Fatalf("second entry wrong: %+v", entries[1])
	}
}

func TestRingWraps(t *testing.T) {
	b := New(2)
	b.Write([]byte(`{"message":"a"}`))
	b.Write([]byte(`{"message":"b"}`))
	b.Write([]byte(`{"message":"c"}`))

	entries := b.Recent(10)
	if len(entries) != 2 {
		t.Fatalf("expected capped count, got %d", len(entries))
	}
	if entries[0].Message != "b" || entries[1].Message != "c" {
		t.Fatalf("oldest entry should be evicted: %+v", entries)
	}
}

func TestUnparseableLineKeptRaw(t *testing.T) {
	b := New(4)
	b.Write([]byte("plain text line"))
	entries := b.Recent(1)
	if entries[0].Raw != "plain text line" {
		t.Fatalf("raw line lost: %+v", entries[0])
	}
}
