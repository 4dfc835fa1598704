/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ringbuf implements a lock-free single-producer single-consumer
// ring buffer of interleaved stereo float32 frames.
//
// Thread safety:
//   - Write/CloseWrite must only be called by the producer goroutine
//   - Read/ReadFrame must only be called by the consumer goroutine
//
// Capacity is rounded up to the next power of 2 so position wrapping is a
// bitwise AND.
package ringbuf

import "sync/atomic"

const channels = 2

// RingBuffer buffers pre-faded stereo frames between one decoder chain
// (producer) and the mixer (consumer).
type RingBuffer struct {
	buffer   []float32 // interleaved L/R, len = size*channels
	size     uint64    // frames, power of 2
	mask     uint64
	writePos atomic.Uint64 // frames ever written
	readPos  atomic.Uint64 // frames ever read

	writeClosed  atomic.Bool
	totalWritten atomic.Uint64 // valid once writeClosed is set
}

// New creates a ring buffer holding at least capacity frames.
func New(capacity int) *RingBuffer {
	if capacity < 2 {
		capacity = 2
	}
	size := nextPowerOf2(uint64(capacity))
	return &RingBuffer{
		buffer: make([]float32, size*channels),
		size:   size,
		mask:   size - 1,
	}
}

// Capacity returns the frame capacity.
func (rb *RingBuffer) Capacity() int { return int(rb.size) }

// Len returns the number of buffered frames.
func (rb *RingBuffer) Len() int {
	return int(rb.writePos.Load() - rb.readPos.Load())
}

// Free returns the number of writable frames.
func (rb *RingBuffer) Free() int {
	return int(rb.size) - rb.Len()
}

// Write appends interleaved stereo samples and returns the number of
// frames placed. Partial writes occur when the buffer is near full; the
// caller keeps the remainder. Producer side only.
func (rb *RingBuffer) Write(samples []float32) int {
	frames := uint64(len(samples) / channels)
	if frames == 0 {
		return 0
	}
	writePos := rb.writePos.Load()
	free := rb.size - (writePos - rb.readPos.Load())
	if frames > free {
		frames = free
	}
	if frames == 0 {
		return 0
	}

	for i := uint64(0); i < frames; i++ {
		pos := ((writePos + i) & rb.mask) * channels
		rb.buffer[pos] = samples[i*channels]
		rb.buffer[pos+1] = samples[i*channels+1]
	}
	rb.writePos.Store(writePos + frames)
	return int(frames)
}

// Read fills dst with interleaved stereo samples and returns the number of
// frames copied. Consumer side only.
func (rb *RingBuffer) Read(dst []float32) int {
	want := uint64(len(dst) / channels)
	if want == 0 {
		return 0
	}
	readPos := rb.readPos.Load()
	available := rb.writePos.Load() - readPos
	if want > available {
		want = available
	}
	if want == 0 {
		return 0
	}

	for i := uint64(0); i < want; i++ {
		pos := ((readPos + i) & rb.mask) * channels
		dst[i*channels] = rb.buffer[pos]
		dst[i*channels+1] = rb.buffer[pos+1]
	}
	rb.readPos.Store(readPos + want)
	return int(want)
}

// ReadFrame pops a single stereo frame. Consumer side only.
func (rb *RingBuffer) ReadFrame() (left, right float32, ok bool) {
	readPos := rb.readPos.Load()
	if rb.writePos.Load() == readPos {
		return 0, 0, false
	}
	pos := (readPos & rb.mask) * channels
	left = rb.buffer[pos]
	right = rb.buffer[pos+1]
	rb.readPos.Store(readPos + 1)
	return left, right, true
}

// CloseWrite marks the stream complete. After this the producer writes no
// more frames and the consumer can detect exhaustion.
func (rb *RingBuffer) CloseWrite() {
	rb.totalWritten.Store(rb.writePos.Load())
	rb.writeClosed.Store(true)
}

// WriteClosed reports whether the producer finished.
func (rb *RingBuffer) WriteClosed() bool { return rb.writeClosed.Load() }

// TotalWritten returns the final frame count. Only meaningful after
// CloseWrite.
func (rb *RingBuffer) TotalWritten() uint64 { return rb.totalWritten.Load() }

// Exhausted reports end-of-stream: the producer closed and every frame has
// been consumed.
func (rb *RingBuffer) Exhausted() bool {
	return rb.writeClosed.Load() && rb.Len() == 0
}

// Reset discards all content and reopens the buffer. Only safe when both
// endpoints are quiescent (chain release / seek).
func (rb *RingBuffer) Reset() {
	rb.readPos.Store(0)
	rb.writePos.Store(0)
	rb.totalWritten.Store(0)
	rb.writeClosed.Store(false)
}

func nextPowerOf2(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}
