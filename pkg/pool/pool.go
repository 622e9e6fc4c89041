// Object pools for reducing GC pressure in hot paths
//
// Step generation allocates the same buffer shapes over and over: step
// clock slices while compressing, and byte buffers while encoding
// command payloads. Pooling them keeps per-move allocation flat.
//
// Usage:
//
//	buf := pool.GetByteBuffer()
//	defer pool.PutByteBuffer(buf)
//	// use buf...
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pool

import (
	"sync"
)

// Clock slice pool - for step clock batches during compression
var clockSlicePool = sync.Pool{
	New: func() any {
		s := make([]uint64, 0, 256) // Common flush batch size
		return &s
	},
}

// GetClockSlice gets an empty step clock slice from the pool
func GetClockSlice() *[]uint64 {
	s := clockSlicePool.Get().(*[]uint64)
	*s = (*s)[:0]
	return s
}

// PutClockSlice returns a step clock slice to the pool
func PutClockSlice(s *[]uint64) {
	if s == nil {
		return
	}
	// Don't pool oversized buffers (> 64K entries)
	if cap(*s) > 65536 {
		return
	}
	clockSlicePool.Put(s)
}

// ByteBuffer pool - for command encoding buffers
type ByteBuffer struct {
	buf []byte
}

var byteBufferPool = sync.Pool{
	New: func() any {
		return &ByteBuffer{
			buf: make([]byte, 0, 64), // Common message size
		}
	},
}

// GetByteBuffer gets a byte buffer from the pool
func GetByteBuffer() *ByteBuffer {
	b := byteBufferPool.Get().(*ByteBuffer)
	b.buf = b.buf[:0] // Reset length but keep capacity
	return b
}

// PutByteBuffer returns a byte buffer to the pool
func PutByteBuffer(b *ByteBuffer) {
	if b == nil {
		return
	}
	// Don't pool oversized buffers (> 4KB)
	if cap(b.buf) > 4096 {
		return
	}
	byteBufferPool.Put(b)
}

// Bytes returns the buffer's byte slice
func (b *ByteBuffer) Bytes() []byte {
	return b.buf
}

// Write appends bytes to the buffer
func (b *ByteBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// WriteByte appends a single byte
func (b *ByteBuffer) WriteByte(c byte) error {
	b.buf = append(b.buf, c)
	return nil
}

// Append exposes the underlying slice for append-style encoders
func (b *ByteBuffer) Append(p []byte) {
	b.buf = append(b.buf, p...)
}

// SetBytes replaces the buffer contents (used by encoders that build the
// slice externally)
func (b *ByteBuffer) SetBytes(p []byte) {
	b.buf = p
}
