// Package bridge hands streamed upstream chunks to the caller-facing writer.
package bridge

import "sync"

// SentinelChunk terminates a stream whose upstream failed.
const SentinelChunk = "Error streaming response"

// DefaultCapacity bounds how far the producer may run ahead of the caller.
const DefaultCapacity = 32

// Bridge is a bounded single-producer single-consumer chunk queue. The
// producer owns Send, Fail and Close; the consumer owns Chunks and Abandon.
type Bridge struct {
	ch          chan []byte
	abandoned   chan struct{}
	closeOnce   sync.Once
	abandonOnce sync.Once
}

// New creates a Bridge. A non-positive capacity uses DefaultCapacity.
func New(capacity int) *Bridge {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bridge{
		ch:        make(chan []byte, capacity),
		abandoned: make(chan struct{}),
	}
}

// Send queues chunk, blocking while the queue is full. It returns false
// without queueing once the consumer has abandoned the stream.
func (b *Bridge) Send(chunk []byte) bool {
	select {
	case <-b.abandoned:
		return false
	default:
	}
	select {
	case b.ch <- chunk:
		return true
	case <-b.abandoned:
		return false
	}
}

// Fail queues the sentinel chunk and closes the bridge.
func (b *Bridge) Fail() {
	b.Send([]byte(SentinelChunk))
	b.Close()
}

// Close ends the stream. Queued chunks remain readable.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() { close(b.ch) })
}

// Chunks is drained by the consumer until closed.
func (b *Bridge) Chunks() <-chan []byte { return b.ch }

// Abandon tells the producer nobody is reading anymore.
func (b *Bridge) Abandon() {
	b.abandonOnce.Do(func() { close(b.abandoned) })
}

// Abandoned is closed after Abandon.
func (b *Bridge) Abandoned() <-chan struct{} { return b.abandoned }
