package keyboard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// pendingKey is the single slot shared by event sources and readers.
//
// The slot packs the key code (low 8 bits) with a press sequence number so
// that a reader can tell a fresh press from one it already consumed, and so
// the last reader only clears the exact press it read.
//
// Readers register in waiting before they look at the slot. The key stays
// set until the reader whose decrement brings waiting to zero clears it.
type pendingKey struct {
	slot    atomic.Uint64
	waiting atomic.Int32

	mu   sync.Mutex
	wake chan struct{}
}

func newPendingKey() *pendingKey {
	return &pendingKey{wake: make(chan struct{})}
}

func slotKey(v uint64) KeyCode { return KeyCode(v & 0xff) }
func slotSeq(v uint64) uint64  { return v >> 8 }

// set stores k as the pending key under a new sequence number. Two sources
// racing here resolve as last write wins.
func (p *pendingKey) set(k KeyCode) {
	for {
		old := p.slot.Load()
		next := (slotSeq(old)+1)<<8 | uint64(k)
		if p.slot.CompareAndSwap(old, next) {
			return
		}
	}
}

// broadcast wakes every blocked reader. It must follow set.
func (p *pendingKey) broadcast() {
	p.mu.Lock()
	close(p.wake)
	p.wake = make(chan struct{})
	p.mu.Unlock()
}

func (p *pendingKey) signal() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wake
}

// peek returns the pending key without consuming it.
func (p *pendingKey) peek() KeyCode { return slotKey(p.slot.Load()) }

func (p *pendingKey) waiters() int { return int(p.waiting.Load()) }

// clear drops the pending key, keeping the sequence number.
func (p *pendingKey) clear() {
	for {
		old := p.slot.Load()
		if slotKey(old) == KeyUndefined || p.slot.CompareAndSwap(old, slotSeq(old)<<8) {
			return
		}
	}
}

func (p *pendingKey) enter() { p.waiting.Add(1) }

// withdraw undoes enter for a reader that never waited.
func (p *pendingKey) withdraw() { p.waiting.Add(-1) }

// leave decrements waiting; the reader that brings it to zero clears the
// press it observed (or, when it observed none, whatever is pending).
// A newer press stored in the meantime is left alone.
func (p *pendingKey) leave(seen uint64) {
	if p.waiting.Add(-1) != 0 {
		return
	}
	if slotKey(seen) == KeyUndefined {
		seen = p.slot.Load()
		if slotKey(seen) == KeyUndefined {
			return
		}
	}
	p.slot.CompareAndSwap(seen, slotSeq(seen)<<8)
}

// await blocks until a press newer than after is pending, then consumes
// it. The caller must have called enter. On cancellation the reader still
// leaves, exactly as after a normal wake.
func (p *pendingKey) await(ctx context.Context, after uint64) (KeyCode, uint64, error) {
	for {
		// Grab the wake channel before testing the slot so a broadcast
		// between the test and the select is not lost.
		ch := p.signal()
		v := p.slot.Load()
		if k := slotKey(v); k != KeyUndefined && slotSeq(v) != after {
			p.leave(v)
			return k, slotSeq(v), nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			p.leave(0)
			return KeyUndefined, 0, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
	}
}
