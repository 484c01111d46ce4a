package keyboard

import (
	"context"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestPendingKeyLastReaderClears(t *testing.T) {
	p := newPendingKey()
	p.enter()
	p.enter()
	p.set(KeyRight)
	p.broadcast()

	k, seqA, err := p.await(context.Background(), 0)
	assert.NilError(t, err)
	assert.Equal(t, k, KeyRight)
	assert.Equal(t, p.peek(), KeyRight, "one reader still owes a read")

	// Reader A comes back for more; it must not see the same press.
	p.enter()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err = p.await(ctx, seqA)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, p.peek(), KeyRight)

	k, seqB, err := p.await(context.Background(), 0)
	assert.NilError(t, err)
	assert.Equal(t, k, KeyRight)
	assert.Equal(t, seqB, seqA)
	assert.Equal(t, p.waiters(), 0)
	assert.Equal(t, p.peek(), KeyUndefined)
}

func TestPendingKeyLeaveKeepsNewerPress(t *testing.T) {
	p := newPendingKey()
	p.enter()
	p.set(KeyRight)
	seen := p.slot.Load()
	p.set(KeyLeft)

	p.leave(seen)
	assert.Equal(t, p.waiters(), 0)
	assert.Equal(t, p.peek(), KeyLeft)
}

func TestPendingKeyWakesBlockedReader(t *testing.T) {
	p := newPendingKey()
	p.enter()
	got := make(chan KeyCode, 1)
	go func() {
		k, _, _ := p.await(context.Background(), 0)
		got <- k
	}()

	p.set(KeyStart)
	p.broadcast()
	assert.Equal(t, <-got, KeyStart)
	assert.Equal(t, p.peek(), KeyUndefined)
}

func TestPendingKeyClear(t *testing.T) {
	p := newPendingKey()
	p.set(KeyUp)
	seq := slotSeq(p.slot.Load())
	p.clear()
	assert.Equal(t, p.peek(), KeyUndefined)
	assert.Equal(t, slotSeq(p.slot.Load()), seq)

	p.set(KeyDown)
	assert.Equal(t, slotSeq(p.slot.Load()), seq+1)
}
