package keyboard

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Handle is one opener of the device. Any number of handles may be open;
// each one receives every press at most once.
type Handle struct {
	dev    *Device
	ctx    context.Context
	cancel context.CancelFunc
	last   atomic.Uint64
}

// Open returns a new handle on d.
func (d *Device) Open() *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handle{dev: d, ctx: ctx, cancel: cancel}
}

// Read blocks until a key is pressed and writes its ASCII digit to p[0].
// A blocked Read returns ErrCancelled once the handle is closed.
func (h *Handle) Read(p []byte) (int, error) {
	return h.ReadContext(context.Background(), p)
}

// ReadContext is Read with an additional cancellation context.
func (h *Handle) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, fmt.Errorf("%w: zero-length buffer", ErrInvalidArgument)
	}
	if h.ctx.Err() != nil {
		return 0, fmt.Errorf("%w: handle closed", ErrInvalidState)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	k, seq, err := h.dev.read(ctx, h.last.Load())
	if err != nil {
		return 0, err
	}
	h.last.Store(seq)
	p[0] = k.ASCII()
	return 1, nil
}

// Control forwards cmd to the device.
func (h *Handle) Control(cmd Command, pins *PinConfiguration) error {
	return h.dev.Control(cmd, pins)
}

// Close cancels reads blocked on this handle. The device is unaffected.
func (h *Handle) Close() error {
	h.cancel()
	return nil
}
