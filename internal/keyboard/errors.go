package keyboard

import "errors"

var (
	// ErrInvalidArgument: zero-length read buffer, malformed payload.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidState: operation illegal in the current device state.
	ErrInvalidState = errors.New("invalid device state")
	// ErrResourceUnavailable: pinmux, GPIO line or IRQ could not be acquired.
	ErrResourceUnavailable = errors.New("resource unavailable")
	// ErrCancelled: a blocked read was interrupted.
	ErrCancelled = errors.New("read cancelled")
	// ErrUnsupported: unrecognized control command.
	ErrUnsupported = errors.New("unsupported operation")
)
