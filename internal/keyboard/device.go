package keyboard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cjeanneret/simplekbd/internal/debug"
	"github.com/cjeanneret/simplekbd/internal/hw/gpio"
)

// State is the configuration state of a Device.
type State int32

const (
	StateUnconfigured State = iota
	StateConfiguring
	StateConfigured
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfiguring:
		return "configuring"
	case StateConfigured:
		return "configured"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Device is one keyboard instance. Control transitions are serialized;
// reads and event sources only touch the atomic state and the pending cell.
type Device struct {
	drv  gpio.Driver
	regs Registers

	state   atomic.Int32
	pending *pendingKey

	mu      sync.Mutex // guards everything below
	pins    PinConfiguration
	mode    Mode
	res     *resources
	onState func(from, to State)
}

// NewDevice creates an unconfigured device using the default pin wiring.
func NewDevice(drv gpio.Driver, regs Registers) *Device {
	return &Device{
		drv:     drv,
		regs:    regs,
		pending: newPendingKey(),
		pins:    DefaultPins(),
	}
}

// OnStateChange registers fn to be called after every state transition.
// fn runs with the device lock held and must not call back into the device.
func (d *Device) OnStateChange(fn func(from, to State)) {
	d.mu.Lock()
	d.onState = fn
	d.mu.Unlock()
}

// State returns the current configuration state.
func (d *Device) State() State { return State(d.state.Load()) }

func (d *Device) setState(to State) {
	from := State(d.state.Swap(int32(to)))
	if from != to {
		d.notify(from, to)
	}
}

func (d *Device) notify(from, to State) {
	debug.State(from.String(), to.String())
	if d.onState != nil {
		d.onState(from, to)
	}
}

// Configure acquires the hardware for mode and moves the device to
// Configured. It is only legal while Unconfigured; on failure nothing stays
// claimed and the device is Unconfigured again.
func (d *Device) Configure(mode Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.configure(mode)
}

func (d *Device) configure(mode Mode) error {
	if mode != ModeMultiLine && mode != ModeSingleLine {
		return fmt.Errorf("%w: %s", ErrInvalidArgument, mode)
	}
	if mode == ModeSingleLine && d.pins.PollIRQ == 0 {
		return fmt.Errorf("%w: %s needs a poll_irq pin", ErrInvalidArgument, mode)
	}
	if !d.state.CompareAndSwap(int32(StateUnconfigured), int32(StateConfiguring)) {
		return fmt.Errorf("%w: configure while %s", ErrInvalidState, d.State())
	}
	d.notify(StateUnconfigured, StateConfiguring)
	d.pending.clear()

	res, err := acquire(d.drv, d.regs, d.pins, mode, d.newSource)
	if err != nil {
		debug.Error(err)
		d.setState(StateUnconfigured)
		return err
	}
	d.res = res
	d.mode = mode
	d.setState(StateConfigured)
	debug.Info("Keyboard configured (%s)", mode)
	return nil
}

// Reset releases the hardware and returns to Unconfigured. It is rejected
// while any reader is waiting.
func (d *Device) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reset()
}

func (d *Device) reset() error {
	if !d.state.CompareAndSwap(int32(StateConfigured), int32(StateConfiguring)) {
		return fmt.Errorf("%w: reset while %s", ErrInvalidState, d.State())
	}
	// Readers register before checking the state, so any reader not
	// counted here will see Configuring and back out.
	if n := d.pending.waiters(); n > 0 {
		d.state.Store(int32(StateConfigured))
		return fmt.Errorf("%w: reset with %d reader(s) waiting", ErrInvalidState, n)
	}
	d.notify(StateConfigured, StateConfiguring)
	err := d.teardown()
	d.setState(StateUnconfigured)
	if err != nil {
		return fmt.Errorf("%w: release: %w", ErrResourceUnavailable, err)
	}
	return nil
}

// abandon tears a configured device down whatever readers are waiting.
// Blocked readers stay blocked until cancelled or a later press.
func (d *Device) abandon() error {
	from := d.State()
	if from != StateConfigured {
		return nil
	}
	d.setState(StateConfiguring)
	debug.Info("Abandoning configuration with %d reader(s) waiting", d.pending.waiters())
	err := d.teardown()
	d.setState(StateUnconfigured)
	return err
}

func (d *Device) teardown() error {
	var err error
	if d.res != nil {
		err = d.res.release()
		d.res = nil
	}
	d.mode = 0
	d.pending.clear()
	return err
}

// SetPinConfiguration replaces the pin wiring. Only legal while
// Unconfigured.
func (d *Device) SetPinConfiguration(pins PinConfiguration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setPins(pins)
}

func (d *Device) setPins(pins PinConfiguration) error {
	if s := d.State(); s != StateUnconfigured {
		return fmt.Errorf("%w: pinmux while %s", ErrInvalidState, s)
	}
	if err := pins.Validate(); err != nil {
		return err
	}
	d.pins = pins
	debug.PrintStruct("Pins", pins)
	return nil
}

// PinConfiguration returns the active pin wiring.
func (d *Device) PinConfiguration() PinConfiguration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pins
}

// Control dispatches a control command. pins is only used by
// CmdConfigPinmux. An unrecognized command received while Configured
// releases the hardware before ErrUnsupported is returned.
func (d *Device) Control(cmd Command, pins *PinConfiguration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	debug.Verbose("Control %s", cmd)
	switch cmd {
	case CmdReset:
		return d.reset()
	case CmdConfigMultiLine:
		return d.configure(ModeMultiLine)
	case CmdConfigSingleLine:
		return d.configure(ModeSingleLine)
	case CmdConfigPinmux:
		if pins == nil {
			return fmt.Errorf("%w: pinmux without pin configuration", ErrInvalidArgument)
		}
		return d.setPins(*pins)
	default:
		if err := d.abandon(); err != nil {
			debug.Error(err)
		}
		return fmt.Errorf("%w: command %d", ErrUnsupported, uint(cmd))
	}
}

// ReadKey blocks until a key is pending and consumes it.
func (d *Device) ReadKey(ctx context.Context) (KeyCode, error) {
	k, _, err := d.read(ctx, 0)
	return k, err
}

// read waits for a press whose sequence differs from after.
func (d *Device) read(ctx context.Context, after uint64) (KeyCode, uint64, error) {
	d.pending.enter()
	if s := d.State(); s != StateConfigured {
		d.pending.withdraw()
		return KeyUndefined, after, fmt.Errorf("%w: read while %s", ErrInvalidState, s)
	}
	k, seq, err := d.pending.await(ctx, after)
	if err != nil {
		return KeyUndefined, after, err
	}
	debug.Key(k.String(), d.pending.waiters())
	return k, seq, nil
}

// Peek returns the pending key without waiting or consuming it.
func (d *Device) Peek() KeyCode { return d.pending.peek() }

// Waiting returns the number of readers currently waiting.
func (d *Device) Waiting() int { return d.pending.waiters() }

// Status is a snapshot of the device for diagnostics.
type Status struct {
	State   string           `json:"state"`
	Mode    string           `json:"mode,omitempty"`
	Waiting int              `json:"waiting"`
	Pending string           `json:"pending"`
	Pins    PinConfiguration `json:"pins"`
	IRQs    []IRQBinding     `json:"irqs"`
}

// Status returns a snapshot of the device.
func (d *Device) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Status{
		State:   d.State().String(),
		Waiting: d.pending.waiters(),
		Pending: d.pending.peek().String(),
		Pins:    d.pins,
		IRQs:    []IRQBinding{},
	}
	if d.res != nil {
		st.Mode = d.mode.String()
		st.IRQs = d.res.bindings()
	}
	return st
}

// Presser is implemented by backends that can fake a rising edge.
type Presser interface {
	SetInput(line int, level gpio.Level) error
	Press(line int) (bool, error)
}

// Simulate raises a press of k on a configured device. The driver must
// implement Presser.
func (d *Device) Simulate(k KeyCode) error {
	p, ok := d.drv.(Presser)
	if !ok {
		return fmt.Errorf("%w: %T cannot simulate presses", ErrUnsupported, d.drv)
	}
	if k == KeyUndefined || k > KeyLeft {
		return fmt.Errorf("%w: key %s", ErrInvalidArgument, k)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.res == nil {
		return fmt.Errorf("%w: simulate while %s", ErrInvalidState, d.State())
	}
	line := d.res.lines[PinRole(k)]

	if d.mode == ModeSingleLine {
		if err := p.SetInput(line, gpio.High); err != nil {
			return err
		}
		line = d.res.lines[RolePollIRQ]
	}
	fired, err := p.Press(line)
	if err != nil {
		return err
	}
	if !fired {
		debug.Trace("Simulate %s: line %d already high", k, line)
	}
	return nil
}

// Close releases any acquired hardware regardless of waiting readers.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.abandon()
}
