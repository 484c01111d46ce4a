package keyboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"

	"github.com/cjeanneret/simplekbd/internal/hw/gpio"
	"github.com/cjeanneret/simplekbd/internal/hw/pinmux"
)

// faultyDriver wraps a MockDriver and fails the n-th claim (line request,
// edge binding or register write), counting from 1. n == 0 never fails.
type faultyDriver struct {
	*gpio.MockDriver
	mu     sync.Mutex
	failAt int
	ops    int
}

var errInjected = errors.New("injected failure")

func (f *faultyDriver) step() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops++
	if f.failAt != 0 && f.ops == f.failAt {
		return errInjected
	}
	return nil
}

func (f *faultyDriver) WriteRegister(addr, value uint32) error {
	if err := f.step(); err != nil {
		return err
	}
	return f.MockDriver.WriteRegister(addr, value)
}

func (f *faultyDriver) RequestOutput(line int, initial gpio.Level) error {
	if err := f.step(); err != nil {
		return err
	}
	return f.MockDriver.RequestOutput(line, initial)
}

func (f *faultyDriver) RequestInput(line int) error {
	if err := f.step(); err != nil {
		return err
	}
	return f.MockDriver.RequestInput(line)
}

func (f *faultyDriver) BindRisingEdge(line int, h gpio.EdgeHandler) (gpio.IRQ, error) {
	if err := f.step(); err != nil {
		return 0, err
	}
	return f.MockDriver.BindRisingEdge(line, h)
}

func newTestDevice(t *testing.T) (*Device, *gpio.MockDriver) {
	t.Helper()
	m := gpio.NewMockDriver()
	d := NewDevice(m, m)
	t.Cleanup(func() { _ = d.Close() })
	return d, m
}

func lineOf(t *testing.T, pin pinmux.PinID) int {
	t.Helper()
	addr, line := pinmux.Translate(pin)
	assert.Assert(t, addr != 0, "pin %s", pin)
	return int(line)
}

func waitForReaders(t *testing.T, d *Device, n int) {
	t.Helper()
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if got := d.Waiting(); got != n {
			return poll.Continue("%d reader(s) waiting, want %d", got, n)
		}
		return poll.Success()
	}, poll.WithTimeout(2*time.Second), poll.WithDelay(time.Millisecond))
}

func TestAcquisitionRollsBackAtEveryStep(t *testing.T) {
	for _, mode := range []Mode{ModeMultiLine, ModeSingleLine} {
		t.Run(mode.String(), func(t *testing.T) {
			// Count the claims of a clean acquisition first.
			clean := &faultyDriver{MockDriver: gpio.NewMockDriver()}
			d := NewDevice(clean, clean)
			assert.NilError(t, d.Configure(mode))
			total := clean.ops
			assert.NilError(t, d.Reset())

			for k := 1; k <= total; k++ {
				t.Run(fmt.Sprintf("fail_at_%d", k), func(t *testing.T) {
					f := &faultyDriver{MockDriver: gpio.NewMockDriver(), failAt: k}
					d := NewDevice(f, f)

					err := d.Configure(mode)
					assert.ErrorIs(t, err, ErrResourceUnavailable)
					assert.ErrorIs(t, err, errInjected)
					assert.Equal(t, d.State(), StateUnconfigured)

					lines, irqs := f.Claimed()
					assert.Equal(t, lines, 0)
					assert.Equal(t, irqs, 0)

					// The device stays usable for a retry.
					f.failAt = 0
					assert.NilError(t, d.Configure(mode))
					assert.Equal(t, d.State(), StateConfigured)
				})
			}
		})
	}
}

func TestConfigureClaimsExpectedResources(t *testing.T) {
	tests := []struct {
		mode      Mode
		wantLines int
		wantIRQs  int
	}{
		{ModeMultiLine, 7, 6},
		{ModeSingleLine, 8, 1},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			d, m := newTestDevice(t)
			assert.NilError(t, d.Configure(tt.mode))

			lines, irqs := m.Claimed()
			assert.Equal(t, lines, tt.wantLines)
			assert.Equal(t, irqs, tt.wantIRQs)

			vcc := lineOf(t, DefaultPins().VCC)
			lvl, err := m.ReadLine(vcc)
			assert.NilError(t, err)
			assert.Equal(t, lvl, gpio.High)

			addr, _ := pinmux.Translate(DefaultPins().VCC)
			v, ok := m.Register(addr)
			assert.Assert(t, ok)
			assert.Equal(t, v, pinmux.OutputPullUp)
			addr, _ = pinmux.Translate(DefaultPins().Left)
			v, ok = m.Register(addr)
			assert.Assert(t, ok)
			assert.Equal(t, v, pinmux.InputPullDown)

			assert.NilError(t, d.Reset())
			lines, irqs = m.Claimed()
			assert.Equal(t, lines, 0)
			assert.Equal(t, irqs, 0)
		})
	}
}

func TestConfigureTwiceIsRejected(t *testing.T) {
	d, m := newTestDevice(t)
	assert.NilError(t, d.Configure(ModeMultiLine))
	lines, irqs := m.Claimed()

	err := d.Configure(ModeMultiLine)
	assert.ErrorIs(t, err, ErrInvalidState)
	err = d.Control(CmdConfigSingleLine, nil)
	assert.ErrorIs(t, err, ErrInvalidState)

	l2, i2 := m.Claimed()
	assert.Equal(t, l2, lines)
	assert.Equal(t, i2, irqs)
	assert.Equal(t, d.State(), StateConfigured)
}

func TestSingleLineNeedsPollPin(t *testing.T) {
	d, _ := newTestDevice(t)
	pins := DefaultPins()
	pins.PollIRQ = 0
	assert.NilError(t, d.SetPinConfiguration(pins))
	assert.ErrorIs(t, d.Configure(ModeSingleLine), ErrInvalidArgument)
	assert.Equal(t, d.State(), StateUnconfigured)
	assert.NilError(t, d.Configure(ModeMultiLine))
}

func TestReadDeliversRightAsDigitOne(t *testing.T) {
	d, m := newTestDevice(t)
	assert.NilError(t, d.Configure(ModeMultiLine))

	h := d.Open()
	defer h.Close()

	done := make(chan error, 1)
	buf := make([]byte, 4)
	go func() {
		n, err := h.Read(buf)
		if err == nil && n != 1 {
			err = fmt.Errorf("read %d bytes", n)
		}
		done <- err
	}()
	waitForReaders(t, d, 1)

	fired, err := m.Press(lineOf(t, DefaultPins().Right))
	assert.NilError(t, err)
	assert.Assert(t, fired)

	assert.NilError(t, <-done)
	assert.Equal(t, buf[0], byte('1'))
	assert.Equal(t, d.Peek(), KeyUndefined)

	assert.NilError(t, d.Reset())
	_, err = h.Read(buf)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestReadRejectsEmptyBuffer(t *testing.T) {
	d, _ := newTestDevice(t)
	assert.NilError(t, d.Configure(ModeMultiLine))
	h := d.Open()
	defer h.Close()

	n, err := h.Read(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, n, 0)
	assert.Equal(t, d.Waiting(), 0)
}

func TestReadWhileUnconfigured(t *testing.T) {
	d, _ := newTestDevice(t)
	_, err := d.ReadKey(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, d.Waiting(), 0)
}

func TestAllReadersSeeTheSamePress(t *testing.T) {
	const readers = 5
	d, m := newTestDevice(t)
	assert.NilError(t, d.Configure(ModeMultiLine))

	results := make(chan KeyCode, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k, err := d.ReadKey(context.Background())
			if err != nil {
				t.Error(err)
			}
			results <- k
		}()
	}
	waitForReaders(t, d, readers)

	_, err := m.Press(lineOf(t, DefaultPins().Escape))
	assert.NilError(t, err)
	wg.Wait()
	close(results)

	for k := range results {
		assert.Equal(t, k, KeyEscape)
	}
	assert.Equal(t, d.Waiting(), 0)
	assert.Equal(t, d.Peek(), KeyUndefined)
}

func TestHandleReceivesEachPressOnce(t *testing.T) {
	d, m := newTestDevice(t)
	assert.NilError(t, d.Configure(ModeMultiLine))
	up := lineOf(t, DefaultPins().Up)

	// A press with nobody waiting stays pending for the next reader.
	_, err := m.Press(up)
	assert.NilError(t, err)
	assert.Equal(t, d.Peek(), KeyUp)

	h := d.Open()
	defer h.Close()
	buf := make([]byte, 1)
	_, err = h.Read(buf)
	assert.NilError(t, err)
	assert.Equal(t, buf[0], byte('3'))

	// The same handle does not get the same press again.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.ReadContext(ctx, buf)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestResetWithWaitingReaderIsRejected(t *testing.T) {
	d, m := newTestDevice(t)
	assert.NilError(t, d.Configure(ModeMultiLine))

	got := make(chan KeyCode, 1)
	go func() {
		k, _ := d.ReadKey(context.Background())
		got <- k
	}()
	waitForReaders(t, d, 1)

	assert.ErrorIs(t, d.Reset(), ErrInvalidState)
	assert.Equal(t, d.State(), StateConfigured)

	_, err := m.Press(lineOf(t, DefaultPins().Down))
	assert.NilError(t, err)
	assert.Equal(t, <-got, KeyDown)
	assert.NilError(t, d.Reset())
}

func TestCancelledReaderStillLeaves(t *testing.T) {
	d, m := newTestDevice(t)
	assert.NilError(t, d.Configure(ModeMultiLine))

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		_, err := d.ReadKey(ctx)
		cancelled <- err
	}()
	stay := make(chan KeyCode, 1)
	go func() {
		k, _ := d.ReadKey(context.Background())
		stay <- k
	}()
	waitForReaders(t, d, 2)

	cancel()
	err := <-cancelled
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	waitForReaders(t, d, 1)

	_, err = m.Press(lineOf(t, DefaultPins().Start))
	assert.NilError(t, err)
	assert.Equal(t, <-stay, KeyStart)

	// The remaining reader was the last one, so it cleared the key.
	assert.Equal(t, d.Waiting(), 0)
	assert.Equal(t, d.Peek(), KeyUndefined)
	assert.NilError(t, d.Reset())
}

func TestClosingHandleCancelsRead(t *testing.T) {
	d, _ := newTestDevice(t)
	assert.NilError(t, d.Configure(ModeMultiLine))
	h := d.Open()

	done := make(chan error, 1)
	go func() {
		_, err := h.Read(make([]byte, 1))
		done <- err
	}()
	waitForReaders(t, d, 1)

	assert.NilError(t, h.Close())
	assert.ErrorIs(t, <-done, ErrCancelled)
	assert.Equal(t, d.Waiting(), 0)
	assert.Equal(t, d.State(), StateConfigured)
}

func TestSingleLinePollPriority(t *testing.T) {
	d, m := newTestDevice(t)
	assert.NilError(t, d.Configure(ModeSingleLine))
	pins := DefaultPins()

	// ESCAPE and LEFT both asserted: LEFT is scanned first.
	assert.NilError(t, m.SetInput(lineOf(t, pins.Escape), gpio.High))
	assert.NilError(t, m.SetInput(lineOf(t, pins.Left), gpio.High))
	fired, err := m.Press(lineOf(t, pins.PollIRQ))
	assert.NilError(t, err)
	assert.Assert(t, fired)
	assert.Equal(t, d.Peek(), KeyLeft)

	lvl, _ := m.ReadLine(lineOf(t, pins.Left))
	assert.Equal(t, lvl, gpio.Low)
	lvl, _ = m.ReadLine(lineOf(t, pins.PollIRQ))
	assert.Equal(t, lvl, gpio.Low)

	k, err := d.ReadKey(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, k, KeyLeft)

	// ESCAPE is still asserted and found by the next poll.
	_, err = m.Press(lineOf(t, pins.PollIRQ))
	assert.NilError(t, err)
	assert.Equal(t, d.Peek(), KeyEscape)
}

func TestSingleLinePollWithNothingAsserted(t *testing.T) {
	d, m := newTestDevice(t)
	assert.NilError(t, d.Configure(ModeSingleLine))
	_, err := m.Press(lineOf(t, DefaultPins().PollIRQ))
	assert.NilError(t, err)
	assert.Equal(t, d.Peek(), KeyUndefined)
}

func TestUnknownCommandTearsDown(t *testing.T) {
	d, m := newTestDevice(t)

	// Unconfigured: nothing to release.
	assert.ErrorIs(t, d.Control(CmdUnknown, nil), ErrUnsupported)
	assert.Equal(t, d.State(), StateUnconfigured)

	assert.NilError(t, d.Configure(ModeMultiLine))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _, _ = d.ReadKey(ctx) }()
	waitForReaders(t, d, 1)

	assert.ErrorIs(t, d.Control(Command(42), nil), ErrUnsupported)
	assert.Equal(t, d.State(), StateUnconfigured)
	lines, irqs := m.Claimed()
	assert.Equal(t, lines, 0)
	assert.Equal(t, irqs, 0)

	cancel()
	waitForReaders(t, d, 0)
}

func TestPinmuxOnlyWhileUnconfigured(t *testing.T) {
	d, _ := newTestDevice(t)
	pins := DefaultPins()
	pins.Right, pins.Left = pins.Left, pins.Right

	assert.ErrorIs(t, d.Control(CmdConfigPinmux, nil), ErrInvalidArgument)
	assert.NilError(t, d.Control(CmdConfigPinmux, &pins))
	assert.Equal(t, d.PinConfiguration(), pins)

	assert.NilError(t, d.Control(CmdConfigMultiLine, nil))
	assert.ErrorIs(t, d.Control(CmdConfigPinmux, &pins), ErrInvalidState)

	bad := DefaultPins()
	bad.Up = bad.Down
	assert.NilError(t, d.Reset())
	assert.ErrorIs(t, d.Control(CmdConfigPinmux, &bad), ErrInvalidArgument)
	assert.Equal(t, d.PinConfiguration(), pins)
}

func TestSwappedPinsDeliverSwappedKeys(t *testing.T) {
	d, m := newTestDevice(t)
	pins := DefaultPins()
	pins.Right, pins.Left = pins.Left, pins.Right
	assert.NilError(t, d.SetPinConfiguration(pins))
	assert.NilError(t, d.Configure(ModeMultiLine))

	_, err := m.Press(lineOf(t, DefaultPins().Right))
	assert.NilError(t, err)
	assert.Equal(t, d.Peek(), KeyLeft)
}

func TestSimulate(t *testing.T) {
	for _, mode := range []Mode{ModeMultiLine, ModeSingleLine} {
		t.Run(mode.String(), func(t *testing.T) {
			d, _ := newTestDevice(t)
			assert.ErrorIs(t, d.Simulate(KeyUp), ErrInvalidState)
			assert.NilError(t, d.Configure(mode))

			assert.ErrorIs(t, d.Simulate(KeyUndefined), ErrInvalidArgument)
			assert.NilError(t, d.Simulate(KeyDown))
			k, err := d.ReadKey(context.Background())
			assert.NilError(t, err)
			assert.Equal(t, k, KeyDown)

			// The line was cleared, so the same key can be pressed again.
			assert.NilError(t, d.Simulate(KeyDown))
			assert.Equal(t, d.Peek(), KeyDown)
		})
	}
}

func TestStatusAndStateEvents(t *testing.T) {
	d, _ := newTestDevice(t)
	var seen []string
	d.OnStateChange(func(from, to State) { seen = append(seen, from.String()+">"+to.String()) })

	st := d.Status()
	assert.Equal(t, st.State, "unconfigured")
	assert.Equal(t, len(st.IRQs), 0)

	assert.NilError(t, d.Configure(ModeSingleLine))
	st = d.Status()
	assert.Equal(t, st.State, "configured")
	assert.Equal(t, st.Mode, "single_line")
	assert.Equal(t, len(st.IRQs), 1)
	assert.Equal(t, st.IRQs[0].Role, "POLL_IRQ")
	assert.Equal(t, st.IRQs[0].Line, lineOf(t, DefaultPins().PollIRQ))

	assert.NilError(t, d.Reset())
	assert.DeepEqual(t, seen, []string{
		"unconfigured>configuring",
		"configuring>configured",
		"configured>configuring",
		"configuring>unconfigured",
	})
}
