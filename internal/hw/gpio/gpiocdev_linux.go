//go:build linux

package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/simplekbd/internal/debug"
	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/multierr"
)

const consumer = "simple-keyboard"

// CdevDriver uses the GPIO character device. Input lines are requested with
// an event handler from the start; binding an IRQ only switches rising-edge
// detection on and routes the line's events to the bound handler.
type CdevDriver struct {
	chip     string
	mu       sync.RWMutex
	lines    map[int]*gpiocdev.Line
	outputs  map[int]bool
	handlers map[int]EdgeHandler
}

// NewCdevDriver opens the named chip to check it exists.
func NewCdevDriver(chip string) (*CdevDriver, error) {
	if chip == "" {
		chip = "gpiochip0"
	}
	debug.Info("Initializing real GPIO driver (gpiocdev, %s)", chip)
	c, err := gpiocdev.NewChip(chip, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", chip, err)
	}
	debug.Verbose("chip %s (%s) has %d lines", c.Name, c.Label, c.Lines())
	if err := c.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", chip, err)
	}
	return &CdevDriver{
		chip:     chip,
		lines:    make(map[int]*gpiocdev.Line),
		outputs:  make(map[int]bool),
		handlers: make(map[int]EdgeHandler),
	}, nil
}

func (d *CdevDriver) request(line int, opts ...gpiocdev.LineReqOption) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.lines[line]; ok {
		return fmt.Errorf("line %d: %w", line, ErrLineBusy)
	}
	opts = append(opts, gpiocdev.WithConsumer(consumer))
	l, err := gpiocdev.RequestLine(d.chip, line, opts...)
	if err != nil {
		return fmt.Errorf("request %s line %d: %w", d.chip, line, err)
	}
	d.lines[line] = l
	return nil
}

func (d *CdevDriver) RequestOutput(line int, initial Level) error {
	debug.GPIO("RequestOutput", line, initial)
	v := 0
	if initial {
		v = 1
	}
	if err := d.request(line, gpiocdev.AsOutput(v)); err != nil {
		return err
	}
	d.mu.Lock()
	d.outputs[line] = true
	d.mu.Unlock()
	return nil
}

func (d *CdevDriver) RequestInput(line int) error {
	debug.GPIO("RequestInput", line, nil)
	return d.request(line,
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithEventHandler(d.dispatch))
}

func (d *CdevDriver) dispatch(evt gpiocdev.LineEvent) {
	if evt.Type != gpiocdev.LineEventRisingEdge {
		return
	}
	d.mu.RLock()
	h := d.handlers[evt.Offset]
	d.mu.RUnlock()
	if h != nil {
		h(IRQ(evt.Offset))
	}
}

func (d *CdevDriver) Free(line int) error {
	debug.GPIO("Free", line, nil)
	d.mu.Lock()
	l, ok := d.lines[line]
	delete(d.lines, line)
	delete(d.outputs, line)
	delete(d.handlers, line)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("line %d: %w", line, ErrNotClaimed)
	}
	return l.Close()
}

func (d *CdevDriver) line(line int) (*gpiocdev.Line, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	l, ok := d.lines[line]
	if !ok {
		return nil, false, fmt.Errorf("line %d: %w", line, ErrNotClaimed)
	}
	return l, d.outputs[line], nil
}

func (d *CdevDriver) ReadLine(line int) (Level, error) {
	l, _, err := d.line(line)
	if err != nil {
		return Low, err
	}
	v, err := l.Value()
	if err != nil {
		return Low, fmt.Errorf("read line %d: %w", line, err)
	}
	debug.GPIO("ReadLine", line, v)
	return v != 0, nil
}

// WriteLine drives an output line. The character device refuses values on
// inputs, so writes to them are ignored.
func (d *CdevDriver) WriteLine(line int, level Level) error {
	debug.GPIO("WriteLine", line, level)
	l, output, err := d.line(line)
	if err != nil {
		return err
	}
	if !output {
		return nil
	}
	v := 0
	if level {
		v = 1
	}
	return l.SetValue(v)
}

func (d *CdevDriver) BindRisingEdge(line int, h EdgeHandler) (IRQ, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.lines[line]
	if !ok || d.outputs[line] {
		return 0, fmt.Errorf("input line %d: %w", line, ErrNotClaimed)
	}
	if _, ok := d.handlers[line]; ok {
		return 0, fmt.Errorf("line %d: %w", line, ErrLineBusy)
	}
	if err := l.Reconfigure(gpiocdev.WithRisingEdge); err != nil {
		return 0, fmt.Errorf("enable rising edge on line %d: %w", line, err)
	}
	d.handlers[line] = h
	debug.GPIO("BindRisingEdge", line, line)
	return IRQ(line), nil
}

func (d *CdevDriver) FreeIRQ(irq IRQ) error {
	line := int(irq)
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.lines[line]
	if _, bound := d.handlers[line]; !ok || !bound {
		return fmt.Errorf("irq %d: %w", irq, ErrNotClaimed)
	}
	debug.GPIO("FreeIRQ", line, irq)
	delete(d.handlers, line)
	return l.Reconfigure(gpiocdev.WithoutEdges)
}

func (d *CdevDriver) Close() error {
	debug.Trace("GPIO Close (gpiocdev)")
	d.mu.Lock()
	lines := d.lines
	d.lines = make(map[int]*gpiocdev.Line)
	d.outputs = make(map[int]bool)
	d.handlers = make(map[int]EdgeHandler)
	d.mu.Unlock()

	// Closing waits for the event goroutine, which may be in dispatch.
	var err error
	for line, l := range lines {
		if cerr := l.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close line %d: %w", line, cerr))
		}
	}
	return err
}
