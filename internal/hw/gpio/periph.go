package gpio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cjeanneret/simplekbd/internal/debug"
	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphDriver drives lines through periph.io's host drivers. Lines are
// looked up by their "GPIO<n>" name; edge bindings run a WaitForEdge loop.
type PeriphDriver struct {
	mu      sync.Mutex
	pins    map[int]pgpio.PinIO
	outputs map[int]bool
	edges   map[IRQ]*periphEdge
}

type periphEdge struct {
	line    int
	pin     pgpio.PinIO
	stopped atomic.Bool
	done    chan struct{}
}

// NewPeriphDriver initializes the periph.io host drivers.
func NewPeriphDriver() (*PeriphDriver, error) {
	debug.Info("Initializing real GPIO driver (periph.io)")
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	for _, d := range state.Loaded {
		debug.Verbose("periph driver loaded: %s", d)
	}
	return &PeriphDriver{
		pins:    make(map[int]pgpio.PinIO),
		outputs: make(map[int]bool),
		edges:   make(map[IRQ]*periphEdge),
	}, nil
}

func (p *PeriphDriver) claim(line int) (pgpio.PinIO, error) {
	if _, ok := p.pins[line]; ok {
		return nil, fmt.Errorf("line %d: %w", line, ErrLineBusy)
	}
	name := fmt.Sprintf("GPIO%d", line)
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("line %d (%s) not found in hardware", line, name)
	}
	return pin, nil
}

func (p *PeriphDriver) RequestOutput(line int, initial Level) error {
	debug.GPIO("RequestOutput", line, initial)
	p.mu.Lock()
	defer p.mu.Unlock()
	pin, err := p.claim(line)
	if err != nil {
		return err
	}
	if err := pin.Out(pgpio.Level(initial)); err != nil {
		return fmt.Errorf("set line %d to output: %w", line, err)
	}
	p.pins[line] = pin
	p.outputs[line] = true
	return nil
}

func (p *PeriphDriver) RequestInput(line int) error {
	debug.GPIO("RequestInput", line, nil)
	p.mu.Lock()
	defer p.mu.Unlock()
	pin, err := p.claim(line)
	if err != nil {
		return err
	}
	if err := pin.In(pgpio.PullDown, pgpio.NoEdge); err != nil {
		return fmt.Errorf("set line %d to input: %w", line, err)
	}
	p.pins[line] = pin
	return nil
}

func (p *PeriphDriver) Free(line int) error {
	debug.GPIO("Free", line, nil)
	p.mu.Lock()
	defer p.mu.Unlock()
	pin, ok := p.pins[line]
	if !ok {
		return fmt.Errorf("line %d: %w", line, ErrNotClaimed)
	}
	delete(p.pins, line)
	delete(p.outputs, line)
	return pin.In(pgpio.PullNoChange, pgpio.NoEdge)
}

func (p *PeriphDriver) pin(line int) (pgpio.PinIO, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pin, ok := p.pins[line]
	if !ok {
		return nil, false, fmt.Errorf("line %d: %w", line, ErrNotClaimed)
	}
	return pin, p.outputs[line], nil
}

func (p *PeriphDriver) ReadLine(line int) (Level, error) {
	pin, _, err := p.pin(line)
	if err != nil {
		return Low, err
	}
	l := pin.Read()
	debug.GPIO("ReadLine", line, l)
	return Level(l), nil
}

// WriteLine drives an output line. Input lines cannot be driven through
// periph, so writes to them are ignored.
func (p *PeriphDriver) WriteLine(line int, level Level) error {
	debug.GPIO("WriteLine", line, level)
	pin, output, err := p.pin(line)
	if err != nil {
		return err
	}
	if !output {
		return nil
	}
	return pin.Out(pgpio.Level(level))
}

func (p *PeriphDriver) BindRisingEdge(line int, h EdgeHandler) (IRQ, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pin, ok := p.pins[line]
	if !ok {
		return 0, fmt.Errorf("line %d: %w", line, ErrNotClaimed)
	}
	irq := IRQ(line)
	if _, ok := p.edges[irq]; ok {
		return 0, fmt.Errorf("line %d irq %d: %w", line, irq, ErrLineBusy)
	}
	if err := pin.In(pgpio.PullDown, pgpio.RisingEdge); err != nil {
		return 0, fmt.Errorf("enable rising edge on line %d: %w", line, err)
	}

	e := &periphEdge{line: line, pin: pin, done: make(chan struct{})}
	p.edges[irq] = e
	go func() {
		defer close(e.done)
		for {
			fired := pin.WaitForEdge(-1)
			if e.stopped.Load() {
				return
			}
			if fired {
				h(irq)
			}
		}
	}()

	debug.GPIO("BindRisingEdge", line, irq)
	return irq, nil
}

func (p *PeriphDriver) FreeIRQ(irq IRQ) error {
	p.mu.Lock()
	e, ok := p.edges[irq]
	if ok {
		delete(p.edges, irq)
	}
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("irq %d: %w", irq, ErrNotClaimed)
	}
	debug.GPIO("FreeIRQ", e.line, irq)

	e.stopped.Store(true)
	if err := e.pin.Halt(); err != nil {
		return fmt.Errorf("halt edge wait on line %d: %w", e.line, err)
	}
	<-e.done
	return e.pin.In(pgpio.PullDown, pgpio.NoEdge)
}

func (p *PeriphDriver) Close() error {
	debug.Trace("GPIO Close (periph)")
	p.mu.Lock()
	irqs := make([]IRQ, 0, len(p.edges))
	for irq := range p.edges {
		irqs = append(irqs, irq)
	}
	p.mu.Unlock()
	for _, irq := range irqs {
		_ = p.FreeIRQ(irq)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for line, pin := range p.pins {
		debug.Verbose("Resetting line %d to input", line)
		_ = pin.In(pgpio.PullNoChange, pgpio.NoEdge)
	}
	p.pins = make(map[int]pgpio.PinIO)
	p.outputs = make(map[int]bool)
	return nil
}
