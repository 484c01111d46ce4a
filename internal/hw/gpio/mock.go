package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/simplekbd/internal/debug"
)

type mockLine struct {
	output bool
	level  Level
	irq    IRQ
}

// MockDriver is an in-memory implementation that logs actions and keeps
// real claim bookkeeping. Used for development on PC or testing.
// Press simulates a key press on an input line.
type MockDriver struct {
	mu       sync.Mutex
	lines    map[int]*mockLine
	handlers map[IRQ]EdgeHandler
	irqLines map[IRQ]int
	nextIRQ  IRQ
	regs     map[uint32]uint32
}

// NewMockDriver creates an empty mock driver.
func NewMockDriver() *MockDriver {
	return &MockDriver{
		lines:    make(map[int]*mockLine),
		handlers: make(map[IRQ]EdgeHandler),
		irqLines: make(map[IRQ]int),
		nextIRQ:  100,
		regs:     make(map[uint32]uint32),
	}
}

func (m *MockDriver) request(line int, output bool, level Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lines[line]; ok {
		return fmt.Errorf("line %d: %w", line, ErrLineBusy)
	}
	m.lines[line] = &mockLine{output: output, level: level, irq: -1}
	return nil
}

func (m *MockDriver) RequestOutput(line int, initial Level) error {
	debug.GPIO("RequestOutput", line, initial)
	return m.request(line, true, initial)
}

func (m *MockDriver) RequestInput(line int) error {
	debug.GPIO("RequestInput", line, nil)
	return m.request(line, false, Low)
}

func (m *MockDriver) Free(line int) error {
	debug.GPIO("Free", line, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lines[line]
	if !ok {
		return fmt.Errorf("line %d: %w", line, ErrNotClaimed)
	}
	if l.irq >= 0 {
		delete(m.handlers, l.irq)
		delete(m.irqLines, l.irq)
	}
	delete(m.lines, line)
	return nil
}

func (m *MockDriver) ReadLine(line int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lines[line]
	if !ok {
		return Low, fmt.Errorf("line %d: %w", line, ErrNotClaimed)
	}
	debug.GPIO("ReadLine", line, l.level)
	return l.level, nil
}

func (m *MockDriver) WriteLine(line int, level Level) error {
	debug.GPIO("WriteLine", line, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lines[line]
	if !ok {
		return fmt.Errorf("line %d: %w", line, ErrNotClaimed)
	}
	l.level = level
	return nil
}

func (m *MockDriver) BindRisingEdge(line int, h EdgeHandler) (IRQ, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lines[line]
	if !ok {
		return 0, fmt.Errorf("line %d: %w", line, ErrNotClaimed)
	}
	if l.irq >= 0 {
		return 0, fmt.Errorf("line %d irq %d: %w", line, l.irq, ErrLineBusy)
	}
	irq := m.nextIRQ
	m.nextIRQ++
	l.irq = irq
	m.handlers[irq] = h
	m.irqLines[irq] = line
	debug.GPIO("BindRisingEdge", line, irq)
	return irq, nil
}

func (m *MockDriver) FreeIRQ(irq IRQ) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	line, ok := m.irqLines[irq]
	if !ok {
		return fmt.Errorf("irq %d: %w", irq, ErrNotClaimed)
	}
	debug.GPIO("FreeIRQ", line, irq)
	if l, ok := m.lines[line]; ok {
		l.irq = -1
	}
	delete(m.handlers, irq)
	delete(m.irqLines, irq)
	return nil
}

// WriteRegister records a pad register write.
func (m *MockDriver) WriteRegister(addr, value uint32) error {
	debug.Register(addr, value)
	m.mu.Lock()
	m.regs[addr] = value
	m.mu.Unlock()
	return nil
}

// Register returns the last value written to addr.
func (m *MockDriver) Register(addr uint32) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.regs[addr]
	return v, ok
}

// SetInput drives the level seen on an input line without raising an edge.
func (m *MockDriver) SetInput(line int, level Level) error {
	return m.WriteLine(line, level)
}

// Press raises line and, if a rising-edge handler is bound to it, runs the
// handler synchronously. It reports whether a handler ran.
func (m *MockDriver) Press(line int) (bool, error) {
	m.mu.Lock()
	l, ok := m.lines[line]
	if !ok {
		m.mu.Unlock()
		return false, fmt.Errorf("line %d: %w", line, ErrNotClaimed)
	}
	wasLow := !l.level
	l.level = High
	h := m.handlers[l.irq]
	irq := l.irq
	m.mu.Unlock()

	debug.GPIO("Press", line, irq)
	if h == nil || !wasLow {
		return false, nil
	}
	h(irq)
	return true, nil
}

// Claimed returns the number of claimed lines and bound IRQs.
func (m *MockDriver) Claimed() (lines, irqs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lines), len(m.handlers)
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = make(map[int]*mockLine)
	m.handlers = make(map[IRQ]EdgeHandler)
	m.irqLines = make(map[IRQ]int)
	return nil
}
