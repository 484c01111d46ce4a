package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/simplekbd/internal/debug"
	"github.com/jonboulle/clockwork"
	"github.com/stianeikeland/go-rpio/v4"
)

// RPiDriver is the memory-mapped implementation using go-rpio.
// The controller only latches edges, so each binding runs a poller that
// checks the latch every edgePoll.
type RPiDriver struct {
	mu       sync.Mutex
	pins     map[int]rpio.Pin
	watchers map[IRQ]*edgeWatcher
	clock    clockwork.Clock
	edgePoll time.Duration
}

type edgeWatcher struct {
	line int
	stop chan struct{}
	done chan struct{}
}

// NewRPiRealDriver creates a real GPIO driver backed by go-rpio.
// Requires access to /dev/gpiomem or running as root. A nil clock uses the
// real clock.
func NewRPiRealDriver(edgePoll time.Duration, clock clockwork.Clock) (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}

	debug.Verbose("GPIO memory mapped successfully")

	if edgePoll <= 0 {
		edgePoll = 5 * time.Millisecond
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RPiDriver{
		pins:     make(map[int]rpio.Pin),
		watchers: make(map[IRQ]*edgeWatcher),
		clock:    clock,
		edgePoll: edgePoll,
	}, nil
}

func (r *RPiDriver) claim(line int) (rpio.Pin, error) {
	if _, ok := r.pins[line]; ok {
		return 0, fmt.Errorf("line %d: %w", line, ErrLineBusy)
	}
	p := rpio.Pin(line)
	r.pins[line] = p
	return p, nil
}

func (r *RPiDriver) RequestOutput(line int, initial Level) error {
	debug.GPIO("RequestOutput", line, initial)
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.claim(line)
	if err != nil {
		return err
	}
	p.Output()
	if initial == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (r *RPiDriver) RequestInput(line int) error {
	debug.GPIO("RequestInput", line, nil)
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.claim(line)
	if err != nil {
		return err
	}
	p.Input()
	p.PullDown()
	return nil
}

func (r *RPiDriver) Free(line int) error {
	debug.GPIO("Free", line, nil)
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pins[line]
	if !ok {
		return fmt.Errorf("line %d: %w", line, ErrNotClaimed)
	}
	// Back to input, the safe state.
	p.Input()
	delete(r.pins, line)
	return nil
}

func (r *RPiDriver) pin(line int) (rpio.Pin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pins[line]
	if !ok {
		return 0, fmt.Errorf("line %d: %w", line, ErrNotClaimed)
	}
	return p, nil
}

func (r *RPiDriver) ReadLine(line int) (Level, error) {
	p, err := r.pin(line)
	if err != nil {
		return Low, err
	}
	state := p.Read()
	debug.GPIO("ReadLine", line, state)
	if state == rpio.High {
		return High, nil
	}
	return Low, nil
}

func (r *RPiDriver) WriteLine(line int, level Level) error {
	debug.GPIO("WriteLine", line, level)
	p, err := r.pin(line)
	if err != nil {
		return err
	}
	if level == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (r *RPiDriver) BindRisingEdge(line int, h EdgeHandler) (IRQ, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pins[line]
	if !ok {
		return 0, fmt.Errorf("line %d: %w", line, ErrNotClaimed)
	}
	irq := IRQ(line)
	if _, ok := r.watchers[irq]; ok {
		return 0, fmt.Errorf("line %d irq %d: %w", line, irq, ErrLineBusy)
	}

	p.Detect(rpio.RiseEdge)
	w := &edgeWatcher{line: line, stop: make(chan struct{}), done: make(chan struct{})}
	r.watchers[irq] = w
	go r.watch(p, irq, w, h)

	debug.GPIO("BindRisingEdge", line, irq)
	return irq, nil
}

func (r *RPiDriver) watch(p rpio.Pin, irq IRQ, w *edgeWatcher, h EdgeHandler) {
	defer close(w.done)
	ticker := r.clock.NewTicker(r.edgePoll)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.Chan():
			if p.EdgeDetected() {
				h(irq)
			}
		}
	}
}

func (r *RPiDriver) FreeIRQ(irq IRQ) error {
	r.mu.Lock()
	w, ok := r.watchers[irq]
	if ok {
		delete(r.watchers, irq)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("irq %d: %w", irq, ErrNotClaimed)
	}
	debug.GPIO("FreeIRQ", w.line, irq)

	close(w.stop)
	<-w.done
	rpio.Pin(w.line).Detect(rpio.NoEdge)
	return nil
}

func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")

	r.mu.Lock()
	irqs := make([]IRQ, 0, len(r.watchers))
	for irq := range r.watchers {
		irqs = append(irqs, irq)
	}
	r.mu.Unlock()
	for _, irq := range irqs {
		_ = r.FreeIRQ(irq)
	}

	// Reset all pins to input (safe state)
	r.mu.Lock()
	for line, p := range r.pins {
		debug.Verbose("Resetting line %d to input", line)
		p.Input()
	}
	r.pins = make(map[int]rpio.Pin)
	r.mu.Unlock()

	return rpio.Close()
}
