package gpio

import (
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/simplekbd/internal/debug"
)

// Level represents the logical state of a GPIO line.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// IRQ identifies an edge-event binding returned by BindRisingEdge.
type IRQ int

// EdgeHandler is called on the backend's event goroutine each time a bound
// line sees a rising edge. It must not block.
type EdgeHandler func(irq IRQ)

// Backend names accepted by NewDriver.
const (
	BackendMock     = "mock"
	BackendPeriph   = "periph"
	BackendGPIOCdev = "gpiocdev"
	BackendRPi      = "rpio"
)

// ErrLineBusy is returned when a line or IRQ is already claimed.
var ErrLineBusy = errors.New("gpio line already claimed")

// ErrNotClaimed is returned for operations on a line that was never requested.
var ErrNotClaimed = errors.New("gpio line not claimed")

// Driver is the platform abstraction the keyboard core is written against.
// Every backend enforces exclusive claims: requesting a claimed line fails
// with ErrLineBusy.
type Driver interface {
	RequestOutput(line int, initial Level) error
	RequestInput(line int) error
	Free(line int) error

	ReadLine(line int) (Level, error)
	WriteLine(line int, level Level) error

	// BindRisingEdge routes rising edges of an already requested input
	// line to h until FreeIRQ is called.
	BindRisingEdge(line int, h EdgeHandler) (IRQ, error)
	// FreeIRQ disables and releases a binding.
	FreeIRQ(irq IRQ) error

	Close() error
}

// Options selects and tunes a backend.
type Options struct {
	Backend  string
	Chip     string        // gpiocdev chip name, e.g. "gpiochip0"
	EdgePoll time.Duration // rpio edge-detect polling period
}

// NewDriver creates a GPIO driver for the chosen backend.
func NewDriver(opts Options) (Driver, error) {
	switch opts.Backend {
	case "", BackendMock:
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(), nil
	case BackendPeriph:
		return NewPeriphDriver()
	case BackendGPIOCdev:
		return NewCdevDriver(opts.Chip)
	case BackendRPi:
		return NewRPiRealDriver(opts.EdgePoll, nil)
	default:
		return nil, fmt.Errorf("unknown gpio backend: %q", opts.Backend)
	}
}
