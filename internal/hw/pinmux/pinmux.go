// Package pinmux translates BeagleBone header pin identifiers into the
// control-module pad register that muxes them and the GPIO line they drive.
//
// A PinID is written connector*100 + header pin, e.g. 912 for P9_12.
package pinmux

import "fmt"

// ControlModuleBase is the physical base address of the AM335x control module.
const ControlModuleBase uint32 = 0x44e10000

// Pad configuration words.
//
//	Bit 5: 1 - Input, 0 - Output
//	Bit 4: 1 - Pull up, 0 - Pull down
//	Bit 3: 1 - Pull disabled, 0 - Pull enabled
//	Bit 2..0: mux mode (7 = GPIO)
const (
	OutputPullUp   uint32 = 0x7 | 2<<3
	InputPullUp    uint32 = 0x7 | 2<<3 | 1<<5
	OutputPullDown uint32 = 0x7
	InputPullDown  uint32 = 0x7 | 1<<5
)

// GPIOPerBank is the number of lines served by one GPIO controller bank.
const GPIOPerBank = 32

// PinID is an abstract header pin: connector*100 + physical pin number.
type PinID uint16

// Connector returns the header connector (8 or 9 for valid ids).
func (p PinID) Connector() int { return int(p) / 100 }

// Number returns the physical pin number on the connector.
func (p PinID) Number() int { return int(p) % 100 }

func (p PinID) String() string {
	return fmt.Sprintf("P%d_%02d", p.Connector(), p.Number())
}

// Valid reports whether p translates to a usable pad.
func (p PinID) Valid() bool {
	addr, _ := Translate(p)
	return addr != 0
}

// Translate returns the absolute pad register address for pin and the value
// table entry for it, which is the GPIO line number the pad drives.
//
// Unknown connectors, out-of-range pins and ground/power/non-GPIO pins all
// return (0, 0). Callers must treat that pair as "unusable pin".
func Translate(pin PinID) (addr uint32, value uint32) {
	var offsets, values *[46]uint32
	switch pin.Connector() {
	case 8:
		offsets, values = &p8Offset, &p8Value
	case 9:
		offsets, values = &p9Offset, &p9Value
	default:
		return 0, 0
	}

	idx := pin.Number() - 1
	if idx < 0 || idx >= len(offsets) {
		return 0, 0
	}
	if offsets[idx] == 0 && values[idx] == 0 {
		return 0, 0
	}
	return ControlModuleBase + offsets[idx], values[idx]
}

// Bank returns the GPIO controller bank serving line.
func Bank(line uint32) int {
	return int(line / GPIOPerBank)
}
