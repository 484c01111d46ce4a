// Package mem writes 32-bit words to physical registers through a memory
// device such as /dev/mem.
package mem

import "github.com/cjeanneret/simplekbd/internal/debug"

// DefaultDevice is the memory device used when none is configured.
const DefaultDevice = "/dev/mem"

// DevMem maps the page holding a register, writes one word and unmaps it
// again on every call. Pinmux programming touches a handful of pads once
// per configuration, so no mapping is kept around.
type DevMem struct {
	path string
}

// NewDevMem returns a register writer backed by the given memory device.
func NewDevMem(path string) *DevMem {
	if path == "" {
		path = DefaultDevice
	}
	return &DevMem{path: path}
}

// Path returns the memory device path.
func (m *DevMem) Path() string { return m.path }

// WriteRegister writes value to the physical address addr.
func (m *DevMem) WriteRegister(addr, value uint32) error {
	debug.Register(addr, value)
	return writeWord(m.path, addr, value)
}
