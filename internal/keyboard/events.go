package keyboard

import (
	"github.com/cjeanneret/simplekbd/internal/debug"
	"github.com/cjeanneret/simplekbd/internal/hw/gpio"
)

// Event sources run on the backend's edge goroutine. They must not block:
// they touch the pending cell, one or a few lines, and return.

func (d *Device) newSource(role PinRole, lines map[PinRole]int) gpio.EdgeHandler {
	if role == RolePollIRQ {
		return d.pollSource(lines)
	}
	return d.keySource(role, lines[role])
}

// keySource handles the dedicated line of one key.
func (d *Device) keySource(role PinRole, line int) gpio.EdgeHandler {
	key := role.Key()
	return func(irq gpio.IRQ) {
		d.pending.set(key)
		if err := d.drv.WriteLine(line, gpio.Low); err != nil {
			debug.Trace("clear %s line %d: %v", role, line, err)
		}
		d.pending.broadcast()
		debug.Trace("IRQ %d: %s", irq, key)
	}
}

// pollSource handles the shared poll line: it reports the first asserted key
// line in pollOrder. When none is asserted the pending key is left as is.
func (d *Device) pollSource(lines map[PinRole]int) gpio.EdgeHandler {
	poll := lines[RolePollIRQ]
	return func(irq gpio.IRQ) {
		found := KeyUndefined
		for _, role := range pollOrder {
			line := lines[role]
			lvl, err := d.drv.ReadLine(line)
			if err != nil || lvl != gpio.High {
				continue
			}
			found = role.Key()
			d.pending.set(found)
			if err := d.drv.WriteLine(line, gpio.Low); err != nil {
				debug.Trace("clear %s line %d: %v", role, line, err)
			}
			break
		}
		if err := d.drv.WriteLine(poll, gpio.Low); err != nil {
			debug.Trace("clear poll line %d: %v", poll, err)
		}
		if found == KeyUndefined {
			debug.Trace("IRQ %d: poll found no asserted line", irq)
			return
		}
		d.pending.broadcast()
		debug.Trace("IRQ %d: poll %s", irq, found)
	}
}
