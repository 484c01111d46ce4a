package keyboard

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/cjeanneret/simplekbd/internal/debug"
	"github.com/cjeanneret/simplekbd/internal/hw/gpio"
	"github.com/cjeanneret/simplekbd/internal/hw/pinmux"
)

// Registers writes pad configuration words into the control module.
type Registers interface {
	WriteRegister(addr, value uint32) error
}

// maxIRQPerBank is how many edge interrupts one GPIO bank can serve at once.
const maxIRQPerBank = 2

// sourceFactory builds the edge handler for role. lines holds the GPIO
// line of every role translated during acquisition.
type sourceFactory func(role PinRole, lines map[PinRole]int) gpio.EdgeHandler

type claimedLine struct {
	role PinRole
	line int
}

type boundIRQ struct {
	role PinRole
	irq  gpio.IRQ
}

// resources is everything a configured device holds. It is only built by
// acquire and only torn down by release.
type resources struct {
	drv   gpio.Driver
	mode  Mode
	lines map[PinRole]int

	claimed []claimedLine
	bound   []boundIRQ
}

// acquire programs the pads, claims the lines and binds the edge handlers
// for mode, in that order. On any failure everything claimed so far is
// released in reverse order before the error is returned.
func acquire(drv gpio.Driver, regs Registers, pins PinConfiguration, mode Mode, newSource sourceFactory) (*resources, error) {
	r := &resources{
		drv:   drv,
		mode:  mode,
		lines: make(map[PinRole]int),
	}

	debug.Section(fmt.Sprintf("Acquire %s", mode))

	debug.Step(1, "pinmux")
	if err := r.programPads(regs, pins); err != nil {
		return nil, err
	}

	debug.Step(2, "GPIO lines")
	if err := r.requestLines(); err != nil {
		return nil, r.rollback(err)
	}

	debug.Step(3, "edge handlers")
	if err := r.bindSources(newSource); err != nil {
		return nil, r.rollback(err)
	}

	debug.Verbose("Acquired %d line(s), %d IRQ(s)", len(r.claimed), len(r.bound))
	return r, nil
}

func (r *resources) roles() []PinRole {
	roles := append([]PinRole{RoleVCC}, keyRoles...)
	if r.mode == ModeSingleLine {
		roles = append(roles, RolePollIRQ)
	}
	return roles
}

func (r *resources) programPads(regs Registers, pins PinConfiguration) error {
	for _, role := range r.roles() {
		pin := pins.Pin(role)
		addr, line := pinmux.Translate(pin)
		if addr == 0 {
			return fmt.Errorf("%w: %s pin %d has no pad register", ErrResourceUnavailable, role, pin)
		}
		word := pinmux.InputPullDown
		if role == RoleVCC {
			word = pinmux.OutputPullUp
		}
		if err := regs.WriteRegister(addr, word); err != nil {
			return fmt.Errorf("%w: pinmux %s (%s): %w", ErrResourceUnavailable, role, pin, err)
		}
		debug.Verbose("Pad %s %s -> line %d (0x%08x = 0x%02x)", role, pin, line, addr, word)
		r.lines[role] = int(line)
	}
	if r.mode == ModeMultiLine {
		r.checkBanks()
	}
	return nil
}

// checkBanks warns when more key lines share a bank than it can serve
// interrupts for. Acquisition still goes ahead; the backend decides.
func (r *resources) checkBanks() {
	perBank := make(map[int][]PinRole)
	for _, role := range keyRoles {
		b := pinmux.Bank(uint32(r.lines[role]))
		perBank[b] = append(perBank[b], role)
	}
	for b, roles := range perBank {
		if len(roles) > maxIRQPerBank {
			debug.Info("WARNING: GPIO bank %d serves %d key interrupts %v (max %d)", b, len(roles), roles, maxIRQPerBank)
		}
	}
}

func (r *resources) requestLines() error {
	vcc := r.lines[RoleVCC]
	if err := r.drv.RequestOutput(vcc, gpio.High); err != nil {
		return fmt.Errorf("%w: request %s line %d: %w", ErrResourceUnavailable, RoleVCC, vcc, err)
	}
	r.claimed = append(r.claimed, claimedLine{RoleVCC, vcc})

	for _, role := range keyRoles {
		if err := r.requestInput(role); err != nil {
			return err
		}
	}
	return nil
}

func (r *resources) requestInput(role PinRole) error {
	line := r.lines[role]
	if err := r.drv.RequestInput(line); err != nil {
		return fmt.Errorf("%w: request %s line %d: %w", ErrResourceUnavailable, role, line, err)
	}
	r.claimed = append(r.claimed, claimedLine{role, line})
	return nil
}

func (r *resources) bindSources(newSource sourceFactory) error {
	roles := keyRoles
	if r.mode == ModeSingleLine {
		if err := r.requestInput(RolePollIRQ); err != nil {
			return err
		}
		roles = []PinRole{RolePollIRQ}
	}
	for _, role := range roles {
		line := r.lines[role]
		irq, err := r.drv.BindRisingEdge(line, newSource(role, r.lines))
		if err != nil {
			return fmt.Errorf("%w: bind %s line %d: %w", ErrResourceUnavailable, role, line, err)
		}
		debug.Trace("Bound %s line %d to IRQ %d", role, line, irq)
		r.bound = append(r.bound, boundIRQ{role, irq})
	}
	return nil
}

// rollback releases the acquired prefix and returns cause, annotated with
// any release failure.
func (r *resources) rollback(cause error) error {
	debug.Verbose("Rollback after: %v", cause)
	if err := r.release(); err != nil {
		return fmt.Errorf("%w (rollback: %v)", cause, err)
	}
	return cause
}

// release frees every bound IRQ, then every claimed line, newest first.
// It keeps going past individual failures and is safe to call twice.
func (r *resources) release() error {
	var err error
	for i := len(r.bound) - 1; i >= 0; i-- {
		b := r.bound[i]
		debug.Trace("Free %s IRQ %d", b.role, b.irq)
		err = multierr.Append(err, r.drv.FreeIRQ(b.irq))
	}
	r.bound = nil
	for i := len(r.claimed) - 1; i >= 0; i-- {
		c := r.claimed[i]
		debug.Trace("Free %s line %d", c.role, c.line)
		err = multierr.Append(err, r.drv.Free(c.line))
	}
	r.claimed = nil
	return err
}

// IRQBinding describes one bound edge handler.
type IRQBinding struct {
	Role string   `json:"role"`
	Line int      `json:"line"`
	IRQ  gpio.IRQ `json:"irq"`
}

func (r *resources) bindings() []IRQBinding {
	out := make([]IRQBinding, 0, len(r.bound))
	for _, b := range r.bound {
		out = append(out, IRQBinding{Role: b.role.String(), Line: r.lines[b.role], IRQ: b.irq})
	}
	return out
}
