package keyboard

import (
	"fmt"

	"github.com/cjeanneret/simplekbd/internal/hw/pinmux"
)

// PinConfiguration maps every role to a header pin. PollIRQ may be zero
// when single-line mode is not used.
type PinConfiguration struct {
	PollIRQ pinmux.PinID `json:"poll_irq" yaml:"poll_irq"`
	VCC     pinmux.PinID `json:"vcc" yaml:"vcc"`
	Right   pinmux.PinID `json:"right" yaml:"right"`
	Start   pinmux.PinID `json:"start" yaml:"start"`
	Up      pinmux.PinID `json:"up" yaml:"up"`
	Down    pinmux.PinID `json:"down" yaml:"down"`
	Escape  pinmux.PinID `json:"escape" yaml:"escape"`
	Left    pinmux.PinID `json:"left" yaml:"left"`
}

// DefaultPins is the wiring of the reference keyboard cape.
func DefaultPins() PinConfiguration {
	return PinConfiguration{
		PollIRQ: 931,
		VCC:     911,
		Right:   912,
		Start:   913,
		Up:      914,
		Down:    917,
		Escape:  925,
		Left:    927,
	}
}

// Pin returns the header pin assigned to role.
func (c PinConfiguration) Pin(role PinRole) pinmux.PinID {
	switch role {
	case RoleVCC:
		return c.VCC
	case RoleRight:
		return c.Right
	case RoleStart:
		return c.Start
	case RoleUp:
		return c.Up
	case RoleDown:
		return c.Down
	case RoleEscape:
		return c.Escape
	case RoleLeft:
		return c.Left
	case RolePollIRQ:
		return c.PollIRQ
	}
	return 0
}

// Validate checks that VCC and all six key roles are assigned usable,
// distinct pins, and that the poll pin, if set, is usable and distinct too.
func (c PinConfiguration) Validate() error {
	seen := make(map[pinmux.PinID]PinRole)
	roles := append([]PinRole{RoleVCC}, keyRoles...)
	if c.PollIRQ != 0 {
		roles = append(roles, RolePollIRQ)
	}
	for _, role := range roles {
		pin := c.Pin(role)
		if pin == 0 {
			return fmt.Errorf("%w: no pin assigned to %s", ErrInvalidArgument, role)
		}
		if !pin.Valid() {
			return fmt.Errorf("%w: %s pin %d (%s) is not a usable GPIO pad", ErrInvalidArgument, role, pin, pin)
		}
		if other, dup := seen[pin]; dup {
			return fmt.Errorf("%w: pin %d assigned to both %s and %s", ErrInvalidArgument, pin, other, role)
		}
		seen[pin] = role
	}
	return nil
}
