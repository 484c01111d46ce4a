// Package keyboard is the control core of the six-key GPIO keyboard: the
// configuration state machine, hardware resource acquisition and the
// delivery of the last pressed key to any number of blocked readers.
package keyboard

import (
	"fmt"
	"strings"
)

// KeyCode is the value delivered to readers. KeyUndefined means no key is
// pending and is never delivered.
type KeyCode uint8

const (
	KeyUndefined KeyCode = iota
	KeyRight
	KeyStart
	KeyUp
	KeyDown
	KeyEscape
	KeyLeft
)

var keyNames = [...]string{"UNDEFINED", "RIGHT", "START", "UP", "DOWN", "ESCAPE", "LEFT"}

func (k KeyCode) String() string {
	if int(k) < len(keyNames) {
		return keyNames[k]
	}
	return fmt.Sprintf("KeyCode(%d)", uint8(k))
}

// ASCII returns the byte handed to readers: the digit '0'+k.
func (k KeyCode) ASCII() byte { return '0' + byte(k) }

// ParseKey accepts a key name in any case or its digit.
func ParseKey(s string) (KeyCode, error) {
	for i, n := range keyNames[1:] {
		k := KeyCode(i + 1)
		if strings.EqualFold(s, n) || (len(s) == 1 && s[0] == k.ASCII()) {
			return k, nil
		}
	}
	return KeyUndefined, fmt.Errorf("%w: unknown key %q", ErrInvalidArgument, s)
}

// PinRole names a logical line of the keyboard.
type PinRole int

const (
	RoleVCC PinRole = iota
	RoleRight
	RoleStart
	RoleUp
	RoleDown
	RoleEscape
	RoleLeft
	RolePollIRQ
)

var roleNames = [...]string{"VCC", "RIGHT", "START", "UP", "DOWN", "ESCAPE", "LEFT", "POLL_IRQ"}

func (r PinRole) String() string {
	if r >= 0 && int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("PinRole(%d)", int(r))
}

// Key returns the code a key role produces, KeyUndefined for VCC and POLL_IRQ.
func (r PinRole) Key() KeyCode {
	if r >= RoleRight && r <= RoleLeft {
		return KeyCode(r)
	}
	return KeyUndefined
}

// keyRoles lists the key lines in request and bind order.
var keyRoles = []PinRole{RoleRight, RoleStart, RoleUp, RoleDown, RoleEscape, RoleLeft}

// pollOrder is the priority in which the polling source scans key lines.
var pollOrder = []PinRole{RoleRight, RoleStart, RoleUp, RoleDown, RoleLeft, RoleEscape}

// Mode selects how key events reach the core.
type Mode int

const (
	// ModeMultiLine binds one rising-edge handler per key line.
	ModeMultiLine Mode = iota + 1
	// ModeSingleLine binds one handler to an extra poll line and scans the
	// key lines when it fires.
	ModeSingleLine
)

func (m Mode) String() string {
	switch m {
	case ModeMultiLine:
		return "multi_line"
	case ModeSingleLine:
		return "single_line"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts the names used in configuration files.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "multi_line", "multi-line", "multi":
		return ModeMultiLine, nil
	case "single_line", "single-line", "single":
		return ModeSingleLine, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidArgument, s)
	}
}

// Command is a control request. The numbers match the keyboard ioctl
// command numbers.
type Command uint

const (
	CmdReset            Command = 0
	CmdConfigMultiLine  Command = 1
	CmdConfigSingleLine Command = 2
	CmdConfigPinmux     Command = 3

	// CmdUnknown is never recognized; it stands for garbled requests.
	CmdUnknown Command = 0xff
)

func (c Command) String() string {
	switch c {
	case CmdReset:
		return "reset"
	case CmdConfigMultiLine:
		return "multi-line"
	case CmdConfigSingleLine:
		return "single-line"
	case CmdConfigPinmux:
		return "pinmux"
	default:
		return fmt.Sprintf("Command(%d)", uint(c))
	}
}

// ParseCommand maps a command name to its Command. Unknown names return
// CmdUnknown and false.
func ParseCommand(s string) (Command, bool) {
	switch s {
	case "reset":
		return CmdReset, true
	case "multi-line", "multi_line":
		return CmdConfigMultiLine, true
	case "single-line", "single_line":
		return CmdConfigSingleLine, true
	case "pinmux":
		return CmdConfigPinmux, true
	default:
		return CmdUnknown, false
	}
}
