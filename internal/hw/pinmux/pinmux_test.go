package pinmux

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestTranslate_TableRoundTrip(t *testing.T) {
	tables := []struct {
		connector int
		offsets   *[46]uint32
		values    *[46]uint32
	}{
		{8, &p8Offset, &p8Value},
		{9, &p9Offset, &p9Value},
	}
	for _, tb := range tables {
		for i := range tb.offsets {
			pin := PinID(tb.connector*100 + i + 1)
			addr, value := Translate(pin)
			if tb.offsets[i] == 0 && tb.values[i] == 0 {
				assert.Equal(t, addr, uint32(0), "pin %v", pin)
				assert.Equal(t, value, uint32(0), "pin %v", pin)
				continue
			}
			assert.Equal(t, addr, ControlModuleBase+tb.offsets[i], "pin %v", pin)
			assert.Equal(t, value, tb.values[i], "pin %v", pin)
			// Pad registers live in the 0x800..0x9ff window of the control module.
			assert.Assert(t, addr >= ControlModuleBase+0x800 && addr < ControlModuleBase+0xa00, "pin %v addr 0x%x", pin, addr)
		}
	}
}

func TestTranslate_KnownPins(t *testing.T) {
	cases := []struct {
		pin   PinID
		addr  uint32
		value uint32
	}{
		{911, 0x44e10870, 30},
		{912, 0x44e10878, 60},
		{914, 0x44e10848, 50},
		{925, 0x44e109ac, 117},
		{927, 0x44e109a4, 115},
		{931, 0x44e10990, 110},
		{803, 0x44e10818, 38},
		{846, 0x44e108a4, 71},
	}
	for _, tc := range cases {
		t.Run(tc.pin.String(), func(t *testing.T) {
			addr, value := Translate(tc.pin)
			assert.Equal(t, addr, tc.addr)
			assert.Equal(t, value, tc.value)
			assert.Assert(t, tc.pin.Valid())
		})
	}
}

func TestTranslate_Sentinel(t *testing.T) {
	cases := []struct {
		name string
		pin  PinID
	}{
		{"zero", 0},
		{"ground_p9_01", 901},
		{"power_p9_05", 905},
		{"ground_p8_01", 801},
		{"pin_zero_on_connector", 900},
		{"past_end_p9_47", 947},
		{"past_end_p8_99", 899},
		{"unknown_connector", 712},
		{"large", 1012},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			addr, value := Translate(tc.pin)
			assert.Equal(t, addr, uint32(0))
			assert.Equal(t, value, uint32(0))
			assert.Assert(t, !tc.pin.Valid())
		})
	}
}

func TestPinID_Parts(t *testing.T) {
	p := PinID(927)
	assert.Equal(t, p.Connector(), 9)
	assert.Equal(t, p.Number(), 27)
	assert.Equal(t, p.String(), "P9_27")
}

func TestPadWords(t *testing.T) {
	assert.Equal(t, OutputPullUp, uint32(0x17))
	assert.Equal(t, InputPullDown, uint32(0x27))
	assert.Equal(t, InputPullUp, uint32(0x37))
	assert.Equal(t, OutputPullDown, uint32(0x07))
}

func TestBank(t *testing.T) {
	assert.Equal(t, Bank(30), 0)
	assert.Equal(t, Bank(60), 1)
	assert.Equal(t, Bank(117), 3)
}
