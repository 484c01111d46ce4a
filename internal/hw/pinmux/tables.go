package pinmux

// Header tables, zero-based by physical pin number. Offsets are relative to
// ControlModuleBase (AM335x TRM, table 9-10). Values are GPIO line numbers
// (bank*32 + bit). Power, ground, analog and dedicated pins are 0,0.

var p8Offset = [46]uint32{
	0, 0, 0x818, 0x81c, 0x808, 0x80c, 0x890, 0x894, 0x89c, 0x898, // P8_01..P8_10
	0x834, 0x830, 0x824, 0x828, 0x83c, 0x838, 0x82c, 0x88c, 0x820, 0x884, // P8_11..P8_20
	0x880, 0x814, 0x810, 0x804, 0x800, 0x87c, 0x8e0, 0x8e8, 0x8e4, 0x8ec, // P8_21..P8_30
	0x8d8, 0x8dc, 0x8d4, 0x8cc, 0x8d0, 0x8c8, 0x8c0, 0x8c4, 0x8b8, 0x8bc, // P8_31..P8_40
	0x8b0, 0x8b4, 0x8a8, 0x8ac, 0x8a0, 0x8a4, // P8_41..P8_46
}

var p8Value = [46]uint32{
	0, 0, 38, 39, 34, 35, 66, 67, 69, 68,
	45, 44, 23, 26, 47, 46, 27, 65, 22, 63,
	62, 37, 36, 33, 32, 61, 86, 88, 87, 89,
	10, 11, 9, 81, 8, 80, 78, 79, 76, 77,
	74, 75, 72, 73, 70, 71,
}

var p9Offset = [46]uint32{
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, // P9_01..P9_10
	0x870, 0x878, 0x874, 0x848, 0x840, 0x84c, 0x95c, 0x958, 0x97c, 0x978, // P9_11..P9_20
	0x954, 0x950, 0x844, 0x984, 0x9ac, 0x980, 0x9a4, 0x99c, 0x994, 0x998, // P9_21..P9_30
	0x990, 0, 0, 0, 0, 0, 0, 0, 0, 0, // P9_31..P9_40
	0x9b4, 0x964, 0, 0, 0, 0, // P9_41..P9_46
}

var p9Value = [46]uint32{
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	30, 60, 31, 50, 48, 51, 5, 4, 13, 12,
	3, 2, 49, 15, 117, 14, 115, 113, 111, 112,
	110, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	20, 7, 0, 0, 0, 0,
}
