//go:build linux

package mem

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

func writeWord(path string, addr, value uint32) error {
	if addr%4 != 0 {
		return fmt.Errorf("register 0x%08x is not word aligned", addr)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	pageSize := uint32(unix.Getpagesize())
	base := addr &^ (pageSize - 1)
	page, err := unix.Mmap(int(f.Fd()), int64(base), int(pageSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("map 0x%08x: %w", base, err)
	}

	reg := (*uint32)(unsafe.Pointer(&page[addr-base]))
	*reg = value

	if err := unix.Munmap(page); err != nil {
		return fmt.Errorf("unmap 0x%08x: %w", base, err)
	}
	return nil
}
