//go:build !linux

package mem

import "fmt"

func writeWord(path string, addr, value uint32) error {
	return fmt.Errorf("register 0x%08x: %s access requires linux", addr, path)
}
