//go:build !linux

package gpio

import "errors"

// CdevDriver is only available on linux.
type CdevDriver struct{ Driver }

// NewCdevDriver always fails outside linux.
func NewCdevDriver(chip string) (*CdevDriver, error) {
	return nil, errors.New("gpiocdev backend requires linux")
}
