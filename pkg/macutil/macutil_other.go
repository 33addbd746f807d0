//go:build !darwin
// +build !darwin

package macutil

import "errors"

var errNotDarwin = errors.New("not running on darwin")

// CheckRosetta returns nil: Rosetta only exists on darwin.
func CheckRosetta() error {
	return nil
}

// IsARM64E always fails outside of darwin.
func IsARM64E() (bool, error) {
	return false, errNotDarwin
}

// Host describes the machine kmem runs on.
type Host struct {
	Machine   string
	OSRelease string
	OSBuild   string
}

// HostInfo returns an empty Host outside of darwin.
func HostInfo() Host {
	return Host{}
}
