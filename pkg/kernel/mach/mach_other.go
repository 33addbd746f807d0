//go:build !darwin || !cgo
// +build !darwin !cgo

package mach

import "github.com/kmemtool/kmem/pkg/kernel"

// Backend is unavailable on this platform.
type Backend struct {
	kernel.Backend
}

// New always fails with kernel.ErrUnsupported.
func New() (*Backend, error) {
	return nil, kernel.ErrUnsupported
}
