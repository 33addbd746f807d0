package kernel

import (
	"bytes"
	"fmt"
)

// MaxFindWindow bounds the scratch buffer Find is willing to allocate.
const MaxFindWindow = 64 << 20

// Find reads length bytes at addr and returns the address of the first
// occurrence of pattern in the bytes that could actually be read. A
// window larger than MaxFindWindow or an empty pattern reports
// ErrNotFound, as does a missing match.
func (k *Kernel) Find(addr uint64, length int, pattern []byte) (uint64, error) {
	if length <= 0 || length > MaxFindWindow || len(pattern) == 0 {
		return 0, ErrNotFound
	}
	buf := make([]byte, length)
	n, err := k.Read(addr, buf)
	if n <= 0 {
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return 0, ErrNotFound
	}
	i := bytes.Index(buf[:n], pattern)
	if i < 0 {
		return 0, ErrNotFound
	}
	return addr + uint64(i), nil
}
