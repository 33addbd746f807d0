package kernel

import (
	"errors"
	"fmt"
)

var (
	// ErrCapabilityDenied is returned when the kernel task port could not
	// be acquired or resolved to a task other than the kernel's.
	ErrCapabilityDenied = errors.New("could not get kernel task port")

	// ErrTransport is wrapped by TransferError when a vm_read or vm_write
	// call itself fails.
	ErrTransport = errors.New("transport failure")

	// ErrShortTransfer is returned by helpers that need the whole range.
	ErrShortTransfer = errors.New("short transfer")

	// ErrNotFound is returned by Find when the pattern does not occur in
	// the bytes that could be read.
	ErrNotFound = errors.New("pattern not found")

	// ErrKernelBaseUnknown is wrapped by every error returned by Base.
	ErrKernelBaseUnknown = errors.New("could not determine kernel base")

	// ErrScanBoundsExceeded is returned when the backward page walk
	// reaches the kernel link address without finding a Mach-O header.
	ErrScanBoundsExceeded = errors.New("scan passed the kernel link address")

	// ErrNoMoreRegions may be returned by a RegionQuerier that can tell
	// the end of the address space apart from a failed query.
	ErrNoMoreRegions = errors.New("no more regions")

	// ErrUnsupported is returned by backends on platforms without Mach.
	ErrUnsupported = errors.New("kernel memory access is not supported on this platform")
)

// SizeUnknown is the count returned together with ErrCapabilityDenied, so
// that callers comparing counts never mistake it for an empty transfer.
const SizeUnknown = -1

// TransferError describes a transport call that failed. N is the number
// of bytes moved before the failing chunk.
type TransferError struct {
	Op   string
	Addr uint64
	Len  int
	N    int
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %#x+%#x failed after %#x bytes: %v", e.Op, e.Addr, e.Len, e.N, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransport) hold for every TransferError.
func (e *TransferError) Is(target error) bool { return target == ErrTransport }
