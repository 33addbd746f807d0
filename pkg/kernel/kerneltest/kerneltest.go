// Package kerneltest provides an in-memory kernel.Backend for tests.
package kerneltest

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kmemtool/kmem/pkg/kernel"
)

const simPageSize = 0x1000

var (
	// ErrInvalidAddress mimics KERN_INVALID_ADDRESS.
	ErrInvalidAddress = errors.New("(os/kern) invalid address")
	// ErrFailure mimics KERN_FAILURE.
	ErrFailure = errors.New("(os/kern) failure")
)

// Region is a simulated region. Children are only consulted when
// IsSubmap is set and must lie inside the region.
type Region struct {
	kernel.RegionInfo
	Children []Region
}

// Backend simulates the kernel task, its memory and its region tree.
// Fields may be changed between calls; every method is safe for
// concurrent use.
type Backend struct {
	mu sync.Mutex

	// KernelTask is returned by TaskForPid(0) unless TaskForPidErr is set.
	KernelTask    kernel.Task
	TaskForPidErr error
	// SpecialPort is returned by HostSpecialPort(4) unless SpecialPortErr is set.
	SpecialPort    kernel.Task
	SpecialPortErr error
	// Owners maps ports to pids. KernelTask and SpecialPort default to 0.
	Owners map[kernel.Task]int

	Dyld    kernel.DyldInfo
	DyldErr error

	Regions []Region
	// OpaqueEnd makes the end of the region list fail with ErrFailure
	// instead of kernel.ErrNoMoreRegions.
	OpaqueEnd bool

	Page uint64

	// FailReadAt and FailWriteAt fail the chunk starting at the key.
	FailReadAt  map[uint64]error
	FailWriteAt map[uint64]error
	// ShortReadAt makes the chunk starting at the key move only the
	// given number of bytes.
	ShortReadAt map[uint64]int

	pages map[uint64][]byte

	TaskForPidCalls      int
	HostSpecialPortCalls int
	PidForTaskCalls      int
	DyldCalls            int
	RegionCalls          int
	Reads                []kernel.Chunk
	Writes               []kernel.Chunk
}

// New returns a backend with a working kernel task port and no memory.
func New() *Backend {
	return &Backend{
		KernelTask:  0x103,
		Owners:      map[kernel.Task]int{},
		FailReadAt:  map[uint64]error{},
		FailWriteAt: map[uint64]error{},
		ShortReadAt: map[uint64]int{},
		Page:        kernel.DefaultPageSize,
		pages:       map[uint64][]byte{},
	}
}

// Map makes [addr, addr+len(data)) readable and writable with the given
// contents.
func (b *Backend) Map(addr uint64, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range data {
		b.page(addr + uint64(i))[(addr+uint64(i))%simPageSize] = data[i]
	}
}

// MapZero maps size zero bytes at addr.
func (b *Backend) MapZero(addr uint64, size int) {
	b.Map(addr, make([]byte, size))
}

// Bytes returns a copy of simulated memory, panicking on unmapped bytes.
func (b *Backend) Bytes(addr uint64, size int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, size)
	for i := range out {
		p, ok := b.pages[(addr+uint64(i))/simPageSize]
		if !ok {
			panic(fmt.Sprintf("kerneltest: %#x is not mapped", addr+uint64(i)))
		}
		out[i] = p[(addr+uint64(i))%simPageSize]
	}
	return out
}

func (b *Backend) page(addr uint64) []byte {
	n := addr / simPageSize
	p, ok := b.pages[n]
	if !ok {
		p = make([]byte, simPageSize)
		b.pages[n] = p
	}
	return p
}

func (b *Backend) mapped(addr uint64, size int) bool {
	for off := 0; off < size; {
		a := addr + uint64(off)
		if _, ok := b.pages[a/simPageSize]; !ok {
			return false
		}
		off += int(simPageSize - a%simPageSize)
	}
	return true
}

func (b *Backend) owner(task kernel.Task) (int, bool) {
	if pid, ok := b.Owners[task]; ok {
		return pid, true
	}
	if task != kernel.TaskNull && (task == b.KernelTask || task == b.SpecialPort) {
		return 0, true
	}
	return 0, false
}

func (b *Backend) TaskForPid(pid int) (kernel.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.TaskForPidCalls++
	if b.TaskForPidErr != nil {
		return kernel.TaskNull, b.TaskForPidErr
	}
	if pid != 0 {
		return kernel.TaskNull, ErrFailure
	}
	return b.KernelTask, nil
}

func (b *Backend) HostSpecialPort(index int) (kernel.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.HostSpecialPortCalls++
	if b.SpecialPortErr != nil {
		return kernel.TaskNull, b.SpecialPortErr
	}
	if index != kernel.HostSpecialPortKernelTask {
		return kernel.TaskNull, ErrFailure
	}
	return b.SpecialPort, nil
}

func (b *Backend) PidForTask(task kernel.Task) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.PidForTaskCalls++
	pid, ok := b.owner(task)
	if !ok {
		return -1, ErrFailure
	}
	return pid, nil
}

func (b *Backend) checkTask(task kernel.Task) error {
	if pid, ok := b.owner(task); !ok || pid != 0 {
		return ErrFailure
	}
	return nil
}

func (b *Backend) ReadChunk(task kernel.Task, addr uint64, buf []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Reads = append(b.Reads, kernel.Chunk{Addr: addr, Len: len(buf)})
	if err := b.checkTask(task); err != nil {
		return 0, err
	}
	if len(buf) > kernel.MaxChunkSize {
		return 0, fmt.Errorf("kerneltest: %d byte read exceeds the MIG limit", len(buf))
	}
	if err := b.FailReadAt[addr]; err != nil {
		return 0, err
	}
	n := len(buf)
	if short, ok := b.ShortReadAt[addr]; ok && short < n {
		n = short
	}
	if !b.mapped(addr, n) {
		return 0, ErrInvalidAddress
	}
	for i := 0; i < n; i++ {
		a := addr + uint64(i)
		buf[i] = b.pages[a/simPageSize][a%simPageSize]
	}
	return n, nil
}

func (b *Backend) WriteChunk(task kernel.Task, addr uint64, data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Writes = append(b.Writes, kernel.Chunk{Addr: addr, Len: len(data)})
	if err := b.checkTask(task); err != nil {
		return 0, err
	}
	if len(data) > kernel.MaxChunkSize {
		return 0, fmt.Errorf("kerneltest: %d byte write exceeds the MIG limit", len(data))
	}
	if err := b.FailWriteAt[addr]; err != nil {
		return 0, err
	}
	if !b.mapped(addr, len(data)) {
		return 0, ErrInvalidAddress
	}
	for i := range data {
		a := addr + uint64(i)
		b.pages[a/simPageSize][a%simPageSize] = data[i]
	}
	return len(data), nil
}

func (b *Backend) DyldInfo(task kernel.Task) (kernel.DyldInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.DyldCalls++
	if err := b.checkTask(task); err != nil {
		return kernel.DyldInfo{}, err
	}
	return b.Dyld, b.DyldErr
}

func (b *Backend) PageSize() uint64 {
	return b.Page
}

// NextRegion behaves like mach_vm_region_recurse: it returns the first
// region ending after addr, entering submaps while depth allows. A submap
// with nothing left after addr is skipped in favor of its next sibling.
func (b *Backend) NextRegion(task kernel.Task, addr uint64, depth uint32) (kernel.RegionInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.RegionCalls++
	if err := b.checkTask(task); err != nil {
		return kernel.RegionInfo{}, err
	}
	if info, ok := nextRegion(b.Regions, addr, depth, 0); ok {
		return info, nil
	}
	if b.OpaqueEnd {
		return kernel.RegionInfo{}, ErrFailure
	}
	return kernel.RegionInfo{}, kernel.ErrNoMoreRegions
}

func nextRegion(regions []Region, addr uint64, depth, level uint32) (kernel.RegionInfo, bool) {
	sorted := make([]Region, len(regions))
	copy(sorted, regions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Addr < sorted[j].Addr })

	for _, r := range sorted {
		if r.Addr+r.Size <= addr {
			continue
		}
		if r.IsSubmap && depth > level {
			if info, ok := nextRegion(r.Children, addr, depth, level+1); ok {
				return info, true
			}
			continue
		}
		info := r.RegionInfo
		info.Depth = level
		return info, true
	}
	return kernel.RegionInfo{}, false
}
