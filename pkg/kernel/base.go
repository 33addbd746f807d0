package kernel

import (
	"debug/macho"
	"encoding/binary"
	"fmt"

	"github.com/kmemtool/kmem/pkg/logflags"
)

// KernelLinkAddress is the unslid load address of arm64 kernels
// (VM_KERNEL_LINK_ADDRESS). It is also the lower bound of the base scan.
const KernelLinkAddress uint64 = 0xFFFFFFF007004000

const (
	// tagKernMemoryCPU is VM_KERN_MEMORY_CPU, the tag of per-CPU data.
	tagKernMemoryCPU = 9

	// DefaultPageSize is the arm64 kernel page size.
	DefaultPageSize uint64 = 0x4000

	machHeader64Size = 32
)

// Variant selects a CPU/MMU flavor whose struct layouts differ.
type Variant int

const (
	VariantARM64 Variant = iota
	VariantARM64E
)

func (v Variant) String() string {
	switch v {
	case VariantARM64:
		return "arm64"
	case VariantARM64E:
		return "arm64e"
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

// ParseVariant parses the names produced by Variant.String.
func ParseVariant(s string) (Variant, error) {
	switch s {
	case "arm64":
		return VariantARM64, nil
	case "arm64e":
		return VariantARM64E, nil
	}
	return 0, fmt.Errorf("unknown variant %q", s)
}

// variantLayout holds the struct offsets the base scan depends on.
type variantLayout struct {
	// rtclockDatapOff is offsetof(cpu_data_t, rtclock_datap).
	rtclockDatapOff uint64
}

var variantLayouts = map[Variant]variantLayout{
	VariantARM64:  {rtclockDatapOff: 0x198},
	VariantARM64E: {rtclockDatapOff: 0x190},
}

// Locator finds the kernel base by scanning backward from a pointer
// found in per-CPU data.
type Locator struct {
	Variant     Variant
	LinkAddress uint64
	PageSize    uint64
}

// Base returns the address of the kernel's Mach-O header. It trusts the
// slide published through TASK_DYLD_INFO when there is one and otherwise
// scans kernel memory. It is recomputed on every call. All errors wrap
// ErrKernelBaseUnknown.
func (k *Kernel) Base() (uint64, error) {
	task, err := k.tasks.Acquire()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrKernelBaseUnknown, err)
	}
	logger := logflags.LocatorLogger()

	if info, err := k.backend.DyldInfo(task); err == nil && info.AllImageInfoSize != 0 {
		slide := info.AllImageInfoSize
		logger.Debugf("kernel slide %#x from task_info", slide)
		return k.locator.LinkAddress + slide, nil
	} else if err != nil {
		logger.Debugf("task_info(TASK_DYLD_INFO) failed: %v", err)
	}

	base, err := k.locator.scan(k, task)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrKernelBaseUnknown, err)
	}
	return base, nil
}

func (l Locator) layout() (variantLayout, error) {
	lay, ok := variantLayouts[l.Variant]
	if !ok {
		return variantLayout{}, fmt.Errorf("no struct layout for %v", l.Variant)
	}
	return lay, nil
}

// scan finds the first per-CPU data region, follows its rtclock_datap
// pointer into the kernel's __DATA and walks back a page at a time until
// it reaches the Mach-O header of the kernel executable.
func (l Locator) scan(k *Kernel, task Task) (uint64, error) {
	logger := logflags.LocatorLogger()
	lay, err := l.layout()
	if err != nil {
		return 0, err
	}
	pageSize := l.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}

	for addr := uint64(0); ; {
		info, err := k.backend.NextRegion(task, addr, 0)
		if err != nil {
			logger.Debugf("no per-CPU data region found: %v", err)
			return 0, fmt.Errorf("no per-CPU data region: %w", err)
		}
		if info.Size == 0 {
			return 0, fmt.Errorf("region query returned an empty region at %#x", info.Addr)
		}
		if info.UserTag != tagKernMemoryCPU || info.Protection != ProtDefault {
			addr = info.Addr + info.Size
			continue
		}

		logger.Debugf("per-CPU data region at %#016x", info.Addr)
		datap, err := k.ReadUint64(info.Addr + lay.rtclockDatapOff)
		if err != nil {
			return 0, fmt.Errorf("reading rtclock_datap: %w", err)
		}
		return l.walkBack(k, datap&^(pageSize-1), pageSize)
	}
}

func (l Locator) walkBack(k *Kernel, cursor, pageSize uint64) (uint64, error) {
	logger := logflags.LocatorLogger()
	var raw [machHeader64Size]byte
	for {
		if cursor <= l.LinkAddress {
			logger.Debugf("reached link address %#016x", l.LinkAddress)
			return 0, ErrScanBoundsExceeded
		}
		cursor -= pageSize
		if err := k.ReadFull(cursor, raw[:]); err != nil {
			return 0, fmt.Errorf("reading header at %#x: %w", cursor, err)
		}
		if isKernelHeader(raw[:]) {
			logger.Debugf("kernel header at %#016x", cursor)
			return cursor, nil
		}
	}
}

// isKernelHeader reports whether b starts with a 64-bit arm64 MH_EXECUTE
// mach_header_64.
func isKernelHeader(b []byte) bool {
	var hdr macho.FileHeader
	hdr.Magic = binary.LittleEndian.Uint32(b[0:])
	hdr.Cpu = macho.Cpu(binary.LittleEndian.Uint32(b[4:]))
	hdr.Type = macho.Type(binary.LittleEndian.Uint32(b[12:]))
	return hdr.Magic == macho.Magic64 && hdr.Cpu == macho.CpuArm64 && hdr.Type == macho.TypeExec
}
