//go:build darwin && cgo
// +build darwin,cgo

package mach

/*
#include <mach/mach.h>

static kern_return_t kmem_task_for_pid(int pid, mach_port_t *task) {
	return task_for_pid(mach_task_self(), pid, task);
}

static kern_return_t kmem_special_port(int index, mach_port_t *port) {
	return host_get_special_port(mach_host_self(), HOST_LOCAL_NODE, index, port);
}

static kern_return_t kmem_read(task_t task, uint64_t addr, void *buf, uint64_t size, uint64_t *outsize) {
	vm_size_t n = 0;
	kern_return_t kr = vm_read_overwrite(task, (vm_address_t)addr, (vm_size_t)size, (vm_address_t)buf, &n);
	*outsize = n;
	return kr;
}

static kern_return_t kmem_write(task_t task, uint64_t addr, void *buf, uint32_t size) {
	return vm_write(task, (vm_address_t)addr, (vm_offset_t)buf, (mach_msg_type_number_t)size);
}

static kern_return_t kmem_region(task_t task, uint64_t *addr, uint64_t *size, uint32_t *depth, vm_region_submap_info_data_64_t *info) {
	vm_address_t a = (vm_address_t)*addr;
	vm_size_t s = 0;
	natural_t d = *depth;
	mach_msg_type_number_t count = VM_REGION_SUBMAP_INFO_COUNT_64;
	kern_return_t kr = vm_region_recurse_64(task, &a, &s, &d, (vm_region_recurse_info_t)info, &count);
	*addr = a;
	*size = s;
	*depth = d;
	return kr;
}

static kern_return_t kmem_dyld_info(task_t task, task_dyld_info_data_t *info) {
	mach_msg_type_number_t count = TASK_DYLD_INFO_COUNT;
	return task_info(task, TASK_DYLD_INFO, (task_info_t)info, &count);
}

static uint64_t kmem_page_size(void) {
	return vm_kernel_page_size;
}
*/
import "C"
import (
	"fmt"
	"unsafe"

	"github.com/kmemtool/kmem/pkg/kernel"
	"github.com/kmemtool/kmem/pkg/macutil"
)

// Backend drives the kernel through the Mach primitives of the running
// host.
type Backend struct{}

// New returns the host Backend.
func New() (*Backend, error) {
	if err := macutil.CheckRosetta(); err != nil {
		return nil, err
	}
	return &Backend{}, nil
}

// kernError is a kern_return_t other than KERN_SUCCESS.
type kernError C.kern_return_t

func (e kernError) Error() string {
	return fmt.Sprintf("%s (%#x)", C.GoString(C.mach_error_string(C.mach_error_t(e))), int(e))
}

func (b *Backend) TaskForPid(pid int) (kernel.Task, error) {
	var port C.mach_port_t
	if kr := C.kmem_task_for_pid(C.int(pid), &port); kr != C.KERN_SUCCESS {
		return kernel.TaskNull, fmt.Errorf("task_for_pid(%d): %w", pid, kernError(kr))
	}
	return kernel.Task(port), nil
}

func (b *Backend) HostSpecialPort(index int) (kernel.Task, error) {
	var port C.mach_port_t
	if kr := C.kmem_special_port(C.int(index), &port); kr != C.KERN_SUCCESS {
		return kernel.TaskNull, fmt.Errorf("host_get_special_port(%d): %w", index, kernError(kr))
	}
	return kernel.Task(port), nil
}

func (b *Backend) PidForTask(task kernel.Task) (int, error) {
	var pid C.int
	if kr := C.pid_for_task(C.mach_port_name_t(task), &pid); kr != C.KERN_SUCCESS {
		return -1, fmt.Errorf("pid_for_task: %w", kernError(kr))
	}
	return int(pid), nil
}

func (b *Backend) ReadChunk(task kernel.Task, addr uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	var n C.uint64_t
	kr := C.kmem_read(C.task_t(task), C.uint64_t(addr), unsafe.Pointer(&buf[0]), C.uint64_t(len(buf)), &n)
	if kr != C.KERN_SUCCESS {
		return int(n), kernError(kr)
	}
	return int(n), nil
}

func (b *Backend) WriteChunk(task kernel.Task, addr uint64, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	kr := C.kmem_write(C.task_t(task), C.uint64_t(addr), unsafe.Pointer(&data[0]), C.uint32_t(len(data)))
	if kr != C.KERN_SUCCESS {
		return 0, kernError(kr)
	}
	// vm_write is all or nothing.
	return len(data), nil
}

func (b *Backend) NextRegion(task kernel.Task, addr uint64, depth uint32) (kernel.RegionInfo, error) {
	var (
		info C.vm_region_submap_info_data_64_t
		a    = C.uint64_t(addr)
		size C.uint64_t
		d    = C.uint32_t(depth)
	)
	kr := C.kmem_region(C.task_t(task), &a, &size, &d, &info)
	switch kr {
	case C.KERN_SUCCESS:
	case C.KERN_INVALID_ADDRESS:
		return kernel.RegionInfo{}, kernel.ErrNoMoreRegions
	default:
		return kernel.RegionInfo{}, kernError(kr)
	}
	return kernel.RegionInfo{
		Addr:                  uint64(a),
		Size:                  uint64(size),
		Depth:                 uint32(d),
		Protection:            kernel.Protection(info.protection),
		MaxProtection:         kernel.Protection(info.max_protection),
		Inheritance:           kernel.Inheritance(info.inheritance),
		Offset:                uint64(info.offset),
		UserTag:               uint32(info.user_tag),
		PagesResident:         uint32(info.pages_resident),
		PagesSharedNowPrivate: uint32(info.pages_shared_now_private),
		PagesSwappedOut:       uint32(info.pages_swapped_out),
		PagesDirtied:          uint32(info.pages_dirtied),
		RefCount:              uint32(info.ref_count),
		ShadowDepth:           uint16(info.shadow_depth),
		ExternalPager:         uint8(info.external_pager),
		ShareMode:             kernel.ShareMode(info.share_mode),
		IsSubmap:              info.is_submap != 0,
		Behavior:              int32(info.behavior),
		ObjectID:              uint32(info.object_id),
		UserWiredCount:        uint16(info.user_wired_count),
		PagesReusable:         uint32(info.pages_reusable),
	}, nil
}

func (b *Backend) DyldInfo(task kernel.Task) (kernel.DyldInfo, error) {
	var info C.task_dyld_info_data_t
	if kr := C.kmem_dyld_info(C.task_t(task), &info); kr != C.KERN_SUCCESS {
		return kernel.DyldInfo{}, fmt.Errorf("task_info(TASK_DYLD_INFO): %w", kernError(kr))
	}
	return kernel.DyldInfo{
		AllImageInfoAddr:   uint64(info.all_image_info_addr),
		AllImageInfoSize:   uint64(info.all_image_info_size),
		AllImageInfoFormat: int32(info.all_image_info_format),
	}, nil
}

func (b *Backend) PageSize() uint64 {
	return uint64(C.kmem_page_size())
}
