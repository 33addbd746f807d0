package kernel

// Task is a Mach task port name. It is only meaningful to the Backend
// that produced it.
type Task uint32

// TaskNull is the absent task port.
const TaskNull Task = 0

// HostSpecialPortKernelTask is the host special port index that jailbreaks
// use to stash the kernel task port (HOST_LOCAL_NODE, 4).
const HostSpecialPortKernelTask = 4

// TaskPorts acquires and validates task ports.
type TaskPorts interface {
	// TaskForPid returns the task port of pid.
	TaskForPid(pid int) (Task, error)
	// HostSpecialPort returns the host special port at index.
	HostSpecialPort(index int) (Task, error)
	// PidForTask returns the pid owning task.
	PidForTask(task Task) (int, error)
}

// Memory moves at most one transport chunk per call.
type Memory interface {
	// ReadChunk reads len(buf) bytes at addr and returns the count read.
	ReadChunk(task Task, addr uint64, buf []byte) (int, error)
	// WriteChunk writes data at addr and returns the count written.
	WriteChunk(task Task, addr uint64, data []byte) (int, error)
}

// RegionQuerier returns the first region at or after addr, descending into
// submaps up to depth levels.
type RegionQuerier interface {
	NextRegion(task Task, addr uint64, depth uint32) (RegionInfo, error)
}

// TaskInfo exposes the TASK_DYLD_INFO flavor of task_info.
type TaskInfo interface {
	DyldInfo(task Task) (DyldInfo, error)
}

// Backend groups every primitive the package needs.
type Backend interface {
	TaskPorts
	Memory
	RegionQuerier
	TaskInfo
	// PageSize returns the kernel page size.
	PageSize() uint64
}

// DyldInfo mirrors task_dyld_info_data_t. On kernels that publish it,
// AllImageInfoSize holds the kernel slide.
type DyldInfo struct {
	AllImageInfoAddr   uint64
	AllImageInfoSize   uint64
	AllImageInfoFormat int32
}

// RegionInfo is what mach_vm_region_recurse reports for one region
// (vm_region_submap_info_data_64_t plus address, size and depth).
type RegionInfo struct {
	Addr  uint64
	Size  uint64
	Depth uint32

	Protection    Protection
	MaxProtection Protection
	Inheritance   Inheritance
	Offset        uint64
	UserTag       uint32

	PagesResident         uint32
	PagesSharedNowPrivate uint32
	PagesSwappedOut       uint32
	PagesDirtied          uint32
	RefCount              uint32
	ShadowDepth           uint16
	ExternalPager         uint8
	ShareMode             ShareMode
	IsSubmap              bool
	Behavior              int32
	ObjectID              uint32
	UserWiredCount        uint16
	PagesReusable         uint32
}
