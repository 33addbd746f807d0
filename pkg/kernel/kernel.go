package kernel

// Kernel is the process-wide handle on the kernel's address space. It owns
// the TaskCache and passes the acquired port explicitly to every primitive.
type Kernel struct {
	backend   Backend
	tasks     *TaskCache
	chunkSize int
	locator   Locator
}

// Options tunes a Kernel. The zero value is valid.
type Options struct {
	// ChunkSize is the largest transfer per call. Zero or values above
	// MaxChunkSize select MaxChunkSize.
	ChunkSize int
	// Variant selects the rtclock_datap offset of the base scan.
	Variant Variant
	// LinkAddress overrides the unslid kernel link address.
	LinkAddress uint64
	// PageSize overrides the backend's kernel page size.
	PageSize uint64
}

// New returns a Kernel driving backend.
func New(backend Backend, opts Options) *Kernel {
	chunk := opts.ChunkSize
	if chunk <= 0 || chunk > MaxChunkSize {
		chunk = MaxChunkSize
	}
	loc := Locator{
		Variant:     opts.Variant,
		LinkAddress: opts.LinkAddress,
		PageSize:    opts.PageSize,
	}
	if loc.LinkAddress == 0 {
		loc.LinkAddress = KernelLinkAddress
	}
	if loc.PageSize == 0 {
		loc.PageSize = backend.PageSize()
	}
	return &Kernel{
		backend:   backend,
		tasks:     NewTaskCache(backend),
		chunkSize: chunk,
		locator:   loc,
	}
}

// Task acquires (once) and returns the kernel task port.
func (k *Kernel) Task() (Task, error) {
	return k.tasks.Acquire()
}

// ChunkSize returns the per call transfer limit in use.
func (k *Kernel) ChunkSize() int {
	return k.chunkSize
}

// Walker returns a region walker over the kernel task.
func (k *Kernel) Walker() *Walker {
	return &Walker{tasks: k.tasks, query: k.backend}
}

// LinkAddress returns the unslid kernel link address in use. Base minus
// LinkAddress is the kernel slide.
func (k *Kernel) LinkAddress() uint64 {
	return k.locator.LinkAddress
}
