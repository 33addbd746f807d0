// Package kernel gives a user space process read/write access to the
// kernel's address space through the kernel task port, and walks and
// classifies the regions mapped into it.
//
// Every call into the kernel goes through a Backend, which binds the Mach
// primitives: task_for_pid / host_get_special_port / pid_for_task to get
// the port, vm_read_overwrite / vm_write to move memory, and
// mach_vm_region_recurse to query regions. The Mach VM interface is a MIG
// subsystem and refuses payloads larger than a page, so Kernel splits every
// transfer into chunks of at most MaxChunkSize bytes and stops at the first
// chunk that fails. Callers must always compare the returned count with the
// length they asked for.
//
// The task port is acquired once per process by a TaskCache and handed to
// every operation through the Kernel value.
package kernel
