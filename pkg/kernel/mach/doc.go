// Package mach implements kernel.Backend on top of the Mach task port
// primitives of a darwin host (task_for_pid, vm_read_overwrite, vm_write,
// vm_region_recurse_64 and task_info). On every other platform New fails
// with kernel.ErrUnsupported.
package mach
