package kernel

import (
	"fmt"
	"sync"

	"github.com/kmemtool/kmem/pkg/logflags"
)

// kernelPid is the pid that owns the kernel task.
const kernelPid = 0

// TaskCache acquires the kernel task port once and remembers the outcome,
// success or denial, for the life of the process. It is safe for
// concurrent use; the first acquisition wins.
type TaskCache struct {
	ports TaskPorts

	mu   sync.Mutex
	done bool
	task Task
	err  error
}

// NewTaskCache returns a TaskCache that acquires through ports.
func NewTaskCache(ports TaskPorts) *TaskCache {
	return &TaskCache{ports: ports}
}

// Acquire returns the kernel task port, acquiring it on the first call.
// task_for_pid(0) is tried first and host special port 4 second; either
// result is only trusted if pid_for_task reports the kernel.
func (c *TaskCache) Acquire() (Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		c.task, c.err = acquireKernelTask(c.ports)
		c.done = true
	}
	return c.task, c.err
}

// Get returns the memoized result without attempting an acquisition. It
// reports ErrCapabilityDenied if Acquire was never called.
func (c *TaskCache) Get() (Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		return TaskNull, ErrCapabilityDenied
	}
	return c.task, c.err
}

func acquireKernelTask(ports TaskPorts) (Task, error) {
	logger := logflags.KernelLogger()

	task, err := ports.TaskForPid(kernelPid)
	if err != nil || task == TaskNull {
		logger.Debugf("task_for_pid(0) failed: %v", err)
		task, err = ports.HostSpecialPort(HostSpecialPortKernelTask)
		if err != nil || task == TaskNull {
			logger.Debugf("host_get_special_port(%d) failed: %v", HostSpecialPortKernelTask, err)
			return TaskNull, ErrCapabilityDenied
		}
	}

	pid, err := ports.PidForTask(task)
	if err != nil {
		logger.Debugf("pid_for_task(%#x) failed: %v", task, err)
		return TaskNull, ErrCapabilityDenied
	}
	if pid != kernelPid {
		logger.Debugf("port %#x belongs to pid %d, not the kernel", task, pid)
		return TaskNull, fmt.Errorf("%w: port belongs to pid %d", ErrCapabilityDenied, pid)
	}

	logger.Debugf("kernel task port %#x", task)
	return task, nil
}
