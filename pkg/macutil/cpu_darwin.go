package macutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	cpuTypeARM64      = 0x0100000c
	cpuSubtypeARM64E  = 2
	cpuSubtypeMask    = 0x00ffffff
	cpuTypeSysctl     = "hw.cputype"
	cpuSubtypeSysctl  = "hw.cpusubtype"
	osVersionSysctl   = "kern.osversion"
	osReleaseSysctl   = "kern.osrelease"
	machineNameSysctl = "hw.machine"
)

// IsARM64E reports whether the host CPU uses pointer authentication, which
// changes the layout of the kernel's per-CPU data.
func IsARM64E() (bool, error) {
	cpu, err := unix.SysctlUint32(cpuTypeSysctl)
	if err != nil {
		return false, fmt.Errorf("sysctl %s: %v", cpuTypeSysctl, err)
	}
	if cpu != cpuTypeARM64 {
		return false, fmt.Errorf("unsupported CPU type %#x", cpu)
	}
	sub, err := unix.SysctlUint32(cpuSubtypeSysctl)
	if err != nil {
		return false, fmt.Errorf("sysctl %s: %v", cpuSubtypeSysctl, err)
	}
	return sub&cpuSubtypeMask == cpuSubtypeARM64E, nil
}

// Host describes the machine kmem runs on.
type Host struct {
	Machine   string
	OSRelease string
	OSBuild   string
}

// HostInfo returns the machine model and kernel version. Missing values
// are left empty.
func HostInfo() Host {
	var h Host
	h.Machine, _ = unix.Sysctl(machineNameSysctl)
	h.OSRelease, _ = unix.Sysctl(osReleaseSysctl)
	h.OSBuild, _ = unix.Sysctl(osVersionSysctl)
	return h
}
