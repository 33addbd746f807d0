package macutil

import (
	"errors"

	"golang.org/x/sys/unix"
)

// CheckRosetta returns an error if the calling process is being translated
// by Apple Rosetta. A translated process would read the kernel with the
// wrong struct layouts.
func CheckRosetta() error {
	pt, err := unix.SysctlUint32("sysctl.proc_translated")
	if err != nil {
		return nil
	}
	if pt == 1 {
		return errors.New("can not run under Rosetta, check that the installed build of kmem is right for your CPU architecture")
	}
	return nil
}
