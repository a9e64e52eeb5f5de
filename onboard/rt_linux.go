// +build linux

package onboard

import "golang.org/x/sys/unix"

// LockMemory pins the process memory so the control loop never waits on a page fault.
func LockMemory() error {
	return unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE)
}
