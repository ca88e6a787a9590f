//go:build unix

package kvstore

import (
	"os"
	"syscall"
)

// acquireFileLock blocks until an exclusive flock is held.
// flock() is advisory - cooperating processes must check the lock
func acquireFileLock(f *os.File) error {
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX)
		if err != syscall.EINTR {
			return err
		}
	}
}

func releaseFileLock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
