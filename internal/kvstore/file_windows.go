//go:build windows

package kvstore

import (
	"os"
	"syscall"
	"unsafe"
)

var (
	kernel32         = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx   = kernel32.NewProc("LockFileEx")
	procUnlockFileEx = kernel32.NewProc("UnlockFileEx")
)

const lockfileExclusiveLock = 0x00000002

// acquireFileLock blocks until an exclusive LockFileEx lock is held
func acquireFileLock(f *os.File) error {
	handle := syscall.Handle(f.Fd())
	overlapped := syscall.Overlapped{}

	r1, _, err := procLockFileEx.Call(
		uintptr(handle),
		uintptr(lockfileExclusiveLock),
		0,
		uintptr(1),
		0,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if r1 == 0 {
		return err
	}
	return nil
}

func releaseFileLock(f *os.File) error {
	handle := syscall.Handle(f.Fd())
	overlapped := syscall.Overlapped{}

	r1, _, err := procUnlockFileEx.Call(
		uintptr(handle),
		0,
		uintptr(1),
		0,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if r1 == 0 {
		return err
	}
	return nil
}
