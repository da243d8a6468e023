//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

// Map reserves size bytes of anonymous private read-write memory.
func Map(size int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, os.NewSyscallError("mmap", err)
	}
	return b, nil
}

// Protect switches the protection of a mapping returned by Map.
func Protect(b []byte, p Prot) error {
	var prot int
	switch p {
	case ReadOnly:
		prot = unix.PROT_READ
	case ReadWrite:
		prot = unix.PROT_READ | unix.PROT_WRITE
	case ReadExec:
		prot = unix.PROT_READ | unix.PROT_EXEC
	default:
		prot = unix.PROT_NONE
	}
	if err := unix.Mprotect(b, prot); err != nil {
		return os.NewSyscallError("mprotect", err)
	}
	return nil
}

// Unmap releases a mapping returned by Map.
func Unmap(b []byte) error {
	if err := unix.Munmap(b); err != nil {
		return os.NewSyscallError("munmap", err)
	}
	return nil
}
