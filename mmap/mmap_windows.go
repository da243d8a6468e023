//go:build windows

package mmap

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Map reserves size bytes of committed read-write memory.
func Map(size int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, os.NewSyscallError("VirtualAlloc", err)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

// Protect switches the protection of a mapping returned by Map.
func Protect(b []byte, p Prot) error {
	var prot uint32
	switch p {
	case ReadOnly:
		prot = windows.PAGE_READONLY
	case ReadWrite:
		prot = windows.PAGE_READWRITE
	case ReadExec:
		prot = windows.PAGE_EXECUTE_READ
	default:
		prot = windows.PAGE_NOACCESS
	}
	var old uint32
	err := windows.VirtualProtect(uintptr(unsafe.Pointer(&b[0])), uintptr(len(b)), prot, &old)
	if err != nil {
		return os.NewSyscallError("VirtualProtect", err)
	}
	return nil
}

// Unmap releases a mapping returned by Map.
func Unmap(b []byte) error {
	err := windows.VirtualFree(uintptr(unsafe.Pointer(&b[0])), 0, windows.MEM_RELEASE)
	if err != nil {
		return os.NewSyscallError("VirtualFree", err)
	}
	return nil
}
