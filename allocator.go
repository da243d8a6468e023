package jitlink

import (
	"fmt"
	"unsafe"

	"github.com/ZenLiuCN/jitlink/mmap"
)

// Allocator reserves and protects the memory a module's sections live
// in. One Allocator instance may back many modules; Finalize mutates
// shared process-wide bookkeeping and is therefore serialized by the
// Layer across every module sharing the instance.
//
// Implementations must return slices whose backing addresses stay
// stable until Release.
type Allocator interface {
	Code(size, align uint64) ([]byte, error)              //executable section storage
	Data(size, align uint64, zeroed bool) ([]byte, error) //data/rodata/bss storage
	Finalize() error                                      //apply final protections, register unwind metadata
	Deregister()                                          //drop registered unwind metadata
	Release() error                                       //return every mapping to the system
}

type mmapAllocator struct {
	code      [][]byte
	data      [][]byte
	protected int //code mappings below this index are already read-exec
}

// NewMmapAllocator returns an Allocator backed by anonymous mappings.
// Code pages are writable until Finalize flips them to read-execute.
func NewMmapAllocator() Allocator {
	return &mmapAllocator{}
}

func (m *mmapAllocator) Code(size, align uint64) ([]byte, error) {
	return m.acquire(size, align, &m.code)
}

func (m *mmapAllocator) Data(size, align uint64, zeroed bool) ([]byte, error) {
	// fresh anonymous pages are zero already
	return m.acquire(size, align, &m.data)
}

func (m *mmapAllocator) acquire(size, align uint64, into *[][]byte) ([]byte, error) {
	if align > mmap.PageSize {
		return nil, fmt.Errorf("alignment %d exceeds page size", align)
	}
	b, err := mmap.Map(mmap.Round(int(size)))
	if err != nil {
		return nil, err
	}
	*into = append(*into, b)
	return b[:size], nil
}

// Finalize protects code mapped since the previous Finalize. A shared
// instance is finalized once per module; earlier mappings stay as they
// are.
func (m *mmapAllocator) Finalize() error {
	for _, b := range m.code[m.protected:] {
		if err := mmap.Protect(b, mmap.ReadExec); err != nil {
			return err
		}
	}
	// unwind metadata registration would go here; the Go runtime keeps
	// its own frame information so there is nothing to register for the
	// objects this layer links
	m.protected = len(m.code)
	return nil
}

func (m *mmapAllocator) Deregister() {}

func (m *mmapAllocator) Release() error {
	var first error
	for _, b := range append(m.code, m.data...) {
		if err := mmap.Unmap(b); err != nil && first == nil {
			first = err
		}
	}
	m.code, m.data = nil, nil
	m.protected = 0
	return first
}

type arenaAllocator struct {
	chunks [][]byte
}

// NewArenaAllocator returns an Allocator backed by ordinary heap
// slices. Nothing it returns is executable; it serves tests and
// deferred-execution setups where sections are remapped to a target
// address space with MapSectionAddress.
func NewArenaAllocator() Allocator {
	return &arenaAllocator{}
}

func (a *arenaAllocator) Code(size, align uint64) ([]byte, error) {
	return a.acquire(size, align)
}

func (a *arenaAllocator) Data(size, align uint64, zeroed bool) ([]byte, error) {
	return a.acquire(size, align)
}

func (a *arenaAllocator) acquire(size, align uint64) ([]byte, error) {
	if align == 0 {
		align = 1
	}
	raw := make([]byte, size+align)
	base := uintptr(unsafe.Pointer(&raw[0]))
	off := uintptr(0)
	if r := base % uintptr(align); r != 0 {
		off = uintptr(align) - r
	}
	a.chunks = append(a.chunks, raw)
	return raw[off : off+uintptr(size) : off+uintptr(size)], nil
}

func (a *arenaAllocator) Finalize() error { return nil }

func (a *arenaAllocator) Deregister() {}

func (a *arenaAllocator) Release() error {
	a.chunks = nil
	return nil
}
