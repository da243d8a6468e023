// Package mmap holds the raw memory-mapping primitives the executable
// memory allocator is built on.
package mmap

// Prot is the protection requested for a mapping.
type Prot int

const (
	None Prot = iota
	ReadOnly
	ReadWrite
	ReadExec
)

// PageSize is the allocation granularity of Map.
const PageSize = 4096

// Round rounds size up to the mapping granularity.
func Round(size int) int {
	return (size + PageSize - 1) &^ (PageSize - 1)
}
