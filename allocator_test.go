package jitlink

import (
	"testing"
	"unsafe"
)

func sliceAddr(b []byte) uintptr { return uintptr(unsafe.Pointer(&b[0])) }

func TestArenaAlignment(t *testing.T) {
	a := NewArenaAllocator()
	for _, align := range []uint64{1, 8, 16, 64, 4096} {
		b, err := a.Code(100, align)
		if err != nil {
			t.Fatal(err)
		}
		if len(b) != 100 {
			t.Fatalf("got %d bytes", len(b))
		}
		if addr := sliceAddr(b); addr%uintptr(align) != 0 {
			t.Fatalf("align %d violated: %#x", align, addr)
		}
	}
	if err := a.Finalize(); err != nil {
		t.Fatal(err)
	}
	if err := a.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestArenaZeroed(t *testing.T) {
	a := NewArenaAllocator()
	b, err := a.Data(64, 8, true)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d = %d", i, v)
		}
	}
}
