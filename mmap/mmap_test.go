//go:build !windows

package mmap

import "testing"

func TestMapProtectUnmap(t *testing.T) {
	b, err := Map(Round(100))
	if err != nil {
		t.Fatal(err)
	}
	b[0] = 0xc3
	if err = Protect(b, ReadExec); err != nil {
		t.Fatal(err)
	}
	if b[0] != 0xc3 {
		t.Fatal("content lost across protect")
	}
	if err = Protect(b, ReadWrite); err != nil {
		t.Fatal(err)
	}
	if err = Unmap(b); err != nil {
		t.Fatal(err)
	}
}

func TestRound(t *testing.T) {
	for in, want := range map[int]int{0: 0, 1: PageSize, PageSize: PageSize, PageSize + 1: 2 * PageSize} {
		if got := Round(in); got != want {
			t.Fatalf("Round(%d) = %d, want %d", in, got, want)
		}
	}
}
