package jitlink

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"math"
)

// applyReloc writes one fixup into mem at off. S is the resolved target
// address of the referenced symbol, A the addend, P the target address
// of the fixup location. mem is local storage; S and P are target-space
// values, so the same code works when sections are remapped for
// deferred execution.
func applyReloc(machine elf.Machine, mem []byte, off uint64, typ uint32, S, A, P uint64) error {
	switch machine {
	case elf.EM_X86_64:
		return applyAMD64(mem, off, typ, S, A, P)
	case elf.EM_AARCH64:
		return applyARM64(mem, off, typ, S, A, P)
	default:
		return fmt.Errorf("machine %v unsupported", machine)
	}
}

func applyAMD64(mem []byte, off uint64, typ uint32, S, A, P uint64) error {
	le := binary.LittleEndian
	switch elf.R_X86_64(typ) {
	case elf.R_X86_64_64:
		if err := bounds(mem, off, 8); err != nil {
			return err
		}
		le.PutUint64(mem[off:], S+uint64(int64(A)))
	case elf.R_X86_64_PC32, elf.R_X86_64_PLT32:
		v := int64(S) + int64(A) - int64(P)
		if v < math.MinInt32 || v > math.MaxInt32 {
			return fmt.Errorf("PC32 target out of range: %#x", v)
		}
		if err := bounds(mem, off, 4); err != nil {
			return err
		}
		le.PutUint32(mem[off:], uint32(int32(v)))
	case elf.R_X86_64_32:
		v := S + uint64(int64(A))
		if v > math.MaxUint32 {
			return fmt.Errorf("32-bit zero-extended target out of range: %#x", v)
		}
		if err := bounds(mem, off, 4); err != nil {
			return err
		}
		le.PutUint32(mem[off:], uint32(v))
	case elf.R_X86_64_32S:
		v := int64(S) + int64(A)
		if v < math.MinInt32 || v > math.MaxInt32 {
			return fmt.Errorf("32-bit sign-extended target out of range: %#x", v)
		}
		if err := bounds(mem, off, 4); err != nil {
			return err
		}
		le.PutUint32(mem[off:], uint32(int32(v)))
	default:
		return fmt.Errorf("relocation type %v unsupported", elf.R_X86_64(typ))
	}
	return nil
}

func applyARM64(mem []byte, off uint64, typ uint32, S, A, P uint64) error {
	le := binary.LittleEndian
	switch elf.R_AARCH64(typ) {
	case elf.R_AARCH64_ABS64:
		if err := bounds(mem, off, 8); err != nil {
			return err
		}
		le.PutUint64(mem[off:], S+uint64(int64(A)))
	case elf.R_AARCH64_PREL32:
		v := int64(S) + int64(A) - int64(P)
		if v < math.MinInt32 || v > math.MaxInt32 {
			return fmt.Errorf("PREL32 target out of range: %#x", v)
		}
		if err := bounds(mem, off, 4); err != nil {
			return err
		}
		le.PutUint32(mem[off:], uint32(int32(v)))
	case elf.R_AARCH64_CALL26, elf.R_AARCH64_JUMP26:
		v := int64(S) + int64(A) - int64(P)
		if v < -(1<<27) || v >= 1<<27 || v&3 != 0 {
			return fmt.Errorf("branch target out of range: %#x", v)
		}
		if err := bounds(mem, off, 4); err != nil {
			return err
		}
		ins := le.Uint32(mem[off:])
		ins = ins&^uint32(1<<26-1) | uint32(v>>2)&(1<<26-1)
		le.PutUint32(mem[off:], ins)
	case elf.R_AARCH64_ADR_PREL_PG_HI21:
		v := int64(S+uint64(int64(A))) &^ 0xfff
		v -= int64(P) &^ 0xfff
		if v < -(1<<32) || v >= 1<<32 {
			return fmt.Errorf("ADRP page out of range: %#x", v)
		}
		if err := bounds(mem, off, 4); err != nil {
			return err
		}
		page := uint32(v >> 12)
		ins := le.Uint32(mem[off:])
		ins &^= 0x60ffffe0 //immlo[30:29] immhi[23:5]
		ins |= (page & 3) << 29
		ins |= (page >> 2) & (1<<19 - 1) << 5
		le.PutUint32(mem[off:], ins)
	case elf.R_AARCH64_ADD_ABS_LO12_NC:
		if err := bounds(mem, off, 4); err != nil {
			return err
		}
		v := uint32(S+uint64(int64(A))) & 0xfff
		ins := le.Uint32(mem[off:])
		ins = ins&^uint32(0xfff<<10) | v<<10
		le.PutUint32(mem[off:], ins)
	default:
		return fmt.Errorf("relocation type %v unsupported", elf.R_AARCH64(typ))
	}
	return nil
}

func bounds(mem []byte, off, n uint64) error {
	if off+n > uint64(len(mem)) {
		return fmt.Errorf("fixup at %#x overruns section of %d bytes", off, len(mem))
	}
	return nil
}
