package elfobj

import (
	"debug/elf"
	"encoding/binary"
	"testing"
)

// buildObject produces a tiny relocatable object: .text with one
// global f and one local l, an undefined symbol ext, and one RELA
// fixup in .text against ext.
func buildObject(t *testing.T, etype elf.Type) []byte {
	t.Helper()
	le := binary.LittleEndian
	text := make([]byte, 16)

	strtab := []byte("\x00f\x00l\x00ext\x00")
	// null, section, local l, global f, undefined ext
	sym := func(name uint32, info byte, shndx uint16, value uint64) []byte {
		e := make([]byte, 24)
		le.PutUint32(e, name)
		e[4] = info
		le.PutUint16(e[6:], shndx)
		le.PutUint64(e[8:], value)
		return e
	}
	var symtab []byte
	symtab = append(symtab, sym(0, 0, 0, 0)...)
	symtab = append(symtab, sym(0, byte(elf.STB_LOCAL)<<4|byte(elf.STT_SECTION), 1, 0)...)
	symtab = append(symtab, sym(3, byte(elf.STB_LOCAL)<<4|byte(elf.STT_FUNC), 1, 8)...)
	symtab = append(symtab, sym(1, byte(elf.STB_GLOBAL)<<4|byte(elf.STT_FUNC), 1, 0)...)
	symtab = append(symtab, sym(5, byte(elf.STB_GLOBAL)<<4|byte(elf.STT_NOTYPE), 0, 0)...)

	rela := make([]byte, 24)
	le.PutUint64(rela, 4)                                    //r_offset
	le.PutUint64(rela[8:], 4<<32|uint64(elf.R_X86_64_PC32)) //ext
	le.PutUint64(rela[16:], ^uint64(3))                      //addend -4

	shstr := []byte("\x00.text\x00.rela.text\x00.symtab\x00.strtab\x00.shstrtab\x00")

	textOff := uint64(64)
	relaOff := textOff + uint64(len(text))
	symOff := relaOff + uint64(len(rela))
	strOff := symOff + uint64(len(symtab))
	shstrOff := strOff + uint64(len(strtab))
	shoff := (shstrOff + uint64(len(shstr)) + 7) &^ 7

	out := make([]byte, shoff+6*64)
	copy(out, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	le.PutUint16(out[16:], uint16(etype))
	le.PutUint16(out[18:], uint16(elf.EM_X86_64))
	le.PutUint32(out[20:], 1)
	le.PutUint64(out[40:], shoff)
	le.PutUint16(out[52:], 64)
	le.PutUint16(out[58:], 64)
	le.PutUint16(out[60:], 6)
	le.PutUint16(out[62:], 5)
	copy(out[textOff:], text)
	copy(out[relaOff:], rela)
	copy(out[symOff:], symtab)
	copy(out[strOff:], strtab)
	copy(out[shstrOff:], shstr)

	shdr := func(i int, name uint32, typ uint32, flags, off, size uint64, link, info uint32, entsize uint64) {
		b := out[shoff+uint64(i)*64:]
		le.PutUint32(b, name)
		le.PutUint32(b[4:], typ)
		le.PutUint64(b[8:], flags)
		le.PutUint64(b[24:], off)
		le.PutUint64(b[32:], size)
		le.PutUint32(b[40:], link)
		le.PutUint32(b[44:], info)
		le.PutUint64(b[48:], 8)
		le.PutUint64(b[56:], entsize)
	}
	shdr(1, 1, uint32(elf.SHT_PROGBITS), uint64(elf.SHF_ALLOC|elf.SHF_EXECINSTR), textOff, uint64(len(text)), 0, 0, 0)
	shdr(2, 7, uint32(elf.SHT_RELA), 0, relaOff, uint64(len(rela)), 3, 1, 24)
	shdr(3, 18, uint32(elf.SHT_SYMTAB), 0, symOff, uint64(len(symtab)), 4, 3, 24)
	shdr(4, 26, uint32(elf.SHT_STRTAB), 0, strOff, uint64(len(strtab)), 0, 0, 0)
	shdr(5, 34, uint32(elf.SHT_STRTAB), 0, shstrOff, uint64(len(shstr)), 0, 0, 0)
	return out
}

func TestOpenView(t *testing.T) {
	f, err := Open(buildObject(t, elf.ET_REL))
	if err != nil {
		t.Fatal(err)
	}
	if f.Machine != elf.EM_X86_64 {
		t.Fatalf("machine %v", f.Machine)
	}
	text := f.Section(1)
	if text == nil || text.Kind != SecCode || text.Size != 16 {
		t.Fatalf("text view wrong: %+v", text)
	}
	var gotF, gotL bool
	for _, s := range f.DefinedSymbols() {
		switch s.Name {
		case "f":
			gotF = true
			if !s.Exported || s.Section != 1 || s.Value != 0 {
				t.Fatalf("f parsed wrong: %+v", s)
			}
		case "l":
			gotL = true
			if s.Exported || s.Value != 8 {
				t.Fatalf("l parsed wrong: %+v", s)
			}
		}
	}
	if !gotF || !gotL {
		t.Fatalf("symbols missing: %+v", f.DefinedSymbols())
	}
	if u := f.UndefinedSymbols(); len(u) != 1 || u[0] != "ext" {
		t.Fatalf("undefined: %v", u)
	}
	rs := f.Relocations()
	if len(rs) != 1 {
		t.Fatalf("relocations: %+v", rs)
	}
	r := rs[0]
	if r.Section != 1 || r.Offset != 4 || r.Symbol != "ext" || r.Type != uint32(elf.R_X86_64_PC32) || r.Addend != -4 {
		t.Fatalf("reloc parsed wrong: %+v", r)
	}
}

func TestOpenRejectsCorrupt(t *testing.T) {
	if _, err := Open([]byte{0x7f, 'E', 'L', 'F'}); err == nil {
		t.Fatal("truncated header accepted")
	}
	if _, err := Open([]byte("plain text, no object at all")); err == nil {
		t.Fatal("garbage accepted")
	}
}

func TestOpenRejectsNonRelocatable(t *testing.T) {
	if _, err := Open(buildObject(t, elf.ET_EXEC)); err == nil {
		t.Fatal("executable accepted as relocatable module")
	}
}
