package jitlink

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/ZenLiuCN/jitlink/elfobj"
)

// minimal relocatable ELF64 builder for tests: one text, one data and
// one bss section, a symbol table and RELA entries. Section indices:
// 1 text, 2 data, 3 bss, 0 undefined.
type (
	tSym struct {
		name   string
		sec    int
		value  uint64 //alignment for common symbols
		size   uint64
		bind   elf.SymBind
		hidden bool
		common bool
	}
	tRel struct {
		sec    int //section receiving the fixup
		off    uint64
		typ    uint32
		sym    string //empty for section-relative
		symsec int
		add    int64
	}
	tObj struct {
		machine elf.Machine
		text    []byte
		data    []byte
		bss     uint64
		syms    []tSym
		rels    []tRel
	}
)

func (o *tObj) build() []byte {
	le := binary.LittleEndian
	machine := o.machine
	if machine == 0 {
		machine = elf.EM_X86_64
	}

	strtab := []byte{0}
	strOff := map[string]uint32{}
	addStr := func(s string) uint32 {
		if off, ok := strOff[s]; ok {
			return off
		}
		off := uint32(len(strtab))
		strtab = append(strtab, s...)
		strtab = append(strtab, 0)
		strOff[s] = off
		return off
	}

	type rawSym struct {
		name        uint32
		info, other byte
		shndx       uint16
		value, size uint64
	}
	raws := []rawSym{{}}
	for i := 1; i <= 3; i++ {
		raws = append(raws, rawSym{info: byte(elf.STB_LOCAL)<<4 | byte(elf.STT_SECTION), shndx: uint16(i)})
	}
	index := map[string]uint64{}
	emit := func(s tSym) {
		typ := elf.STT_FUNC
		switch {
		case s.common:
			typ = elf.STT_OBJECT
		case s.sec == 0:
			typ = elf.STT_NOTYPE
		case s.sec == 2 || s.sec == 3:
			typ = elf.STT_OBJECT
		}
		r := rawSym{name: addStr(s.name), shndx: uint16(s.sec), value: s.value, size: s.size}
		if s.common {
			r.shndx = uint16(elf.SHN_COMMON)
		}
		r.info = byte(s.bind)<<4 | byte(typ)
		if s.hidden {
			r.other = byte(elf.STV_HIDDEN)
		}
		index[s.name] = uint64(len(raws))
		raws = append(raws, r)
	}
	for _, s := range o.syms {
		if s.bind == elf.STB_LOCAL {
			emit(s)
		}
	}
	firstGlobal := len(raws)
	for _, s := range o.syms {
		if s.bind != elf.STB_LOCAL {
			emit(s)
		}
	}
	symtab := make([]byte, 0, len(raws)*24)
	for _, r := range raws {
		e := make([]byte, 24)
		le.PutUint32(e, r.name)
		e[4] = r.info
		e[5] = r.other
		le.PutUint16(e[6:], r.shndx)
		le.PutUint64(e[8:], r.value)
		le.PutUint64(e[16:], r.size)
		symtab = append(symtab, e...)
	}

	relaFor := func(target int) []byte {
		var b []byte
		for _, r := range o.rels {
			if r.sec != target {
				continue
			}
			idx := uint64(r.symsec)
			if r.sym != "" {
				idx = index[r.sym]
			}
			e := make([]byte, 24)
			le.PutUint64(e, r.off)
			le.PutUint64(e[8:], idx<<32|uint64(r.typ))
			le.PutUint64(e[16:], uint64(r.add))
			b = append(b, e...)
		}
		return b
	}
	relaText := relaFor(1)
	relaData := relaFor(2)

	shstr := []byte{0}
	shOff := map[string]uint32{}
	addSh := func(s string) uint32 {
		if off, ok := shOff[s]; ok {
			return off
		}
		off := uint32(len(shstr))
		shstr = append(shstr, s...)
		shstr = append(shstr, 0)
		shOff[s] = off
		return off
	}

	// intern every name first so the table has its final size before
	// any offset is computed
	for _, name := range []string{".text", ".data", ".bss", ".rela.text", ".rela.data", ".symtab", ".strtab", ".shstrtab"} {
		addSh(name)
	}

	align8 := func(v uint64) uint64 { return (v + 7) &^ 7 }
	off := uint64(64)
	textOff := off
	off += uint64(len(o.text))
	dataOff := align8(off)
	off = dataOff + uint64(len(o.data))
	bssOff := align8(off)
	relaTextOff := align8(bssOff)
	off = relaTextOff + uint64(len(relaText))
	relaDataOff := align8(off)
	off = relaDataOff + uint64(len(relaData))
	symtabOff := align8(off)
	off = symtabOff + uint64(len(symtab))
	strtabOff := off
	off += uint64(len(strtab))
	shstrOff := off
	off += uint64(len(shstr))
	shoff := align8(off)

	type shdr struct {
		name              uint32
		typ               uint32
		flags             uint64
		offset, size      uint64
		link, info        uint32
		addralign, entsiz uint64
	}
	hdrs := []shdr{
		{},
		{addSh(".text"), uint32(elf.SHT_PROGBITS), uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR), textOff, uint64(len(o.text)), 0, 0, 16, 0},
		{addSh(".data"), uint32(elf.SHT_PROGBITS), uint64(elf.SHF_ALLOC | elf.SHF_WRITE), dataOff, uint64(len(o.data)), 0, 0, 8, 0},
		{addSh(".bss"), uint32(elf.SHT_NOBITS), uint64(elf.SHF_ALLOC | elf.SHF_WRITE), bssOff, o.bss, 0, 0, 8, 0},
		{addSh(".rela.text"), uint32(elf.SHT_RELA), 0, relaTextOff, uint64(len(relaText)), 6, 1, 8, 24},
		{addSh(".rela.data"), uint32(elf.SHT_RELA), 0, relaDataOff, uint64(len(relaData)), 6, 2, 8, 24},
		{addSh(".symtab"), uint32(elf.SHT_SYMTAB), 0, symtabOff, uint64(len(symtab)), 7, uint32(firstGlobal), 8, 24},
		{addSh(".strtab"), uint32(elf.SHT_STRTAB), 0, strtabOff, uint64(len(strtab)), 0, 0, 1, 0},
		{addSh(".shstrtab"), uint32(elf.SHT_STRTAB), 0, shstrOff, uint64(len(shstr)), 0, 0, 1, 0},
	}

	out := make([]byte, shoff+uint64(len(hdrs))*64)
	copy(out[0:], []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	le.PutUint16(out[16:], uint16(elf.ET_REL))
	le.PutUint16(out[18:], uint16(machine))
	le.PutUint32(out[20:], 1)
	le.PutUint64(out[40:], shoff)
	le.PutUint16(out[52:], 64)   //ehsize
	le.PutUint16(out[58:], 64)   //shentsize
	le.PutUint16(out[60:], uint16(len(hdrs)))
	le.PutUint16(out[62:], 8) //shstrndx

	copy(out[textOff:], o.text)
	copy(out[dataOff:], o.data)
	copy(out[relaTextOff:], relaText)
	copy(out[relaDataOff:], relaData)
	copy(out[symtabOff:], symtab)
	copy(out[strtabOff:], strtab)
	copy(out[shstrOff:], shstr)
	for i, h := range hdrs {
		b := out[shoff+uint64(i)*64:]
		le.PutUint32(b, h.name)
		le.PutUint32(b[4:], h.typ)
		le.PutUint64(b[8:], h.flags)
		le.PutUint64(b[24:], h.offset)
		le.PutUint64(b[32:], h.size)
		le.PutUint32(b[40:], h.link)
		le.PutUint32(b[44:], h.info)
		le.PutUint64(b[48:], h.addralign)
		le.PutUint64(b[56:], h.entsiz)
	}
	return out
}

// The builder must round-trip through the object view with its names
// intact; observers and tests match sections by name.
func TestBuiltObjectSectionNames(t *testing.T) {
	o := &tObj{
		text: make([]byte, 8),
		data: []byte{1, 2},
		bss:  4,
		syms: []tSym{{name: "f", sec: 1, bind: elf.STB_GLOBAL}},
		rels: []tRel{{sec: 1, off: 0, typ: uint32(elf.R_X86_64_64), sym: "f"}},
	}
	obj, err := elfobj.Open(o.build())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"", ".text", ".data", ".bss", ".rela.text", ".rela.data", ".symtab", ".strtab", ".shstrtab"}
	if len(obj.Sections) != len(want) {
		t.Fatalf("%d sections", len(obj.Sections))
	}
	for i, name := range want {
		if obj.Sections[i].Name != name {
			t.Fatalf("section %d named %q, want %q", i, obj.Sections[i].Name, name)
		}
	}
}
