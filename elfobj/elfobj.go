// Package elfobj is a typed view over relocatable ELF object bytes.
//
// It only understands what the linking layer needs: allocatable sections,
// defined and undefined symbols with their export flags, and RELA
// relocation entries. Everything else in the object is ignored.
package elfobj

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// SectionKind classifies a section for allocation purposes.
type SectionKind int

const (
	SecOther SectionKind = iota //not required for execution
	SecCode
	SecData
	SecROData
	SecBSS
)

type (
	//Section is one allocatable unit of the object.
	Section struct {
		Index int
		Name  string
		Kind  SectionKind
		Size  uint64
		Align uint64
		Data  []byte //nil for SecBSS
	}
	//Symbol is a named location inside the object. A Common symbol is a
	//tentative definition with no section: Value carries its alignment
	//and Size its extent, and the linker provides zeroed storage.
	Symbol struct {
		Name     string
		Section  int //section index, -1 for absolute
		Value    uint64
		Size     uint64
		Exported bool
		Weak     bool
		Common   bool
	}
	//Reloc is one RELA entry. Symbol is empty for section-relative
	//entries, in which case SymSection carries the referenced section.
	Reloc struct {
		Section    int //section the fixup is written into
		Offset     uint64
		Type       uint32
		Symbol     string
		SymSection int
		Addend     int64
	}
	//File is the parsed object view consumed by the linking layer.
	File struct {
		Machine   elf.Machine
		Sections  []Section
		defined   []Symbol
		undefined []string
		relocs    []Reloc
	}
)

// Open parses object bytes. Only little-endian 64-bit relocatable
// objects are accepted; anything else is a malformed module from the
// layer's point of view.
func Open(b []byte) (*File, error) {
	ef, err := elf.NewFile(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("parse object: %w", err)
	}
	defer ef.Close()
	if ef.Type != elf.ET_REL {
		return nil, fmt.Errorf("not a relocatable object: type %v", ef.Type)
	}
	if ef.Class != elf.ELFCLASS64 || ef.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("unsupported object class %v/%v", ef.Class, ef.Data)
	}
	f := &File{Machine: ef.Machine}
	if err = f.readSections(ef); err != nil {
		return nil, err
	}
	syms, err := ef.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, fmt.Errorf("read symbol table: %w", err)
	}
	f.readSymbols(syms)
	if err = f.readRelocs(ef, syms); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) readSections(ef *elf.File) error {
	f.Sections = make([]Section, len(ef.Sections))
	for i, s := range ef.Sections {
		sec := Section{Index: i, Name: s.Name, Size: s.Size, Align: s.Addralign}
		if sec.Align == 0 {
			sec.Align = 1
		}
		switch {
		case s.Type == elf.SHT_NOBITS && s.Flags&elf.SHF_ALLOC != 0:
			sec.Kind = SecBSS
		case s.Flags&elf.SHF_EXECINSTR != 0:
			sec.Kind = SecCode
		case s.Flags&elf.SHF_ALLOC != 0 && s.Flags&elf.SHF_WRITE != 0:
			sec.Kind = SecData
		case s.Flags&elf.SHF_ALLOC != 0:
			sec.Kind = SecROData
		default:
			sec.Kind = SecOther
		}
		if s.Type != elf.SHT_NOBITS && s.Size > 0 {
			d, err := s.Data()
			if err != nil {
				return fmt.Errorf("read section %s: %w", s.Name, err)
			}
			if uint64(len(d)) < s.Size {
				return fmt.Errorf("section %s truncated: %d of %d bytes", s.Name, len(d), s.Size)
			}
			sec.Data = d
		}
		f.Sections[i] = sec
	}
	return nil
}

func (f *File) readSymbols(syms []elf.Symbol) {
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) == elf.STT_SECTION || elf.ST_TYPE(s.Info) == elf.STT_FILE {
			continue
		}
		if s.Name == "" {
			continue
		}
		if s.Section == elf.SHN_UNDEF {
			f.undefined = append(f.undefined, s.Name)
			continue
		}
		bind := elf.ST_BIND(s.Info)
		sym := Symbol{
			Name:     s.Name,
			Section:  int(s.Section),
			Value:    s.Value,
			Size:     s.Size,
			Exported: (bind == elf.STB_GLOBAL || bind == elf.STB_WEAK) && elf.ST_VISIBILITY(s.Other) == elf.STV_DEFAULT,
			Weak:     bind == elf.STB_WEAK,
		}
		switch s.Section {
		case elf.SHN_ABS:
			sym.Section = -1
		case elf.SHN_COMMON:
			sym.Section = -1
			sym.Common = true
		}
		f.defined = append(f.defined, sym)
	}
}

// readRelocs walks SHT_RELA sections. debug/elf exposes their raw bytes
// only, so entries are decoded by hand; the symbol index space matches
// ef.Symbols shifted by the null entry.
func (f *File) readRelocs(ef *elf.File, syms []elf.Symbol) error {
	for _, s := range ef.Sections {
		if s.Type == elf.SHT_REL {
			return fmt.Errorf("section %s: REL relocations unsupported", s.Name)
		}
		if s.Type != elf.SHT_RELA {
			continue
		}
		target := int(s.Info)
		if target <= 0 || target >= len(f.Sections) {
			return fmt.Errorf("section %s: bad relocation target %d", s.Name, target)
		}
		d, err := s.Data()
		if err != nil {
			return fmt.Errorf("read section %s: %w", s.Name, err)
		}
		if len(d)%24 != 0 {
			return fmt.Errorf("section %s: odd RELA payload %d", s.Name, len(d))
		}
		for off := 0; off < len(d); off += 24 {
			info := binary.LittleEndian.Uint64(d[off+8:])
			r := Reloc{
				Section: target,
				Offset:  binary.LittleEndian.Uint64(d[off:]),
				Type:    uint32(info),
				Addend:  int64(binary.LittleEndian.Uint64(d[off+16:])),
			}
			idx := int(info >> 32)
			if idx > 0 {
				if idx > len(syms) {
					return fmt.Errorf("section %s: relocation against symbol %d of %d", s.Name, idx, len(syms))
				}
				sym := syms[idx-1]
				if elf.ST_TYPE(sym.Info) == elf.STT_SECTION {
					r.SymSection = int(sym.Section)
				} else {
					r.Symbol = sym.Name
					r.SymSection = int(sym.Section)
				}
			}
			f.relocs = append(f.relocs, r)
		}
	}
	return nil
}

// DefinedSymbols reports every non-undefined symbol of the object,
// locals included.
func (f *File) DefinedSymbols() []Symbol { return f.defined }

// UndefinedSymbols reports names the object needs a resolver for.
func (f *File) UndefinedSymbols() []string { return f.undefined }

// Relocations reports every RELA entry of the object.
func (f *File) Relocations() []Reloc { return f.relocs }

// Section returns the section at index i, nil when out of range.
func (f *File) Section(i int) *Section {
	if i < 0 || i >= len(f.Sections) {
		return nil
	}
	return &f.Sections[i]
}
