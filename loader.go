package jitlink

import (
	"fmt"
	"unsafe"

	"github.com/ZenLiuCN/jitlink/elfobj"
)

type (
	//SectionLayout describes one placed section. Local is the address
	//the bytes actually sit at; Target is the address relocations are
	//computed against. They differ only after MapSectionAddress.
	SectionLayout struct {
		Name   string
		Local  uintptr
		Target uintptr
		Size   uint64
	}
	//LoadInfo is the loaded-section layout handed to the loaded
	//observer while relocation is still in progress.
	LoadInfo struct {
		Sections []SectionLayout
	}
	//loader places one object's sections and applies its relocations.
	//It lives only for the duration of a finalize.
	loader struct {
		obj        *elfobj.File
		alloc      Allocator
		resolver   Resolver
		processAll bool
		placed     map[int]*placedSection //object section index -> placement
		commons    map[string]uintptr     //storage allocated for tentative definitions
		info       LoadInfo
	}
	placedSection struct {
		mem    []byte
		local  uintptr
		target uintptr
	}
)

func newLoader(obj *elfobj.File, alloc Allocator, resolver Resolver, processAll bool) *loader {
	return &loader{
		obj: obj, alloc: alloc, resolver: resolver, processAll: processAll,
		placed:  map[int]*placedSection{},
		commons: map[string]uintptr{},
	}
}

// loadSections allocates storage for every section required for
// execution (every section at all with processAll) and copies the
// object bytes in.
func (l *loader) loadSections() error {
	for i := range l.obj.Sections {
		s := &l.obj.Sections[i]
		if s.Size == 0 {
			continue
		}
		var mem []byte
		var err error
		switch s.Kind {
		case elfobj.SecCode:
			mem, err = l.alloc.Code(s.Size, s.Align)
		case elfobj.SecData, elfobj.SecROData, elfobj.SecBSS:
			mem, err = l.alloc.Data(s.Size, s.Align, s.Kind == elfobj.SecBSS)
		default:
			if !l.processAll {
				continue
			}
			mem, err = l.alloc.Data(s.Size, s.Align, false)
		}
		if err != nil {
			return fmt.Errorf("allocate section %s: %w", s.Name, err)
		}
		if s.Data != nil {
			copy(mem, s.Data)
		}
		p := &placedSection{mem: mem, local: uintptr(unsafe.Pointer(&mem[0]))}
		p.target = p.local
		l.placed[s.Index] = p
		l.info.Sections = append(l.info.Sections, SectionLayout{
			Name: s.Name, Local: p.local, Target: p.target, Size: s.Size,
		})
	}
	return l.loadCommons()
}

// loadCommons gives every tentative definition zeroed bss-style storage.
func (l *loader) loadCommons() error {
	for _, sym := range l.obj.DefinedSymbols() {
		if !sym.Common {
			continue
		}
		align := sym.Value
		if align == 0 {
			align = 1
		}
		size := sym.Size
		if size == 0 {
			size = 1
		}
		mem, err := l.alloc.Data(size, align, true)
		if err != nil {
			return fmt.Errorf("allocate common %s: %w", sym.Name, err)
		}
		l.commons[sym.Name] = uintptr(unsafe.Pointer(&mem[0]))
	}
	return nil
}

// mapSectionAddress rebases the section whose placement contains local
// onto target, for code that must ultimately run at a different address
// than it was loaded at.
func (l *loader) mapSectionAddress(local, target uintptr) error {
	for _, p := range l.placed {
		if local >= p.local && local < p.local+uintptr(len(p.mem)) {
			p.target = target - (local - p.local)
			for j := range l.info.Sections {
				if l.info.Sections[j].Local == p.local {
					l.info.Sections[j].Target = p.target
				}
			}
			return nil
		}
	}
	return fmt.Errorf("address %#x belongs to no loaded section", local)
}

// resolve answers the target address of name, own definitions first,
// then the external resolver.
func (l *loader) resolve(name string) (uint64, error) {
	if a, ok := l.symbolAddr(name); ok {
		return uint64(a), nil
	}
	if l.resolver != nil {
		if u, ok := l.resolver.Resolve(name); ok {
			return uint64(u), nil
		}
	}
	return 0, fmt.Errorf("unresolved symbol %q", name)
}

// symbolAddr reports the target address of a symbol the object itself
// defines, valid as soon as sections are placed.
func (l *loader) symbolAddr(name string) (Sym, bool) {
	for _, sym := range l.obj.DefinedSymbols() {
		if sym.Name != name {
			continue
		}
		if sym.Common {
			a, ok := l.commons[sym.Name]
			return Sym(a), ok
		}
		if sym.Section < 0 {
			return Sym(sym.Value), true
		}
		p, ok := l.placed[sym.Section]
		if !ok {
			return 0, false
		}
		return Sym(uint64(p.target) + sym.Value), true
	}
	return 0, false
}

// applyRelocations runs every fixup of the object against the current
// target layout.
func (l *loader) applyRelocations() error {
	for _, r := range l.obj.Relocations() {
		p, ok := l.placed[r.Section]
		if !ok {
			// fixups into sections that were not allocated are dropped
			// with the section itself
			continue
		}
		var s uint64
		var err error
		if r.Symbol != "" {
			s, err = l.resolve(r.Symbol)
			if err != nil {
				return err
			}
		} else {
			ref, ok := l.placed[r.SymSection]
			if !ok {
				return fmt.Errorf("fixup against unallocated section %d", r.SymSection)
			}
			s = uint64(ref.target)
		}
		pc := uint64(p.target) + r.Offset
		if err = applyReloc(l.obj.Machine, p.mem, r.Offset, r.Type, s, uint64(r.Addend), pc); err != nil {
			return fmt.Errorf("section %d+%#x: %w", r.Section, r.Offset, err)
		}
	}
	return nil
}

// symbolTable snapshots every defined symbol's concrete target address.
// A definition whose section was never allocated is an error: handing
// out its placeholder would look like a successful zero-address resolve.
func (l *loader) symbolTable() (map[string]Sym, error) {
	out := make(map[string]Sym, len(l.obj.DefinedSymbols()))
	for _, sym := range l.obj.DefinedSymbols() {
		a, ok := l.symbolAddr(sym.Name)
		if !ok {
			return nil, fmt.Errorf("symbol %s defined in unallocated section", sym.Name)
		}
		out[sym.Name] = a
	}
	return out, nil
}
