package jitlink

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/ZenLiuCN/jitlink/elfobj"
)

// record states. statePlaced is entered as soon as sections have
// concrete addresses, before relocation completes; a resolver calling
// back into the layer mid-relocation reads live loader addresses and
// never re-enters finalize, which is what keeps mutually dependent
// modules from deadlocking each other.
const (
	statePending int32 = iota
	statePlaced
	stateFinalized
)

type (
	symEntry struct {
		addr  Sym
		flags SymFlags
	}
	//record is the in-memory representation of one linked module: its
	//object view, its symbol table, and its finalize state. Created by
	//AddModule, mutated in place exactly once by the first finalize
	//trigger, destroyed by RemoveModule.
	record struct {
		key   Key
		layer *Layer
		obj   *elfobj.File
		raw   []byte
		alloc Allocator

		tmu    sync.RWMutex //guards symtab against the finalize writer
		symtab map[string]symEntry

		fin     sync.Mutex //serializes finalize requests
		state   atomic.Int32
		failure error //set once, poisons the record
		ld      *loader
		res     Resolver
		removed atomic.Bool
	}
)

func newRecord(l *Layer, key Key, raw []byte, obj *elfobj.File, alloc Allocator, res Resolver) *record {
	r := &record{key: key, layer: l, obj: obj, raw: raw, alloc: alloc, res: res}
	r.symtab = make(map[string]symEntry, len(obj.DefinedSymbols()))
	for _, s := range obj.DefinedSymbols() {
		var f SymFlags
		if s.Exported {
			f |= FlagExported
		}
		if s.Weak {
			f |= FlagWeak
		}
		// placeholder address, overwritten at finalize
		r.symtab[s.Name] = symEntry{flags: f}
	}
	return r
}

// defines reports whether the record's symbol table has a visible entry.
func (r *record) defines(name string, exportedOnly bool) bool {
	r.tmu.RLock()
	e, ok := r.symtab[name]
	r.tmu.RUnlock()
	return ok && (!exportedOnly || e.flags.Exported())
}

// symbol resolves name, lazily finalizing the record on first use.
func (r *record) symbol(name string, exportedOnly bool) (Sym, error) {
	if r.removed.Load() {
		if r.layer.debug {
			panic(fmt.Errorf("%w: %s", ErrModuleRemoved, r.key))
		}
		return 0, fmt.Errorf("%w: %s", ErrModuleRemoved, r.key)
	}
	r.tmu.RLock()
	e, ok := r.symtab[name]
	r.tmu.RUnlock()
	if !ok || (exportedOnly && !e.flags.Exported()) {
		return 0, ErrSymbolNotFound
	}
	switch r.state.Load() {
	case stateFinalized:
		return r.lookup(name), nil
	case statePlaced:
		// mid-relocation: addresses are concrete in the loader already
		if ld := r.ld; ld != nil {
			if a, ok := ld.symbolAddr(name); ok {
				return a, nil
			}
			return 0, ErrSymbolNotFound
		}
		return r.lookup(name), nil
	}
	if err := r.finalize(); err != nil {
		return 0, err
	}
	return r.lookup(name), nil
}

func (r *record) lookup(name string) Sym {
	r.tmu.RLock()
	defer r.tmu.RUnlock()
	return r.symtab[name].addr
}

// finalize allocates sections, applies relocations and stabilizes the
// symbol table. Idempotent; a failure leaves the record registered but
// permanently erroring.
func (r *record) finalize() error {
	r.fin.Lock()
	defer r.fin.Unlock()
	if r.failure != nil {
		return r.failure
	}
	if r.state.Load() != statePending {
		return nil
	}
	if err := r.run(); err != nil {
		r.failure = fmt.Errorf("%w: %s: %v", ErrRelocationFailed, r.key, err)
		r.state.Store(statePending)
		r.ld = nil
		return r.failure
	}
	return nil
}

func (r *record) run() error {
	if r.layer.debug {
		log.Printf("finalize module %s", r.key)
	}
	ld := newLoader(r.obj, r.alloc, r.res, r.layer.processAll.Load())
	r.ld = ld
	if err := ld.loadSections(); err != nil {
		return err
	}
	// sections are placed: own symbols have concrete addresses from
	// here on, so mutually dependent modules can resolve against us
	// while our relocations are still being written
	r.state.Store(statePlaced)
	if r.layer.loaded != nil {
		r.layer.loaded(r.key, r.obj, &ld.info)
	}
	if err := ld.applyRelocations(); err != nil {
		return err
	}
	table, err := ld.symbolTable()
	if err != nil {
		return err
	}
	r.tmu.Lock()
	for name, addr := range table {
		e := r.symtab[name]
		e.addr = addr
		r.symtab[name] = e
	}
	r.tmu.Unlock()
	// serialized across every module sharing this allocator instance
	mu := r.layer.allocLock(r.alloc)
	mu.Lock()
	err = r.alloc.Finalize()
	mu.Unlock()
	if err != nil {
		return err
	}
	r.state.Store(stateFinalized)
	r.ld = nil
	r.raw = nil
	if r.layer.finalized != nil {
		r.layer.finalized(r.key, r.obj)
	}
	return nil
}

// mapSection forwards to the live loader; valid only between the start
// of finalization and its completion.
func (r *record) mapSection(local, target uintptr) error {
	ld := r.ld
	if ld == nil || r.state.Load() == stateFinalized {
		return fmt.Errorf("%w: %s", ErrNotLoading, r.key)
	}
	return ld.mapSectionAddress(local, target)
}

// destroy retires the record. The freed observer fires before memory
// goes away so it can still look at the object. Memory is released
// only when this record was the allocator's last user; a shared
// allocator keeps every mapping alive for the surviving modules.
func (r *record) destroy(releaseAlloc bool) error {
	r.removed.Store(true)
	if r.layer.freed != nil {
		r.layer.freed(r.key, r.obj)
	}
	if !releaseAlloc {
		return nil
	}
	r.alloc.Deregister()
	return r.alloc.Release()
}
