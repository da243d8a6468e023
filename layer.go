package jitlink

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/ZenLiuCN/fn"
	"github.com/ZenLiuCN/jitlink/elfobj"
)

type (
	//Key is the opaque, process-unique identifier a caller assigns to
	//track one linked module. Unique among live modules; reusable
	//after removal.
	Key string
	//LoadedFunc observes a module whose sections were just placed,
	//before relocation completes. It may remap sections through
	//[Layer.MapSectionAddress].
	LoadedFunc func(Key, *elfobj.File, *LoadInfo)
	//FinalizedFunc observes a module that finished finalization.
	FinalizedFunc func(Key, *elfobj.File)
	//FreedFunc observes a module about to be removed, before its
	//memory is released.
	FreedFunc func(Key, *elfobj.File)
	//Observers bundles the optional callbacks supplied once at Layer
	//construction and invoked synchronously from Finalize/RemoveModule.
	Observers struct {
		Loaded    LoadedFunc
		Finalized FinalizedFunc
		Freed     FreedFunc
	}
	//Layer owns the set of live module records and performs symbol
	//table construction, lazy finalization, cross-module lookup and
	//removal.
	//
	//Note:
	//
	//	1. Lookups and finalization may recursively finalize other
	//	   modules through the per-module Resolver.
	//	2. Removing a module never patches addresses already handed
	//	   out; callers retaining them across a remove get undefined
	//	   behavior. Dependency tracking belongs to a higher layer.
	//	   With debug enabled a removed record turns later use into a
	//	   panic instead of silent corruption.
	Layer struct {
		mu         sync.RWMutex
		modules    map[Key]*record
		loaded     LoadedFunc
		finalized  FinalizedFunc
		freed      FreedFunc
		processAll atomic.Bool
		debug      bool

		lockMu sync.Mutex
		locks  map[Allocator]*sync.Mutex
	}
)

// NewLayer creates a linking layer with the given observers, an
// optional debug parameter enables debug logging and use-after-remove
// detection.
func NewLayer(obs Observers, debug ...bool) *Layer {
	return &Layer{
		modules:   make(map[Key]*record),
		loaded:    obs.Loaded,
		finalized: obs.Finalized,
		freed:     obs.Freed,
		debug:     debug != nil && len(debug) > 0 && debug[0],
		locks:     make(map[Allocator]*sync.Mutex),
	}
}

// ProcessAllSections makes finalization allocate every section of an
// object, not only the ones required for execution. Safe to flip while
// other modules finalize; each finalize reads the setting once.
func (l *Layer) ProcessAllSections(v bool) {
	l.processAll.Store(v)
}

// AddModule registers a compiled object under key. The object is
// parsed and its defined symbols recorded with placeholder addresses;
// no memory is allocated and nothing is relocated, so many modules can
// be registered speculatively. alloc backs the module's sections until
// removal, resolver answers its external symbols and may be nil.
func (l *Layer) AddModule(key Key, object []byte, alloc Allocator, resolver Resolver) error {
	if alloc == nil {
		alloc = NewMmapAllocator()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.modules[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	obj, err := elfobj.Open(object)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedObject, key, err)
	}
	l.modules[key] = newRecord(l, key, object, obj, alloc, resolver)
	if l.debug {
		log.Printf("add module %s: %d symbols", key, len(obj.DefinedSymbols()))
	}
	return nil
}

// RemoveModule erases the record and, when no other live module shares
// its allocator instance, releases the executable memory and unwind
// metadata. A shared allocator stays mapped until the last module
// referencing it is removed. Symbols the module provided stop being
// visible immediately; nothing invalidates addresses held elsewhere.
func (l *Layer) RemoveModule(key Key) error {
	l.mu.Lock()
	r, ok := l.modules[key]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownModule, key)
	}
	delete(l.modules, key)
	shared := false
	for _, o := range l.modules {
		if o.alloc == r.alloc {
			shared = true
			break
		}
	}
	l.mu.Unlock()
	if !shared {
		l.lockMu.Lock()
		delete(l.locks, r.alloc)
		l.lockMu.Unlock()
	}
	if l.debug {
		log.Printf("remove module %s (allocator shared: %v)", key, shared)
	}
	return r.destroy(!shared)
}

// FindSymbol scans live modules for name, first match wins; iteration
// order is not significant. The defining module is finalized on demand.
func (l *Layer) FindSymbol(name string, exportedOnly bool) (Sym, error) {
	l.mu.RLock()
	var match *record
	for _, r := range l.modules {
		if r.defines(name, exportedOnly) {
			match = r
			break
		}
	}
	l.mu.RUnlock()
	if match == nil {
		return 0, fmt.Errorf("%w: %s", ErrSymbolNotFound, name)
	}
	return match.symbol(name, exportedOnly)
}

// FindSymbolInModule resolves name inside one module only.
func (l *Layer) FindSymbolInModule(key Key, name string, exportedOnly bool) (Sym, error) {
	r, err := l.module(key)
	if err != nil {
		return 0, err
	}
	u, err := r.symbol(name, exportedOnly)
	if err != nil {
		if err == ErrSymbolNotFound {
			return 0, fmt.Errorf("%w: %s in %s", ErrSymbolNotFound, name, key)
		}
		return 0, err
	}
	return u, nil
}

// MapSectionAddress rebases a placed section of key onto target, for
// code that must ultimately execute at a different address than it was
// loaded at. Valid only on a record mid-finalization.
func (l *Layer) MapSectionAddress(key Key, local, target uintptr) error {
	r, err := l.module(key)
	if err != nil {
		return err
	}
	return r.mapSection(local, target)
}

// Finalize immediately finalizes key; an idempotent no-op when the
// module already finalized.
func (l *Layer) Finalize(key Key) error {
	r, err := l.module(key)
	if err != nil {
		return err
	}
	return r.finalize()
}

// Keys lists the currently registered module keys.
func (l *Layer) Keys() []Key {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn.MapKeys(l.modules)
}

// Resolver returns a Resolver view of the layer itself, so one
// module's external symbols can be satisfied by any other live module.
func (l *Layer) Resolver(exportedOnly bool) Resolver {
	return ResolverFunc(func(name string) (Sym, bool) {
		u, err := l.FindSymbol(name, exportedOnly)
		if err != nil {
			return 0, false
		}
		return u, true
	})
}

func (l *Layer) module(key Key) (*record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.modules[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, key)
	}
	return r, nil
}

// allocLock hands out the mutex serializing the finalize-with-locking
// step between modules sharing one allocator instance.
func (l *Layer) allocLock(a Allocator) *sync.Mutex {
	l.lockMu.Lock()
	defer l.lockMu.Unlock()
	mu, ok := l.locks[a]
	if !ok {
		mu = new(sync.Mutex)
		l.locks[a] = mu
	}
	return mu
}
