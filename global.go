package jitlink

import (
	"maps"
	"sync"

	"github.com/pkujhd/goloader"
)

// host process exports, filled once on first use
var (
	hostMu   sync.Mutex
	hostSyms map[string]uintptr
)

func hostSymbols() (map[string]uintptr, error) {
	hostMu.Lock()
	defer hostMu.Unlock()
	if hostSyms == nil {
		m := make(map[string]uintptr)
		if err := goloader.RegSymbol(m); err != nil {
			return nil, err
		}
		hostSyms = m
	}
	return hostSyms, nil
}

// HostSymbols clones the host executable's own symbol table, the
// addresses of everything the running process exports.
func HostSymbols() (Symbols, error) {
	m, err := hostSymbols()
	if err != nil {
		return nil, err
	}
	hostMu.Lock()
	defer hostMu.Unlock()
	out := make(Symbols, len(m))
	for k, v := range m {
		out[k] = Sym(v)
	}
	return out, nil
}

// HostResolver answers module imports from the host process's exports.
func HostResolver() (Resolver, error) {
	return HostSymbols()
}

// RegisterTypes records runtime type information of the given values
// into the host symbol table, so modules exchanging those types with
// the host resolve them to the host's instances.
func RegisterTypes(types ...any) error {
	m, err := hostSymbols()
	if err != nil {
		return err
	}
	hostMu.Lock()
	defer hostMu.Unlock()
	goloader.RegTypes(m, types...)
	return nil
}

// HostSymbolsWithSo additionally registers the exports of a shared
// object already loaded into the process.
func HostSymbolsWithSo(path string) (Symbols, error) {
	m, err := hostSymbols()
	if err != nil {
		return nil, err
	}
	hostMu.Lock()
	defer hostMu.Unlock()
	c := maps.Clone(m)
	if err = goloader.RegSymbolWithSo(c, path); err != nil {
		return nil, err
	}
	out := make(Symbols, len(c))
	for k, v := range c {
		out[k] = Sym(v)
	}
	return out, nil
}
