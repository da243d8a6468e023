package jitlink

import "unsafe"

type (
	//Sym is the resolved address of a symbol, a simple alias of uintptr.
	Sym uintptr
	//SymFlags carries the visibility bits recorded at add-time.
	SymFlags uint8
	//Resolver answers addresses for symbols a module does not define:
	//host process exports, other live modules, anything the caller wires
	//in. A Resolver may call back into the Layer; that is how
	//cross-module dependencies finalize on demand.
	Resolver interface {
		Resolve(name string) (Sym, bool)
	}
	//ResolverFunc adapts a function to Resolver.
	ResolverFunc func(name string) (Sym, bool)
	//Symbols is a plain map Resolver.
	Symbols map[string]Sym
)

const (
	FlagExported SymFlags = 1 << iota
	FlagWeak
)

func (f SymFlags) Exported() bool { return f&FlagExported != 0 }
func (f SymFlags) Weak() bool     { return f&FlagWeak != 0 }

func (f ResolverFunc) Resolve(name string) (Sym, bool) { return f(name) }

func (s Symbols) Resolve(name string) (Sym, bool) {
	u, ok := s[name]
	return u, ok
}

// ChainResolvers returns a Resolver trying each given resolver in order,
// skipping nil entries.
func ChainResolvers(rs ...Resolver) Resolver {
	return ResolverFunc(func(name string) (Sym, bool) {
		for _, r := range rs {
			if r == nil {
				continue
			}
			if u, ok := r.Resolve(name); ok {
				return u, ok
			}
		}
		return 0, false
	})
}

// As converts a fetched Sym to the contract type, usually a function
// type. The Sym must directly be fetched and used in code; do not reuse
// the cast result across module removal.
func As[T any](s Sym) (x T) {
	p := uintptr(s)
	c := uintptr(unsafe.Pointer(&p))
	px := (*T)(unsafe.Pointer(&c))
	x = *px
	return
}
