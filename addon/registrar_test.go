package addon

import (
	"errors"
	"strings"
	"testing"
	"unsafe"

	"github.com/ZenLiuCN/jitlink"
)

type namedPlugin string

func (n namedPlugin) Name() string { return string(n) }

func goodFactory() Plugin  { return namedPlugin("good") }
func nilFactory() Plugin   { return nil }
func panicFactory() Plugin { panic("boom") }

// codeOf digs the code address out of a func value, the same word a
// linked module's entry symbol resolves to.
func codeOf(f Factory) jitlink.Sym {
	return jitlink.Sym(**(**uintptr)(unsafe.Pointer(&f)))
}

func TestRegisterEntry(t *testing.T) {
	var hooked []string
	r := NewRegistrar(func(key string, p Plugin) {
		hooked = append(hooked, key+"="+p.Name())
	})
	if err := r.RegisterEntry("good", codeOf(goodFactory)); err != nil {
		t.Fatal(err)
	}
	p, ok := r.Plugin("good")
	if !ok || p.Name() != "good" {
		t.Fatalf("lookup: %v %v", p, ok)
	}
	if len(hooked) != 1 || hooked[0] != "good=good" {
		t.Fatalf("hook: %v", hooked)
	}
	if all := r.Plugins(); len(all) != 1 {
		t.Fatalf("snapshot: %v", all)
	}
	r.Remove("good")
	if _, ok = r.Plugin("good"); ok {
		t.Fatal("survived Remove")
	}
}

func TestRegisterEntryNilPlugin(t *testing.T) {
	r := NewRegistrar(nil)
	err := r.RegisterEntry("nil", codeOf(nilFactory))
	if !errors.Is(err, ErrNilPlugin) {
		t.Fatalf("err = %v", err)
	}
	if _, ok := r.Plugin("nil"); ok {
		t.Fatal("nil plugin registered")
	}
}

func TestRegisterEntryPanicRecovered(t *testing.T) {
	r := NewRegistrar(nil)
	err := r.RegisterEntry("bad", codeOf(panicFactory))
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v", err)
	}
}
