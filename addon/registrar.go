package addon

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/ZenLiuCN/jitlink"
)

// EntrySymbol is the exported factory every addon module must define.
const EntrySymbol = "jitlink_entry"

type (
	//Plugin is the host-visible object an addon contributes.
	Plugin interface {
		Name() string
	}
	//Factory is the contract type of a module's entry symbol.
	Factory = func() Plugin
	//Registrar instantiates plugins from resolved entry addresses and
	//exposes them to the host.
	Registrar interface {
		RegisterEntry(key string, entry jitlink.Sym) error
	}
	//PluginRegistrar is the default registry backed by a map.
	PluginRegistrar struct {
		mu      sync.RWMutex
		plugins map[string]Plugin
		hook    func(key string, p Plugin)
	}
)

var ErrNilPlugin = errors.New("entry factory produced no plugin")

// NewRegistrar creates a registry; hook, when not nil, observes every
// successful registration.
func NewRegistrar(hook func(key string, p Plugin)) *PluginRegistrar {
	return &PluginRegistrar{plugins: make(map[string]Plugin), hook: hook}
}

// RegisterEntry calls the entry factory behind the resolved address
// and records the plugin it produces under key.
func (r *PluginRegistrar) RegisterEntry(key string, entry jitlink.Sym) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("entry of %s panicked: %v", key, v)
		}
	}()
	f := jitlink.As[Factory](entry)
	p := f()
	if p == nil {
		return fmt.Errorf("%w: %s", ErrNilPlugin, key)
	}
	r.mu.Lock()
	r.plugins[key] = p
	r.mu.Unlock()
	log.Printf("addon registered: %s (%s)", key, p.Name())
	if r.hook != nil {
		r.hook(key, p)
	}
	return nil
}

// Plugin looks up a registered plugin.
func (r *PluginRegistrar) Plugin(key string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[key]
	return p, ok
}

// Plugins snapshots the registry.
func (r *PluginRegistrar) Plugins() map[string]Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Plugin, len(r.plugins))
	for k, v := range r.plugins {
		out[k] = v
	}
	return out
}

// Remove drops a plugin from the registry, typically right before the
// backing module is removed from the layer.
func (r *PluginRegistrar) Remove(key string) {
	r.mu.Lock()
	delete(r.plugins, key)
	r.mu.Unlock()
}
