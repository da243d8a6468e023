package addon

import (
	"log"
	"time"

	"github.com/ZenLiuCN/jitlink"
)

type (
	//Options wires a Pipeline.
	Options struct {
		AddonsDir string
		NodesDir  string
		Debounce  time.Duration
		Compiler  Config
		//NewAllocator hands each module its memory; nil means one
		//executable mmap allocator per module.
		NewAllocator func() jitlink.Allocator
		//Resolver answers module imports beside the layer's own
		//modules; nil means host process exports.
		Resolver jitlink.Resolver
		Debug    bool
	}
	//Pipeline is the full path from filesystem change to registered
	//plugin: watcher batches into compile jobs, the compiler reports
	//object modules, the layer links them, the registrar instantiates
	//their entry points.
	Pipeline struct {
		Layer     *jitlink.Layer
		Registrar Registrar
		compiler  *Compiler
		watch     *Watch
		resolver  jitlink.Resolver
		newAlloc  func() jitlink.Allocator
		debug     bool
	}
)

// NewPipeline assembles watcher, compiler, layer and registrar.
func NewPipeline(opt Options, layer *jitlink.Layer, reg Registrar) (*Pipeline, error) {
	p := &Pipeline{
		Layer:     layer,
		Registrar: reg,
		newAlloc:  opt.NewAllocator,
		resolver:  opt.Resolver,
		debug:     opt.Debug,
	}
	if p.newAlloc == nil {
		p.newAlloc = jitlink.NewMmapAllocator
	}
	if p.resolver == nil {
		host, err := jitlink.HostResolver()
		if err != nil {
			return nil, err
		}
		p.resolver = host
	}
	opt.Compiler.Debug = opt.Compiler.Debug || opt.Debug
	p.compiler = NewCompiler(opt.Compiler, p.onDone)
	w, err := NewWatch(opt.AddonsDir, opt.NodesDir, opt.Debounce, p.compiler.SubmitJob, opt.Debug)
	if err != nil {
		return nil, err
	}
	p.watch = w
	return p, nil
}

// Start begins discovery.
func (p *Pipeline) Start() error { return p.watch.Start() }

// Close stops discovery and the compiler. Linked modules stay live.
func (p *Pipeline) Close() error {
	err := p.watch.Close()
	p.compiler.Close()
	return err
}

// onDone consumes compile completions. Compile failures are reported
// here and go no further; they never surface as link errors.
func (p *Pipeline) onDone(job Job, object []byte, err error) {
	if err != nil {
		log.Printf("compile %s failed: %v", job.ID, err)
		return
	}
	key := jitlink.Key(job.ID)
	// a resubmitted id replaces the previous build of the same unit
	if rmErr := p.Layer.RemoveModule(key); rmErr == nil {
		if r, ok := p.Registrar.(*PluginRegistrar); ok {
			r.Remove(job.ID)
		}
	}
	resolver := jitlink.ChainResolvers(p.Layer.Resolver(true), p.resolver)
	if err = p.Layer.AddModule(key, object, p.newAlloc(), resolver); err != nil {
		log.Printf("link %s failed: %v", job.ID, err)
		return
	}
	entry, err := p.Layer.FindSymbolInModule(key, EntrySymbol, true)
	if err != nil {
		// a module without an entry point still serves symbols to
		// later modules; leave it registered
		log.Printf("module %s: %v", job.ID, err)
		return
	}
	if err = p.Registrar.RegisterEntry(job.ID, entry); err != nil {
		log.Printf("register %s failed: %v", job.ID, err)
	}
}
