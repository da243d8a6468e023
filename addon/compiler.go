// Package addon drives the out-of-core collaborators of the linking
// layer: it watches addon directories, compiles discovered sources out
// of process, and registers the plugins their entry points produce.
package addon

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

type (
	//Source is what a job compiles: a set of files, or inline source
	//text for single-file nodes whose content was amended in memory.
	Source struct {
		Files  []string
		Inline string
	}
	//Job is one queued compilation, keyed by the identifier that later
	//becomes the module key.
	Job struct {
		ID    string
		Src   Source
		Flags []string
	}
	//DoneFunc receives job completions on the dispatch goroutine, in
	//submission order, never re-entrant into the submitter's frame.
	//Either object holds the compiled module bytes or err the failure.
	DoneFunc func(job Job, object []byte, err error)
	//Config tunes the out-of-process toolchain.
	Config struct {
		Toolchain string   //compiler binary, default cc
		BaseFlags []string //always passed before per-job flags
		WorkDir   string   //scratch dir, default os.TempDir
		KeepTemp  bool
		Debug     bool
		//Compile overrides the toolchain invocation, for tests
		Compile func(Job) ([]byte, error)
	}
	completion struct {
		job Job
		obj []byte
		err error
	}
	//Compiler batches compile jobs onto one worker and reports
	//completions asynchronously. A pure producer for the linking
	//layer; it never calls back into it.
	Compiler struct {
		cfg  Config
		done DoneFunc

		mu     sync.Mutex
		queue  []Job
		wake   chan struct{}
		closed bool
		wg     sync.WaitGroup
	}
)

// NewCompiler starts the worker and dispatch goroutines.
func NewCompiler(cfg Config, done DoneFunc) *Compiler {
	if cfg.Toolchain == "" {
		cfg.Toolchain = "cc"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	c := &Compiler{cfg: cfg, done: done, wake: make(chan struct{}, 1)}
	c.wg.Add(1)
	go c.run()
	return c
}

// SubmitJob queues a compile without blocking. The identifier is
// reused as the eventual module key.
func (c *Compiler) SubmitJob(id string, src Source, flags []string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, Job{ID: id, Src: src, Flags: flags})
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Close drains nothing: pending jobs are dropped, the running one
// finishes and is reported.
func (c *Compiler) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.queue = nil
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	c.wg.Wait()
}

func (c *Compiler) run() {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		var job Job
		ok := len(c.queue) > 0
		if ok {
			job = c.queue[0]
			c.queue = c.queue[1:]
		}
		c.mu.Unlock()
		if !ok {
			<-c.wake
			continue
		}
		obj, err := c.compile(job)
		if c.done != nil {
			c.done(job, obj, err)
		}
	}
}

func (c *Compiler) compile(job Job) ([]byte, error) {
	if c.cfg.Compile != nil {
		return c.cfg.Compile(job)
	}
	files := job.Src.Files
	dir, err := os.MkdirTemp(c.cfg.WorkDir, "jitlink-"+job.ID+"-")
	if err != nil {
		return nil, err
	}
	if !c.cfg.KeepTemp {
		defer os.RemoveAll(dir)
	}
	if job.Src.Inline != "" {
		f := filepath.Join(dir, job.ID+".c")
		if err = os.WriteFile(f, []byte(job.Src.Inline), 0o644); err != nil {
			return nil, err
		}
		files = []string{f}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("job %s: no sources", job.ID)
	}
	objs := make([]string, len(files))
	for i, f := range files {
		objs[i] = filepath.Join(dir, fmt.Sprintf("%s.%d.o", job.ID, i))
		args := append([]string{}, c.cfg.BaseFlags...)
		args = append(args, job.Flags...)
		args = append(args, "-c", "-o", objs[i], f)
		if err = c.exec(job, c.cfg.Toolchain, args); err != nil {
			return nil, err
		}
	}
	out := objs[0]
	if len(objs) > 1 {
		// fold the translation units into one relocatable module
		out = filepath.Join(dir, job.ID+".o")
		if err = c.exec(job, "ld", append([]string{"-r", "-o", out}, objs...)); err != nil {
			return nil, err
		}
	}
	return os.ReadFile(out)
}

func (c *Compiler) exec(job Job, bin string, args []string) error {
	cmd := exec.Command(bin, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	if c.cfg.Debug {
		log.Printf("execute: %v", cmd.Args)
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("job %s: %w\n%s", job.ID, err, stderr.String())
	}
	return nil
}
