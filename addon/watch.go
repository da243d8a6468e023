package addon

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long directory-change storms are allowed to
// settle before a rescan.
const DefaultDebounce = 5 * time.Second

type (
	//Manifest is the addon.json dropped next to an addon's sources.
	Manifest struct {
		Key   string   `json:"key"`
		Flags []string `json:"flags"`
	}
	//SubmitFunc hands a discovered unit to the compile orchestrator.
	SubmitFunc func(id string, src Source, flags []string)
	//Watch discovers addon subdirectories and single-file nodes under
	//two roots and submits compile jobs for anything new. Change
	//events are coalesced with a single-shot debounce timer.
	Watch struct {
		addons, nodes string
		delay         time.Duration
		submit        SubmitFunc
		debug         bool

		w  *fsnotify.Watcher
		wg sync.WaitGroup

		mu         sync.Mutex
		timer      *time.Timer
		seenAddons map[string]struct{}
		seenNodes  map[string]struct{}
	}
)

// NewWatch prepares discovery over an addons root (subdirectory per
// addon, manifest inside) and a nodes root (one source file per node).
// Either may be empty to skip it.
func NewWatch(addonsDir, nodesDir string, delay time.Duration, submit SubmitFunc, debug ...bool) (*Watch, error) {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watch{
		addons:     addonsDir,
		nodes:      nodesDir,
		delay:      delay,
		submit:     submit,
		debug:      debug != nil && len(debug) > 0 && debug[0],
		w:          w,
		seenAddons: make(map[string]struct{}),
		seenNodes:  make(map[string]struct{}),
	}, nil
}

// Start performs the initial scan and begins watching.
func (s *Watch) Start() error {
	for _, d := range []string{s.addons, s.nodes} {
		if d == "" {
			continue
		}
		if err := s.w.Add(d); err != nil {
			return err
		}
	}
	s.wg.Add(1)
	go s.loop()
	s.Rescan()
	return nil
}

// Close stops watching; a pending debounce rescan is dropped.
func (s *Watch) Close() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	err := s.w.Close()
	s.wg.Wait()
	return err
}

func (s *Watch) loop() {
	defer s.wg.Done()
	for {
		select {
		case ev, ok := <-s.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if s.debug {
				log.Printf("fs event %s", ev)
			}
			s.kick()
		case err, ok := <-s.w.Errors:
			if !ok {
				return
			}
			log.Printf("watch error: %v", err)
		}
	}
}

// kick (re)arms the single-shot debounce; the rescan fires delay after
// the last event.
func (s *Watch) kick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, s.Rescan)
}

// Rescan walks both roots and submits anything not seen before.
func (s *Watch) Rescan() {
	if s.addons != "" {
		s.rescanAddons()
	}
	if s.nodes != "" {
		s.rescanNodes()
	}
}

func (s *Watch) rescanAddons() {
	entries, err := os.ReadDir(s.addons)
	if err != nil {
		log.Printf("scan addons: %v", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(s.addons, e.Name())
		s.mu.Lock()
		_, seen := s.seenAddons[p]
		s.seenAddons[p] = struct{}{}
		s.mu.Unlock()
		if !seen {
			s.setupAddon(p)
		}
	}
}

func (s *Watch) setupAddon(dir string) {
	m, sources, err := loadAddon(dir)
	if err != nil {
		log.Printf("addon %s: %v", dir, err)
		return
	}
	if len(sources) == 0 || m.Key == "" {
		return
	}
	id := strings.ReplaceAll(m.Key, "-", "")
	flags := append([]string{"-I" + dir}, m.Flags...)
	if s.debug {
		log.Printf("registering addon %s as %s", dir, id)
	}
	s.submit(id, Source{Files: sources}, flags)
}

// loadAddon reads the manifest and collects the addon's sources.
func loadAddon(dir string) (m Manifest, sources []string, err error) {
	raw, err := os.ReadFile(filepath.Join(dir, "addon.json"))
	if err != nil {
		return
	}
	if err = json.Unmarshal(raw, &m); err != nil {
		return
	}
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isSource(path) {
			sources = append(sources, path)
		}
		return nil
	})
	return
}

func (s *Watch) rescanNodes() {
	err := filepath.WalkDir(s.nodes, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isSource(path) {
			return nil
		}
		s.mu.Lock()
		_, seen := s.seenNodes[path]
		s.seenNodes[path] = struct{}{}
		s.mu.Unlock()
		if !seen {
			s.setupNode(path)
		}
		return nil
	})
	if err != nil {
		log.Printf("scan nodes: %v", err)
	}
}

func (s *Watch) setupNode(path string) {
	src, err := os.ReadFile(path)
	if err != nil {
		log.Printf("node %s: %v", path, err)
		return
	}
	id, ok := extractNodeID(string(src))
	if !ok {
		return
	}
	if s.debug {
		log.Printf("registering node %s as %s", path, id)
	}
	s.submit(id, Source{Inline: string(src)}, []string{"-I" + filepath.Dir(path)})
}

// extractNodeID pulls the identifying uuid out of node source text: the
// first quoted string after a make_uuid marker, dashes removed.
func extractNodeID(src string) (string, bool) {
	const marker = "make_uuid"
	at := strings.Index(src, marker)
	if at < 0 {
		return "", false
	}
	min := strings.IndexByte(src[at+len(marker):], '"')
	if min < 0 {
		return "", false
	}
	min += at + len(marker) + 1
	max := strings.IndexByte(src[min:], '"')
	if max != 36 {
		return "", false
	}
	return strings.ReplaceAll(src[min:min+36], "-", ""), true
}

func isSource(path string) bool {
	switch filepath.Ext(path) {
	case ".c", ".cc", ".cpp", ".cxx":
		return true
	}
	return false
}
