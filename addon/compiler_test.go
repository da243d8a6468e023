package addon

import (
	"fmt"
	"sync"
	"testing"
)

func TestCompletionsArriveInSubmissionOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	const jobs = 20
	c := NewCompiler(Config{
		Compile: func(j Job) ([]byte, error) {
			return []byte(j.ID), nil
		},
	}, func(j Job, obj []byte, err error) {
		mu.Lock()
		got = append(got, string(obj))
		n := len(got)
		mu.Unlock()
		if n == jobs {
			close(done)
		}
	})
	defer c.Close()
	for i := 0; i < jobs; i++ {
		c.SubmitJob(fmt.Sprintf("j%02d", i), Source{Inline: "int x;"}, nil)
	}
	<-done
	for i, id := range got {
		if want := fmt.Sprintf("j%02d", i); id != want {
			t.Fatalf("completion %d = %s, want %s", i, id, want)
		}
	}
}

func TestCompileFailureReported(t *testing.T) {
	res := make(chan error, 1)
	c := NewCompiler(Config{
		Compile: func(j Job) ([]byte, error) {
			return nil, fmt.Errorf("syntax error in %s", j.ID)
		},
	}, func(j Job, obj []byte, err error) {
		res <- err
	})
	defer c.Close()
	c.SubmitJob("broken", Source{Inline: "int"}, nil)
	if err := <-res; err == nil {
		t.Fatal("failure swallowed")
	}
}

func TestSubmitAfterCloseDropped(t *testing.T) {
	called := false
	c := NewCompiler(Config{
		Compile: func(j Job) ([]byte, error) { return nil, nil },
	}, func(j Job, obj []byte, err error) { called = true })
	c.Close()
	c.SubmitJob("late", Source{Inline: "int x;"}, nil)
	if called {
		t.Fatal("job ran after close")
	}
}

func TestNoSources(t *testing.T) {
	res := make(chan error, 1)
	c := NewCompiler(Config{}, func(j Job, obj []byte, err error) { res <- err })
	defer c.Close()
	c.SubmitJob("empty", Source{}, nil)
	if err := <-res; err == nil {
		t.Fatal("empty job compiled")
	}
}
