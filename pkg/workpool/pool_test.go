package workpool

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kestrel-hpc/gemmforge/pkg/driver"
)

type fakeProgram struct{ id int }

func (p *fakeProgram) Kernel(name string) (driver.Kernel, error) { return nil, errors.New("none") }
func (p *fakeProgram) Release()                                  {}

func TestSubmitRunsJob(t *testing.T) {
	p := NewWithConfig(Config{Enabled: true, Workers: 2})
	defer p.Close()

	want := &fakeProgram{id: 7}
	got, err := p.Submit(func() (driver.Program, error) { return want, nil })
	if err != nil {
		t.Fatalf("Submit error = %v", err)
	}
	if got != want {
		t.Error("Submit should return the job's program")
	}
}

func TestSubmitPropagatesError(t *testing.T) {
	p := NewWithConfig(Config{Enabled: true, Workers: 1})
	defer p.Close()

	sentinel := errors.New("nvrtc exploded")
	_, err := p.Submit(func() (driver.Program, error) { return nil, sentinel })
	if !errors.Is(err, sentinel) {
		t.Errorf("Submit error = %v, want the job's error", err)
	}
}

func TestDisabledPoolRunsInline(t *testing.T) {
	p := NewWithConfig(Config{Enabled: false})
	ran := false
	_, err := p.Submit(func() (driver.Program, error) {
		ran = true
		return nil, nil
	})
	if err != nil || !ran {
		t.Error("disabled pool should run the job inline")
	}
	p.Close() // must be a no-op, not a panic
}

func TestConcurrentSubmits(t *testing.T) {
	p := NewWithConfig(Config{Enabled: true, Workers: 4})
	defer p.Close()

	const jobs = 64
	var wg sync.WaitGroup
	results := make([]driver.Program, jobs)
	errs := make([]error, jobs)
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = p.Submit(func() (driver.Program, error) {
				return &fakeProgram{id: n}, nil
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < jobs; i++ {
		if errs[i] != nil {
			t.Fatalf("job %d error = %v", i, errs[i])
		}
		fp, ok := results[i].(*fakeProgram)
		if !ok || fp.id != i {
			t.Fatalf("job %d got %v, results must not cross wires", i, results[i])
		}
	}
}

func TestCloseWaitsForInflight(t *testing.T) {
	p := NewWithConfig(Config{Enabled: true, Workers: 2})

	started := make(chan struct{})
	release := make(chan struct{})
	finished := false
	go p.Submit(func() (driver.Program, error) {
		close(started)
		<-release
		finished = true
		return &fakeProgram{}, nil
	})
	<-started

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a job was still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-closed
	if !finished {
		t.Error("Close returned before the in-flight job finished")
	}
}

func TestDefaultConfigUsed(t *testing.T) {
	prev := globalConfig
	defer Configure(prev)

	Configure(Config{Enabled: true, Workers: 1})
	p := New()
	defer p.Close()

	if _, err := p.Submit(func() (driver.Program, error) {
		return &fakeProgram{}, nil
	}); err != nil {
		t.Fatalf("Submit on default-configured pool: %v", err)
	}
}
