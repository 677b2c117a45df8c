package cmn

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeRunner struct {
	Named
	runErr   error
	stopOnce sync.Once
	stopped  chan error
	selfExit chan struct{}
	stopExit chan struct{}
}

func newFakeRunner(runErr error) *fakeRunner {
	return &fakeRunner{
		runErr:   runErr,
		stopped:  make(chan error, 1),
		selfExit: make(chan struct{}),
		stopExit: make(chan struct{}),
	}
}

func (f *fakeRunner) Run() error {
	select {
	case <-f.selfExit:
		return f.runErr
	case <-f.stopExit:
		return nil
	}
}

func (f *fakeRunner) Stop(err error) {
	f.stopOnce.Do(func() {
		f.stopped <- err
		close(f.stopExit)
	})
}

// exitNow makes Run return immediately with runErr, as if the runner
// failed on its own rather than via Stop.
func (f *fakeRunner) exitNow() {
	close(f.selfExit)
}

func TestRungroupStopsAllRunnersOnFirstExit(t *testing.T) {
	g := NewRungroup()
	failing := newFakeRunner(errors.New("boom"))
	survivor := newFakeRunner(nil)
	g.Add(failing, "failing")
	g.Add(survivor, "survivor")

	done := make(chan error, 1)
	go func() { done <- g.Run() }()

	failing.exitNow()

	select {
	case err := <-done:
		if err == nil || err.Error() != "boom" {
			t.Fatalf("Run() returned %v, want the failing runner's error", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after the first runner exited")
	}

	select {
	case <-survivor.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("survivor runner was never stopped")
	}
}

func TestRungroupGetReturnsNamedRunner(t *testing.T) {
	g := NewRungroup()
	r := newFakeRunner(nil)
	g.Add(r, "worker")

	if got := g.Get("worker"); got != Runner(r) {
		t.Fatalf("Get(worker) = %v, want the added runner", got)
	}
	if r.Getname() != "worker" {
		t.Fatalf("Getname() = %q, want worker", r.Getname())
	}
	if g.Get("missing") != nil {
		t.Fatal("Get(missing) should return nil")
	}
}

func TestRungroupRunWithNoRunnersReturnsNil(t *testing.T) {
	g := NewRungroup()
	if err := g.Run(); err != nil {
		t.Fatalf("Run() on empty rungroup = %v, want nil", err)
	}
}
