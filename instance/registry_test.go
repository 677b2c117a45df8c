package instance

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ceph/rbd-mirror-placement/osg"
)

type fakeListener struct {
	mu      sync.Mutex
	added   [][]string
	removed [][]string
}

func (l *fakeListener) Added(ids []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := append([]string(nil), ids...)
	sort.Strings(cp)
	l.added = append(l.added, cp)
}

func (l *fakeListener) Removed(ids []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := append([]string(nil), ids...)
	sort.Strings(cp)
	l.removed = append(l.removed, cp)
}

func (l *fakeListener) addedSnapshot() [][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]string(nil), l.added...)
}

func (l *fakeListener) removedSnapshot() [][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]string(nil), l.removed...)
}

func TestInitEnumeratesAndExcludesLocal(t *testing.T) {
	ctx := context.Background()
	gw := osg.NewMemory()
	for _, id := range []string{"A", "B", "local"} {
		if _, err := gw.WriteIf(ctx, "instance/"+id, []byte("x"), osg.MustBeAbsent()); err != nil {
			t.Fatalf("seed WriteIf(%s): %v", id, err)
		}
	}

	l := &fakeListener{}
	r := New("local", gw, time.Hour, l)
	if err := r.Init(ctx, 1024); err != nil {
		t.Fatalf("Init: %v", err)
	}

	got := r.List()
	want := []string{"A", "B"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("List() = %v, want %v", got, want)
	}

	added := l.addedSnapshot()
	if len(added) != 1 || len(added[0]) != 2 {
		t.Fatalf("expected one Added event with 2 peers, got %v", added)
	}
}

func TestNotifyInsertsUnknownPeerOnce(t *testing.T) {
	ctx := context.Background()
	gw := osg.NewMemory()
	l := &fakeListener{}
	r := New("local", gw, time.Hour, l)
	if err := r.Init(ctx, 1024); err != nil {
		t.Fatalf("Init: %v", err)
	}

	r.Notify("local")
	if got := r.List(); len(got) != 0 {
		t.Fatalf("Notify(local) should be ignored, got %v", got)
	}

	r.Notify("C")
	r.Notify("C")

	if got := r.List(); len(got) != 1 || got[0] != "C" {
		t.Fatalf("List() = %v, want [C]", got)
	}

	added := l.addedSnapshot()
	if len(added) != 1 {
		t.Fatalf("expected exactly one Added([C]) event across two Notify(C) calls, got %v", added)
	}
}

func TestRemovalFiresAfterGraceWithoutRefresh(t *testing.T) {
	ctx := context.Background()
	gw := osg.NewMemory()
	if _, err := gw.WriteIf(ctx, "instance/A", []byte("x"), osg.MustBeAbsent()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	l := &fakeListener{}
	r := New("local", gw, 30*time.Millisecond, l)
	if err := r.Init(ctx, 1024); err != nil {
		t.Fatalf("Init: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		removed := l.removedSnapshot()
		if len(removed) == 1 && len(removed[0]) == 1 && removed[0][0] == "A" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for removal, removed so far: %v", removed)
		case <-time.After(5 * time.Millisecond):
		}
	}

	if got := r.List(); len(got) != 0 {
		t.Fatalf("List() after removal = %v, want empty", got)
	}
	r.ShutDown()

	if _, _, err := gw.Read(ctx, "instance/A"); err != osg.ErrNotFound {
		t.Fatalf("expected durable record for A to be deleted, got err=%v", err)
	}
}

func TestNotifyRearmsTimerAndPreventsRemoval(t *testing.T) {
	ctx := context.Background()
	gw := osg.NewMemory()
	if _, err := gw.WriteIf(ctx, "instance/A", []byte("x"), osg.MustBeAbsent()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	l := &fakeListener{}
	r := New("local", gw, 80*time.Millisecond, l)
	if err := r.Init(ctx, 1024); err != nil {
		t.Fatalf("Init: %v", err)
	}

	stop := time.After(250 * time.Millisecond)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-stop:
			break loop
		case <-ticker.C:
			r.Notify("A")
		}
	}

	if got := r.List(); len(got) != 1 || got[0] != "A" {
		t.Fatalf("A should have survived due to repeated Notify refresh, got %v", got)
	}
	r.ShutDown()
}

func TestShutDownDrainsOutstandingRemovals(t *testing.T) {
	ctx := context.Background()
	gw := osg.NewMemory()
	if _, err := gw.WriteIf(ctx, "instance/A", []byte("x"), osg.MustBeAbsent()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	l := &fakeListener{}
	r := New("local", gw, 10*time.Millisecond, l)
	if err := r.Init(ctx, 1024); err != nil {
		t.Fatalf("Init: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	r.ShutDown()

	if _, _, err := gw.Read(ctx, "instance/A"); err != osg.ErrNotFound {
		t.Fatalf("ShutDown should have waited for the durable delete, got err=%v", err)
	}
}
