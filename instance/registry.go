// Package instance implements the Instance Registry: the live peer set,
// heartbeat-based failure detection, and added/removed notifications.
// Grounded on the Ceph rbd-mirror Instances<I> class.
package instance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/ceph/rbd-mirror-placement/osg"
)

const scope = "instance"

func durableKey(id string) string { return scope + "/" + id }

// Listener is notified of membership changes. Removed is not responsible
// for the durable instance-object deletion: Registry issues it itself
// rather than via a callback so the retry/backoff policy lives in one
// place (see remove()).
type Listener interface {
	Added(ids []string)
	Removed(ids []string)
}

type record struct {
	id    string
	timer *armedTimer
}

// Registry is the Instance Registry (IR). It uses two locks acquired in
// a fixed order -- timerLock then registryLock -- matching the source's
// lock-ordering discipline: the timer callback itself only needs
// registryLock, but arming/disarming a timer needs both.
type Registry struct {
	timerLock    sync.Mutex
	registryLock sync.RWMutex

	localID   string
	instances map[string]*record
	listener  Listener
	gw        osg.Gateway
	grace     time.Duration

	wg sync.WaitGroup // outstanding async removal work, drained on shut_down
}

func New(localID string, gw osg.Gateway, grace time.Duration, listener Listener) *Registry {
	return &Registry{
		localID:   localID,
		instances: make(map[string]*record),
		listener:  listener,
		gw:        gw,
		grace:     grace,
	}
}

// Init enumerates current peers via OSG, inserts all into the in-memory
// set (skipping the local instance's own id), arms a removal timer on
// each, and then delivers an initial added(all_peers) event.
func (r *Registry) Init(ctx context.Context, pageSize int) error {
	var peers []string
	startAfter := ""
	for {
		entries, hasMore, err := r.gw.ListRange(ctx, scope+"/", startAfter, pageSize)
		if err != nil {
			return err
		}
		for _, e := range entries {
			id := e.Key[len(scope)+1:]
			if id == r.localID {
				continue
			}
			peers = append(peers, id)
		}
		if !hasMore || len(entries) == 0 {
			break
		}
		startAfter = entries[len(entries)-1].Key
	}

	r.registryLock.Lock()
	for _, id := range peers {
		r.instances[id] = &record{id: id}
	}
	r.registryLock.Unlock()

	for _, id := range peers {
		r.armTimer(id)
	}

	sort.Strings(peers)
	if len(peers) > 0 {
		r.listener.Added(peers)
	}
	return nil
}

// Notify is called whenever a peer sends a notification (heartbeat). If
// id is unknown, it is inserted and added([id]) is emitted. In all
// cases, the per-peer removal timer is cancelled and re-armed.
func (r *Registry) Notify(id string) {
	if id == r.localID {
		return
	}
	r.registryLock.Lock()
	_, known := r.instances[id]
	if !known {
		r.instances[id] = &record{id: id}
	}
	r.registryLock.Unlock()

	r.armTimer(id)

	if !known {
		r.listener.Added([]string{id})
	}
}

// List is a read-side snapshot.
func (r *Registry) List() []string {
	r.registryLock.RLock()
	defer r.registryLock.RUnlock()
	ids := make([]string, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ShutDown cancels all timers and waits for outstanding async removal
// work (durable deletes in flight) to complete.
func (r *Registry) ShutDown() {
	r.timerLock.Lock()
	r.registryLock.Lock()
	for _, rec := range r.instances {
		if rec.timer != nil {
			rec.timer.Stop()
		}
	}
	r.registryLock.Unlock()
	r.timerLock.Unlock()
	r.wg.Wait()
}

// armTimer cancels any existing removal timer for id and arms a fresh
// one for r.grace from now. Arming acquires both locks, in timerLock,
// registryLock order; the fired callback itself only needs
// registryLock (it calls remove(), which takes it internally).
func (r *Registry) armTimer(id string) {
	r.timerLock.Lock()
	defer r.timerLock.Unlock()

	r.registryLock.Lock()
	rec, ok := r.instances[id]
	if !ok {
		r.registryLock.Unlock()
		return
	}
	if rec.timer != nil {
		rec.timer.Stop()
	}
	r.registryLock.Unlock()

	rec.timer = newArmedTimer(r.grace, func() {
		r.remove(id)
	})
}

// remove is the removal-timer callback: it is a no-op if the instance has
// since been re-inserted by a concurrent Notify racing the timer (the
// race is tolerated per spec §5's cancellation semantics), otherwise it
// deletes the in-memory record, emits removed([id]), and retries the
// durable delete in the background.
func (r *Registry) remove(id string) {
	r.registryLock.Lock()
	rec, ok := r.instances[id]
	if !ok {
		r.registryLock.Unlock()
		return
	}
	delete(r.instances, id)
	r.registryLock.Unlock()
	_ = rec

	r.wg.Add(1)
	r.listener.Removed([]string{id})

	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := osg.RetryTransient(ctx, 100*time.Millisecond, 5*time.Second, func() error {
			err := r.gw.Remove(ctx, durableKey(id))
			if err != nil && err == osg.ErrNotFound {
				return nil
			}
			return err
		})
		if err != nil {
			glog.Warningf("instance: permanent failure deleting durable record for %s: %v", id, err)
		}
	}()
}

// armedTimer wraps time.Timer with an atomic "has it fired yet" flag so
// Stop reports, as the source's cancel_event requires, whether the
// callback had not yet started running.
type armedTimer struct {
	mu      sync.Mutex
	t       *time.Timer
	stopped bool
}

func newArmedTimer(d time.Duration, fn func()) *armedTimer {
	at := &armedTimer{}
	at.t = time.AfterFunc(d, func() {
		at.mu.Lock()
		if at.stopped {
			at.mu.Unlock()
			return
		}
		at.stopped = true
		at.mu.Unlock()
		fn()
	})
	return at
}

// Stop cancels the timer. Returns true iff the callback had not yet
// started running.
func (at *armedTimer) Stop() bool {
	at.mu.Lock()
	defer at.mu.Unlock()
	if at.stopped {
		return false
	}
	at.stopped = true
	at.t.Stop()
	return true
}
