package orchestrator

import (
	"context"

	"github.com/golang/glog"
)

// RegistryListener adapts Orchestrator to instance.Listener: IR's
// added/removed events are synchronous callbacks fired while IR holds no
// lock across them, so they are dispatched onto a fresh goroutine here
// rather than blocking IR's caller on PO's (potentially queued) gate.
type RegistryListener struct {
	O *Orchestrator
}

func (l *RegistryListener) Added(ids []string) {
	go func() {
		if err := l.O.AddInstances(context.Background(), ids); err != nil {
			glog.Errorf("orchestrator: add_instances(%v) failed: %v", ids, err)
		}
	}()
}

func (l *RegistryListener) Removed(ids []string) {
	go func() {
		if err := l.O.RemoveInstances(context.Background(), ids); err != nil {
			glog.Errorf("orchestrator: remove_instances(%v) failed: %v", ids, err)
		}
	}()
}
