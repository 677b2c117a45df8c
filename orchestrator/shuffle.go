package orchestrator

import (
	"context"

	"github.com/ceph/rbd-mirror-placement/cmn"
	"github.com/ceph/rbd-mirror-placement/model"
)

// driveShuffle is the shuffle driver (spec §4.4.2): fan out one
// per-image state-machine task per remap entry onto a bounded work pool
// and gather with first-error-wins. Each task applies its own in-memory
// move (PM.Remap) as soon as its driver succeeds; driveShuffle returns,
// letting the caller's gate release, only after every task has completed
// (success or not). Peer-RPC NotFound/InvalidArg statuses are already
// folded into success by driveImage/IsBenign before they get here.
func (o *Orchestrator) driveShuffle(ctx context.Context, remapped []model.Remap) error {
	const maxConcurrency = 16

	sem := make(chan struct{}, maxConcurrency)
	fns := make([]func() error, len(remapped))
	mirrorUUID := o.currentMirrorUUID()

	for i, r := range remapped {
		r := r
		fns[i] = func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := o.driveImage(ctx, r.GlobalID, r.From, r.To, mirrorUUID); err != nil {
				return err
			}
			ok := o.pm.Remap(r.From, r.To, r.GlobalID)
			cmn.Assert(ok, "placement: remap assertion failed for ", r.GlobalID)
			return nil
		}
	}
	return firstErrorWins(fns)
}

func (o *Orchestrator) currentMirrorUUID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mirrorUUID
}
