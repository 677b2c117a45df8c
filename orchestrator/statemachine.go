package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ceph/rbd-mirror-placement/model"
	"github.com/ceph/rbd-mirror-placement/osg"
)

// ErrInvalid is returned when the durable state contradicts the
// from/to instances the driver was asked to run (spec §4.4.1's guard,
// §7's "Map inconsistency").
var ErrInvalid = fmt.Errorf("orchestrator: durable state inconsistent with requested transition")

// driveImage runs the per-image state machine from spec §4.4.1 for
// (globalID, from, to). from == to is a pure map (no release needed, to
// is the newly chosen owner); from != to is a remap produced by
// shuffle. It is idempotent: replaying it against the same durable
// record produces the same terminal state (R1), because every
// transient durable state is either UNMAPPING or MAPPING and both
// RELEASE_OLD/ACQUIRE_NEW are themselves idempotent on the peer side.
func (o *Orchestrator) driveImage(ctx context.Context, globalID, from, to, mirrorUUID string) error {
	o.wg.Add(1)
	defer o.wg.Done()

	// READ_MAP
	im, err := o.readDurable(ctx, globalID, from)
	if err != nil {
		return err
	}

	// guard: current durable state must be consistent with this
	// transition.
	switch im.State {
	case model.StateMapped:
		if im.InstanceID != from {
			return ErrInvalid
		}
	case model.StateUnmapping, model.StateMapping, model.StateUnassigned:
		// restart-from-durable-state: re-run the transition.
	default:
		return ErrInvalid
	}

	bootstrap := o.isBootstrap()

	// WRITE_UNMAPPING
	im = model.ImageMap{InstanceID: from, State: model.StateUnmapping, MappedTime: im.MappedTime}
	if err := o.writeDurable(ctx, globalID, im); err != nil {
		return err
	}

	// RELEASE_OLD
	if from != to && !bootstrap {
		if err := o.peers.NotifyImageRelease(ctx, from, globalID, mirrorUUID, globalID, false); err != nil {
			status := osg.Status(err)
			if !osg.IsBenign(status) {
				return err
			}
		}
	}

	// WRITE_MAPPING
	now := time.Now().UTC()
	im = model.ImageMap{InstanceID: to, State: model.StateMapping, MappedTime: now}
	if err := o.writeDurable(ctx, globalID, im); err != nil {
		return err
	}

	// ACQUIRE_NEW
	if !bootstrap {
		if err := o.peers.NotifyImageAcquire(ctx, to, globalID, mirrorUUID, globalID); err != nil {
			status := osg.Status(err)
			if !osg.IsBenign(status) {
				return err
			}
		}
	}

	// WRITE_MAPPED
	im = model.ImageMap{InstanceID: to, State: model.StateMapped, MappedTime: now}
	if err := o.writeDurable(ctx, globalID, im); err != nil {
		return err
	}

	return nil
}
