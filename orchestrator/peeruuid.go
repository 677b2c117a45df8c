package orchestrator

import (
	"context"

	"github.com/golang/glog"
)

// reconcilePeerUUID implements spec §4.4.3: fan out add_peer(old, new)
// to every live instance; any instance that fails to ack is recorded in
// the ignore list and left out of the instance sets handed to shuffle
// until it is cleared (an ack in a later reconcilePeerUUID round clears
// it, as does ClearIgnored).
func (o *Orchestrator) reconcilePeerUUID(ctx context.Context, oldUUID, newUUID string) {
	instanceIDs := o.pm.GetInstanceIDs()
	fns := make([]func() error, len(instanceIDs))
	for i, id := range instanceIDs {
		id := id
		fns[i] = func() error {
			return o.peers.NotifyAddPeer(ctx, id, oldUUID, newUUID)
		}
	}
	results := allSuccessRequired(fns)
	for i, err := range results {
		o.setIgnored(instanceIDs[i], err != nil)
	}
}

// notifyPeerUpdate brings newly-added instances up to date on the
// currently cached mirror_uuid (spec §4.4's "(a) optional peer-uuid
// update notifications" step of add_instances). It is a best-effort
// courtesy notification, distinct from the full add_peer fan-out
// reconcilePeerUUID runs when the uuid itself changes: failures here are
// logged, not added to the ignore list.
func (o *Orchestrator) notifyPeerUpdate(ctx context.Context, ids []string) {
	uuid := o.currentMirrorUUID()
	if uuid == "" {
		return
	}
	fns := make([]func() error, len(ids))
	for i, id := range ids {
		id := id
		fns[i] = func() error {
			return o.peers.NotifyPeerUpdate(ctx, id, uuid, uuid)
		}
	}
	for i, err := range allSuccessRequired(fns) {
		if err != nil {
			glog.Warningf("orchestrator: peer_update to %s failed: %v", ids[i], err)
		}
	}
}

// ClearIgnored removes instanceID from the ignore list, bringing it back
// into the instance sets handed to shuffle. Neither the registry's Notify
// nor notifyPeerUpdate calls it; within this package an instance leaves
// the ignore list only here or by acking a later reconcilePeerUUID round.
func (o *Orchestrator) ClearIgnored(instanceID string) {
	o.setIgnored(instanceID, false)
}
