package main

import (
	"context"

	"github.com/golang/glog"
)

// localHandler stands in for the per-image replication workers (journal
// replay, image sync, trimming) that spec §1 places out of scope: it
// only logs the acquire/release/add_peer/peer_update calls the
// orchestrator and peer RPC server drive it through.
type localHandler struct{}

func newLocalHandler() *localHandler { return &localHandler{} }

func (h *localHandler) Acquire(_ context.Context, globalID, mirrorUUID, imageID string) error {
	glog.Infof("handler: acquire global_id=%s mirror_uuid=%s image_id=%s", globalID, mirrorUUID, imageID)
	return nil
}

func (h *localHandler) Release(_ context.Context, globalID, mirrorUUID, imageID string, force bool) error {
	glog.Infof("handler: release global_id=%s mirror_uuid=%s image_id=%s force=%v", globalID, mirrorUUID, imageID, force)
	return nil
}

func (h *localHandler) AddPeer(_ context.Context, oldUUID, newUUID string) error {
	glog.Infof("handler: add_peer old=%s new=%s", oldUUID, newUUID)
	return nil
}

func (h *localHandler) PeerUpdate(_ context.Context, oldUUID, newUUID string) error {
	glog.Infof("handler: peer_update old=%s new=%s", oldUUID, newUUID)
	return nil
}
