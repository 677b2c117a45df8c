package orchestrator

import "context"

// PeerClient is the capability interface the orchestrator drives per
// spec §6's peer RPCs. It is deliberately narrow -- four verbs, each
// returning a single integer status the way the source's completions do
// -- so the default transport (osg.NotifyPeerClient, built on
// Gateway.Watch/Notify) and the direct one (rpc.Client, built on HTTP/2)
// can both satisfy it
// without the orchestrator knowing which one it has.
type PeerClient interface {
	NotifyImageAcquire(ctx context.Context, instanceID, globalID, mirrorUUID, imageID string) error
	NotifyImageRelease(ctx context.Context, instanceID, globalID, mirrorUUID, imageID string, force bool) error
	NotifyAddPeer(ctx context.Context, instanceID, oldUUID, newUUID string) error
	NotifyPeerUpdate(ctx context.Context, instanceID, oldUUID, newUUID string) error
}
