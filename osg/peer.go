package osg

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const peerScope = "peer"

func peerInboxKey(instanceID string) string { return peerScope + "/" + instanceID }

// rpcKind enumerates the four peer RPCs spec §6 names.
type rpcKind string

const (
	rpcAcquire    rpcKind = "acquire"
	rpcRelease    rpcKind = "release"
	rpcAddPeer    rpcKind = "add_peer"
	rpcPeerUpdate rpcKind = "peer_update"
)

type rpcRequest struct {
	Kind       rpcKind `json:"kind"`
	ReplyKey   string  `json:"reply_key"`
	GlobalID   string  `json:"global_id,omitempty"`
	MirrorUUID string  `json:"mirror_uuid,omitempty"`
	ImageID    string  `json:"image_id,omitempty"`
	Force      bool    `json:"force,omitempty"`
	OldUUID    string  `json:"old_uuid,omitempty"`
	NewUUID    string  `json:"new_uuid,omitempty"`
}

type rpcResponse struct {
	Status int `json:"status"`
}

// Handler is implemented by whatever runs the real per-image replicas on
// an instance: the engine only ever starts/stops that work via these
// four calls (spec's "Image replica (external)" in the glossary).
type Handler interface {
	Acquire(ctx context.Context, globalID, mirrorUUID, imageID string) error
	Release(ctx context.Context, globalID, mirrorUUID, imageID string, force bool) error
	AddPeer(ctx context.Context, oldUUID, newUUID string) error
	PeerUpdate(ctx context.Context, oldUUID, newUUID string) error
}

var replyCounter uint64

// NotifyPeerClient implements orchestrator.PeerClient on top of
// Gateway.Watch/Notify: the spec states peer RPCs travel "via OSG
// notify" rather than a bespoke transport, so the request/reply
// correlation (a per-call reply key, watched just long enough to collect
// one response) lives here rather than in the orchestrator.
type NotifyPeerClient struct {
	gw      Gateway
	timeout time.Duration
}

func NewNotifyPeerClient(gw Gateway, timeout time.Duration) *NotifyPeerClient {
	return &NotifyPeerClient{gw: gw, timeout: timeout}
}

func (c *NotifyPeerClient) call(ctx context.Context, instanceID string, req rpcRequest) error {
	replyKey := fmt.Sprintf("peer-reply/%d", atomic.AddUint64(&replyCounter, 1))
	req.ReplyKey = replyKey

	ch := make(chan int, 1)
	h := c.gw.Watch(replyKey, func(payload []byte) {
		var resp rpcResponse
		if err := json.Unmarshal(payload, &resp); err == nil {
			select {
			case ch <- resp.Status:
			default:
			}
		}
	})
	defer c.gw.Unwatch(h)

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := c.gw.Notify(ctx, peerInboxKey(instanceID), payload); err != nil {
		return err
	}

	timeout := c.timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case status := <-ch:
		if status != 0 {
			return statusError(status)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTransient
	}
}

func (c *NotifyPeerClient) NotifyImageAcquire(ctx context.Context, instanceID, globalID, mirrorUUID, imageID string) error {
	return c.call(ctx, instanceID, rpcRequest{Kind: rpcAcquire, GlobalID: globalID, MirrorUUID: mirrorUUID, ImageID: imageID})
}

func (c *NotifyPeerClient) NotifyImageRelease(ctx context.Context, instanceID, globalID, mirrorUUID, imageID string, force bool) error {
	return c.call(ctx, instanceID, rpcRequest{Kind: rpcRelease, GlobalID: globalID, MirrorUUID: mirrorUUID, ImageID: imageID, Force: force})
}

func (c *NotifyPeerClient) NotifyAddPeer(ctx context.Context, instanceID, oldUUID, newUUID string) error {
	return c.call(ctx, instanceID, rpcRequest{Kind: rpcAddPeer, OldUUID: oldUUID, NewUUID: newUUID})
}

func (c *NotifyPeerClient) NotifyPeerUpdate(ctx context.Context, instanceID, oldUUID, newUUID string) error {
	return c.call(ctx, instanceID, rpcRequest{Kind: rpcPeerUpdate, OldUUID: oldUUID, NewUUID: newUUID})
}

// ListenInstance registers instanceID's inbox watcher, dispatching each
// decoded request to h and notifying the caller's reply key with the
// resulting status. Returns the WatchHandle so the instance can
// Unwatch it on shutdown.
func ListenInstance(gw Gateway, instanceID string, h Handler) WatchHandle {
	return gw.Watch(peerInboxKey(instanceID), func(payload []byte) {
		var req rpcRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return
		}
		ctx := context.Background()
		var err error
		switch req.Kind {
		case rpcAcquire:
			err = h.Acquire(ctx, req.GlobalID, req.MirrorUUID, req.ImageID)
		case rpcRelease:
			err = h.Release(ctx, req.GlobalID, req.MirrorUUID, req.ImageID, req.Force)
		case rpcAddPeer:
			err = h.AddPeer(ctx, req.OldUUID, req.NewUUID)
		case rpcPeerUpdate:
			err = h.PeerUpdate(ctx, req.OldUUID, req.NewUUID)
		}
		status := 0
		if err != nil {
			status = errorToStatus(err)
		}
		resp, _ := json.Marshal(rpcResponse{Status: status})
		_ = gw.Notify(ctx, req.ReplyKey, resp)
	})
}
