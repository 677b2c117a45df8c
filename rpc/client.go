package rpc

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/ceph/rbd-mirror-placement/osg"
)

// Client implements orchestrator.PeerClient by dialing each peer's
// rpc.Server directly over h2c, grounded on the teacher's httprunner.call
// single-RPC path (a shared *http.Client, per-call context timeout).
type Client struct {
	addrs   map[string]string // instance_id -> host:port
	httpc   *http.Client
	timeout time.Duration
}

func NewClient(addrs map[string]string, timeout time.Duration) *Client {
	return &Client{
		addrs: addrs,
		httpc: &http.Client{
			Transport: &http2.Transport{
				AllowHTTP: true,
				DialTLS: func(network, addr string, _ *tls.Config) (net.Conn, error) {
					return net.Dial(network, addr)
				},
			},
		},
		timeout: timeout,
	}
}

func (c *Client) do(ctx context.Context, instanceID, path string, body interface{}) error {
	addr, ok := c.addrs[instanceID]
	if !ok {
		return osg.ErrNotFound
	}

	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s%s", addr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return osg.ErrTransient
	}
	defer resp.Body.Close()

	var sr statusResp
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return err
	}
	return osg.StatusError(sr.Status)
}

func (c *Client) NotifyImageAcquire(ctx context.Context, instanceID, globalID, mirrorUUID, imageID string) error {
	return c.do(ctx, instanceID, pathAcquire, acquireReq{GlobalID: globalID, MirrorUUID: mirrorUUID, ImageID: imageID})
}

func (c *Client) NotifyImageRelease(ctx context.Context, instanceID, globalID, mirrorUUID, imageID string, force bool) error {
	return c.do(ctx, instanceID, pathRelease, releaseReq{GlobalID: globalID, MirrorUUID: mirrorUUID, ImageID: imageID, Force: force})
}

func (c *Client) NotifyAddPeer(ctx context.Context, instanceID, oldUUID, newUUID string) error {
	return c.do(ctx, instanceID, pathAddPeer, peerReq{OldUUID: oldUUID, NewUUID: newUUID})
}

func (c *Client) NotifyPeerUpdate(ctx context.Context, instanceID, oldUUID, newUUID string) error {
	return c.do(ctx, instanceID, pathPeerUpdate, peerReq{OldUUID: oldUUID, NewUUID: newUUID})
}
