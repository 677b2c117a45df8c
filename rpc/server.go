// Package rpc is the production peer-RPC transport: cleartext HTTP/2
// (h2c) serving a small gorilla/mux-routed API, grounded on the
// teacher's netServer/httprunner intra-cluster transport. osg.NotifyPeerClient
// remains the default transport (peer RPCs "via OSG notify" per spec
// §6); rpc.Server/rpc.Client are the alternative wiring for a deployment
// that prefers a direct instance-to-instance connection over the shared
// object store for the acquire/release/add_peer/peer_update hot path.
package rpc

import (
	"context"
	"fmt"
	"net/http"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/ceph/rbd-mirror-placement/osg"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	pathAcquire    = "/v1/image/acquire"
	pathRelease    = "/v1/image/release"
	pathAddPeer    = "/v1/peer/add"
	pathPeerUpdate = "/v1/peer/update"
)

// Server exposes a Handler (the local image-replica driver) over HTTP/2
// cleartext, one handler per peer RPC, matching the verbs spec §6 names.
type Server struct {
	handler osg.Handler
	srv     *http.Server
}

func NewServer(addr string, handler osg.Handler) *Server {
	router := mux.NewRouter()
	s := &Server{handler: handler}

	router.HandleFunc(pathAcquire, s.handleAcquire).Methods(http.MethodPost)
	router.HandleFunc(pathRelease, s.handleRelease).Methods(http.MethodPost)
	router.HandleFunc(pathAddPeer, s.handleAddPeer).Methods(http.MethodPost)
	router.HandleFunc(pathPeerUpdate, s.handlePeerUpdate).Methods(http.MethodPost)

	h2s := &http2.Server{}
	s.srv = &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(router, h2s),
	}
	return s
}

func (s *Server) ListenAndServe() error {
	glog.Infof("rpc: peer server listening on %s", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type acquireReq struct {
	GlobalID   string `json:"global_id"`
	MirrorUUID string `json:"mirror_uuid"`
	ImageID    string `json:"image_id"`
}

type releaseReq struct {
	GlobalID   string `json:"global_id"`
	MirrorUUID string `json:"mirror_uuid"`
	ImageID    string `json:"image_id"`
	Force      bool   `json:"force"`
}

type peerReq struct {
	OldUUID string `json:"old_uuid"`
	NewUUID string `json:"new_uuid"`
}

type statusResp struct {
	Status int `json:"status"`
}

func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	var req acquireReq
	if !decodeJSON(w, r, &req) {
		return
	}
	err := s.handler.Acquire(r.Context(), req.GlobalID, req.MirrorUUID, req.ImageID)
	writeStatus(w, err)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseReq
	if !decodeJSON(w, r, &req) {
		return
	}
	err := s.handler.Release(r.Context(), req.GlobalID, req.MirrorUUID, req.ImageID, req.Force)
	writeStatus(w, err)
}

func (s *Server) handleAddPeer(w http.ResponseWriter, r *http.Request) {
	var req peerReq
	if !decodeJSON(w, r, &req) {
		return
	}
	err := s.handler.AddPeer(r.Context(), req.OldUUID, req.NewUUID)
	writeStatus(w, err)
}

func (s *Server) handlePeerUpdate(w http.ResponseWriter, r *http.Request) {
	var req peerReq
	if !decodeJSON(w, r, &req) {
		return
	}
	err := s.handler.PeerUpdate(r.Context(), req.OldUUID, req.NewUUID)
	writeStatus(w, err)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeStatus(w http.ResponseWriter, err error) {
	status := osg.Status(err)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResp{Status: status})
}
