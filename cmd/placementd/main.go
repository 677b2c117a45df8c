// Command placementd is the image-map placement engine daemon: it wires
// the instance registry, placement map, and placement orchestrator
// together behind a peer-RPC listener. Grounded on the teacher's
// ais/daemon.go aisinit()/rungroup supervision pattern.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"

	"github.com/ceph/rbd-mirror-placement/cmn"
	"github.com/ceph/rbd-mirror-placement/instance"
	"github.com/ceph/rbd-mirror-placement/orchestrator"
	"github.com/ceph/rbd-mirror-placement/osg"
	"github.com/ceph/rbd-mirror-placement/placement"
	"github.com/ceph/rbd-mirror-placement/rpc"
)

var clivars cmn.ConfigCLI

func init() {
	flag.StringVar(&clivars.ConfFile, "config", "", "config filename: local file that stores this daemon's configuration")
	flag.StringVar(&clivars.LogLevel, "loglevel", "", "log verbosity level (takes precedence over config.Log.Level)")
	flag.StringVar(&clivars.MirrorID, "instance-id", "", "this daemon's instance id (required)")
}

func main() {
	flag.Parse()
	defer glog.Flush()

	if clivars.MirrorID == "" {
		fmt.Fprintln(os.Stderr, "placementd: -instance-id is required")
		os.Exit(1)
	}

	config := cmn.DefaultConfig()
	if clivars.ConfFile != "" {
		loaded, err := cmn.LoadConfig(clivars.ConfFile)
		if err != nil {
			glog.Fatalf("placementd: loading config %s: %v", clivars.ConfFile, err)
		}
		config = loaded
	}
	if clivars.LogLevel != "" {
		config.Log.Level = clivars.LogLevel
	}
	config.Mirror.LocalID = clivars.MirrorID
	cmn.GCO.CommitUpdate(config)

	localID := config.Mirror.LocalID

	gw := osg.NewMemory()
	policy := placement.NewSimplePolicy()
	pm := placement.New(gw, policy)
	peers := osg.NewNotifyPeerClient(gw, config.Timeout.Default)
	po := orchestrator.New(gw, pm, peers, config.Policy.ListPageSize)

	registry := instance.New(localID, gw, config.HeartbeatGrace(), &orchestrator.RegistryListener{O: po})

	ctx := context.Background()
	if err := registry.Init(ctx, config.Policy.ListPageSize); err != nil {
		glog.Fatalf("placementd: instance registry init failed: %v", err)
	}

	rg := cmn.NewRungroup()
	rg.Add(&rpcServerRunner{addr: fmt.Sprintf(":%d", config.Net.Port), server: rpc.NewServer(fmt.Sprintf(":%d", config.Net.Port), newLocalHandler())}, "rpc")
	rg.Add(&registryShutdownRunner{registry: registry}, "registry")

	glog.Infof("placementd: instance %s ready", localID)
	if err := rg.Run(); err != nil {
		glog.Errorf("placementd: exited with error: %v", err)
		os.Exit(1)
	}
}

// rpcServerRunner adapts rpc.Server to cmn.Runner.
type rpcServerRunner struct {
	cmn.Named
	addr   string
	server *rpc.Server
}

func (r *rpcServerRunner) Run() error {
	return r.server.ListenAndServe()
}

func (r *rpcServerRunner) Stop(error) {
	_ = r.server.Shutdown(context.Background())
}

// registryShutdownRunner exists only to give the instance registry a
// place in the rungroup's supervision tree; it blocks until Stop is
// called, then drains the registry.
type registryShutdownRunner struct {
	cmn.Named
	registry *instance.Registry
	stopCh   chan struct{}
}

func (r *registryShutdownRunner) Run() error {
	r.stopCh = make(chan struct{})
	<-r.stopCh
	return nil
}

func (r *registryShutdownRunner) Stop(error) {
	r.registry.ShutDown()
	if r.stopCh != nil {
		close(r.stopCh)
	}
}

var _ cmn.Runner = (*rpcServerRunner)(nil)
var _ cmn.Runner = (*registryShutdownRunner)(nil)
