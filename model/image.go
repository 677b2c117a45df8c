// Package model defines the durable and in-memory records the placement
// engine moves between the object-store gateway, the placement map, and
// the orchestrator's per-image state machine.
package model

import "time"

// ImageMapState is the per-image lifecycle state, durable in the object
// store under the image's global id.
type ImageMapState uint8

const (
	StateUnassigned ImageMapState = iota
	StateMapping
	StateMapped
	StateUnmapping
)

func (s ImageMapState) String() string {
	switch s {
	case StateUnassigned:
		return "UNASSIGNED"
	case StateMapping:
		return "MAPPING"
	case StateMapped:
		return "MAPPED"
	case StateUnmapping:
		return "UNMAPPING"
	default:
		return "UNKNOWN"
	}
}

// Unmapped is the sentinel instance id returned by lookups that find no
// owner.
const Unmapped = ""

// ImageMap is the durable per-image record, stored in the object-store
// gateway under the image's global id. Only the orchestrator writes it.
type ImageMap struct {
	InstanceID string        `json:"instance_id"`
	State      ImageMapState `json:"state"`
	MappedTime time.Time     `json:"mapped_time"`
}

// ImageSpec is the in-memory record the placement map indexes by
// instance id. GlobalID is an immutable key: everything else is
// updatable payload.
type ImageSpec struct {
	GlobalID string
	LocalID  string
	// RemoteID is empty iff the image has never been observed on the
	// remote cluster.
	RemoteID string
	State    ImageMapState
}

// ShuffleKind distinguishes the two rebalancing triggers a Policy must
// handle.
type ShuffleKind int

const (
	InstancesAdded ShuffleKind = iota
	InstancesRemoved
)

// Remap describes one planned move produced by a Policy's do_shuffle, to
// be applied by the placement map and then driven through the
// orchestrator's per-image state machine. From == To is a self-remap,
// emitted by SimplePolicy's grow path to re-run the state machine for an
// image already sitting on a newly added instance.
type Remap struct {
	GlobalID string
	From     string
	To       string
}
