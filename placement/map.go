// Package placement implements the in-memory Placement Map: an
// instance_id -> set<ImageSpec> index backed by the durable per-image
// ImageMap record in osg, and the pluggable rebalancing Policy.
package placement

import (
	"context"
	"sync"

	"github.com/ceph/rbd-mirror-placement/model"
	"github.com/ceph/rbd-mirror-placement/osg"
)

const durableScope = "image-map"

func durableKey(globalID string) string { return durableScope + "/" + globalID }

// Map is the thread-safe placement index. A single readers-writer lock
// guards the whole structure: lookup/get_instance_ids/size take the read
// side, every mutating operation takes the write side. No method holds
// the lock across an OSG call (a suspension point in the source); Map's
// own OSG calls (Load, DeleteDurable) copy what they need out from under
// the lock before making them.
type Map struct {
	mu     sync.RWMutex
	inmap  map[string]map[string]model.ImageSpec // instance_id -> global_id -> spec
	gw     osg.Gateway
	policy Policy
}

func New(gw osg.Gateway, policy Policy) *Map {
	return &Map{
		inmap:  make(map[string]map[string]model.ImageSpec),
		gw:     gw,
		policy: policy,
	}
}

// Load pre-creates empty sets for each given instance id, then paginates
// the durable map via OSG ListRange and routes each entry into
// inmap[instance_id]. Entries whose instance_id is absent from
// initialInstanceIDs are dropped; they are re-placed on the next
// shuffle.
func (m *Map) Load(ctx context.Context, initialInstanceIDs []string, pageSize int) error {
	fresh := make(map[string]map[string]model.ImageSpec, len(initialInstanceIDs))
	known := make(map[string]bool, len(initialInstanceIDs))
	for _, id := range initialInstanceIDs {
		fresh[id] = make(map[string]model.ImageSpec)
		known[id] = true
	}

	startAfter := ""
	for {
		entries, hasMore, err := m.gw.ListRange(ctx, durableScope+"/", startAfter, pageSize)
		if err != nil {
			return err
		}
		for _, e := range entries {
			im, err := decode(e.Value)
			if err != nil {
				continue
			}
			if !known[im.InstanceID] {
				continue
			}
			globalID := e.Key[len(durableScope)+1:]
			fresh[im.InstanceID][globalID] = model.ImageSpec{
				GlobalID: globalID,
				State:    im.State,
			}
		}
		if !hasMore || len(entries) == 0 {
			break
		}
		startAfter = entries[len(entries)-1].Key
	}

	m.mu.Lock()
	m.inmap = fresh
	m.mu.Unlock()
	return nil
}

// GetInstanceIDs is a read-side snapshot.
func (m *Map) GetInstanceIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.inmap))
	for id := range m.inmap {
		ids = append(ids, id)
	}
	return ids
}

// Size is a read-side snapshot of one instance's set size.
func (m *Map) Size(instanceID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.inmap[instanceID])
}

// Lookup linearly scans every instance set for globalID. Returns
// model.Unmapped if not present.
func (m *Map) Lookup(globalID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookupLocked(globalID)
}

func (m *Map) lookupLocked(globalID string) (string, bool) {
	for instanceID, set := range m.inmap {
		if _, ok := set[globalID]; ok {
			return instanceID, true
		}
	}
	return model.Unmapped, false
}

// MapSpec invokes the policy to pick an instance with the fewest images,
// inserts spec, and asserts I1 (the global id was previously absent
// anywhere in the map).
func (m *Map) MapSpec(spec model.ImageSpec) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mapSpecLocked(spec)
}

func (m *Map) mapSpecLocked(spec model.ImageSpec) string {
	if _, ok := m.lookupLocked(spec.GlobalID); ok {
		panic("placement: I1 violated: global_id already mapped: " + spec.GlobalID)
	}
	instanceID := m.policy.DoMap(m.inmap, spec.GlobalID)
	if instanceID == model.Unmapped {
		return model.Unmapped
	}
	if m.inmap[instanceID] == nil {
		m.inmap[instanceID] = make(map[string]model.ImageSpec)
	}
	m.inmap[instanceID][spec.GlobalID] = spec
	return instanceID
}

// Unmap removes the spec for globalID if present, from wherever it sits.
func (m *Map) Unmap(globalID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	instanceID, ok := m.lookupLocked(globalID)
	if !ok {
		return false
	}
	delete(m.inmap[instanceID], globalID)
	return true
}

// Remap moves globalID from one instance set to another. No-op (but
// reports success) if from == to. Fails if the spec is not currently
// owned by from.
func (m *Map) Remap(from, to, globalID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if from == to {
		_, ok := m.inmap[from][globalID]
		return ok
	}
	spec, ok := m.inmap[from][globalID]
	if !ok {
		return false
	}
	delete(m.inmap[from], globalID)
	if m.inmap[to] == nil {
		m.inmap[to] = make(map[string]model.ImageSpec)
	}
	m.inmap[to][globalID] = spec
	return true
}

// Shuffle asks the policy for a rebalancing plan over instanceIDs. It
// does NOT apply the moves: per spec §4.4.1's "After DONE, PM's
// in-memory mapping is updated by the remap(...) call issued by the
// shuffle path", each entry is only applied (via Remap) once its
// per-image driver task has completed successfully.
//
// newIDs, a subset of instanceIDs, tells the policy which instances were
// just added (ignored by shrink). It is passed through verbatim rather
// than derived from bucket presence in inmap, because Load may have
// already created a new instance's bucket from the durable map before
// the first shuffle call ever runs.
func (m *Map) Shuffle(instanceIDs, newIDs []string, kind model.ShuffleKind) []model.Remap {
	m.mu.Lock()
	defer m.mu.Unlock()
	remapped := m.policy.DoShuffle(m.inmap, instanceIDs, newIDs, kind)
	for _, id := range instanceIDs {
		if m.inmap[id] == nil {
			m.inmap[id] = make(map[string]model.ImageSpec)
		}
	}
	return remapped
}

// DropInstance deletes an instance's (now-empty, post-shuffle) bucket.
func (m *Map) DropInstance(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inmap, instanceID)
}

// LookupOrMap is the atomic lookup-then-map fallback: under the single
// exclusive lock, look up globalID and, if absent, map it.
func (m *Map) LookupOrMap(spec model.ImageSpec) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if instanceID, ok := m.lookupLocked(spec.GlobalID); ok {
		return instanceID
	}
	return m.mapSpecLocked(spec)
}

// DeleteDurable removes the durable ImageMap record for globalID. This is
// the InstanceMapRemoveRequest operation (SPEC_FULL supplemented
// feature): it is not part of the normal per-image state machine, it is
// invoked directly when discovery reports an image no longer exists.
func (m *Map) DeleteDurable(ctx context.Context, globalID string) error {
	return m.gw.Remove(ctx, durableKey(globalID))
}

// decode is a package variable so tests can substitute a fake codec
// without routing every record through the real binary format.
var decode = osg.DecodeImageMap
