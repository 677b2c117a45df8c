package placement

import "github.com/ceph/rbd-mirror-placement/model"

// Policy is the pluggable rebalancing strategy used by Map. It is given
// direct read access to the in-map under Map's lock so it never needs its
// own locking.
type Policy interface {
	// DoMap picks the instance a freshly-discovered image should land on.
	DoMap(inmap map[string]map[string]model.ImageSpec, globalID string) string

	// DoShuffle computes the remaps needed to rebalance inmap across
	// instanceIDs for the given trigger kind. newIDs is the subset of
	// instanceIDs the caller knows were just added (meaningful only for
	// model.InstancesAdded; callers pass nil for InstancesRemoved). It is
	// passed explicitly rather than inferred from bucket presence in inmap,
	// because Load pre-populates buckets for every instance known at
	// bootstrap, new and long-lived alike. DoShuffle does not mutate
	// inmap, and neither does Map.Shuffle: each returned remap is applied
	// via Map.Remap by the orchestrator once its per-image task succeeds.
	DoShuffle(inmap map[string]map[string]model.ImageSpec, instanceIDs, newIDs []string, kind model.ShuffleKind) []model.Remap
}
