package placement

import (
	"sort"

	"github.com/OneOfOne/xxhash"
	"github.com/ceph/rbd-mirror-placement/model"
)

// SimplePolicy is the reference Policy: least-loaded placement on map,
// target-balanced shrink/grow on shuffle. Grounded on the Ceph
// image_map/SimplePolicy algorithm.
type SimplePolicy struct{}

func NewSimplePolicy() *SimplePolicy { return &SimplePolicy{} }

// imagesPerInstance is the rebalance target: ceil(total_images /
// live_instance_count).
func imagesPerInstance(inmap map[string]map[string]model.ImageSpec, instanceIDs []string) int {
	var total int
	for _, ids := range instanceIDs {
		total += len(inmap[ids])
	}
	n := len(instanceIDs)
	if n == 0 {
		return 0
	}
	target := total / n
	if total%n != 0 {
		target++
	}
	return target
}

// DoMap picks the least-loaded instance; ties are broken by a
// deterministic hash of the instance id rather than map iteration order,
// which Go does not guarantee is stable across runs.
func (p *SimplePolicy) DoMap(inmap map[string]map[string]model.ImageSpec, _ string) string {
	ids := sortedInstanceIDs(inmap)
	if len(ids) == 0 {
		return model.Unmapped
	}
	best := ids[0]
	bestSize := len(inmap[best])
	bestHash := xxhash.ChecksumString64(best)
	for _, id := range ids[1:] {
		size := len(inmap[id])
		if size < bestSize {
			best, bestSize, bestHash = id, size, xxhash.ChecksumString64(id)
			continue
		}
		if size == bestSize {
			h := xxhash.ChecksumString64(id)
			if h < bestHash {
				best, bestHash = id, h
			}
		}
	}
	return best
}

func sortedInstanceIDs(inmap map[string]map[string]model.ImageSpec) []string {
	ids := make([]string, 0, len(inmap))
	for id := range inmap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DoShuffle dispatches to shrink or grow depending on kind.
func (p *SimplePolicy) DoShuffle(inmap map[string]map[string]model.ImageSpec, instanceIDs, newIDs []string, kind model.ShuffleKind) []model.Remap {
	switch kind {
	case model.InstancesRemoved:
		return p.shrink(inmap, instanceIDs)
	default:
		return p.grow(inmap, instanceIDs, newIDs)
	}
}

// shrink walks each departing instance's image set and moves images in
// chunks to surviving instances below target, until the departing set is
// empty. instanceIDs is the surviving (post-removal) instance set;
// departing instances are every key in inmap not present in instanceIDs.
func (p *SimplePolicy) shrink(inmap map[string]map[string]model.ImageSpec, instanceIDs []string) []model.Remap {
	survivors := make(map[string]bool, len(instanceIDs))
	for _, id := range instanceIDs {
		survivors[id] = true
	}
	target := imagesPerInstance(inmap, instanceIDs)

	var departing []string
	for id := range inmap {
		if !survivors[id] {
			departing = append(departing, id)
		}
	}
	sort.Strings(departing)

	var remapped []model.Remap
	for _, from := range departing {
		specs := sortedSpecs(inmap[from])
		for _, spec := range specs {
			to := p.leastLoadedUnder(inmap, instanceIDs, remapped, target)
			if to == model.Unmapped {
				// No survivor is under target: pick the least loaded
				// survivor regardless, so the departing set still
				// drains.
				to = p.leastLoaded(inmap, instanceIDs, remapped)
			}
			remapped = append(remapped, model.Remap{GlobalID: spec.GlobalID, From: from, To: to})
		}
	}
	return remapped
}

// grow drains every over-target survivor's excess to the new (or
// under-target) instances, and emits a self-remap for every image
// already sitting on a newly added instance so the orchestrator re-runs
// the state machine on it (bootstrap re-run trigger). newIDs is the
// caller-supplied set of instances just added; it is authoritative over
// whatever buckets inmap happens to already have, since Load may have
// pre-populated a new instance's bucket from the durable map before the
// first shuffle ever runs.
func (p *SimplePolicy) grow(inmap map[string]map[string]model.ImageSpec, instanceIDs, newIDs []string) []model.Remap {
	target := imagesPerInstance(inmap, instanceIDs)

	isNew := make(map[string]bool, len(newIDs))
	for _, id := range newIDs {
		isNew[id] = true
	}

	var remapped []model.Remap

	// Self-remap bootstrap trigger: any image already on a newly-added
	// instance gets re-driven through the state machine.
	sortedNew := append([]string(nil), newIDs...)
	sort.Strings(sortedNew)
	for _, id := range sortedNew {
		for _, spec := range sortedSpecs(inmap[id]) {
			remapped = append(remapped, model.Remap{GlobalID: spec.GlobalID, From: id, To: id})
		}
	}

	// Drain every over-target survivor's excess to whichever instance
	// (new or under-target survivor) is currently least loaded.
	var overTarget []string
	for _, id := range instanceIDs {
		if !isNew[id] && len(inmap[id]) > target {
			overTarget = append(overTarget, id)
		}
	}
	sort.Strings(overTarget)

	for _, from := range overTarget {
		specs := sortedSpecs(inmap[from])
		excess := len(inmap[from]) - target
		for i := 0; i < excess && i < len(specs); i++ {
			to := p.leastLoadedUnder(inmap, instanceIDs, remapped, target)
			if to == model.Unmapped || to == from {
				to = p.leastLoaded(inmap, instanceIDs, remapped)
			}
			if to == from {
				continue
			}
			remapped = append(remapped, model.Remap{GlobalID: specs[i].GlobalID, From: from, To: to})
		}
	}
	return remapped
}

// leastLoadedUnder returns the instance id, among instanceIDs, with the
// smallest projected size (accounting for remaps already planned this
// call) that is still below target, or Unmapped if none qualifies.
func (p *SimplePolicy) leastLoadedUnder(inmap map[string]map[string]model.ImageSpec, instanceIDs []string, planned []model.Remap, target int) string {
	sizes := projectedSizes(inmap, instanceIDs, planned)
	best := model.Unmapped
	bestSize := target
	var bestHash uint64
	ids := append([]string(nil), instanceIDs...)
	sort.Strings(ids)
	for _, id := range ids {
		size := sizes[id]
		if size >= target {
			continue
		}
		h := xxhash.ChecksumString64(id)
		if best == model.Unmapped || size < bestSize || (size == bestSize && h < bestHash) {
			best, bestSize, bestHash = id, size, h
		}
	}
	return best
}

// leastLoaded is like leastLoadedUnder but with no target ceiling; used
// as a drain-anywhere fallback so a shuffle always terminates even when
// every survivor is already at or above target.
func (p *SimplePolicy) leastLoaded(inmap map[string]map[string]model.ImageSpec, instanceIDs []string, planned []model.Remap) string {
	sizes := projectedSizes(inmap, instanceIDs, planned)
	best := model.Unmapped
	bestSize := 0
	var bestHash uint64
	ids := append([]string(nil), instanceIDs...)
	sort.Strings(ids)
	for _, id := range ids {
		size := sizes[id]
		h := xxhash.ChecksumString64(id)
		if best == model.Unmapped || size < bestSize || (size == bestSize && h < bestHash) {
			best, bestSize, bestHash = id, size, h
		}
	}
	return best
}

func projectedSizes(inmap map[string]map[string]model.ImageSpec, instanceIDs []string, planned []model.Remap) map[string]int {
	sizes := make(map[string]int, len(instanceIDs))
	for _, id := range instanceIDs {
		sizes[id] = len(inmap[id])
	}
	for _, r := range planned {
		if r.From == r.To {
			continue
		}
		sizes[r.From]--
		sizes[r.To]++
	}
	return sizes
}

func sortedSpecs(set map[string]model.ImageSpec) []model.ImageSpec {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	specs := make([]model.ImageSpec, 0, len(ids))
	for _, id := range ids {
		specs = append(specs, set[id])
	}
	return specs
}

var _ Policy = (*SimplePolicy)(nil)
