package placement

import (
	"testing"

	"github.com/ceph/rbd-mirror-placement/model"
)

func newInmap(sizes map[string]int) map[string]map[string]model.ImageSpec {
	inmap := make(map[string]map[string]model.ImageSpec)
	for instance, n := range sizes {
		set := make(map[string]model.ImageSpec, n)
		for i := 0; i < n; i++ {
			id := instance + "-img-" + string(rune('a'+i))
			set[id] = model.ImageSpec{GlobalID: id}
		}
		inmap[instance] = set
	}
	return inmap
}

func TestDoMapPicksLeastLoaded(t *testing.T) {
	p := NewSimplePolicy()
	inmap := newInmap(map[string]int{"A": 2, "B": 0, "C": 1})
	got := p.DoMap(inmap, "new-image")
	if got != "B" {
		t.Fatalf("DoMap picked %q, want B (the only empty instance)", got)
	}
}

func TestDoMapTieBreakIsDeterministic(t *testing.T) {
	p := NewSimplePolicy()
	inmap := newInmap(map[string]int{"A": 1, "B": 1})
	first := p.DoMap(inmap, "x")
	second := p.DoMap(inmap, "x")
	if first != second {
		t.Fatalf("DoMap tie-break is not deterministic: got %q then %q", first, second)
	}
}

func TestShrinkDrainsDepartingInstances(t *testing.T) {
	p := NewSimplePolicy()
	inmap := newInmap(map[string]int{"A": 2, "B": 1})
	remapped := p.DoShuffle(inmap, []string{"B"}, nil, model.InstancesRemoved)

	if len(remapped) != 2 {
		t.Fatalf("expected 2 remaps draining A, got %d: %+v", len(remapped), remapped)
	}
	for _, r := range remapped {
		if r.From != "A" || r.To != "B" {
			t.Fatalf("unexpected remap %+v, want from=A to=B", r)
		}
	}
}

func TestGrowDrainsOverTargetSurvivorToNewInstance(t *testing.T) {
	p := NewSimplePolicy()
	inmap := newInmap(map[string]int{"A": 4})
	remapped := p.DoShuffle(inmap, []string{"A", "B"}, []string{"B"}, model.InstancesAdded)

	var toB, selfA int
	for _, r := range remapped {
		switch {
		case r.From == "A" && r.To == "B":
			toB++
		case r.From == "A" && r.To == "A":
			selfA++
		default:
			t.Fatalf("unexpected remap %+v", r)
		}
	}
	// target = ceil(4/2) = 2, so 2 images should drain from survivor A to new instance B.
	if toB != 2 {
		t.Fatalf("expected 2 images drained from A to B, got %d", toB)
	}
	if selfA != 0 {
		t.Fatalf("survivor A should not get a self-remap, got %d", selfA)
	}
}

func TestGrowEmitsSelfRemapForImagesOnNewlyAddedInstance(t *testing.T) {
	p := NewSimplePolicy()
	// Bootstrap shape: C already owns an image in the durable map (Load
	// populated its bucket) even though C is, per the caller, a
	// newly-added instance this round. Bucket presence alone must not
	// suppress the self-remap trigger.
	inmap := newInmap(map[string]int{"A": 1, "C": 1})
	remapped := p.DoShuffle(inmap, []string{"A", "C"}, []string{"C"}, model.InstancesAdded)

	var selfC bool
	for _, r := range remapped {
		if r.From == "C" && r.To == "C" {
			selfC = true
		}
		if r.From == "A" || r.To == "A" {
			t.Fatalf("survivor A is at target and should not be touched, got %+v", r)
		}
	}
	if !selfC {
		t.Fatalf("expected a self-remap bootstrap trigger for C's existing image, got %+v", remapped)
	}
}

func TestGrowAllInstancesNewAtBootstrapSelfRemapsEverything(t *testing.T) {
	p := NewSimplePolicy()
	// A full bootstrap: every instance is "new" this round even though
	// Load has already populated every bucket from the durable map.
	inmap := newInmap(map[string]int{"A": 1, "B": 1})
	remapped := p.DoShuffle(inmap, []string{"A", "B"}, []string{"A", "B"}, model.InstancesAdded)

	self := make(map[string]bool)
	for _, r := range remapped {
		if r.From != r.To {
			t.Fatalf("no cross-instance remap expected at a balanced bootstrap, got %+v", r)
		}
		self[r.From] = true
	}
	if !self["A"] || !self["B"] {
		t.Fatalf("expected both A and B to self-remap their existing images, got %+v", remapped)
	}
}

func TestImagesPerInstanceRoundsUp(t *testing.T) {
	inmap := newInmap(map[string]int{"A": 3})
	if got := imagesPerInstance(inmap, []string{"A", "B"}); got != 2 {
		t.Fatalf("ceil(3/2) = 2, got %d", got)
	}
}
