package placement

import (
	"context"
	"testing"

	"github.com/ceph/rbd-mirror-placement/model"
	"github.com/ceph/rbd-mirror-placement/osg"
)

func TestMapSpecAndLookup(t *testing.T) {
	gw := osg.NewMemory()
	m := New(gw, NewSimplePolicy())
	m.Shuffle([]string{"A", "B"}, []string{"A", "B"}, model.InstancesAdded)

	instanceID := m.MapSpec(model.ImageSpec{GlobalID: "g1"})
	if instanceID == model.Unmapped {
		t.Fatal("MapSpec returned Unmapped with instances available")
	}

	got, ok := m.Lookup("g1")
	if !ok || got != instanceID {
		t.Fatalf("Lookup(g1) = (%q, %v), want (%q, true)", got, ok, instanceID)
	}

	if _, ok := m.Lookup("missing"); ok {
		t.Fatal("Lookup(missing) should report not found")
	}
}

func TestMapSpecPanicsOnDuplicateGlobalID(t *testing.T) {
	gw := osg.NewMemory()
	m := New(gw, NewSimplePolicy())
	m.Shuffle([]string{"A"}, []string{"A"}, model.InstancesAdded)
	m.MapSpec(model.ImageSpec{GlobalID: "g1"})

	defer func() {
		if recover() == nil {
			t.Fatal("expected MapSpec to panic on duplicate global id (I1)")
		}
	}()
	m.MapSpec(model.ImageSpec{GlobalID: "g1"})
}

func TestUnmapAndRemap(t *testing.T) {
	gw := osg.NewMemory()
	m := New(gw, NewSimplePolicy())
	m.Shuffle([]string{"A", "B"}, []string{"A", "B"}, model.InstancesAdded)
	m.MapSpec(model.ImageSpec{GlobalID: "g1"})

	from, _ := m.Lookup("g1")
	other := "A"
	if from == "A" {
		other = "B"
	}

	if !m.Remap(from, other, "g1") {
		t.Fatalf("Remap(%s -> %s) failed", from, other)
	}
	got, ok := m.Lookup("g1")
	if !ok || got != other {
		t.Fatalf("after Remap, Lookup(g1) = (%q, %v), want (%q, true)", got, ok, other)
	}

	if m.Remap("nonexistent-instance", other, "g1") {
		t.Fatal("Remap from the wrong owner should fail")
	}

	if !m.Unmap("g1") {
		t.Fatal("Unmap(g1) should succeed")
	}
	if m.Unmap("g1") {
		t.Fatal("Unmap(g1) twice should report false the second time")
	}
}

func TestLookupOrMapIsIdempotent(t *testing.T) {
	gw := osg.NewMemory()
	m := New(gw, NewSimplePolicy())

	first := m.LookupOrMap(model.ImageSpec{GlobalID: "g1"})
	second := m.LookupOrMap(model.ImageSpec{GlobalID: "g1"})
	if first != second {
		t.Fatalf("LookupOrMap not idempotent: first=%q second=%q", first, second)
	}
}

func TestLoadDropsEntriesForUnknownInstances(t *testing.T) {
	ctx := context.Background()
	gw := osg.NewMemory()

	put := func(globalID, instanceID string, state model.ImageMapState) {
		b := osg.EncodeImageMap(model.ImageMap{InstanceID: instanceID, State: state})
		if _, err := gw.WriteIf(ctx, "image-map/"+globalID, b, osg.MustBeAbsent()); err != nil {
			t.Fatalf("seed WriteIf: %v", err)
		}
	}
	put("g1", "A", model.StateMapped)
	put("g2", "stale-instance", model.StateMapped)

	m := New(gw, NewSimplePolicy())
	if err := m.Load(ctx, []string{"A"}, 1024); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, ok := m.Lookup("g1"); !ok {
		t.Fatal("expected g1 (owned by a known instance) to survive Load")
	}
	if _, ok := m.Lookup("g2"); ok {
		t.Fatal("expected g2 (owned by an unknown instance) to be dropped by Load")
	}
}

func TestDeleteDurable(t *testing.T) {
	ctx := context.Background()
	gw := osg.NewMemory()
	m := New(gw, NewSimplePolicy())

	b := osg.EncodeImageMap(model.ImageMap{InstanceID: "A", State: model.StateMapped})
	if _, err := gw.WriteIf(ctx, "image-map/g1", b, osg.MustBeAbsent()); err != nil {
		t.Fatalf("seed WriteIf: %v", err)
	}
	if err := m.DeleteDurable(ctx, "g1"); err != nil {
		t.Fatalf("DeleteDurable: %v", err)
	}
	if _, _, err := gw.Read(ctx, "image-map/g1"); err != osg.ErrNotFound {
		t.Fatalf("expected durable record gone, got err=%v", err)
	}
}
