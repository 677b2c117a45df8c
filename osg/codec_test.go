package osg

import (
	"testing"
	"time"

	"github.com/ceph/rbd-mirror-placement/model"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []model.ImageMap{
		{InstanceID: "instance-a", State: model.StateUnassigned, MappedTime: time.Unix(0, 0).UTC()},
		{InstanceID: "instance-b", State: model.StateMapping, MappedTime: time.Now().UTC()},
		{InstanceID: "", State: model.StateMapped, MappedTime: time.Now().UTC()},
	}
	for _, want := range cases {
		b := EncodeImageMap(want)
		got, err := DecodeImageMap(b)
		if err != nil {
			t.Fatalf("DecodeImageMap: %v", err)
		}
		if got.InstanceID != want.InstanceID || got.State != want.State {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
		}
		if got.MappedTime.UnixNano() != want.MappedTime.UnixNano() {
			t.Fatalf("timestamp mismatch: got %v, want %v", got.MappedTime, want.MappedTime)
		}
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	b := EncodeImageMap(model.ImageMap{InstanceID: "x", State: model.StateMapped})
	b[0] = 99
	if _, err := DecodeImageMap(b); err == nil {
		t.Fatal("expected error decoding unknown version")
	}
}

func TestDecodeRejectsShortRecord(t *testing.T) {
	if _, err := DecodeImageMap([]byte{1}); err == nil {
		t.Fatal("expected error decoding truncated record")
	}
}
