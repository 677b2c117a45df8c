package osg

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ceph/rbd-mirror-placement/model"
)

// CurrentVersion is the only ImageMap wire version this engine emits.
// DecodeImageMap accepts only this version today but the 1-byte prefix
// leaves room for a future one without breaking readers of the current
// format (R2: encode ∘ decode == id).
const CurrentVersion = 1

// EncodeImageMap renders an ImageMap in the versioned binary layout from
// spec §6:
//
//	u8   version
//	u8   len(instance_id)   (instance ids are short; a length-prefixed
//	                         utf8 string keeps the format self-delimiting
//	                         without a terminator byte)
//	[]byte instance_id
//	u8   state
//	u64  mapped_time_ns
func EncodeImageMap(im model.ImageMap) []byte {
	idBytes := []byte(im.InstanceID)
	buf := make([]byte, 0, 1+1+len(idBytes)+1+8)
	buf = append(buf, CurrentVersion)
	buf = append(buf, byte(len(idBytes)))
	buf = append(buf, idBytes...)
	buf = append(buf, byte(im.State))
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(im.MappedTime.UnixNano()))
	buf = append(buf, tsBuf[:]...)
	return buf
}

// DecodeImageMap is the inverse of EncodeImageMap.
func DecodeImageMap(b []byte) (model.ImageMap, error) {
	if len(b) < 2 {
		return model.ImageMap{}, fmt.Errorf("osg: short ImageMap record (%d bytes)", len(b))
	}
	version := b[0]
	if version != CurrentVersion {
		return model.ImageMap{}, fmt.Errorf("osg: unsupported ImageMap version %d", version)
	}
	idLen := int(b[1])
	if len(b) < 2+idLen+1+8 {
		return model.ImageMap{}, fmt.Errorf("osg: truncated ImageMap record")
	}
	instanceID := string(b[2 : 2+idLen])
	state := model.ImageMapState(b[2+idLen])
	ns := binary.BigEndian.Uint64(b[2+idLen+1 : 2+idLen+1+8])
	return model.ImageMap{
		InstanceID: instanceID,
		State:      state,
		MappedTime: time.Unix(0, int64(ns)).UTC(),
	}, nil
}
