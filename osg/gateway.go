// Package osg is the Object-Store Gateway: a thin contract over a
// transactional object store offering single-object read-modify-write,
// watch/notify, and a client-registry abstraction. The rest of the
// engine (instance registry, placement map, orchestrator) is written
// entirely against the Gateway interface; Memory is the in-process test
// double used by every other package's tests.
package osg

import (
	"context"
	"errors"
)

// Sentinel errors. Transient is retryable by the caller (with backoff,
// up to a ceiling); the others are terminal for the calling operation.
var (
	ErrNotFound = errors.New("osg: not found")
	ErrExists   = errors.New("osg: already exists")
	ErrConflict = errors.New("osg: precondition failed")
	ErrTransient = errors.New("osg: transient failure")
)

// Precondition gates a write_if call. At most one of these three shapes
// applies: unconditional existence, unconditional absence, or an exact
// version match. The zero value (Unconditional) imposes no precondition.
type Precondition struct {
	RequireExists bool
	RequireAbsent bool
	Version       int64 // used when neither RequireExists nor RequireAbsent is set
}

func Unconditional() Precondition       { return Precondition{} }
func MustExist() Precondition           { return Precondition{RequireExists: true} }
func MustBeAbsent() Precondition        { return Precondition{RequireAbsent: true} }
func AtVersion(v int64) Precondition    { return Precondition{Version: v} }

// Entry is one key/value/version triple as returned by list_range.
type Entry struct {
	Key     string
	Value   []byte
	Version int64
}

// WatchFunc receives an opaque notification payload delivered to a live
// watcher of a key. Used both for peer RPC delivery (§6) and for
// instance heartbeat notify().
type WatchFunc func(payload []byte)

// WatchHandle is returned by Watch and consumed by Unwatch.
type WatchHandle struct {
	key string
	id  uint64
}

// Gateway is the full OSG contract from spec §4.1.
type Gateway interface {
	Read(ctx context.Context, key string) ([]byte, int64, error)
	WriteIf(ctx context.Context, key string, value []byte, pre Precondition) (int64, error)
	Remove(ctx context.Context, key string) error
	ListRange(ctx context.Context, prefix, startAfter string, limit int) (entries []Entry, hasMore bool, err error)

	Watch(key string, cb WatchFunc) WatchHandle
	Unwatch(h WatchHandle)
	Notify(ctx context.Context, key string, payload []byte) error

	RegisterClient(scope, clientID string, meta []byte) error
	UnregisterClient(scope, clientID string) error
}
