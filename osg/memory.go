package osg

import (
	"context"
	"sort"
	"sync"
)

type object struct {
	value   []byte
	version int64
}

type watcher struct {
	key string
	id  uint64
	cb  WatchFunc
}

type clientKey struct {
	scope, id string
}

// Memory is an in-process Gateway test double: a mutex-protected map
// standing in for the transactional object store, plus an in-process
// watch/notify fan-out. It never returns ErrTransient on its own (there
// is no network to fail). Of its callers, only the instance registry's
// durable delete is wrapped in RetryTransient; the placement map and the
// orchestrator return a transient error to their caller.
type Memory struct {
	mu       sync.RWMutex
	objects  map[string]*object
	watchers map[string][]watcher
	nextID   uint64
	clients  map[clientKey][]byte
}

func NewMemory() *Memory {
	return &Memory{
		objects:  make(map[string]*object),
		watchers: make(map[string][]watcher),
		clients:  make(map[clientKey][]byte),
	}
}

func (m *Memory) Read(_ context.Context, key string) ([]byte, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	if !ok {
		return nil, 0, ErrNotFound
	}
	cp := make([]byte, len(o.value))
	copy(cp, o.value)
	return cp, o.version, nil
}

func (m *Memory) WriteIf(_ context.Context, key string, value []byte, pre Precondition) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, exists := m.objects[key]
	switch {
	case pre.RequireExists && !exists:
		return 0, ErrConflict
	case pre.RequireAbsent && exists:
		return 0, ErrConflict
	case !pre.RequireExists && !pre.RequireAbsent && pre.Version != 0:
		if !exists || o.version != pre.Version {
			return 0, ErrConflict
		}
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	var version int64 = 1
	if exists {
		version = o.version + 1
	}
	m.objects[key] = &object{value: cp, version: version}
	return version, nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return ErrNotFound
	}
	delete(m.objects, key)
	return nil
}

func (m *Memory) ListRange(_ context.Context, prefix, startAfter string, limit int) ([]Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if startAfter != "" {
		start = sort.SearchStrings(keys, startAfter)
		if start < len(keys) && keys[start] == startAfter {
			start++
		}
	}

	var entries []Entry
	hasMore := false
	for i := start; i < len(keys); i++ {
		if len(entries) == limit {
			hasMore = true
			break
		}
		k := keys[i]
		o := m.objects[k]
		cp := make([]byte, len(o.value))
		copy(cp, o.value)
		entries = append(entries, Entry{Key: k, Value: cp, Version: o.version})
	}
	return entries, hasMore, nil
}

func (m *Memory) Watch(key string, cb WatchFunc) WatchHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	h := WatchHandle{key: key, id: m.nextID}
	m.watchers[key] = append(m.watchers[key], watcher{key: key, id: h.id, cb: cb})
	return h
}

func (m *Memory) Unwatch(h WatchHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := m.watchers[h.key]
	for i, w := range ws {
		if w.id == h.id {
			m.watchers[h.key] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
}

func (m *Memory) Notify(_ context.Context, key string, payload []byte) error {
	m.mu.RLock()
	ws := make([]watcher, len(m.watchers[key]))
	copy(ws, m.watchers[key])
	m.mu.RUnlock()
	for _, w := range ws {
		w.cb(payload)
	}
	return nil
}

func (m *Memory) RegisterClient(scope, clientID string, meta []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := clientKey{scope, clientID}
	if _, ok := m.clients[k]; ok {
		return ErrExists
	}
	m.clients[k] = meta
	return nil
}

func (m *Memory) UnregisterClient(scope, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := clientKey{scope, clientID}
	if _, ok := m.clients[k]; !ok {
		return ErrNotFound
	}
	delete(m.clients, k)
	return nil
}

var _ Gateway = (*Memory)(nil)
