package safemap

import (
	"sync"
)

// SafeMap is a map guarded by a RWMutex.
type SafeMap[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

func NewSafeMap[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{
		m: make(map[K]V),
	}
}

func (sm *SafeMap[K, V]) Store(key K, value V) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.m[key] = value
}

func (sm *SafeMap[K, V]) Delete(key K) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.m, key)
}

func (sm *SafeMap[K, V]) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.m)
}

// Values returns a snapshot of the values matching keep. A nil keep
// returns every value.
func (sm *SafeMap[K, V]) Values(keep func(K, V) bool) []V {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]V, 0, len(sm.m))
	for k, v := range sm.m {
		if keep == nil || keep(k, v) {
			out = append(out, v)
		}
	}
	return out
}

func (sm *SafeMap[K, V]) Clear() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.m = make(map[K]V)
}
