package meeting

import "sync"

// keyedMutex serializes operations per meeting so no two mutations race
// on the confirmed-count invariant. Locks are created on first use and
// kept for the process lifetime; the set of meetings is small enough
// that reclamation is not worth the bookkeeping.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*sync.Mutex)}
}

func (k *keyedMutex) lock(id int64) *sync.Mutex {
	k.mu.Lock()
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m
}
