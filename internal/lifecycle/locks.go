package lifecycle

import "sync"

// keyedMutex hands out one mutex per key so transitions on independent
// rides or drivers never contend. Entries are never evicted; the key space
// is bounded by the number of rides/drivers a single node handles.
type keyedMutex struct {
	m sync.Map // key -> *sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	v, _ := k.m.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
