package usecase

import "sync"

// keyedMutex serializes work per string key.
type keyedMutex struct {
	m sync.Map
}

func (k *keyedMutex) Lock(key string) func() {
	v, _ := k.m.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
