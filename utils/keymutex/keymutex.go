package keymutex

import (
	"sync"

	"github.com/twmb/murmur3"
)

// KeyMutex serializes work per string key using a fixed set of lock stripes.
// Two distinct keys may share a stripe; that costs contention, never safety.
type KeyMutex struct {
	stripes []sync.Mutex
}

func New(stripes int) *KeyMutex {
	if stripes <= 0 {
		stripes = 64
	}
	return &KeyMutex{stripes: make([]sync.Mutex, stripes)}
}

func (k *KeyMutex) stripe(key string) *sync.Mutex {
	h := murmur3.StringSum32(key)
	return &k.stripes[int(h)%len(k.stripes)]
}

func (k *KeyMutex) Lock(key string) {
	k.stripe(key).Lock()
}

func (k *KeyMutex) Unlock(key string) {
	k.stripe(key).Unlock()
}
