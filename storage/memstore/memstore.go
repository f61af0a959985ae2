package memstore

import (
	"context"
	"sync"

	"github.com/jrsteele09/elearn-session/internal/errors"
	"github.com/jrsteele09/elearn-session/storage"
)

var _ storage.Slots = (*MemStore)(nil)

// MemStore keeps slots in process memory. It is the fallback when durable
// storage is unavailable and the default backend in tests.
type MemStore struct {
	slots map[string][]byte
	lock  sync.RWMutex
}

func New() *MemStore {
	return &MemStore{
		slots: make(map[string][]byte),
	}
}

func (ms *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	ms.lock.RLock()
	defer ms.lock.RUnlock()

	v, ok := ms.slots[key]
	if !ok {
		return nil, errors.ErrSlotNotFound
	}
	return append([]byte(nil), v...), nil
}

func (ms *MemStore) Set(_ context.Context, key string, value []byte) error {
	ms.lock.Lock()
	defer ms.lock.Unlock()

	ms.slots[key] = append([]byte(nil), value...)
	return nil
}

func (ms *MemStore) SetMany(_ context.Context, entries map[string][]byte) error {
	ms.lock.Lock()
	defer ms.lock.Unlock()

	for k, v := range entries {
		ms.slots[k] = append([]byte(nil), v...)
	}
	return nil
}

func (ms *MemStore) Delete(_ context.Context, keys ...string) error {
	ms.lock.Lock()
	defer ms.lock.Unlock()

	for _, k := range keys {
		delete(ms.slots, k)
	}
	return nil
}

// Len reports how many slots are held.
func (ms *MemStore) Len() int {
	ms.lock.RLock()
	defer ms.lock.RUnlock()
	return len(ms.slots)
}
