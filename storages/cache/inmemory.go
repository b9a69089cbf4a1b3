package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

type InMemory struct {
	entries map[string]entry
	lock    sync.RWMutex
	clock   clockwork.Clock
}

func NewInMemory(clock clockwork.Clock) *InMemory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &InMemory{
		entries: make(map[string]entry),
		clock:   clock,
	}
}

func (i *InMemory) Get(_ context.Context, key string) ([]byte, bool, error) {
	i.lock.RLock()
	e, ok := i.entries[key]
	i.lock.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if !e.expiresAt.IsZero() && !i.clock.Now().Before(e.expiresAt) {
		i.lock.Lock()
		if cur, ok := i.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(i.entries, key)
		}
		i.lock.Unlock()
		return nil, false, nil
	}

	return e.value, true, nil
}

func (i *InMemory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = i.clock.Now().Add(ttl)
	}

	i.lock.Lock()
	i.entries[key] = e
	i.lock.Unlock()
	return nil
}

func (i *InMemory) Delete(_ context.Context, key string) error {
	i.lock.Lock()
	delete(i.entries, key)
	i.lock.Unlock()
	return nil
}
