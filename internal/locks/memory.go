package locks

import (
	"context"
	"fmt"
	"sync"

	"github.com/paymentsys/txnengine/internal/models"
)

// KeyedMutex provides in-process per-key mutual exclusion. Keys lock
// independently; acquiring a held key fails immediately rather than
// blocking, matching the lease semantics of the redis locker.
type KeyedMutex struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{held: make(map[string]struct{})}
}

func (m *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.held[key]; taken {
		return nil, fmt.Errorf("%w: %s", models.ErrLocked, key)
	}
	m.held[key] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}
	return release, nil
}
