package store

import (
	"context"
	"fmt"
	"sync"
)

// lockTable hands out exclusive, context-aware row locks keyed by string.
// A waiter blocks on the holder's channel, which is closed on release.
type lockTable struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{held: make(map[string]chan struct{})}
}

func (lt *lockTable) acquire(ctx context.Context, key string) error {
	for {
		lt.mu.Lock()
		ch, busy := lt.held[key]
		if !busy {
			lt.held[key] = make(chan struct{})
			lt.mu.Unlock()
			return nil
		}
		lt.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
		}
	}
}

func (lt *lockTable) release(key string) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if ch, ok := lt.held[key]; ok {
		delete(lt.held, key)
		close(ch)
	}
}
