package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bookingsys/internal/domain"
)

// MemoryLocker serializes critical sections inside one process.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
	wait  time.Duration
}

type lockSlot struct {
	ch      chan struct{}
	holders int
}

func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	return &MemoryLocker{
		slots: make(map[string]*lockSlot),
		wait:  wait,
	}
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.holders++
	l.mu.Unlock()

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case slot.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-slot.ch
				l.forget(key, slot)
			})
		}, nil
	case <-timer.C:
		l.forget(key, slot)
		return nil, fmt.Errorf("%w: %s", domain.ErrLockTimeout, key)
	case <-ctx.Done():
		l.forget(key, slot)
		return nil, ctx.Err()
	}
}

// forget drops the slot once nobody holds or waits on it.
func (l *MemoryLocker) forget(key string, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.holders--
	if slot.holders == 0 {
		delete(l.slots, key)
	}
}

func (l *MemoryLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
