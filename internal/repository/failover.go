package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"bookingsys/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverLocker uses primary while it is healthy and falls back when it
// errors for reasons other than contention. Primary is retried after a minute.
type FailoverLocker struct {
	primary  domain.Locker
	fallback domain.Locker
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverLocker(primary, fallback domain.Locker, logger *zerolog.Logger) *FailoverLocker {
	return &FailoverLocker{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (l *FailoverLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.isDown.Load() && l.recoveryDue() {
		l.isDown.Store(false)
	}

	if !l.isDown.Load() {
		unlock, err := l.primary.Lock(ctx, key)
		if err == nil || errors.Is(err, domain.ErrLockTimeout) || ctx.Err() != nil {
			return unlock, err
		}
		l.logger.Error().Err(err).Str("key", key).Msg("Primary locker failed, falling back to memory")
		l.markDown()
	}

	return l.fallback.Lock(ctx, key)
}

func (l *FailoverLocker) markDown() {
	l.mu.Lock()
	l.lastCheck = time.Now()
	l.mu.Unlock()
	l.isDown.Store(true)
}

func (l *FailoverLocker) recoveryDue() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Since(l.lastCheck) > time.Minute
}
