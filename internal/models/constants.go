package models

import "time"

const (
	// DefaultCancellationWindow is how close to start_time an owner may no longer cancel.
	DefaultCancellationWindow = 24 * time.Hour

	DefaultPageSize = 20
	MaxPageSize     = 100

	// WorkerQueueSize is the in-memory notification queue capacity.
	WorkerQueueSize = 128

	DefaultLockTTL  = 10 * time.Second
	DefaultLockWait = 3 * time.Second
)
