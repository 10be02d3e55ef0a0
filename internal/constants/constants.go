// Package constants collects the default tunables shared across the
// storage, RPC, and multichain orchestration layers so they aren't
// scattered as magic numbers through config defaults.
package constants

import "time"

// Storage Constants
const (
	// DefaultCacheSize is the default Pebble block cache size in MB.
	DefaultCacheSize = 128

	// DefaultMaxOpenFiles is the default maximum number of open files for Pebble.
	DefaultMaxOpenFiles = 1000

	// DefaultWriteBuffer is the default Pebble write buffer (memtable) size in MB.
	DefaultWriteBuffer = 64
)

// Pagination Constants
const (
	// DefaultPageLimit is the page limit a chain config gets when it
	// doesn't set one. The historical driver does not apply page limits;
	// see historical.Config.PageLimit.
	DefaultPageLimit = 2000

	// MinPageLimit is the smallest page size a chain config may request.
	MinPageLimit = 1
)

// RPC and Retry Constants
const (
	// DefaultRPCTimeout bounds a single upstream RPC call.
	DefaultRPCTimeout = 30 * time.Second

	// DefaultPollInterval is how often the realtime driver polls for new
	// blocks when a chain config doesn't set one.
	DefaultPollInterval = 3 * time.Second

	// DefaultFinalityBlockCount is the default confirmation depth a block
	// must reach before it's treated as irreversible.
	DefaultFinalityBlockCount = 64

	// MaxRetryAttempts records the retry count of the RPC queue and the
	// realtime driver's tick retry: a first attempt plus up to 5 retries.
	// rpcqueue and realtime declare their own copies of these values and
	// do not read this constant.
	MaxRetryAttempts = 5

	// InitialRetryDelay records the base delay of that backoff schedule
	// (rpcqueue's retryBase).
	InitialRetryDelay = 250 * time.Millisecond
)

// Monitoring Constants
const (
	// DefaultHealthCheckInterval is how often the manager polls each
	// chain instance's health.
	DefaultHealthCheckInterval = 30 * time.Second

	// DefaultMaxUnhealthyDuration is how long a chain may stay unhealthy
	// before it's a candidate for auto-restart.
	DefaultMaxUnhealthyDuration = 5 * time.Minute

	// DefaultAutoRestartDelay is the cooldown before restarting a chain
	// instance that tripped its unhealthy threshold.
	DefaultAutoRestartDelay = 30 * time.Second
)
