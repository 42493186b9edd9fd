// Package state provides TTL-keyed request counters for stateful mock
// endpoints. Counters are monotonic per key within a TTL window; entries
// are created lazily, touched on every access, and evicted once idle
// longer than the TTL.
package state

import (
	"context"
	"time"
)

// DefaultTTL is applied when the configuration leaves the counter TTL unset.
const DefaultTTL = time.Hour

// Store is the counter surface the rule engine consumes. Increment must be
// linearizable per key: two concurrent increments on the same key yield
// distinct, sequential values. Get returns 0 for absent or expired keys.
type Store interface {
	Increment(ctx context.Context, key string) (uint64, error)
	Get(ctx context.Context, key string) (uint64, error)
	Sweep(ctx context.Context) error
	Close(ctx context.Context) error
}
