package store

import "context"

// Store persists run artifacts (per-task trace records, run summaries)
// keyed by a prefix plus key. The task graph itself is never persisted;
// it is rebuilt from the registered plan on every run.
type Store interface {
	Get(ctx context.Context, prefix, key string) ([]byte, error)
	Set(ctx context.Context, prefix, key string, value []byte) error
	/**
	 * Remove a prefix and key
	 * removing an unknown prefix + key does NOT return an error
	 */
	Remove(ctx context.Context, prefix, key string) error

	List(ctx context.Context, prefix string, iterator func(key string) bool) error
}
