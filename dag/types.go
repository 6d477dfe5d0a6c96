package dag

import (
	"context"
	"fmt"
	"time"
)

// Artifacts carries task outputs forward by key. Values are in-memory
// (paths, parsed records, slices of results), not only paths on disk.
type Artifacts map[string]any

type Task interface {
	ID() string
	Deps() []string
	Run(ctx context.Context, in Artifacts) (Artifacts, error)
	MaxRetries() uint64
	// Timeout bounds a single attempt; zero means no limit.
	Timeout() time.Duration
	Cacheable() bool
}

// Restorer is implemented by cacheable tasks that can rebuild their
// artifacts from the files a previous successful run left behind.
type Restorer interface {
	Restore(ctx context.Context, in Artifacts) (Artifacts, error)
}

// Get fetches a typed artifact.
func Get[T any](in Artifacts, key string) (T, error) {
	var zero T
	v, ok := in[key]
	if !ok {
		return zero, fmt.Errorf("artifact %q missing", key)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("artifact %q has type %T", key, v)
	}
	return t, nil
}
