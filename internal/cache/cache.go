// Package cache defines the byte cache used for zarr chunk objects.
package cache

import "context"

// ByteCache stores raw chunk objects keyed by cache key. A miss is reported
// as found=false with a nil error; errors are reserved for backend failures.
type ByteCache interface {
	Get(ctx context.Context, key string) (val []byte, found bool, err error)
	Set(ctx context.Context, key string, val []byte) error
}
