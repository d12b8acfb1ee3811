// Package objstore provides the uniform object storage abstraction that C2
// through C6 build on: get/put/put-if-absent/list/delete/head over a flat
// key space, implemented by LocalFS, S3, Azure Blob, and GCS backends.
package objstore

import (
	"context"
	"io"
	"time"
)

// ObjectMetadata is returned by Head.
type ObjectMetadata struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Store is the capability set every backend implements. Keys are
// '/'-delimited UTF-8 with no leading slash.
type Store interface {
	// Get returns the full contents of key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes data to key unconditionally, overwriting any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// PutIfAbsent writes data to key only if it does not already exist.
	// Returns ErrAlreadyExists if the key is already present.
	PutIfAbsent(ctx context.Context, key string, data []byte) error

	// PutIfMatch writes data to key only if the object's current ETag
	// equals etag (empty etag means "must not currently exist"). This is
	// the compare-and-swap primitive manifest publish is built on.
	PutIfMatch(ctx context.Context, key string, data []byte, etag string) (newETag string, err error)

	// List returns a flat, lazily-paginated sequence of keys under prefix.
	List(ctx context.Context, prefix string) (Lister, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Head returns metadata without fetching the body.
	Head(ctx context.Context, key string) (ObjectMetadata, error)
}

// Lister yields keys one at a time, paginating internally on demand.
type Lister interface {
	// Next returns the next key, or io.EOF when exhausted.
	Next() (string, error)
}

// Drain collects every key from l. Convenience for call sites that don't
// need to stream (reconciliation's list-and-diff, catalog rebuild).
func Drain(l Lister) ([]string, error) {
	var keys []string
	for {
		k, err := l.Next()
		if err == io.EOF {
			return keys, nil
		}
		if err != nil {
			return keys, err
		}
		keys = append(keys, k)
	}
}
