// Package objectstore abstracts blob storage behind a small interface with
// S3 and in-memory implementations. Keys are opaque slash-separated paths;
// the contract is a byte-exact round trip.
package objectstore

import (
	"context"
	"io"
)

// ObjectInfo describes a stored blob without its content.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// Store is the object-store contract the pipeline depends on.
type Store interface {
	// Put stores body under key, overwriting any existing object.
	Put(ctx context.Context, key string, body io.Reader, contentType string) error

	// Get returns the object's content. The caller must close the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Head returns object facts without fetching the content.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// Copy duplicates srcKey to dstKey, replacing the destination's
	// user metadata with the given map.
	Copy(ctx context.Context, srcKey, dstKey string, metadata map[string]string) error

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Presigner issues time-limited upload URLs so clients can PUT blobs
// directly, bypassing the intake process.
type Presigner interface {
	PresignPut(ctx context.Context, key, contentType string) (string, error)
}
