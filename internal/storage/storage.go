// Package storage contains blob storage abstractions for S3-compatible object stores.
// Objects written here are meant to be fetched directly by browsers.
package storage

import (
	"context"
	"io"
	"time"
)

// PutObjectOptions define optional parameters for uploading objects.
// Size should be the exact number of bytes if known; if unknown, set to -1 and the implementation
// will buffer/chunk as supported by the backend. Metadata is stored as x-amz-meta-* headers, so
// values must be ASCII.
type PutObjectOptions struct {
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo contains basic information about a stored object.
type ObjectInfo struct {
	Key  string
	URL  string
	Size int64
}

// Storage is a reusable, S3-compatible blob storage client interface.
type Storage interface {
	// Put uploads an object under the given key and returns its public URL in ObjectInfo.
	Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error)
	// URL returns the public, unauthenticated URL of key.
	URL(key string) string
	// PresignGet returns a time-limited URL that can be used to download the object without credentials.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	// Ping verifies the backing bucket is reachable.
	Ping(ctx context.Context) error
}

// JobKey returns the object key of one image belonging to a generation job,
// e.g. jobs/{jobID}/original.jpg.
func JobKey(jobID, name string) string {
	return "jobs/" + jobID + "/" + name + ".jpg"
}
