package storage

import (
	"context"
	"path"
	"strings"
)

// Provider represents the storage provider type
type Provider string

const (
	ProviderS3 Provider = "s3"
)

// Uploader publishes local run artifacts to an object store.
type Uploader interface {
	// Provider returns the storage provider type
	Provider() Provider

	// Upload copies the local file at source to the object key target.
	Upload(ctx context.Context, source string, target string) (*ObjectInfo, error)
}

// ObjectInfo describes an uploaded object
type ObjectInfo struct {
	Bucket   string
	Key      string
	Location string
	Size     int64
}

// ObjectKey joins prefix and name into a slash-separated object key.
// Leading and trailing slashes on the prefix are ignored.
func ObjectKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
