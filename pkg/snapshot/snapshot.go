// Package snapshot lists, uploads and addresses theft snapshot images in
// object storage.
package snapshot

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// ErrInvalidKey is returned for object keys that escape the bucket.
var ErrInvalidKey = errors.New("invalid object key")

// FileObject describes one stored object.
type FileObject struct {
	Name      string         `json:"name"`
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Sort columns accepted by ListOptions.SortBy.
const (
	SortByName      = "name"
	SortByCreatedAt = "created_at"
	SortByUpdatedAt = "updated_at"
)

// ListOptions controls paging and ordering of List.
type ListOptions struct {
	Limit      int
	Offset     int
	SortBy     string
	Descending bool
}

// DefaultListOptions lists the 100 newest objects first.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 100, SortBy: SortByCreatedAt, Descending: true}
}

// Bucket is the object storage contract. PublicURL must be pure.
type Bucket interface {
	List(ctx context.Context, prefix string, opts ListOptions) ([]FileObject, error)
	PublicURL(key string) string
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
}

// Snapshot is a listed object with its displayable URL.
type Snapshot struct {
	FileObject
	Key string `json:"key"`
	URL string `json:"url"`
}

// CleanURL strips any trailing "?" left by URL construction.
func CleanURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "?")
}

// Resolve turns a stored snapshot path into an absolute URL. Paths that are
// already URLs are only cleaned; anything else is treated as a bucket key.
func Resolve(b Bucket, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") || b == nil {
		return CleanURL(p)
	}
	return CleanURL(b.PublicURL(strings.TrimPrefix(p, "/")))
}

// Key joins a prefix and an object name into a bucket key.
func Key(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// List returns the objects under prefix with their public URLs.
func List(ctx context.Context, b Bucket, prefix string, opts ListOptions) ([]Snapshot, error) {
	objects, err := b.List(ctx, prefix, opts)
	if err != nil {
		return nil, err
	}

	out := make([]Snapshot, 0, len(objects))
	for _, obj := range objects {
		key := Key(prefix, obj.Name)
		out = append(out, Snapshot{
			FileObject: obj,
			Key:        key,
			URL:        CleanURL(b.PublicURL(key)),
		})
	}
	return out, nil
}

// ValidKey reports whether key is a relative slash-separated path that stays
// inside the bucket.
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return false
	}
	clean := path.Clean(key)
	return clean == key && clean != "." && clean != ".." && !strings.HasPrefix(clean, "../")
}
