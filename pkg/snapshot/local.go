package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// PublicRoute is the URL path the HTTP server mounts a LocalBucket under.
const PublicRoute = "/snapshots/"

// LocalBucket stores objects as files below a root directory and serves
// them through the API server.
type LocalBucket struct {
	root    string
	baseURL string
}

// NewLocalBucket creates the root directory if needed.
func NewLocalBucket(root, baseURL string) (*LocalBucket, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir %s: %w", root, err)
	}
	return &LocalBucket{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Root returns the directory served under PublicRoute.
func (b *LocalBucket) Root() string {
	return b.root
}

func (b *LocalBucket) PublicURL(key string) string {
	u := b.baseURL + PublicRoute + (&url.URL{Path: strings.TrimPrefix(key, "/")}).EscapedPath()
	return CleanURL(u)
}

func (b *LocalBucket) List(ctx context.Context, prefix string, opts ListOptions) ([]FileObject, error) {
	dir := b.root
	if prefix != "" {
		if !ValidKey(prefix) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidKey, prefix)
		}
		dir = filepath.Join(b.root, filepath.FromSlash(prefix))
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []FileObject{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	objects := make([]FileObject, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		objects = append(objects, FileObject{
			Name:      e.Name(),
			ID:        path.Join(prefix, e.Name()),
			CreatedAt: info.ModTime().UTC(),
			UpdatedAt: info.ModTime().UTC(),
			Metadata: map[string]any{
				"size":     info.Size(),
				"mimetype": extMime(e.Name()),
			},
		})
	}

	sortObjects(objects, opts)
	return page(objects, opts), nil
}

func (b *LocalBucket) Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	if !ValidKey(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read upload %s: %w", key, err)
	}
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("%w: %s is %s, not an image", ErrInvalidKey, key, contentType)
	}

	dst := filepath.Join(b.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create dir for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp for %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("store %s: %w", key, err)
	}

	return b.PublicURL(key), nil
}

// extMime maps common image extensions for listing without reading files.
func extMime(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

func sortObjects(objects []FileObject, opts ListOptions) {
	less := func(i, j int) bool { return objects[i].Name < objects[j].Name }
	switch opts.SortBy {
	case SortByCreatedAt:
		less = func(i, j int) bool { return objects[i].CreatedAt.Before(objects[j].CreatedAt) }
	case SortByUpdatedAt:
		less = func(i, j int) bool { return objects[i].UpdatedAt.Before(objects[j].UpdatedAt) }
	}
	if opts.Descending {
		sort.SliceStable(objects, func(i, j int) bool { return less(j, i) })
		return
	}
	sort.SliceStable(objects, less)
}

func page(objects []FileObject, opts ListOptions) []FileObject {
	if opts.Offset > 0 {
		if opts.Offset >= len(objects) {
			return []FileObject{}
		}
		objects = objects[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(objects) {
		objects = objects[:opts.Limit]
	}
	return objects
}
