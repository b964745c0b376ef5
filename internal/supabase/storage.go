package supabase

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/goccy/go-json"

	"github.com/elonfeng/shopguard/pkg/snapshot"
)

const maxUpload = 10 << 20

var _ snapshot.Bucket = (*Client)(nil)

type listRequest struct {
	Prefix string     `json:"prefix"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
	SortBy listSortBy `json:"sortBy"`
}

type listSortBy struct {
	Column string `json:"column"`
	Order  string `json:"order"`
}

type objectRow struct {
	Name      string         `json:"name"`
	ID        *string        `json:"id"`
	CreatedAt restTime       `json:"created_at"`
	UpdatedAt restTime       `json:"updated_at"`
	Metadata  map[string]any `json:"metadata"`
}

// escapeKey escapes each segment of an object key.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// Bucket returns the storage bucket name.
func (c *Client) Bucket() string { return c.bucket }

// PublicURL returns the public object URL of key.
func (c *Client) PublicURL(key string) string {
	return c.baseURL + "/storage/v1/object/public/" + c.bucket + "/" + escapeKey(strings.TrimLeft(key, "/"))
}

// List returns the objects directly under prefix. Folder placeholders, which
// carry no id, are skipped.
func (c *Client) List(ctx context.Context, prefix string, opts snapshot.ListOptions) ([]snapshot.FileObject, error) {
	def := snapshot.DefaultListOptions()
	if opts.Limit <= 0 {
		opts.Limit = def.Limit
	}
	if opts.SortBy == "" {
		opts.SortBy = def.SortBy
	}
	order := "asc"
	if opts.Descending {
		order = "desc"
	}

	data, err := c.post(ctx, "/storage/v1/object/list/"+c.bucket, nil, "", listRequest{
		Prefix: strings.Trim(prefix, "/"),
		Limit:  opts.Limit,
		Offset: opts.Offset,
		SortBy: listSortBy{Column: opts.SortBy, Order: order},
	})
	if err != nil {
		return nil, fmt.Errorf("list bucket %s/%s: %w", c.bucket, prefix, err)
	}

	var rows []objectRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode bucket listing: %w", err)
	}

	out := make([]snapshot.FileObject, 0, len(rows))
	for _, r := range rows {
		if r.ID == nil {
			continue
		}
		out = append(out, snapshot.FileObject{
			Name:      r.Name,
			ID:        *r.ID,
			CreatedAt: r.CreatedAt.Time,
			UpdatedAt: r.UpdatedAt.Time,
			Metadata:  r.Metadata,
		})
	}
	return out, nil
}

// Upload stores the object under key, replacing an existing one, and
// returns its public URL.
func (c *Client) Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	if !snapshot.ValidKey(key) {
		return "", fmt.Errorf("%w: %q", snapshot.ErrInvalidKey, key)
	}
	body, err := io.ReadAll(io.LimitReader(r, maxUpload+1))
	if err != nil {
		return "", fmt.Errorf("read upload body: %w", err)
	}
	if len(body) > maxUpload {
		return "", fmt.Errorf("upload %s: object exceeds %d bytes", key, maxUpload)
	}
	if contentType == "" {
		contentType = mimetype.Detect(body).String()
	}

	_, err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/storage/v1/object/" + c.bucket + "/" + escapeKey(key),
		body:        body,
		contentType: contentType,
		header:      map[string]string{"x-upsert": "true"},
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	c.log.Info().Str("key", key).Int("bytes", len(body)).Msg("snapshot uploaded")
	return c.PublicURL(key), nil
}
