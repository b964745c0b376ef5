// Package supabase implements the data gateway and snapshot bucket over the
// Supabase REST and storage APIs.
package supabase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/elonfeng/shopguard/internal/logging"
	"github.com/elonfeng/shopguard/internal/metrics"
)

const maxResponseBody = 8 << 20

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("supabase %s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("supabase %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Config configures a Client.
type Config struct {
	URL     string
	Key     string
	Bucket  string
	Timeout time.Duration
}

// Client talks to one Supabase project. It implements store.Store and
// snapshot.Bucket.
type Client struct {
	baseURL string
	key     string
	bucket  string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[[]byte]
	log     zerolog.Logger
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" || cfg.Key == "" {
		return nil, errors.New("supabase: url and key are required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("supabase: parse url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "theftsnapshots"
	}

	name := "supabase"
	log := logging.Component("supabase")
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	c := &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		key:     cfg.Key,
		bucket:  cfg.Bucket,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log,
	}
	c.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// 4xx answers and caller cancellation are not failures.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code < 500
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return c, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	prefer      string
	header      map[string]string
}

// do sends req through the circuit breaker and returns the response body.
func (c *Client) do(ctx context.Context, req request) ([]byte, error) {
	return c.cb.Execute(func() ([]byte, error) {
		return c.send(ctx, req)
	})
}

func (c *Client) send(ctx context.Context, r request) ([]byte, error) {
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create supabase request: %w", err)
	}

	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		ct := r.contentType
		if ct == "" {
			ct = "application/json"
		}
		req.Header.Set("Content-Type", ct)
	}
	if r.prefer != "" {
		req.Header.Set("Prefer", r.prefer)
	}
	for k, v := range r.header {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supabase %s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read supabase response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			Method: r.method,
			Path:   r.path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(data)),
		}
	}
	return data, nil
}

// get fetches path and decodes the JSON answer into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	data, err := c.do(ctx, request{method: http.MethodGet, path: path, query: query})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// post encodes in as JSON and sends it to path.
func (c *Client) post(ctx context.Context, path string, query url.Values, prefer string, in any) ([]byte, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", path, err)
	}
	return c.do(ctx, request{method: http.MethodPost, path: path, query: query, body: body, prefer: prefer})
}
