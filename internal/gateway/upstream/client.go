// Package upstream talks to the strategy producer's REST surface: instance
// discovery and historic event backfill.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tracer/internal/feed"
	"tracer/internal/logger"
	"tracer/internal/types"
)

// Config locates the producer.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client wraps the producer REST API. Backfill failures are surfaced, never
// retried automatically; the caller decides when to ask again.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	decoder    *feed.Decoder
}

// NewClient builds a producer client.
func NewClient(cfg Config, decoder *feed.Decoder) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("upstream base url cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		decoder:    decoder,
	}, nil
}

// FetchInstances lists the strategy instances the producer exposes.
func (c *Client) FetchInstances(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, "/api/strategy_instances", nil)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(body, &names); err != nil {
		return nil, fmt.Errorf("decoding instance list: %w", err)
	}
	return names, nil
}

// FetchEvents returns the historic events for one instance inside
// [start, end].
func (c *Client) FetchEvents(ctx context.Context, instance string, start, end time.Time) ([]types.StrategyUpdate, error) {
	q := url.Values{}
	q.Set("instance", strings.TrimSpace(instance))
	q.Set("start", strconv.FormatInt(start.Unix(), 10))
	q.Set("end", strconv.FormatInt(end.Unix(), 10))
	body, err := c.get(ctx, "/api/strategy-events", q)
	if err != nil {
		return nil, err
	}
	events, skipped, err := c.decoder.DecodeEventHistory(body)
	if err != nil {
		return nil, fmt.Errorf("decoding event history: %w", err)
	}
	if skipped > 0 {
		logger.Warnf("upstream: skipped %d malformed historic events instance=%s", skipped, instance)
	}
	return events, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := *c.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + path
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request %s: %w", path, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	return body, nil
}
