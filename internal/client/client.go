/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package client talks to the behavior API of a running server.
//
// Every call issues exactly one request. Nothing is retried, and no
// timeout is applied beyond whatever the supplied http.Client enforces.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Seednode/dungeonhonor/internal/behavior"
)

const (
	DefaultLookupPath = "/api/getBehavior"
	DefaultWritePath  = "/api/saveBehavior"
	DefaultRatingPath = "/api/saveRejoinRating"
)

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
}

type Client struct {
	base       *url.URL
	httpClient *http.Client
	lookupPath string
	writePath  string
	ratingPath string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithPaths overrides the endpoint paths. Empty values keep the default.
func WithPaths(lookup, write, rating string) Option {
	return func(c *Client) {
		if lookup != "" {
			c.lookupPath = lookup
		}
		if write != "" {
			c.writePath = write
		}
		if rating != "" {
			c.ratingPath = rating
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		base:       base,
		httpClient: http.DefaultClient,
		lookupPath: DefaultLookupPath,
		writePath:  DefaultWritePath,
		ratingPath: DefaultRatingPath,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

type lookupResponse struct {
	Data []behavior.Record `json:"data"`
}

// Lookup fetches every stored behavior record for the player. The name
// and realm are sent exactly as given.
func (c *Client) Lookup(ctx context.Context, id behavior.Identity) ([]behavior.Record, error) {
	q := url.Values{}
	q.Set("name", id.Name)
	q.Set("realm", id.Realm)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(c.lookupPath)+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil, &StatusError{Op: "lookup", StatusCode: resp.StatusCode}
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("lookup: failed to decode response: %w", err)
	}
	if body.Data == nil {
		body.Data = []behavior.Record{}
	}

	return body.Data, nil
}

func (c *Client) SaveBehavior(ctx context.Context, s behavior.FeedbackSubmission) error {
	return c.post(ctx, "save behavior", c.writePath, s)
}

func (c *Client) SaveRejoinRating(ctx context.Context, r behavior.RejoinRating) error {
	return c.post(ctx, "save rejoin rating", c.ratingPath, r)
}

func (c *Client) post(ctx context.Context, op, path string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, StatusCode: resp.StatusCode}
	}

	return nil
}
