package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/memograph/internal/cli"
	"github.com/hyperjump/memograph/internal/graph"
	"github.com/hyperjump/memograph/internal/models"
)

// client talks to a running memograph server. Reading through the server avoids
// the Bleve index lock the server holds.
type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, serverMessage(resp.Body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// serverMessage extracts the "error" field of an error response, or the raw body.
func serverMessage(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 64<<10))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(b))
}

func (c *client) listNotes(ctx context.Context, offset, limit int) ([]*models.NoteSummary, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	var notes []*models.NoteSummary
	err := c.do(ctx, http.MethodGet, "/api/memos?"+q.Encode(), nil, &notes)
	return notes, err
}

func (c *client) similar(ctx context.Context, id int64) ([]*models.SimilarNote, error) {
	var similar []*models.SimilarNote
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/memos/%d/similar", id), nil, &similar)
	return similar, err
}

func (c *client) graph(ctx context.Context, limit int) (*models.GraphSnapshot, error) {
	path := "/api/graph"
	if limit >= 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var snapshot models.GraphSnapshot
	if err := c.do(ctx, http.MethodGet, path, nil, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (c *client) search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	var response models.SearchResponse
	if err := c.do(ctx, http.MethodPost, "/api/search", query, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *client) rebuild(ctx context.Context) (*graph.RebuildReport, error) {
	var report graph.RebuildReport
	if err := c.do(ctx, http.MethodPost, "/api/rebuild", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// remoteStatus is the shape of GET /api/status.
type remoteStatus struct {
	models.Stats
	DiskUsageBytes int64 `json:"disk_usage_bytes"`
	Config         struct {
		Dimensions   int     `json:"embedding_dimensions"`
		Threshold    float64 `json:"similarity_threshold"`
		Limit        int     `json:"similarity_limit"`
		Policy       string  `json:"similarity_policy"`
		DatabasePath string  `json:"database_path"`
	} `json:"config"`
	WatchDirectories []string `json:"watch_directories"`
}

func (c *client) status(ctx context.Context) (*cli.Status, error) {
	var rs remoteStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &rs); err != nil {
		return nil, err
	}
	return &cli.Status{
		Stats:          &rs.Stats,
		DiskUsageBytes: rs.DiskUsageBytes,
		DatabasePath:   rs.Config.DatabasePath,
		Dimensions:     rs.Config.Dimensions,
		Threshold:      rs.Config.Threshold,
		Limit:          rs.Config.Limit,
		Policy:         rs.Config.Policy,
		Directories:    rs.WatchDirectories,
	}, nil
}
