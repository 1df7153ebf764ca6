// Package vector is a client for the external vector index: upsert by
// id, fetch by id list, delete by id list.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Vector is one embedded chunk as stored in the index.
type Vector struct {
	ID       string                 `json:"id"`
	Values   []float32              `json:"values"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

type upsertRequest struct {
	Vectors []Vector `json:"vectors"`
}

type fetchRequest struct {
	IDs []string `json:"ids"`
}

type fetchResponse struct {
	Vectors map[string]Vector `json:"vectors"`
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

// Upsert writes vectors into the index, replacing any existing entries
// with the same ids.
func (c *Client) Upsert(ctx context.Context, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	return c.post(ctx, "/vectors/upsert", upsertRequest{Vectors: vectors}, nil)
}

// Fetch resolves ids to stored vectors. Missing ids are simply absent
// from the result; the reconciliation pass relies on that.
func (c *Client) Fetch(ctx context.Context, ids []string) (map[string]Vector, error) {
	if len(ids) == 0 {
		return map[string]Vector{}, nil
	}
	var parsed fetchResponse
	if err := c.post(ctx, "/vectors/fetch", fetchRequest{IDs: ids}, &parsed); err != nil {
		return nil, err
	}
	if parsed.Vectors == nil {
		parsed.Vectors = map[string]Vector{}
	}
	return parsed.Vectors, nil
}

// Delete removes ids from the index. Unknown ids are not an error.
func (c *Client) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.post(ctx, "/vectors/delete", deleteRequest{IDs: ids}, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("vector index %s: HTTP %d: %s", path, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
