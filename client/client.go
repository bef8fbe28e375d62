// Package client provides a Go client for the depot HTTP API and a parallel
// bulk loader for staging large entry batches.
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

	"github.com/depotdb/depot"
)

// Client talks to a depot server.
type Client struct {
	// Addr is the base URL of the server, e.g. http://localhost:8080.
	Addr string
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// New returns a Client for addr.
func New(addr string) *Client {
	return &Client{Addr: strings.TrimRight(addr, "/")}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Entry is one key-value pair of a load batch.
type Entry struct {
	Table string          `json:"table"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// CreateDataset creates a dataset.
func (c *Client) CreateDataset(ctx context.Context, d *depot.Dataset) (*depot.Dataset, error) {
	var out depot.Dataset
	if err := c.do(ctx, http.MethodPost, "/v1/datasets", nil, d, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateVersion creates a version of the dataset.
func (c *Client) CreateVersion(ctx context.Context, dataset, label string) (*depot.Version, error) {
	req := map[string]string{"dataset": dataset}
	if label != "" {
		req["label"] = label
	}
	var out depot.Version
	if err := c.do(ctx, http.MethodPost, "/v1/versions", nil, req, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetVersion fetches a version by id.
func (c *Client) GetVersion(ctx context.Context, id string) (*depot.Version, error) {
	var out depot.Version
	if err := c.do(ctx, http.MethodGet, "/v1/versions/"+url.PathEscape(id), nil, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoadEntries stages one batch of entries into the version.
func (c *Client) LoadEntries(ctx context.Context, dataset, versionID string, batch []Entry) error {
	q := url.Values{"version-id": {versionID}}
	return c.do(ctx, http.MethodPost, "/v1/datasets/"+url.PathEscape(dataset), q, batch, nil, http.StatusOK)
}

// SaveVersion requests the save transition.
func (c *Client) SaveVersion(ctx context.Context, id string) (*depot.Version, error) {
	var out depot.Version
	if err := c.do(ctx, http.MethodPost, "/v1/versions/"+url.PathEscape(id)+"/save", nil, nil, &out, http.StatusAccepted); err != nil {
		return nil, err
	}
	return &out, nil
}

// PublishVersion requests the publish transition.
func (c *Client) PublishVersion(ctx context.Context, id string) (*depot.Version, error) {
	var out depot.Version
	if err := c.do(ctx, http.MethodPost, "/v1/versions/"+url.PathEscape(id)+"/publish", nil, nil, &out, http.StatusAccepted); err != nil {
		return nil, err
	}
	return &out, nil
}

// DiscardVersion requests the discard transition.
func (c *Client) DiscardVersion(ctx context.Context, id, reason string) (*depot.Version, error) {
	var body interface{}
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	var out depot.Version
	if err := c.do(ctx, http.MethodPost, "/v1/versions/"+url.PathEscape(id)+"/discard", nil, body, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetEntry reads one value. versionID may be empty to read from the active
// version.
func (c *Client) GetEntry(ctx context.Context, dataset, table, key, versionID string) (json.RawMessage, error) {
	var q url.Values
	if versionID != "" {
		q = url.Values{"version-id": {versionID}}
	}
	p := fmt.Sprintf("/v1/datasets/%s/tables/%s/entries/%s",
		url.PathEscape(dataset), url.PathEscape(table), url.PathEscape(key))
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, p, q, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out, nil
}

// do runs one request and decodes the response into out when it is non-nil.
func (c *Client) do(ctx context.Context, method, p string, q url.Values, body, out interface{}, want int) error {
	u := c.Addr + p
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &depot.Error{Code: depot.EInvalid, Err: err}
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return &depot.Error{Code: depot.EInternal, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return &depot.Error{Code: depot.EUnavailable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError converts an error response into a coded error.
func decodeError(resp *http.Response) error {
	code := depot.EInternal
	switch resp.StatusCode {
	case http.StatusBadRequest:
		code = depot.EInvalid
	case http.StatusNotFound:
		code = depot.ENotFound
	case http.StatusConflict:
		code = depot.EConflict
	case http.StatusTooManyRequests:
		code = depot.ETooManyRequests
	case http.StatusServiceUnavailable:
		code = depot.EUnavailable
	}

	var body struct {
		Message string `json:"message"`
	}
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(buf, &body); err != nil || body.Message == "" {
		body.Message = fmt.Sprintf("unexpected status %s", resp.Status)
	}
	return &depot.Error{Code: code, Msg: body.Message}
}
