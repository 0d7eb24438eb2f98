package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/carekeeper/internal/client/models"
	"github.com/dmitrijs2005/carekeeper/internal/common"
)

const apiPrefix = "/api/v1"

// HTTPClient talks JSON over HTTP to the CareKeeper backend.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient returns a client bound to baseURL, e.g. "http://127.0.0.1:8080".
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Version int64  `json:"version"`
}

// decodeError maps a non-2xx response to a sentinel or RequestError.
// A 409 status or an explicit "version_conflict" body is the conflict signal.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var eb errorBody
	_ = json.Unmarshal(body, &eb)

	if resp.StatusCode == http.StatusConflict || eb.Error == "version_conflict" {
		return common.ErrVersionConflict
	}

	msg := eb.Error
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	return &RequestError{StatusCode: resp.StatusCode, Message: msg}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, body)
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
		return decodeError(resp)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return c.do(ctx, http.MethodGet, "/ping", nil, nil)
}

func (c *HTTPClient) Create(ctx context.Context, path string, fields json.RawMessage) (*CreateResult, error) {
	in := struct {
		Fields json.RawMessage `json:"fields"`
	}{Fields: fields}

	var out CreateResult
	if err := c.do(ctx, http.MethodPost, "/"+path, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Update(ctx context.Context, path, id string, fields json.RawMessage, version int64) (int64, error) {
	in := struct {
		Fields  json.RawMessage `json:"fields"`
		Version int64           `json:"version"`
	}{Fields: fields, Version: version}

	var out struct {
		Version int64 `json:"version"`
	}
	if err := c.do(ctx, http.MethodPut, "/"+path+"/"+url.PathEscape(id), in, &out); err != nil {
		return 0, err
	}
	return out.Version, nil
}

func (c *HTTPClient) Delete(ctx context.Context, path, id string) error {
	err := c.do(ctx, http.MethodDelete, "/"+path+"/"+url.PathEscape(id), nil, nil)

	// A record already gone on the server counts as acknowledged.
	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *HTTPClient) Get(ctx context.Context, path, id string) (*models.ServerRecord, error) {
	var out models.ServerRecord
	if err := c.do(ctx, http.MethodGet, "/"+path+"/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) List(ctx context.Context, path string, scope map[string]string) ([]models.ServerRecord, error) {
	q := url.Values{}
	for k, v := range scope {
		q.Set(k, v)
	}
	p := "/" + path
	if len(q) > 0 {
		p += "?" + q.Encode()
	}

	var out struct {
		Records []models.ServerRecord `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
