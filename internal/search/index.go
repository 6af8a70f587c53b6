package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// IndexClient is a thin HTTP client for an Elasticsearch-compatible index
// service. It handles JSON marshaling and status handling; the service
// itself is consumed as a black box.
type IndexClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewIndexClient creates a client for the index service at baseURL
// (e.g., http://localhost:9200).
func NewIndexClient(baseURL string) *IndexClient {
	return &IndexClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Ping checks that the index service answers at its root endpoint. The
// caller bounds the wait through ctx.
func (c *IndexClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("creating ping request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pinging index service: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("index service ping returned %d", resp.StatusCode)
	}
	return nil
}

// IndexExists reports whether the named index exists.
func (c *IndexClient) IndexExists(ctx context.Context, name string) (bool, error) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodHead, c.indexURL(name), nil,
	)
	if err != nil {
		return false, fmt.Errorf("creating exists request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("checking index %s: %w", name, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("index exists check returned %d", resp.StatusCode)
	}
}

// CreateIndex creates the named index with the given mapping body.
func (c *IndexClient) CreateIndex(
	ctx context.Context,
	name string,
	mapping interface{},
) error {
	return c.do(ctx, http.MethodPut, c.indexURL(name), mapping, nil)
}

// IndexDocument writes (or overwrites) a document under the given id.
func (c *IndexClient) IndexDocument(
	ctx context.Context,
	name, id string,
	doc interface{},
) error {
	path := c.indexURL(name) + "/_doc/" + url.PathEscape(id)
	return c.do(ctx, http.MethodPut, path, doc, nil)
}

// searchResponse mirrors the subset of the search reply the gateway needs.
type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string          `json:"_id"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs a query against the named index and returns the raw hit
// sources in ranking order.
func (c *IndexClient) Search(
	ctx context.Context,
	name string,
	query interface{},
) ([]json.RawMessage, error) {
	var result searchResponse
	path := c.indexURL(name) + "/_search"
	if err := c.do(ctx, http.MethodPost, path, query, &result); err != nil {
		return nil, err
	}

	sources := make([]json.RawMessage, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		sources = append(sources, hit.Source)
	}
	return sources, nil
}

// do is the core HTTP method handling JSON (de)serialization and status
// checks.
func (c *IndexClient) do(
	ctx context.Context,
	method, rawURL string,
	body, result interface{},
) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling index service: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf(
			"index service %s %s returned %d: %s",
			method, rawURL, resp.StatusCode, truncate(respBody, 200),
		)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func (c *IndexClient) indexURL(name string) string {
	return c.baseURL + "/" + url.PathEscape(name)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
