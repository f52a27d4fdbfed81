// Package fetch polls the vendor API for feed snapshots. The API pages
// its results: each response carries the records under a per-feed
// envelope key and a hasMoreResults flag, and pages are requested with
// the resultPage query parameter.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// subscriptionKeyHeader authenticates requests against the vendor API
// gateway.
const subscriptionKeyHeader = "Ocp-Apim-Subscription-Key"

// envelopeKeys maps a feed name to the JSON key its records arrive
// under.
var envelopeKeys = map[string]string{
	"sites":            "sites",
	"chargingstations": "chargingStations",
	"availabilities":   "availabilities",
}

// Client fetches complete feeds from the vendor API.
type Client struct {
	baseURL         string
	subscriptionKey string
	httpClient      *http.Client
}

func NewClient(baseURL, subscriptionKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:         baseURL,
		subscriptionKey: subscriptionKey,
		httpClient:      &http.Client{Timeout: timeout},
	}
}

// FetchAll pages through one feed until the API reports no more
// results, returning every record.
func (c *Client) FetchAll(ctx context.Context, feed string) ([]map[string]any, error) {
	envelope, ok := envelopeKeys[feed]
	if !ok {
		return nil, fmt.Errorf("unknown feed %q", feed)
	}

	var all []map[string]any
	for page := 0; ; page++ {
		records, hasMore, err := c.fetchPage(ctx, feed, envelope, page)
		if err != nil {
			return nil, fmt.Errorf("fetch %s page %d: %w", feed, page, err)
		}
		all = append(all, records...)
		if !hasMore {
			return all, nil
		}
	}
}

func (c *Client) fetchPage(ctx context.Context, feed, envelope string, page int) ([]map[string]any, bool, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, false, fmt.Errorf("parse base url: %w", err)
	}
	u = u.JoinPath(feed)
	q := u.Query()
	q.Set("resultPage", fmt.Sprintf("%d", page))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, false, err
	}
	if c.subscriptionKey != "" {
		req.Header.Set(subscriptionKeyHeader, c.subscriptionKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, false, fmt.Errorf("decode response: %w", err)
	}

	recordsRaw, ok := body[envelope]
	if !ok {
		return nil, false, fmt.Errorf("response has no %q array", envelope)
	}
	var records []map[string]any
	if err := json.Unmarshal(recordsRaw, &records); err != nil {
		return nil, false, fmt.Errorf("decode %q array: %w", envelope, err)
	}

	hasMore := false
	if moreRaw, ok := body["hasMoreResults"]; ok {
		if err := json.Unmarshal(moreRaw, &hasMore); err != nil {
			return nil, false, fmt.Errorf("decode hasMoreResults: %w", err)
		}
	}
	return records, hasMore, nil
}
