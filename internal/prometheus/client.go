/*
Copyright 2026 Volume Autoscaler Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package prometheus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Client queries a Prometheus HTTP API for instant metrics.
type Client struct {
	baseURL    string
	queryPath  string
	httpClient *http.Client
}

// NewClient creates a Prometheus client with a 10s timeout, querying
// baseURL + "/api/v1/query" the way a self-hosted Prometheus or
// Prometheus-compatible endpoint expects.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:   baseURL,
		queryPath: "/api/v1/query",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// gmpScopes are the OAuth2 scopes Google Managed Prometheus's query API
// requires from the caller's Application Default Credentials.
var gmpScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/monitoring",
	"https://www.googleapis.com/auth/monitoring.read",
}

// NewGMPClient builds a Client that queries Google Managed Prometheus's
// Prometheus-compatible query API for projectID, authenticating every
// request with a Bearer token from Application Default Credentials (the
// same Workload Identity flow the GKE metadata service backs). The
// project's base URL already contains "/api/v1", so only "/query" is
// appended per request.
func NewGMPClient(ctx context.Context, projectID string, timeout time.Duration) (*Client, error) {
	tokenSource, err := google.DefaultTokenSource(ctx, gmpScopes...)
	if err != nil {
		return nil, fmt.Errorf("obtaining application default credentials: %w", err)
	}
	return &Client{
		baseURL:   fmt.Sprintf("https://monitoring.googleapis.com/v1/projects/%s/location/global/prometheus/api/v1", projectID),
		queryPath: "/query",
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &oauth2Transport{source: tokenSource},
		},
	}, nil
}

// oauth2Transport injects a Bearer token from source into every request,
// refreshing it as needed; it avoids pulling in golang.org/x/oauth2's
// higher-level http.Client wrapper just for this one header.
type oauth2Transport struct {
	source oauth2.TokenSource
	base   http.RoundTripper
}

func (t *oauth2Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.source.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing GMP access token: %w", err)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	cloned := req.Clone(req.Context())
	token.SetAuthHeader(cloned)
	return base.RoundTrip(cloned)
}

// SetTimeout overrides the client's request timeout, letting callers honor
// an operator-configured HTTP_TIMEOUT rather than the 10s default.
func (c *Client) SetTimeout(d time.Duration) {
	c.httpClient.Timeout = d
}

// promResponse is the top-level Prometheus API response.
type promResponse struct {
	Status string   `json:"status"`
	Error  string   `json:"error"`
	Data   promData `json:"data"`
}

// promData contains the result type and results.
type promData struct {
	ResultType string       `json:"resultType"`
	Result     []promResult `json:"result"`
}

// promResult is a single result from a Prometheus vector query.
type promResult struct {
	Metric map[string]string  `json:"metric"`
	Value  [2]json.RawMessage `json:"value"`
}

// Row is one label set plus scalar value from an instant query, with the
// full label set preserved rather than collapsed to a single key.
type Row struct {
	Labels map[string]string
	Value  float64
}

// QueryRows executes a PromQL instant query and returns every result row
// with its full label set intact, for callers that need to key on more
// than one label (e.g. both namespace and persistentvolumeclaim).
func (c *Client) QueryRows(ctx context.Context, promql string) ([]Row, error) {
	results, err := c.queryRaw(ctx, promql)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(results))
	for _, r := range results {
		val, err := parseValue(r.Value[1])
		if err != nil {
			return nil, fmt.Errorf("failed to parse value: %w", err)
		}
		rows = append(rows, Row{Labels: r.Metric, Value: val})
	}
	return rows, nil
}

func (c *Client) queryRaw(ctx context.Context, promql string) ([]promResult, error) {
	u, err := url.Parse(c.baseURL + c.queryPath)
	if err != nil {
		return nil, fmt.Errorf("invalid prometheus URL: %w", err)
	}
	q := u.Query()
	q.Set("query", promql)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying prometheus: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prometheus returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var promResp promResponse
	if err := json.Unmarshal(body, &promResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if promResp.Status != "success" {
		return nil, fmt.Errorf("prometheus query failed: %s", promResp.Error)
	}

	return promResp.Data.Result, nil
}

func parseValue(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("value is not a string: %w", err)
	}
	return strconv.ParseFloat(s, 64)
}
