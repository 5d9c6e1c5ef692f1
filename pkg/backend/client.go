// Package backend is an HTTP client for the Earth Copilot chat backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/earthcopilot/mapview/internal/model"
	"github.com/earthcopilot/mapview/internal/resilience"
)

// Endpoint names, used for breaker registry keys and logs.
const (
	EndpointConfig             = "config"
	EndpointDatasets           = "datasets"
	EndpointQuery              = "query"
	EndpointAnalysis           = "geoint-analysis"
	EndpointComparisonQuery    = "process-comparison-query"
	EndpointSTACQuery          = "stac-query"
	EndpointComparisonAnalysis = "geoint-comparison"
	EndpointTileJSON           = "tilejson"
)

// Client defines the chat backend operations used by the map session.
type Client interface {
	// Config fetches the map provider configuration.
	Config(ctx context.Context) (*MapConfig, error)
	// Datasets fetches the dataset catalog.
	Datasets(ctx context.Context) ([]model.Dataset, error)
	// Query posts a chat query and returns the raw response body.
	Query(ctx context.Context, req QueryRequest) ([]byte, error)
	// TriggerGeointAnalysis runs a pin-driven analysis module. It honours
	// ctx cancellation and is never retried.
	TriggerGeointAnalysis(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error)
	// ProcessComparisonQuery turns free text into a comparison plan.
	ProcessComparisonQuery(ctx context.Context, query string) (*ComparisonPlan, error)
	// STACQuery searches the catalog and returns the raw response body.
	STACQuery(ctx context.Context, req STACQueryRequest) ([]byte, error)
	// ComparisonAnalysis asks for a before/after narrative.
	ComparisonAnalysis(ctx context.Context, req ComparisonAnalysisRequest) (*ComparisonAnalysisResult, error)
	// FetchTileJSON fetches a TileJSON document by absolute or backend-relative URL.
	FetchTileJSON(ctx context.Context, rawURL string) (*TileJSON, error)
}

// StatusError is returned for non-2xx backend responses.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return "backend: " + e.Endpoint + " returned " + http.StatusText(e.Code) + ": " + e.Body
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithPolicy sets the retry policy for idempotent calls.
func WithPolicy(p resilience.Policy) Option {
	return func(c *httpClient) {
		c.policy = p
	}
}

// WithBreakers sets the per-endpoint circuit breakers.
func WithBreakers(b *resilience.Breakers) Option {
	return func(c *httpClient) {
		c.breakers = b
	}
}

// WithTileJSONRateLimit limits TileJSON fetches to rps requests per second.
func WithTileJSONRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		if burst <= 0 {
			burst = 1
		}
		c.tileLimiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type httpClient struct {
	baseURL     string
	http        *http.Client
	policy      resilience.Policy
	breakers    *resilience.Breakers
	tileLimiter *rate.Limiter
}

// NewClient creates a backend client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 90 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		policy:      resilience.DefaultPolicy(),
		breakers:    resilience.NewBreakers(resilience.BreakerConfig{}),
		tileLimiter: rate.NewLimiter(20, 20),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Config(ctx context.Context) (*MapConfig, error) {
	var out MapConfig
	if err := c.call(ctx, EndpointConfig, http.MethodGet, "/api/config", nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) Datasets(ctx context.Context) ([]model.Dataset, error) {
	var raw json.RawMessage
	if err := c.call(ctx, EndpointDatasets, http.MethodGet, "/api/datasets", nil, true, &raw); err != nil {
		return nil, err
	}

	// Accept either a bare array or {"datasets": [...]}.
	list := gjson.ParseBytes(raw)
	if !list.IsArray() {
		list = list.Get("datasets")
	}
	var out []model.Dataset
	if !list.IsArray() {
		return out, nil
	}
	if err := json.Unmarshal([]byte(list.Raw), &out); err != nil {
		return nil, eris.Wrap(err, "backend: decode datasets")
	}
	return out, nil
}

func (c *httpClient) Query(ctx context.Context, req QueryRequest) ([]byte, error) {
	var raw json.RawMessage
	if err := c.call(ctx, EndpointQuery, http.MethodPost, "/api/query", req, false, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *httpClient) TriggerGeointAnalysis(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error) {
	if req.Module == "" {
		return nil, eris.New("backend: analysis module is required")
	}
	var out AnalysisResult
	path := "/api/geoint/" + url.PathEscape(req.Module)
	if err := c.call(ctx, EndpointAnalysis, http.MethodPost, path, req, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) ProcessComparisonQuery(ctx context.Context, query string) (*ComparisonPlan, error) {
	body := map[string]string{"query": query}
	var raw json.RawMessage
	if err := c.call(ctx, EndpointComparisonQuery, http.MethodPost, "/api/process-comparison-query", body, true, &raw); err != nil {
		return nil, err
	}

	// Some deployments nest the plan under "result".
	plan := gjson.GetBytes(raw, "result")
	if !plan.IsObject() {
		plan = gjson.ParseBytes(raw)
	}
	var out ComparisonPlan
	if err := json.Unmarshal([]byte(plan.Raw), &out); err != nil {
		return nil, eris.Wrap(err, "backend: decode comparison plan")
	}
	return &out, nil
}

func (c *httpClient) STACQuery(ctx context.Context, req STACQueryRequest) ([]byte, error) {
	var raw json.RawMessage
	if err := c.call(ctx, EndpointSTACQuery, http.MethodPost, "/api/stac-query", req, true, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *httpClient) ComparisonAnalysis(ctx context.Context, req ComparisonAnalysisRequest) (*ComparisonAnalysisResult, error) {
	var out ComparisonAnalysisResult
	if err := c.call(ctx, EndpointComparisonAnalysis, http.MethodPost, "/api/geoint/comparison", req, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) FetchTileJSON(ctx context.Context, rawURL string) (*TileJSON, error) {
	if err := c.tileLimiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "backend: tilejson rate limit")
	}
	var out TileJSON
	if err := c.call(ctx, EndpointTileJSON, http.MethodGet, rawURL, nil, true, &out); err != nil {
		return nil, err
	}
	if out.Template() == "" {
		return nil, eris.Errorf("backend: tilejson %s has no tiles", rawURL)
	}
	return &out, nil
}

// call performs one JSON request through the endpoint's breaker, retrying
// transient failures when idempotent is set.
func (c *httpClient) call(ctx context.Context, endpoint, method, path string, body any, idempotent bool, out any) error {
	policy := c.policy
	if !idempotent {
		policy.Attempts = 1
	}
	policy.OnRetry = resilience.LogRetries(endpoint)

	data, err := resilience.Call(ctx, c.breakers.Get(endpoint), func(ctx context.Context) ([]byte, error) {
		return resilience.Retry(ctx, policy, func(ctx context.Context) ([]byte, error) {
			return c.do(ctx, endpoint, method, path, body)
		})
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrapf(err, "backend: decode %s response", endpoint)
	}
	return nil
}

func (c *httpClient) do(ctx context.Context, endpoint, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, eris.Wrapf(err, "backend: encode %s request", endpoint)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), reader)
	if err != nil {
		return nil, eris.Wrapf(err, "backend: build %s request", endpoint)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "backend: %s request", endpoint)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, eris.Wrapf(err, "backend: read %s response", endpoint)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(data)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		statusErr := &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: snippet}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}
	return data, nil
}

// resolve joins backend-relative paths onto the base URL and leaves
// absolute URLs untouched.
func (c *httpClient) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}
