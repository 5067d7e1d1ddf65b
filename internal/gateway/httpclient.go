package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"aquabill/internal/domain"
	"aquabill/internal/metrics"
)

// DefaultTimeout bounds every outbound provider call.
const DefaultTimeout = 30 * time.Second

const maxResponseBytes = 1 << 20

// HTTPClient performs provider calls with a bounded timeout and classifies
// failures into TransientError and StatusError.
type HTTPClient struct {
	provider domain.ProviderID
	baseURL  string
	client   *http.Client
	header   http.Header
}

// NewHTTPClient creates a client for a provider API rooted at baseURL.
func NewHTTPClient(provider domain.ProviderID, baseURL string, timeout time.Duration, header http.Header) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if header == nil {
		header = http.Header{}
	}
	return &HTTPClient{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		header:   header,
	}
}

// GetJSON issues a GET with query parameters and returns the raw body.
func (c *HTTPClient) GetJSON(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}

	return c.do(op, req)
}

// PostJSON sends body as JSON and returns the raw response body.
func (c *HTTPClient) PostJSON(ctx context.Context, op, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(op, req)
}

// PostForm sends form-encoded values and returns the raw response body.
func (c *HTTPClient) PostForm(ctx context.Context, op, path string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(op, req)
}

func (c *HTTPClient) do(op string, req *http.Request) (body []byte, err error) {
	for k, v := range c.header {
		for _, val := range v {
			req.Header.Add(k, val)
		}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	defer func() {
		metrics.ObserveGatewayRequest(string(c.provider), op, time.Since(start), err)
	}()

	res, err := c.client.Do(req)
	if err != nil {
		// Timeouts, cancelled contexts and connection failures all land here.
		return nil, &TransientError{Provider: c.provider, Op: op, Err: err}
	}
	defer res.Body.Close()

	body, err = io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransientError{Provider: c.provider, Op: op, Err: errors.Wrap(err, "read body")}
	}

	switch {
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return nil, &TransientError{
			Provider: c.provider,
			Op:       op,
			Err:      errors.Errorf("status %d", res.StatusCode),
		}
	case res.StatusCode >= 400:
		return nil, &StatusError{
			Provider:   c.provider,
			Op:         op,
			StatusCode: res.StatusCode,
			Body:       truncate(string(body), 256),
		}
	}

	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
