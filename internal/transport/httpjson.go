package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

const maxResponseBody = 1 << 20

// NewHTTPClient returns a pooled client; per-request deadlines come from the
// context.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     60 * time.Second,
		},
	}
}

// PostJSON posts v and returns the response body (at most 1 MiB). Non-2xx
// responses are classified with FromHTTPStatus; network failures stay
// unclassified and therefore transient.
func PostJSON(ctx context.Context, client *http.Client, url string, header http.Header, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, NewMalformed(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewMalformed(err)
	}
	for k, vs := range header {
		for _, hv := range vs {
			req.Header.Add(k, hv)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return out, FromHTTPStatus(resp.StatusCode, resp.Header.Get("Retry-After"), string(out))
	}
	return out, nil
}
