package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/okian/pulse/internal/domain/model"
)

// HTTPChannel posts envelopes as JSON to the backend ingest endpoint.
type HTTPChannel struct {
	url    string
	client *http.Client
}

// NewHTTPChannel builds a channel over a transport with HTTP/2 enabled for TLS endpoints.
func NewHTTPChannel(url string, timeout time.Duration) (*HTTPChannel, error) {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConnsPerHost = 2
	if err := http2.ConfigureTransport(t); err != nil {
		return nil, fmt.Errorf("configure http2 transport: %w", err)
	}
	return &HTTPChannel{url: url, client: &http.Client{Transport: t, Timeout: timeout}}, nil
}

// Deliver implements Channel.
func (c *HTTPChannel) Deliver(ctx context.Context, env model.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post envelope: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return nil
}
