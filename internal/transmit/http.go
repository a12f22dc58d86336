package transmit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout bounds a single delivery attempt.
const DefaultHTTPTimeout = 10 * time.Second

// HTTPOptions configure an HTTPSender.
type HTTPOptions struct {
	// URL is the full ingestion endpoint, e.g. http://host:5000/sensors/add.
	URL string
	// APIKey is sent as the X-API-Key header when non-empty.
	APIKey string
	// Timeout bounds one attempt, DefaultHTTPTimeout when zero.
	Timeout time.Duration
}

// HTTPSender posts readings to the ingestion backend as a form, the same
// shape the rest of the sensor fleet uses.
type HTTPSender struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPSender creates a sender for the given endpoint.
func NewHTTPSender(opts HTTPOptions) *HTTPSender {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTPSender{
		url:    opts.URL,
		apiKey: opts.APIKey,
		client: &http.Client{Timeout: timeout},
	}
}

// Send posts the reading. Exactly one attempt; any non-2xx status is a
// delivery failure.
func (s *HTTPSender) Send(ctx context.Context, r Reading) error {
	form := url.Values{}
	form.Set("sensor_type", r.Category)
	form.Set("value", strconv.FormatFloat(r.Value, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post reading: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend returned %s", resp.Status)
	}
	return nil
}

// Close drops idle connections.
func (s *HTTPSender) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
