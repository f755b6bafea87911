package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// httpClient is the request/reply HTTP connection. The rendered payload
// body is the full request URL; extra fields refine the request:
//
//	method   HTTP method, default GET
//	headers  map of header name to value
//	params   map of query parameter to value, merged into the URL
//	body     request body string (POST/PUT payloads)
//
// The connection itself is stateless. Open and Close only flip the
// usable flag; each Send is an independent request on a pooled client.
// Responses with status 200-399 succeed and their body is the reply;
// anything else is ErrBadStatus.
type httpClient struct {
	deviceName string
	client     *http.Client
	logger     Logger

	mu   sync.RWMutex
	open bool
}

func newHTTPClient(opts Options) (*httpClient, error) {
	return &httpClient{
		deviceName: opts.DeviceName,
		client: &http.Client{
			Timeout: opts.Config.ExchangeTimeout(),
		},
		logger: opts.Logger,
	}, nil
}

func (c *httpClient) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	return nil
}

func (c *httpClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.client.CloseIdleConnections()
	return nil
}

func (c *httpClient) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

func (c *httpClient) Send(ctx context.Context, p Payload) ([]byte, error) {
	if !c.Connected() {
		return nil, ErrNotConnected
	}

	rawURL := strings.TrimSpace(p.Body)
	if rawURL == "" {
		return nil, fmt.Errorf("%w: empty request URL", ErrSendFailed)
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "http://" + rawURL
	}

	method := http.MethodGet
	if m, ok := p.Field("method"); ok {
		method = strings.ToUpper(m)
	}

	var body io.Reader
	if b, ok := p.Field("body"); ok && b != "" {
		body = strings.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	if headers, ok := p.Fields["headers"].(map[string]any); ok {
		for name, value := range headers {
			req.Header.Set(name, fieldString(value))
		}
	}
	if params, ok := p.Fields["params"].(map[string]any); ok && len(params) > 0 {
		q := req.URL.Query()
		for name, value := range params {
			q.Set(name, fieldString(value))
		}
		req.URL.RawQuery = q.Encode()
	}

	logDebug(c.logger, "http request",
		"device", c.deviceName,
		"method", method,
		"url", req.URL.Redacted(),
	)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrSendFailed, err)
	}
	// Drain any remainder to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: HTTP %d from %s", ErrBadStatus, resp.StatusCode, hostOf(req.URL))
	}

	return reply, nil
}

// maxReplySize caps HTTP response bodies. Device replies are status
// strings or small JSON documents; anything larger is misconfiguration.
const maxReplySize = 1 << 20

func hostOf(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Host
}

// fieldString renders a field value for headers and query parameters.
func fieldString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
