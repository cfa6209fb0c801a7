package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"page-capture/internal/retry"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/xerrors"
)

// Error is a non-200 answer from the capture service.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("capture service responded %d", e.StatusCode)
	}
	return fmt.Sprintf("capture service responded %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether resubmitting the same request may succeed.
func (e *Error) Temporary() bool {
	return e.StatusCode >= 500
}

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

type Option func(*options)

type options struct {
	timeout   time.Duration
	strategy  retry.Strategy
	retryOn   *retry.On
	base      http.RoundTripper
	userAgent string
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func WithRetry(strategy retry.Strategy, on *retry.On) Option {
	return func(o *options) {
		o.strategy = strategy
		o.retryOn = on
	}
}

func WithTransport(base http.RoundTripper) Option {
	return func(o *options) { o.base = base }
}

func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, xerrors.Errorf("failed to parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, xerrors.Errorf("unsupported base URL scheme: %q", u.Scheme)
	}

	o := &options{
		timeout:   2 * time.Minute,
		strategy:  retry.NewExponentialBackOff(500*time.Millisecond, 10*time.Second, 3),
		retryOn:   retry.NewDefaultRetryOn(),
		base:      http.DefaultTransport,
		userAgent: "page-capture-client",
	}
	for _, opt := range opts {
		opt(o)
	}

	return &Client{
		baseURL: u,
		httpClient: &http.Client{
			Timeout: o.timeout,
			Transport: &userAgentTransport{
				userAgent: o.userAgent,
				base: otelhttp.NewTransport(&retry.Transport{
					Base:              o.base,
					RetryStrategy:     o.strategy,
					RetryOn:           o.retryOn,
					RespectRetryAfter: true,
					MaxRetryAfter:     30 * time.Second,
				}),
			},
		},
	}, nil
}

// Capture asks the service to render target and returns the PNG bytes.
func (c *Client) Capture(ctx context.Context, target string) ([]byte, error) {
	endpoint := c.baseURL.JoinPath("capture")
	endpoint.RawQuery = url.Values{"url": []string{target}}.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, xerrors.Errorf("failed to create request: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, xerrors.Errorf("failed to request capture: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, decodeError(response)
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, xerrors.Errorf("failed to read capture: %w", err)
	}
	if !strings.HasPrefix(response.Header.Get("Content-Type"), "image/") {
		return nil, xerrors.Errorf("unexpected content type %q", response.Header.Get("Content-Type"))
	}
	return body, nil
}

func decodeError(response *http.Response) error {
	e := &Error{StatusCode: response.StatusCode}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(response.Body, 1<<16)).Decode(&body); err == nil {
		e.Message = body.Error
	}
	return e
}

type userAgentTransport struct {
	userAgent string
	base      http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(request *http.Request) (*http.Response, error) {
	if t.userAgent == "" || request.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(request)
	}
	r := request.Clone(request.Context())
	r.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(r)
}
