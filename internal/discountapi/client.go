// Package discountapi is the HTTP client of the remote discount-check
// endpoint.
package discountapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/minmin-cart/internal/domain/discount"
)

const checkPath = "/order/check-discount/"

// maxResponseSize caps the response body read from the service.
const maxResponseSize = 1 << 20

// StatusError is returned when the service responds with a non-2xx status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("discount check: status %d", e.StatusCode)
	}
	return fmt.Sprintf("discount check: status %d: %s", e.StatusCode, e.Message)
}

// Options configures a Client.
type Options struct {
	// Token is sent as a bearer token when set.
	Token   string
	Timeout time.Duration
	// Transport defaults to http.DefaultTransport.
	Transport      http.RoundTripper
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

var _ discount.Checker = (*Client)(nil)

// Client calls the discount-check endpoint.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// NewClient returns a Client for the service at baseURL.
func NewClient(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("invalid base url %q", baseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}

	var otelOpts []otelhttp.Option
	if opts.MeterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(opts.MeterProvider))
	}
	if opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(opts.TracerProvider))
	}

	return &Client{
		endpoint: strings.TrimRight(u.String(), "/") + checkPath,
		token:    opts.Token,
		http: &http.Client{
			Transport: otelhttp.NewTransport(opts.Transport, otelOpts...),
			Timeout:   opts.Timeout,
		},
	}, nil
}

// Check posts the request and decodes the result. The call is made once;
// transport errors and non-2xx statuses are returned as errors.
func (c *Client) Check(ctx context.Context, req discount.CheckRequest) (*discount.Result, error) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeRequest(e, req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(e.Bytes()))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	res, err := decodeResult(jx.DecodeBytes(body))
	if err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	return res, nil
}
