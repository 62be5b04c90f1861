package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-integration-broker/core"
)

const (
	defaultClientTimeout           = 30 * time.Second
	defaultResponseBodyLimit int64 = 1 << 20
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
	Timeout time.Duration
}

type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client performs outbound JSON calls with a per-request timeout and a cap on
// the response body it reads.
type Client struct {
	Doer                 HTTPDoer
	DefaultHeaders       http.Header
	MaxResponseBodyBytes int64
	UserAgent            string
}

func NewClient(doer HTTPDoer) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: defaultClientTimeout}
	}
	return &Client{
		Doer:                 doer,
		DefaultHeaders:       http.Header{},
		MaxResponseBodyBytes: defaultResponseBodyLimit,
		UserAgent:            "go-integration-broker",
	}
}

// PostJSON marshals payload and posts it to target.
func (c *Client) PostJSON(ctx context.Context, target string, headers http.Header, payload any, timeout time.Duration) (Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, transportWrapError(err, core.ErrorInternal, "transport: encode request body", nil)
	}
	if headers == nil {
		headers = http.Header{}
	}
	headers = headers.Clone()
	headers.Set("Content-Type", "application/json; charset=utf-8")
	return c.Do(ctx, Request{
		Method:  http.MethodPost,
		URL:     target,
		Headers: headers,
		Body:    body,
		Timeout: timeout,
	})
}

// Do executes req. A non-2xx answer is returned as a Response, not an error;
// errors mean the peer could not be reached or its answer could not be read.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	if c == nil || c.Doer == nil {
		return Response{}, transportError("transport: client requires an http doer", core.ErrorInternal, nil)
	}
	method := strings.TrimSpace(strings.ToUpper(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	parsedURL, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return Response{}, transportError(
			"transport: request url must be absolute",
			core.ErrorBadInput,
			map[string]any{"url": strings.TrimSpace(req.URL)},
		)
	}

	requestCtx := ctx
	cancel := func() {}
	if req.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, method, parsedURL.String(), bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, transportWrapError(err, core.ErrorBadInput, "transport: create http request", nil)
	}
	for key, values := range c.DefaultHeaders {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	for key, values := range req.Headers {
		httpReq.Header.Del(key)
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if c.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.UserAgent)
	}

	startedAt := time.Now()
	httpRes, err := c.Doer.Do(httpReq)
	if err != nil {
		return Response{}, transportWrapError(
			err,
			core.ErrorDownstreamUnavailable,
			"transport: execute http request",
			map[string]any{"method": method, "host": parsedURL.Host},
		)
	}
	defer httpRes.Body.Close()

	limit := c.MaxResponseBodyBytes
	if limit <= 0 {
		limit = defaultResponseBodyLimit
	}
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		return Response{}, transportWrapError(
			err,
			core.ErrorDownstreamUnavailable,
			"transport: read response body",
			map[string]any{"status_code": httpRes.StatusCode},
		)
	}
	if int64(len(body)) > limit {
		body = body[:limit]
	}
	return Response{
		StatusCode: httpRes.StatusCode,
		Headers:    httpRes.Header,
		Body:       body,
		Duration:   time.Since(startedAt),
	}, nil
}

// Snippet returns a short printable prefix of a response body for error
// messages.
func Snippet(body []byte) string {
	const limit = 256
	text := strings.TrimSpace(string(body))
	if len(text) > limit {
		return fmt.Sprintf("%s...", text[:limit])
	}
	return text
}
