// Package httpclient is a retrying HTTP executor with exponential backoff,
// full jitter, Retry-After support and per-attempt network metrics.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// NoRetries disables retrying when set as Options.MaxRetries.
const NoRetries = -1

// Options configure a Client. Zero values fall back to the defaults below.
type Options struct {
	Timeout        time.Duration // total per-attempt timeout
	ConnectTimeout time.Duration
	MaxRetries     int // retries after the first try; NoRetries for none
	RetryBase      time.Duration
	RetryMax       time.Duration
	UserAgent      string
	Accept         string
}

// DefaultOptions returns the options used for zero fields.
func DefaultOptions() Options {
	return Options{
		Timeout:        10 * time.Second,
		ConnectTimeout: 3 * time.Second,
		MaxRetries:     3,
		RetryBase:      200 * time.Millisecond,
		RetryMax:       3 * time.Second,
		UserAgent:      "wdfetch/0.1 (https://github.com/heartmarshall/wdfetch)",
		Accept:         "application/json",
	}
}

func (o *Options) defaults() {
	d := DefaultOptions()
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	switch {
	case o.MaxRetries == 0:
		o.MaxRetries = d.MaxRetries
	case o.MaxRetries < 0:
		o.MaxRetries = 0
	}
	if o.RetryBase <= 0 {
		o.RetryBase = d.RetryBase
	}
	if o.RetryMax <= 0 {
		o.RetryMax = d.RetryMax
	}
	if o.UserAgent == "" {
		o.UserAgent = d.UserAgent
	}
	if o.Accept == "" {
		o.Accept = d.Accept
	}
}

// Param is a single key=value pair; order is preserved on the wire.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered parameter list.
type Params []Param

// Has reports whether any parameter uses key.
func (p Params) Has(key string) bool {
	for _, kv := range p {
		if kv.Key == key {
			return true
		}
	}
	return false
}

// Get returns the first value for key, or "".
func (p Params) Get(key string) string {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value
		}
	}
	return ""
}

// Encode URL-encodes the parameters in their given order.
func (p Params) Encode() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.Value))
	}
	return b.String()
}

// Call describes one logical HTTP call. Form and Body are mutually exclusive;
// Form wins when both are set.
type Call struct {
	Method      string
	URL         string
	Query       Params
	Form        Params
	Body        []byte
	ContentType string
	Accept      string        // overrides Options.Accept when set
	Timeout     time.Duration // overrides Options.Timeout when > 0
}

// Response is the outcome of the final attempt.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Doer is the transport capability the client needs; *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Rand supplies jitter. *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	Int64N(n int64) int64
}

// Option customizes a Client.
type Option func(*Client)

// WithMetrics makes the client report into a shared metrics aggregator.
func WithMetrics(m *NetworkMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithRand injects the jitter source.
func WithRand(r Rand) Option {
	return func(c *Client) { c.rnd = r }
}

// WithSleep replaces the backoff sleeper (tests use a recorder).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithDoer replaces the transport handle.
func WithDoer(d Doer) Option {
	return func(c *Client) { c.doer = d }
}

// WithClock replaces time.Now (used for Retry-After dates and durations).
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client executes calls with retry. The underlying transport handle is not
// shared between goroutines: calls on one Client run strictly one at a time,
// in submission order.
type Client struct {
	mu      sync.Mutex
	opts    Options
	doer    Doer
	metrics *NetworkMetrics
	rnd     Rand
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	log     *slog.Logger
}

// sharedTransport is created once per process; every Client reuses it.
var sharedTransport = sync.OnceValue(func() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{
		Timeout:   DefaultOptions().ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	return t
})

// New creates a Client.
func New(log *slog.Logger, opts Options, options ...Option) *Client {
	opts.defaults()
	c := &Client{
		opts:    opts,
		metrics: NewNetworkMetrics(),
		rnd:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		sleep:   sleepCtx,
		now:     time.Now,
		log:     log.With("adapter", "httpclient"),
	}
	for _, o := range options {
		o(c)
	}
	if c.doer == nil {
		t := sharedTransport()
		if opts.ConnectTimeout != DefaultOptions().ConnectTimeout {
			t = t.Clone()
			t.DialContext = (&net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
		}
		c.doer = &http.Client{Transport: t}
	}
	return c
}

// Metrics returns the aggregator this client reports into.
func (c *Client) Metrics() *NetworkMetrics { return c.metrics }

// Options returns the effective options.
func (c *Client) Options() Options { return c.opts }

// Get issues a GET with query parameters.
func (c *Client) Get(ctx context.Context, rawURL string, params Params) (*Response, error) {
	return c.Do(ctx, Call{Method: http.MethodGet, URL: rawURL, Query: params})
}

// PostForm issues a form-encoded POST.
func (c *Client) PostForm(ctx context.Context, rawURL string, query, form Params) (*Response, error) {
	return c.Do(ctx, Call{
		Method:      http.MethodPost,
		URL:         rawURL,
		Query:       query,
		Form:        form,
		ContentType: "application/x-www-form-urlencoded",
	})
}

// PostRaw issues a POST with a verbatim body.
func (c *Client) PostRaw(ctx context.Context, rawURL string, query Params, contentType string, body []byte) (*Response, error) {
	return c.Do(ctx, Call{
		Method:      http.MethodPost,
		URL:         rawURL,
		Query:       query,
		Body:        body,
		ContentType: contentType,
	})
}

// Do executes call, retrying on transport errors and on 408, 429 and 5xx
// up to Options.MaxRetries times. A 2xx response is returned as is; anything
// else ends in *TransportError or *StatusError.
func (c *Client) Do(ctx context.Context, call Call) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if call.Method == "" {
		call.Method = http.MethodGet
	}
	target, err := buildURL(call.URL, call.Query)
	if err != nil {
		return nil, fmt.Errorf("httpclient: %w", err)
	}

	for attempt := 1; ; attempt++ {
		resp, elapsed, tErr := c.attempt(ctx, call, target)
		status, bodyLen := 0, 0
		if resp != nil {
			status, bodyLen = resp.StatusCode, len(resp.Body)
		}
		c.metrics.observe(status, elapsed, bodyLen)

		if tErr == nil && goodStatus(status) {
			return resp, nil
		}

		if attempt <= c.opts.MaxRetries && shouldRetry(status, tErr) && ctx.Err() == nil {
			delay := c.NextDelay(attempt)
			if resp != nil {
				if hint, ok := retryAfter(resp.Header, c.now()); ok && hint > delay {
					delay = hint
				}
			}
			c.metrics.observeRetry(delay)
			c.log.WarnContext(ctx, "retrying request",
				slog.String("method", call.Method),
				slog.String("url", call.URL),
				slog.Int("attempt", attempt),
				slog.Int("status", status),
				slog.Duration("delay", delay),
				slog.Any("error", tErr),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, &TransportError{Method: call.Method, URL: call.URL, Attempts: attempt, Err: err}
			}
			continue
		}

		if tErr != nil {
			return nil, &TransportError{Method: call.Method, URL: call.URL, Attempts: attempt, Err: tErr}
		}
		return nil, &StatusError{
			Method:     call.Method,
			URL:        call.URL,
			Attempts:   attempt,
			StatusCode: status,
			Body:       truncateBody(resp.Body),
		}
	}
}

// attempt performs a single round trip. resp is non-nil whenever a status
// line was received, even if reading the body failed afterwards.
func (c *Client) attempt(ctx context.Context, call Call, target string) (*Response, time.Duration, error) {
	timeout := c.opts.Timeout
	if call.Timeout > 0 {
		timeout = call.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	contentType := call.ContentType
	switch {
	case len(call.Form) > 0:
		body = strings.NewReader(call.Form.Encode())
		if contentType == "" {
			contentType = "application/x-www-form-urlencoded"
		}
	case call.Body != nil:
		body = bytes.NewReader(call.Body)
	}

	req, err := http.NewRequestWithContext(ctx, call.Method, target, body)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	accept := c.opts.Accept
	if call.Accept != "" {
		accept = call.Accept
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.opts.UserAgent)
	if contentType != "" && body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	start := c.now()
	httpResp, err := c.doer.Do(req)
	if err != nil {
		return nil, c.now().Sub(start), err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	elapsed := c.now().Sub(start)
	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}
	if err != nil {
		return resp, elapsed, fmt.Errorf("read body: %w", err)
	}
	return resp, elapsed, nil
}

func buildURL(rawURL string, params Params) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if len(params) == 0 {
		return u.String(), nil
	}
	if u.RawQuery != "" {
		u.RawQuery += "&" + params.Encode()
	} else {
		u.RawQuery = params.Encode()
	}
	return u.String(), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
