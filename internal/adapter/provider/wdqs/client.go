package wdqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/heartmarshall/wdfetch/internal/adapter/httpclient"
)

// ErrMalformedPayload is returned when a 2xx response is not a JSON object.
var ErrMalformedPayload = errors.New("wdqs: malformed payload")

// Executor sends one HTTP call with retry; *httpclient.Client satisfies it.
type Executor interface {
	Do(ctx context.Context, call httpclient.Call) (*httpclient.Response, error)
}

// Client runs SPARQL queries. Identical queries in flight at the same time
// share a single upstream request.
type Client struct {
	exec  Executor
	kind  ServiceKind
	opts  Options
	group singleflight.Group
	log   *slog.Logger
}

// NewClient creates a WDQS client.
func NewClient(logger *slog.Logger, exec Executor, opts Options) *Client {
	opts.defaults()
	return &Client{
		exec: exec,
		kind: ServiceWDQS,
		opts: opts,
		log:  logger.With("adapter", "wdqs"),
	}
}

// Preview shapes req without sending anything.
func (c *Client) Preview(req Request) (CallPreview, error) {
	return BuildPreview(c.kind, req, c.opts)
}

// Query executes req and returns the decoded SPARQL results document.
func (c *Client) Query(ctx context.Context, req Request) (map[string]any, error) {
	p, err := c.Preview(req)
	if err != nil {
		return nil, err
	}

	// The shared call outlives any single caller; each attempt is still
	// bounded by the call timeout.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(previewKey(p), func() (any, error) {
		return c.execute(shared, p)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("wdqs.Query: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.log.DebugContext(ctx, "wdqs query shared with in-flight request")
		}
		return res.Val.(map[string]any), nil
	}
}

func (c *Client) execute(ctx context.Context, p CallPreview) (map[string]any, error) {
	start := time.Now()
	c.log.DebugContext(ctx, "wdqs request",
		slog.String("method", p.Method),
		slog.Int("query_len", len(p.Body)+len(p.Param(queryParam))+len(p.FormParams.Get(queryParam))),
	)

	resp, err := c.exec.Do(ctx, p.Call())
	if err != nil {
		c.log.ErrorContext(ctx, "wdqs request failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("wdqs.Query: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(resp.Body, &out); err != nil || out == nil {
		return nil, fmt.Errorf("wdqs.Query: %w", errors.Join(ErrMalformedPayload, err))
	}

	c.log.DebugContext(ctx, "wdqs response",
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(resp.Body)),
		slog.Duration("took", time.Since(start)),
	)
	return out, nil
}

// previewKey identifies a call for request collapsing.
func previewKey(p CallPreview) string {
	var b strings.Builder
	b.WriteString(p.Method)
	b.WriteByte(' ')
	b.WriteString(p.URL)
	b.WriteByte('?')
	b.WriteString(p.QueryParams.Encode())
	b.WriteByte('\n')
	b.WriteString(p.Accept)
	b.WriteByte('\n')
	b.WriteString(p.ContentType)
	b.WriteByte('\n')
	b.WriteString(p.FormParams.Encode())
	b.WriteByte('\n')
	b.WriteString(p.Body)
	return b.String()
}
