// Package wikibase fetches entity documents from the MediaWiki Action API of
// Wikidata (items, properties, lexemes, forms, senses, entity schemas) and
// Wikimedia Commons (mediainfo).
package wikibase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/heartmarshall/wdfetch/internal/adapter/httpclient"
	"github.com/heartmarshall/wdfetch/internal/domain"
)

const (
	DefaultWikidataURL = "https://www.wikidata.org/w/api.php"
	DefaultCommonsURL  = "https://commons.wikimedia.org/w/api.php"

	entitySchemaNamespace = "EntitySchema:"
)

// ErrMalformedPayload is returned when a 2xx response body is not valid JSON.
var ErrMalformedPayload = errors.New("wikibase: malformed payload")

// APIError is a MediaWiki error object delivered with a 2xx status.
type APIError struct {
	Code string
	Info string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wikibase api error %s: %s", e.Code, e.Info)
}

// Executor issues GET requests with retry; *httpclient.Client satisfies it.
type Executor interface {
	Get(ctx context.Context, rawURL string, params httpclient.Params) (*httpclient.Response, error)
}

// Options configure a Fetcher. Zero values fall back to DefaultOptions.
type Options struct {
	BatchThreshold int
	WikidataURL    string
	CommonsURL     string
	Languages      string
	Props          []string
	SchemaProps    []string
}

// DefaultOptions returns the Wikidata defaults.
func DefaultOptions() Options {
	return Options{
		BatchThreshold: 50,
		WikidataURL:    DefaultWikidataURL,
		CommonsURL:     DefaultCommonsURL,
		Languages:      "en",
		Props:          []string{"aliases", "claims", "datatype", "descriptions", "info", "labels", "sitelinks/urls"},
		SchemaProps:    []string{"info", "revisions"},
	}
}

func (o *Options) defaults() {
	d := DefaultOptions()
	if o.BatchThreshold <= 0 {
		o.BatchThreshold = d.BatchThreshold
	}
	if o.WikidataURL == "" {
		o.WikidataURL = d.WikidataURL
	}
	if o.CommonsURL == "" {
		o.CommonsURL = d.CommonsURL
	}
	if o.Languages == "" {
		o.Languages = d.Languages
	}
	if len(o.Props) == 0 {
		o.Props = d.Props
	}
	if len(o.SchemaProps) == 0 {
		o.SchemaProps = d.SchemaProps
	}
}

// Fetcher loads entity documents in chunks and merges the chunk responses.
type Fetcher struct {
	exec Executor
	opts Options
	log  *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(logger *slog.Logger, exec Executor, opts Options) *Fetcher {
	opts.defaults()
	return &Fetcher{
		exec: exec,
		opts: opts,
		log:  logger.With("adapter", "wikibase"),
	}
}

// BatchThreshold is the maximum number of ids per request.
func (f *Fetcher) BatchThreshold() int { return f.opts.BatchThreshold }

// FetchJSON fetches every id of the given kind and returns one merged
// document of the form {"entities": {id: entity, ...}, ...}. Ids that are not
// of the requested kind are skipped. Entity schemas are reshaped into the same
// layout, keyed by schema id.
func (f *Fetcher) FetchJSON(ctx context.Context, ids []string, kind domain.EntityKind) (map[string]any, error) {
	if !kind.IsConcrete() {
		return nil, fmt.Errorf("wikibase.FetchJSON: %w",
			domain.NewValidationError("kind", fmt.Sprintf("cannot fetch kind %s", kind)))
	}

	batch := f.filter(ids, kind)
	combined := make(map[string]any)
	if len(batch) == 0 {
		return combined, nil
	}

	endpoint := f.opts.WikidataURL
	if kind == domain.KindMediainfo {
		endpoint = f.opts.CommonsURL
	}

	start := time.Now()
	chunks := 0
	for chunk := range slices.Chunk(batch, f.opts.BatchThreshold) {
		chunks++
		doc, err := f.fetchChunk(ctx, endpoint, chunk, kind)
		if err != nil {
			return nil, fmt.Errorf("wikibase.FetchJSON: %w", err)
		}
		if doc == nil {
			continue
		}
		combined = mergePatch(combined, doc)
	}

	f.log.DebugContext(ctx, "wikibase fetch complete",
		slog.String("kind", kind.String()),
		slog.Int("ids", len(batch)),
		slog.Int("chunks", chunks),
		slog.Duration("took", time.Since(start)),
	)
	return combined, nil
}

// filter keeps ids of the requested kind, deduplicated and sorted so chunk
// boundaries are deterministic.
func (f *Fetcher) filter(ids []string, kind domain.EntityKind) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if domain.Identify(id) != kind {
			f.log.Debug("skipping id of another kind",
				slog.String("id", id),
				slog.String("kind", kind.String()),
			)
			continue
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (f *Fetcher) baseParams() httpclient.Params {
	return httpclient.Params{
		{Key: "languages", Value: f.opts.Languages},
		{Key: "languagefallback", Value: "1"},
		{Key: "format", Value: "json"},
		{Key: "formatversion", Value: "2"},
		{Key: "rvslots", Value: "main"},
		{Key: "rvprop", Value: "content"},
		{Key: "normalize", Value: "1"},
	}
}

func (f *Fetcher) chunkParams(chunk []string, kind domain.EntityKind) httpclient.Params {
	params := f.baseParams()
	if kind == domain.KindEntitySchema {
		titles := make([]string, len(chunk))
		for i, id := range chunk {
			titles[i] = entitySchemaNamespace + id
		}
		return append(params,
			httpclient.Param{Key: "action", Value: "query"},
			httpclient.Param{Key: "titles", Value: strings.Join(titles, "|")},
			httpclient.Param{Key: "prop", Value: strings.Join(f.opts.SchemaProps, "|")},
		)
	}
	return append(params,
		httpclient.Param{Key: "action", Value: "wbgetentities"},
		httpclient.Param{Key: "ids", Value: strings.Join(chunk, "|")},
		httpclient.Param{Key: "props", Value: strings.Join(f.opts.Props, "|")},
	)
}

// fetchChunk returns the decoded object for one chunk, or nil when the body
// is valid JSON but not an object.
func (f *Fetcher) fetchChunk(ctx context.Context, endpoint string, chunk []string, kind domain.EntityKind) (map[string]any, error) {
	f.log.DebugContext(ctx, "wikibase request",
		slog.String("kind", kind.String()),
		slog.Int("ids", len(chunk)),
	)

	resp, err := f.exec.Get(ctx, endpoint, f.chunkParams(chunk, kind))
	if err != nil {
		f.log.ErrorContext(ctx, "wikibase request failed",
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	var data any
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	obj, ok := data.(map[string]any)
	if !ok {
		return nil, nil
	}
	if apiErr, ok := obj["error"].(map[string]any); ok {
		code, _ := apiErr["code"].(string)
		info, _ := apiErr["info"].(string)
		return nil, &APIError{Code: code, Info: info}
	}
	if kind == domain.KindEntitySchema {
		return reshapeSchemas(obj), nil
	}
	return obj, nil
}

// reshapeSchemas turns an action=query page list into {"entities": {E1: page}}
// so chunk results merge by id like wbgetentities results do.
func reshapeSchemas(obj map[string]any) map[string]any {
	entities := make(map[string]any)
	query, _ := obj["query"].(map[string]any)
	pages, _ := query["pages"].([]any)
	for _, p := range pages {
		page, ok := p.(map[string]any)
		if !ok {
			continue
		}
		title, _ := page["title"].(string)
		id := strings.TrimPrefix(title, entitySchemaNamespace)
		if id == "" || id == title {
			continue
		}
		entities[id] = page
	}
	return map[string]any{"entities": entities}
}
