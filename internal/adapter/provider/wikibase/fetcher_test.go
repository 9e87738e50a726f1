package wikibase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/heartmarshall/wdfetch/internal/adapter/httpclient"
	"github.com/heartmarshall/wdfetch/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExecutor() *httpclient.Client {
	noSleep := func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return httpclient.New(newTestLogger(), httpclient.Options{}, httpclient.WithSleep(noSleep))
}

// entitiesHandler answers wbgetentities with a stub entity per requested id.
func entitiesHandler(t *testing.T, calls *atomic.Int32, seen chan<- string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		q := r.URL.Query()
		if q.Get("action") != "wbgetentities" {
			t.Errorf("action = %q", q.Get("action"))
		}
		if seen != nil {
			seen <- q.Get("ids")
		}
		entities := map[string]any{}
		for _, id := range strings.Split(q.Get("ids"), "|") {
			entities[id] = map[string]any{"id": id, "labels": map[string]any{"en": map[string]any{"value": "label " + id}}}
		}
		json.NewEncoder(w).Encode(map[string]any{"entities": entities, "success": 1})
	}
}

func TestFetcher_FetchJSON_BaseParams(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		want := map[string]string{
			"action":           "wbgetentities",
			"ids":              "Q1|Q42",
			"props":            "aliases|claims|datatype|descriptions|info|labels|sitelinks/urls",
			"languages":        "en",
			"languagefallback": "1",
			"format":           "json",
			"formatversion":    "2",
			"normalize":        "1",
			"rvslots":          "main",
			"rvprop":           "content",
		}
		for k, v := range want {
			if got := q.Get(k); got != v {
				t.Errorf("param %s = %q, want %q", k, got, v)
			}
		}
		w.Write([]byte(`{"entities":{"Q1":{"id":"Q1"},"Q42":{"id":"Q42"}},"success":1}`))
	}))
	defer srv.Close()

	f := NewFetcher(newTestLogger(), newTestExecutor(), Options{WikidataURL: srv.URL})
	got, err := f.FetchJSON(context.Background(), []string{"Q42", "Q1", "Q42"}, domain.KindItem)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entities := got["entities"].(map[string]any)
	if len(entities) != 2 {
		t.Errorf("len(entities) = %d, want 2", len(entities))
	}
}

func TestFetcher_FetchJSON_ChunksAndMerges(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	seen := make(chan string, 10)
	srv := httptest.NewServer(entitiesHandler(t, &calls, seen))
	defer srv.Close()

	ids := make([]string, 0, 7)
	for i := 1; i <= 7; i++ {
		ids = append(ids, fmt.Sprintf("P%d", i))
	}

	f := NewFetcher(newTestLogger(), newTestExecutor(), Options{WikidataURL: srv.URL, BatchThreshold: 3})
	got, err := f.FetchJSON(context.Background(), ids, domain.KindProperty)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	close(seen)
	var chunks []string
	for s := range seen {
		chunks = append(chunks, s)
	}
	want := []string{"P1|P2|P3", "P4|P5|P6", "P7"}
	if strings.Join(chunks, ",") != strings.Join(want, ",") {
		t.Errorf("chunks = %v, want %v", chunks, want)
	}

	entities := got["entities"].(map[string]any)
	if len(entities) != 7 {
		t.Fatalf("merged entities = %d, want 7", len(entities))
	}
	p7 := entities["P7"].(map[string]any)
	if p7["id"] != "P7" {
		t.Errorf("P7 = %v", p7)
	}
}

func TestFetcher_FetchJSON_SkipsOtherKinds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	seen := make(chan string, 1)
	srv := httptest.NewServer(entitiesHandler(t, &calls, seen))
	defer srv.Close()

	f := NewFetcher(newTestLogger(), newTestExecutor(), Options{WikidataURL: srv.URL})
	_, err := f.FetchJSON(context.Background(), []string{"Q1", "L7", "L7-F2", "bogus", "L8"}, domain.KindLexeme)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := <-seen; got != "L7|L8" {
		t.Errorf("ids = %q, want L7|L8", got)
	}
}

func TestFetcher_FetchJSON_NothingToFetch(t *testing.T) {
	t.Parallel()

	exec := executorFunc(func(context.Context, string, httpclient.Params) (*httpclient.Response, error) {
		t.Error("no request expected")
		return nil, nil
	})
	f := NewFetcher(newTestLogger(), exec, Options{})
	got, err := f.FetchJSON(context.Background(), []string{"P1"}, domain.KindItem)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want empty object", got)
	}
}

func TestFetcher_FetchJSON_MediainfoGoesToCommons(t *testing.T) {
	t.Parallel()

	var wikidataCalls, commonsCalls atomic.Int32
	wikidata := httptest.NewServer(entitiesHandler(t, &wikidataCalls, nil))
	defer wikidata.Close()
	commons := httptest.NewServer(entitiesHandler(t, &commonsCalls, nil))
	defer commons.Close()

	f := NewFetcher(newTestLogger(), newTestExecutor(), Options{WikidataURL: wikidata.URL, CommonsURL: commons.URL})
	if _, err := f.FetchJSON(context.Background(), []string{"M123"}, domain.KindMediainfo); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if commonsCalls.Load() != 1 || wikidataCalls.Load() != 0 {
		t.Errorf("commons = %d, wikidata = %d", commonsCalls.Load(), wikidataCalls.Load())
	}
}

func TestFetcher_FetchJSON_EntitySchema(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("action") != "query" {
			t.Errorf("action = %q, want query", q.Get("action"))
		}
		if q.Get("titles") != "EntitySchema:E1|EntitySchema:E10" {
			t.Errorf("titles = %q", q.Get("titles"))
		}
		if q.Get("prop") != "info|revisions" {
			t.Errorf("prop = %q", q.Get("prop"))
		}
		if q.Has("ids") || q.Has("props") {
			t.Error("entity schema request must not carry ids/props")
		}
		w.Write([]byte(`{"batchcomplete":true,"query":{"pages":[
			{"pageid":1,"ns":640,"title":"EntitySchema:E1","revisions":[{"slots":{"main":{"content":"{}"}}}]},
			{"pageid":2,"ns":640,"title":"EntitySchema:E10"}
		]}}`))
	}))
	defer srv.Close()

	f := NewFetcher(newTestLogger(), newTestExecutor(), Options{WikidataURL: srv.URL})
	got, err := f.FetchJSON(context.Background(), []string{"E10", "E1"}, domain.KindEntitySchema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entities := got["entities"].(map[string]any)
	if _, ok := entities["E1"]; !ok {
		t.Error("E1 missing")
	}
	if e10 := entities["E10"].(map[string]any); e10["pageid"] != float64(2) {
		t.Errorf("E10 = %v", e10)
	}
}

func TestFetcher_FetchJSON_MalformedPayload(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"entities":`))
	}))
	defer srv.Close()

	f := NewFetcher(newTestLogger(), newTestExecutor(), Options{WikidataURL: srv.URL})
	_, err := f.FetchJSON(context.Background(), []string{"Q1"}, domain.KindItem)
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("error = %v, want ErrMalformedPayload", err)
	}
	if calls.Load() != 1 {
		t.Errorf("malformed payload must not be retried, calls = %d", calls.Load())
	}
}

func TestFetcher_FetchJSON_NonObjectIgnored(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	f := NewFetcher(newTestLogger(), newTestExecutor(), Options{WikidataURL: srv.URL})
	got, err := f.FetchJSON(context.Background(), []string{"Q1"}, domain.KindItem)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
}

func TestFetcher_FetchJSON_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"code":"no-such-entity","info":"Could not find an entity with the ID \"Q0\"."}}`))
	}))
	defer srv.Close()

	f := NewFetcher(newTestLogger(), newTestExecutor(), Options{WikidataURL: srv.URL})
	_, err := f.FetchJSON(context.Background(), []string{"Q0"}, domain.KindItem)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Code != "no-such-entity" {
		t.Errorf("Code = %q", apiErr.Code)
	}
}

func TestFetcher_FetchJSON_TransportFailurePropagates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewFetcher(newTestLogger(), newTestExecutor(), Options{WikidataURL: srv.URL})
	_, err := f.FetchJSON(context.Background(), []string{"Q1"}, domain.KindItem)
	if !errors.Is(err, httpclient.ErrHTTPStatus) {
		t.Fatalf("error = %v, want ErrHTTPStatus", err)
	}
}

func TestFetcher_FetchJSON_RejectsPseudoKinds(t *testing.T) {
	t.Parallel()

	f := NewFetcher(newTestLogger(), newTestExecutor(), Options{})
	for _, k := range []domain.EntityKind{domain.KindAny, domain.KindUnknown} {
		if _, err := f.FetchJSON(context.Background(), []string{"Q1"}, k); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("kind %s: error = %v, want validation error", k, err)
		}
	}
}

type executorFunc func(ctx context.Context, rawURL string, params httpclient.Params) (*httpclient.Response, error)

func (f executorFunc) Get(ctx context.Context, rawURL string, params httpclient.Params) (*httpclient.Response, error) {
	return f(ctx, rawURL, params)
}

func TestMergePatch(t *testing.T) {
	t.Parallel()

	target := map[string]any{
		"a": "b",
		"c": map[string]any{"d": "e", "f": "g"},
		"l": []any{1.0, 2.0},
	}
	patch := map[string]any{
		"a": "z",
		"c": map[string]any{"f": nil, "h": "i"},
		"l": []any{3.0},
		"n": map[string]any{"x": nil, "y": 1.0},
	}
	got := mergePatch(target, patch)

	want := `{"a":"z","c":{"d":"e","h":"i"},"l":[3],"n":{"y":1}}`
	b, _ := json.Marshal(got)
	if string(b) != want {
		t.Errorf("mergePatch() = %s, want %s", b, want)
	}

	if got := mergePatch(nil, map[string]any{"k": "v"}); got["k"] != "v" {
		t.Errorf("nil target: %v", got)
	}
	replaced := mergePatch(map[string]any{"k": "scalar"}, map[string]any{"k": map[string]any{"x": 1.0}})
	if inner, ok := replaced["k"].(map[string]any); !ok || inner["x"] != 1.0 {
		t.Errorf("scalar replaced by object: %v", replaced)
	}
}
