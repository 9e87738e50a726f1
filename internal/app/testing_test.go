package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/heartmarshall/wdfetch/internal/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeWikibase answers wbgetentities with one stub entity per requested id.
func fakeWikibase(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entities := map[string]any{}
		for id := range strings.SplitSeq(r.URL.Query().Get("ids"), "|") {
			if id != "" {
				entities[id] = map[string]any{"id": id, "type": "item"}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"entities": entities})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, apiURL, driver string) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Log: config.LogConfig{Level: "info", Format: "text"},
		HTTP: config.HTTPConfig{
			Timeout:        2 * time.Second,
			ConnectTimeout: time.Second,
			MaxRetries:     1,
			RetryBase:      time.Millisecond,
			RetryMax:       2 * time.Millisecond,
			UserAgent:      "wdfetch-test",
		},
		Wikibase: config.WikibaseConfig{
			WikidataURL: apiURL,
			CommonsURL:  apiURL,
			Languages:   "en",
			PropsRaw:    "labels",
		},
		SPARQL: config.SPARQLConfig{URL: apiURL, LengthThreshold: 1800, Timeout: time.Second},
		Batch: config.BatchConfig{
			BatchThreshold:      50,
			CandidatesThreshold: 50,
			StaleAfter:          time.Hour,
			LoaderWait:          5 * time.Millisecond,
		},
		Freshness: config.FreshnessConfig{
			Driver:     driver,
			SQLitePath: filepath.Join(t.TempDir(), "fetchlog.db"),
		},
		Metrics: config.MetricsConfig{Namespace: "wdfetch"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}
