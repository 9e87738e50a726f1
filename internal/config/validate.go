package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

var logLevels = []string{"debug", "info", "warn", "error"}

// Validate performs business-rule validation on the loaded configuration.
// Load calls it automatically.
func (c *Config) Validate() error {
	if !slices.Contains(logLevels, strings.ToLower(c.Log.Level)) {
		return fmt.Errorf("log.level must be one of %v (got %q)", logLevels, c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log.format must be json or text (got %q)", c.Log.Format)
	}

	if err := c.HTTP.validate(); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	if err := c.Wikibase.validate(); err != nil {
		return fmt.Errorf("wikibase: %w", err)
	}
	if err := c.SPARQL.validate(); err != nil {
		return fmt.Errorf("sparql: %w", err)
	}
	if err := c.Batch.validate(); err != nil {
		return fmt.Errorf("batch: %w", err)
	}

	switch c.Freshness.Driver {
	case DriverNone:
	case DriverSQLite:
		if strings.TrimSpace(c.Freshness.SQLitePath) == "" {
			return fmt.Errorf("freshness.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
		if c.Database.MaxConns <= 0 || c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
			return fmt.Errorf("database: need 0 <= min_conns <= max_conns and max_conns > 0 (got %d, %d)",
				c.Database.MinConns, c.Database.MaxConns)
		}
	default:
		return fmt.Errorf("freshness.driver must be none, sqlite or postgres (got %q)", c.Freshness.Driver)
	}

	return nil
}

func (h *HTTPConfig) validate() error {
	if h.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0 (got %v)", h.Timeout)
	}
	if h.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be > 0 (got %v)", h.ConnectTimeout)
	}
	if h.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0 (got %d)", h.MaxRetries)
	}
	if h.RetryBase <= 0 || h.RetryMax < h.RetryBase {
		return fmt.Errorf("need 0 < retry_base <= retry_max (got %v, %v)", h.RetryBase, h.RetryMax)
	}
	return nil
}

func (w *WikibaseConfig) validate() error {
	for name, raw := range map[string]string{"wikidata_url": w.WikidataURL, "commons_url": w.CommonsURL} {
		if err := checkURL(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if strings.TrimSpace(w.Languages) == "" {
		return fmt.Errorf("languages must not be empty")
	}
	w.Props = ParseList(w.PropsRaw)
	return nil
}

func (s *SPARQLConfig) validate() error {
	if s.URL != "" {
		if err := checkURL(s.URL); err != nil {
			return fmt.Errorf("url: %w", err)
		}
	}
	if s.LengthThreshold <= 0 {
		return fmt.Errorf("length_threshold must be > 0 (got %d)", s.LengthThreshold)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0 (got %v)", s.Timeout)
	}
	return nil
}

func (b *BatchConfig) validate() error {
	if b.BatchThreshold <= 0 {
		return fmt.Errorf("batch_threshold must be > 0 (got %d)", b.BatchThreshold)
	}
	if b.CandidatesThreshold <= 0 {
		return fmt.Errorf("candidates_threshold must be > 0 (got %d)", b.CandidatesThreshold)
	}
	if b.StaleAfter <= 0 {
		return fmt.Errorf("stale_after must be > 0 (got %v)", b.StaleAfter)
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("absolute http(s) URL required (got %q)", raw)
	}
	return nil
}

// ParseList splits a comma-separated list, trimming blanks and dropping
// empty entries. An empty string returns nil.
func ParseList(raw string) []string {
	var out []string
	for p := range strings.SplitSeq(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
