package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"sync"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/heartmarshall/wdfetch/internal/adapter/httpclient"
	"github.com/heartmarshall/wdfetch/internal/adapter/provider/wdqs"
	"github.com/heartmarshall/wdfetch/internal/app"
	"github.com/heartmarshall/wdfetch/internal/domain"
	"github.com/heartmarshall/wdfetch/internal/service/batch"
)

var errNoFetchLog = errors.New("no fetch log configured (freshness.driver is none)")

func newFlagSet(name string, e *env) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runIdentify(_ context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return errors.New("at least one id is required")
	}
	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	for _, id := range args {
		kind := domain.Identify(id)
		root, err := domain.EntityRoot(id)
		if err != nil {
			root = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", id, kind, root)
	}
	return tw.Flush()
}

func runVersion(_ context.Context, e *env, _ []string) error {
	_, err := fmt.Fprintln(e.stdout, app.BuildVersion())
	return err
}

// runFetch queues every id in one group, flushes all queues and prints the
// merged entities.
func runFetch(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("fetch", e)
	force := fs.Bool("force", false, "fetch even when the entity is still fresh")
	group := fs.String("group", "", "group name (default: anonymous)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("at least one id is required")
	}

	entities := map[string]any{}
	opts := []batch.Option{
		batch.WithResultHandler(func(_ context.Context, _ domain.EntityKind, doc map[string]any) {
			if got, ok := doc["entities"].(map[string]any); ok {
				maps.Copy(entities, got)
			}
		}),
	}
	if e.app.Config.Batch.Interactive {
		opts = append(opts, batch.WithConfirmer(app.NewPromptConfirmer(e.stdin, e.stderr)))
	}
	engine := e.app.NewEngine(opts...)

	name := engine.SelectGroup(*group)
	for _, id := range fs.Args() {
		if _, err := engine.AddEntity(ctx, id, *force, name); err != nil {
			return err
		}
	}
	flushed, err := engine.FlushAll(ctx)
	if err != nil {
		return err
	}

	e.app.Log.InfoContext(ctx, "fetch done",
		"group", name,
		"members", engine.GroupSize(name),
		"batches", flushed,
		"entities", len(entities),
	)
	return writeJSON(e.stdout, map[string]any{"entities": entities})
}

// runGet resolves ids concurrently through the entity loader, which folds
// them into as few requests as possible.
func runGet(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return errors.New("at least one id is required")
	}
	loader := e.app.NewLoader()

	var (
		mu     sync.Mutex
		out    = make(map[string]any, len(args))
		failed []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.app.Config.Batch.BatchThreshold)
	for _, id := range args {
		g.Go(func() error {
			ent, err := loader.Load(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failed = append(failed, fmt.Errorf("%s: %w", id, err))
				return nil
			}
			out[id] = ent
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := writeJSON(e.stdout, map[string]any{"entities": out}); err != nil {
		return err
	}
	return errors.Join(failed...)
}

type previewView struct {
	Method      string   `json:"method"`
	URL         string   `json:"url"`
	Query       []string `json:"query_params,omitempty"`
	Form        []string `json:"form_params,omitempty"`
	Body        string   `json:"body,omitempty"`
	ContentType string   `json:"content_type,omitempty"`
	Accept      string   `json:"accept"`
	Timeout     string   `json:"timeout"`
}

func paramStrings(ps httpclient.Params) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Key+"="+p.Value)
	}
	return out
}

func runSPARQL(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("sparql", e)
	dryRun := fs.Bool("dry-run", false, "print the resolved HTTP call without sending it")
	forcePost := fs.Bool("post", false, "always use POST")
	forceGet := fs.Bool("get", false, "always use GET")
	accept := fs.String("accept", "", "Accept header override")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *forcePost && *forceGet {
		return errors.New("-post and -get are mutually exclusive")
	}
	if fs.NArg() != 1 {
		return errors.New("exactly one query argument is required (use - for stdin)")
	}

	query := fs.Arg(0)
	if query == "-" {
		b, err := io.ReadAll(e.stdin)
		if err != nil {
			return fmt.Errorf("read query: %w", err)
		}
		query = string(b)
	}

	req := wdqs.Request{Query: query, Accept: *accept}
	switch {
	case *forcePost:
		req.Method = wdqs.MethodForcePOST
	case *forceGet:
		req.Method = wdqs.MethodForceGET
	}

	if *dryRun {
		p, err := e.app.SPARQL.Preview(req)
		if err != nil {
			return err
		}
		return writeJSON(e.stdout, previewView{
			Method:      p.Method,
			URL:         p.URL,
			Query:       paramStrings(p.QueryParams),
			Form:        paramStrings(p.FormParams),
			Body:        p.Body,
			ContentType: p.ContentType,
			Accept:      p.Accept,
			Timeout:     p.Timeout.String(),
		})
	}

	res, err := e.app.SPARQL.Query(ctx, req)
	if err != nil {
		return err
	}
	return writeJSON(e.stdout, res)
}

func runStats(ctx context.Context, e *env, _ []string) error {
	if e.app.FetchLog == nil {
		return errNoFetchLog
	}
	stats, err := e.app.FetchLog.Stats(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "kind\tentities\n")
	for _, k := range domain.BatchedKinds {
		if n := stats.ByKind[k]; n > 0 {
			fmt.Fprintf(tw, "%s\t%d\n", k, n)
		}
	}
	fmt.Fprintf(tw, "total\t%d\n", stats.Entities)
	fmt.Fprintf(tw, "fetches\t%d\n", stats.Fetches)
	return tw.Flush()
}

func runPrune(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("prune", e)
	olderThan := fs.Duration("older-than", 0, "delete records fetched longer ago than this")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *olderThan <= 0 {
		return errors.New("-older-than must be a positive duration")
	}
	if e.app.FetchLog == nil {
		return errNoFetchLog
	}

	cutoff := time.Now().Add(-*olderThan)
	n, err := e.app.FetchLog.Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	e.app.Log.InfoContext(ctx, "prune done", "deleted", n, "cutoff", cutoff)
	_, err = fmt.Fprintf(e.stdout, "deleted %d\n", n)
	return err
}
